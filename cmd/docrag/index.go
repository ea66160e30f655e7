// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"

	"github.com/kadirpekel/docrag/pkg/graph"
	"github.com/kadirpekel/docrag/pkg/store"
)

// IndexCmd groups index-building subcommands.
type IndexCmd struct {
	Graph IndexGraphCmd `cmd:"" help:"Extract the knowledge graph from indexed documents."`
}

// IndexGraphCmd rebuilds the knowledge graph for one or all documents.
type IndexGraphCmd struct {
	Document string `help:"Document id to rebuild. Mutually exclusive with --all."`
	All      bool   `help:"Rebuild the graph for every document."`
}

func (c *IndexGraphCmd) Run(cli *CLI) error {
	if (c.Document == "") == !c.All {
		return fmt.Errorf("exactly one of --document or --all is required")
	}

	ctx := context.Background()
	a, err := buildApp(ctx, cli)
	if err != nil {
		return err
	}
	defer a.Close()

	var llm = a.llm
	if !a.cfg.RAG.Graph.UseLLMExtraction {
		llm = nil
	}
	builder := graph.NewBuilder(
		graph.NewExtractor(a.cfg.RAG.Graph, llm),
		graph.NewResolver(a.cfg.RAG.Graph.ResolutionThreshold, a.embedder),
		graph.NewSQLStore(a.store),
	)

	var ids []string
	if c.All {
		docs, err := a.store.ListDocuments(ctx, store.UserContext{UserID: "indexer", Role: store.RoleAdmin})
		if err != nil {
			return err
		}
		for _, d := range docs {
			ids = append(ids, d.ID)
		}
	} else {
		ids = []string{c.Document}
	}

	for _, id := range ids {
		chunks, err := a.store.ChunksForDocument(ctx, id)
		if err != nil {
			return err
		}

		// Extraction works on the detail chunks; coarser levels repeat
		// the same text.
		var texts []graph.ChunkText
		for _, ch := range chunks {
			if ch.Level == 2 && ch.Content != "" {
				texts = append(texts, graph.ChunkText{ChunkID: ch.ChunkID, Text: ch.Content})
			}
		}
		if len(texts) == 0 {
			for _, ch := range chunks {
				if ch.Content != "" {
					texts = append(texts, graph.ChunkText{ChunkID: ch.ChunkID, Text: ch.Content})
				}
			}
		}

		if err := builder.BuildForDocument(ctx, id, texts); err != nil {
			return fmt.Errorf("graph build failed for %s: %w", id, err)
		}
		fmt.Printf("rebuilt graph for %s (%d chunks)\n", id, len(texts))
	}
	return nil
}
