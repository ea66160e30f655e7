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

package vector

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/kadirpekel/docrag/pkg/config"
)

// candidate oversampling before fusion; lexical blending reorders, so the
// vector top-k alone is not enough.
const oversampleFactor = 3

// Qdrant implements Store against a qdrant collection.
type Qdrant struct {
	client     *qdrant.Client
	collection string
	vectorSize uint64
}

// NewQdrant connects to qdrant and ensures the collection exists.
func NewQdrant(ctx context.Context, cfg config.VectorConfig) (*Qdrant, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.EnableTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	q := &Qdrant{
		client:     client,
		collection: cfg.Collection,
		vectorSize: uint64(cfg.VectorSize),
	}

	if err := q.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return q, nil
}

func (q *Qdrant) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// HybridSearch returns hits ordered by fused score.
//
// With an embedding and alpha > 0 candidates come from a dense vector query;
// without one (or at alpha=0) candidates come from a filtered scroll and are
// scored purely lexically.
func (q *Qdrant) HybridSearch(ctx context.Context, p HybridParams) ([]SearchHit, error) {
	if p.Limit <= 0 {
		p.Limit = 20
	}
	filter := buildFilter(p.AllowedDocumentIDs, p.LevelFilter)

	if len(p.Embedding) == 0 || p.Alpha == 0 {
		return q.lexicalSearch(ctx, p, filter)
	}

	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(p.Embedding...),
		Limit:          qdrant.PtrOf(uint64(p.Limit * oversampleFactor)),
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	hits := make([]SearchHit, 0, len(points))
	vectorScores := make([]float64, 0, len(points))
	for _, pt := range points {
		hits = append(hits, hitFromPayload(pointID(pt.Id), pt.Payload))
		vectorScores = append(vectorScores, float64(pt.Score))
	}

	return fuseScores(hits, vectorScores, p.Query, p.Alpha, p.Threshold, p.Limit), nil
}

func (q *Qdrant) lexicalSearch(ctx context.Context, p HybridParams, filter *qdrant.Filter) ([]SearchHit, error) {
	points, err := q.scroll(ctx, filter, uint32(p.Limit*oversampleFactor))
	if err != nil {
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}

	hits := make([]SearchHit, 0, len(points))
	vectorScores := make([]float64, len(points))
	for _, pt := range points {
		hits = append(hits, hitFromPayload(pointID(pt.Id), pt.Payload))
	}

	return fuseScores(hits, vectorScores, p.Query, 0, p.Threshold, p.Limit), nil
}

// ChunksByDocumentIDs fetches expansion chunks per document.
func (q *Qdrant) ChunksByDocumentIDs(ctx context.Context, documentIDs []string, p ExpansionParams) ([]SearchHit, error) {
	if p.MaxPerDoc <= 0 {
		p.MaxPerDoc = 5
	}

	exclude := make(map[string]bool, len(p.ExcludeChunkIDs))
	for _, id := range p.ExcludeChunkIDs {
		exclude[id] = true
	}

	var out []SearchHit
	for _, docID := range documentIDs {
		filter := buildFilter([]string{docID}, p.LevelFilter)

		// Oversample so excluded chunks do not eat the per-doc quota.
		points, err := q.scroll(ctx, filter, uint32(p.MaxPerDoc+len(p.ExcludeChunkIDs)))
		if err != nil {
			return nil, fmt.Errorf("expansion scroll failed for %s: %w", docID, err)
		}

		taken := 0
		for _, pt := range points {
			id := pointID(pt.Id)
			if exclude[id] {
				continue
			}
			hit := hitFromPayload(id, pt.Payload)
			hit.Tag = TagExpansion
			out = append(out, hit)
			taken++
			if taken == p.MaxPerDoc {
				break
			}
		}
	}
	return out, nil
}

// UpsertChunks indexes chunks with their embeddings.
func (q *Qdrant) UpsertChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(c.ChunkID),
			Vectors: qdrant.NewVectors(c.Embedding...),
			Payload: qdrant.NewValueMap(map[string]any{
				"chunk_id":        c.ChunkID,
				"document_id":     c.DocumentID,
				"document_name":   c.DocumentName,
				"content":         c.Content,
				"level":           int64(c.Level),
				"chunk_index":     int64(c.ChunkIndex),
				"parent_chunk_id": c.ParentChunkID,
			}),
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}
	return nil
}

// DeleteForDocument removes all chunks of one document.
func (q *Qdrant) DeleteForDocument(ctx context.Context, documentID string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: buildFilter([]string{documentID}, nil),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete document chunks: %w", err)
	}
	return nil
}

// HealthCheck reports reachability.
func (q *Qdrant) HealthCheck(ctx context.Context) error {
	if _, err := q.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant unreachable: %w", err)
	}
	return nil
}

// Close releases the grpc connection.
func (q *Qdrant) Close() error {
	return q.client.Close()
}

func (q *Qdrant) scroll(ctx context.Context, filter *qdrant.Filter, limit uint32) ([]*qdrant.RetrievedPoint, error) {
	return q.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: q.collection,
		Filter:         filter,
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
	})
}

func buildFilter(allowedDocumentIDs []string, levelFilter []int) *qdrant.Filter {
	var must []*qdrant.Condition
	if len(allowedDocumentIDs) > 0 {
		must = append(must, qdrant.NewMatchKeywords("document_id", allowedDocumentIDs...))
	}
	if len(levelFilter) > 0 {
		levels := make([]int64, len(levelFilter))
		for i, l := range levelFilter {
			levels[i] = int64(l)
		}
		must = append(must, qdrant.NewMatchInts("level", levels...))
	}

	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	switch v := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	}
	return ""
}

func hitFromPayload(id string, payload map[string]*qdrant.Value) SearchHit {
	hit := SearchHit{ChunkID: id, Tag: TagPrimary}
	if payload == nil {
		return hit
	}

	if v, ok := payload["chunk_id"]; ok && v.GetStringValue() != "" {
		hit.ChunkID = v.GetStringValue()
	}
	if v, ok := payload["document_id"]; ok {
		hit.DocumentID = v.GetStringValue()
	}
	if v, ok := payload["document_name"]; ok {
		hit.DocumentName = v.GetStringValue()
	}
	if v, ok := payload["content"]; ok {
		hit.Content = v.GetStringValue()
	}
	if v, ok := payload["level"]; ok {
		hit.Level = int(v.GetIntegerValue())
	}
	if v, ok := payload["chunk_index"]; ok {
		hit.ChunkIndex = int(v.GetIntegerValue())
	}
	return hit
}
