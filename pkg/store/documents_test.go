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

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocumentCanView(t *testing.T) {
	alice := UserContext{UserID: "alice", Role: "user", Department: "engineering"}
	bob := UserContext{UserID: "bob", Role: "user", Department: "sales"}
	admin := UserContext{UserID: "root", Role: RoleAdmin}

	tests := []struct {
		name string
		doc  Document
		uc   UserContext
		want bool
	}{
		{
			name: "admin sees private documents",
			doc:  Document{OwnerID: "alice", Visibility: VisibilityPrivate},
			uc:   admin,
			want: true,
		},
		{
			name: "owner sees own private document",
			doc:  Document{OwnerID: "alice", Visibility: VisibilityPrivate},
			uc:   alice,
			want: true,
		},
		{
			name: "non-owner cannot see private document",
			doc:  Document{OwnerID: "alice", Visibility: VisibilityPrivate},
			uc:   bob,
			want: false,
		},
		{
			name: "public is visible to everyone",
			doc:  Document{OwnerID: "alice", Visibility: VisibilityPublic},
			uc:   bob,
			want: true,
		},
		{
			name: "department match grants access",
			doc:  Document{OwnerID: "bob", Visibility: VisibilityDepartment, Department: "engineering"},
			uc:   alice,
			want: true,
		},
		{
			name: "department mismatch denies access",
			doc:  Document{OwnerID: "alice", Visibility: VisibilityDepartment, Department: "engineering"},
			uc:   bob,
			want: false,
		},
		{
			name: "empty department never matches",
			doc:  Document{OwnerID: "alice", Visibility: VisibilityDepartment},
			uc:   UserContext{UserID: "eve", Role: "user"},
			want: false,
		},
		{
			name: "listed user sees specific_users document",
			doc:  Document{OwnerID: "alice", Visibility: VisibilitySpecificUsers, SpecificUsers: []string{"bob", "carol"}},
			uc:   bob,
			want: true,
		},
		{
			name: "unlisted user cannot see specific_users document",
			doc:  Document{OwnerID: "alice", Visibility: VisibilitySpecificUsers, SpecificUsers: []string{"carol"}},
			uc:   bob,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.doc.CanView(tt.uc))
		})
	}
}
