// Copyright 2024 The prellblock authors
// This file is part of the prellblock library.
//
// The prellblock library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The prellblock library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the prellblock library. If not, see <http://www.gnu.org/licenses/>.

package crypto

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// AliasRegistry maps PeerIDs to human-readable names, for debug logging
// only. Backed by an LRU so a long-running node never grows this table
// without bound when talking to transient or misbehaving peers.
type AliasRegistry struct {
	cache *lru.Cache[PeerID, string]
}

// NewAliasRegistry creates a registry holding up to capacity aliases.
func NewAliasRegistry(capacity int) *AliasRegistry {
	cache, err := lru.New[PeerID, string](capacity)
	if err != nil {
		panic(err)
	}
	return &AliasRegistry{cache: cache}
}

// Set records name as the alias for id.
func (r *AliasRegistry) Set(id PeerID, name string) {
	r.cache.Add(id, name)
}

// Lookup returns the alias for id, falling back to its hex form.
func (r *AliasRegistry) Lookup(id PeerID) string {
	if name, ok := r.cache.Get(id); ok {
		return name
	}
	return id.String()
}
