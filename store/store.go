// Copyright 2025 CloudWeGo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store provides checkpoint persistence backends for the pipeline
// engine: in-memory (tests), file-based (single process durability), and
// SQLite (embedded durability).
package store

import (
	"context"
	"sync"

	"github.com/cloudwego/promptpipe/pipeline"
)

// MemoryStore keeps checkpoints in process memory. Not durable; meant for
// tests and local development.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ pipeline.CheckpointStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string][]byte{}}
}

func (s *MemoryStore) Put(ctx context.Context, runID string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	s.mu.Lock()
	s.data[runID] = cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, runID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[runID]
	if !ok {
		return nil, pipeline.ErrNoCheckpoint
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (s *MemoryStore) Delete(ctx context.Context, runID string) error {
	s.mu.Lock()
	delete(s.data, runID)
	s.mu.Unlock()
	return nil
}
