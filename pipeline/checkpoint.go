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

package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// ErrNoCheckpoint is returned by Load when no checkpoint exists for a run.
var ErrNoCheckpoint = errors.New("no checkpoint for run")

// Checkpoint is the persisted run state written after every committed step.
// Reloading one always yields a prefix-consistent context: NextStep results
// [0, NextStep) are present and nothing else is.
type Checkpoint struct {
	RunID    string            `json:"run_id"`
	NextStep int               `json:"next_step"`
	Context  *ExecutionContext `json:"context"`
	SavedAt  time.Time         `json:"saved_at"`
}

// CheckpointStore is the opaque key-value persistence the manager writes
// through. Put must replace atomically; a reader never observes a partial
// value. The storage medium is the caller's concern.
type CheckpointStore interface {
	Put(ctx context.Context, runID string, data []byte) error
	// Get returns ErrNoCheckpoint (possibly wrapped) for unknown runs.
	Get(ctx context.Context, runID string) ([]byte, error)
	Delete(ctx context.Context, runID string) error
}

// CheckpointManager serializes and persists run state. A Save failure is an
// IOError that aborts the run; losing resumability silently is worse than
// stopping.
type CheckpointManager struct {
	store CheckpointStore
}

// NewCheckpointManager wraps a store.
func NewCheckpointManager(s CheckpointStore) *CheckpointManager {
	return &CheckpointManager{store: s}
}

// Save persists the checkpoint, replacing any previous one for the run.
func (m *CheckpointManager) Save(ctx context.Context, cp *Checkpoint) error {
	cp.SavedAt = time.Now()
	data, err := json.Marshal(cp)
	if err != nil {
		return NewError(ErrKindIO, errors.Wrap(err, "marshal checkpoint"))
	}
	if err := m.store.Put(ctx, cp.RunID, data); err != nil {
		return NewError(ErrKindIO, errors.Wrapf(err, "persist checkpoint for run %s", cp.RunID))
	}
	return nil
}

// Load restores the last checkpoint of a run.
func (m *CheckpointManager) Load(ctx context.Context, runID string) (*Checkpoint, error) {
	data, err := m.store.Get(ctx, runID)
	if err != nil {
		if errors.Is(err, ErrNoCheckpoint) {
			return nil, err
		}
		return nil, NewError(ErrKindIO, errors.Wrapf(err, "load checkpoint for run %s", runID))
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, NewError(ErrKindIO, errors.Wrapf(err, "corrupt checkpoint for run %s", runID))
	}
	return &cp, nil
}

// Clear removes the run's checkpoint, e.g. after successful completion when
// the caller opts into cleanup.
func (m *CheckpointManager) Clear(ctx context.Context, runID string) error {
	if err := m.store.Delete(ctx, runID); err != nil {
		return NewError(ErrKindIO, errors.Wrapf(err, "clear checkpoint for run %s", runID))
	}
	return nil
}
