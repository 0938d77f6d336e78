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

package store

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/cloudwego/promptpipe/pipeline"
)

// FileStore persists one JSON file per run under a directory. Writes go to
// a temp file first and are moved into place with os.Rename, so a crash
// never leaves a partial checkpoint behind.
type FileStore struct {
	dir string
}

var _ pipeline.CheckpointStore = (*FileStore)(nil)

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "checkpoint dir %s", dir)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(runID string) string {
	return filepath.Join(s.dir, runID+".json")
}

func (s *FileStore) Put(ctx context.Context, runID string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, runID+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp checkpoint")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "write temp checkpoint")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "sync temp checkpoint")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "close temp checkpoint")
	}
	if err := os.Rename(tmpName, s.path(runID)); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "replace checkpoint")
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, runID string) ([]byte, error) {
	data, err := os.ReadFile(s.path(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pipeline.ErrNoCheckpoint
		}
		return nil, errors.Wrap(err, "read checkpoint")
	}
	return data, nil
}

func (s *FileStore) Delete(ctx context.Context, runID string) error {
	err := os.Remove(s.path(runID))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove checkpoint")
	}
	return nil
}
