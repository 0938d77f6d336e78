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
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/cloudwego/promptpipe/llm/log"
)

// PromptCache caches prompt-file contents across steps and runs. Cached
// entries are invalidated when the file changes on disk, so long-lived
// engines pick up edited prompt templates without a restart.
type PromptCache struct {
	mu      sync.Mutex
	files   map[string][]byte
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewPromptCache starts the backing watcher.
func NewPromptCache() (*PromptCache, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "prompt cache watcher")
	}
	c := &PromptCache{
		files:   map[string][]byte{},
		watcher: w,
		done:    make(chan struct{}),
	}
	go c.loop()
	return c, nil
}

func (c *PromptCache) loop() {
	for {
		select {
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				c.mu.Lock()
				delete(c.files, ev.Name)
				c.mu.Unlock()
				log.Debug("prompt cache invalidated %s", ev.Name)
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			log.Error("prompt cache watcher: %v", err)
		case <-c.done:
			return
		}
	}
}

// Read returns the file content, from cache when fresh.
func (c *PromptCache) Read(path string) ([]byte, error) {
	c.mu.Lock()
	if bs, ok := c.files[path]; ok {
		c.mu.Unlock()
		return bs, nil
	}
	c.mu.Unlock()

	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.files[path] = bs
	c.mu.Unlock()
	// Watch errors are non-fatal; the next Read just misses the cache.
	if err := c.watcher.Add(path); err != nil {
		log.Debug("prompt cache cannot watch %s: %v", path, err)
	}
	return bs, nil
}

// Close stops the watcher. Idempotent.
func (c *PromptCache) Close() error {
	select {
	case <-c.done:
		return nil
	default:
		close(c.done)
	}
	return c.watcher.Close()
}
