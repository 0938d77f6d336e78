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
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// FileWriter is the injected collaborator output routing delegates to. The
// engine never writes result files itself.
type FileWriter interface {
	WriteFile(path string, data []byte) error
}

// OSFileWriter writes through the local filesystem, creating parent
// directories as needed.
type OSFileWriter struct{}

func (OSFileWriter) WriteFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "mkdir %s", dir)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// resolveOutputPath substitutes runtime placeholders in a declared output
// path: {run_id}, {step}, {timestamp}.
func resolveOutputPath(spec *OutputSpec, runID, step string, now time.Time, workspace string) string {
	p := spec.Path
	p = strings.ReplaceAll(p, "{run_id}", runID)
	p = strings.ReplaceAll(p, "{step}", step)
	p = strings.ReplaceAll(p, "{timestamp}", now.UTC().Format("20060102T150405Z"))
	if workspace != "" && !filepath.IsAbs(p) {
		p = filepath.Join(workspace, p)
	}
	return p
}
