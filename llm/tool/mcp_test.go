/**
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package tool

import "testing"

func TestNewMCPClient_ConfigValidation(t *testing.T) {
	if _, err := NewMCPClient(MCPConfig{Type: MCPTypeStdio}); err == nil {
		t.Error("stdio client without command accepted")
	}
	if _, err := NewMCPClient(MCPConfig{Type: MCPTypeSSE}); err == nil {
		t.Error("sse client without url accepted")
	}
	if _, err := NewMCPClient(MCPConfig{Type: "grpc"}); err == nil {
		t.Error("unknown transport accepted")
	}
}
