// Reel is a local media-processing job server.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package processors

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// External tools the processors shell out to.
const (
	ToolFFmpeg   = "ffmpeg"
	ToolFFprobe  = "ffprobe"
	ToolImg2WebP = "img2webp"
	ToolMutool   = "mutool"
	ToolRembg    = "rembg"
)

// AllTools lists every known tool, for startup path reporting.
var AllTools = []string{ToolFFmpeg, ToolFFprobe, ToolImg2WebP, ToolMutool, ToolRembg}

// Tools resolves tool names to executable paths. Resolution order: the
// <NAME>_BIN environment variable, then the configured bin directory,
// then $PATH, then the bare name (so a missing tool fails at invocation
// time with a useful error, not at startup). Results are cached.
type Tools struct {
	BinDir string

	// test seams
	getenv   func(string) string
	lookPath func(string) (string, error)

	mu    sync.Mutex
	cache map[string]string
}

// NewTools returns a resolver rooted at binDir. An empty binDir skips
// that step.
func NewTools(binDir string) *Tools {
	return &Tools{
		BinDir:   binDir,
		getenv:   os.Getenv,
		lookPath: exec.LookPath,
		cache:    make(map[string]string),
	}
}

// Resolve maps a tool name to the path to execute.
func (t *Tools) Resolve(tool string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.cache[tool]; ok {
		return p
	}
	p := t.resolveUncached(tool)
	t.cache[tool] = p
	return p
}

func (t *Tools) resolveUncached(tool string) string {
	if v := strings.TrimSpace(t.getenv(envKeyFor(tool))); v != "" {
		return v
	}
	if t.BinDir != "" {
		cand := filepath.Join(t.BinDir, tool)
		if runtime.GOOS == "windows" {
			cand += ".exe"
		}
		if st, err := os.Stat(cand); err == nil && !st.IsDir() {
			return cand
		}
	}
	if p, err := t.lookPath(tool); err == nil {
		return p
	}
	return tool
}

// envKeyFor builds the override variable name, e.g. FFMPEG_BIN.
func envKeyFor(tool string) string {
	return strings.ToUpper(tool) + "_BIN"
}
