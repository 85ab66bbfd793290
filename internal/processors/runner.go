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

// Package processors implements every media processor as a thin
// orchestration of external tools (ffmpeg, mutool, rembg, img2webp).
// The tools do the heavy lifting; this package builds their command
// lines, tracks milestones, and shapes the outputs.
package processors

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"time"

	"reel/internal/metrics"
	"reel/internal/workers"
)

// ExecFunc executes a command and returns combined stdout/stderr.
type ExecFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func defaultExec(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// Runner executes external tools for the processors. Every invocation
// holds a worker pool slot for the lifetime of the subprocess, which is
// how the server bounds concurrent tool processes. Exec is swappable for
// tests.
type Runner struct {
	Pool   *workers.Pool
	Tools  *Tools
	Logger *log.Logger
	Exec   ExecFunc
}

func (r *Runner) logf(format string, args ...any) {
	if r.Logger != nil {
		r.Logger.Printf(format, args...)
	}
}

func (r *Runner) execFn() ExecFunc {
	if r.Exec != nil {
		return r.Exec
	}
	return defaultExec
}

func (r *Runner) resolve(tool string) string {
	if r.Tools != nil {
		return r.Tools.Resolve(tool)
	}
	return tool
}

// Slots reports how many tool processes may run at once. Used to size
// per-job fan-out so a single job cannot queue unbounded work.
func (r *Runner) Slots() int {
	if r.Pool != nil {
		return r.Pool.Size()
	}
	return workers.DefaultSize()
}

// Run executes one tool invocation under a pool slot. On failure the
// error carries the tool name and the tail of the combined output, which
// for ffmpeg and friends is where the actual cause lives.
func (r *Runner) Run(ctx context.Context, tool string, args ...string) ([]byte, error) {
	name := r.resolve(tool)

	var out []byte
	err := r.poolDo(ctx, func() error {
		start := time.Now()
		b, runErr := r.execFn()(ctx, name, args...)
		out = b

		status := metrics.ToolStatusOK
		if runErr != nil {
			status = metrics.ToolStatusError
		}
		metrics.ObserveToolInvocation(tool, status, time.Since(start))

		if runErr != nil {
			if detail := tailString(strings.TrimSpace(string(b)), 512); detail != "" {
				runErr = fmt.Errorf("%w: %s", runErr, detail)
			}
			r.logf("%s failed: %v", tool, runErr)
			return fmt.Errorf("%s: %w", tool, runErr)
		}
		return nil
	})
	return out, err
}

func (r *Runner) poolDo(ctx context.Context, fn func() error) error {
	if r.Pool == nil {
		return fn()
	}
	return r.Pool.Do(ctx, fn)
}

// tailString keeps the last max bytes of s.
func tailString(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
