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

// Package workers bounds how many external tool processes run at once.
// Jobs are accepted immediately and queue here for an execution slot, so
// a burst of submissions never forks a burst of subprocesses.
package workers

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool is a counting semaphore sized to the machine. The zero value is
// not usable; construct with New.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

// DefaultSize is the pool capacity used when none is configured: half the
// logical CPUs, never fewer than two so one long transcode cannot starve
// every other job.
func DefaultSize() int {
	n := runtime.NumCPU() / 2
	if n < 2 {
		n = 2
	}
	return n
}

// New returns a pool with the given capacity, or DefaultSize when size
// is zero or negative.
func New(size int) *Pool {
	if size <= 0 {
		size = DefaultSize()
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Size reports the pool capacity.
func (p *Pool) Size() int { return p.size }

// Acquire blocks until an execution slot is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) error {
	return p.sem.Acquire(ctx, 1)
}

// Release returns a slot taken with Acquire.
func (p *Pool) Release() {
	p.sem.Release(1)
}

// Do runs fn while holding a slot. The slot is released even when fn
// panics.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}
