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

package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"reel/internal/metrics"
	"reel/internal/store"
)

// ReaperConfig controls sweep cadence and job retention.
type ReaperConfig struct {
	// How often to sweep for expired jobs.
	Interval time.Duration

	// How long a finished job and its files stay available.
	MaxAge time.Duration
}

// Reaper sweeps expired jobs out of the manager and deletes their files.
type Reaper struct {
	manager *Manager
	files   *store.Store
	cfg     ReaperConfig
	logger  *log.Logger
}

// NewReaper constructs a Reaper. Zero config fields get the defaults of
// a 10 minute sweep and a 1 hour retention.
func NewReaper(manager *Manager, files *store.Store, cfg ReaperConfig, logger *log.Logger) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = time.Hour
	}
	return &Reaper{
		manager: manager,
		files:   files,
		cfg:     cfg,
		logger:  logger,
	}
}

func (r *Reaper) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf("[reaper] %s", fmt.Sprintf(format, args...))
	}
}

// Run sweeps on every tick until ctx is canceled. Sweep errors are logged
// and never stop the loop.
func (r *Reaper) Run(ctx context.Context) {
	r.logf("starting; interval=%s max_age=%s", r.cfg.Interval, r.cfg.MaxAge)
	defer r.logf("stopped")

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce()
		}
	}
}

// RunOnce performs a single sweep and returns how many jobs it removed.
func (r *Reaper) RunOnce() int {
	expired := r.manager.CollectExpired(r.cfg.MaxAge)
	for _, job := range expired {
		if r.files == nil {
			continue
		}
		if err := r.files.Cleanup(job.ID); err != nil {
			r.logf("job %s: remove files: %v", job.ID, err)
		}
	}
	if len(expired) > 0 {
		metrics.AddReaped(len(expired))
		jobCount, batchCount := r.manager.Counts()
		r.logf("removed %d expired job(s); %d job(s) and %d batch(es) remain", len(expired), jobCount, batchCount)
	}
	return len(expired)
}
