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

// Package jobs owns all in-memory job and batch state: lifecycle
// transitions, progress fan-out to subscribers, and expiry of finished
// jobs. State lives and dies with the process.
package jobs

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"reel/internal/metrics"
	"reel/pkg/media"
)

// Manager is the single authority over job and batch records. Every
// mutation happens under its lock, which is also what orders progress
// events: an event is queued on every subscriber sink before the
// mutating call returns.
type Manager struct {
	mu      sync.Mutex
	jobs    map[string]*media.Job
	batches map[string]*media.Batch
	sinks   map[string][]*Sink

	logger *log.Logger
	now    func() time.Time
}

// NewManager returns an empty manager.
func NewManager(logger *log.Logger) *Manager {
	return &Manager{
		jobs:    make(map[string]*media.Job),
		batches: make(map[string]*media.Batch),
		sinks:   make(map[string][]*Sink),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}

func (m *Manager) timeNow() time.Time {
	if m.now != nil {
		return m.now()
	}
	return time.Now().UTC()
}

// randomID returns a 12-character lowercase hex id.
func randomID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

func (m *Manager) newJobIDLocked() string {
	for {
		id := randomID()
		if _, taken := m.jobs[id]; !taken {
			return id
		}
	}
}

func (m *Manager) newBatchIDLocked() string {
	for {
		id := randomID()
		if _, taken := m.batches[id]; !taken {
			return id
		}
	}
}

// Create registers a new pending job and returns a copy of it.
func (m *Manager) Create(processorID, originalFilename string) media.Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	job := media.NewJob(processorID, originalFilename, m.timeNow())
	job.ID = m.newJobIDLocked()
	m.jobs[job.ID] = &job

	metrics.IncJobCreated(processorID)
	return job
}

// CreateBatch registers a batch over already-created jobs. JobIDs keep
// their submission order.
func (m *Manager) CreateBatch(processorID string, jobIDs []string) media.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := media.Batch{
		ID:          m.newBatchIDLocked(),
		ProcessorID: processorID,
		JobIDs:      append([]string(nil), jobIDs...),
		CreatedAt:   m.timeNow(),
	}
	m.batches[b.ID] = &b

	out := b
	out.JobIDs = append([]string(nil), b.JobIDs...)
	return out
}

// Get returns a copy of the job.
func (m *Manager) Get(id string) (media.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return media.Job{}, false
	}
	return *j, true
}

// GetBatch returns a copy of the batch.
func (m *Manager) GetBatch(id string) (media.Batch, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[id]
	if !ok {
		return media.Batch{}, false
	}
	out := *b
	out.JobIDs = append([]string(nil), b.JobIDs...)
	return out, true
}

// Start moves a pending job to processing. It reports false for an
// unknown or already terminal job. No event is published; the transition
// becomes visible through the next progress update.
func (m *Manager) Start(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok || j.Status.IsTerminal() {
		return false
	}
	j.Status = media.StatusProcessing
	return true
}

// UpdateProgress records progress and publishes one event carrying the
// job's current status. Percent is clamped to [0,100] and rounded to one
// decimal. Updates against unknown or terminal jobs are dropped so the
// terminal event stays the last event a subscriber sees.
func (m *Manager) UpdateProgress(id string, percent float64, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok || j.Status.IsTerminal() {
		return
	}
	j.Progress = media.RoundProgress(media.ClampProgress(percent))
	j.Message = message

	m.publishLocked(id, media.ProgressEvent{
		Progress: j.Progress,
		Message:  j.Message,
		Status:   j.Status,
	})
}

// Complete moves a job to completed, records the result path, and
// publishes exactly one terminal event before closing the job's sinks.
func (m *Manager) Complete(id, resultPath string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok || j.Status.IsTerminal() {
		return false
	}
	j.Status = media.StatusCompleted
	j.Progress = 100
	j.Message = "Done!"
	j.ResultPath = resultPath

	m.publishLocked(id, media.ProgressEvent{
		Progress: 100,
		Message:  j.Message,
		Status:   media.StatusCompleted,
	})
	m.closeSinksLocked(id)

	metrics.ObserveJobFinished(j.ProcessorID, metrics.StatusCompleted, m.timeNow().Sub(j.CreatedAt))
	return true
}

// Fail moves a job to failed and publishes exactly one terminal event
// carrying the failure reason and the job's last progress value. The
// stored message gains an "Error: " prefix; the event message does not.
func (m *Manager) Fail(id, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok || j.Status.IsTerminal() {
		return false
	}
	j.Status = media.StatusFailed
	j.Error = reason
	j.Message = "Error: " + reason

	m.publishLocked(id, media.ProgressEvent{
		Progress: j.Progress,
		Message:  reason,
		Status:   media.StatusFailed,
	})
	m.closeSinksLocked(id)

	metrics.ObserveJobFinished(j.ProcessorID, metrics.StatusFailed, m.timeNow().Sub(j.CreatedAt))
	m.logf("job %s failed: %s", id, reason)
	return true
}

// Subscribe atomically snapshots the job and attaches a new sink, so the
// caller misses no event published after the snapshot. For a job already
// in a terminal state the sink is nil and the snapshot alone tells the
// whole story. The caller must Unsubscribe a non-nil sink when done.
func (m *Manager) Subscribe(id string) (*Sink, media.JobSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, media.JobSnapshot{}, false
	}
	snap := j.Snapshot()
	if j.Status.IsTerminal() {
		return nil, snap, true
	}
	s := newSink()
	m.sinks[id] = append(m.sinks[id], s)
	return s, snap, true
}

// Unsubscribe detaches and closes a sink. It tolerates sinks already
// detached by a terminal transition or an earlier call.
func (m *Manager) Unsubscribe(id string, s *Sink) {
	if s == nil {
		return
	}
	m.mu.Lock()
	list := m.sinks[id]
	for i, cur := range list {
		if cur == s {
			m.sinks[id] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(m.sinks[id]) == 0 {
		delete(m.sinks, id)
	}
	m.mu.Unlock()

	s.Close()
}

// RemoveJob deletes a job record, closes its sinks, and prunes its id
// from any batch. A batch left empty is removed too. The removed job is
// returned so the caller can clean up its files.
func (m *Manager) RemoveJob(id string) (media.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(id)
}

// CollectExpired removes terminal jobs older than maxAge and returns
// them. Pending and processing jobs are never expired.
func (m *Manager) CollectExpired(maxAge time.Duration) []media.Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.timeNow()
	var expired []media.Job
	for id, j := range m.jobs {
		if !j.Status.IsTerminal() {
			continue
		}
		if now.Sub(j.CreatedAt) <= maxAge {
			continue
		}
		if out, ok := m.removeLocked(id); ok {
			expired = append(expired, out)
		}
	}
	return expired
}

// Counts reports the number of live job and batch records.
func (m *Manager) Counts() (jobCount, batchCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs), len(m.batches)
}

func (m *Manager) removeLocked(id string) (media.Job, bool) {
	j, ok := m.jobs[id]
	if !ok {
		return media.Job{}, false
	}
	out := *j
	delete(m.jobs, id)
	m.closeSinksLocked(id)

	for bid, b := range m.batches {
		for i, jid := range b.JobIDs {
			if jid == id {
				b.JobIDs = append(b.JobIDs[:i], b.JobIDs[i+1:]...)
				break
			}
		}
		if len(b.JobIDs) == 0 {
			delete(m.batches, bid)
		}
	}
	return out, true
}

// publishLocked queues one event on every sink of the job in
// registration order. Caller holds m.mu.
func (m *Manager) publishLocked(id string, ev media.ProgressEvent) {
	for _, s := range m.sinks[id] {
		s.publish(ev)
	}
	metrics.IncProgressEvent()
}

// closeSinksLocked closes and forgets every sink of the job. Queued
// events are still delivered to their consumers. Caller holds m.mu.
func (m *Manager) closeSinksLocked(id string) {
	for _, s := range m.sinks[id] {
		s.Close()
	}
	delete(m.sinks, id)
}
