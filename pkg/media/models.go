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

// Package media contains the shared data models for processing jobs,
// batches, and progress events. These types are used by the job manager,
// the HTTP layer, the processors, and tests.
package media

import (
	"math"
	"path/filepath"
	"strings"
	"time"
)

// JobStatus is the lifecycle state of a processing job.
// Transitions are monotonic: pending → processing → {completed|failed}.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Valid reports whether the status is one of the allowed states.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is completed or failed.
// A job never leaves a terminal state.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// String returns the string value of the JobStatus.
func (s JobStatus) String() string { return string(s) }

// Job represents one execution of one processor over one uploaded file
// (or, for combining processors, a grouped set of files). Mutated only by
// the job manager; the HTTP layer works with snapshots.
type Job struct {
	ID               string
	ProcessorID      string
	OriginalFilename string
	Status           JobStatus
	Progress         float64 // [0,100]; rounded to one decimal on the wire
	Message          string
	ResultPath       string // absolute; set only once completed
	Error            string // set only once failed
	CreatedAt        time.Time
}

// NewJob constructs a Job in the pending state. The caller assigns the ID.
func NewJob(processorID, originalFilename string, now time.Time) Job {
	return Job{
		ProcessorID:      processorID,
		OriginalFilename: originalFilename,
		Status:           StatusPending,
		Progress:         0,
		Message:          "Queued",
		CreatedAt:        now,
	}
}

// ResultExtension returns the lowercase extension of ResultPath including
// the leading dot, or "" when no result is set. Derived, never stored.
func (j *Job) ResultExtension() string {
	if j.ResultPath == "" {
		return ""
	}
	return strings.ToLower(filepath.Ext(j.ResultPath))
}

// JobSnapshot is the wire representation of a Job.
type JobSnapshot struct {
	ID               string    `json:"id"`
	ProcessorID      string    `json:"processor_id"`
	OriginalFilename string    `json:"original_filename"`
	Status           JobStatus `json:"status"`
	Progress         float64   `json:"progress"`
	Message          string    `json:"message"`
	ResultExtension  string    `json:"result_extension"`
	Error            *string   `json:"error"`
	CreatedAt        time.Time `json:"created_at"`
}

// Snapshot returns the externally visible view of the job. Progress is
// rounded to one decimal; Error serializes as null until the job fails.
func (j *Job) Snapshot() JobSnapshot {
	snap := JobSnapshot{
		ID:               j.ID,
		ProcessorID:      j.ProcessorID,
		OriginalFilename: j.OriginalFilename,
		Status:           j.Status,
		Progress:         RoundProgress(j.Progress),
		Message:          j.Message,
		ResultExtension:  j.ResultExtension(),
		CreatedAt:        j.CreatedAt,
	}
	if j.Error != "" {
		e := j.Error
		snap.Error = &e
	}
	return snap
}

// Batch is a submission-time grouping of independent jobs that share a
// processor id. JobIDs preserves the submission order of the files.
type Batch struct {
	ID          string
	ProcessorID string
	JobIDs      []string
	CreatedAt   time.Time
}

// BatchSnapshot is the wire representation of a Batch.
type BatchSnapshot struct {
	ID          string    `json:"id"`
	JobIDs      []string  `json:"job_ids"`
	ProcessorID string    `json:"processor_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Snapshot returns the externally visible view of the batch.
func (b *Batch) Snapshot() BatchSnapshot {
	ids := make([]string, len(b.JobIDs))
	copy(ids, b.JobIDs)
	return BatchSnapshot{
		ID:          b.ID,
		JobIDs:      ids,
		ProcessorID: b.ProcessorID,
		CreatedAt:   b.CreatedAt,
	}
}

// ProgressEvent is the payload published to subscribers while a job runs
// and at its terminal transition.
type ProgressEvent struct {
	Progress float64   `json:"progress"`
	Message  string    `json:"message"`
	Status   JobStatus `json:"status"`
}

// RoundProgress rounds a progress percentage to one decimal place.
func RoundProgress(p float64) float64 {
	return math.Round(p*10) / 10
}

// ClampProgress limits a progress percentage to the [0,100] range.
func ClampProgress(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
