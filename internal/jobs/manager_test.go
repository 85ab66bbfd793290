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
	"errors"
	"regexp"
	"testing"
	"time"

	"reel/pkg/media"
)

func TestCreateAssignsUniqueHexIDs(t *testing.T) {
	m := NewManager(nil)
	idPattern := regexp.MustCompile(`^[0-9a-f]{12}$`)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		job := m.Create("image-convert", "photo.jpg")
		if !idPattern.MatchString(job.ID) {
			t.Fatalf("job id %q does not match 12-char hex", job.ID)
		}
		if seen[job.ID] {
			t.Fatalf("duplicate job id %q", job.ID)
		}
		seen[job.ID] = true
	}
}

func TestCreateInitialState(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(nil)
	m.now = func() time.Time { return base }

	job := m.Create("video-convert", "clip.mov")
	if job.Status != media.StatusPending {
		t.Errorf("Status = %q, want %q", job.Status, media.StatusPending)
	}
	if job.Message != "Queued" {
		t.Errorf("Message = %q, want %q", job.Message, "Queued")
	}
	if job.Progress != 0 {
		t.Errorf("Progress = %v, want 0", job.Progress)
	}
	if !job.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", job.CreatedAt, base)
	}

	got, ok := m.Get(job.ID)
	if !ok {
		t.Fatal("Get: job not found after Create")
	}
	if got.ProcessorID != "video-convert" || got.OriginalFilename != "clip.mov" {
		t.Errorf("Get returned %+v", got)
	}
}

func TestStartTransitions(t *testing.T) {
	m := NewManager(nil)
	job := m.Create("audio-convert", "song.wav")

	if !m.Start(job.ID) {
		t.Fatal("Start returned false for pending job")
	}
	got, _ := m.Get(job.ID)
	if got.Status != media.StatusProcessing {
		t.Errorf("Status = %q, want %q", got.Status, media.StatusProcessing)
	}

	if m.Start("000000000000") {
		t.Error("Start returned true for unknown job")
	}
	m.Complete(job.ID, "/tmp/out.mp3")
	if m.Start(job.ID) {
		t.Error("Start returned true for completed job")
	}
}

func TestUpdateProgressClampsAndRounds(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{name: "rounds down", in: 33.333, want: 33.3},
		{name: "rounds up", in: 66.66, want: 66.7},
		{name: "clamps negative", in: -5, want: 0},
		{name: "clamps overflow", in: 150, want: 100},
		{name: "integer passes through", in: 40, want: 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(nil)
			job := m.Create("image-compress", "a.png")
			m.Start(job.ID)

			m.UpdateProgress(job.ID, tt.in, "working")
			got, _ := m.Get(job.ID)
			if got.Progress != tt.want {
				t.Errorf("Progress = %v, want %v", got.Progress, tt.want)
			}
			if got.Message != "working" {
				t.Errorf("Message = %q, want %q", got.Message, "working")
			}
		})
	}
}

func TestCompleteSetsResult(t *testing.T) {
	m := NewManager(nil)
	job := m.Create("video-convert", "clip.mov")
	m.Start(job.ID)
	m.UpdateProgress(job.ID, 80, "Encoding")

	if !m.Complete(job.ID, "/data/jobs/x/clip.mp4") {
		t.Fatal("Complete returned false")
	}
	got, _ := m.Get(job.ID)
	if got.Status != media.StatusCompleted {
		t.Errorf("Status = %q, want %q", got.Status, media.StatusCompleted)
	}
	if got.Progress != 100 {
		t.Errorf("Progress = %v, want 100", got.Progress)
	}
	if got.Message != "Done!" {
		t.Errorf("Message = %q, want %q", got.Message, "Done!")
	}
	if got.ResultPath != "/data/jobs/x/clip.mp4" {
		t.Errorf("ResultPath = %q", got.ResultPath)
	}

	if m.Complete(job.ID, "/data/jobs/x/other.mp4") {
		t.Error("second Complete returned true")
	}
	if m.Fail(job.ID, "late failure") {
		t.Error("Fail after Complete returned true")
	}
	got, _ = m.Get(job.ID)
	if got.Status != media.StatusCompleted {
		t.Errorf("terminal status changed to %q", got.Status)
	}
}

func TestFailRecordsReason(t *testing.T) {
	m := NewManager(nil)
	job := m.Create("pdf-split", "doc.pdf")
	m.Start(job.ID)
	m.UpdateProgress(job.ID, 40, "Splitting")

	if !m.Fail(job.ID, "mutool exited with status 1") {
		t.Fatal("Fail returned false")
	}
	got, _ := m.Get(job.ID)
	if got.Status != media.StatusFailed {
		t.Errorf("Status = %q, want %q", got.Status, media.StatusFailed)
	}
	if got.Error != "mutool exited with status 1" {
		t.Errorf("Error = %q", got.Error)
	}
	if got.Message != "Error: mutool exited with status 1" {
		t.Errorf("Message = %q", got.Message)
	}
	if got.Progress != 40 {
		t.Errorf("Progress = %v, want 40 (unchanged)", got.Progress)
	}

	// Progress updates against a failed job are dropped.
	m.UpdateProgress(job.ID, 90, "zombie update")
	got, _ = m.Get(job.ID)
	if got.Progress != 40 || got.Message != "Error: mutool exited with status 1" {
		t.Errorf("terminal job mutated: %+v", got)
	}
}

func drainEvents(t *testing.T, s *Sink) []media.ProgressEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var events []media.ProgressEvent
	for {
		ev, err := s.Next(ctx)
		if errors.Is(err, ErrSinkClosed) {
			return events
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		events = append(events, ev)
	}
}

func TestSubscriberReceivesOrderedEventsAndOneTerminal(t *testing.T) {
	m := NewManager(nil)
	job := m.Create("video-convert", "clip.mov")
	m.Start(job.ID)

	sink, snap, ok := m.Subscribe(job.ID)
	if !ok {
		t.Fatal("Subscribe: job not found")
	}
	if sink == nil {
		t.Fatal("Subscribe returned nil sink for active job")
	}
	if snap.Status != media.StatusProcessing {
		t.Errorf("snapshot status = %q, want processing", snap.Status)
	}

	m.UpdateProgress(job.ID, 10, "Reading")
	m.UpdateProgress(job.ID, 50, "Encoding")
	m.UpdateProgress(job.ID, 100, "Finalizing")
	m.Complete(job.ID, "/data/out.mp4")

	events := drainEvents(t, sink)
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4: %+v", len(events), events)
	}
	wantProgress := []float64{10, 50, 100, 100}
	terminals := 0
	for i, ev := range events {
		if ev.Progress != wantProgress[i] {
			t.Errorf("event %d progress = %v, want %v", i, ev.Progress, wantProgress[i])
		}
		if ev.Status.IsTerminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Errorf("got %d terminal events, want exactly 1", terminals)
	}
	last := events[len(events)-1]
	if last.Status != media.StatusCompleted || last.Message != "Done!" {
		t.Errorf("last event = %+v, want completed/Done!", last)
	}
}

func TestEverySubscriberSeesEveryEvent(t *testing.T) {
	m := NewManager(nil)
	job := m.Create("image-convert", "a.png")
	m.Start(job.ID)

	first, _, _ := m.Subscribe(job.ID)
	second, _, _ := m.Subscribe(job.ID)

	m.UpdateProgress(job.ID, 30, "x")
	m.UpdateProgress(job.ID, 60, "y")
	m.Complete(job.ID, "/data/a.webp")

	for i, sink := range []*Sink{first, second} {
		events := drainEvents(t, sink)
		if len(events) != 3 {
			t.Errorf("subscriber %d got %d events, want 3", i, len(events))
		}
	}
}

func TestFailEventCarriesUnprefixedReason(t *testing.T) {
	m := NewManager(nil)
	job := m.Create("audio-trim", "take.flac")
	m.Start(job.ID)
	m.UpdateProgress(job.ID, 25, "Trimming")

	sink, _, _ := m.Subscribe(job.ID)
	m.Fail(job.ID, "input has no audio stream")

	events := drainEvents(t, sink)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Status != media.StatusFailed {
		t.Errorf("status = %q, want failed", ev.Status)
	}
	if ev.Message != "input has no audio stream" {
		t.Errorf("event message = %q, want raw reason", ev.Message)
	}
	if ev.Progress != 25 {
		t.Errorf("event progress = %v, want last progress 25", ev.Progress)
	}
}

func TestSubscribeTerminalJobReturnsSnapshotOnly(t *testing.T) {
	m := NewManager(nil)
	job := m.Create("pdf-merge", "a.pdf")
	m.Start(job.ID)
	m.Complete(job.ID, "/data/merged.pdf")

	sink, snap, ok := m.Subscribe(job.ID)
	if !ok {
		t.Fatal("Subscribe: job not found")
	}
	if sink != nil {
		t.Error("Subscribe returned a sink for a terminal job")
	}
	if snap.Status != media.StatusCompleted || snap.Progress != 100 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestSubscribeUnknownJob(t *testing.T) {
	m := NewManager(nil)
	if _, _, ok := m.Subscribe("ffffffffffff"); ok {
		t.Error("Subscribe returned ok for unknown job")
	}
}

func TestUnsubscribeStopsDeliveryAndIsIdempotent(t *testing.T) {
	m := NewManager(nil)
	job := m.Create("image-compress", "b.jpg")
	m.Start(job.ID)

	gone, _, _ := m.Subscribe(job.ID)
	kept, _, _ := m.Subscribe(job.ID)

	m.Unsubscribe(job.ID, gone)
	m.Unsubscribe(job.ID, gone)

	m.UpdateProgress(job.ID, 75, "still going")
	m.Complete(job.ID, "/data/b.jpg")

	if events := drainEvents(t, gone); len(events) != 0 {
		t.Errorf("unsubscribed sink received %d events", len(events))
	}
	if events := drainEvents(t, kept); len(events) != 2 {
		t.Errorf("remaining sink received %d events, want 2", len(events))
	}
}

func TestCreateBatchCopiesJobIDs(t *testing.T) {
	m := NewManager(nil)
	a := m.Create("pdf-merge", "a.pdf")
	b := m.Create("pdf-merge", "b.pdf")

	ids := []string{a.ID, b.ID}
	batch := m.CreateBatch("pdf-merge", ids)
	ids[0] = "mutated"

	got, ok := m.GetBatch(batch.ID)
	if !ok {
		t.Fatal("GetBatch: batch not found")
	}
	if got.JobIDs[0] != a.ID || got.JobIDs[1] != b.ID {
		t.Errorf("JobIDs = %v", got.JobIDs)
	}

	got.JobIDs[0] = "mutated again"
	fresh, _ := m.GetBatch(batch.ID)
	if fresh.JobIDs[0] != a.ID {
		t.Error("GetBatch returned a shared slice")
	}
}

func TestRemoveJobPrunesBatches(t *testing.T) {
	m := NewManager(nil)
	a := m.Create("image-convert", "a.png")
	b := m.Create("image-convert", "b.png")
	batch := m.CreateBatch("image-convert", []string{a.ID, b.ID})

	removed, ok := m.RemoveJob(a.ID)
	if !ok {
		t.Fatal("RemoveJob returned false")
	}
	if removed.ID != a.ID {
		t.Errorf("removed job = %q, want %q", removed.ID, a.ID)
	}
	if _, ok := m.Get(a.ID); ok {
		t.Error("job still present after RemoveJob")
	}

	got, ok := m.GetBatch(batch.ID)
	if !ok {
		t.Fatal("batch dropped while a member remains")
	}
	if len(got.JobIDs) != 1 || got.JobIDs[0] != b.ID {
		t.Errorf("JobIDs = %v, want [%s]", got.JobIDs, b.ID)
	}

	m.RemoveJob(b.ID)
	if _, ok := m.GetBatch(batch.ID); ok {
		t.Error("empty batch not removed")
	}

	if _, ok := m.RemoveJob(a.ID); ok {
		t.Error("RemoveJob returned true for already removed job")
	}
}

func TestCollectExpired(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	m := NewManager(nil)
	m.now = func() time.Time { return current }

	const maxAge = time.Hour

	completedOld := m.Create("image-convert", "old1.png")
	m.Start(completedOld.ID)
	m.Complete(completedOld.ID, "/data/old1.webp")

	failedOld := m.Create("video-convert", "old2.mov")
	m.Start(failedOld.ID)
	m.Fail(failedOld.ID, "boom")

	stuckOld := m.Create("audio-convert", "old3.wav")
	m.Start(stuckOld.ID)

	current = base.Add(50 * time.Minute)
	completedFresh := m.Create("pdf-split", "fresh.pdf")
	m.Start(completedFresh.ID)
	m.Complete(completedFresh.ID, "/data/fresh.zip")

	current = base.Add(maxAge + time.Minute)
	expired := m.CollectExpired(maxAge)

	got := make(map[string]bool, len(expired))
	for _, j := range expired {
		got[j.ID] = true
	}
	if len(expired) != 2 || !got[completedOld.ID] || !got[failedOld.ID] {
		t.Fatalf("expired = %v, want the two old terminal jobs", got)
	}

	if _, ok := m.Get(completedOld.ID); ok {
		t.Error("expired job still present")
	}
	if _, ok := m.Get(stuckOld.ID); !ok {
		t.Error("processing job was expired")
	}
	if _, ok := m.Get(completedFresh.ID); !ok {
		t.Error("fresh terminal job was expired")
	}

	// Exactly at the age boundary the job is kept.
	current = base.Add(50*time.Minute + maxAge)
	if n := len(m.CollectExpired(maxAge)); n != 0 {
		t.Errorf("CollectExpired at boundary removed %d jobs, want 0", n)
	}
}
