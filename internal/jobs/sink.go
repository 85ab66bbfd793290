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
	"sync"

	"reel/pkg/media"
)

// ErrSinkClosed is returned by Sink.Next once the sink is closed and all
// queued events have been consumed.
var ErrSinkClosed = errors.New("jobs: sink closed")

// Sink is one subscriber's private event queue. The queue is unbounded so
// the manager never blocks on a slow consumer; a subscriber that stops
// reading costs memory, not liveness. publish and Close are called by the
// manager under its lock; Next is called by exactly one consumer.
type Sink struct {
	mu     sync.Mutex
	queue  []media.ProgressEvent
	closed bool
	notify chan struct{}
}

func newSink() *Sink {
	return &Sink{notify: make(chan struct{}, 1)}
}

// publish appends an event and wakes the consumer. Events published after
// Close are dropped.
func (s *Sink) publish(ev media.ProgressEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next returns the oldest queued event, blocking until one arrives, the
// sink closes, or ctx is done. Queued events are still delivered after
// Close; ErrSinkClosed is returned only once the queue is drained.
func (s *Sink) Next(ctx context.Context) (media.ProgressEvent, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, nil
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return media.ProgressEvent{}, ErrSinkClosed
		}
		select {
		case <-ctx.Done():
			return media.ProgressEvent{}, ctx.Err()
		case <-s.notify:
		}
	}
}

// Close marks the sink as closed and wakes a blocked consumer. Safe to
// call more than once.
func (s *Sink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}
