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

package workers

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
)

func TestNewDefaultsSize(t *testing.T) {
	p := New(0)
	want := runtime.NumCPU() / 2
	if want < 2 {
		want = 2
	}
	if p.Size() != want {
		t.Errorf("Size() = %d, want %d", p.Size(), want)
	}

	if got := New(5).Size(); got != 5 {
		t.Errorf("Size() = %d, want 5", got)
	}
	if got := New(-3).Size(); got != want {
		t.Errorf("Size() = %d for negative input, want %d", got, want)
	}
}

func TestDoBoundsConcurrency(t *testing.T) {
	const capacity = 2
	const tasks = 20

	p := New(capacity)
	var running, peak int64
	var wg sync.WaitGroup

	for i := 0; i < tasks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.Do(context.Background(), func() error {
				n := atomic.AddInt64(&running, 1)
				for {
					old := atomic.LoadInt64(&peak)
					if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
						break
					}
				}
				atomic.AddInt64(&running, -1)
				return nil
			})
			if err != nil {
				t.Errorf("Do returned error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&peak); got > capacity {
		t.Errorf("observed %d concurrent tasks, capacity is %d", got, capacity)
	}
}

func TestDoReleasesOnError(t *testing.T) {
	p := New(1)
	wantErr := errors.New("boom")

	if err := p.Do(context.Background(), func() error { return wantErr }); !errors.Is(err, wantErr) {
		t.Fatalf("Do error = %v, want %v", err, wantErr)
	}

	// The slot must be free again.
	if err := p.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire after failed Do: %v", err)
	}
	p.Release()
}

func TestAcquireHonorsContext(t *testing.T) {
	p := New(1)
	if err := p.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer p.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire on canceled context = %v, want context.Canceled", err)
	}
}
