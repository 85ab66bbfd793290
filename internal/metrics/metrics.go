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

package metrics

import (
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu  sync.RWMutex
	reg *prometheus.Registry

	jobsCreated       *prometheus.CounterVec
	jobsCompleted     *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	jobsReaped        prometheus.Counter
	progressEvents    prometheus.Counter
	subscribersActive prometheus.Gauge
	toolInvocations   *prometheus.CounterVec
	toolDuration      *prometheus.HistogramVec
)

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"

	ToolStatusOK    = "ok"
	ToolStatusError = "error"
)

func init() {
	resetLocked()
}

// Reset clears and reinitializes all metrics collectors.
// Primarily used by tests to ensure clean state.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resetLocked()
}

// Handler returns an HTTP handler that exposes metrics in Prometheus format.
func Handler() http.Handler {
	mu.RLock()
	registry := reg
	mu.RUnlock()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// IncJobCreated records a newly accepted job for a processor.
func IncJobCreated(processor string) {
	label := sanitizeLabel(processor, "unknown")

	mu.RLock()
	defer mu.RUnlock()
	if jobsCreated != nil {
		jobsCreated.WithLabelValues(label).Inc()
	}
}

// ObserveJobFinished records a job reaching a terminal status along with
// its total processing duration.
func ObserveJobFinished(processor, status string, duration time.Duration) {
	labelProc := sanitizeLabel(processor, "unknown")
	labelStatus := sanitizeLabel(status, "unknown")

	mu.RLock()
	defer mu.RUnlock()
	if jobsCompleted != nil {
		jobsCompleted.WithLabelValues(labelProc, labelStatus).Inc()
	}
	if jobDuration != nil {
		jobDuration.WithLabelValues(labelProc).Observe(durationSeconds(duration))
	}
}

// AddReaped records jobs removed by the expiry sweep.
func AddReaped(n int) {
	if n <= 0 {
		return
	}

	mu.RLock()
	defer mu.RUnlock()
	if jobsReaped != nil {
		jobsReaped.Add(float64(n))
	}
}

// IncProgressEvent records one progress event published to subscribers.
func IncProgressEvent() {
	mu.RLock()
	defer mu.RUnlock()
	if progressEvents != nil {
		progressEvents.Inc()
	}
}

// IncSubscribers tracks a progress subscriber attaching (delta +1) or
// detaching (delta -1).
func IncSubscribers(delta int) {
	mu.RLock()
	defer mu.RUnlock()
	if subscribersActive != nil {
		subscribersActive.Add(float64(delta))
	}
}

// ObserveToolInvocation records one external tool run.
func ObserveToolInvocation(tool, status string, duration time.Duration) {
	labelTool := sanitizeTool(tool)
	labelStatus := sanitizeLabel(status, "unknown")

	mu.RLock()
	defer mu.RUnlock()
	if toolInvocations != nil {
		toolInvocations.WithLabelValues(labelTool, labelStatus).Inc()
	}
	if toolDuration != nil {
		toolDuration.WithLabelValues(labelTool).Observe(durationSeconds(duration))
	}
}

func resetLocked() {
	registry := prometheus.NewRegistry()

	created := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reel",
		Subsystem: "jobs",
		Name:      "created_total",
		Help:      "Total jobs accepted, grouped by processor.",
	}, []string{"processor"})

	completed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reel",
		Subsystem: "jobs",
		Name:      "finished_total",
		Help:      "Total jobs reaching a terminal status, grouped by processor and status.",
	}, []string{"processor", "status"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reel",
		Subsystem: "jobs",
		Name:      "duration_seconds",
		Help:      "Wall-clock processing duration of finished jobs by processor.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"processor"})

	reaped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reel",
		Subsystem: "jobs",
		Name:      "reaped_total",
		Help:      "Total expired jobs removed by the cleanup sweep.",
	})

	events := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reel",
		Subsystem: "jobs",
		Name:      "progress_events_total",
		Help:      "Total progress events published to subscribers.",
	})

	subscribers := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reel",
		Subsystem: "jobs",
		Name:      "subscribers_active",
		Help:      "Progress subscribers currently attached.",
	})

	invocations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reel",
		Subsystem: "exec",
		Name:      "tool_invocations_total",
		Help:      "Total external tool invocations grouped by tool and outcome.",
	}, []string{"tool", "status"})

	toolDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reel",
		Subsystem: "exec",
		Name:      "tool_duration_seconds",
		Help:      "Duration of external tool invocations by tool.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"tool"})

	registry.MustRegister(created, completed, duration, reaped, events, subscribers, invocations, toolDur)

	reg = registry
	jobsCreated = created
	jobsCompleted = completed
	jobDuration = duration
	jobsReaped = reaped
	progressEvents = events
	subscribersActive = subscribers
	toolInvocations = invocations
	toolDuration = toolDur
}

func sanitizeTool(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return "unknown"
	}
	var b strings.Builder
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '.':
		default:
			r = '_'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func sanitizeLabel(v string, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	var b strings.Builder
	for _, r := range v {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ':' || r == '.' || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func durationSeconds(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return d.Seconds()
}
