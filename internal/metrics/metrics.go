// Print Worker Core is a desktop print bridge service.
//
// Copyright (C) 2026  Print Worker Core Contributors
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

// Package metrics exposes the Job Pump and LAN Discovery's Prometheus
// instrumentation: a package-global registry behind a mutex, a Reset for
// test isolation, and plain-function recorders instead of exported
// collector handles.
package metrics

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Job family labels used across the counters below.
const (
	FamilyKitchen    = "kitchen"
	FamilyFiscal     = "fiscal"
	FamilyNonFiscal  = "non_fiscal"
)

var (
	mu  sync.RWMutex
	reg *prometheus.Registry

	jobsClaimed   *prometheus.CounterVec
	jobsPrinted   *prometheus.CounterVec
	jobsFailed    *prometheus.CounterVec
	tickDuration  prometheus.Histogram
	probeDuration *prometheus.HistogramVec
	heartbeats    *prometheus.CounterVec
)

func init() {
	resetLocked()
}

// Reset clears and reinitializes all collectors. Tests call this to get
// an isolated registry per run.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resetLocked()
}

// Handler serves the current registry in Prometheus exposition format.
func Handler() http.Handler {
	mu.RLock()
	registry := reg
	mu.RUnlock()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// IncClaimed records a successful job claim for the given family.
func IncClaimed(family string, n int) {
	mu.RLock()
	defer mu.RUnlock()
	if jobsClaimed != nil && n > 0 {
		jobsClaimed.WithLabelValues(sanitizeFamily(family)).Add(float64(n))
	}
}

// IncPrinted records a successful print+ack for the given family.
func IncPrinted(family string) {
	mu.RLock()
	defer mu.RUnlock()
	if jobsPrinted != nil {
		jobsPrinted.WithLabelValues(sanitizeFamily(family)).Inc()
	}
}

// IncFailed records a failed print+ack for the given family.
func IncFailed(family string) {
	mu.RLock()
	defer mu.RUnlock()
	if jobsFailed != nil {
		jobsFailed.WithLabelValues(sanitizeFamily(family)).Inc()
	}
}

// ObserveTickDuration records how long one Job Pump tick took end to end.
func ObserveTickDuration(d time.Duration) {
	mu.RLock()
	defer mu.RUnlock()
	if tickDuration != nil {
		tickDuration.Observe(d.Seconds())
	}
}

// ObserveProbeDuration records how long one LAN discovery host probe took.
func ObserveProbeDuration(kind string, d time.Duration) {
	mu.RLock()
	defer mu.RUnlock()
	if probeDuration != nil {
		probeDuration.WithLabelValues(sanitizeFamily(kind)).Observe(d.Seconds())
	}
}

// IncHeartbeat records a heartbeat call outcome ("ok" or "error").
func IncHeartbeat(outcome string) {
	mu.RLock()
	defer mu.RUnlock()
	if heartbeats != nil {
		heartbeats.WithLabelValues(sanitizeFamily(outcome)).Inc()
	}
}

func resetLocked() {
	registry := prometheus.NewRegistry()

	claimed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "printbridge",
		Subsystem: "jobpump",
		Name:      "jobs_claimed_total",
		Help:      "Total print jobs claimed from the queue, by job family.",
	}, []string{"family"})

	printed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "printbridge",
		Subsystem: "jobpump",
		Name:      "jobs_printed_total",
		Help:      "Total print jobs delivered and acked as successful, by job family.",
	}, []string{"family"})

	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "printbridge",
		Subsystem: "jobpump",
		Name:      "jobs_failed_total",
		Help:      "Total print jobs acked as failed, by job family.",
	}, []string{"family"})

	tick := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "printbridge",
		Subsystem: "jobpump",
		Name:      "tick_duration_seconds",
		Help:      "Duration of a single Job Pump tick, end to end.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	probe := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "printbridge",
		Subsystem: "discovery",
		Name:      "probe_duration_seconds",
		Help:      "Duration of a single LAN discovery host probe, by probe kind.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
	}, []string{"kind"})

	heartbeat := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "printbridge",
		Subsystem: "heartbeat",
		Name:      "calls_total",
		Help:      "Total heartbeat calls, by outcome.",
	}, []string{"outcome"})

	registry.MustRegister(claimed, printed, failed, tick, probe, heartbeat)

	reg = registry
	jobsClaimed = claimed
	jobsPrinted = printed
	jobsFailed = failed
	tickDuration = tick
	probeDuration = probe
	heartbeats = heartbeat
}

func sanitizeFamily(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return "unknown"
	}
	var b strings.Builder
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			r = '_'
		}
		b.WriteRune(r)
	}
	return b.String()
}
