package metrics

import (
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
)

// Event names counted by the relay.
const (
	ConnectionsOpened = "connections_opened"
	ConnectionsClosed = "connections_closed"
	MessagesReceived  = "messages_received"
	DecodeErrors      = "decode_errors"
	UnknownOps        = "unknown_ops"
	RoomFull          = "room_full"
	SendSkipped       = "send_skipped"
	SendErrors        = "send_errors"
	TransportErrors   = "transport_errors"
	LifecycleErrors   = "lifecycle_errors"
	RateLimited       = "rate_limited"
)

// Metrics is a concurrency-safe counter registry. A nil *Metrics is valid and
// discards everything, so components can be built without one.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return map[string]uint64{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.m)
}

// PrometheusHandler exposes every counter as one metric with an `event` label.
func PrometheusHandler(m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := m.Snapshot()
		keys := slices.Sorted(maps.Keys(snap))

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = fmt.Fprintln(w, "# HELP webrtc_signal_events_total Internal event counters.")
		_, _ = fmt.Fprintln(w, "# TYPE webrtc_signal_events_total counter")
		for _, k := range keys {
			escaped := strings.NewReplacer("\\", "\\\\", "\"", "\\\"").Replace(k)
			_, _ = fmt.Fprintf(w, "webrtc_signal_events_total{event=\"%s\"} %d\n", escaped, snap[k])
		}
	})
}
