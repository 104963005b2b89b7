package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// Event names counted by the signaling server.
const (
	SessionsOpened   = "sessions_opened"
	SessionsClosed   = "sessions_closed"
	RoomsCreated     = "rooms_created"
	RoomsDeleted     = "rooms_deleted"
	JoinsAdmitted    = "joins_admitted"
	JoinsPending     = "joins_pending"
	Approvals        = "approvals"
	HostFailovers    = "host_failovers"
	SignalsRelayed   = "signals_relayed"
	SignalsDropped   = "signals_dropped"
	ChatMessages     = "chat_messages"
	ScreenShares     = "screen_share_toggles"
	SlowConsumers    = "slow_consumers_closed"
	MalformedFrames  = "malformed_frames"
	RejectedRequests = "rejected_requests"
)

// Metrics is a concurrency-safe counter registry.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{m: make(map[string]uint64)}
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
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}

// PrometheusHandler exposes all counters as one metric with an `event` label.
func PrometheusHandler(m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		snap := m.Snapshot()
		keys := make([]string, 0, len(snap))
		for k := range snap {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = fmt.Fprintln(w, "# HELP meet_signaling_events_total Signaling server event counters.")
		_, _ = fmt.Fprintln(w, "# TYPE meet_signaling_events_total counter")
		escaper := strings.NewReplacer("\\", "\\\\", "\"", "\\\"")
		for _, k := range keys {
			_, _ = fmt.Fprintf(w, "meet_signaling_events_total{event=\"%s\"} %d\n", escaper.Replace(k), snap[k])
		}
	})
}
