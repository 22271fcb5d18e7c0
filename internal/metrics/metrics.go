// Package metrics keeps in-process counters for connection handling.
//
// All methods are safe for concurrent use. A nil *Collector is a valid no-op
// receiver.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/state"
)

type latency struct {
	count int64
	total time.Duration
	max   time.Duration
	last  time.Duration
}

type Collector struct {
	connectionsActive atomic.Int64
	connectionsTotal  atomic.Int64
	connectionsReaped atomic.Int64
	failuresTotal     atomic.Int64

	mu        sync.RWMutex
	startTime time.Time
	latencies map[state.ChannelKind]*latency
	failures  map[string]int64
}

func New() *Collector {
	return &Collector{
		startTime: time.Now(),
		latencies: make(map[state.ChannelKind]*latency),
		failures:  make(map[string]int64),
	}
}

// ── Connection lifecycle ─────────────────────────────────────────────

func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(1)
	c.connectionsTotal.Add(1)
}

func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(-1)
}

// ConnectionsReaped counts connections removed because their transport was
// dead.
func (c *Collector) ConnectionsReaped(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.connectionsReaped.Add(int64(n))
}

func (c *Collector) ActiveConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsActive.Load()
}

// ── Establishment ────────────────────────────────────────────────────

// RecordEstablishmentLatency records how long a successful establishment
// took for the given channel kind.
func (c *Collector) RecordEstablishmentLatency(kind state.ChannelKind, d time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.latencies[kind]
	if !ok {
		l = &latency{}
		c.latencies[kind] = l
	}
	l.count++
	l.total += d
	l.last = d
	if d > l.max {
		l.max = d
	}
}

// EstablishmentFailed counts a failed establishment by the step that failed.
func (c *Collector) EstablishmentFailed(step string) {
	if c == nil {
		return
	}
	c.failuresTotal.Add(1)
	c.mu.Lock()
	c.failures[step]++
	c.mu.Unlock()
}

// ── Snapshot ─────────────────────────────────────────────────────────

type LatencySnapshot struct {
	Kind      string  `json:"kind"`
	Count     int64   `json:"count"`
	AverageMS float64 `json:"average_ms"`
	MaxMS     float64 `json:"max_ms"`
	LastMS    float64 `json:"last_ms"`
}

type Snapshot struct {
	Uptime            string            `json:"uptime"`
	ConnectionsActive int64             `json:"connections_active"`
	ConnectionsTotal  int64             `json:"connections_total"`
	ConnectionsReaped int64             `json:"connections_reaped"`
	FailuresTotal     int64             `json:"establishment_failures_total"`
	FailuresByStep    map[string]int64  `json:"establishment_failures_by_step,omitempty"`
	Establishment     []LatencySnapshot `json:"establishment_latency"`
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:            time.Since(c.startTime).Truncate(time.Second).String(),
		ConnectionsActive: c.connectionsActive.Load(),
		ConnectionsTotal:  c.connectionsTotal.Load(),
		ConnectionsReaped: c.connectionsReaped.Load(),
		FailuresTotal:     c.failuresTotal.Load(),
		Establishment:     make([]LatencySnapshot, 0, len(c.latencies)),
	}
	if len(c.failures) > 0 {
		s.FailuresByStep = make(map[string]int64, len(c.failures))
		for step, n := range c.failures {
			s.FailuresByStep[step] = n
		}
	}
	for kind, l := range c.latencies {
		s.Establishment = append(s.Establishment, LatencySnapshot{
			Kind:      string(kind),
			Count:     l.count,
			AverageMS: ms(l.total) / float64(l.count),
			MaxMS:     ms(l.max),
			LastMS:    ms(l.last),
		})
	}
	sort.Slice(s.Establishment, func(i, j int) bool { return s.Establishment[i].Kind < s.Establishment[j].Kind })
	return s
}
