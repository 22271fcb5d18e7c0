package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/state"
)

func TestCollector_Connections(t *testing.T) {
	c := New()
	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionClosed()
	c.ConnectionsReaped(3)
	c.ConnectionsReaped(0)

	s := c.Snapshot()
	if s.ConnectionsActive != 1 || s.ConnectionsTotal != 2 {
		t.Errorf("active=%d total=%d", s.ConnectionsActive, s.ConnectionsTotal)
	}
	if s.ConnectionsReaped != 3 {
		t.Errorf("reaped=%d, want 3", s.ConnectionsReaped)
	}
}

func TestCollector_EstablishmentLatency(t *testing.T) {
	c := New()
	c.RecordEstablishmentLatency(state.ChannelWebsocket, 10*time.Millisecond)
	c.RecordEstablishmentLatency(state.ChannelWebsocket, 30*time.Millisecond)
	c.RecordEstablishmentLatency(state.ChannelSSE, 5*time.Millisecond)

	s := c.Snapshot()
	if len(s.Establishment) != 2 {
		t.Fatalf("establishment = %+v", s.Establishment)
	}
	sse, ws := s.Establishment[0], s.Establishment[1]
	if sse.Kind != "sse" || sse.Count != 1 || sse.LastMS != 5 {
		t.Errorf("sse = %+v", sse)
	}
	if ws.Kind != "websocket" || ws.Count != 2 || ws.AverageMS != 20 || ws.MaxMS != 30 || ws.LastMS != 30 {
		t.Errorf("websocket = %+v", ws)
	}
}

func TestCollector_Failures(t *testing.T) {
	c := New()
	c.EstablishmentFailed("handshake")
	c.EstablishmentFailed("handshake")
	c.EstablishmentFailed("player_setup")

	s := c.Snapshot()
	if s.FailuresTotal != 3 {
		t.Errorf("FailuresTotal = %d", s.FailuresTotal)
	}
	if s.FailuresByStep["handshake"] != 2 || s.FailuresByStep["player_setup"] != 1 {
		t.Errorf("FailuresByStep = %v", s.FailuresByStep)
	}
}

func TestCollector_Concurrent(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.ConnectionOpened()
			c.RecordEstablishmentLatency(state.ChannelWebsocket, time.Millisecond)
		}()
	}
	wg.Wait()
	s := c.Snapshot()
	if s.ConnectionsTotal != 50 || s.Establishment[0].Count != 50 {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.ConnectionOpened()
	c.ConnectionClosed()
	c.ConnectionsReaped(1)
	c.RecordEstablishmentLatency(state.ChannelWebsocket, time.Second)
	c.EstablishmentFailed("x")
	if c.ActiveConnections() != 0 {
		t.Error("nil collector should report zero")
	}
	if s := c.Snapshot(); s.ConnectionsTotal != 0 {
		t.Errorf("nil snapshot = %+v", s)
	}
}
