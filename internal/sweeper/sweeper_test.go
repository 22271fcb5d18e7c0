package sweeper_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arkanwolfshade/MythosMUD-sub022/internal/sweeper"
	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/state/statemanager"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type fakeHandle struct {
	connected bool
	err       error
	panics    bool
	block     bool
	inFlight  *atomic.Int32
	maxSeen   *atomic.Int32
}

func (h *fakeHandle) Accept(context.Context) error { return nil }
func (h *fakeHandle) Ping(context.Context) error { return nil }
func (h *fakeHandle) Send([]byte) {}
func (h *fakeHandle) Close(error) {}

func (h *fakeHandle) Connected(ctx context.Context) (bool, error) {
	if h.inFlight != nil {
		n := h.inFlight.Add(1)
		defer h.inFlight.Add(-1)
		for {
			seen := h.maxSeen.Load()
			if n <= seen || h.maxSeen.CompareAndSwap(seen, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	if h.panics {
		panic("malformed transport state")
	}
	if h.block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return h.connected, h.err
}

func TestFindDeadClassifiesProbeResults(t *testing.T) {
	reg := statemanager.NewInMemoryManager(newTestLogger())
	alive := reg.Register("P1", &fakeHandle{connected: true})
	closed := reg.Register("P1", &fakeHandle{connected: false})
	failing := reg.Register("P1", &fakeHandle{connected: true, err: errors.New("probe failed")})
	panicking := reg.Register("P1", &fakeHandle{panics: true})
	other := reg.Register("P2", &fakeHandle{connected: false})

	s := sweeper.New(reg, sweeper.Config{Concurrency: 4}, newTestLogger())
	dead := s.FindDead(context.Background(), "P1")

	want := []string{closed, failing, panicking}
	slices.Sort(want)
	if !slices.Equal(dead, want) {
		t.Fatalf("FindDead = %v, want %v", dead, want)
	}
	if slices.Contains(dead, alive) || slices.Contains(dead, other) {
		t.Fatalf("FindDead reported a live or foreign connection: %v", dead)
	}

	remaining := s.Cleanup(dead, "P1")
	if !slices.Equal(remaining, []string{alive}) {
		t.Fatalf("Cleanup remaining = %v, want [%s]", remaining, alive)
	}
	if got := reg.ConnectionsOf("P2"); !slices.Equal(got, []string{other}) {
		t.Fatalf("P2 connections = %v", got)
	}
}

func TestFindDeadUnknownPlayer(t *testing.T) {
	reg := statemanager.NewInMemoryManager(newTestLogger())
	s := sweeper.New(reg, sweeper.Config{}, newTestLogger())
	if dead := s.FindDead(context.Background(), "nobody"); len(dead) != 0 {
		t.Fatalf("FindDead = %v, want none", dead)
	}
}

func TestFindDeadProbeTimeout(t *testing.T) {
	reg := statemanager.NewInMemoryManager(newTestLogger())
	stuck := reg.Register("P1", &fakeHandle{block: true})

	s := sweeper.New(reg, sweeper.Config{Concurrency: 1, ProbeTimeout: 10 * time.Millisecond}, newTestLogger())
	dead := s.FindDead(context.Background(), "P1")
	if !slices.Equal(dead, []string{stuck}) {
		t.Fatalf("FindDead = %v, want [%s]", dead, stuck)
	}
}

func TestFindDeadCancelledReportsNothing(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	expiring, cancelExpiring := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelExpiring()

	tests := []struct {
		name string
		ctx  context.Context
	}{
		{name: "cancelled before the scan", ctx: cancelled},
		{name: "cancelled during the scan", ctx: expiring},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := statemanager.NewInMemoryManager(newTestLogger())
			reg.Register("P1", &fakeHandle{block: true})
			reg.Register("P1", &fakeHandle{block: true})

			s := sweeper.New(reg, sweeper.Config{Concurrency: 2}, newTestLogger())
			if dead := s.FindDead(tt.ctx, "P1"); len(dead) != 0 {
				t.Fatalf("FindDead = %v, want none", dead)
			}
			if n := len(reg.Handles("P1")); n != 2 {
				t.Fatalf("registry holds %d connections, want 2", n)
			}
		})
	}
}

func TestFindDeadRespectsConcurrencyLimit(t *testing.T) {
	reg := statemanager.NewInMemoryManager(newTestLogger())
	var inFlight, maxSeen atomic.Int32
	for i := 0; i < 8; i++ {
		reg.Register("P1", &fakeHandle{connected: true, inFlight: &inFlight, maxSeen: &maxSeen})
	}

	s := sweeper.New(reg, sweeper.Config{Concurrency: 2}, newTestLogger())
	if dead := s.FindDead(context.Background(), "P1"); len(dead) != 0 {
		t.Fatalf("FindDead = %v, want none", dead)
	}
	if got := maxSeen.Load(); got > 2 {
		t.Fatalf("saw %d probes in flight, limit is 2", got)
	}
}

func TestCleanupEmptyIsNoop(t *testing.T) {
	reg := statemanager.NewInMemoryManager(newTestLogger())
	id := reg.Register("P1", &fakeHandle{connected: true})
	s := sweeper.New(reg, sweeper.Config{}, newTestLogger())

	if remaining := s.Cleanup(nil, "P1"); !slices.Equal(remaining, []string{id}) {
		t.Fatalf("Cleanup(nil) = %v", remaining)
	}
	if remaining := s.Cleanup([]string{}, "nobody"); remaining != nil {
		t.Fatalf("Cleanup for unknown player = %v, want nil", remaining)
	}
}
