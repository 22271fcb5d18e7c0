package presence_test

import (
	"log/slog"
	"maps"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/arkanwolfshade/MythosMUD-sub022/internal/presence"
	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/state"
	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/world"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type fakeSource struct {
	mu    sync.Mutex
	conns map[string]map[state.ChannelKind]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{conns: make(map[string]map[state.ChannelKind]int)}
}

// set replaces the player's live connections. A nil map removes them all.
func (f *fakeSource) set(playerID string, byKind map[state.ChannelKind]int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(byKind) == 0 {
		delete(f.conns, playerID)
		return
	}
	f.conns[playerID] = byKind
}

func (f *fakeSource) ConnectionKinds(playerID string) map[state.ChannelKind]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return maps.Clone(f.conns[playerID])
}

func ws(n int) map[state.ChannelKind]int {
	return map[state.ChannelKind]int{state.ChannelWebsocket: n}
}

func TestMarkOnlineAndPresenceInfo(t *testing.T) {
	fixed := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	src := newFakeSource()
	src.set("P1", ws(1))
	tr := presence.NewTracker(src, newTestLogger(), presence.WithClock(func() time.Time { return fixed }))

	tr.MarkOnline("P1", &world.Player{ID: "P1", Name: "Ithaqua", CurrentRoomID: "R1", Level: 4}, state.ChannelWebsocket)

	info := tr.PresenceInfo("P1")
	if !info.Online || info.TotalConnections != 1 {
		t.Fatalf("PresenceInfo = %+v", info)
	}
	if !slices.Equal(info.ConnectionTypes, []string{"websocket"}) {
		t.Errorf("ConnectionTypes = %v", info.ConnectionTypes)
	}
	if info.PlayerName != "Ithaqua" || info.CurrentRoomID != "R1" || info.Level != 4 {
		t.Errorf("cached fields = %+v", info)
	}
	if !info.ConnectedAt.Equal(fixed) || !info.LastSeen.Equal(fixed) {
		t.Errorf("timestamps = %v / %v", info.ConnectedAt, info.LastSeen)
	}
}

func TestMarkOnlineTwiceRefreshesPlayerFields(t *testing.T) {
	src := newFakeSource()
	src.set("P1", ws(1))
	tr := presence.NewTracker(src, newTestLogger())

	if !tr.MarkOnline("P1", &world.Player{Name: "Ithaqua", CurrentRoomID: "R1"}, state.ChannelWebsocket) {
		t.Fatal("first MarkOnline did not create a record")
	}
	before := tr.PresenceInfo("P1")

	src.set("P1", map[state.ChannelKind]int{state.ChannelWebsocket: 1, state.ChannelSSE: 1})
	if tr.MarkOnline("P1", &world.Player{Name: "Ithaqua", CurrentRoomID: "R2"}, state.ChannelSSE) {
		t.Fatal("second MarkOnline created a record")
	}
	after := tr.PresenceInfo("P1")

	if !after.ConnectedAt.Equal(before.ConnectedAt) {
		t.Error("ConnectedAt was reset")
	}
	if after.CurrentRoomID != "R2" {
		t.Errorf("CurrentRoomID = %q, want R2", after.CurrentRoomID)
	}
	// Counting the new connection is ConnectionAdded's job.
	if after.TotalConnections != 1 {
		t.Errorf("TotalConnections = %d, want 1", after.TotalConnections)
	}
}

func TestPresenceInfoUnknownPlayer(t *testing.T) {
	tr := presence.NewTracker(newFakeSource(), newTestLogger())
	info := tr.PresenceInfo("ghost")
	if info.Online || info.TotalConnections != 0 || len(info.ConnectionTypes) != 0 {
		t.Fatalf("offline snapshot = %+v", info)
	}
	if info.PlayerID != "ghost" {
		t.Errorf("PlayerID = %q", info.PlayerID)
	}
}

func TestConnectionAddedAndRemoved(t *testing.T) {
	src := newFakeSource()
	tr := presence.NewTracker(src, newTestLogger())

	if tr.ConnectionAdded("P1", state.ChannelWebsocket) {
		t.Fatal("ConnectionAdded succeeded for an offline player")
	}

	src.set("P1", ws(1))
	tr.MarkOnline("P1", nil, state.ChannelWebsocket)
	src.set("P1", map[state.ChannelKind]int{state.ChannelWebsocket: 1, state.ChannelSSE: 1})
	if !tr.ConnectionAdded("P1", state.ChannelSSE) {
		t.Fatal("ConnectionAdded failed for an online player")
	}
	info := tr.PresenceInfo("P1")
	if info.TotalConnections != 2 || !slices.Equal(info.ConnectionTypes, []string{"sse", "websocket"}) {
		t.Fatalf("after add = %+v", info)
	}

	src.set("P1", ws(1))
	tr.ConnectionRemoved("P1")
	info = tr.PresenceInfo("P1")
	if info.TotalConnections != 1 || !slices.Equal(info.ConnectionTypes, []string{"websocket"}) {
		t.Fatalf("after removing the sse connection = %+v", info)
	}

	src.set("P1", nil)
	tr.ConnectionRemoved("P1")
	if tr.IsOnline("P1") {
		t.Fatal("player still online after last connection removed")
	}
}

func TestConnectionRemovedKeepsPlayerWithNewerConnection(t *testing.T) {
	src := newFakeSource()
	src.set("P1", ws(1))
	tr := presence.NewTracker(src, newTestLogger())
	tr.MarkOnline("P1", nil, state.ChannelWebsocket)

	// The old connection is gone, but a new one registered before the
	// removal reached the tracker.
	src.set("P1", ws(1))
	tr.ConnectionAdded("P1", state.ChannelWebsocket)
	tr.ConnectionRemoved("P1")

	info := tr.PresenceInfo("P1")
	if !info.Online || info.TotalConnections != 1 {
		t.Fatalf("PresenceInfo = %+v", info)
	}
	if report := tr.Validate("P1"); !report.Consistent() {
		t.Fatalf("Validate = %+v", report)
	}
}

func TestMarkOfflineIgnoresLiveConnections(t *testing.T) {
	src := newFakeSource()
	src.set("P1", ws(1))
	tr := presence.NewTracker(src, newTestLogger())
	tr.MarkOnline("P1", nil, state.ChannelWebsocket)

	tr.MarkOffline("P1")
	if tr.IsOnline("P1") {
		t.Fatal("MarkOffline left the player online")
	}
}

func TestValidate(t *testing.T) {
	t.Run("online without connections is repaired", func(t *testing.T) {
		src := newFakeSource()
		src.set("P1", ws(1))
		tr := presence.NewTracker(src, newTestLogger())
		tr.MarkOnline("P1", nil, state.ChannelWebsocket)
		src.set("P1", nil)

		report := tr.Validate("P1")
		if len(report.Issues) != 1 || report.Issues[0].Kind != presence.IssueOnlineWithoutConnections {
			t.Fatalf("report = %+v", report)
		}
		if report.Issues[0].Action == "" {
			t.Error("expected a repair action")
		}
		if tr.IsOnline("P1") {
			t.Error("presence record not removed")
		}
	})

	t.Run("connected but offline is only reported", func(t *testing.T) {
		src := newFakeSource()
		src.set("P1", ws(1))
		tr := presence.NewTracker(src, newTestLogger())

		report := tr.Validate("P1")
		if len(report.Issues) != 1 || report.Issues[0].Kind != presence.IssueConnectedButOffline {
			t.Fatalf("report = %+v", report)
		}
		if report.Issues[0].Action != "" {
			t.Errorf("Action = %q, want none", report.Issues[0].Action)
		}
		if tr.IsOnline("P1") {
			t.Error("validator marked the player online")
		}
	})

	t.Run("count mismatch is overwritten", func(t *testing.T) {
		src := newFakeSource()
		src.set("P1", ws(1))
		tr := presence.NewTracker(src, newTestLogger())
		tr.MarkOnline("P1", nil, state.ChannelWebsocket)
		src.set("P1", ws(3))

		report := tr.Validate("P1")
		if len(report.Issues) != 1 || report.Issues[0].Kind != presence.IssueCountMismatch {
			t.Fatalf("report = %+v", report)
		}
		info := tr.PresenceInfo("P1")
		if info.TotalConnections != 3 || info.ConnectionsByKind["websocket"] != 3 {
			t.Errorf("after repair = %+v", info)
		}
		if again := tr.Validate("P1"); !again.Consistent() {
			t.Errorf("second validation still reports %+v", again.Issues)
		}
	})

	t.Run("unknown player is consistent", func(t *testing.T) {
		tr := presence.NewTracker(newFakeSource(), newTestLogger())
		if report := tr.Validate("ghost"); !report.Consistent() || report.Online {
			t.Fatalf("report = %+v", report)
		}
	})
}

func TestCheckDoesNotRepair(t *testing.T) {
	src := newFakeSource()
	src.set("P1", ws(1))
	src.set("P2", ws(1))
	tr := presence.NewTracker(src, newTestLogger())
	tr.MarkOnline("P1", nil, state.ChannelWebsocket)
	tr.MarkOnline("P2", nil, state.ChannelWebsocket)
	src.set("P1", nil)
	src.set("P2", ws(2))

	if report := tr.Check("P1"); len(report.Issues) != 1 || report.Issues[0].Action != "" || !report.Online {
		t.Fatalf("Check(P1) = %+v", report)
	}
	if !tr.IsOnline("P1") {
		t.Fatal("Check removed the presence record")
	}
	if report := tr.Check("P2"); len(report.Issues) != 1 || report.Issues[0].Kind != presence.IssueCountMismatch {
		t.Fatalf("Check(P2) = %+v", report)
	}
	if got := tr.PresenceInfo("P2").TotalConnections; got != 1 {
		t.Fatalf("Check rewrote the count to %d", got)
	}
}

func TestStatistics(t *testing.T) {
	src := newFakeSource()
	tr := presence.NewTracker(src, newTestLogger())

	empty := tr.Statistics()
	if empty.TotalOnline != 0 || empty.AverageConnectionsPerPlayer != 0 {
		t.Fatalf("empty statistics = %+v", empty)
	}

	src.set("P1", ws(2))
	src.set("P2", map[state.ChannelKind]int{state.ChannelSSE: 1})
	tr.MarkOnline("P1", nil, state.ChannelWebsocket)
	tr.MarkOnline("P2", nil, state.ChannelSSE)

	stats := tr.Statistics()
	if stats.TotalOnline != 2 || stats.TotalConnections != 3 {
		t.Fatalf("statistics = %+v", stats)
	}
	if stats.AverageConnectionsPerPlayer != 1.5 {
		t.Errorf("average = %v, want 1.5", stats.AverageConnectionsPerPlayer)
	}
	if stats.ConnectionsByChannel["websocket"] != 2 || stats.ConnectionsByChannel["sse"] != 1 {
		t.Errorf("ConnectionsByChannel = %v", stats.ConnectionsByChannel)
	}
	if stats.PlayersByChannel["websocket"] != 1 || stats.PlayersByChannel["sse"] != 1 {
		t.Errorf("PlayersByChannel = %v", stats.PlayersByChannel)
	}
	if got := tr.OnlinePlayers(); !slices.Equal(got, []string{"P1", "P2"}) {
		t.Errorf("OnlinePlayers = %v", got)
	}
}
