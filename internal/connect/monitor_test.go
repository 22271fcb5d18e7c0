package connect_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arkanwolfshade/MythosMUD-sub022/internal/connect"
	"github.com/arkanwolfshade/MythosMUD-sub022/internal/presence"
	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/credentials"
	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/state"
)

func TestSweepHealthClosesUnresponsiveConnections(t *testing.T) {
	h := newHarness(t)
	good, _ := h.establish(t, "P1", "")
	bad, badTransport := h.establish(t, "P1", "")
	badTransport.pingErr = errors.New("pong never arrived")

	m := connect.NewMonitor(h.protocol, nil, connect.MonitorConfig{PingTimeout: time.Second}, newTestLogger())

	if reaped := m.SweepHealth(context.Background()); reaped != 0 {
		t.Fatalf("first sweep reaped %d", reaped)
	}
	rec, _ := h.registry.Get(bad)
	if rec.Healthy {
		t.Fatal("failed ping not recorded")
	}

	if reaped := m.SweepHealth(context.Background()); reaped != 1 {
		t.Fatalf("second sweep reaped %d, want 1", reaped)
	}
	if !errors.Is(badTransport.closeReason(), connect.ErrUnresponsive) {
		t.Errorf("close reason = %v", badTransport.closeReason())
	}
	if _, ok := h.registry.Get(bad); ok {
		t.Error("unresponsive connection still registered")
	}
	if rec, ok := h.registry.Get(good); !ok || !rec.Healthy {
		t.Errorf("healthy connection = %+v, %v", rec, ok)
	}
	if got := h.tracker.PresenceInfo("P1").TotalConnections; got != 1 {
		t.Errorf("TotalConnections = %d, want 1", got)
	}
}

func TestRevalidateCredentials(t *testing.T) {
	h := newHarness(t)
	verifier := credentials.NewJWTVerifier("secret")

	valid, err := verifier.Issue("P1", "", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	expired, _ := verifier.Issue("P2", "", -time.Minute)
	wrongPlayer, _ := verifier.Issue("P1", "", time.Hour)

	establishWithToken := func(playerID, token string) (string, *fakeTransport) {
		tr := newFakeTransport()
		id, ok := h.protocol.Establish(context.Background(), connect.Request{Transport: tr, PlayerID: playerID, Token: token})
		if !ok {
			t.Fatalf("Establish(%s) failed", playerID)
		}
		return id, tr
	}
	keep, _ := establishWithToken("P1", valid)
	drop, dropTransport := establishWithToken("P2", expired)
	stolen, _ := establishWithToken("P2", wrongPlayer)
	before, _ := h.registry.Get(keep)

	m := connect.NewMonitor(h.protocol, verifier, connect.MonitorConfig{}, newTestLogger())
	if n := m.RevalidateCredentials(context.Background()); n != 2 {
		t.Fatalf("revoked %d connections, want 2", n)
	}
	for _, id := range []string{drop, stolen} {
		if _, ok := h.registry.Get(id); ok {
			t.Errorf("connection %s with a bad credential survived", id)
		}
	}
	if !errors.Is(dropTransport.closeReason(), connect.ErrCredentialRevoked) {
		t.Errorf("close reason = %v", dropTransport.closeReason())
	}
	if h.tracker.IsOnline("P2") {
		t.Error("P2 still online")
	}
	after, ok := h.registry.Get(keep)
	if !ok || after.LastCredentialCheck.Before(before.LastCredentialCheck) {
		t.Errorf("valid connection = %+v, %v", after, ok)
	}
}

func TestRevalidateSkipsRecentlyChecked(t *testing.T) {
	h := newHarness(t)
	verifier := credentials.NewJWTVerifier("secret")
	h.establishToken(t, "P1", "not-a-jwt")

	m := connect.NewMonitor(h.protocol, verifier, connect.MonitorConfig{TokenRevalidateInterval: time.Hour}, newTestLogger())
	if n := m.RevalidateCredentials(context.Background()); n != 0 {
		t.Fatalf("revoked %d connections checked moments ago", n)
	}
}

func (h *harness) establishToken(t *testing.T, playerID, token string) string {
	t.Helper()
	id, ok := h.protocol.Establish(context.Background(), connect.Request{Transport: newFakeTransport(), PlayerID: playerID, Token: token})
	if !ok {
		t.Fatalf("Establish(%s) failed", playerID)
	}
	return id
}

func TestValidatePresenceReportsAndRepairs(t *testing.T) {
	h := newHarness(t)
	h.establish(t, "P1", "")

	// A connection registered outside the establishment path has no presence.
	orphan := h.registry.Register("P2", newFakeTransport())
	h.registry.SetMetadata(orphan, state.ConnectionRecord{Type: state.ChannelWebsocket, Healthy: true})
	// A presence record whose connections are gone.
	h.tracker.MarkOnline("ghost", nil, state.ChannelWebsocket)

	m := connect.NewMonitor(h.protocol, nil, connect.MonitorConfig{}, newTestLogger())
	reports := m.ValidatePresence(context.Background())

	kinds := make(map[string]presence.IssueKind)
	for _, r := range reports {
		if len(r.Issues) != 1 {
			t.Fatalf("report = %+v", r)
		}
		kinds[r.PlayerID] = r.Issues[0].Kind
	}
	if len(kinds) != 2 {
		t.Fatalf("reports = %+v", reports)
	}
	if kinds["P2"] != presence.IssueConnectedButOffline {
		t.Errorf("P2 issue = %q", kinds["P2"])
	}
	if kinds["ghost"] != presence.IssueOnlineWithoutConnections {
		t.Errorf("ghost issue = %q", kinds["ghost"])
	}
	if h.tracker.IsOnline("ghost") {
		t.Error("ghost presence not repaired")
	}
	if h.tracker.IsOnline("P2") {
		t.Error("validator marked P2 online")
	}
}

func TestMonitorRunStopsWithContext(t *testing.T) {
	h := newHarness(t)
	m := connect.NewMonitor(h.protocol, nil, connect.MonitorConfig{
		SweepInterval:    5 * time.Millisecond,
		ValidateInterval: 5 * time.Millisecond,
	}, newTestLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after the context ended")
	}
}
