package connect

import (
	"context"
	"time"

	"github.com/arkanwolfshade/MythosMUD-sub022/internal/presence"
	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/state"
	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/world"
)

// DeadSweeper finds dead connections without the mutation lock and removes
// them under it.
type DeadSweeper interface {
	FindDead(ctx context.Context, playerID string) []string
	Cleanup(deadIDs []string, playerID string) []string
}

// PresenceTracker is the presence view kept in step with the registry.
type PresenceTracker interface {
	MarkOnline(playerID string, player *world.Player, kind state.ChannelKind) bool
	IsOnline(playerID string) bool
	ConnectionAdded(playerID string, kind state.ChannelKind) bool
	ConnectionRemoved(playerID string)
	OnlinePlayers() []string
	Validate(playerID string) presence.ValidationReport
}

// RoomSubscriber subscribes a player to the events of their room.
type RoomSubscriber interface {
	Subscribe(ctx context.Context, playerID, roomID string) error
	UnsubscribeAll(playerID string)
}

// Notifier tells listeners that an already-online player opened another
// connection.
type Notifier interface {
	BroadcastConnectionAdded(ctx context.Context, playerID string, player *world.Player) error
}

type Metrics interface {
	RecordEstablishmentLatency(kind state.ChannelKind, d time.Duration)
	EstablishmentFailed(step string)
	ConnectionOpened()
	ConnectionClosed()
	ConnectionsReaped(n int)
}

// ── No-op implementations ────────────────────────────────────────────

type NopNotifier struct{}

func (NopNotifier) BroadcastConnectionAdded(context.Context, string, *world.Player) error { return nil }

type NopMetrics struct{}

func (NopMetrics) RecordEstablishmentLatency(state.ChannelKind, time.Duration) {}
func (NopMetrics) EstablishmentFailed(string) {}
func (NopMetrics) ConnectionOpened() {}
func (NopMetrics) ConnectionClosed() {}
func (NopMetrics) ConnectionsReaped(int) {}

type NopRoomSubscriber struct{}

func (NopRoomSubscriber) Subscribe(context.Context, string, string) error { return nil }
func (NopRoomSubscriber) UnsubscribeAll(string) {}

// RoomSubscriptions adapts the registry's room membership to RoomSubscriber.
func RoomSubscriptions(subs state.RoomSubscriptions) RoomSubscriber {
	return roomSubscriptions{subs: subs}
}

type roomSubscriptions struct {
	subs state.RoomSubscriptions
}

func (r roomSubscriptions) Subscribe(_ context.Context, playerID, roomID string) error {
	r.subs.Join(playerID, roomID)
	return nil
}

func (r roomSubscriptions) UnsubscribeAll(playerID string) {
	r.subs.LeaveAll(playerID)
}
