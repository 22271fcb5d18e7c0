package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/state"
	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/transport"
	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/world"
)

// Broadcaster sends server events to a player's own connections and to the
// players subscribed to the same rooms.
type Broadcaster struct {
	logger   *slog.Logger
	registry state.Registry
	rooms    state.RoomSubscriptions
}

func NewBroadcaster(logger *slog.Logger, registry state.Registry, rooms state.RoomSubscriptions) *Broadcaster {
	return &Broadcaster{
		logger:   logger.With(slog.String("component", "broadcaster")),
		registry: registry,
		rooms:    rooms,
	}
}

// BroadcastConnectionAdded announces that playerID opened another connection.
func (b *Broadcaster) BroadcastConnectionAdded(_ context.Context, playerID string, player *world.Player) error {
	payload := connectionAddedPayload{
		PlayerID:    playerID,
		Connections: b.registry.ConnectionCount(playerID),
	}
	if player != nil {
		payload.PlayerName = player.Name
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal connection added payload: %w", err)
	}
	msg, err := json.Marshal(ClientMessage{Event: EventConnectionAdded, Target: playerID, Payload: data})
	if err != nil {
		return fmt.Errorf("marshal connection added message: %w", err)
	}

	sent := b.send(b.recipients(playerID), msg)
	b.logger.Debug("Broadcast connection added", slog.String("playerID", playerID), slog.Int("recipients", sent))
	return nil
}

// recipients collects, without duplicates, the player's own connections and
// those of everyone sharing one of their rooms.
func (b *Broadcaster) recipients(playerID string) map[string]transport.Handle {
	targets := b.registry.Handles(playerID)
	for _, roomID := range b.rooms.RoomsOf(playerID) {
		for _, member := range b.rooms.RoomMembers(roomID) {
			if member == playerID {
				continue
			}
			for id, h := range b.registry.Handles(member) {
				targets[id] = h
			}
		}
	}
	return targets
}

func (b *Broadcaster) send(targets map[string]transport.Handle, msg []byte) int {
	for _, h := range targets {
		h.Send(msg)
	}
	return len(targets)
}
