// Package occupants lists the players and NPCs present in a room.
package occupants

import (
	"context"
	"log/slog"
	"slices"

	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/world"
)

type Resolver struct {
	store     world.PlayerStore
	npcs      NPCLocator
	formatter *Formatter
	logger    *slog.Logger
}

// NewResolver builds a resolver. store and npcs may be nil; without a store
// every query returns an empty list.
func NewResolver(store world.PlayerStore, npcs NPCLocator, formatter *Formatter, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:     store,
		npcs:      npcs,
		formatter: formatter,
		logger:    logger.With(slog.String("component", "room_occupants")),
	}
}

// OccupantsOf lists the room's players followed by its NPCs. include names a
// player to list even if the room's snapshot has not caught up with them
// yet. Lookup failures degrade to fewer results, never to an error.
func (r *Resolver) OccupantsOf(ctx context.Context, roomID, include string) []Occupant {
	out := []Occupant{}
	if r.store == nil {
		return out
	}
	room, err := r.store.GetRoom(ctx, roomID)
	if err != nil {
		r.logger.Warn("Room lookup failed", slog.String("roomID", roomID), slog.Any("error", err))
		return out
	}
	if room == nil {
		return out
	}

	playerIDs := slices.Clone(room.PlayerIDs)
	if include != "" && !slices.Contains(playerIDs, include) {
		playerIDs = append(playerIDs, include)
	}
	for _, id := range playerIDs {
		p, err := r.store.GetPlayer(ctx, id)
		if err != nil {
			r.logger.Warn("Player lookup failed", slog.String("playerID", id), slog.Any("error", err))
			continue
		}
		if p == nil || !r.formatter.ValidName(p.Name, roomID) {
			continue
		}
		out = append(out, Occupant{Kind: KindPlayer, ID: id, Name: p.Name})
	}

	if r.npcs == nil {
		return out
	}
	ids, err := r.npcs.NPCIDsIn(ctx, roomID, room)
	if err != nil {
		r.logger.Warn("NPC lookup failed", slog.String("roomID", roomID), slog.Any("error", err))
		return out
	}
	names, err := r.npcs.ResolveNPCNames(ctx, ids)
	if err != nil {
		r.logger.Warn("NPC name resolution failed", slog.String("roomID", roomID), slog.Any("error", err))
		return out
	}
	for _, n := range names {
		if !r.formatter.ValidName(n.Name, roomID) {
			continue
		}
		out = append(out, Occupant{Kind: KindNPC, ID: n.ID, Name: n.Name})
	}
	return out
}
