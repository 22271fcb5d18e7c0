package occupants

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/rooms"
	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/world"
)

// NPCLocator finds NPCs in a room and resolves their display names.
type NPCLocator interface {
	NPCIDsIn(ctx context.Context, roomID string, room *world.Room) ([]string, error)
	ResolveNPCNames(ctx context.Context, ids []string) ([]NPCName, error)
}

// InstanceLocator answers NPC queries from the live NPC instances.
type InstanceLocator struct {
	source   world.NPCSource
	resolver *rooms.Resolver
	logger   *slog.Logger
}

var _ NPCLocator = (*InstanceLocator)(nil)

func NewInstanceLocator(source world.NPCSource, resolver *rooms.Resolver, logger *slog.Logger) *InstanceLocator {
	return &InstanceLocator{
		source:   source,
		resolver: resolver,
		logger:   logger.With(slog.String("component", "npc_locator")),
	}
}

// NPCIDsIn returns the NPCs whose current or canonical room matches roomID
// or its canonical form.
func (l *InstanceLocator) NPCIDsIn(ctx context.Context, roomID string, room *world.Room) ([]string, error) {
	if l.source == nil {
		return nil, nil
	}
	instances, err := l.source.NPCInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing npc instances: %w", err)
	}

	canonical := l.resolver.Canonical(ctx, roomID)
	if room != nil && room.ID != "" {
		canonical = room.ID
	}

	var ids []string
	for _, npc := range instances {
		if rooms.Matches(npc.CurrentRoomID, npc.CanonicalRoomID, roomID, canonical) {
			ids = append(ids, npc.ID)
		}
	}
	return ids, nil
}

func (l *InstanceLocator) ResolveNPCNames(ctx context.Context, ids []string) ([]NPCName, error) {
	if l.source == nil || len(ids) == 0 {
		return nil, nil
	}
	instances, err := l.source.NPCInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing npc instances: %w", err)
	}
	byID := make(map[string]string, len(instances))
	for _, npc := range instances {
		byID[npc.ID] = npc.Name
	}

	out := make([]NPCName, 0, len(ids))
	for _, id := range ids {
		name, ok := byID[id]
		if !ok {
			l.logger.Debug("NPC disappeared before name resolution", slog.String("npcID", id))
			continue
		}
		out = append(out, NPCName{ID: id, Name: name})
	}
	return out, nil
}
