// Package world holds the persistence-facing entity types and a small
// in-memory world store loaded from YAML.
package world

import "context"

type Player struct {
	ID            string
	Name          string
	CurrentRoomID string
	Level         int
}

// Room is a room as seen by the store. PlayerIDs is the store's own snapshot
// of who is inside and may lag behind a move that just happened.
type Room struct {
	ID        string
	Aliases   []string
	PlayerIDs []string
}

// NPCInstance is a live NPC. CurrentRoomID and CanonicalRoomID can diverge
// while the NPC is moving.
type NPCInstance struct {
	ID              string
	Name            string
	CurrentRoomID   string
	CanonicalRoomID string
}

// PlayerStore is the persistence collaborator. Lookups return (nil, nil)
// when the entity does not exist.
type PlayerStore interface {
	GetPlayer(ctx context.Context, playerID string) (*Player, error)
	GetPlayerByName(ctx context.Context, name string) (*Player, error)
	GetRoom(ctx context.Context, roomID string) (*Room, error)
}

// NPCSource lists the NPC instances currently alive.
type NPCSource interface {
	NPCInstances(ctx context.Context) ([]NPCInstance, error)
}
