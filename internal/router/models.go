package router

import (
	"encoding/json"

	"github.com/arkanwolfshade/MythosMUD-sub022/internal/occupants"
)

// ClientMessage is the envelope used in both directions.
type ClientMessage struct {
	Target  string          `json:"target,omitempty"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	EventPing            = "ping"
	EventPong            = "pong"
	EventPresence        = "presence"
	EventOccupants       = "occupants"
	EventStats           = "stats"
	EventError           = "error"
	EventConnectionAdded = "presence.connection_added"
)

type errorPayload struct {
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

type occupantsPayload struct {
	RoomID    string               `json:"room_id"`
	Occupants []occupants.Occupant `json:"occupants"`
	Players   []string             `json:"players"`
	NPCs      []string             `json:"npcs"`
}

type connectionAddedPayload struct {
	PlayerID    string `json:"player_id"`
	PlayerName  string `json:"player_name,omitempty"`
	Connections int    `json:"connections"`
}
