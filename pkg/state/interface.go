package state

import "github.com/arkanwolfshade/MythosMUD-sub022/pkg/transport"

// Registry owns the connection-id -> record map and the player -> connection
// set map. Both are guarded by one mutation lock; any removal or rewrite of a
// player's connection list happens under it.
type Registry interface {
	// --- Connection Lifecycle ---
	Register(playerID string, handle transport.Handle) string
	SetMetadata(connID string, record ConnectionRecord) bool
	Remove(connID string)
	RemoveConnection(playerID, connID string) ([]string, bool)
	Reap(playerID string, deadIDs []string) []string

	// --- Lookups ---
	Get(connID string) (ConnectionRecord, bool)
	Handle(connID string) (transport.Handle, bool)
	Handles(playerID string) map[string]transport.Handle
	ConnectionsOf(playerID string) []string
	ConnectionCount(playerID string) int
	ConnectionKinds(playerID string) map[ChannelKind]int
	Players() []string
	Records() []ConnectionRecord
	OldestConnection(playerID string) (ConnectionRecord, bool)

	// --- Metadata updates ---
	MarkHealth(connID string, healthy bool) bool
	TouchLastSeen(connID string) bool
	MarkCredentialChecked(connID string) bool
}

// Sessions maps client-declared session ids to connection ids and each player
// to their active session.
type Sessions interface {
	Bind(sessionID, connID, playerID string)
	Unbind(connIDs ...string)
	ConnectionsOf(sessionID string) []string
	SessionOf(playerID string) (string, bool)
	Owner(sessionID string) (string, bool)
}

// RoomSubscriptions tracks which players receive a room's events.
type RoomSubscriptions interface {
	Join(playerID, roomID string)
	Leave(playerID, roomID string)
	LeaveAll(playerID string) []string
	RoomMembers(roomID string) []string
	RoomsOf(playerID string) []string
}
