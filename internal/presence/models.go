package presence

import (
	"time"

	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/state"
)

// Record is the presence state of one online player. TotalConnections and
// Connections mirror the player's live connection set; every mutation
// re-reads them from the connection source.
type Record struct {
	Connections      map[state.ChannelKind]int
	TotalConnections int
	ConnectedAt      time.Time
	LastSeen         time.Time
	PlayerName       string
	CurrentRoomID    string
	Level            int
}

// Snapshot is a copy of a player's presence. Unknown players produce an
// offline snapshot with zero values.
type Snapshot struct {
	PlayerID          string         `json:"player_id"`
	Online            bool           `json:"is_online"`
	ConnectionTypes   []string       `json:"connection_types"`
	ConnectionsByKind map[string]int `json:"connections_by_kind"`
	TotalConnections  int            `json:"total_connections"`
	ConnectedAt       time.Time      `json:"connected_at"`
	LastSeen          time.Time      `json:"last_seen"`
	PlayerName        string         `json:"player_name,omitempty"`
	CurrentRoomID     string         `json:"current_room_id,omitempty"`
	Level             int            `json:"level,omitempty"`
}

type IssueKind string

const (
	IssueOnlineWithoutConnections IssueKind = "online_without_connections"
	IssueConnectedButOffline      IssueKind = "connected_but_offline"
	IssueCountMismatch            IssueKind = "connection_count_mismatch"
)

// Issue is one inconsistency found by Validate. Action is empty when
// nothing was repaired.
type Issue struct {
	Kind        IssueKind `json:"kind"`
	Description string    `json:"description"`
	Action      string    `json:"action,omitempty"`
}

type ValidationReport struct {
	PlayerID        string  `json:"player_id"`
	Online          bool    `json:"is_online"`
	LiveConnections int     `json:"live_connections"`
	Issues          []Issue `json:"issues"`
}

func (r ValidationReport) Consistent() bool { return len(r.Issues) == 0 }

type Statistics struct {
	TotalOnline      int `json:"total_online"`
	TotalConnections int `json:"total_connections"`
	// ConnectionsByChannel counts live connections per channel kind.
	ConnectionsByChannel map[string]int `json:"connections_by_channel"`
	// PlayersByChannel counts online players holding at least one connection
	// of each kind.
	PlayersByChannel            map[string]int `json:"players_by_channel"`
	AverageConnectionsPerPlayer float64        `json:"average_connections_per_player"`
}
