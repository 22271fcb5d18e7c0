// Package presence keeps the "is this player online" view derived from the
// connection registry.
package presence

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/state"
	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/world"
)

// ConnectionSource reports a player's live connections counted per channel
// kind. Connections without a kind yet are counted under "".
type ConnectionSource interface {
	ConnectionKinds(playerID string) map[state.ChannelKind]int
}

// Tracker holds one Record per online player. Mutations read the live
// connection set from the source while holding the tracker lock, so a stale
// caller cannot undo a newer connection.
type Tracker struct {
	mu      sync.RWMutex
	players map[string]*Record

	source ConnectionSource
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

func NewTracker(source ConnectionSource, logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		players: make(map[string]*Record),
		source:  source,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "presence_tracker")),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// live returns the player's live connection count and the typed part of it.
func (t *Tracker) live(playerID string) (int, map[state.ChannelKind]int) {
	byKind := make(map[state.ChannelKind]int)
	if t.source == nil {
		return 0, byKind
	}
	total := 0
	for kind, n := range t.source.ConnectionKinds(playerID) {
		total += n
		if kind != "" && n > 0 {
			byKind[kind] = n
		}
	}
	return total, byKind
}

// syncLocked copies the live connection set into rec. kind is counted once
// when the source knows nothing about the player, which only happens in
// standalone use without a registry.
func (t *Tracker) syncLocked(rec *Record, playerID string, kind state.ChannelKind) {
	total, byKind := t.live(playerID)
	if total > 0 {
		rec.TotalConnections = total
		rec.Connections = byKind
		return
	}
	rec.TotalConnections++
	if kind != "" {
		rec.Connections[kind]++
	}
}

// refreshLocked copies the player's display fields. The entity comes from
// the store at establishment time and is newer than anything cached.
func refreshLocked(rec *Record, player *world.Player) {
	if player == nil {
		return
	}
	if player.Name != "" {
		rec.PlayerName = player.Name
	}
	if player.CurrentRoomID != "" {
		rec.CurrentRoomID = player.CurrentRoomID
	}
	if player.Level != 0 {
		rec.Level = player.Level
	}
}

// MarkOnline creates the presence record for playerID and reports whether it
// did. For a player already online it refreshes the display fields from
// player, which may be nil in standalone mode.
func (t *Tracker) MarkOnline(playerID string, player *world.Player, kind state.ChannelKind) bool {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, existed := t.players[playerID]
	if !existed {
		rec = &Record{
			Connections: make(map[state.ChannelKind]int),
			ConnectedAt: now,
			LastSeen:    now,
		}
		t.syncLocked(rec, playerID, kind)
		t.players[playerID] = rec
		t.logger.Info("Player online", slog.String("playerID", playerID), slog.String("kind", string(kind)))
	}
	refreshLocked(rec, player)
	return !existed
}

func (t *Tracker) IsOnline(playerID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.players[playerID]
	return ok
}

// ConnectionAdded records an extra connection for an online player. It
// reports false when the player is not online.
func (t *Tracker) ConnectionAdded(playerID string, kind state.ChannelKind) bool {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.players[playerID]
	if !ok {
		return false
	}
	t.syncLocked(rec, playerID, kind)
	rec.LastSeen = now
	return true
}

// ConnectionRemoved resyncs the record after a connection went away and
// drops it once the player has no live connections left.
func (t *Tracker) ConnectionRemoved(playerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.players[playerID]
	if !ok {
		return
	}
	total, byKind := t.live(playerID)
	if total == 0 {
		delete(t.players, playerID)
		t.logger.Info("Player offline", slog.String("playerID", playerID))
		return
	}
	rec.TotalConnections = total
	rec.Connections = byKind
}

// MarkOffline drops the record regardless of live connections.
func (t *Tracker) MarkOffline(playerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.players, playerID)
}

// Touch refreshes the player's last-seen time.
func (t *Tracker) Touch(playerID string) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.players[playerID]; ok {
		rec.LastSeen = now
	}
}

// OnlinePlayers lists online player ids, sorted.
func (t *Tracker) OnlinePlayers() []string {
	t.mu.RLock()
	out := make([]string, 0, len(t.players))
	for id := range t.players {
		out = append(out, id)
	}
	t.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (t *Tracker) PresenceInfo(playerID string) Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.players[playerID]
	if !ok {
		return Snapshot{PlayerID: playerID, ConnectionTypes: []string{}, ConnectionsByKind: map[string]int{}}
	}
	types := make([]string, 0, len(rec.Connections))
	byKind := make(map[string]int, len(rec.Connections))
	for k, n := range rec.Connections {
		types = append(types, string(k))
		byKind[string(k)] = n
	}
	sort.Strings(types)
	return Snapshot{
		PlayerID:          playerID,
		Online:            true,
		ConnectionTypes:   types,
		ConnectionsByKind: byKind,
		TotalConnections:  rec.TotalConnections,
		ConnectedAt:       rec.ConnectedAt,
		LastSeen:          rec.LastSeen,
		PlayerName:        rec.PlayerName,
		CurrentRoomID:     rec.CurrentRoomID,
		Level:             rec.Level,
	}
}

// Validate compares the presence record with the live connection set.
// Online-without-connections and count mismatches are repaired in place;
// live connections without a presence record are only reported, since
// rebuilding the record needs establishment-time data.
func (t *Tracker) Validate(playerID string) ValidationReport {
	return t.validate(playerID, true)
}

// Check reports the same issues as Validate without repairing anything.
func (t *Tracker) Check(playerID string) ValidationReport {
	return t.validate(playerID, false)
}

func (t *Tracker) validate(playerID string, repair bool) ValidationReport {
	if repair {
		t.mu.Lock()
		defer t.mu.Unlock()
	} else {
		t.mu.RLock()
		defer t.mu.RUnlock()
	}

	live, byKind := t.live(playerID)
	report := ValidationReport{PlayerID: playerID, LiveConnections: live, Issues: []Issue{}}
	rec, online := t.players[playerID]
	report.Online = online

	switch {
	case online && live == 0:
		issue := Issue{
			Kind:        IssueOnlineWithoutConnections,
			Description: "player marked online with no live connections",
		}
		if repair {
			delete(t.players, playerID)
			report.Online = false
			issue.Action = "removed presence record"
		}
		report.Issues = append(report.Issues, issue)
	case !online && live > 0:
		report.Issues = append(report.Issues, Issue{
			Kind:        IssueConnectedButOffline,
			Description: fmt.Sprintf("player has %d live connections but is not marked online", live),
		})
	case online && rec.TotalConnections != live:
		issue := Issue{
			Kind:        IssueCountMismatch,
			Description: fmt.Sprintf("recorded %d connections, found %d", rec.TotalConnections, live),
		}
		if repair {
			rec.TotalConnections = live
			rec.Connections = byKind
			issue.Action = fmt.Sprintf("set connection count to %d", live)
		}
		report.Issues = append(report.Issues, issue)
	}

	if repair {
		for _, issue := range report.Issues {
			t.logger.Warn("Presence inconsistency",
				slog.String("playerID", playerID),
				slog.String("kind", string(issue.Kind)),
				slog.String("action", issue.Action),
			)
		}
	}
	return report
}

// Statistics aggregates the presence map in a single pass.
func (t *Tracker) Statistics() Statistics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := Statistics{
		ConnectionsByChannel: make(map[string]int),
		PlayersByChannel:     make(map[string]int),
	}
	for _, rec := range t.players {
		stats.TotalOnline++
		stats.TotalConnections += rec.TotalConnections
		for k, n := range rec.Connections {
			stats.ConnectionsByChannel[string(k)] += n
			stats.PlayersByChannel[string(k)]++
		}
	}
	if stats.TotalOnline > 0 {
		stats.AverageConnectionsPerPlayer = float64(stats.TotalConnections) / float64(stats.TotalOnline)
	}
	return stats
}
