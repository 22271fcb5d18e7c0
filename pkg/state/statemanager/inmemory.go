package statemanager

import (
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/state"
	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/transport"
)

type entry struct {
	handle transport.Handle
	record state.ConnectionRecord
}

// InMemoryManager is the authoritative connection registry. conns and players
// share mu, the mutation lock. Room subscriptions are independent and use
// roomMu.
type InMemoryManager struct {
	mu      sync.RWMutex
	conns   map[string]*entry
	players map[string][]string

	roomMu      sync.RWMutex
	rooms       map[string]map[string]struct{}
	playerRooms map[string]map[string]struct{}

	now    func() time.Time
	logger *slog.Logger
}

type Option func(*InMemoryManager)

// WithClock overrides the time source used for metadata updates.
func WithClock(now func() time.Time) Option {
	return func(m *InMemoryManager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewInMemoryManager(logger *slog.Logger, opts ...Option) *InMemoryManager {
	m := &InMemoryManager{
		conns:       make(map[string]*entry),
		players:     make(map[string][]string),
		rooms:       make(map[string]map[string]struct{}),
		playerRooms: make(map[string]map[string]struct{}),
		now:         time.Now,
		logger:      logger.With(slog.String("component", "state_manager_inmemory")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// compile-time checks.
var (
	_ state.Registry          = (*InMemoryManager)(nil)
	_ state.RoomSubscriptions = (*InMemoryManager)(nil)
)

// --- Connection Lifecycle ---

// Register allocates a connection id, stores the handle and appends the id to
// the player's connection set.
func (m *InMemoryManager) Register(playerID string, handle transport.Handle) string {
	connID := uuid.NewString()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.conns[connID] = &entry{
		handle: handle,
		record: state.ConnectionRecord{ConnectionID: connID, PlayerID: playerID},
	}
	m.players[playerID] = append(m.players[playerID], connID)
	m.logger.Debug("Connection registered", slog.String("connID", connID), slog.String("playerID", playerID))
	return connID
}

// SetMetadata stores the record for a registered connection. The id and
// player fields always come from the registration.
func (m *InMemoryManager) SetMetadata(connID string, record state.ConnectionRecord) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.conns[connID]
	if !ok {
		return false
	}
	record.ConnectionID = connID
	record.PlayerID = e.record.PlayerID
	e.record = record
	return true
}

// Remove deletes the connection and its metadata. The caller is responsible
// for the owning player's connection set.
func (m *InMemoryManager) Remove(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(connID)
}

func (m *InMemoryManager) removeLocked(connID string) bool {
	if _, ok := m.conns[connID]; !ok {
		return false
	}
	delete(m.conns, connID)
	m.logger.Debug("Connection deregistered", slog.String("connID", connID))
	return true
}

// RemoveConnection removes one connection and detaches it from the player's
// set. It returns the player's remaining connection ids and whether this call
// removed the connection.
func (m *InMemoryManager) RemoveConnection(playerID, connID string) ([]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := m.removeLocked(connID)
	return m.rewriteLocked(playerID, map[string]struct{}{connID: {}}), removed
}

// Reap removes deadIDs that still belong to playerID and rewrites the
// player's list, dropping the player entry when nothing remains. The whole
// operation holds the mutation lock. An empty deadIDs never mutates state.
func (m *InMemoryManager) Reap(playerID string, deadIDs []string) []string {
	if len(deadIDs) == 0 {
		return m.ConnectionsOf(playerID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	drop := make(map[string]struct{}, len(deadIDs))
	for _, id := range deadIDs {
		e, ok := m.conns[id]
		if !ok {
			// Already gone; still make sure the player's list forgets it.
			drop[id] = struct{}{}
			continue
		}
		if e.record.PlayerID != playerID {
			m.logger.Warn("Refusing to reap connection owned by another player",
				slog.String("connID", id),
				slog.String("playerID", playerID),
				slog.String("ownerID", e.record.PlayerID),
			)
			continue
		}
		m.removeLocked(id)
		drop[id] = struct{}{}
	}
	remaining := m.rewriteLocked(playerID, drop)
	m.logger.Debug("Reaped dead connections",
		slog.String("playerID", playerID),
		slog.Int("reaped", len(drop)),
		slog.Int("remaining", len(remaining)),
	)
	return remaining
}

// rewriteLocked recomputes a player's connection list without the dropped ids
// and without ids that no longer have a record.
func (m *InMemoryManager) rewriteLocked(playerID string, drop map[string]struct{}) []string {
	current, ok := m.players[playerID]
	if !ok {
		return nil
	}
	kept := make([]string, 0, len(current))
	for _, id := range current {
		if _, dead := drop[id]; dead {
			continue
		}
		if _, live := m.conns[id]; !live {
			continue
		}
		kept = append(kept, id)
	}
	if len(kept) == 0 {
		delete(m.players, playerID)
		return nil
	}
	m.players[playerID] = kept
	return slices.Clone(kept)
}

// --- Lookups ---

func (m *InMemoryManager) Get(connID string) (state.ConnectionRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.conns[connID]
	if !ok {
		return state.ConnectionRecord{}, false
	}
	return e.record, true
}

func (m *InMemoryManager) Handle(connID string) (transport.Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.conns[connID]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

// Handles returns a point-in-time copy of the player's connection handles.
// The result may be stale by the time the caller uses it.
func (m *InMemoryManager) Handles(playerID string) map[string]transport.Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.players[playerID]
	out := make(map[string]transport.Handle, len(ids))
	for _, id := range ids {
		if e, ok := m.conns[id]; ok {
			out[id] = e.handle
		}
	}
	return out
}

func (m *InMemoryManager) ConnectionsOf(playerID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids, ok := m.players[playerID]
	if !ok {
		return nil
	}
	return slices.Clone(ids)
}

func (m *InMemoryManager) ConnectionCount(playerID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.players[playerID])
}

// ConnectionKinds counts the player's connections per channel kind.
// Connections whose metadata has not been stored yet count under "".
func (m *InMemoryManager) ConnectionKinds(playerID string) map[state.ChannelKind]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.players[playerID]
	out := make(map[state.ChannelKind]int, len(ids))
	for _, id := range ids {
		if e, ok := m.conns[id]; ok {
			out[e.record.Type]++
		}
	}
	return out
}

// Players lists every player with at least one connection, sorted.
func (m *InMemoryManager) Players() []string {
	m.mu.RLock()
	out := make([]string, 0, len(m.players))
	for id := range m.players {
		out = append(out, id)
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (m *InMemoryManager) Records() []state.ConnectionRecord {
	m.mu.RLock()
	out := make([]state.ConnectionRecord, 0, len(m.conns))
	for _, e := range m.conns {
		out = append(out, e.record)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID < out[j].ConnectionID })
	return out
}

func (m *InMemoryManager) OldestConnection(playerID string) (state.ConnectionRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var oldest state.ConnectionRecord
	found := false
	for _, id := range m.players[playerID] {
		e, ok := m.conns[id]
		if !ok {
			continue
		}
		if !found || e.record.EstablishedAt.Before(oldest.EstablishedAt) {
			oldest = e.record
			found = true
		}
	}
	return oldest, found
}

// --- Metadata updates ---

func (m *InMemoryManager) MarkHealth(connID string, healthy bool) bool {
	return m.update(connID, func(r *state.ConnectionRecord) {
		r.Healthy = healthy
	})
}

func (m *InMemoryManager) TouchLastSeen(connID string) bool {
	now := m.now()
	return m.update(connID, func(r *state.ConnectionRecord) {
		r.LastSeen = now
	})
}

func (m *InMemoryManager) MarkCredentialChecked(connID string) bool {
	now := m.now()
	return m.update(connID, func(r *state.ConnectionRecord) {
		r.LastCredentialCheck = now
	})
}

func (m *InMemoryManager) update(connID string, fn func(*state.ConnectionRecord)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.conns[connID]
	if !ok {
		return false
	}
	fn(&e.record)
	return true
}
