package statemanager

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/state"
)

// SessionRegistry maps client session ids to connection ids. It has its own
// lock; bindings are append/overwrite with last-writer-wins only where a
// binding is unclaimed.
type SessionRegistry struct {
	mu            sync.RWMutex
	sessions      map[string][]string
	owners        map[string]string
	playerSession map[string]string
	connSession   map[string]string

	logger *slog.Logger
}

var _ state.Sessions = (*SessionRegistry)(nil)

func NewSessionRegistry(logger *slog.Logger) *SessionRegistry {
	return &SessionRegistry{
		sessions:      make(map[string][]string),
		owners:        make(map[string]string),
		playerSession: make(map[string]string),
		connSession:   make(map[string]string),
		logger:        logger.With(slog.String("component", "session_registry")),
	}
}

// Bind appends connID to the session. The player's session pointer is only
// set when the player has none or already points at sessionID. A session
// claimed by another player is tolerated: the connection is still recorded
// and ownership stays with the first player.
func (s *SessionRegistry) Bind(sessionID, connID, playerID string) {
	if sessionID == "" || connID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !slices.Contains(s.sessions[sessionID], connID) {
		s.sessions[sessionID] = append(s.sessions[sessionID], connID)
	}
	s.connSession[connID] = sessionID

	owner, claimed := s.owners[sessionID]
	switch {
	case !claimed:
		s.owners[sessionID] = playerID
	case owner != playerID:
		s.logger.Warn("Session already claimed by another player",
			slog.String("sessionID", sessionID),
			slog.String("ownerID", owner),
			slog.String("playerID", playerID),
		)
	}

	if current, ok := s.playerSession[playerID]; !ok || current == sessionID {
		s.playerSession[playerID] = sessionID
	}
}

// Unbind forgets the given connections. Sessions left without connections are
// dropped together with their ownership and player pointers.
func (s *SessionRegistry) Unbind(connIDs ...string) {
	if len(connIDs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, connID := range connIDs {
		sessionID, ok := s.connSession[connID]
		if !ok {
			continue
		}
		delete(s.connSession, connID)
		remaining := slices.DeleteFunc(s.sessions[sessionID], func(id string) bool { return id == connID })
		if len(remaining) > 0 {
			s.sessions[sessionID] = remaining
			continue
		}
		delete(s.sessions, sessionID)
		delete(s.owners, sessionID)
		for playerID, sid := range s.playerSession {
			if sid == sessionID {
				delete(s.playerSession, playerID)
			}
		}
		s.logger.Debug("Session released", slog.String("sessionID", sessionID))
	}
}

func (s *SessionRegistry) ConnectionsOf(sessionID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	return slices.Clone(ids)
}

func (s *SessionRegistry) SessionOf(playerID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.playerSession[playerID]
	return id, ok
}

func (s *SessionRegistry) Owner(sessionID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.owners[sessionID]
	return id, ok
}
