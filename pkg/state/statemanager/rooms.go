package statemanager

import (
	"log/slog"
	"sort"
)

// --- Room subscription management ---

// Join subscribes a player to a room's events, creating the room entry on
// first use.
func (m *InMemoryManager) Join(playerID, roomID string) {
	if playerID == "" || roomID == "" {
		return
	}
	m.roomMu.Lock()
	defer m.roomMu.Unlock()

	members, ok := m.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		m.rooms[roomID] = members
	}
	members[playerID] = struct{}{}

	rooms, ok := m.playerRooms[playerID]
	if !ok {
		rooms = make(map[string]struct{})
		m.playerRooms[playerID] = rooms
	}
	rooms[roomID] = struct{}{}
	m.logger.Debug("Player joined room", slog.String("playerID", playerID), slog.String("roomID", roomID))
}

func (m *InMemoryManager) Leave(playerID, roomID string) {
	m.roomMu.Lock()
	defer m.roomMu.Unlock()
	m.leaveLocked(playerID, roomID)
}

// LeaveAll drops every subscription of the player and returns the rooms left.
func (m *InMemoryManager) LeaveAll(playerID string) []string {
	m.roomMu.Lock()
	defer m.roomMu.Unlock()

	left := make([]string, 0, len(m.playerRooms[playerID]))
	for roomID := range m.playerRooms[playerID] {
		left = append(left, roomID)
	}
	for _, roomID := range left {
		m.leaveLocked(playerID, roomID)
	}
	sort.Strings(left)
	return left
}

func (m *InMemoryManager) leaveLocked(playerID, roomID string) {
	members, ok := m.rooms[roomID]
	if !ok {
		return
	}
	delete(members, playerID)
	if len(members) == 0 {
		delete(m.rooms, roomID)
		m.logger.Debug("Removed empty room", slog.String("roomID", roomID))
	}
	if rooms, ok := m.playerRooms[playerID]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(m.playerRooms, playerID)
		}
	}
	m.logger.Debug("Player left room", slog.String("playerID", playerID), slog.String("roomID", roomID))
}

func (m *InMemoryManager) RoomMembers(roomID string) []string {
	m.roomMu.RLock()
	out := make([]string, 0, len(m.rooms[roomID]))
	for id := range m.rooms[roomID] {
		out = append(out, id)
	}
	m.roomMu.RUnlock()
	sort.Strings(out)
	return out
}

func (m *InMemoryManager) RoomsOf(playerID string) []string {
	m.roomMu.RLock()
	out := make([]string, 0, len(m.playerRooms[playerID]))
	for id := range m.playerRooms[playerID] {
		out = append(out, id)
	}
	m.roomMu.RUnlock()
	sort.Strings(out)
	return out
}
