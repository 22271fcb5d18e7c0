package world

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

type fileRoom struct {
	ID      string   `yaml:"id"`
	Aliases []string `yaml:"aliases"`
}

type filePlayer struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Room  string `yaml:"room"`
	Level int    `yaml:"level"`
}

type fileNPC struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	Room          string `yaml:"room"`
	CanonicalRoom string `yaml:"canonical_room"`
}

type worldFile struct {
	Rooms   []fileRoom   `yaml:"rooms"`
	Players []filePlayer `yaml:"players"`
	NPCs    []fileNPC    `yaml:"npcs"`
}

// MemoryStore is a PlayerStore, room directory and NPC source backed by
// maps. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	players map[string]*Player
	byName  map[string]string
	rooms   map[string]*Room
	aliases map[string]string
	npcs    []NPCInstance

	logger *slog.Logger
}

var (
	_ PlayerStore = (*MemoryStore)(nil)
	_ NPCSource   = (*MemoryStore)(nil)
)

func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	return &MemoryStore{
		players: make(map[string]*Player),
		byName:  make(map[string]string),
		rooms:   make(map[string]*Room),
		aliases: make(map[string]string),
		logger:  logger.With(slog.String("component", "world_store")),
	}
}

// LoadFile reads a YAML world file.
func LoadFile(path string, logger *slog.Logger) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading world file: %w", err)
	}
	return Parse(data, logger)
}

// Parse builds a store from YAML. Players referencing an unknown room keep
// their room id but are not listed in any room.
func Parse(data []byte, logger *slog.Logger) (*MemoryStore, error) {
	var wf worldFile
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parsing world file: %w", err)
	}

	s := NewMemoryStore(logger)
	for _, r := range wf.Rooms {
		if r.ID == "" {
			return nil, errors.New("room without id")
		}
		if _, dup := s.rooms[r.ID]; dup {
			return nil, fmt.Errorf("duplicate room id %q", r.ID)
		}
		s.rooms[r.ID] = &Room{ID: r.ID, Aliases: slices.Clone(r.Aliases)}
		for _, alias := range r.Aliases {
			s.aliases[alias] = r.ID
		}
	}
	for _, p := range wf.Players {
		if p.ID == "" {
			return nil, errors.New("player without id")
		}
		s.addPlayerLocked(&Player{ID: p.ID, Name: p.Name, CurrentRoomID: p.Room, Level: p.Level})
	}
	for _, n := range wf.NPCs {
		s.npcs = append(s.npcs, NPCInstance{
			ID:              n.ID,
			Name:            n.Name,
			CurrentRoomID:   n.Room,
			CanonicalRoomID: n.CanonicalRoom,
		})
	}
	s.logger.Info("World loaded",
		slog.Int("rooms", len(s.rooms)),
		slog.Int("players", len(s.players)),
		slog.Int("npcs", len(s.npcs)),
	)
	return s, nil
}

func (s *MemoryStore) addPlayerLocked(p *Player) {
	s.players[p.ID] = p
	if p.Name != "" {
		s.byName[strings.ToLower(p.Name)] = p.ID
	}
	if room, ok := s.rooms[s.resolveLocked(p.CurrentRoomID)]; ok {
		room.PlayerIDs = append(room.PlayerIDs, p.ID)
	} else if p.CurrentRoomID != "" {
		s.logger.Warn("Player references unknown room",
			slog.String("playerID", p.ID),
			slog.String("roomID", p.CurrentRoomID),
		)
	}
}

func (s *MemoryStore) resolveLocked(roomID string) string {
	if canonical, ok := s.aliases[roomID]; ok {
		return canonical
	}
	return roomID
}

func (s *MemoryStore) GetPlayer(_ context.Context, playerID string) (*Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[playerID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// GetPlayerByName matches names case-insensitively.
func (s *MemoryStore) GetPlayerByName(ctx context.Context, name string) (*Player, error) {
	s.mu.RLock()
	id, ok := s.byName[strings.ToLower(name)]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return s.GetPlayer(ctx, id)
}

// GetRoom accepts canonical ids and aliases.
func (s *MemoryStore) GetRoom(_ context.Context, roomID string) (*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[s.resolveLocked(roomID)]
	if !ok {
		return nil, nil
	}
	return &Room{ID: r.ID, Aliases: slices.Clone(r.Aliases), PlayerIDs: slices.Clone(r.PlayerIDs)}, nil
}

// CanonicalRoomID returns the canonical id for a room or alias, and an empty
// string for unknown ids.
func (s *MemoryStore) CanonicalRoomID(_ context.Context, roomID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id := s.resolveLocked(roomID)
	if _, ok := s.rooms[id]; !ok {
		return "", nil
	}
	return id, nil
}

func (s *MemoryStore) NPCInstances(_ context.Context) ([]NPCInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.npcs), nil
}

// SetPlayerRoom moves a player between rooms.
func (s *MemoryStore) SetPlayerRoom(playerID, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[playerID]
	if !ok {
		return fmt.Errorf("unknown player %q", playerID)
	}
	target, ok := s.rooms[s.resolveLocked(roomID)]
	if !ok {
		return fmt.Errorf("unknown room %q", roomID)
	}
	if from, ok := s.rooms[s.resolveLocked(p.CurrentRoomID)]; ok {
		from.PlayerIDs = slices.DeleteFunc(from.PlayerIDs, func(id string) bool { return id == playerID })
	}
	target.PlayerIDs = append(target.PlayerIDs, playerID)
	p.CurrentRoomID = target.ID
	return nil
}

// MoveNPC updates an NPC's current room. The canonical room is left alone
// until SettleNPC is called, mirroring an NPC that is still in transit.
func (s *MemoryStore) MoveNPC(npcID, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.npcs {
		if s.npcs[i].ID == npcID {
			s.npcs[i].CurrentRoomID = roomID
			return nil
		}
	}
	return fmt.Errorf("unknown npc %q", npcID)
}

// SettleNPC makes the NPC's canonical room agree with its current room.
func (s *MemoryStore) SettleNPC(npcID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.npcs {
		if s.npcs[i].ID == npcID {
			s.npcs[i].CanonicalRoomID = s.resolveLocked(s.npcs[i].CurrentRoomID)
			return nil
		}
	}
	return fmt.Errorf("unknown npc %q", npcID)
}
