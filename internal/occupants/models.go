package occupants

type Kind string

const (
	KindPlayer Kind = "player"
	KindNPC    Kind = "npc"
)

// Occupant is a player or NPC present in a room.
type Occupant struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// EntryTag says how a raw occupant entry was labelled.
type EntryTag int

const (
	TagPlayer EntryTag = iota
	TagNPC
	// TagGeneric is an object with only a "name" field.
	TagGeneric
	// TagLegacy is a bare string.
	TagLegacy
)

// Entry is one decoded occupant entry.
type Entry struct {
	Tag  EntryTag
	Name string
}

// NPCName pairs an NPC instance id with its display name.
type NPCName struct {
	ID   string
	Name string
}
