package occupants

import (
	"log/slog"
	"strings"
)

// Formatter filters occupant names before they reach a player.
type Formatter struct {
	logger *slog.Logger
}

func NewFormatter(logger *slog.Logger) *Formatter {
	return &Formatter{logger: logger.With(slog.String("component", "occupant_formatter"))}
}

// LooksLikeUUID reports whether s is 36 characters holding four hyphens,
// every other character hex. Hyphen positions are not checked.
func LooksLikeUUID(s string) bool {
	if len(s) != 36 || strings.Count(s, "-") != 4 {
		return false
	}
	for _, c := range s {
		switch {
		case c == '-':
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// ValidName reports whether name may be shown in an occupant list. Empty
// names are rejected quietly; UUID-shaped names are rejected with a warning
// because they mean a display name failed to resolve upstream.
func (f *Formatter) ValidName(name, roomID string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}
	if LooksLikeUUID(name) {
		f.logger.Warn("Dropping identifier-shaped occupant name",
			slog.String("name", name),
			slog.String("roomID", roomID),
		)
		return false
	}
	return true
}

// Classify splits entries into player names, NPC names and every valid name
// in input order. Generic and legacy entries only appear in all.
func (f *Formatter) Classify(entries []Entry, roomID string) (players, npcs, all []string) {
	players, npcs, all = []string{}, []string{}, []string{}
	for _, e := range entries {
		if !f.ValidName(e.Name, roomID) {
			continue
		}
		switch e.Tag {
		case TagPlayer:
			players = append(players, e.Name)
		case TagNPC:
			npcs = append(npcs, e.Name)
		}
		all = append(all, e.Name)
	}
	return players, npcs, all
}

// Entries converts occupants back to tagged entries.
func Entries(occupants []Occupant) []Entry {
	out := make([]Entry, 0, len(occupants))
	for _, o := range occupants {
		tag := TagPlayer
		if o.Kind == KindNPC {
			tag = TagNPC
		}
		out = append(out, Entry{Tag: tag, Name: o.Name})
	}
	return out
}
