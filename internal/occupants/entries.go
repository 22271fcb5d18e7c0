package occupants

import (
	"errors"

	"github.com/tidwall/gjson"
)

var ErrMalformedEntries = errors.New("occupant entries must be a JSON array")

// ParseEntries decodes a JSON array of occupant entries. Objects are tagged
// by their player_name, npc_name or name field, in that order; bare strings
// are legacy entries. Elements of any other shape are skipped.
func ParseEntries(raw []byte) ([]Entry, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrMalformedEntries
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsArray() {
		return nil, ErrMalformedEntries
	}

	entries := make([]Entry, 0, len(doc.Array()))
	doc.ForEach(func(_, v gjson.Result) bool {
		switch {
		case v.Type == gjson.String:
			entries = append(entries, Entry{Tag: TagLegacy, Name: v.String()})
		case v.IsObject():
			if name := v.Get("player_name"); name.Exists() {
				entries = append(entries, Entry{Tag: TagPlayer, Name: name.String()})
			} else if name := v.Get("npc_name"); name.Exists() {
				entries = append(entries, Entry{Tag: TagNPC, Name: name.String()})
			} else if name := v.Get("name"); name.Exists() {
				entries = append(entries, Entry{Tag: TagGeneric, Name: name.String()})
			}
		}
		return true
	})
	return entries, nil
}
