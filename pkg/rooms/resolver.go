// Package rooms compares room identifiers that may be held in raw or
// canonical form by different parts of the server.
package rooms

import (
	"context"
	"log/slog"
	"strings"
)

// Directory maps a room id to its canonical id. An empty result means no
// mapping exists.
type Directory interface {
	CanonicalRoomID(ctx context.Context, roomID string) (string, error)
}

type Resolver struct {
	directory Directory
	logger    *slog.Logger
}

// NewResolver returns a resolver backed by directory. A nil directory is
// allowed; Canonical then returns its input.
func NewResolver(directory Directory, logger *slog.Logger) *Resolver {
	return &Resolver{
		directory: directory,
		logger:    logger.With(slog.String("component", "room_resolver")),
	}
}

// Normalize trims surrounding whitespace. The second result is false when
// nothing remains.
func Normalize(id string) (string, bool) {
	n := strings.TrimSpace(id)
	return n, n != ""
}

// Canonical returns the canonical form of id, or id itself when the
// directory is absent, fails or has no mapping.
func (r *Resolver) Canonical(ctx context.Context, id string) string {
	if r == nil || r.directory == nil {
		return id
	}
	n, ok := Normalize(id)
	if !ok {
		return id
	}
	canonical, err := r.directory.CanonicalRoomID(ctx, n)
	if err != nil {
		r.logger.Debug("Room directory lookup failed", slog.String("roomID", n), slog.Any("error", err))
		return id
	}
	if c, ok := Normalize(canonical); ok {
		return c
	}
	return id
}

// Matches reports whether two entities are in the same room. Each side may
// carry both a current and a canonical room id, which can differ while an
// entity is moving, so all four pairings are checked.
func Matches(aRoom, aCanonical, bRoom, bCanonical string) bool {
	left := normalizedPair(aRoom, aCanonical)
	right := normalizedPair(bRoom, bCanonical)
	for _, a := range left {
		for _, b := range right {
			if a == b {
				return true
			}
		}
	}

	// Raw comparison for records written before ids were trimmed.
	return rawEqual(aRoom, bRoom) || rawEqual(aRoom, bCanonical) ||
		rawEqual(aCanonical, bRoom) || rawEqual(aCanonical, bCanonical)
}

func rawEqual(a, b string) bool {
	return a == b && strings.TrimSpace(a) != ""
}

// Matches is the method form of the package function.
func (r *Resolver) Matches(aRoom, aCanonical, bRoom, bCanonical string) bool {
	return Matches(aRoom, aCanonical, bRoom, bCanonical)
}

func normalizedPair(room, canonical string) []string {
	out := make([]string, 0, 2)
	if n, ok := Normalize(room); ok {
		out = append(out, n)
	}
	if n, ok := Normalize(canonical); ok {
		out = append(out, n)
	}
	return out
}
