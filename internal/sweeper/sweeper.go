// Package sweeper finds and removes connections whose transport is gone.
package sweeper

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/transport"
)

// Registry is the part of the connection registry the sweeper needs.
type Registry interface {
	Handles(playerID string) map[string]transport.Handle
	Reap(playerID string, deadIDs []string) []string
}

type Config struct {
	// Concurrency bounds the number of probes in flight per scan.
	Concurrency int
	// ProbeTimeout bounds a single probe; zero means no bound beyond ctx.
	ProbeTimeout time.Duration
}

type Sweeper struct {
	registry Registry
	config   Config
	logger   *slog.Logger
}

func New(registry Registry, config Config, logger *slog.Logger) *Sweeper {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	return &Sweeper{
		registry: registry,
		config:   config,
		logger:   logger.With(slog.String("component", "dead_connection_sweeper")),
	}
}

// FindDead probes every known connection of playerID and returns the ids
// whose transport is not connected. It works on a snapshot and never takes
// the registry's mutation lock, so the result may already be stale; Cleanup
// re-validates. A probe that errors or exceeds ProbeTimeout counts as dead.
// Once ctx is cancelled nothing is reported: an aborted scan is not evidence
// that a transport is gone.
func (s *Sweeper) FindDead(ctx context.Context, playerID string) []string {
	if ctx.Err() != nil {
		return nil
	}
	handles := s.registry.Handles(playerID)
	if len(handles) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		dead []string
	)
	g := new(errgroup.Group)
	g.SetLimit(s.config.Concurrency)
	for connID, handle := range handles {
		g.Go(func() error {
			if s.probe(ctx, connID, handle) {
				return nil
			}
			mu.Lock()
			dead = append(dead, connID)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		s.logger.Debug("Dead connection scan aborted", slog.String("playerID", playerID), slog.Any("error", err))
		return nil
	}

	sort.Strings(dead)
	if len(dead) > 0 {
		s.logger.Info("Found dead connections",
			slog.String("playerID", playerID),
			slog.Int("dead", len(dead)),
			slog.Int("scanned", len(handles)),
		)
	}
	return dead
}

func (s *Sweeper) probe(ctx context.Context, connID string, handle transport.Handle) (alive bool) {
	if handle == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("Connection probe panicked", slog.String("connID", connID), slog.Any("panic", r))
			alive = false
		}
	}()

	probeCtx := ctx
	if s.config.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, s.config.ProbeTimeout)
		defer cancel()
	}
	connected, err := handle.Connected(probeCtx)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		s.logger.Debug("Connection probe failed", slog.String("connID", connID), slog.Any("error", err))
		return false
	}
	return connected
}

// Cleanup removes deadIDs from the registry under its mutation lock and
// returns the player's remaining connection ids. An empty list changes
// nothing.
func (s *Sweeper) Cleanup(deadIDs []string, playerID string) []string {
	return s.registry.Reap(playerID, deadIDs)
}
