// Package connect turns an inbound transport into a tracked, presence-visible
// connection and tears connections down again.
package connect

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/rooms"
	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/state"
	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/transport"
	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/world"
)

// Request is one establishment attempt. SessionID and Token are optional.
// An empty Kind uses the protocol's default channel kind.
type Request struct {
	Transport transport.Handle
	PlayerID  string
	SessionID string
	Token     string
	Kind      state.ChannelKind
}

// Deps are the collaborators of a Protocol. Registry, Sessions, Sweeper and
// Presence are required. Players may be nil, which runs the protocol without
// player state. The remaining fields fall back to no-op implementations.
type Deps struct {
	Registry      state.Registry
	Sessions      state.Sessions
	Sweeper       DeadSweeper
	Presence      PresenceTracker
	Players       world.PlayerStore
	Rooms         *rooms.Resolver
	Subscriptions RoomSubscriber
	Notifier      Notifier
	Metrics       Metrics
	DefaultKind   state.ChannelKind
	Now           func() time.Time
}

// playerLockStripes bounds the per-player locks; players sharing a stripe
// only serialize against each other.
const playerLockStripes = 64

type Protocol struct {
	registry      state.Registry
	sessions      state.Sessions
	sweeper       DeadSweeper
	presence      PresenceTracker
	players       world.PlayerStore
	rooms         *rooms.Resolver
	subscriptions RoomSubscriber
	notifier      Notifier
	metrics       Metrics
	kind          state.ChannelKind
	now           func() time.Time
	logger        *slog.Logger

	// locks serialize the registry, session and presence mutations of one
	// player. Transports are never closed while a stripe is held, since
	// their close handlers call Disconnect.
	locks [playerLockStripes]sync.Mutex
}

func NewProtocol(deps Deps, logger *slog.Logger) *Protocol {
	p := &Protocol{
		registry:      deps.Registry,
		sessions:      deps.Sessions,
		sweeper:       deps.Sweeper,
		presence:      deps.Presence,
		players:       deps.Players,
		rooms:         deps.Rooms,
		subscriptions: deps.Subscriptions,
		notifier:      deps.Notifier,
		metrics:       deps.Metrics,
		kind:          deps.DefaultKind,
		now:           deps.Now,
		logger:        logger.With(slog.String("component", "connection_protocol")),
	}
	if p.subscriptions == nil {
		p.subscriptions = NopRoomSubscriber{}
	}
	if p.notifier == nil {
		p.notifier = NopNotifier{}
	}
	if p.metrics == nil {
		p.metrics = NopMetrics{}
	}
	if p.kind == "" {
		p.kind = state.ChannelWebsocket
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.players == nil {
		p.logger.Warn("No player store configured; connections will run without player state")
	}
	return p
}

// Establish runs the establishment sequence for req and returns the new
// connection id. It never returns an error: failures are logged and reported
// as ok == false, and the caller owns closing the transport. Anything
// recorded after registration is rolled back on failure.
func (p *Protocol) Establish(ctx context.Context, req Request) (connID string, ok bool) {
	start := p.now()
	kind := req.Kind
	if kind == "" {
		kind = p.kind
	}
	log := p.logger.With(
		slog.String("playerID", req.PlayerID),
		slog.String("sessionID", req.SessionID),
		slog.Bool("hasCredential", req.Token != ""),
	)

	if req.Transport == nil || req.PlayerID == "" {
		log.Error("Rejecting establishment request", slog.Any("error", ErrInvalidRequest))
		p.metrics.EstablishmentFailed(string(StepHandshake))
		return "", false
	}

	// Pre-scan runs without the mutation lock; Cleanup re-validates under it.
	if dead := p.sweeper.FindDead(ctx, req.PlayerID); len(dead) > 0 {
		p.reapDead(req.PlayerID, dead, log)
	}

	if err := p.handshake(ctx, req); err != nil {
		log.Warn("Connection establishment failed", slog.Any("error", err))
		p.metrics.EstablishmentFailed(string(StepHandshake))
		return "", false
	}

	connID, err := p.commit(ctx, req, kind, start, log)
	if err != nil {
		log.Error("Connection establishment failed", slog.Any("error", err))
		var stepErr *StepError
		if errors.As(err, &stepErr) {
			p.metrics.EstablishmentFailed(string(stepErr.Step))
		}
		return "", false
	}

	log.Info("Connection established",
		slog.String("connID", connID),
		slog.String("kind", string(kind)),
		slog.Duration("elapsed", p.now().Sub(start)),
	)
	return connID, true
}

func (p *Protocol) lockPlayer(playerID string) (unlock func()) {
	h := fnv.New32a()
	h.Write([]byte(playerID))
	mu := &p.locks[h.Sum32()%playerLockStripes]
	mu.Lock()
	return mu.Unlock
}

func (p *Protocol) handshake(ctx context.Context, req Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport accept panicked: %v", r)
		}
		if err != nil {
			err = &StepError{Step: StepHandshake, PlayerID: req.PlayerID, Err: err}
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return req.Transport.Accept(ctx)
}

// commit runs the steps that mutate shared state. Once a connection id has
// been allocated every failure, including a cancelled ctx or a panicking
// collaborator, removes it again before returning. The player's lock is held
// until the rollback has run.
func (p *Protocol) commit(ctx context.Context, req Request, kind state.ChannelKind, start time.Time, log *slog.Logger) (connID string, err error) {
	unlock := p.lockPlayer(req.PlayerID)
	defer unlock()

	step := StepRegister
	defer func() {
		if r := recover(); r != nil {
			err = &StepError{Step: step, PlayerID: req.PlayerID, Err: fmt.Errorf("panic: %v", r)}
		}
		if err != nil && connID != "" {
			p.rollback(req.PlayerID, connID, log)
			connID = ""
		}
	}()
	fail := func(e error) error {
		return &StepError{Step: step, PlayerID: req.PlayerID, Err: e}
	}

	connID = p.registry.Register(req.PlayerID, req.Transport)

	step = StepMetadata
	now := p.now()
	record := state.ConnectionRecord{
		Type:            kind,
		EstablishedAt:   now,
		LastSeen:        now,
		Healthy:         true,
		SessionID:       req.SessionID,
		CredentialToken: req.Token,
	}
	if req.Token != "" {
		record.LastCredentialCheck = now
	}
	if !p.registry.SetMetadata(connID, record) {
		return connID, fail(errors.New("connection removed before metadata was stored"))
	}

	if req.SessionID != "" {
		step = StepSessionBind
		p.sessions.Bind(req.SessionID, connID, req.PlayerID)
	}

	step = StepPlayerSetup
	if err := ctx.Err(); err != nil {
		return connID, fail(err)
	}
	player, err := p.setupPlayer(ctx, req.PlayerID, log)
	if err != nil {
		return connID, fail(err)
	}

	step = StepPresence
	if err := ctx.Err(); err != nil {
		return connID, fail(err)
	}
	if !p.presence.MarkOnline(req.PlayerID, player, kind) {
		p.presence.ConnectionAdded(req.PlayerID, kind)
		if err := p.notifier.BroadcastConnectionAdded(ctx, req.PlayerID, player); err != nil {
			return connID, fail(fmt.Errorf("broadcasting connection added: %w", err))
		}
	}

	step = StepMetrics
	p.metrics.RecordEstablishmentLatency(kind, p.now().Sub(start))
	p.metrics.ConnectionOpened()
	return connID, nil
}

// setupPlayer loads the player and subscribes them to their room. Without a
// store it returns (nil, nil).
func (p *Protocol) setupPlayer(ctx context.Context, playerID string, log *slog.Logger) (*world.Player, error) {
	if p.players == nil {
		log.Warn("Player store not configured; skipping player setup")
		return nil, nil
	}
	player, err := p.players.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("loading player: %w", err)
	}
	if player == nil {
		return nil, ErrPlayerNotFound
	}

	roomID, ok := rooms.Normalize(player.CurrentRoomID)
	if !ok {
		return player, nil
	}
	canonical := p.rooms.Canonical(ctx, roomID)
	if err := p.subscriptions.Subscribe(ctx, playerID, canonical); err != nil {
		return nil, fmt.Errorf("subscribing to room %s: %w", canonical, err)
	}
	return player, nil
}

// rollback undoes a partially established connection. It only logs its own
// failures so the original error stays the one reported.
func (p *Protocol) rollback(playerID, connID string, log *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Rollback failed", slog.String("connID", connID), slog.Any("panic", r))
		}
	}()
	remaining, _ := p.registry.RemoveConnection(playerID, connID)
	p.sessions.Unbind(connID)
	p.afterRemoval(playerID, remaining)
	log.Info("Rolled back partial connection", slog.String("connID", connID), slog.Int("remaining", len(remaining)))
}

// afterRemoval must run under the player's lock, otherwise remaining may
// already miss a connection registered since.
func (p *Protocol) afterRemoval(playerID string, remaining []string) {
	p.presence.ConnectionRemoved(playerID)
	if len(remaining) == 0 {
		p.subscriptions.UnsubscribeAll(playerID)
	}
}

// Disconnect removes a connection after its transport went away. It reports
// whether this call removed it; repeated calls are harmless.
func (p *Protocol) Disconnect(ctx context.Context, connID string) bool {
	record, ok := p.registry.Get(connID)
	if !ok {
		return false
	}
	unlock := p.lockPlayer(record.PlayerID)
	defer unlock()

	remaining, removed := p.registry.RemoveConnection(record.PlayerID, connID)
	if !removed {
		return false
	}
	p.sessions.Unbind(connID)
	p.afterRemoval(record.PlayerID, remaining)
	p.metrics.ConnectionClosed()
	p.logger.Info("Connection removed",
		slog.Any("connection", record),
		slog.Int("remaining", len(remaining)),
	)
	return true
}

// Reap probes the player's connections and removes the dead ones. It returns
// the removed connection ids.
func (p *Protocol) Reap(ctx context.Context, playerID string) []string {
	dead := p.sweeper.FindDead(ctx, playerID)
	if len(dead) == 0 {
		return nil
	}
	return p.reapDead(playerID, dead, p.logger.With(slog.String("playerID", playerID)))
}

// reapDead removes dead connections under the player's lock, then closes
// their transports after releasing it.
func (p *Protocol) reapDead(playerID string, dead []string, log *slog.Logger) []string {
	handles := make(map[string]transport.Handle, len(dead))
	for _, id := range dead {
		if h, ok := p.registry.Handle(id); ok {
			handles[id] = h
		}
	}

	unlock := p.lockPlayer(playerID)
	remaining := p.sweeper.Cleanup(dead, playerID)

	reaped := make([]string, 0, len(dead))
	for _, id := range dead {
		if _, still := p.registry.Get(id); still {
			continue
		}
		if _, had := handles[id]; had {
			reaped = append(reaped, id)
		}
	}
	p.sessions.Unbind(reaped...)
	p.afterRemoval(playerID, remaining)
	unlock()

	for _, id := range reaped {
		handles[id].Close(ErrReaped)
		p.metrics.ConnectionClosed()
	}
	p.metrics.ConnectionsReaped(len(reaped))
	if len(reaped) > 0 {
		log.Info("Reaped dead connections", slog.Int("reaped", len(reaped)), slog.Int("remaining", len(remaining)))
	}
	return reaped
}

// Shutdown closes every registered transport. The transports' close handlers
// are expected to call Disconnect.
func (p *Protocol) Shutdown(reason error) int {
	closed := 0
	for _, playerID := range p.registry.Players() {
		for _, h := range p.registry.Handles(playerID) {
			h.Close(reason)
			closed++
		}
	}
	return closed
}
