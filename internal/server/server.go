package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/arkanwolfshade/MythosMUD-sub022/internal/connect"
	"github.com/arkanwolfshade/MythosMUD-sub022/internal/metrics"
	"github.com/arkanwolfshade/MythosMUD-sub022/internal/occupants"
	"github.com/arkanwolfshade/MythosMUD-sub022/internal/presence"
	"github.com/arkanwolfshade/MythosMUD-sub022/internal/router"
	"github.com/arkanwolfshade/MythosMUD-sub022/internal/server/middleware"
	"github.com/arkanwolfshade/MythosMUD-sub022/internal/sweeper"
	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/config"
	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/credentials"
	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/rooms"
	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/state"
	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/state/statemanager"
	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/transport"
	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/world"
)

var (
	ErrShutdown           = errors.New("server shutting down")
	ErrCycled             = errors.New("connection cycled by new connection")
	errEstablishmentAbort = errors.New("connection establishment failed")
)

type App struct {
	logger    *slog.Logger
	config    *config.Config
	registry  *statemanager.InMemoryManager
	tracker   *presence.Tracker
	occupants *occupants.Resolver
	formatter *occupants.Formatter
	metrics   *metrics.Collector
	protocol  *connect.Protocol
	monitor   *connect.Monitor
	router    *router.EventRouter

	wg      sync.WaitGroup
	http    *http.Server
	handler http.Handler

	ctx context.Context
}

// NewApp wires the server. store may be nil, which runs without player
// state: connections are still tracked but rooms and occupants stay empty.
func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, store *world.MemoryStore) *App {
	registry := statemanager.NewInMemoryManager(logger)
	sessions := statemanager.NewSessionRegistry(logger)
	tracker := presence.NewTracker(registry, logger)
	collector := metrics.New()
	verifier := credentials.NewJWTVerifier(cfg.Server.Auth.JWTSecret)
	formatter := occupants.NewFormatter(logger)

	// Keep the interfaces nil rather than wrapping a nil *MemoryStore.
	var (
		players   world.PlayerStore
		npcs      world.NPCSource
		directory rooms.Directory
	)
	if store != nil {
		players, npcs, directory = store, store, store
	}
	resolver := rooms.NewResolver(directory, logger)
	occupantResolver := occupants.NewResolver(players, occupants.NewInstanceLocator(npcs, resolver, logger), formatter, logger)

	probes := sweeper.New(registry, sweeper.Config{
		Concurrency:  cfg.Monitor.ProbeConcurrency,
		ProbeTimeout: cfg.Transport.PingTimeout,
	}, logger)

	protocol := connect.NewProtocol(connect.Deps{
		Registry:      registry,
		Sessions:      sessions,
		Sweeper:       probes,
		Presence:      tracker,
		Players:       players,
		Rooms:         resolver,
		Subscriptions: connect.RoomSubscriptions(registry),
		Notifier:      router.NewBroadcaster(logger, registry, registry),
		Metrics:       collector,
		DefaultKind:   state.ChannelKind(cfg.Transport.ChannelKind),
	}, logger)

	app := &App{
		logger:    logger,
		config:    cfg,
		registry:  registry,
		tracker:   tracker,
		occupants: occupantResolver,
		formatter: formatter,
		metrics:   collector,
		protocol:  protocol,
		monitor: connect.NewMonitor(protocol, verifier, connect.MonitorConfig{
			SweepInterval:           cfg.Monitor.SweepInterval,
			TokenRevalidateInterval: cfg.Monitor.TokenRevalidateInterval,
			ValidateInterval:        cfg.Monitor.ValidateInterval,
			PingTimeout:             cfg.Transport.PingTimeout,
		}, logger),
		router: router.NewEventRouter(logger, registry, tracker, occupantResolver, formatter, players),
		ctx:    rootCtx,
	}

	mux := http.NewServeMux()
	mux.Handle("/ws",
		middleware.Chain(http.HandlerFunc(app.upgradeHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewAuthMiddleware(logger, verifier, cfg.Server.Auth.CookieName),
			middleware.NewConnectionLimiter(
				logger,
				registry.ConnectionCount,
				app.cycleOldest,
				cfg.Server.ConnectionLimit,
			),
		),
	)
	mux.HandleFunc("GET /diagnostics/presence", app.presenceStats)
	mux.HandleFunc("GET /diagnostics/presence/{player}", app.playerPresence)
	mux.HandleFunc("GET /rooms/{room}/occupants", app.roomOccupants)
	app.handler = mux

	app.http = &http.Server{Addr: cfg.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app
}

// Handler exposes the routes without a listener.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Run serves HTTP and runs the connection monitor until the root context is
// done or the listener fails, then shuts down.
func (a *App) Run() error {
	g, ctx := errgroup.WithContext(a.ctx)
	g.Go(func() error {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.monitor.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		return a.Shutdown()
	})
	return g.Wait()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("playerID", reqMeta.PlayerID),
	)

	conn := transport.NewPending(
		r.Context(),
		&a.wg,
		w,
		r,
		transport.ConnectionConfig{
			ReadTimeout: a.config.Transport.ReadTimeout,
			PingTimeout: a.config.Transport.PingTimeout,
		},
		a.logger,
	)
	connID, ok := a.protocol.Establish(r.Context(), connect.Request{
		Transport: conn,
		PlayerID:  reqMeta.PlayerID,
		SessionID: reqMeta.SessionID,
		Token:     reqMeta.Token,
	})
	if !ok {
		conn.Close(errEstablishmentAbort)
		return
	}

	conn.SetOnMessageHandler(func(ctx context.Context, _ uuid.UUID, msg []byte) {
		a.router.HandleMessage(ctx, connID, msg)
	})
	conn.SetOnCloseHandler(func(_ uuid.UUID, err error) {
		connLogger.Info("Deregistering connection due to closure", slog.String("connID", connID), slog.Any("reason", err))
		a.protocol.Disconnect(context.Background(), connID)
	})
	// A close that raced the handler installation would otherwise leak the
	// registry entry.
	if alive, _ := conn.Connected(r.Context()); !alive {
		a.protocol.Disconnect(context.Background(), connID)
		return
	}

	conn.Run()
	<-conn.Done()
}

func (a *App) cycleOldest(playerID string) {
	oldest, found := a.registry.OldestConnection(playerID)
	if !found {
		return
	}
	h, ok := a.registry.Handle(oldest.ConnectionID)
	if !ok {
		return
	}
	a.logger.Info("Cycling connection: closing oldest", slog.String("playerID", playerID), slog.String("connID", oldest.ConnectionID))
	h.Close(ErrCycled)
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	closed := a.protocol.Shutdown(ErrShutdown)
	a.logger.Info("Closed active connections", slog.Int("count", closed))

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}

// ── Diagnostics ──────────────────────────────────────────────────────

type presenceStatsResponse struct {
	Statistics presence.Statistics `json:"statistics"`
	Metrics    metrics.Snapshot    `json:"metrics"`
}

type playerPresenceResponse struct {
	Presence   presence.Snapshot         `json:"presence"`
	Validation presence.ValidationReport `json:"validation"`
}

type roomOccupantsResponse struct {
	RoomID    string               `json:"room_id"`
	Occupants []occupants.Occupant `json:"occupants"`
	Players   []string             `json:"players"`
	NPCs      []string             `json:"npcs"`
}

func (a *App) presenceStats(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, presenceStatsResponse{
		Statistics: a.tracker.Statistics(),
		Metrics:    a.metrics.Snapshot(),
	})
}

func (a *App) playerPresence(w http.ResponseWriter, r *http.Request) {
	playerID := r.PathValue("player")
	a.writeJSON(w, playerPresenceResponse{
		Presence:   a.tracker.PresenceInfo(playerID),
		Validation: a.tracker.Check(playerID),
	})
}

func (a *App) roomOccupants(w http.ResponseWriter, r *http.Request) {
	roomID, ok := rooms.Normalize(r.PathValue("room"))
	if !ok {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	list := a.occupants.OccupantsOf(r.Context(), roomID, r.URL.Query().Get("include"))
	players, npcs, _ := a.formatter.Classify(occupants.Entries(list), roomID)
	a.writeJSON(w, roomOccupantsResponse{
		RoomID:    roomID,
		Occupants: list,
		Players:   players,
		NPCs:      npcs,
	})
}

func (a *App) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("Failed to write diagnostics response", slog.Any("error", err))
	}
}
