package connect

import (
	"context"
	"log/slog"
	"time"

	"github.com/arkanwolfshade/MythosMUD-sub022/internal/presence"
	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/credentials"
	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/transport"
)

type MonitorConfig struct {
	SweepInterval           time.Duration
	TokenRevalidateInterval time.Duration
	ValidateInterval        time.Duration
	PingTimeout             time.Duration
}

// Monitor runs the periodic health, credential and presence sweeps. A zero
// interval disables the matching sweep.
type Monitor struct {
	protocol *Protocol
	verifier credentials.Verifier
	config   MonitorConfig
	logger   *slog.Logger
}

// NewMonitor builds a monitor over protocol. verifier may be nil, which
// disables credential revalidation.
func NewMonitor(protocol *Protocol, verifier credentials.Verifier, config MonitorConfig, logger *slog.Logger) *Monitor {
	return &Monitor{
		protocol: protocol,
		verifier: verifier,
		config:   config,
		logger:   logger.With(slog.String("component", "connection_monitor")),
	}
}

func tickerFor(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Run blocks until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	sweepC, stopSweep := tickerFor(m.config.SweepInterval)
	defer stopSweep()
	revalidate := m.config.TokenRevalidateInterval
	if m.verifier == nil {
		revalidate = 0
	}
	tokenC, stopToken := tickerFor(revalidate)
	defer stopToken()
	validateC, stopValidate := tickerFor(m.config.ValidateInterval)
	defer stopValidate()

	m.logger.Info("Connection monitor started",
		slog.Duration("sweepInterval", m.config.SweepInterval),
		slog.Duration("tokenRevalidateInterval", revalidate),
		slog.Duration("validateInterval", m.config.ValidateInterval),
	)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Connection monitor stopped")
			return nil
		case <-sweepC:
			m.SweepHealth(ctx)
		case <-tokenC:
			m.RevalidateCredentials(ctx)
		case <-validateC:
			m.ValidatePresence(ctx)
		}
	}
}

// SweepHealth pings every connection and records the result. A connection
// that fails two pings in a row is closed. Dead connections are then reaped.
// It returns the number of reaped connections.
func (m *Monitor) SweepHealth(ctx context.Context) int {
	reg := m.protocol.registry
	reaped := 0
	for _, playerID := range reg.Players() {
		for connID, h := range reg.Handles(playerID) {
			if ctx.Err() != nil {
				return reaped
			}
			err := m.ping(ctx, h)
			if err == nil {
				reg.MarkHealth(connID, true)
				continue
			}
			// A ping cut short by shutdown says nothing about the peer.
			if ctx.Err() != nil {
				return reaped
			}
			record, ok := reg.Get(connID)
			if !ok {
				continue
			}
			m.logger.Debug("Ping failed", slog.String("connID", connID), slog.Any("error", err))
			if !record.Healthy {
				h.Close(ErrUnresponsive)
			}
			reg.MarkHealth(connID, false)
		}
		reaped += len(m.protocol.Reap(ctx, playerID))
	}
	return reaped
}

func (m *Monitor) ping(ctx context.Context, h transport.Handle) error {
	if m.config.PingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.PingTimeout)
		defer cancel()
	}
	return h.Ping(ctx)
}

// RevalidateCredentials re-verifies tokens not checked within the
// revalidation interval. Connections whose token no longer verifies, or now
// names a different player, are closed and removed. It returns the number of
// connections removed.
func (m *Monitor) RevalidateCredentials(ctx context.Context) int {
	if m.verifier == nil {
		return 0
	}
	reg := m.protocol.registry
	now := m.protocol.now()
	revoked := 0
	for _, record := range reg.Records() {
		if !record.HasCredential() {
			continue
		}
		if m.config.TokenRevalidateInterval > 0 && now.Sub(record.LastCredentialCheck) < m.config.TokenRevalidateInterval {
			continue
		}
		claims, err := m.verifier.Verify(record.CredentialToken)
		if err == nil && claims.Subject == record.PlayerID {
			reg.MarkCredentialChecked(record.ConnectionID)
			continue
		}
		m.logger.Warn("Closing connection with invalid credential",
			slog.Any("connection", record),
			slog.Any("error", err),
		)
		if h, ok := reg.Handle(record.ConnectionID); ok {
			h.Close(ErrCredentialRevoked)
		}
		if m.protocol.Disconnect(ctx, record.ConnectionID) {
			revoked++
		}
	}
	return revoked
}

// ValidatePresence checks every player known to either the presence tracker
// or the registry. Repairs happen inside the tracker; players with live
// connections but no presence record are only logged.
func (m *Monitor) ValidatePresence(ctx context.Context) []presence.ValidationReport {
	seen := make(map[string]struct{})
	var players []string
	for _, list := range [][]string{m.protocol.presence.OnlinePlayers(), m.protocol.registry.Players()} {
		for _, id := range list {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				players = append(players, id)
			}
		}
	}

	var reports []presence.ValidationReport
	for _, playerID := range players {
		if ctx.Err() != nil {
			break
		}
		unlock := m.protocol.lockPlayer(playerID)
		report := m.protocol.presence.Validate(playerID)
		unlock()
		if report.Consistent() {
			continue
		}
		reports = append(reports, report)
		for _, issue := range report.Issues {
			if issue.Kind == presence.IssueConnectedButOffline {
				m.logger.Warn("Player has live connections but is not online",
					slog.String("playerID", playerID),
					slog.Int("liveConnections", report.LiveConnections),
				)
			}
		}
	}
	return reports
}
