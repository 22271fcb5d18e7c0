package state

import (
	"log/slog"
	"time"
)

// ChannelKind tags the kind of transport a connection arrived over.
type ChannelKind string

const (
	ChannelWebsocket ChannelKind = "websocket"
	ChannelSSE       ChannelKind = "sse"
)

// ConnectionRecord is the metadata kept for one live transport session.
// Zero times mean "not recorded".
type ConnectionRecord struct {
	ConnectionID        string
	PlayerID            string
	Type                ChannelKind
	EstablishedAt       time.Time
	LastSeen            time.Time
	Healthy             bool
	SessionID           string
	CredentialToken     string
	LastCredentialCheck time.Time
}

// HasCredential reports whether a token was supplied at establishment.
func (r ConnectionRecord) HasCredential() bool {
	return r.CredentialToken != ""
}

// LogValue keeps the credential out of log output.
func (r ConnectionRecord) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("connID", r.ConnectionID),
		slog.String("playerID", r.PlayerID),
		slog.String("type", string(r.Type)),
		slog.Bool("healthy", r.Healthy),
		slog.String("sessionID", r.SessionID),
		slog.Bool("hasCredential", r.HasCredential()),
	)
}
