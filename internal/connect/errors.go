package connect

import (
	"errors"
	"fmt"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrInvalidRequest    = errors.New("invalid establishment request")
	ErrPlayerNotFound    = errors.New("player not found")
	ErrReaped            = errors.New("connection reaped as dead")
	ErrUnresponsive      = errors.New("connection stopped answering pings")
	ErrCredentialRevoked = errors.New("credential no longer valid")
)

// Step names a stage of connection establishment.
type Step string

const (
	StepHandshake   Step = "handshake"
	StepRegister    Step = "register"
	StepMetadata    Step = "metadata"
	StepSessionBind Step = "session_bind"
	StepPlayerSetup Step = "player_setup"
	StepPresence    Step = "presence"
	StepMetrics     Step = "metrics"
)

// StepError records which establishment step failed.
type StepError struct {
	Step     Step
	PlayerID string
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("establish %s for player %s: %v", e.Step, e.PlayerID, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
