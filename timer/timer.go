/*
Package timer is the timer sub-ledger: start/stop work sessions that
produce a duration, which callers later log against a balance.

KEY CONCEPTS:
  - Session: one started and possibly stopped work interval
  - Status:  running -> completed (one way)
  - Service: persisted start/stop/correct/recover
  - Tracker: client-side single active timer with a ticking elapsed count

A stopped session is not a transaction. The caller snaps its duration with
ledger.SnapSeconds and submits it through ledger.Service.LogTransaction.
*/
package timer

import (
	"context"
	"time"

	"github.com/ticktalk/balance-engine/ledger"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
)

// Session is one timed work interval.
//
// INVARIANTS:
//   - Running sessions have no EndTime and zero DurationSeconds
//   - Completed sessions have EndTime and DurationSeconds >= 0
type Session struct {
	ID              string
	FeatureID       string
	UserID          string
	StartTime       time.Time
	EndTime         *time.Time
	DurationSeconds int64
	Status          Status
	Notes           string
	Corrected       bool
}

func (s Session) Running() bool { return s.Status == StatusRunning }

// Elapsed is the whole seconds since start, or the recorded duration once
// the session is completed.
func (s Session) Elapsed(now time.Time) int64 {
	if !s.Running() {
		return s.DurationSeconds
	}
	d := int64(now.Sub(s.StartTime) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}

// Store persists sessions. Reads of a missing session return (nil, nil).
// InsertSession of a running session fails with ErrAlreadyRunning when the
// user already has one running.
type Store interface {
	InsertSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSession(ctx context.Context, s Session) error
	// ListSessions returns a user's sessions, most recent start first.
	ListSessions(ctx context.Context, userID string) ([]Session, error)
}

// =============================================================================
// ERRORS
// =============================================================================

// These wrap ledger.ErrValidation so callers can use the ledger taxonomy.
var (
	ErrNotRunning      = &ledger.ValidationError{Field: "status", Message: "timer is not running"}
	ErrNotCompleted    = &ledger.ValidationError{Field: "status", Message: "timer has not been stopped"}
	ErrAlreadyRunning  = &ledger.ValidationError{Field: "status", Message: "a timer is already running"}
	ErrNoActiveSession = &ledger.ValidationError{Field: "session", Message: "no active timer"}
)
