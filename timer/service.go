package timer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ticktalk/balance-engine/ledger"
)

// DefaultRecentLimit caps Recent when no limit is given.
const DefaultRecentLimit = 10

// Service persists timer sessions.
type Service struct {
	store Store
	now   func() time.Time
	log   zerolog.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func WithLogger(l zerolog.Logger) Option    { return func(s *Service) { s.log = l } }

func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start persists a running session for the actor. Only one running session
// per user is allowed; the store rejects a concurrent second insert.
func (s *Service) Start(ctx context.Context, actor ledger.Actor, featureID string) (*Session, error) {
	if err := ledger.Authorize(actor, ledger.CapTrackTime); err != nil {
		return nil, err
	}
	featureID = strings.TrimSpace(featureID)
	if featureID == "" {
		return nil, &ledger.ValidationError{Field: "featureId", Message: "is required"}
	}

	existing, err := s.store.ListSessions(ctx, actor.ID)
	if err != nil {
		return nil, persistence("list sessions", err)
	}
	for _, e := range existing {
		if e.Running() {
			return nil, fmt.Errorf("session %s: %w", e.ID, ErrAlreadyRunning)
		}
	}

	sess := Session{
		ID:        uuid.NewString(),
		FeatureID: featureID,
		UserID:    actor.ID,
		StartTime: s.now().UTC(),
		Status:    StatusRunning,
	}
	if err := s.store.InsertSession(ctx, sess); err != nil {
		return nil, persistence("insert session", err)
	}
	s.log.Info().Str("session_id", sess.ID).Str("user_id", actor.ID).Str("feature_id", featureID).Msg("timer started")
	return &sess, nil
}

// Stop completes a running session and returns its duration in whole
// seconds.
func (s *Service) Stop(ctx context.Context, actor ledger.Actor, sessionID, notes string) (*Session, error) {
	if err := ledger.Authorize(actor, ledger.CapTrackTime); err != nil {
		return nil, err
	}
	if len([]rune(notes)) > ledger.MaxTextLength {
		return nil, &ledger.ValidationError{Field: "notes", Message: fmt.Sprintf("must be at most %d characters", ledger.MaxTextLength)}
	}
	sess, err := s.owned(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Running() {
		return nil, ErrNotRunning
	}

	end := s.now().UTC()
	sess.EndTime = &end
	sess.DurationSeconds = sess.Elapsed(end)
	sess.Status = StatusCompleted
	sess.Notes = notes
	if err := s.store.UpdateSession(ctx, *sess); err != nil {
		return nil, persistence("update session", err)
	}
	s.log.Info().Str("session_id", sess.ID).Int64("duration_seconds", sess.DurationSeconds).Msg("timer stopped")
	return sess, nil
}

// Correct overwrites a completed session's duration and marks it corrected.
func (s *Service) Correct(ctx context.Context, actor ledger.Actor, sessionID string, seconds int64) (*Session, error) {
	if err := ledger.Authorize(actor, ledger.CapTrackTime); err != nil {
		return nil, err
	}
	if seconds < 0 {
		return nil, &ledger.ValidationError{Field: "durationSeconds", Message: "must not be negative"}
	}
	sess, err := s.owned(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != StatusCompleted {
		return nil, ErrNotCompleted
	}

	sess.DurationSeconds = seconds
	sess.Corrected = true
	if err := s.store.UpdateSession(ctx, *sess); err != nil {
		return nil, persistence("update session", err)
	}
	return sess, nil
}

// Get returns one of the actor's sessions.
func (s *Service) Get(ctx context.Context, actor ledger.Actor, sessionID string) (*Session, error) {
	if err := ledger.Authorize(actor, ledger.CapTrackTime); err != nil {
		return nil, err
	}
	return s.owned(ctx, actor, sessionID)
}

// Running returns the session if it exists, belongs to the actor and is
// still running; otherwise nil. It is the re-validation step after a
// client restart.
func (s *Service) Running(ctx context.Context, actor ledger.Actor, sessionID string) (*Session, error) {
	sess, err := s.Get(ctx, actor, sessionID)
	if err != nil {
		if ledger.ErrorKindOf(err) == ledger.KindNotFound {
			return nil, nil
		}
		return nil, err
	}
	if !sess.Running() {
		return nil, nil
	}
	return sess, nil
}

// Recent lists the actor's sessions, most recent start first.
func (s *Service) Recent(ctx context.Context, actor ledger.Actor, limit int) ([]Session, error) {
	if err := ledger.Authorize(actor, ledger.CapTrackTime); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	out, err := s.store.ListSessions(ctx, actor.ID)
	if err != nil {
		return nil, persistence("list sessions", err)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Now is the service clock, shared with trackers.
func (s *Service) Now() time.Time { return s.now() }

func (s *Service) owned(ctx context.Context, actor ledger.Actor, id string) (*Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, persistence("get session", err)
	}
	if sess == nil || sess.UserID != actor.ID {
		return nil, fmt.Errorf("%w: session %s", ledger.ErrNotFound, id)
	}
	return sess, nil
}

func persistence(op string, err error) error {
	if ledger.ErrorKindOf(err) != ledger.KindUnknown {
		return err
	}
	return &ledger.PersistenceError{Op: op, Err: err}
}
