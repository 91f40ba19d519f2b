package timer

import (
	"context"
	"sync"
	"time"

	"github.com/ticktalk/balance-engine/ledger"
)

// Tracker holds at most one active session for one user and counts its
// elapsed seconds. Tick is caller-driven; Run drives it from a ticker.
//
// The active session id is what a client persists locally. After a restart
// Restore re-validates it against the store and discards it when the
// session is missing or no longer running.
type Tracker struct {
	svc   *Service
	actor ledger.Actor

	mu      sync.Mutex
	active  *Session
	elapsed int64
}

func NewTracker(svc *Service, actor ledger.Actor) *Tracker {
	return &Tracker{svc: svc, actor: actor}
}

// Start begins a session. It fails if this tracker already has one.
func (t *Tracker) Start(ctx context.Context, featureID string) (*Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active != nil {
		return nil, ErrAlreadyRunning
	}
	sess, err := t.svc.Start(ctx, t.actor, featureID)
	if err != nil {
		return nil, err
	}
	t.active = sess
	t.elapsed = 0
	return sess, nil
}

// Tick recomputes elapsed seconds from the start time and returns it.
func (t *Tracker) Tick() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil {
		return 0
	}
	t.elapsed = t.active.Elapsed(t.svc.Now())
	return t.elapsed
}

// Elapsed is the value computed by the last Tick.
func (t *Tracker) Elapsed() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsed
}

// Active returns the running session, if any.
func (t *Tracker) Active() (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil {
		return Session{}, false
	}
	return *t.active, true
}

// Stop completes the active session. On a store failure the tracker keeps
// the session so the stop can be retried.
func (t *Tracker) Stop(ctx context.Context, notes string) (*Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil {
		return nil, ErrNoActiveSession
	}
	sess, err := t.svc.Stop(ctx, t.actor, t.active.ID, notes)
	if err != nil {
		return nil, err
	}
	t.active = nil
	t.elapsed = 0
	return sess, nil
}

// Restore adopts a locally remembered session id. It reports whether a
// running session was adopted. A failed read leaves the tracker idle and
// returns the error.
func (t *Tracker) Restore(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}
	sess, err := t.svc.Running(ctx, t.actor, sessionID)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil || sess == nil {
		t.active = nil
		t.elapsed = 0
		return false, err
	}
	t.active = sess
	t.elapsed = sess.Elapsed(t.svc.Now())
	return true, nil
}

// Run ticks every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context, interval time.Duration, onTick func(int64)) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e := t.Tick()
			if onTick != nil {
				onTick(e)
			}
		}
	}
}
