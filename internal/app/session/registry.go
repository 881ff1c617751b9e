// Package session provides the in-memory registry of active playback sessions.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/shelfcast/internal/domain/playback"
)

var (
	ErrMissingAudiobook = errors.New("session update is missing audiobook data")
	ErrMissingIdentity  = errors.New("session update is missing user identity")
	ErrMissingSessionID = errors.New("session update is missing session id")
)

// Config represents registry timing configuration.
type Config struct {
	StaleAfter    time.Duration // sessions not updated for this long are force-stopped
	SweepInterval time.Duration // how often the staleness sweep runs
	GracePeriod   time.Duration // how long a stopped session stays fetchable
}

// DefaultConfig returns the standard timings.
func DefaultConfig() Config {
	return Config{
		StaleAfter:    5 * time.Minute,
		SweepInterval: 15 * time.Second,
		GracePeriod:   30 * time.Second,
	}
}

// UpdateRequest carries a full session snapshot from a progress report.
type UpdateRequest struct {
	SessionID string
	UserID    int64
	Username  string
	Audiobook *playback.Audiobook
	Position  float64
	State     playback.State // empty means playing
	Client    *playback.ClientInfo
}

// entry is a registry record. deleteAt is set once the session is stopped.
type entry struct {
	session  *playback.Session
	deleteAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.deleteAt.IsZero() && !now.Before(e.deleteAt)
}

// Registry manages playback sessions with thread-safe access.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	order    []string // insertion order of sessions
	byUser   map[int64]map[string]struct{}

	config Config
	now    func() time.Time
	onStop func(*playback.Session)

	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// NewRegistry creates a new session registry.
func NewRegistry(cfg Config) *Registry {
	def := DefaultConfig()
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = def.GracePeriod
	}

	return &Registry{
		sessions: make(map[string]*entry),
		byUser:   make(map[int64]map[string]struct{}),
		config:   cfg,
		now:      time.Now,
	}
}

// OnStop registers a callback invoked with a copy of every session that
// transitions to stopped, including sweep evictions.
// Must be called before Start.
func (r *Registry) OnStop(fn func(*playback.Session)) {
	r.onStop = fn
}

// Update creates or overwrites the session for req.SessionID.
// Incomplete requests are logged and rejected without touching the registry.
func (r *Registry) Update(req UpdateRequest) (*playback.Session, error) {
	if err := validate(req); err != nil {
		zlog.Error().Str("session_id", req.SessionID).Msgf("rejected session update: %v", err)
		return nil, err
	}

	state := req.State
	if state == "" {
		state = playback.StatePlaying
	}

	r.mu.Lock()
	now := r.now()
	s := playback.NewSession(req.SessionID, req.UserID, req.Username, req.Audiobook, req.Position, state, req.Client, now)

	e, ok := r.sessions[req.SessionID]
	if ok && e.expired(now) {
		// Past its grace period but not yet swept: start over as a new record.
		r.removeLocked(req.SessionID)
		ok = false
	}
	restop := ok && e.session.State == playback.StateStopped && state == playback.StateStopped
	if !ok {
		e = &entry{}
		r.sessions[req.SessionID] = e
		r.order = append(r.order, req.SessionID)
	} else if e.session.UserID != req.UserID {
		r.unindexLocked(e.session.UserID, req.SessionID)
	}
	e.session = s

	var stopped *playback.Session
	switch {
	case restop:
		// Already stopped: keep the original removal deadline.
	case state == playback.StateStopped:
		stopped = r.stopLocked(e, now)
	default:
		e.deleteAt = time.Time{}
		r.indexLocked(req.UserID, req.SessionID)
	}
	result := s.Clone()
	r.mu.Unlock()

	if stopped != nil {
		r.notifyStop(stopped)
	}
	return result, nil
}

func validate(req UpdateRequest) error {
	if req.SessionID == "" {
		return ErrMissingSessionID
	}
	if req.Audiobook == nil {
		return ErrMissingAudiobook
	}
	if req.UserID == 0 || req.Username == "" {
		return ErrMissingIdentity
	}
	return nil
}

// Get returns a copy of the session, or nil if unknown.
// Stopped sessions remain visible until their grace period elapses.
func (r *Registry) Get(sessionID string) *playback.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.sessions[sessionID]
	if !ok || e.expired(r.now()) {
		return nil
	}
	return e.session.Clone()
}

// All returns the playing and paused sessions in insertion order.
func (r *Registry) All() []*playback.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*playback.Session, 0, len(r.sessions))
	for _, id := range r.order {
		e, ok := r.sessions[id]
		if !ok || !e.session.Active() {
			continue
		}
		result = append(result, e.session.Clone())
	}
	return result
}

// UserSessions returns the user's sessions that are not stopped.
func (r *Registry) UserSessions(userID int64) []*playback.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byUser[userID]
	result := make([]*playback.Session, 0, len(ids))
	for _, id := range r.order {
		if _, ok := ids[id]; !ok {
			continue
		}
		e, ok := r.sessions[id]
		if !ok || e.session.State == playback.StateStopped {
			continue
		}
		result = append(result, e.session.Clone())
	}
	return result
}

// Stop marks the session stopped and schedules its removal after the grace
// period. Unknown or already stopped sessions are left untouched and nil is
// returned.
func (r *Registry) Stop(sessionID string) *playback.Session {
	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	if !ok || e.session.State == playback.StateStopped {
		r.mu.Unlock()
		return nil
	}
	stopped := r.stopLocked(e, r.now())
	r.mu.Unlock()

	r.notifyStop(stopped)
	return stopped
}

// Count returns the number of records held, including stopped sessions
// still inside their grace period.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// stopLocked must be called with r.mu held for writing.
func (r *Registry) stopLocked(e *entry, now time.Time) *playback.Session {
	e.session.State = playback.StateStopped
	e.session.LastUpdated = now
	e.deleteAt = now.Add(r.config.GracePeriod)
	r.unindexLocked(e.session.UserID, e.session.SessionID)
	return e.session.Clone()
}

// removeLocked drops the record and its position in the insertion order.
func (r *Registry) removeLocked(sessionID string) {
	delete(r.sessions, sessionID)
	for i, id := range r.order {
		if id == sessionID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Registry) indexLocked(userID int64, sessionID string) {
	ids, ok := r.byUser[userID]
	if !ok {
		ids = make(map[string]struct{})
		r.byUser[userID] = ids
	}
	ids[sessionID] = struct{}{}
}

func (r *Registry) unindexLocked(userID int64, sessionID string) {
	ids, ok := r.byUser[userID]
	if !ok {
		return
	}
	delete(ids, sessionID)
	if len(ids) == 0 {
		delete(r.byUser, userID)
	}
}

func (r *Registry) notifyStop(s *playback.Session) {
	if r.onStop != nil {
		r.onStop(s)
	}
}

// Start starts the background sweep. It returns immediately.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil || r.closed {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.sweepLoop(ctx, r.done)
}

// sweepLoop periodically evicts stale sessions and purges expired ones.
func (r *Registry) sweepLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep force-stops sessions not updated within StaleAfter and deletes
// stopped sessions whose grace period has elapsed.
func (r *Registry) sweep() {
	r.mu.Lock()
	now := r.now()

	var stopped []*playback.Session
	kept := r.order[:0]
	for _, id := range r.order {
		e, ok := r.sessions[id]
		if !ok {
			continue
		}
		if e.expired(now) {
			delete(r.sessions, id)
			continue
		}
		if e.session.State != playback.StateStopped && now.Sub(e.session.LastUpdated) > r.config.StaleAfter {
			zlog.Info().Str("session_id", id).Msgf("stopping stale session: last_updated=%v", e.session.LastUpdated)
			stopped = append(stopped, r.stopLocked(e, now))
		}
		kept = append(kept, id)
	}
	r.order = kept
	r.mu.Unlock()

	for _, s := range stopped {
		r.notifyStop(s)
	}
}

// Close stops the background sweep. Safe to call more than once.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
