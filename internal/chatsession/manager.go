package chatsession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/livechat-bridge/internal/domain"
)

// State is the manager's lifecycle state.
type State string

const (
	StateUnverified State = "unverified"
	StateVerifying  State = "verifying"
	StateVerified   State = "verified"
	StateRefreshing State = "refreshing"
	StateExpired    State = "expired"
)

var (
	// ErrRetriesExhausted is returned when another refresh would exceed MaxRetries.
	ErrRetriesExhausted = errors.New("chatsession: refresh budget exhausted")
	// ErrRefreshInFlight is returned when a refresh is already pending.
	ErrRefreshInFlight = errors.New("chatsession: refresh already in flight")
	// ErrClosed is returned once the manager has been closed.
	ErrClosed = errors.New("chatsession: manager closed")
	// ErrEmptyToken is returned for blank tokens.
	ErrEmptyToken = errors.New("chatsession: empty token")
	// ErrTokenTooShort is returned for tokens below the store's minimum length.
	ErrTokenTooShort = errors.New("chatsession: token too short")
	// ErrCleared is returned when Clear ran while a verify or refresh call was
	// in flight; the call's result is discarded.
	ErrCleared = errors.New("chatsession: session cleared during call")
)

// Timer is the subset of *time.Timer the manager uses.
type Timer interface {
	Stop() bool
}

// Options configures a Manager. Zero values pick the defaults.
type Options struct {
	Lifetime        time.Duration
	RefreshInterval time.Duration
	MaxRetries      int

	// SessionID identifies this browser context to the verifier. A random
	// UUID is used when empty.
	SessionID string

	Now       func() time.Time
	AfterFunc func(d time.Duration, f func()) Timer
	Logger    *zerolog.Logger
}

// Manager runs the verify/refresh state machine. It is safe for concurrent
// use; verifier calls are made without holding the lock.
type Manager struct {
	store    *Store
	verifier Verifier
	tokens   TokenSource
	opts     Options
	lg       zerolog.Logger

	mu         sync.Mutex
	state      State
	timer      Timer
	refreshing bool
	closed     bool
	// gen is bumped by Clear; in-flight calls compare it before storing.
	gen uint64
}

// NewManager builds a Manager. tokens may be nil when no background refresh
// source is available; scheduled refreshes then fail and clear the session.
func NewManager(store *Store, verifier Verifier, tokens TokenSource, opts Options) *Manager {
	if opts.Lifetime <= 0 {
		opts.Lifetime = DefaultLifetime
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	lg := log.Logger
	if opts.Logger != nil {
		lg = *opts.Logger
	}
	return &Manager{
		store:    store,
		verifier: verifier,
		tokens:   tokens,
		opts:     opts,
		lg:       lg.With().Str("component", "chatsession").Str("session_id", opts.SessionID).Logger(),
		state:    StateUnverified,
	}
}

// SessionID returns the identifier sent with every verify/refresh call.
func (m *Manager) SessionID() string { return m.opts.SessionID }

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start restores a stored session if one is valid and schedules its refresh.
// Without one the manager stays unverified.
func (m *Manager) Start(ctx context.Context) State {
	s, err := m.store.Load(ctx)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return StateUnverified
	}
	if err != nil {
		m.mu.Unlock()
		m.setState(StateUnverified)
		return StateUnverified
	}
	m.scheduleLocked(s)
	m.mu.Unlock()

	m.setState(StateVerified)
	return StateVerified
}

// Session re-reads the stored session. A stored session that is no longer
// valid is cleared and moves the manager to expired.
func (m *Manager) Session(ctx context.Context) (domain.ChatSession, bool) {
	s, err := m.store.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			m.mu.Lock()
			wasLive := m.state == StateVerified || m.state == StateRefreshing
			if wasLive {
				m.stopTimerLocked()
			}
			m.mu.Unlock()
			if wasLive {
				m.setState(StateExpired)
			}
		}
		return domain.ChatSession{}, false
	}
	return s, true
}

// Verify submits an initial token. On success a fresh session is stored and
// its refresh scheduled.
func (m *Manager) Verify(ctx context.Context, token string) (domain.ChatSession, error) {
	if token == "" {
		return domain.ChatSession{}, ErrEmptyToken
	}
	if len(token) < m.store.minTokenLength {
		return domain.ChatSession{}, ErrTokenTooShort
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.ChatSession{}, ErrClosed
	}
	gen := m.gen
	m.state = StateVerifying
	m.mu.Unlock()

	_, err := m.verifier.Verify(ctx, domain.VerifyRequest{
		Token:          token,
		SessionID:      m.opts.SessionID,
		RefreshAttempt: false,
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return domain.ChatSession{}, ErrClosed
	}
	if m.gen != gen {
		return domain.ChatSession{}, ErrCleared
	}
	if err != nil {
		m.lg.Warn().Err(err).Msg("verification failed")
		m.transitionLocked(StateUnverified)
		return domain.ChatSession{}, err
	}

	now := m.opts.Now()
	s := domain.ChatSession{
		Token:        token,
		VerifiedAt:   now,
		ExpiresAt:    now.Add(m.opts.Lifetime),
		RefreshCount: 0,
		LastRefresh:  now,
	}
	if err := m.store.Save(ctx, s); err != nil {
		m.transitionLocked(StateUnverified)
		return domain.ChatSession{}, err
	}
	m.scheduleLocked(s)
	m.transitionLocked(StateVerified)
	return s, nil
}

// Refresh renews the stored session with a token from the TokenSource. It is
// called by the scheduled timer and may be called directly. Any failure clears
// the session.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.refreshing {
		m.mu.Unlock()
		return ErrRefreshInFlight
	}
	m.refreshing = true
	m.stopTimerLocked()
	gen := m.gen
	m.state = StateRefreshing
	m.mu.Unlock()

	err := m.refresh(ctx, gen)

	m.mu.Lock()
	m.refreshing = false
	m.mu.Unlock()
	return err
}

func (m *Manager) refresh(ctx context.Context, gen uint64) error {
	s, err := m.store.Load(ctx)
	if err != nil {
		m.expire(ctx, gen, "no valid session to refresh")
		return err
	}
	if s.RefreshCount+1 > m.opts.MaxRetries {
		m.expire(ctx, gen, "refresh budget exhausted")
		return ErrRetriesExhausted
	}
	if m.tokens == nil {
		m.expire(ctx, gen, "no token source")
		return fmt.Errorf("chatsession: no token source configured")
	}

	token, err := m.tokens.Token(ctx)
	switch {
	case err != nil:
	case token == "":
		err = ErrEmptyToken
	case len(token) < m.store.minTokenLength:
		err = ErrTokenTooShort
	}
	if err == nil {
		_, err = m.verifier.Verify(ctx, domain.VerifyRequest{
			Token:          token,
			SessionID:      m.opts.SessionID,
			RefreshAttempt: true,
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.gen != gen {
		return ErrCleared
	}
	if err != nil {
		m.lg.Warn().Err(err).Int("refresh_count", s.RefreshCount).Msg("refresh failed; clearing session")
		_ = m.store.Clear(ctx)
		m.transitionLocked(StateExpired)
		return err
	}

	now := m.opts.Now()
	s.Token = token
	s.RefreshCount++
	s.LastRefresh = now
	s.ExpiresAt = now.Add(m.opts.Lifetime)
	if err := m.store.Save(ctx, s); err != nil {
		m.transitionLocked(StateExpired)
		return err
	}
	m.lg.Debug().Int("refresh_count", s.RefreshCount).Msg("session refreshed")
	m.scheduleLocked(s)
	m.transitionLocked(StateVerified)
	return nil
}

// Clear deletes the stored session and returns the manager to unverified.
// Verify or refresh calls still in flight are discarded.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	m.stopTimerLocked()
	m.state = StateUnverified
	return m.store.Clear(ctx)
}

// Close stops the refresh timer. Results of calls still in flight are
// discarded.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.stopTimerLocked()
}

func (m *Manager) expire(ctx context.Context, gen uint64, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.gen != gen {
		return
	}
	m.lg.Info().Str("reason", reason).Msg("session cleared")
	_ = m.store.Clear(ctx)
	m.transitionLocked(StateExpired)
}

// scheduleLocked arms the refresh timer for lastRefresh + RefreshInterval.
func (m *Manager) scheduleLocked(s domain.ChatSession) {
	m.stopTimerLocked()
	delay := s.LastRefresh.Add(m.opts.RefreshInterval).Sub(m.opts.Now())
	if delay < 0 {
		delay = 0
	}
	m.timer = m.opts.AfterFunc(delay, m.onTimer)
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) onTimer() {
	if err := m.Refresh(context.Background()); err != nil && !errors.Is(err, ErrClosed) && !errors.Is(err, ErrCleared) {
		m.lg.Warn().Err(err).Msg("scheduled refresh failed")
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) transitionLocked(s State) { m.state = s }
