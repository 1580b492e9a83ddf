// Package chatsession manages the client-held proof-of-humanity token that
// gates the chat surface.
//
// A Store keeps exactly one domain.ChatSession in a Slot and refuses to hand
// out sessions that are malformed, expired, inconsistent or over their retry
// budget; such reads clear the slot. A Manager drives the verify/refresh state
// machine on top of a Store, scheduling proactive refreshes from the stored
// session's own lastRefresh.
//
// Managers sharing one slot (for instance two browser tabs backed by the same
// storage) are not coordinated: concurrent refreshes race and the last write
// wins.
package chatsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tbourn/livechat-bridge/internal/domain"
)

// Defaults for session bookkeeping.
const (
	DefaultLifetime        = 2 * time.Hour
	DefaultRefreshInterval = 30 * time.Minute
	DefaultMaxRetries      = 3
	DefaultMinTokenLength  = 20
	DefaultSlotKey         = "livechat.chat_session"
)

// ErrNoSession is returned when the slot holds no valid session.
var ErrNoSession = errors.New("no valid session")

// Slot is a single storage cell holding one serialized value.
type Slot interface {
	Read(ctx context.Context) (value string, ok bool, err error)
	Write(ctx context.Context, value string) error
	Delete(ctx context.Context) error
}

// MemorySlot is a process-local Slot.
type MemorySlot struct {
	mu    sync.Mutex
	value string
	set   bool
}

// Read implements Slot.
func (s *MemorySlot) Read(context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.set, nil
}

// Write implements Slot.
func (s *MemorySlot) Write(_ context.Context, v string) error {
	s.mu.Lock()
	s.value, s.set = v, true
	s.mu.Unlock()
	return nil
}

// Delete implements Slot.
func (s *MemorySlot) Delete(context.Context) error {
	s.mu.Lock()
	s.value, s.set = "", false
	s.mu.Unlock()
	return nil
}

// StoreOptions tunes validation. Zero values pick the defaults.
type StoreOptions struct {
	MinTokenLength int
	MaxRetries     int
	Now            func() time.Time
}

// Store persists one ChatSession in a Slot.
type Store struct {
	slot           Slot
	minTokenLength int
	maxRetries     int
	now            func() time.Time
}

// NewStore returns a Store over slot.
func NewStore(slot Slot, opts StoreOptions) *Store {
	if opts.MinTokenLength <= 0 {
		opts.MinTokenLength = DefaultMinTokenLength
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		slot:           slot,
		minTokenLength: opts.MinTokenLength,
		maxRetries:     opts.MaxRetries,
		now:            opts.Now,
	}
}

// Save overwrites the slot with s.
func (st *Store) Save(ctx context.Context, s domain.ChatSession) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("chatsession: encode: %w", err)
	}
	return st.slot.Write(ctx, string(b))
}

// Load returns the stored session. Any session that fails validation is
// deleted from the slot and reported as ErrNoSession.
func (st *Store) Load(ctx context.Context) (domain.ChatSession, error) {
	raw, ok, err := st.slot.Read(ctx)
	if err != nil {
		return domain.ChatSession{}, fmt.Errorf("chatsession: read slot: %w", err)
	}
	if !ok || raw == "" {
		return domain.ChatSession{}, ErrNoSession
	}

	var s domain.ChatSession
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return domain.ChatSession{}, st.discard(ctx, "malformed")
	}
	if reason := st.invalid(s); reason != "" {
		return domain.ChatSession{}, st.discard(ctx, reason)
	}
	return s, nil
}

// Clear empties the slot.
func (st *Store) Clear(ctx context.Context) error {
	return st.slot.Delete(ctx)
}

func (st *Store) invalid(s domain.ChatSession) string {
	switch {
	case len(s.Token) < st.minTokenLength:
		return "token too short"
	case !s.Consistent():
		return "inconsistent timestamps"
	case s.RefreshCount > st.maxRetries:
		return "retry budget exceeded"
	case s.Expired(st.now()):
		return "expired"
	}
	return ""
}

func (st *Store) discard(ctx context.Context, reason string) error {
	if err := st.slot.Delete(ctx); err != nil {
		return fmt.Errorf("chatsession: clear %s session: %w", reason, err)
	}
	return fmt.Errorf("%w: %s", ErrNoSession, reason)
}
