package domain

import "time"

// RelayTask is the unit of background work handed from the webhook handler to
// the dispatcher. It is never persisted: a task lost to a restart is not
// retried because the source event was already acknowledged.
type RelayTask struct {
	ConversationID string
	MessageID      string
	RoomID         string
	Text           string
	SessionID      string
	DisplayName    string
	Email          string
	ReceivedAt     time.Time
}

// NewRelayTask builds the task for an admitted inbound message.
func NewRelayTask(m InboundMessage, now time.Time) RelayTask {
	return RelayTask{
		ConversationID: m.ConversationID,
		MessageID:      m.MessageID,
		RoomID:         m.RoomID,
		Text:           m.Text,
		SessionID:      m.SessionID(),
		DisplayName:    m.DisplayName(),
		Email:          m.VisitorEmail,
		ReceivedAt:     now,
	}
}

// ChatSession is the client-held proof-of-humanity token plus its expiry and
// refresh bookkeeping.
//
// Invariants: ExpiresAt > LastRefresh >= VerifiedAt, and RefreshCount never
// exceeds the manager's retry budget.
type ChatSession struct {
	Token        string    `json:"token"`
	VerifiedAt   time.Time `json:"verifiedAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
	RefreshCount int       `json:"refreshCount"`
	LastRefresh  time.Time `json:"lastRefresh"`
}

// Expired reports whether the session is past its expiry at now.
func (s ChatSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Consistent reports whether the timestamp invariants hold.
func (s ChatSession) Consistent() bool {
	if s.VerifiedAt.IsZero() || s.LastRefresh.IsZero() || s.ExpiresAt.IsZero() {
		return false
	}
	return s.ExpiresAt.After(s.LastRefresh) && !s.LastRefresh.Before(s.VerifiedAt) && s.RefreshCount >= 0
}

// SessionSlot is a single named storage slot holding one serialized value,
// the local-storage analogue used by the SQLite-backed session store.
type SessionSlot struct {
	Key       string    `gorm:"type:varchar(128);primaryKey"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the database table name for SessionSlot.
func (SessionSlot) TableName() string { return "session_slots" }
