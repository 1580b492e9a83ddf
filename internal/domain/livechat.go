// Package domain defines the data model shared by the webhook bridge, the
// relay clients, and the client-side session manager. Wire types mirror the
// Rocket.Chat Livechat webhook payload; normalized types (InboundMessage,
// RelayTask) are what the rest of the application operates on.
package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// EventTypeMessage is the Livechat webhook type for ordinary chat messages.
// Other types (LivechatSession, LivechatSessionTaken, ...) carry no utterance.
const EventTypeMessage = "Message"

// LivechatEvent is one webhook delivery from the chat platform.
type LivechatEvent struct {
	// ID is the conversation (room) identifier.
	ID       string        `json:"_id" validate:"required"`
	Type     string        `json:"type"`
	Visitor  Visitor       `json:"visitor"`
	Agent    *Agent        `json:"agent,omitempty"`
	Messages []ChatMessage `json:"messages" validate:"required"`
}

// Visitor is the end user on the website side of the conversation.
type Visitor struct {
	ID     string    `json:"_id"`
	Token  string    `json:"token"`
	Name   string    `json:"name"`
	Emails EmailList `json:"email"`
}

// Agent is the platform user currently assigned to the conversation.
type Agent struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
}

// Sender identifies the author of a single message.
type Sender struct {
	ID       string `json:"_id" validate:"required"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// ChatMessage is a single entry of the webhook's messages array.
type ChatMessage struct {
	ID     string    `json:"_id" validate:"required"`
	U      Sender    `json:"u"`
	Msg    string    `json:"msg"`
	TS     Timestamp `json:"ts"`
	RoomID string    `json:"rid"`
	// T is the system message type ("uj", "livechat-close", ...); empty for
	// ordinary text.
	T string `json:"t,omitempty"`
}

// AgentRef is the assigned agent as seen by the bot-loop guard.
type AgentRef struct {
	ID       string
	Username string
}

// InboundMessage is the normalized, immutable view of the message being
// evaluated for one webhook invocation.
type InboundMessage struct {
	ConversationID string
	MessageID      string
	RoomID         string
	EventType      string
	MessageType    string

	SenderID       string
	SenderUsername string
	SenderName     string

	Text      string
	Timestamp time.Time

	AssignedAgent *AgentRef

	VisitorID    string
	VisitorToken string
	VisitorName  string
	VisitorEmail string
}

// Latest returns the most recent message of the event. Messages are ordered
// by timestamp; on ties or missing timestamps the later array position wins.
// ok is false when the event carries no messages.
func (e *LivechatEvent) Latest() (msg ChatMessage, ok bool) {
	if len(e.Messages) == 0 {
		return ChatMessage{}, false
	}
	best := 0
	for i := 1; i < len(e.Messages); i++ {
		if !e.Messages[i].TS.Time.Before(e.Messages[best].TS.Time) {
			best = i
		}
	}
	return e.Messages[best], true
}

// Inbound normalizes msg in the context of the event it belongs to.
func (e *LivechatEvent) Inbound(msg ChatMessage) InboundMessage {
	in := InboundMessage{
		ConversationID: e.ID,
		MessageID:      msg.ID,
		RoomID:         msg.RoomID,
		EventType:      e.Type,
		MessageType:    msg.T,
		SenderID:       msg.U.ID,
		SenderUsername: msg.U.Username,
		SenderName:     msg.U.Name,
		Text:           msg.Msg,
		Timestamp:      msg.TS.Time,
		VisitorID:      e.Visitor.ID,
		VisitorToken:   e.Visitor.Token,
		VisitorName:    e.Visitor.Name,
		VisitorEmail:   e.Visitor.Emails.First(),
	}
	if in.RoomID == "" {
		in.RoomID = e.ID
	}
	if e.Agent != nil && e.Agent.ID != "" {
		in.AssignedAgent = &AgentRef{ID: e.Agent.ID, Username: e.Agent.Username}
	}
	return in
}

// DedupKey is the key under which this delivery is deduplicated.
func (m InboundMessage) DedupKey() string {
	return m.MessageID + ":" + m.SenderID
}

// SessionID is the stable NLU session identity for the visitor: the visitor's
// contact token, falling back to the sender id.
func (m InboundMessage) SessionID() string {
	if t := strings.TrimSpace(m.VisitorToken); t != "" {
		return t
	}
	return m.SenderID
}

// DisplayName is the best available human-readable name of the visitor.
func (m InboundMessage) DisplayName() string {
	for _, n := range []string{m.SenderName, m.VisitorName, m.SenderUsername} {
		if s := strings.TrimSpace(n); s != "" {
			return s
		}
	}
	return ""
}

// EmailList accepts the visitor email field in any of the shapes the
// platform emits: a single string, an array of strings, or an array of
// {"address": "..."} objects.
type EmailList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *EmailList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*l = nil
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*l = compactEmails([]string{s})
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			out = append(out, s)
			continue
		}
		var obj struct {
			Address string `json:"address"`
		}
		if err := json.Unmarshal(r, &obj); err != nil {
			return err
		}
		out = append(out, obj.Address)
	}
	*l = compactEmails(out)
	return nil
}

// First returns the first address or "".
func (l EmailList) First() string {
	if len(l) == 0 {
		return ""
	}
	return l[0]
}

func compactEmails(in []string) EmailList {
	out := make(EmailList, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Timestamp decodes the message "ts" field, which may be an RFC 3339 string,
// epoch milliseconds, or an EJSON {"$date": ...} wrapper. Unparsable values
// decode to the zero time rather than failing the whole payload.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		t.Time = time.Time{}
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		t.Time = parseTimeString(s)
	case b[0] == '{':
		var wrap struct {
			Date json.RawMessage `json:"$date"`
		}
		if err := json.Unmarshal(b, &wrap); err != nil {
			return err
		}
		if len(wrap.Date) == 0 {
			t.Time = time.Time{}
			return nil
		}
		return t.UnmarshalJSON(wrap.Date)
	default:
		ms, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			t.Time = time.Time{}
			return nil
		}
		t.Time = time.UnixMilli(ms).UTC()
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.Time.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}

func parseTimeString(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC()
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC()
	}
	return time.Time{}
}
