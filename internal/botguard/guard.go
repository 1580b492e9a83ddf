// Package botguard – loop prevention and admission filtering
//
// The relay's own replies re-enter the chat platform as ordinary messages.
// Guard.Classify recognises them (and any other agent/bot traffic) so the
// pipeline can drop them before they reach the NLU agent. Guard.Admit is the
// separate content filter for visitor messages that carry nothing to answer.
package botguard

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/tbourn/livechat-bridge/internal/domain"
)

// Class is the result of sender classification.
type Class string

const (
	AgentSelf        Class = "agent_self"
	KnownBot         Class = "known_bot"
	AssistantPattern Class = "assistant_pattern"
	Visitor          Class = "visitor"
)

// IsBot reports whether the class must be skipped by the pipeline.
func (c Class) IsBot() bool { return c != Visitor }

// Guard holds the configured bot usernames and display-name patterns. It is
// immutable after construction and safe for concurrent use.
type Guard struct {
	usernames map[string]struct{}
	patterns  []string
}

// New builds a Guard. Usernames match exactly (after trimming); patterns match
// as case-insensitive substrings of the sender's display name.
func New(usernames, patterns []string) *Guard {
	g := &Guard{usernames: make(map[string]struct{}, len(usernames))}
	fold := cases.Fold()
	for _, u := range usernames {
		if u = strings.TrimSpace(u); u != "" {
			g.usernames[u] = struct{}{}
		}
	}
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			g.patterns = append(g.patterns, fold.String(p))
		}
	}
	return g
}

// Classify applies, in order: assigned agent id, bot username set, assistant
// display-name patterns. Anything else is a Visitor.
func (g *Guard) Classify(m domain.InboundMessage) Class {
	if m.AssignedAgent != nil && m.AssignedAgent.ID != "" && m.SenderID == m.AssignedAgent.ID {
		return AgentSelf
	}
	if _, ok := g.usernames[strings.TrimSpace(m.SenderUsername)]; ok {
		return KnownBot
	}
	if name := strings.TrimSpace(m.SenderName); name != "" {
		// a Caser is not safe for concurrent use
		folded := cases.Fold().String(name)
		for _, p := range g.patterns {
			if strings.Contains(folded, p) {
				return AssistantPattern
			}
		}
	}
	return Visitor
}

// Admit reports whether a visitor message carries content worth answering:
// the sender is the conversation's visitor, the text is non-blank and the
// event is an ordinary chat message rather than a system/typing notice.
func (g *Guard) Admit(m domain.InboundMessage) bool {
	if m.VisitorID == "" || m.SenderID != m.VisitorID {
		return false
	}
	if strings.TrimSpace(m.Text) == "" {
		return false
	}
	if m.EventType != domain.EventTypeMessage {
		return false
	}
	return m.MessageType == ""
}
