package domain

import (
	"encoding/json"
	"testing"
	"time"
)

const sampleEvent = `{
  "_id": "room1",
  "type": "Message",
  "visitor": {"_id": "v1", "token": "tok-v1", "name": "Joe", "email": [{"address": "joe@example.com"}]},
  "agent": {"_id": "a1", "username": "support"},
  "messages": [
    {"_id": "m2", "u": {"_id": "v1", "username": "joe", "name": "Joe"}, "msg": "second", "ts": "2026-01-02T10:00:05Z", "rid": "room1"},
    {"_id": "m1", "u": {"_id": "v1", "username": "joe", "name": "Joe"}, "msg": "first",  "ts": "2026-01-02T10:00:00Z", "rid": "room1"}
  ]
}`

func TestLivechatEvent_Decode_Latest_Inbound(t *testing.T) {
	var ev LivechatEvent
	if err := json.Unmarshal([]byte(sampleEvent), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}

	msg, ok := ev.Latest()
	if !ok {
		t.Fatalf("expected a latest message")
	}
	// m2 has the greater timestamp even though it is first in the array.
	if msg.ID != "m2" {
		t.Fatalf("latest = %q; want m2", msg.ID)
	}

	in := ev.Inbound(msg)
	if in.ConversationID != "room1" || in.SenderID != "v1" || in.Text != "second" {
		t.Fatalf("unexpected inbound: %+v", in)
	}
	if in.AssignedAgent == nil || in.AssignedAgent.ID != "a1" {
		t.Fatalf("expected assigned agent a1, got %+v", in.AssignedAgent)
	}
	if in.VisitorEmail != "joe@example.com" {
		t.Fatalf("visitor email = %q", in.VisitorEmail)
	}
	if in.DedupKey() != "m2:v1" {
		t.Fatalf("dedup key = %q", in.DedupKey())
	}
	if in.SessionID() != "tok-v1" {
		t.Fatalf("session id = %q", in.SessionID())
	}
}

func TestLivechatEvent_Latest_TiesPreferLaterPosition(t *testing.T) {
	ev := LivechatEvent{Messages: []ChatMessage{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	msg, ok := ev.Latest()
	if !ok || msg.ID != "c" {
		t.Fatalf("latest = %q; want c", msg.ID)
	}
	if _, ok := (&LivechatEvent{}).Latest(); ok {
		t.Fatalf("empty event must report ok=false")
	}
}

func TestInboundMessage_SessionID_FallsBackToSender(t *testing.T) {
	m := InboundMessage{SenderID: "v1", VisitorToken: "   "}
	if m.SessionID() != "v1" {
		t.Fatalf("session id = %q; want v1", m.SessionID())
	}
}

func TestInboundMessage_RoomFallsBackToConversation(t *testing.T) {
	ev := LivechatEvent{ID: "room9"}
	in := ev.Inbound(ChatMessage{ID: "m", U: Sender{ID: "v"}})
	if in.RoomID != "room9" {
		t.Fatalf("room id = %q; want room9", in.RoomID)
	}
	if in.AssignedAgent != nil {
		t.Fatalf("no agent expected")
	}
}

func TestEmailList_Shapes(t *testing.T) {
	cases := map[string][]string{
		`"a@x.io"`:                      {"a@x.io"},
		`["a@x.io", " ", "b@x.io"]`:     {"a@x.io", "b@x.io"},
		`[{"address": "c@x.io"}]`:       {"c@x.io"},
		`null`:                          nil,
		`[]`:                            nil,
	}
	for in, want := range cases {
		var l EmailList
		if err := json.Unmarshal([]byte(in), &l); err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if len(l) != len(want) {
			t.Fatalf("%s: got %#v want %#v", in, l, want)
		}
		for i := range want {
			if l[i] != want[i] {
				t.Fatalf("%s: got %#v want %#v", in, l, want)
			}
		}
	}
	if (EmailList{}).First() != "" {
		t.Fatalf("First on empty list must be empty")
	}
}

func TestTimestamp_Shapes(t *testing.T) {
	want := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	for _, in := range []string{
		`"2026-01-02T10:00:00Z"`,
		`1767348000000`,
		`{"$date": 1767348000000}`,
		`{"$date": "2026-01-02T10:00:00Z"}`,
	} {
		var ts Timestamp
		if err := json.Unmarshal([]byte(in), &ts); err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if !ts.Equal(want) {
			t.Fatalf("%s: got %v want %v", in, ts.Time, want)
		}
	}

	var junk Timestamp
	if err := json.Unmarshal([]byte(`"not a time"`), &junk); err != nil || !junk.IsZero() {
		t.Fatalf("unparsable string should decode to zero time, got %v err=%v", junk.Time, err)
	}

	b, err := json.Marshal(Timestamp{Time: want})
	if err != nil || string(b) != `"2026-01-02T10:00:00Z"` {
		t.Fatalf("marshal = %s err=%v", b, err)
	}
}
