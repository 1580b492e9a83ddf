package nlu

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/dialogflow/cx/apiv3/cxpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/tbourn/livechat-bridge/internal/config"
)

type fakeSessions struct {
	detect func(ctx context.Context, req *cxpb.DetectIntentRequest) (*cxpb.DetectIntentResponse, error)
	calls  int
	closed bool
	last   *cxpb.DetectIntentRequest
}

func (f *fakeSessions) DetectIntent(ctx context.Context, req *cxpb.DetectIntentRequest, _ ...gax.CallOption) (*cxpb.DetectIntentResponse, error) {
	f.calls++
	f.last = req
	return f.detect(ctx, req)
}

func (f *fakeSessions) Close() error { f.closed = true; return nil }

func configured() config.NLUConfig {
	return config.NLUConfig{
		ProjectID:       "proj",
		Region:          "europe-west2",
		AgentID:         "agent-1",
		LanguageCode:    "en",
		CredentialsJSON: `{"type":"service_account"}`,
		Timeout:         time.Second,
	}
}

func newTestClient(cfg config.NLUConfig, fs *fakeSessions) *Client {
	lg := zerolog.Nop()
	c := New(cfg, &lg)
	c.factory = func(context.Context, ...option.ClientOption) (sessionsClient, error) { return fs, nil }
	return c
}

func textMsg(parts ...string) *cxpb.ResponseMessage {
	return &cxpb.ResponseMessage{
		Message: &cxpb.ResponseMessage_Text_{Text: &cxpb.ResponseMessage_Text{Text: parts}},
	}
}

func TestEndpointAndSessionPath(t *testing.T) {
	if got := Endpoint("global"); got != "dialogflow.googleapis.com:443" {
		t.Fatalf("global endpoint = %q", got)
	}
	if got := Endpoint("europe-west2"); got != "europe-west2-dialogflow.googleapis.com:443" {
		t.Fatalf("regional endpoint = %q", got)
	}
	want := "projects/p/locations/us-central1/agents/a/sessions/s1"
	if got := SessionPath("p", "us-central1", "a", "s1"); got != want {
		t.Fatalf("SessionPath = %q", got)
	}
}

func TestDetectIntent_JoinsSegments(t *testing.T) {
	fs := &fakeSessions{detect: func(_ context.Context, req *cxpb.DetectIntentRequest) (*cxpb.DetectIntentResponse, error) {
		return &cxpb.DetectIntentResponse{QueryResult: &cxpb.QueryResult{
			ResponseMessages: []*cxpb.ResponseMessage{textMsg("Hi there!", ""), {}, textMsg("How can I help?")},
			Match: &cxpb.Match{
				Intent:     &cxpb.Intent{DisplayName: "greeting"},
				Confidence: 0.87,
			},
		}}, nil
	}}
	c := newTestClient(configured(), fs)

	res := c.DetectIntent(context.Background(), Request{Text: " hello ", SessionID: "tok-1", Email: "joe@example.com", Name: "Joe"})
	if !res.Success || res.Err != nil {
		t.Fatalf("unexpected failure: %+v", res)
	}
	if res.Text != "Hi there!\nHow can I help?" {
		t.Fatalf("Text = %q", res.Text)
	}
	if res.Intent != "greeting" || res.Confidence != float32(0.87) {
		t.Fatalf("intent/confidence = %q/%v", res.Intent, res.Confidence)
	}

	req := fs.last
	if req.GetSession() != "projects/proj/locations/europe-west2/agents/agent-1/sessions/tok-1" {
		t.Fatalf("session = %q", req.GetSession())
	}
	if req.GetQueryInput().GetText().GetText() != "hello" {
		t.Fatalf("query text = %q", req.GetQueryInput().GetText().GetText())
	}
	if req.GetQueryInput().GetLanguageCode() != "en" {
		t.Fatalf("language = %q", req.GetQueryInput().GetLanguageCode())
	}
	params := req.GetQueryParams().GetParameters().AsMap()
	if params["visitor_email"] != "joe@example.com" || params["visitor_name"] != "Joe" {
		t.Fatalf("params = %v", params)
	}
}

func TestDetectIntent_FallbackWhenNoSegments(t *testing.T) {
	fs := &fakeSessions{detect: func(context.Context, *cxpb.DetectIntentRequest) (*cxpb.DetectIntentResponse, error) {
		return &cxpb.DetectIntentResponse{QueryResult: &cxpb.QueryResult{}}, nil
	}}
	c := newTestClient(configured(), fs)

	res := c.DetectIntent(context.Background(), Request{Text: "hmm", SessionID: "s"})
	if !res.Success || res.Text != defaultFallback {
		t.Fatalf("expected fallback, got %+v", res)
	}
	if fs.last.GetQueryParams() != nil {
		t.Fatal("no parameters expected without email/name")
	}
}

func TestDetectIntent_TransportErrorIsResult(t *testing.T) {
	boom := errors.New("unavailable")
	fs := &fakeSessions{detect: func(context.Context, *cxpb.DetectIntentRequest) (*cxpb.DetectIntentResponse, error) {
		return nil, boom
	}}
	c := newTestClient(configured(), fs)

	var observed []bool
	c.Observe = func(ok bool, _ time.Duration) { observed = append(observed, ok) }

	res := c.DetectIntent(context.Background(), Request{Text: "hi", SessionID: "s"})
	if res.Success || !errors.Is(res.Err, boom) {
		t.Fatalf("expected wrapped transport error, got %+v", res)
	}
	if len(observed) != 1 || observed[0] {
		t.Fatalf("observe = %v", observed)
	}
}

func TestDetectIntent_NotConfiguredShortCircuits(t *testing.T) {
	for name, mod := range map[string]func(c *config.NLUConfig){
		"no project":     func(c *config.NLUConfig) { c.ProjectID = "" },
		"no agent":       func(c *config.NLUConfig) { c.AgentID = "" },
		"no credentials": func(c *config.NLUConfig) { c.CredentialsJSON = "" },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := configured()
			mod(&cfg)
			fs := &fakeSessions{}
			c := newTestClient(cfg, fs)
			res := c.DetectIntent(context.Background(), Request{Text: "hi", SessionID: "s"})
			if res.Success || !errors.Is(res.Err, ErrNotConfigured) {
				t.Fatalf("expected ErrNotConfigured, got %+v", res)
			}
			if fs.calls != 0 {
				t.Fatal("no network call expected")
			}
		})
	}
}

func TestDetectIntent_InputValidation(t *testing.T) {
	c := newTestClient(configured(), &fakeSessions{})
	if res := c.DetectIntent(context.Background(), Request{Text: "  ", SessionID: "s"}); !errors.Is(res.Err, ErrEmptyText) {
		t.Fatalf("blank text: %+v", res)
	}
	if res := c.DetectIntent(context.Background(), Request{Text: "hi"}); !errors.Is(res.Err, ErrEmptySession) {
		t.Fatalf("blank session: %+v", res)
	}
}

func TestClient_LazyInitAndClose(t *testing.T) {
	fs := &fakeSessions{detect: func(context.Context, *cxpb.DetectIntentRequest) (*cxpb.DetectIntentResponse, error) {
		return &cxpb.DetectIntentResponse{}, nil
	}}
	lg := zerolog.Nop()
	c := New(configured(), &lg)
	builds := 0
	c.factory = func(_ context.Context, opts ...option.ClientOption) (sessionsClient, error) {
		builds++
		if len(opts) != 2 {
			t.Fatalf("expected endpoint + credentials options, got %d", len(opts))
		}
		return fs, nil
	}

	c.DetectIntent(context.Background(), Request{Text: "a", SessionID: "s"})
	c.DetectIntent(context.Background(), Request{Text: "b", SessionID: "s"})
	if builds != 1 {
		t.Fatalf("factory called %d times; want 1", builds)
	}
	if err := c.Close(); err != nil || !fs.closed {
		t.Fatalf("close: err=%v closed=%v", err, fs.closed)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestClient_FactoryError(t *testing.T) {
	lg := zerolog.Nop()
	c := New(configured(), &lg)
	c.factory = func(context.Context, ...option.ClientOption) (sessionsClient, error) {
		return nil, errors.New("bad creds")
	}
	res := c.DetectIntent(context.Background(), Request{Text: "a", SessionID: "s"})
	if res.Success || res.Err == nil {
		t.Fatalf("expected init failure, got %+v", res)
	}
}

func TestNew_Defaults(t *testing.T) {
	c := New(config.NLUConfig{}, nil)
	if c.cfg.Region != "global" || c.cfg.LanguageCode != "en" || c.cfg.FallbackText != defaultFallback {
		t.Fatalf("defaults not applied: %+v", c.cfg)
	}
	if c.Configured() {
		t.Fatal("empty config must not be configured")
	}
}
