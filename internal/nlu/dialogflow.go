// Package nlu – Dialogflow CX relay client
//
// Client sends one visitor utterance to a Dialogflow CX agent and returns the
// agent's reply. The session path is built from (project, region, agent,
// sessionID) so a visitor's consecutive turns share dialogue state.
//
// DetectIntent never returns a Go error: transport and configuration failures
// are reported as Result{Success:false, Err:...}. Missing project, agent or
// service credentials short-circuit with ErrNotConfigured before any network
// call is attempted.
//
// Observability: DetectIntent is wrapped in an OpenTelemetry span carrying the
// session id, detected intent and confidence.
package nlu

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	cx "cloud.google.com/go/dialogflow/cx/apiv3"
	"cloud.google.com/go/dialogflow/cx/apiv3/cxpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/structpb"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/livechat-bridge/internal/config"
)

const defaultFallback = "I didn't understand that. Could you please rephrase?"

var (
	// ErrNotConfigured is returned when project, agent or credentials are missing.
	ErrNotConfigured = errors.New("nlu: dialogflow not configured")
	// ErrEmptyText is returned for blank utterances.
	ErrEmptyText = errors.New("nlu: empty text")
	// ErrEmptySession is returned when no session id is supplied.
	ErrEmptySession = errors.New("nlu: empty session id")
)

// Request is one visitor turn.
type Request struct {
	Text      string
	SessionID string
	Email     string // optional, forwarded as a session parameter
	Name      string // optional, forwarded as a session parameter
}

// Result is the outcome of a DetectIntent call.
type Result struct {
	Success    bool
	Text       string
	Intent     string
	Confidence float32
	Err        error
}

// sessionsClient is the subset of *cx.SessionsClient used here.
type sessionsClient interface {
	DetectIntent(ctx context.Context, req *cxpb.DetectIntentRequest, opts ...gax.CallOption) (*cxpb.DetectIntentResponse, error)
	Close() error
}

type sessionsFactory func(ctx context.Context, opts ...option.ClientOption) (sessionsClient, error)

func newCXSessions(ctx context.Context, opts ...option.ClientOption) (sessionsClient, error) {
	c, err := cx.NewSessionsClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Client is safe for concurrent use. The underlying gRPC client is created
// lazily on first use and reused afterwards.
type Client struct {
	cfg     config.NLUConfig
	lg      zerolog.Logger
	factory sessionsFactory

	// Observe, if set, receives the latency and outcome of every call.
	Observe func(success bool, elapsed time.Duration)

	mu       sync.Mutex
	sessions sessionsClient
}

// New returns a Client for cfg. lg may be nil to use the global logger.
func New(cfg config.NLUConfig, lg *zerolog.Logger) *Client {
	l := log.Logger
	if lg != nil {
		l = *lg
	}
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "global"
	}
	if strings.TrimSpace(cfg.LanguageCode) == "" {
		cfg.LanguageCode = "en"
	}
	if strings.TrimSpace(cfg.FallbackText) == "" {
		cfg.FallbackText = defaultFallback
	}
	return &Client{
		cfg:     cfg,
		lg:      l.With().Str("component", "nlu").Logger(),
		factory: newCXSessions,
	}
}

// Configured reports whether project, agent and credentials are all present.
func (c *Client) Configured() bool {
	return c.cfg.ProjectID != "" && c.cfg.AgentID != "" &&
		(c.cfg.CredentialsJSON != "" || c.cfg.CredentialsFile != "")
}

// Endpoint returns the regional API endpoint for region.
func Endpoint(region string) string {
	region = strings.ToLower(strings.TrimSpace(region))
	if region == "" || region == "global" {
		return "dialogflow.googleapis.com:443"
	}
	return region + "-dialogflow.googleapis.com:443"
}

// SessionPath builds the fully-qualified CX session name.
func SessionPath(project, region, agent, sessionID string) string {
	return fmt.Sprintf("projects/%s/locations/%s/agents/%s/sessions/%s", project, region, agent, sessionID)
}

// DetectIntent submits req as a single text query.
func (c *Client) DetectIntent(ctx context.Context, req Request) (res Result) {
	tr := otel.Tracer("nlu/Client")
	ctx, span := tr.Start(ctx, "DetectIntent",
		trace.WithAttributes(
			attribute.String("nlu.session_id", req.SessionID),
			attribute.String("nlu.region", c.cfg.Region),
		),
	)
	start := time.Now()
	defer func() {
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		} else {
			span.SetAttributes(
				attribute.String("nlu.intent", res.Intent),
				attribute.Float64("nlu.confidence", float64(res.Confidence)),
			)
		}
		span.End()
		if c.Observe != nil {
			c.Observe(res.Success, time.Since(start))
		}
	}()

	text := strings.TrimSpace(req.Text)
	switch {
	case !c.Configured():
		return Result{Err: ErrNotConfigured}
	case text == "":
		return Result{Err: ErrEmptyText}
	case strings.TrimSpace(req.SessionID) == "":
		return Result{Err: ErrEmptySession}
	}

	sessions, err := c.client(ctx)
	if err != nil {
		c.lg.Error().Err(err).Msg("dialogflow client init failed")
		return Result{Err: err}
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	resp, err := sessions.DetectIntent(ctx, c.buildRequest(text, req))
	if err != nil {
		c.lg.Warn().Err(err).Str("session_id", req.SessionID).Msg("dialogflow detect intent failed")
		return Result{Err: fmt.Errorf("nlu: detect intent: %w", err)}
	}

	qr := resp.GetQueryResult()
	reply := joinText(qr.GetResponseMessages())
	if reply == "" {
		reply = c.cfg.FallbackText
	}
	return Result{
		Success:    true,
		Text:       reply,
		Intent:     qr.GetMatch().GetIntent().GetDisplayName(),
		Confidence: qr.GetMatch().GetConfidence(),
	}
}

// Close releases the gRPC connection if one was opened.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions == nil {
		return nil
	}
	err := c.sessions.Close()
	c.sessions = nil
	return err
}

func (c *Client) client(ctx context.Context) (sessionsClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions != nil {
		return c.sessions, nil
	}

	opts := []option.ClientOption{option.WithEndpoint(Endpoint(c.cfg.Region))}
	if c.cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(c.cfg.CredentialsJSON)))
	} else {
		opts = append(opts, option.WithCredentialsFile(c.cfg.CredentialsFile))
	}

	s, err := c.factory(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("nlu: new sessions client: %w", err)
	}
	c.sessions = s
	return s, nil
}

func (c *Client) buildRequest(text string, req Request) *cxpb.DetectIntentRequest {
	out := &cxpb.DetectIntentRequest{
		Session: SessionPath(c.cfg.ProjectID, c.cfg.Region, c.cfg.AgentID, req.SessionID),
		QueryInput: &cxpb.QueryInput{
			Input:        &cxpb.QueryInput_Text{Text: &cxpb.TextInput{Text: text}},
			LanguageCode: c.cfg.LanguageCode,
		},
	}

	params := map[string]any{}
	if req.Email != "" {
		params["visitor_email"] = req.Email
	}
	if req.Name != "" {
		params["visitor_name"] = req.Name
	}
	if len(params) > 0 {
		if st, err := structpb.NewStruct(params); err == nil {
			out.QueryParams = &cxpb.QueryParameters{Parameters: st}
		}
	}
	return out
}

// joinText concatenates every text segment the agent returned.
func joinText(msgs []*cxpb.ResponseMessage) string {
	var parts []string
	for _, m := range msgs {
		for _, t := range m.GetText().GetText() {
			if t = strings.TrimSpace(t); t != "" {
				parts = append(parts, t)
			}
		}
	}
	return strings.Join(parts, "\n")
}
