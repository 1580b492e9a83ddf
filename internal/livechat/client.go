// Package livechat is the outbound half of the relay: a small Rocket.Chat REST
// client that toggles the bot's typing indicator and posts replies into a
// Livechat room.
//
// Calls are authenticated with the bot account's personal access token
// (X-Auth-Token / X-User-Id). Non-2xx responses come back as a failed Result
// with the status code and raw body preserved; nothing is retried here.
package livechat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/livechat-bridge/internal/config"
)

const (
	pathPostMessage = "/api/v1/chat.postMessage"
	pathTyping      = "/api/v1/method.call/stream-notify-room"

	// cap on response bodies kept for diagnostics
	maxBody = 64 << 10
)

var (
	// ErrNotConfigured is returned when the base URL or credentials are missing.
	ErrNotConfigured = errors.New("livechat: client not configured")
	// ErrStatus marks a non-2xx response.
	ErrStatus = errors.New("livechat: unexpected status")
	// ErrEmptyRoom is returned when no room id is given.
	ErrEmptyRoom = errors.New("livechat: empty room id")
)

// Result describes one REST call.
type Result struct {
	Success    bool
	StatusCode int
	Body       string
	Err        error
}

// Client is safe for concurrent use.
type Client struct {
	cfg  config.LiveChatConfig
	http *http.Client
	lg   zerolog.Logger
}

// New returns a Client. httpClient may be nil; a client with cfg.Timeout is
// used then.
func New(cfg config.LiveChatConfig, httpClient *http.Client, lg *zerolog.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	l := log.Logger
	if lg != nil {
		l = *lg
	}
	return &Client{
		cfg:  cfg,
		http: httpClient,
		lg:   l.With().Str("component", "livechat").Logger(),
	}
}

// Configured reports whether base URL and credentials are set.
func (c *Client) Configured() bool {
	return c.cfg.BaseURL != "" && c.cfg.AuthToken != "" && c.cfg.UserID != ""
}

type postMessageBody struct {
	RoomID string `json:"roomId"`
	Text   string `json:"text"`
	Alias  string `json:"alias,omitempty"`
}

// PostMessage posts text into room under the configured alias. Callers should
// invoke it at most once per task; a retry posts a literal duplicate.
func (c *Client) PostMessage(ctx context.Context, roomID, text string) Result {
	if roomID == "" {
		return Result{Err: ErrEmptyRoom}
	}
	return c.call(ctx, "PostMessage", roomID, pathPostMessage, postMessageBody{
		RoomID: roomID,
		Text:   text,
		Alias:  c.cfg.Alias,
	})
}

type methodCallBody struct {
	Message string `json:"message"`
}

type ddpMethod struct {
	Msg    string `json:"msg"`
	ID     string `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// SetTyping starts or stops the bot's typing indicator in room. Repeating a
// call re-sends the same indicator state.
func (c *Client) SetTyping(ctx context.Context, roomID string, typing bool) Result {
	if roomID == "" {
		return Result{Err: ErrEmptyRoom}
	}
	inner, err := json.Marshal(ddpMethod{
		Msg:    "method",
		ID:     "1",
		Method: "stream-notify-room",
		Params: []any{roomID + "/typing", c.cfg.BotUsername, typing},
	})
	if err != nil {
		return Result{Err: err}
	}
	name := "SetTyping"
	if !typing {
		name = "ClearTyping"
	}
	return c.call(ctx, name, roomID, pathTyping, methodCallBody{Message: string(inner)})
}

func (c *Client) call(ctx context.Context, op, roomID, path string, payload any) (res Result) {
	tr := otel.Tracer("livechat/Client")
	ctx, span := tr.Start(ctx, op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("livechat.room_id", roomID),
			attribute.String("http.path", path),
		),
	)
	defer func() {
		span.SetAttributes(attribute.Int("http.status_code", res.StatusCode))
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		}
		span.End()
	}()

	if !c.Configured() {
		return Result{Err: ErrNotConfigured}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{Err: fmt.Errorf("livechat: encode %s: %w", op, err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return Result{Err: fmt.Errorf("livechat: build %s: %w", op, err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Auth-Token", c.cfg.AuthToken)
	req.Header.Set("X-User-Id", c.cfg.UserID)

	resp, err := c.http.Do(req)
	if err != nil {
		c.lg.Warn().Err(err).Str("op", op).Str("room_id", roomID).Msg("livechat request failed")
		return Result{Err: fmt.Errorf("livechat: %s: %w", op, err)}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	res = Result{StatusCode: resp.StatusCode, Body: string(raw)}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res.Err = fmt.Errorf("%w: %s returned %d", ErrStatus, op, resp.StatusCode)
		c.lg.Warn().
			Str("op", op).
			Str("room_id", roomID).
			Int("status", resp.StatusCode).
			Str("body", res.Body).
			Msg("livechat non-2xx response")
		return res
	}
	res.Success = true
	return res
}
