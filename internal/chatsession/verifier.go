package chatsession

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tbourn/livechat-bridge/internal/domain"
)

// ErrVerifyFailed is returned when the verification endpoint rejects a token.
var ErrVerifyFailed = errors.New("chatsession: verification rejected")

// Verifier submits a token for verification.
type Verifier interface {
	Verify(ctx context.Context, req domain.VerifyRequest) (domain.VerifyResult, error)
}

// TokenSource produces a fresh challenge token for background refreshes.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func(ctx context.Context) (string, error)

// Token implements TokenSource.
func (f TokenSourceFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// HTTPVerifier posts {token, sessionId, refreshAttempt} as JSON to URL.
type HTTPVerifier struct {
	URL  string
	HTTP *http.Client
}

// NewHTTPVerifier returns an HTTPVerifier with a bounded client.
func NewHTTPVerifier(url string, timeout time.Duration) *HTTPVerifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPVerifier{URL: url, HTTP: &http.Client{Timeout: timeout}}
}

// Verify implements Verifier. A decoded body with success=false is returned
// alongside ErrVerifyFailed so callers can read canRetry and the message.
func (v *HTTPVerifier) Verify(ctx context.Context, req domain.VerifyRequest) (domain.VerifyResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return domain.VerifyResult{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.URL, bytes.NewReader(body))
	if err != nil {
		return domain.VerifyResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := v.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return domain.VerifyResult{}, fmt.Errorf("chatsession: verify request: %w", err)
	}
	defer resp.Body.Close()

	var res domain.VerifyResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&res); err != nil {
		return domain.VerifyResult{}, fmt.Errorf("chatsession: verify status %d: decode: %w", resp.StatusCode, err)
	}
	if !res.Success {
		return res, fmt.Errorf("%w (status %d): %s", ErrVerifyFailed, resp.StatusCode, res.Message)
	}
	return res, nil
}
