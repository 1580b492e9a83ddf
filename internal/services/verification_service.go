// Package services – VerificationService
//
// VerificationService validates proof-of-humanity tokens against Cloudflare
// Turnstile's siteverify endpoint and turns its error codes into user-facing
// guidance. Initial verifications and background refreshes share the call but
// get different messages for expired/duplicate tokens.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/livechat-bridge/internal/domain"
	"github.com/tbourn/livechat-bridge/internal/observability"
)

// DefaultTurnstileURL is Cloudflare's siteverify endpoint.
const DefaultTurnstileURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

// siteverify error codes
const (
	codeMissingSecret    = "missing-input-secret"
	codeInvalidSecret    = "invalid-input-secret"
	codeMissingResponse  = "missing-input-response"
	codeInvalidResponse  = "invalid-input-response"
	codeBadRequest       = "bad-request"
	codeTimeoutDuplicate = "timeout-or-duplicate"
	codeInternalError    = "internal-error"
)

// VerificationService is safe for concurrent use.
type VerificationService struct {
	SecretKey string
	VerifyURL string
	HTTP      *http.Client
	Metrics   *observability.RelayMetrics
}

// NewVerificationService returns a service posting to verifyURL (or the
// Turnstile default) with the given timeout.
func NewVerificationService(secret, verifyURL string, timeout time.Duration) *VerificationService {
	if strings.TrimSpace(verifyURL) == "" {
		verifyURL = DefaultTurnstileURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &VerificationService{
		SecretKey: secret,
		VerifyURL: verifyURL,
		HTTP:      &http.Client{Timeout: timeout},
	}
}

type siteverifyResponse struct {
	Success     bool     `json:"success"`
	ChallengeTS string   `json:"challenge_ts"`
	Hostname    string   `json:"hostname"`
	ErrorCodes  []string `json:"error-codes"`
	Action      string   `json:"action"`
}

// Verify checks req.Token. The returned result is always populated; err is
// nil on success, otherwise one of ErrVerifierNotConfigured,
// ErrVerificationFailed or ErrVerifierUnavailable.
func (s *VerificationService) Verify(ctx context.Context, req domain.VerifyRequest, remoteIP string) (res domain.VerifyResult, err error) {
	tr := otel.Tracer("services/VerificationService")
	ctx, span := tr.Start(ctx, "Verify",
		trace.WithAttributes(
			attribute.String("verify.session_id", req.SessionID),
			attribute.Bool("verify.refresh", req.RefreshAttempt),
		),
	)
	defer func() {
		span.SetAttributes(attribute.Bool("verify.success", res.Success))
		span.End()
		s.Metrics.Verification(req.RefreshAttempt, res.Success)
	}()

	if strings.TrimSpace(s.SecretKey) == "" {
		return failure([]string{codeMissingSecret}, req.RefreshAttempt), ErrVerifierNotConfigured
	}

	form := url.Values{}
	form.Set("secret", s.SecretKey)
	form.Set("response", req.Token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}
	if req.SessionID != "" {
		form.Set("idempotency_key", req.SessionID)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.VerifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return failure([]string{codeInternalError}, req.RefreshAttempt), fmt.Errorf("%w: %v", ErrVerifierUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := s.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return failure([]string{codeInternalError}, req.RefreshAttempt), fmt.Errorf("%w: %v", ErrVerifierUnavailable, err)
	}
	defer resp.Body.Close()

	var sv siteverifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&sv); err != nil {
		return failure([]string{codeInternalError}, req.RefreshAttempt),
			fmt.Errorf("%w: status %d: decode: %v", ErrVerifierUnavailable, resp.StatusCode, err)
	}

	if !sv.Success {
		return failure(sv.ErrorCodes, req.RefreshAttempt), ErrVerificationFailed
	}
	return domain.VerifyResult{
		Success:     true,
		ChallengeTS: sv.ChallengeTS,
		Hostname:    sv.Hostname,
	}, nil
}

// failure builds a failed result with a classified message and retry flag.
func failure(errorCodes []string, refresh bool) domain.VerifyResult {
	msg, retry := Classify(errorCodes, refresh)
	return domain.VerifyResult{
		Success:    false,
		ErrorCodes: errorCodes,
		CanRetry:   &retry,
		Message:    msg,
	}
}

// Classify maps siteverify error codes to a user-facing message and whether
// retrying makes sense. Configuration errors win over everything else.
func Classify(errorCodes []string, refresh bool) (message string, canRetry bool) {
	has := func(codes ...string) bool {
		for _, have := range errorCodes {
			for _, want := range codes {
				if have == want {
					return true
				}
			}
		}
		return false
	}

	switch {
	case has(codeMissingSecret, codeInvalidSecret):
		return "Verification is not configured correctly. Please contact support.", false
	case has(codeTimeoutDuplicate):
		if refresh {
			return "Your verification has expired. Please verify again to keep chatting.", true
		}
		return "Verification expired or was already used. Please try again.", true
	case has(codeMissingResponse, codeInvalidResponse, codeBadRequest):
		return "Verification request was invalid. Please refresh the challenge and try again.", true
	case has(codeInternalError):
		return "Verification service error. Please try again in a moment.", true
	default:
		return "Verification failed. Please try again.", true
	}
}
