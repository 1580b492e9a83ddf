// Package services holds the relay's business logic: the webhook ingest
// pipeline and background task runner (BridgeService), and server-side human
// verification (VerificationService).
//
// This file centralizes the service-level error values. Translation into HTTP
// status codes happens in the handler layer.
package services

import "errors"

// Webhook pipeline errors.
var (
	// ErrDedupUnavailable is returned when the dedup backend cannot answer;
	// the delivery is rejected so the platform may redeliver it.
	ErrDedupUnavailable = errors.New("dedup backend unavailable")

	// ErrNLUFailed marks a task whose NLU call did not produce a reply.
	ErrNLUFailed = errors.New("nlu request failed")

	// ErrRelayFailed marks a task whose reply could not be posted.
	ErrRelayFailed = errors.New("posting reply failed")
)

// Verification errors.
var (
	// ErrVerifierNotConfigured is returned when no verification secret is set.
	ErrVerifierNotConfigured = errors.New("verification not configured")

	// ErrVerificationFailed is returned when the challenge service rejected
	// the token. The accompanying result carries error codes and retry advice.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrVerifierUnavailable is returned when the challenge service could not
	// be reached or answered with garbage.
	ErrVerifierUnavailable = errors.New("verification service unavailable")
)
