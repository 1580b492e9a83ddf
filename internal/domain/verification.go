package domain

// VerifyRequest is the body of a human-verification call. RefreshAttempt is
// false for the initial verification and true for background renewals.
type VerifyRequest struct {
	Token          string `json:"token" validate:"required,max=2048"`
	SessionID      string `json:"sessionId" validate:"required,max=128"`
	RefreshAttempt bool   `json:"refreshAttempt"`
}

// VerifyResult is returned by the verification endpoint. CanRetry is only set
// on failures.
type VerifyResult struct {
	Success     bool     `json:"success"`
	ChallengeTS string   `json:"challengeTs,omitempty"`
	Hostname    string   `json:"hostname,omitempty"`
	ErrorCodes  []string `json:"errorCodes,omitempty"`
	CanRetry    *bool    `json:"canRetry,omitempty"`
	Message     string   `json:"message,omitempty"`
}

// Retryable reports the CanRetry flag, treating an unset flag as retryable.
func (r VerifyResult) Retryable() bool {
	return r.CanRetry == nil || *r.CanRetry
}
