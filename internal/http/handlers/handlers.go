package handlers

import (
	"context"

	"github.com/tbourn/livechat-bridge/internal/domain"
	"github.com/tbourn/livechat-bridge/internal/services"
	"github.com/tbourn/livechat-bridge/internal/validation"
)

//
// Service contracts (context-aware)
//

// WebhookService evaluates one live-chat webhook delivery.
type WebhookService interface {
	Ingest(ctx context.Context, ev *domain.LivechatEvent) (services.IngestOutcome, error)
}

// VerifyService checks a human-verification token.
type VerifyService interface {
	Verify(ctx context.Context, req domain.VerifyRequest, remoteIP string) (domain.VerifyResult, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints. Any service may be nil; its endpoint
// then answers 404.
type Handlers struct {
	bridge    WebhookService
	verifier  VerifyService
	validate  *validation.Validator
	queueSize func() int
}

// New constructs Handlers bound to the given services. queueDepth feeds the
// health probe and may be nil.
func New(bridge WebhookService, verifier VerifyService, queueDepth func() int) *Handlers {
	return &Handlers{
		bridge:    bridge,
		verifier:  verifier,
		validate:  validation.New(),
		queueSize: queueDepth,
	}
}
