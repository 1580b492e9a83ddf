// Package services – BridgeService
//
// BridgeService owns the webhook pipeline. Ingest runs the synchronous gates
// (structural validation, latest-message selection, dedup, bot-loop guard,
// admission filter) and hands admitted messages to the dispatcher without
// waiting for them. RunTask is the dispatcher's handler: typing indicator on,
// NLU round-trip, reply posted, typing indicator off.
//
// Observability: Ingest and RunTask are OpenTelemetry-instrumented; pipeline
// outcomes and outbound failures are counted on RelayMetrics when set.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/livechat-bridge/internal/botguard"
	"github.com/tbourn/livechat-bridge/internal/domain"
	"github.com/tbourn/livechat-bridge/internal/livechat"
	"github.com/tbourn/livechat-bridge/internal/nlu"
	"github.com/tbourn/livechat-bridge/internal/observability"
	"github.com/tbourn/livechat-bridge/internal/validation"
)

// Result messages and skip reasons returned to the chat platform.
const (
	MsgNothingToProcess = "nothing to process"
	MsgDuplicate        = "duplicate message, skipped"
	MsgBot              = "bot/agent message, skipped"
	MsgNoResponse       = "processed, no response required"
	MsgQueued           = "message accepted for processing"
	MsgNotStarted       = "message accepted, processing not started"

	ReasonDeduplication = "deduplication"
	ReasonBotDetection  = "bot_detection"
)

// DedupCache is the check-and-set capability used by Ingest.
type DedupCache interface {
	CheckAndMark(ctx context.Context, key string) (bool, error)
}

// BotGuard classifies senders and filters content.
type BotGuard interface {
	Classify(m domain.InboundMessage) botguard.Class
	Admit(m domain.InboundMessage) bool
}

// TaskSubmitter accepts background work without blocking.
type TaskSubmitter interface {
	Submit(task domain.RelayTask) bool
}

// NLUClient answers one visitor turn.
type NLUClient interface {
	DetectIntent(ctx context.Context, req nlu.Request) nlu.Result
}

// ChatRelay talks back to the chat platform.
type ChatRelay interface {
	SetTyping(ctx context.Context, roomID string, typing bool) livechat.Result
	PostMessage(ctx context.Context, roomID, text string) livechat.Result
}

// IngestData is echoed in successful acknowledgments.
type IngestData struct {
	ConversationID    string `json:"conversationId"`
	Message           string `json:"message"`
	SessionID         string `json:"sessionId"`
	ProcessingStarted bool   `json:"processingStarted"`
}

// IngestOutcome is the business result of one webhook delivery. Every outcome
// is a success from the platform's point of view.
type IngestOutcome struct {
	Outcome string // observability.Outcome*
	Message string
	Skipped bool
	Reason  string
	Data    *IngestData
}

// BridgeService wires the pipeline collaborators. All fields except Metrics,
// FailureReply, Logger and Now are required.
type BridgeService struct {
	Validator *validation.Validator
	Dedup     DedupCache
	Guard     BotGuard
	Tasks     TaskSubmitter
	NLU       NLUClient
	Chat      ChatRelay

	// FailureReply is posted to the visitor when the NLU call fails.
	// Empty disables it.
	FailureReply string
	// TypingStopTimeout bounds the typing-off call made after the task's own
	// context may already be done. Defaults to 5s.
	TypingStopTimeout time.Duration

	Metrics *observability.RelayMetrics
	Logger  *zerolog.Logger
	Now     func() time.Time
}

func (s *BridgeService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *BridgeService) logger() *zerolog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return &log.Logger
}

// Ingest evaluates one webhook event. A non-nil error means the delivery is
// either structurally invalid (errors.Is(err, validation.ErrInvalid)) or hit
// an internal failure; every other case is reported through the outcome.
func (s *BridgeService) Ingest(ctx context.Context, ev *domain.LivechatEvent) (out IngestOutcome, err error) {
	tr := otel.Tracer("services/BridgeService")
	ctx, span := tr.Start(ctx, "Ingest",
		trace.WithAttributes(attribute.String("conversation.id", ev.ID)),
	)
	defer func() {
		span.SetAttributes(attribute.String("ingest.outcome", out.Outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.Metrics.WebhookOutcome(out.Outcome)
	}()

	if err := s.Validator.Struct(ev); err != nil {
		return IngestOutcome{Outcome: observability.OutcomeInvalid}, err
	}

	latest, ok := ev.Latest()
	if !ok {
		return IngestOutcome{Outcome: observability.OutcomeEmpty, Message: MsgNothingToProcess}, nil
	}
	// only the selected message is acted on; older entries may be partial
	if err := s.Validator.Struct(&latest); err != nil {
		return IngestOutcome{Outcome: observability.OutcomeInvalid}, err
	}
	msg := ev.Inbound(latest)
	span.SetAttributes(
		attribute.String("message.id", msg.MessageID),
		attribute.String("sender.id", msg.SenderID),
	)

	fresh, derr := s.Dedup.CheckAndMark(ctx, msg.DedupKey())
	if derr != nil {
		return IngestOutcome{Outcome: observability.OutcomeError}, fmt.Errorf("%w: %v", ErrDedupUnavailable, derr)
	}
	if !fresh {
		return IngestOutcome{
			Outcome: observability.OutcomeDuplicate,
			Message: MsgDuplicate,
			Skipped: true,
			Reason:  ReasonDeduplication,
		}, nil
	}

	if class := s.Guard.Classify(msg); class.IsBot() {
		s.logger().Debug().
			Str("conversation_id", msg.ConversationID).
			Str("sender_id", msg.SenderID).
			Str("class", string(class)).
			Msg("bot-loop guard skipped message")
		return IngestOutcome{
			Outcome: observability.OutcomeBot,
			Message: MsgBot,
			Skipped: true,
			Reason:  ReasonBotDetection,
		}, nil
	}

	if !s.Guard.Admit(msg) {
		return IngestOutcome{Outcome: observability.OutcomeNoResponse, Message: MsgNoResponse}, nil
	}

	task := domain.NewRelayTask(msg, s.now())
	started := s.Tasks.Submit(task)

	out = IngestOutcome{
		Outcome: observability.OutcomeDispatched,
		Message: MsgQueued,
		Data: &IngestData{
			ConversationID:    task.ConversationID,
			Message:           task.Text,
			SessionID:         task.SessionID,
			ProcessingStarted: started,
		},
	}
	if !started {
		out.Outcome = observability.OutcomeQueueFull
		out.Message = MsgNotStarted
	}
	return out, nil
}

// RunTask processes one relay task. The typing indicator is switched off
// exactly once on every path, including NLU and outbound failures.
func (s *BridgeService) RunTask(ctx context.Context, task domain.RelayTask) (err error) {
	tr := otel.Tracer("services/BridgeService")
	ctx, span := tr.Start(ctx, "RunTask",
		trace.WithAttributes(
			attribute.String("conversation.id", task.ConversationID),
			attribute.String("message.id", task.MessageID),
			attribute.String("nlu.session_id", task.SessionID),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	lg := s.logger().With().
		Str("conversation_id", task.ConversationID).
		Str("message_id", task.MessageID).
		Logger()

	if r := s.Chat.SetTyping(ctx, task.RoomID, true); !r.Success {
		s.Metrics.OutboundFailed("SetTyping")
		lg.Warn().Err(r.Err).Int("status", r.StatusCode).Msg("typing start failed")
	}
	defer s.stopTyping(ctx, task.RoomID, &lg)

	res := s.NLU.DetectIntent(ctx, nlu.Request{
		Text:      task.Text,
		SessionID: task.SessionID,
		Email:     task.Email,
		Name:      task.DisplayName,
	})
	if !res.Success {
		if s.FailureReply != "" {
			if r := s.Chat.PostMessage(ctx, task.RoomID, s.FailureReply); !r.Success {
				s.Metrics.OutboundFailed("PostMessage")
				lg.Warn().Err(r.Err).Int("status", r.StatusCode).Msg("failure reply not posted")
			}
		}
		return fmt.Errorf("%w: %w", ErrNLUFailed, errOrUnknown(res.Err))
	}

	lg.Debug().
		Str("intent", res.Intent).
		Float32("confidence", res.Confidence).
		Msg("nlu reply received")

	if r := s.Chat.PostMessage(ctx, task.RoomID, res.Text); !r.Success {
		s.Metrics.OutboundFailed("PostMessage")
		return fmt.Errorf("%w: status %d: %w", ErrRelayFailed, r.StatusCode, errOrUnknown(r.Err))
	}
	return nil
}

func (s *BridgeService) stopTyping(ctx context.Context, roomID string, lg *zerolog.Logger) {
	timeout := s.TypingStopTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	// the task context may already be cancelled or past its deadline
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if r := s.Chat.SetTyping(stopCtx, roomID, false); !r.Success {
		s.Metrics.OutboundFailed("ClearTyping")
		lg.Warn().Err(r.Err).Int("status", r.StatusCode).Msg("typing stop failed")
	}
}

func errOrUnknown(err error) error {
	if err == nil {
		return errors.New("unknown error")
	}
	return err
}
