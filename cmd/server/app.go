package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/tbourn/livechat-bridge/internal/botguard"
	"github.com/tbourn/livechat-bridge/internal/config"
	"github.com/tbourn/livechat-bridge/internal/dedup"
	"github.com/tbourn/livechat-bridge/internal/dispatch"
	httpapi "github.com/tbourn/livechat-bridge/internal/http"
	"github.com/tbourn/livechat-bridge/internal/livechat"
	"github.com/tbourn/livechat-bridge/internal/nlu"
	"github.com/tbourn/livechat-bridge/internal/observability"
	"github.com/tbourn/livechat-bridge/internal/services"
	"github.com/tbourn/livechat-bridge/internal/validation"
)

// app is the fully wired relay: router plus the background pieces that need
// an orderly shutdown.
type app struct {
	router     *gin.Engine
	dispatcher *dispatch.Dispatcher
	nlu        *nlu.Client
	redis      *dedup.RedisCache
	dedupDB    *dedup.SQLiteCache

	stopSweeper context.CancelFunc
	sweeperDone chan struct{}
	lg          zerolog.Logger
}

// newApp builds every collaborator from cfg. reg/gatherer receive and expose
// all metrics.
func newApp(ctx context.Context, cfg config.Config, reg prometheus.Registerer, gatherer prometheus.Gatherer, lg zerolog.Logger) (*app, error) {
	metrics := observability.NewRelayMetrics(reg)
	a := &app{lg: lg}

	// Dedup guard
	var cache dedup.Cache
	switch cfg.Dedup.Backend {
	case "redis":
		rc, err := dedup.NewRedisCacheFromURL(ctx, cfg.Dedup.RedisURL, cfg.Dedup.RedisPrefix, cfg.Dedup.Cooldown)
		if err != nil {
			return nil, fmt.Errorf("dedup redis: %w", err)
		}
		a.redis = rc
		cache = rc
		lg.Info().Msg("dedup backend: redis")
	case "sqlite":
		sc, err := dedup.OpenSQLiteCache(cfg.Dedup.SQLitePath, cfg.Dedup.Cooldown)
		if err != nil {
			return nil, fmt.Errorf("dedup sqlite: %w", err)
		}
		a.dedupDB = sc
		cache = sc
		metrics.ObserveDedupSize(sc.Len)
		a.startSweeper(sc, cfg, lg, metrics.DedupSwept)
		lg.Info().Str("path", cfg.Dedup.SQLitePath).Msg("dedup backend: sqlite")
	default:
		mc := dedup.NewMemoryCache(cfg.Dedup.Cooldown)
		cache = mc
		metrics.ObserveDedupSize(mc.Len)
		a.startSweeper(mc, cfg, lg, metrics.DedupSwept)
		lg.Info().Dur("cooldown", cfg.Dedup.Cooldown).Msg("dedup backend: memory")
	}

	// Outbound collaborators
	nluLog := lg.With().Str("component", "nlu").Logger()
	a.nlu = nlu.New(cfg.NLU, &nluLog)
	a.nlu.Observe = metrics.NLUCall
	if !a.nlu.Configured() {
		lg.Warn().Msg("dialogflow not configured; visitor messages will get the failure reply")
	}

	chatLog := lg.With().Str("component", "livechat").Logger()
	chat := livechat.New(cfg.LiveChat, nil, &chatLog)
	if !chat.Configured() {
		lg.Warn().Msg("rocket.chat credentials missing; replies cannot be posted")
	}

	bridgeLog := lg.With().Str("component", "bridge").Logger()
	bridge := &services.BridgeService{
		Validator:    validation.New(),
		Dedup:        cache,
		Guard:        botguard.New(cfg.Bot.Usernames, cfg.Bot.NamePatterns),
		NLU:          a.nlu,
		Chat:         chat,
		FailureReply: cfg.NLU.FailureReply,
		Metrics:      metrics,
		Logger:       &bridgeLog,
	}

	// Background dispatch
	dispatchLog := lg.With().Str("component", "dispatch").Logger()
	a.dispatcher = dispatch.New(bridge.RunTask, dispatch.Options{
		Workers:     cfg.Dispatch.Workers,
		QueueSize:   cfg.Dispatch.QueueSize,
		TaskTimeout: cfg.Dispatch.TaskTimeout,
		Sink:        dispatch.Sinks{dispatch.LogSink{Logger: dispatchLog}},
		Logger:      &dispatchLog,
		OnFinish:    metrics.TaskFinished,
	})
	bridge.Tasks = a.dispatcher
	metrics.ObserveQueueDepth(a.dispatcher.QueueDepth)
	a.dispatcher.Start()

	// Human verification
	verifier := services.NewVerificationService(cfg.Turnstile.SecretKey, cfg.Turnstile.VerifyURL, cfg.Turnstile.Timeout)
	verifier.Metrics = metrics
	if cfg.Turnstile.SecretKey == "" {
		lg.Warn().Msg("TURNSTILE_SECRET_KEY not set; /chat/verify will answer 500")
	}

	a.router = httpapi.NewRouter(httpapi.Deps{
		Bridge:     bridge,
		Verifier:   verifier,
		QueueDepth: a.dispatcher.QueueDepth,
		Registerer: reg,
		Gatherer:   gatherer,
	}, cfg)

	return a, nil
}

func (a *app) startSweeper(c dedup.Cache, cfg config.Config, lg zerolog.Logger, onSweep func(int)) {
	sweepCtx, cancel := context.WithCancel(context.Background())
	a.stopSweeper = cancel
	a.sweeperDone = make(chan struct{})
	go func() {
		defer close(a.sweeperDone)
		dedup.RunSweeper(sweepCtx, c, cfg.Dedup.SweepInterval, cfg.Dedup.TTL, lg, onSweep)
	}()
}

// shutdown drains queued tasks within ctx, then stops the sweeper and closes
// the outbound clients. Errors are joined.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error

	if err := a.dispatcher.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("dispatcher: %w", err))
	}
	if a.stopSweeper != nil {
		a.stopSweeper()
		<-a.sweeperDone
	}
	if err := a.nlu.Close(); err != nil {
		errs = append(errs, fmt.Errorf("nlu: %w", err))
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if a.dedupDB != nil {
		if err := a.dedupDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("dedup db: %w", err))
		}
	}
	return errors.Join(errs...)
}
