// Package engine turns one decoded signal into at most a handful of venue
// orders and a single terminal outcome. Process never returns an error and
// never panics: every branch ends in a classified models.Outcome, a trail
// line and a metrics sample.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"

	"signal_executor/internal/audit"
	"signal_executor/internal/metrics"
	"signal_executor/internal/models"
	"signal_executor/internal/notify"
	"signal_executor/internal/positions"
	"signal_executor/internal/symbols"
)

const (
	DefaultMagic     = 234000
	DefaultDeviation = 20
)

// Venue is everything the engine needs from the execution venue adapter.
type Venue interface {
	symbols.Metadata
	positions.Lister

	Connect(ctx context.Context) error
	// Connected is the adapter's cached session flag; it performs no I/O.
	Connected() bool
	// Ping checks terminal liveness.
	Ping(ctx context.Context) error
	AccountInfo(ctx context.Context) (*models.Account, error)
	SubmitOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error)
}

type Config struct {
	InstanceID    string
	Magic         int64
	Deviation     int
	CommentPrefix string
	StaleAfter    time.Duration
	SingleTrade   bool
	CloseOpposite bool
}

type Engine struct {
	cfg      Config
	venue    Venue
	resolver *symbols.Resolver
	guard    *positions.Guard
	recorder *audit.Recorder
	trail    *audit.Trail
	notifier notify.Notifier
	log      *zap.Logger

	now func() time.Time
}

func New(
	cfg Config,
	venue Venue,
	recorder *audit.Recorder,
	trail *audit.Trail,
	notifier notify.Notifier,
	log *zap.Logger,
) *Engine {
	if cfg.Magic == 0 {
		cfg.Magic = DefaultMagic
	}
	if cfg.Deviation == 0 {
		cfg.Deviation = DefaultDeviation
	}
	if cfg.CommentPrefix == "" {
		cfg.CommentPrefix = "NightTrader"
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Second
	}
	if notifier == nil {
		notifier = notify.NewLog(log)
	}

	return &Engine{
		cfg:      cfg,
		venue:    venue,
		resolver: symbols.NewResolver(venue, log.Named("symbols")),
		guard: positions.NewGuard(venue, positions.Config{
			Magic:         cfg.Magic,
			SingleTrade:   cfg.SingleTrade,
			CloseOpposite: cfg.CloseOpposite,
		}),
		recorder: recorder,
		trail:    trail,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// Guard exposes the position view for side channels such as the notifier.
func (e *Engine) Guard() *positions.Guard { return e.guard }

// ConnectVenue opens the venue session and refreshes the symbol map. A failed
// refresh is logged only; the resolver still probes the venue directly.
func (e *Engine) ConnectVenue(ctx context.Context) error {
	if err := e.venue.Connect(ctx); err != nil {
		return err
	}
	if _, err := e.resolver.Rebuild(ctx); err != nil {
		e.log.Warn("symbol map rebuild failed", zap.Error(err))
	}
	return nil
}

// Process runs the signal state machine. The caller acknowledges the message
// whatever the outcome.
func (e *Engine) Process(ctx context.Context, sig *models.Signal) (out models.Outcome) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "engine.process")
	defer span.Finish()

	if sig == nil {
		sig = &models.Signal{}
	}
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	span.SetTag("signal.id", sig.ID)
	span.SetTag("signal.action", string(sig.Action))
	span.SetTag("signal.symbol", sig.Symbol)

	log := e.log.With(zap.String("signal_id", sig.ID))

	defer func() {
		if p := recover(); p != nil {
			log.Error("signal processing panicked", zap.Any("panic", p), zap.Stack("stack"))
			out = models.Errored(fmt.Sprint(p))
		}
		span.SetTag("outcome", string(out.Status))
		e.finish(log, sig, out)
	}()

	return e.process(ctx, sig, log)
}

func (e *Engine) process(ctx context.Context, sig *models.Signal, log *zap.Logger) models.Outcome {
	log.Info("processing signal",
		zap.String("action", string(sig.Action)),
		zap.String("symbol", sig.Symbol),
		zap.Float64("quantity", sig.Quantity),
		zap.String("vps_id", sig.VpsID),
	)

	if !e.venue.Connected() {
		log.Warn("venue not connected, cannot process trading signals")
		return models.Skipped("venue not connected")
	}

	if sig.VpsID != e.cfg.InstanceID {
		log.Warn("signal addressed to another instance",
			zap.String("expected", e.cfg.InstanceID),
			zap.String("got", sig.VpsID),
		)
		return models.Rejected("Wrong VPS: " + sig.VpsID)
	}

	sentAt, hasSentAt := e.signalAge(sig, log)

	requested := sig.Symbol
	symbol, ok := e.resolver.Resolve(ctx, requested)
	if !ok {
		log.Error("no tradeable symbol", zap.String("requested", requested))
		return models.Failed("No tradeable symbol for " + requested)
	}

	if sig.Action == models.ActionClose {
		log.Info("processing close signal", zap.String("symbol", symbol), zap.String("close_type", string(sig.CloseType)))
		return e.closeBySignal(ctx, sig, symbol, log)
	}

	log.Info("using tradeable symbol", zap.String("symbol", symbol), zap.String("requested", requested))
	return e.open(ctx, sig, symbol, sentAt, hasSentAt, log)
}

// signalAge logs how long the signal spent upstream. Age never rejects.
func (e *Engine) signalAge(sig *models.Signal, log *zap.Logger) (time.Time, bool) {
	if sig.Timestamp == "" {
		return time.Time{}, false
	}
	sentAt, err := ParseTimestamp(sig.Timestamp)
	if err != nil {
		log.Warn("could not parse signal timestamp", zap.String("timestamp", sig.Timestamp), zap.Error(err))
		return time.Time{}, false
	}

	age := e.now().Sub(sentAt)
	log.Info("signal age", zap.Float64("seconds", age.Seconds()))
	if age > e.cfg.StaleAfter {
		log.Warn("processing old signal, check queue TTL",
			zap.Duration("age", age),
			zap.Duration("ttl", e.cfg.StaleAfter),
		)
	}
	return sentAt, true
}

func (e *Engine) finish(log *zap.Logger, sig *models.Signal, out models.Outcome) {
	e.trail.Append(sig, out.Status, out.Message)
	metrics.ObserveOutcome(string(out.Status))

	fields := []zap.Field{zap.String("status", string(out.Status)), zap.String("message", out.Message)}
	switch out.Status {
	case models.StatusSuccess:
		log.Info("signal processed", fields...)
	case models.StatusError:
		log.Error("signal processed", fields...)
	default:
		log.Warn("signal processed", fields...)
	}

	switch out.Status {
	case models.StatusSkipped, models.StatusRejected:
	default:
		e.notifier.Sendf("[%s] %s %s: %s", out.Status, sig.Action, sig.Symbol, out.Message)
	}
}
