// Package runner is the single consume -> decode -> process -> ack worker.
package runner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"signal_executor/internal/broker"
	"signal_executor/internal/metrics"
	"signal_executor/internal/models"
)

// Source is the broker session as seen by the worker.
type Source interface {
	EnsureConnected(ctx context.Context) bool
	Consume() (<-chan broker.Delivery, error)
	Ack(tag uint64) error
	Healthy() bool
	Reset()
}

type Processor interface {
	Process(ctx context.Context, sig *models.Signal) models.Outcome
}

// Observer is told about every handled message (health endpoint).
type Observer interface {
	TouchSignal(t time.Time)
}

type Config struct {
	PollInterval time.Duration
	Defaults     Defaults
}

type Runner struct {
	cfg  Config
	src  Source
	proc Processor
	obs  Observer
	log  *zap.Logger
}

func New(cfg Config, src Source, proc Processor, obs Observer, log *zap.Logger) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Runner{cfg: cfg, src: src, proc: proc, obs: obs, log: log}
}

// Run blocks until ctx is done. Broker failures route back into the
// supervisor's reconnect cycle; nothing from processing escapes the loop.
func (r *Runner) Run(ctx context.Context) {
	r.log.Info("signal consumer started")
	defer r.log.Info("signal consumer stopped")

	for ctx.Err() == nil {
		if !r.src.EnsureConnected(ctx) {
			continue
		}

		msgs, err := r.src.Consume()
		if err != nil {
			r.log.Error("start consuming failed", zap.Error(err))
			r.src.Reset()
			continue
		}
		r.consume(ctx, msgs)
	}
}

func (r *Runner) consume(ctx context.Context, msgs <-chan broker.Delivery) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				r.log.Error("broker delivery stream closed")
				r.src.Reset()
				return
			}
			r.handle(ctx, d)
		case <-ticker.C:
			if !r.src.Healthy() {
				r.log.Warn("broker session unhealthy")
				return
			}
		}
	}
}

// handle acknowledges d exactly once whatever happens inside.
func (r *Runner) handle(ctx context.Context, d broker.Delivery) {
	metrics.SignalsReceived.Inc()

	defer func() {
		if p := recover(); p != nil {
			r.log.Error("message handling panicked", zap.Uint64("tag", d.Tag), zap.Any("panic", p), zap.Stack("stack"))
		}
		if err := r.src.Ack(d.Tag); err != nil {
			r.log.Error("ack failed", zap.Uint64("tag", d.Tag), zap.Error(err))
		}
		if r.obs != nil {
			r.obs.TouchSignal(time.Now())
		}
	}()

	sig, err := Decode(d.Body, r.cfg.Defaults)
	if err != nil {
		metrics.DecodeErrors.Inc()
		r.log.Error("malformed message acknowledged without processing",
			zap.Uint64("tag", d.Tag),
			zap.ByteString("body", clip(d.Body, 512)),
			zap.Error(err),
		)
		return
	}

	r.log.Info("received signal",
		zap.Uint64("tag", d.Tag),
		zap.Bool("redelivered", d.Redelivered),
		zap.String("action", string(sig.Action)),
		zap.String("symbol", sig.Symbol),
	)

	// An order already in flight must not be cut short by shutdown.
	out := r.proc.Process(context.WithoutCancel(ctx), sig)
	if out.Status == models.StatusSuccess || out.Status == models.StatusPartial {
		r.log.Info("signal processed and acknowledged", zap.String("status", string(out.Status)))
	} else {
		r.log.Warn("signal processing had issues but acknowledged", zap.String("status", string(out.Status)))
	}
}

func clip(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
