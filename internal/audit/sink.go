package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	TradeKeyPrefix   = "trade:"
	ClosureKeyPrefix = "position_closure:"
)

// Sink is a write-only key-value store for audit records (one flat map per key).
type Sink interface {
	Write(ctx context.Context, key string, fields map[string]any) error
	Close() error
}

// Recorder isolates the engine from sink failures: every write gets its own
// timeout and errors end up in the log only.
type Recorder struct {
	sink    Sink
	timeout time.Duration
	log     *zap.Logger
}

func NewRecorder(sink Sink, timeout time.Duration, log *zap.Logger) *Recorder {
	if sink == nil {
		sink = Nop{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Recorder{sink: sink, timeout: timeout, log: log}
}

func (r *Recorder) Record(ctx context.Context, key string, fields map[string]any) {
	if r == nil {
		return
	}
	clean := make(map[string]any, len(fields))
	for k, v := range fields {
		if v != nil {
			clean[k] = v
		}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			r.log.Warn("telemetry sink panicked", zap.String("key", key), zap.Any("panic", p))
		}
	}()
	if err := r.sink.Write(ctx, key, clean); err != nil {
		r.log.Warn("telemetry write failed", zap.String("key", key), zap.Error(err))
	}
}

func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	return r.sink.Close()
}

// Nop discards everything; used when no sink is configured or reachable.
type Nop struct{}

func (Nop) Write(context.Context, string, map[string]any) error { return nil }
func (Nop) Close() error                                        { return nil }
