// Package broker owns the signal queue session: connect, passive queue check,
// health polling and reconnect with exponential backoff.
package broker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"signal_executor/internal/metrics"
)

type Config struct {
	Queue       string
	ConsumerTag string
	Prefetch    int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Supervisor is driven by a single worker; only State and Healthy may be read
// from other goroutines.
type Supervisor struct {
	cfg    Config
	dialer Dialer
	log    *zap.Logger

	mu   sync.Mutex
	conn Connection
	ch   Channel

	state     atomic.Int32
	onState   []func(ConnState)
	backoff   Backoff
	connected bool // connected at least once

	tick time.Duration
	wait func(ctx context.Context, d time.Duration) bool
}

func NewSupervisor(cfg Config, dialer Dialer, log *zap.Logger) *Supervisor {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	s := &Supervisor{
		cfg:     cfg,
		dialer:  dialer,
		log:     log,
		backoff: Backoff{Base: cfg.BackoffBase, Max: cfg.BackoffMax},
		tick:    time.Second,
	}
	s.wait = s.tickWait
	return s
}

// OnStateChange registers fn for every state transition. Not safe to call
// once the worker is running.
func (s *Supervisor) OnStateChange(fn func(ConnState)) {
	s.onState = append(s.onState, fn)
}

func (s *Supervisor) State() ConnState { return ConnState(s.state.Load()) }

func (s *Supervisor) setState(st ConnState) {
	if ConnState(s.state.Swap(int32(st))) == st {
		return
	}
	metrics.BrokerState.Set(float64(st))
	s.log.Debug("broker state", zap.Stringer("state", st))
	for _, fn := range s.onState {
		fn(st)
	}
}

// Connect performs one handshake + channel setup + passive queue check.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.setState(Connecting)

	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		s.setState(Disconnected)
		return errors.Wrap(err, "broker connect")
	}

	ch, err := s.openChannel(conn)
	if err != nil {
		_ = conn.Close()
		s.setState(Disconnected)
		return err
	}

	err = ch.QueueDeclarePassive(s.cfg.Queue)
	switch {
	case err == nil:
		s.log.Info("queue exists", zap.String("queue", s.cfg.Queue))
	case errors.Is(err, ErrAccessRefused):
		// The broker closes the channel on a refused declare.
		s.log.Info("read-only access confirmed, assuming queue exists", zap.String("queue", s.cfg.Queue))
		_ = ch.Close()
		if ch, err = s.openChannel(conn); err != nil {
			_ = conn.Close()
			s.setState(Disconnected)
			return err
		}
	default:
		_ = ch.Close()
		_ = conn.Close()
		s.setState(Disconnected)
		if errors.Is(err, ErrQueueNotFound) {
			s.log.Error("queue does not exist on server", zap.String("queue", s.cfg.Queue))
		}
		return err
	}

	s.mu.Lock()
	s.conn, s.ch = conn, ch
	s.mu.Unlock()

	s.setState(Connected)
	s.log.Info("broker connected", zap.String("queue", s.cfg.Queue))
	return nil
}

func (s *Supervisor) openChannel(conn Connection) (Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "broker channel")
	}
	if err := ch.Qos(s.cfg.Prefetch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

// Healthy is a non-blocking liveness poll of the session.
func (s *Supervisor) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && !s.conn.IsClosed() && s.ch != nil && !s.ch.IsClosed()
}

// EnsureConnected returns true once a healthy session exists. It reconnects
// with backoff until success or ctx is done, in which case it returns false.
func (s *Supervisor) EnsureConnected(ctx context.Context) bool {
	if s.Healthy() {
		return true
	}
	if s.State() == Connected {
		s.log.Warn("broker health check failed, reconnecting")
		s.setState(Degraded)
	}
	s.Reset()

	for ctx.Err() == nil {
		err := s.Connect(ctx)
		if err == nil {
			s.backoff.Reset()
			if s.connected {
				metrics.BrokerReconnects.Inc()
				s.log.Info("broker reconnected")
			}
			s.connected = true
			return true
		}

		delay := s.backoff.Next()
		s.log.Warn("broker connect attempt failed",
			zap.Int("attempt", s.backoff.Attempts()),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)
		if !s.wait(ctx, delay) {
			return false
		}
	}
	return false
}

// tickWait sleeps d in tick steps; false when ctx ended first.
func (s *Supervisor) tickWait(ctx context.Context, d time.Duration) bool {
	t := time.NewTicker(s.tick)
	defer t.Stop()
	for waited := time.Duration(0); waited < d; waited += s.tick {
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
		}
	}
	return ctx.Err() == nil
}

func (s *Supervisor) Consume() (<-chan Delivery, error) {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	if ch == nil {
		return nil, ErrNotConnected
	}
	s.log.Info("starting consumer", zap.String("queue", s.cfg.Queue))
	return ch.Consume(s.cfg.Queue, s.cfg.ConsumerTag)
}

func (s *Supervisor) Ack(tag uint64) error {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	if ch == nil {
		return ErrNotConnected
	}
	return ch.Ack(tag)
}

// Reset tears down channel and connection handles.
func (s *Supervisor) Reset() {
	s.mu.Lock()
	ch, conn := s.ch, s.conn
	s.ch, s.conn = nil, nil
	s.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	if conn != nil && !conn.IsClosed() {
		_ = conn.Close()
	}
	s.setState(Disconnected)
}

func (s *Supervisor) Close() error {
	s.Reset()
	s.log.Info("broker connection closed")
	return nil
}
