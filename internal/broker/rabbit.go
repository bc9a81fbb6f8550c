package broker

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type RabbitConfig struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	ConnectionName     string
	Heartbeat          time.Duration
	SocketTimeout      time.Duration
	BlockedTimeout     time.Duration
	ConnectionAttempts int
	RetryDelay         time.Duration
}

// RabbitDialer opens AMQP 0-9-1 sessions with github.com/rabbitmq/amqp091-go.
type RabbitDialer struct {
	cfg RabbitConfig
	log *zap.Logger
}

func NewRabbitDialer(cfg RabbitConfig, log *zap.Logger) *RabbitDialer {
	if cfg.Port == 0 {
		cfg.Port = 5672
	}
	if cfg.VHost == "" {
		cfg.VHost = "/"
	}
	if cfg.ConnectionAttempts <= 0 {
		cfg.ConnectionAttempts = 1
	}
	return &RabbitDialer{cfg: cfg, log: log}
}

func (d *RabbitDialer) uri() string {
	return amqp.URI{
		Scheme:   "amqp",
		Host:     d.cfg.Host,
		Port:     d.cfg.Port,
		Username: d.cfg.User,
		Password: d.cfg.Password,
		Vhost:    d.cfg.VHost,
	}.String()
}

// Dial tries up to ConnectionAttempts times, RetryDelay apart.
func (d *RabbitDialer) Dial(ctx context.Context) (Connection, error) {
	conf := amqp.Config{
		Heartbeat: d.cfg.Heartbeat,
		Locale:    "en_US",
		Properties: amqp.Table{
			"connection_name": d.cfg.ConnectionName,
		},
	}
	if d.cfg.SocketTimeout > 0 {
		conf.Dial = amqp.DefaultDial(d.cfg.SocketTimeout)
	}

	var lastErr error
	for attempt := 1; attempt <= d.cfg.ConnectionAttempts; attempt++ {
		conn, err := amqp.DialConfig(d.uri(), conf)
		if err == nil {
			return newRabbitConn(conn, d.cfg.BlockedTimeout, d.log), nil
		}
		lastErr = err
		d.log.Warn("amqp dial failed",
			zap.String("host", d.cfg.Host),
			zap.Int("attempt", attempt),
			zap.Int("of", d.cfg.ConnectionAttempts),
			zap.Error(err),
		)
		if attempt == d.cfg.ConnectionAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.cfg.RetryDelay):
		}
	}
	return nil, errors.Wrapf(lastErr, "dial %s:%d", d.cfg.Host, d.cfg.Port)
}

type rabbitConn struct {
	conn *amqp.Connection
}

func newRabbitConn(conn *amqp.Connection, blockedTimeout time.Duration, log *zap.Logger) *rabbitConn {
	c := &rabbitConn{conn: conn}
	if blockedTimeout > 0 {
		go watchBlocked(conn, conn.NotifyBlocked(make(chan amqp.Blocking, 1)), blockedTimeout, log)
	}
	return c
}

// watchBlocked closes a connection the broker keeps blocked (flow control)
// longer than timeout, so the supervisor can reconnect. It exits when the
// connection closes and the notify channel with it.
func watchBlocked(conn *amqp.Connection, blocked <-chan amqp.Blocking, timeout time.Duration, log *zap.Logger) {
	var expired <-chan time.Time
	var timer *time.Timer
	for {
		select {
		case b, ok := <-blocked:
			if !ok {
				if timer != nil {
					timer.Stop()
				}
				return
			}
			if b.Active {
				log.Warn("amqp connection blocked by broker", zap.String("reason", b.Reason))
				if timer == nil {
					timer = time.NewTimer(timeout)
					expired = timer.C
				}
				continue
			}
			log.Info("amqp connection unblocked")
			if timer != nil {
				timer.Stop()
				timer, expired = nil, nil
			}
		case <-expired:
			log.Error("amqp connection blocked too long, closing", zap.Duration("timeout", timeout))
			_ = conn.Close()
			timer, expired = nil, nil
		}
	}
}

func (c *rabbitConn) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	return &rabbitChannel{ch: ch, done: make(chan struct{})}, nil
}

func (c *rabbitConn) IsClosed() bool { return c.conn.IsClosed() }
func (c *rabbitConn) Close() error   { return c.conn.Close() }

type rabbitChannel struct {
	ch   *amqp.Channel
	done chan struct{}
	once sync.Once
}

func (c *rabbitChannel) Qos(prefetch int) error {
	return errors.Wrap(c.ch.Qos(prefetch, 0, false), "qos")
}

func (c *rabbitChannel) QueueDeclarePassive(name string) error {
	_, err := c.ch.QueueDeclarePassive(name, true, false, false, false, nil)
	if err == nil {
		return nil
	}
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		switch amqpErr.Code {
		case amqp.AccessRefused:
			return errors.Wrap(ErrAccessRefused, amqpErr.Reason)
		case amqp.NotFound:
			return errors.Wrap(ErrQueueNotFound, amqpErr.Reason)
		}
	}
	return errors.Wrapf(err, "passive declare %q", name)
}

func (c *rabbitChannel) Consume(queue, consumer string) (<-chan Delivery, error) {
	msgs, err := c.ch.Consume(queue, consumer, false, false, false, false, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "consume %q", queue)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for m := range msgs {
			select {
			case out <- Delivery{Tag: m.DeliveryTag, Body: m.Body, Redelivered: m.Redelivered}:
			case <-c.done:
				return
			}
		}
	}()
	return out, nil
}

func (c *rabbitChannel) Ack(tag uint64) error {
	return errors.Wrap(c.ch.Ack(tag, false), "ack")
}

func (c *rabbitChannel) IsClosed() bool { return c.ch.IsClosed() }

func (c *rabbitChannel) Close() error {
	c.once.Do(func() { close(c.done) })
	return c.ch.Close()
}
