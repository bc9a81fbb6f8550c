package queue

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"signal_executor/internal/broker"
	"signal_executor/internal/modules/config"
	"signal_executor/internal/modules/health/service"
)

func newSupervisor(cfg *config.Config, log *zap.Logger) *broker.Supervisor {
	log = log.Named("broker")
	b := cfg.Broker
	dialer := broker.NewRabbitDialer(broker.RabbitConfig{
		Host:               b.Host,
		Port:               b.Port,
		User:               b.User,
		Password:           b.Password,
		VHost:              b.VHost,
		ConnectionName:     fmt.Sprintf("%s-%s", cfg.Service.Name, cfg.Service.InstanceID),
		Heartbeat:          b.Heartbeat,
		SocketTimeout:      b.SocketTimeout,
		BlockedTimeout:     b.BlockedTimeout,
		ConnectionAttempts: b.ConnectionAttempts,
		RetryDelay:         b.RetryDelay,
	}, log)

	return broker.NewSupervisor(broker.Config{
		Queue:       b.Queue,
		ConsumerTag: fmt.Sprintf("executor-%s", cfg.Service.InstanceID),
		Prefetch:    b.Prefetch,
		BackoffBase: b.RetryDelay,
		BackoffMax:  b.MaxRetryDelay,
	}, dialer, log)
}

// Module provides the signal queue session. The health state follows its
// connection state; the session is closed on shutdown.
func Module() fx.Option {
	return fx.Module("queue",
		fx.Provide(
			newSupervisor, // *broker.Supervisor
		),
		fx.Invoke(func(lc fx.Lifecycle, s *broker.Supervisor, state *service.State, log *zap.Logger) {
			s.OnStateChange(func(st broker.ConnState) {
				state.SetBroker(st)
				log.Info("broker state changed", zap.Stringer("state", st))
			})
			lc.Append(fx.Hook{
				OnStop: func(ctx context.Context) error {
					state.SetReady(false)
					return s.Close()
				},
			})
		}),
	)
}
