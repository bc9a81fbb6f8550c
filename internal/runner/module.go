package runner

import (
	"context"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"signal_executor/internal/audit"
	"signal_executor/internal/broker"
	"signal_executor/internal/engine"
	"signal_executor/internal/modules/config"
	"signal_executor/internal/modules/health/service"
	"signal_executor/internal/notify"
)

const venueConnectTimeout = 60 * time.Second

// newNotifier falls back to the log when Telegram is not configured or the
// bot cannot be created.
func newNotifier(cfg *config.Config, log *zap.Logger) notify.Notifier {
	log = log.Named("notify")
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, log)
		if err == nil {
			return tg
		}
		log.Warn("telegram unavailable, notifications go to the log", zap.Error(err))
	}
	return notify.NewLog(log)
}

func newEngine(
	cfg *config.Config,
	venue engine.Venue,
	rec *audit.Recorder,
	trail *audit.Trail,
	n notify.Notifier,
	log *zap.Logger,
) *engine.Engine {
	t := cfg.Trading
	e := engine.New(engine.Config{
		InstanceID:    cfg.Service.InstanceID,
		Magic:         t.Magic,
		Deviation:     t.Deviation,
		CommentPrefix: t.CommentPrefix,
		StaleAfter:    t.StaleAfter,
		SingleTrade:   t.SingleTradeMode,
		CloseOpposite: t.CloseOppositePositions,
	}, venue, rec, trail, n, log.Named("engine"))

	if tg, ok := n.(*notify.Telegram); ok {
		tg.WithPositions(e.Guard())
	}
	return e
}

func newRunner(cfg *config.Config, sup *broker.Supervisor, e *engine.Engine, state *service.State, log *zap.Logger) *Runner {
	return New(Config{
		PollInterval: cfg.Broker.PollInterval,
		Defaults: Defaults{
			Symbol:   cfg.Trading.DefaultSymbol,
			Quantity: cfg.Trading.DefaultQuantity,
		},
	}, sup, e, state, log.Named("runner"))
}

// connectVenue logs in unless credentials are missing. Failure leaves the
// executor in monitoring mode: signals are consumed and skipped.
func connectVenue(ctx context.Context, cfg *config.Config, e *engine.Engine, state *service.State, log *zap.Logger) {
	if cfg.MonitoringOnly() {
		state.SetMonitoringOnly(true)
		log.Warn("venue credentials incomplete, running in monitoring mode")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, venueConnectTimeout)
	defer cancel()
	if err := e.ConnectVenue(ctx); err != nil {
		state.SetMonitoringOnly(true)
		log.Error("venue connection failed, running in monitoring mode", zap.Error(err))
		return
	}
	state.SetMonitoringOnly(false)
}

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			newNotifier, // notify.Notifier
			newEngine,   // *engine.Engine
			newRunner,   // *Runner
		),
		fx.Invoke(func(
			lc fx.Lifecycle,
			cfg *config.Config,
			r *Runner,
			e *engine.Engine,
			n notify.Notifier,
			state *service.State,
			log *zap.Logger,
		) {
			runCtx, cancel := context.WithCancel(context.Background())
			var wg sync.WaitGroup

			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					if tg, ok := n.(*notify.Telegram); ok {
						tg.Start(runCtx)
					}

					wg.Add(1)
					go func() {
						defer wg.Done()
						connectVenue(runCtx, cfg, e, state, log)

						log.Info("signal executor starting",
							zap.String("instance", cfg.Service.InstanceID),
							zap.String("queue", cfg.Broker.Queue),
							zap.String("broker", cfg.Broker.Host),
							zap.Duration("heartbeat", cfg.Broker.Heartbeat),
							zap.Duration("retry_delay", cfg.Broker.RetryDelay),
							zap.Duration("max_retry_delay", cfg.Broker.MaxRetryDelay),
							zap.Bool("single_trade_mode", cfg.Trading.SingleTradeMode),
							zap.Bool("close_opposite_positions", cfg.Trading.CloseOppositePositions),
							zap.Bool("monitoring_only", state.MonitoringOnly()),
						)
						n.Sendf("Executor %s started (monitoring only: %t)", cfg.Service.InstanceID, state.MonitoringOnly())

						r.Run(runCtx)
					}()
					return nil
				},
				OnStop: func(ctx context.Context) error {
					cancel()
					done := make(chan struct{})
					go func() {
						wg.Wait()
						close(done)
					}()
					select {
					case <-done:
					case <-ctx.Done():
						log.Warn("runner did not stop in time")
					}
					if tg, ok := n.(*notify.Telegram); ok {
						tg.Stop()
					}
					return nil
				},
			})
		}),
	)
}
