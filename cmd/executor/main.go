package main

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"signal_executor/internal/modules/config"
	"signal_executor/internal/modules/health"
	"signal_executor/internal/modules/queue"
	"signal_executor/internal/modules/telemetry"
	"signal_executor/internal/modules/venue"
	"signal_executor/internal/runner"
	"signal_executor/pkg/logger"
	"signal_executor/pkg/tracing"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger.SetServiceName(cfg.Service.Name)
	tracing.SetServiceName(cfg.Service.Name)
	l, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	logger.Info("logger ready: level=%s dir=%s", cfg.Log.Level, cfg.Log.Dir)
	return l, nil
}

// initTracing takes the logger so the package-level log helpers used by the
// tracer closer exist before it is built.
func initTracing(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) error {
	_, closer, err := tracing.InitTracer(cfg.Tracing)
	if err != nil {
		return err
	}
	log.Info("tracing initialised", zap.Bool("enabled", cfg.Tracing.Enabled))
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			closer()
			return nil
		},
	})
	return nil
}

func main() {
	app := fx.New(
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		config.Module(),
		fx.Provide(newLogger),
		fx.Invoke(initTracing),
		health.Module(),
		telemetry.Module(),
		venue.Module(),
		queue.Module(),
		runner.Module(),
	)
	app.Run()
}
