package telemetry

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"signal_executor/internal/audit"
	"signal_executor/internal/modules/config"
	"signal_executor/pkg/db"
	"signal_executor/pkg/kv"
)

const connectTimeout = 5 * time.Second

// openSink picks the audit backend. Any failure degrades to a no-op sink:
// telemetry must never keep the executor from starting.
func openSink(ctx context.Context, cfg config.Telemetry, log *zap.Logger) audit.Sink {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	switch cfg.Driver {
	case config.TelemetryRedis:
		sink, err := kv.Dial(ctx, kv.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Timeout:  cfg.WriteTimeout,
		})
		if err != nil {
			log.Warn("redis telemetry unavailable, continuing without it", zap.Error(err))
			return audit.Nop{}
		}
		log.Info("telemetry sink ready", zap.String("driver", cfg.Driver), zap.String("addr", cfg.Redis.Addr))
		return sink

	case config.TelemetryPostgres:
		pool, err := db.NewPool(ctx, db.PoolConfig{DSN: cfg.PostgresDSN})
		if err != nil {
			log.Warn("postgres telemetry unavailable, continuing without it", zap.Error(err))
			return audit.Nop{}
		}
		tx := db.NewPgTxManager(pool)
		if err := tx.Ping(ctx); err != nil {
			tx.Close()
			log.Warn("postgres telemetry unavailable, continuing without it", zap.Error(err))
			return audit.Nop{}
		}
		store := db.NewAuditStore(tx, tx.Close)
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			log.Warn("postgres telemetry migration failed", zap.Error(err))
			return audit.Nop{}
		}
		log.Info("telemetry sink ready", zap.String("driver", cfg.Driver))
		return store

	default:
		log.Info("telemetry disabled")
		return audit.Nop{}
	}
}

func newRecorder(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) *audit.Recorder {
	log = log.Named("telemetry")
	rec := audit.NewRecorder(openSink(context.Background(), cfg.Telemetry, log), cfg.Telemetry.WriteTimeout, log)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return rec.Close()
		},
	})
	return rec
}

func newTrail(cfg *config.Config, log *zap.Logger) (*audit.Trail, error) {
	return audit.NewTrail(cfg.Telemetry.TrailFile, log.Named("trail"))
}

func Module() fx.Option {
	return fx.Module("telemetry",
		fx.Provide(
			newRecorder, // *audit.Recorder
			newTrail,    // *audit.Trail
		),
	)
}
