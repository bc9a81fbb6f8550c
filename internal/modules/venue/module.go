package venue

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"signal_executor/internal/engine"
	"signal_executor/internal/modules/config"
	"signal_executor/internal/modules/health"
	"signal_executor/internal/modules/venue/service"
)

func newClient(cfg *config.Config, log *zap.Logger) *service.Client {
	return service.NewClient(service.Config{
		BridgeURL: cfg.Venue.BridgeURL,
		Timeout:   cfg.Venue.RequestTimeout,
		Login:     cfg.Venue.Login,
		Password:  cfg.Venue.Password,
		Server:    cfg.Venue.Server,
	}, log.Named("venue"))
}

// Module provides the MT5 bridge client as engine.Venue and as the health
// endpoint's venue probe.
func Module() fx.Option {
	return fx.Module("venue",
		fx.Provide(
			newClient,
			func(c *service.Client) engine.Venue { return c },
			func(c *service.Client) health.VenueProbe { return c },
		),
		fx.Invoke(func(lc fx.Lifecycle, c *service.Client) {
			lc.Append(fx.Hook{
				OnStop: func(ctx context.Context) error {
					c.Shutdown(ctx)
					return nil
				},
			})
		}),
	)
}
