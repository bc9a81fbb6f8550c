package config

import "go.uber.org/fx"

func newValidatedConfig() (*Config, error) {
	c, err := NewConfig()
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func Module() fx.Option {
	return fx.Module("config",
		fx.Provide(
			newValidatedConfig, // *Config
		),
	)
}
