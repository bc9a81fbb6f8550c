package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"signal_executor/pkg/logger"
	"signal_executor/pkg/tracing"
)

const (
	configFilePathENV = "CONFIG_FILE"
	configDir         = "configs/"
)

const (
	TelemetryRedis    = "redis"
	TelemetryPostgres = "postgres"
	TelemetryNone     = "none"
)

type Venue struct {
	BridgeURL      string        `yaml:"bridge_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Login          int64         `yaml:"login"`
	Password       string        `yaml:"password"`
	Server         string        `yaml:"server"`
}

type Broker struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	VHost              string        `yaml:"vhost"`
	User               string        `yaml:"user"`
	Password           string        `yaml:"password"`
	Queue              string        `yaml:"queue"`
	Prefetch           int           `yaml:"prefetch"`
	Heartbeat          time.Duration `yaml:"heartbeat"`
	BlockedTimeout     time.Duration `yaml:"blocked_connection_timeout"`
	SocketTimeout      time.Duration `yaml:"socket_timeout"`
	ConnectionAttempts int           `yaml:"connection_attempts"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
	MaxRetryDelay      time.Duration `yaml:"max_retry_delay"`
	PollInterval       time.Duration `yaml:"poll_interval"`
}

type Telemetry struct {
	Driver       string        `yaml:"driver"` // redis | postgres | none
	WriteTimeout time.Duration `yaml:"write_timeout"`
	Redis        struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	PostgresDSN string `yaml:"postgres_dsn"`
	TrailFile   string `yaml:"trail_file"`
}

type Trading struct {
	SingleTradeMode        bool          `yaml:"single_trade_mode"`
	CloseOppositePositions bool          `yaml:"close_opposite_positions"`
	DefaultSymbol          string        `yaml:"default_symbol"`
	DefaultQuantity        float64       `yaml:"default_quantity"`
	Magic                  int64         `yaml:"magic"`
	Deviation              int           `yaml:"deviation"`
	CommentPrefix          string        `yaml:"comment_prefix"`
	StaleAfter             time.Duration `yaml:"stale_after"`
}

// Config ...
type Config struct {
	Service struct {
		Name       string `yaml:"name"`
		InstanceID string `yaml:"instance_id"`
	} `yaml:"service"`
	Log       logger.Config  `yaml:"log"`
	Venue     Venue          `yaml:"venue"`
	Broker    Broker         `yaml:"broker"`
	Telemetry Telemetry      `yaml:"telemetry"`
	Trading   Trading        `yaml:"trading"`
	Tracing   tracing.Config `yaml:"tracing"`
	Health    struct {
		Addr string `yaml:"addr"`
	} `yaml:"health"`
	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`
}

func defaults() Config {
	var c Config
	c.Service.Name = "signal-executor"
	c.Log = logger.Config{Level: "info", Dir: "logs", File: "executor.log"}
	c.Venue = Venue{BridgeURL: "http://127.0.0.1:8081", RequestTimeout: 10 * time.Second}
	c.Broker = Broker{
		Port:               5672,
		VHost:              "/",
		User:               "vps_consumer",
		Queue:              "mt5_signals",
		Prefetch:           1,
		Heartbeat:          60 * time.Second,
		BlockedTimeout:     300 * time.Second,
		SocketTimeout:      10 * time.Second,
		ConnectionAttempts: 3,
		RetryDelay:         5 * time.Second,
		MaxRetryDelay:      60 * time.Second,
		PollInterval:       time.Second,
	}
	c.Telemetry.Driver = TelemetryRedis
	c.Telemetry.WriteTimeout = 2 * time.Second
	c.Telemetry.Redis.Addr = "127.0.0.1:6379"
	c.Telemetry.TrailFile = "logs/trade_attempts.log"
	c.Trading = Trading{
		SingleTradeMode: true,
		DefaultSymbol:   "EURUSD",
		DefaultQuantity: 0.01,
		Magic:           234000,
		Deviation:       20,
		CommentPrefix:   "NightTrader",
		StaleAfter:      5 * time.Second,
	}
	c.Health.Addr = ":8080"
	c.Tracing = tracing.Config{Host: "127.0.0.1", Port: 6831}
	return c
}

// NewConfig reads .env, then configs/$CONFIG_FILE (values_local.yaml by
// default) over built-in defaults, then environment overrides.
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	return Load(configDir + configFileName)
}

// Load is NewConfig without .env handling. A missing file is not an error.
func Load(path string) (*Config, error) {
	config := defaults()

	file, err := os.Open(path)
	switch {
	case err == nil:
		defer func() {
			_ = file.Close()
		}()
		if err := yaml.NewDecoder(file).Decode(&config); err != nil {
			return nil, errors.Wrapf(err, "decode config file %s", path)
		}
	case os.IsNotExist(err):
	default:
		return nil, errors.Wrap(err, "open config file")
	}

	applyEnv(&config)
	return &config, nil
}

// applyEnv lets the deployment environment win over the file. Durations
// given as bare numbers are seconds.
func applyEnv(c *Config) {
	v := viper.New()
	v.AutomaticEnv()

	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = strings.TrimSpace(v.GetString(key))
		}
	}
	integer := func(key string, dst *int) {
		if v.IsSet(key) {
			if n, err := strconv.Atoi(strings.TrimSpace(v.GetString(key))); err == nil {
				*dst = n
			}
		}
	}
	int64v := func(key string, dst *int64) {
		if v.IsSet(key) {
			if n, err := strconv.ParseInt(strings.TrimSpace(v.GetString(key)), 10, 64); err == nil {
				*dst = n
			}
		}
	}
	boolean := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = strings.EqualFold(strings.TrimSpace(v.GetString(key)), "true") || v.GetString(key) == "1"
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v.IsSet(key) {
			if d, ok := parseSeconds(v.GetString(key)); ok {
				*dst = d
			}
		}
	}

	str("SERVICE_NAME", &c.Service.Name)
	str("VPS_INSTANCE_ID", &c.Service.InstanceID)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_DIR", &c.Log.Dir)

	str("MT5_BRIDGE_URL", &c.Venue.BridgeURL)
	int64v("MT5_LOGIN", &c.Venue.Login)
	str("MT5_PASSWORD", &c.Venue.Password)
	str("MT5_SERVER", &c.Venue.Server)

	str("BROKER_HOST", &c.Broker.Host)
	integer("RABBITMQ_PORT", &c.Broker.Port)
	str("RABBITMQ_VHOST", &c.Broker.VHost)
	str("RABBITMQ_USER", &c.Broker.User)
	str("RABBITMQ_PASSWORD", &c.Broker.Password)
	str("RABBITMQ_QUEUE_NAME", &c.Broker.Queue)
	duration("RABBITMQ_HEARTBEAT", &c.Broker.Heartbeat)
	duration("RABBITMQ_BLOCKED_CONNECTION_TIMEOUT", &c.Broker.BlockedTimeout)
	duration("RABBITMQ_SOCKET_TIMEOUT", &c.Broker.SocketTimeout)
	integer("RABBITMQ_CONNECTION_ATTEMPTS", &c.Broker.ConnectionAttempts)
	duration("RABBITMQ_RETRY_DELAY", &c.Broker.RetryDelay)
	duration("RABBITMQ_MAX_RETRY_DELAY", &c.Broker.MaxRetryDelay)

	boolean("SINGLE_TRADE_MODE", &c.Trading.SingleTradeMode)
	boolean("CLOSE_OPPOSITE_POSITIONS", &c.Trading.CloseOppositePositions)

	str("TELEMETRY_DRIVER", &c.Telemetry.Driver)
	str("REDIS_ADDR", &c.Telemetry.Redis.Addr)
	str("REDIS_PASSWORD", &c.Telemetry.Redis.Password)
	str("DATABASE_DSN", &c.Telemetry.PostgresDSN)

	str("TELEGRAM_TOKEN", &c.Telegram.Token)
	int64v("TELEGRAM_CHAT_ID", &c.Telegram.ChatID)

	str("HEALTH_ADDR", &c.Health.Addr)
	boolean("JAEGER_ENABLED", &c.Tracing.Enabled)
	str("JAEGER_HOST", &c.Tracing.Host)
}

func parseSeconds(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(n * float64(time.Second)), true
	}
	d, err := time.ParseDuration(s)
	return d, err == nil
}

// Validate fails startup on settings the service cannot run without.
func (c *Config) Validate() error {
	if c.Service.InstanceID == "" {
		return errors.New("VPS_INSTANCE_ID must be set")
	}
	if c.Broker.Host == "" {
		return errors.New("BROKER_HOST must be set")
	}
	if c.Broker.Password == "" {
		return errors.New("RABBITMQ_PASSWORD must be set")
	}
	if c.Broker.Queue == "" {
		return errors.New("RABBITMQ_QUEUE_NAME must not be empty")
	}
	switch c.Telemetry.Driver {
	case TelemetryRedis, TelemetryPostgres, TelemetryNone:
	default:
		return errors.Errorf("unknown telemetry driver %q", c.Telemetry.Driver)
	}
	if c.Trading.DefaultQuantity <= 0 {
		return errors.New("trading.default_quantity must be positive")
	}
	return nil
}

// MonitoringOnly reports missing venue credentials: the service still
// consumes, but every signal is skipped.
func (c *Config) MonitoringOnly() bool {
	return c.Venue.Login == 0 || c.Venue.Password == "" || c.Venue.Server == ""
}
