package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
service:
  instance_id: vps-file
log:
  level: debug
broker:
  host: 10.0.0.5
  queue: vps_file_queue
  heartbeat: 30s
  max_retry_delay: 2m
telemetry:
  driver: postgres
  postgres_dsn: postgres://u:p@localhost/audit
trading:
  single_trade_mode: false
  close_opposite_positions: true
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "values_test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFileOverDefaults(t *testing.T) {
	c, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "vps-file", c.Service.InstanceID)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "10.0.0.5", c.Broker.Host)
	assert.Equal(t, "vps_file_queue", c.Broker.Queue)
	assert.Equal(t, 30*time.Second, c.Broker.Heartbeat)
	assert.Equal(t, 2*time.Minute, c.Broker.MaxRetryDelay)
	assert.Equal(t, TelemetryPostgres, c.Telemetry.Driver)
	assert.False(t, c.Trading.SingleTradeMode)
	assert.True(t, c.Trading.CloseOppositePositions)

	// untouched defaults survive
	assert.Equal(t, 5672, c.Broker.Port)
	assert.Equal(t, 1, c.Broker.Prefetch)
	assert.Equal(t, "EURUSD", c.Trading.DefaultSymbol)
	assert.Equal(t, 0.01, c.Trading.DefaultQuantity)
	assert.Equal(t, int64(234000), c.Trading.Magic)
	assert.Equal(t, 5*time.Second, c.Trading.StaleAfter)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "mt5_signals", c.Broker.Queue)
	assert.True(t, c.Trading.SingleTradeMode)
	assert.False(t, c.Trading.CloseOppositePositions)
}

func TestLoadRejectsBrokenYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "broker: [unclosed"))
	assert.Error(t, err)
}

func TestEnvironmentWins(t *testing.T) {
	t.Setenv("VPS_INSTANCE_ID", "vps-env")
	t.Setenv("MT5_LOGIN", "5012345")
	t.Setenv("MT5_PASSWORD", "secret")
	t.Setenv("MT5_SERVER", "Broker-Demo")
	t.Setenv("BROKER_HOST", "138.0.0.1")
	t.Setenv("RABBITMQ_USER", "nighttrader")
	t.Setenv("RABBITMQ_PASSWORD", "pw")
	t.Setenv("RABBITMQ_QUEUE_NAME", "mt5_signals_vps_env")
	t.Setenv("RABBITMQ_HEARTBEAT", "600")
	t.Setenv("RABBITMQ_RETRY_DELAY", "1.5")
	t.Setenv("SINGLE_TRADE_MODE", "FALSE")
	t.Setenv("CLOSE_OPPOSITE_POSITIONS", "true")
	t.Setenv("TELEGRAM_CHAT_ID", "-100200")

	c, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "vps-env", c.Service.InstanceID)
	assert.Equal(t, int64(5012345), c.Venue.Login)
	assert.Equal(t, "138.0.0.1", c.Broker.Host)
	assert.Equal(t, "nighttrader", c.Broker.User)
	assert.Equal(t, "mt5_signals_vps_env", c.Broker.Queue)
	assert.Equal(t, 600*time.Second, c.Broker.Heartbeat)
	assert.Equal(t, 1500*time.Millisecond, c.Broker.RetryDelay)
	assert.False(t, c.Trading.SingleTradeMode)
	assert.True(t, c.Trading.CloseOppositePositions)
	assert.Equal(t, int64(-100200), c.Telegram.ChatID)

	require.NoError(t, c.Validate())
	assert.False(t, c.MonitoringOnly())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := defaults()
		c.Service.InstanceID = "vps-1"
		c.Broker.Host = "localhost"
		c.Broker.Password = "pw"
		return &c
	}
	require.NoError(t, valid().Validate())

	c := valid()
	c.Service.InstanceID = ""
	assert.ErrorContains(t, c.Validate(), "VPS_INSTANCE_ID")

	c = valid()
	c.Broker.Password = ""
	assert.ErrorContains(t, c.Validate(), "RABBITMQ_PASSWORD")

	c = valid()
	c.Telemetry.Driver = "mongo"
	assert.ErrorContains(t, c.Validate(), "mongo")
}

func TestMonitoringOnlyWithoutVenueCredentials(t *testing.T) {
	c := defaults()
	assert.True(t, c.MonitoringOnly())

	c.Venue.Login, c.Venue.Password, c.Venue.Server = 1, "pw", "Demo"
	assert.False(t, c.MonitoringOnly())
}

func TestParseSeconds(t *testing.T) {
	d, ok := parseSeconds("30")
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, d)

	d, ok = parseSeconds("250ms")
	require.True(t, ok)
	assert.Equal(t, 250*time.Millisecond, d)

	_, ok = parseSeconds("soon")
	assert.False(t, ok)
}
