package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"signal_executor/internal/audit"
	"signal_executor/internal/modules/config"
	"signal_executor/pkg/kv"
)

func TestOpenSinkRedis(t *testing.T) {
	srv := miniredis.RunT(t)
	var cfg config.Telemetry
	cfg.Driver = config.TelemetryRedis
	cfg.Redis.Addr = srv.Addr()

	sink := openSink(context.Background(), cfg, zap.NewNop())
	t.Cleanup(func() { _ = sink.Close() })

	require.IsType(t, &kv.RedisSink{}, sink)
	rec := audit.NewRecorder(sink, time.Second, zap.NewNop())
	rec.Record(context.Background(), audit.TradeKeyPrefix+"1", map[string]any{"symbol": "EURUSD", "webhook_timestamp": nil})

	assert.Equal(t, "EURUSD", srv.HGet("trade:1", "symbol"))
	assert.Empty(t, srv.HGet("trade:1", "webhook_timestamp"))
}

func TestOpenSinkRedisDownFallsBack(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()

	var cfg config.Telemetry
	cfg.Driver = config.TelemetryRedis
	cfg.Redis.Addr = addr
	cfg.WriteTimeout = 200 * time.Millisecond

	assert.IsType(t, audit.Nop{}, openSink(context.Background(), cfg, zap.NewNop()))
}

func TestOpenSinkPostgresBadDSNFallsBack(t *testing.T) {
	var cfg config.Telemetry
	cfg.Driver = config.TelemetryPostgres
	cfg.PostgresDSN = "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1"

	assert.IsType(t, audit.Nop{}, openSink(context.Background(), cfg, zap.NewNop()))
}

func TestOpenSinkNone(t *testing.T) {
	var cfg config.Telemetry
	cfg.Driver = config.TelemetryNone

	assert.IsType(t, audit.Nop{}, openSink(context.Background(), cfg, zap.NewNop()))
}
