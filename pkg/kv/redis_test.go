package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisSinkWritesHash(t *testing.T) {
	srv := miniredis.RunT(t)
	sink, err := Dial(context.Background(), Config{Addr: srv.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	err = sink.Write(context.Background(), "trade:701", map[string]any{
		"symbol":    "EURUSD.p",
		"volume":    0.01,
		"price":     1.10002,
		"signal_id": "abc",
	})
	require.NoError(t, err)

	assert.Equal(t, "EURUSD.p", srv.HGet("trade:701", "symbol"))
	assert.Equal(t, "0.01", srv.HGet("trade:701", "volume"))
	assert.Equal(t, "1.10002", srv.HGet("trade:701", "price"))
	assert.Equal(t, "abc", srv.HGet("trade:701", "signal_id"))
}

func TestRedisSinkMergesFields(t *testing.T) {
	srv := miniredis.RunT(t)
	sink, err := Dial(context.Background(), Config{Addr: srv.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	ctx := context.Background()
	require.NoError(t, sink.Write(ctx, "position_closure:9", map[string]any{"reason": "manual_close"}))
	require.NoError(t, sink.Write(ctx, "position_closure:9", map[string]any{"closed_position": uint64(55)}))

	assert.Equal(t, "manual_close", srv.HGet("position_closure:9", "reason"))
	assert.Equal(t, "55", srv.HGet("position_closure:9", "closed_position"))
}

func TestRedisSinkEmptyFieldsIsNoop(t *testing.T) {
	srv := miniredis.RunT(t)
	sink, err := Dial(context.Background(), Config{Addr: srv.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	require.NoError(t, sink.Write(context.Background(), "trade:1", nil))
	assert.False(t, srv.Exists("trade:1"))
}

func TestDialUnreachable(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()

	_, err := Dial(context.Background(), Config{Addr: addr, Timeout: 200 * time.Millisecond})
	assert.Error(t, err)
}

func TestWriteAfterServerLoss(t *testing.T) {
	srv := miniredis.RunT(t)
	sink, err := Dial(context.Background(), Config{Addr: srv.Addr(), Timeout: 200 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	srv.Close()
	err = sink.Write(context.Background(), "trade:2", map[string]any{"symbol": "XAUUSD"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hset trade:2")
}
