package db

import (
	"context"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	sql  string
	args []any
}

type fakeTx struct {
	calls []execCall
	err   error
}

func (f *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, f.err
}

func (f *fakeTx) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...interface{}) pgx.Row { return nil }

type fakeManager struct{ tx *fakeTx }

func (m fakeManager) RunMaster(ctx context.Context, fn func(context.Context, Transaction) error) error {
	return fn(ctx, m.tx)
}

func TestAuditStoreWriteUpserts(t *testing.T) {
	tx := &fakeTx{}
	store := NewAuditStore(fakeManager{tx: tx}, nil)

	err := store.Write(context.Background(), "trade:701", map[string]any{"symbol": "EURUSD", "volume": 0.01})
	require.NoError(t, err)
	require.Len(t, tx.calls, 1)

	call := tx.calls[0]
	assert.Equal(t, upsertAuditRecord, call.sql)
	require.Len(t, call.args, 2)
	assert.Equal(t, "trade:701", call.args[0])

	var fields map[string]any
	require.NoError(t, sonic.UnmarshalString(call.args[1].(string), &fields))
	assert.Equal(t, "EURUSD", fields["symbol"])
	assert.InDelta(t, 0.01, fields["volume"], 1e-9)
}

func TestAuditStoreWriteError(t *testing.T) {
	tx := &fakeTx{err: errors.New("connection reset")}
	store := NewAuditStore(fakeManager{tx: tx}, nil)

	err := store.Write(context.Background(), "position_closure:9", map[string]any{"reason": "manual_close"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "position_closure:9")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestAuditStoreMigrateAndClose(t *testing.T) {
	tx := &fakeTx{}
	closed := false
	store := NewAuditStore(fakeManager{tx: tx}, func() { closed = true })

	require.NoError(t, store.Migrate(context.Background()))
	require.Len(t, tx.calls, 1)
	assert.Equal(t, createAuditTable, tx.calls[0].sql)

	require.NoError(t, store.Close())
	assert.True(t, closed)
}
