package db

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

const createAuditTable = `
CREATE TABLE IF NOT EXISTS audit_records (
	key        text PRIMARY KEY,
	fields     jsonb NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
)`

// Fields of an existing key are merged, matching HSET semantics.
const upsertAuditRecord = `
INSERT INTO audit_records (key, fields, updated_at)
VALUES ($1, $2::jsonb, now())
ON CONFLICT (key) DO UPDATE
SET fields = audit_records.fields || EXCLUDED.fields,
    updated_at = now()`

// AuditStore keeps audit records as one jsonb row per key.
type AuditStore struct {
	tx    TxManager
	close func()
}

func NewAuditStore(tx TxManager, closeFn func()) *AuditStore {
	if closeFn == nil {
		closeFn = func() {}
	}
	return &AuditStore{tx: tx, close: closeFn}
}

// Migrate creates the audit table when it does not exist yet.
func (s *AuditStore) Migrate(ctx context.Context) error {
	return s.tx.RunMaster(ctx, func(ctxTx context.Context, tx Transaction) error {
		_, err := tx.Exec(ctxTx, createAuditTable)
		return errors.Wrap(err, "create audit_records")
	})
}

func (s *AuditStore) Write(ctx context.Context, key string, fields map[string]any) error {
	payload, err := sonic.Marshal(fields)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	return s.tx.RunMaster(ctx, func(ctxTx context.Context, tx Transaction) error {
		_, err := tx.Exec(ctxTx, upsertAuditRecord, key, string(payload))
		return errors.Wrapf(err, "upsert %s", key)
	})
}

func (s *AuditStore) Close() error {
	s.close()
	return nil
}
