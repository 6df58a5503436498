package shared

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestNormalizeIdempotencyKey(t *testing.T) {
	require.Equal(t, "ACQ:PO-77", NormalizeIdempotencyKey("  acq:po-77\t"))
	require.Empty(t, NormalizeIdempotencyKey("   "))
}

func TestIdempotencyStoreWithoutPool(t *testing.T) {
	var store *IdempotencyStore
	require.Error(t, store.CheckAndInsert(context.Background(), "ACQ:1", "procurement.acquisition"))
	require.NoError(t, store.Delete(context.Background(), "ACQ:1"))

	removed, err := store.Cleanup(context.Background(), time.Hour)
	require.NoError(t, err)
	require.Zero(t, removed)

	_, err = (&IdempotencyStore{}).Cleanup(context.Background(), time.Hour)
	require.NoError(t, err)
}

func TestAuditLogValidate(t *testing.T) {
	err := AuditLog{Action: "inventory:unit_status_repair"}.Validate()
	require.EqualError(t, err, "audit log missing entity, entity_id")
	require.Error(t, AuditLog{Action: "repair", Entity: "product_unit", EntityID: "u-1"}.Validate())
	require.NoError(t, AuditLog{Action: "procurement:acquisition", Entity: "supplier_transaction", EntityID: "tx-1"}.Validate())
}

type recordingExecer struct {
	sql  string
	args []any
	err  error
}

func (r *recordingExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.sql = sql
	r.args = args
	return pgconn.NewCommandTag("INSERT 0 1"), r.err
}

func TestAuditLoggerRecord(t *testing.T) {
	exec := &recordingExecer{}
	logger := NewAuditLogger(exec)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.FixedZone("WIB", 7*3600))

	err := logger.Record(context.Background(), AuditLog{
		ActorID:  ActorSystem,
		Action:   "inventory:unit_status_repair",
		Entity:   "product_unit",
		EntityID: "u-1",
		At:       at,
	})
	require.NoError(t, err)
	require.Contains(t, exec.sql, "INSERT INTO audit_logs")
	require.Len(t, exec.args, 6)
	require.JSONEq(t, `{}`, string(exec.args[4].([]byte)))
	require.Equal(t, at.UTC(), *exec.args[5].(*time.Time))

	exec.err = errors.New("boom")
	err = logger.Record(context.Background(), AuditLog{Action: "procurement:acquisition", Entity: "supplier_transaction", EntityID: "tx-1"})
	require.ErrorContains(t, err, "insert audit log procurement:acquisition")
	require.Nil(t, exec.args[5].(*time.Time))
}
