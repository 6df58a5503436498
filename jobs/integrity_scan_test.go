package jobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/unitstock/internal/inventory"
	"github.com/odyssey-erp/unitstock/internal/inventory/inventorytest"
	jobmetrics "github.com/odyssey-erp/unitstock/internal/jobs"
	"github.com/odyssey-erp/unitstock/internal/platform/events"
	"github.com/odyssey-erp/unitstock/internal/shared"
)

type scanFixture struct {
	store *inventorytest.Store
	mr    *miniredis.Miniredis
	reg   *prometheus.Registry
	job   *IntegrityScanJob
}

func newScanFixture(t *testing.T) scanFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := inventorytest.New()
	units := inventory.NewUnitManager(store, nil, nil)
	reg := prometheus.NewRegistry()
	job := NewIntegrityScanJob(
		inventory.NewIntegrityChecker(store, nil),
		inventory.NewRepairer(store, units, inventory.NewStockCalculator(store), nil, nil),
		client, time.Minute, nil, jobmetrics.NewMetrics(reg),
	)
	return scanFixture{store: store, mr: mr, reg: reg, job: job}
}

func scanTask(t *testing.T, autoRepair bool) *asynq.Task {
	t.Helper()
	task, err := NewIntegrityScanTask(IntegrityScanPayload{AutoRepair: autoRepair})
	require.NoError(t, err)
	return task
}

func metricValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestIntegrityScanRecordsDriftWithoutRepair(t *testing.T) {
	f := newScanFixture(t)
	phone := f.store.PutProduct(inventory.Product{HasSerial: true, Stock: 3})
	unit := f.store.PutUnit(inventory.ProductUnit{ProductID: phone.ID, SerialNumber: "J1", Status: inventory.UnitStatusSold})
	f.store.PutUnit(inventory.ProductUnit{ProductID: uuid.New(), SerialNumber: "J2", Status: inventory.UnitStatusAvailable})

	require.NoError(t, f.job.Handle(context.Background(), scanTask(t, false)))

	require.Equal(t, 1.0, metricValue(t, f.reg, "unitstock_inventory_drift_total", "kind", inventory.PassStockMismatch))
	require.Equal(t, 1.0, metricValue(t, f.reg, "unitstock_inventory_drift_total", "kind", inventory.PassStatusConsistency))
	require.Equal(t, 1.0, metricValue(t, f.reg, "unitstock_inventory_drift_total", "kind", inventory.PassOrphanedUnits))
	require.Equal(t, 1.0, metricValue(t, f.reg, "unitstock_jobs_total", "status", "success"))

	stored, _ := f.store.Unit(unit.ID)
	require.Equal(t, inventory.UnitStatusSold, stored.Status)
	require.False(t, f.mr.Exists(shared.IntegrityLockKey))
}

func TestIntegrityScanAutoRepair(t *testing.T) {
	f := newScanFixture(t)
	phone := f.store.PutProduct(inventory.Product{HasSerial: true, Stock: 0})
	unit := f.store.PutUnit(inventory.ProductUnit{ProductID: phone.ID, SerialNumber: "K1", Status: inventory.UnitStatusSold})

	require.NoError(t, f.job.Handle(context.Background(), scanTask(t, true)))

	stored, _ := f.store.Unit(unit.ID)
	require.Equal(t, inventory.UnitStatusAvailable, stored.Status)
	product, _ := f.store.Product(phone.ID)
	require.Equal(t, 1, product.Stock)
	require.Equal(t, 1.0, metricValue(t, f.reg, "unitstock_inventory_repaired_total", "kind", "status"))
	require.Equal(t, 1.0, metricValue(t, f.reg, "unitstock_inventory_repaired_total", "kind", "stock"))
}

type recordingPublisher struct {
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, evs ...events.Event) error {
	p.events = append(p.events, evs...)
	return nil
}

func TestIntegrityScanPublishesDriftSummary(t *testing.T) {
	f := newScanFixture(t)
	pub := &recordingPublisher{}
	f.job.Events = pub

	require.NoError(t, f.job.Handle(context.Background(), scanTask(t, true)))
	require.Empty(t, pub.events)

	phone := f.store.PutProduct(inventory.Product{HasSerial: true, Stock: 0})
	f.store.PutUnit(inventory.ProductUnit{ProductID: phone.ID, SerialNumber: "P1", Status: inventory.UnitStatusSold})

	require.NoError(t, f.job.Handle(context.Background(), scanTask(t, true)))
	require.Len(t, pub.events, 1)
	ev := pub.events[0]
	require.Equal(t, events.TopicIntegrityDrift, ev.Topic)
	require.Equal(t, events.EventDriftDetected, ev.Type)
	require.Equal(t, DriftSummary{
		InconsistentStatuses: 1,
		AutoRepair:           true,
		StockRepaired:        1,
		StatusRepaired:       1,
	}, ev.Payload)
}

func TestIntegrityScanSkipsWhenLocked(t *testing.T) {
	f := newScanFixture(t)
	require.NoError(t, f.mr.Set(shared.IntegrityLockKey, "other-worker"))

	require.NoError(t, f.job.Handle(context.Background(), scanTask(t, true)))
	require.Zero(t, f.store.Calls(inventorytest.OpListSerializedProducts))
	require.Equal(t, 0.0, metricValue(t, f.reg, "unitstock_jobs_total", "status", "success"))

	got, err := f.mr.Get(shared.IntegrityLockKey)
	require.NoError(t, err)
	require.Equal(t, "other-worker", got)
}

func TestIntegrityScanFailsWhenStoreIsDown(t *testing.T) {
	f := newScanFixture(t)
	f.store.FailFn = func(op string, id uuid.UUID) error { return errors.New("connection reset") }

	err := f.job.Handle(context.Background(), scanTask(t, false))
	require.ErrorIs(t, err, inventory.ErrIntegrityUnavailable)
	require.Equal(t, 1.0, metricValue(t, f.reg, "unitstock_jobs_failures_total", "job", TaskInventoryIntegrityScan))
	require.False(t, f.mr.Exists(shared.IntegrityLockKey))
}

func TestIntegrityScanRejectsMalformedPayload(t *testing.T) {
	f := newScanFixture(t)
	err := f.job.Handle(context.Background(), asynq.NewTask(TaskInventoryIntegrityScan, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type recordingCleaner struct {
	retention time.Duration
}

func (c *recordingCleaner) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	c.retention = olderThan
	return 4, nil
}

func TestIdempotencyCleanupDefaultsRetention(t *testing.T) {
	cleaner := &recordingCleaner{}
	job := &IdempotencyCleanupJob{Store: cleaner, Metrics: jobmetrics.NewMetrics(prometheus.NewRegistry())}

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	require.Equal(t, defaultIdempotencyRetention, cleaner.retention)

	task, err := NewIdempotencyCleanupTask(48 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 48*time.Hour, cleaner.retention)
}

func TestJobsHealthWithoutInspector(t *testing.T) {
	h := NewHandler(nil, nil)
	rr := httptest.NewRecorder()
	h.health(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"queue":"default","pending":0,"active":0,"scheduled":0,"retry":0,"archived":0,"paused":false}`, rr.Body.String())
}
