package discount

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/expiry-discount/internal/domain"
	"github.com/noah-isme/expiry-discount/internal/events"
	"github.com/noah-isme/expiry-discount/internal/lock"
	"github.com/noah-isme/expiry-discount/internal/repo"
)

var runNow = time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)

func seed(t *testing.T) *repo.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := repo.NewMemoryStore()
	_, err := store.CreateProduct(ctx, domain.Product{ProductID: "P1", Name: "Milk", SKU: "MLK-1", BasePrice: decimal.RequireFromString("10.00"), Category: domain.StringPtr("Dairy")})
	require.NoError(t, err)
	_, err = store.CreateProduct(ctx, domain.Product{ProductID: "P2", Name: "Bread", SKU: "BRD-1", BasePrice: decimal.RequireFromString("4.00"), Category: domain.StringPtr("Bakery")})
	require.NoError(t, err)
	_, err = store.CreateBatch(ctx, domain.InventoryBatch{InventoryID: "B1", ProductID: "P1", BatchID: "L1", Quantity: 10, ExpirationDate: runNow.AddDate(0, 0, 5)})
	require.NoError(t, err)
	_, err = store.CreateBatch(ctx, domain.InventoryBatch{InventoryID: "B2", ProductID: "P2", BatchID: "L1", Quantity: 3, ExpirationDate: runNow.AddDate(0, 0, 20)})
	require.NoError(t, err)
	_, err = store.CreateRule(ctx, domain.DiscountRule{RuleID: "R1", Name: "dairy week", DaysBeforeExpiry: 7, DiscountPercentage: decimal.NewFromInt(20), Category: domain.StringPtr("Dairy"), Priority: 1, IsActive: true})
	require.NoError(t, err)
	return store
}

func newEngine(store Store) *Engine {
	seq := 0
	var mu sync.Mutex
	return &Engine{
		Store:   store,
		Gate:    &Gate{},
		Logger:  zerolog.Nop(),
		Workers: 2,
		Timeout: time.Second,
		Now:     func() time.Time { return runNow },
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("id-%03d", seq)
		},
	}
}

func pricedByID(t *testing.T, store *repo.MemoryStore) map[string]domain.PricedItem {
	t.Helper()
	items, err := store.ListPricedItems(context.Background())
	require.NoError(t, err)
	out := make(map[string]domain.PricedItem, len(items))
	for _, it := range items {
		out[it.InventoryID] = it
	}
	return out
}

func TestRunAppliesMatchingRule(t *testing.T) {
	store := seed(t)
	engine := newEngine(store)

	summary, err := engine.Run(context.Background(), TriggerManual)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Processed)
	require.Equal(t, 1, summary.Discounted)
	require.Equal(t, 1, summary.NoRuleFound)
	require.Equal(t, 0, summary.Failed)
	require.Equal(t, 1, summary.PriceChanges)
	require.Empty(t, summary.Failures)

	items := pricedByID(t, store)
	require.Len(t, items, 2)
	require.Equal(t, "8.00", items["B1"].CurrentPrice.StringFixed(2))
	require.Equal(t, "R1", *items["B1"].AppliedRuleID)
	require.Equal(t, summary.RunID, items["B1"].RunID)
	require.True(t, items["B2"].CurrentPrice.Equal(decimal.RequireFromString("4.00")))
	require.Nil(t, items["B2"].AppliedRuleID)

	history, err := store.ListPriceHistory(context.Background(), "B1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "10", history[0].PreviousPrice.String())
	require.Equal(t, "8", history[0].NewPrice.String())
}

func TestRunNarrowerHigherPriorityRuleOutsideWindow(t *testing.T) {
	store := seed(t)
	_, err := store.CreateRule(context.Background(), domain.DiscountRule{RuleID: "R2", Name: "last days", DaysBeforeExpiry: 3, DiscountPercentage: decimal.NewFromInt(50), Priority: 5, IsActive: true})
	require.NoError(t, err)

	_, err = newEngine(store).Run(context.Background(), TriggerManual)
	require.NoError(t, err)
	item := pricedByID(t, store)["B1"]
	require.Equal(t, "R1", *item.AppliedRuleID)
	require.Equal(t, "8.00", item.CurrentPrice.StringFixed(2))
}

func TestRunIsIdempotent(t *testing.T) {
	store := seed(t)
	engine := newEngine(store)

	first, err := engine.Run(context.Background(), TriggerManual)
	require.NoError(t, err)
	before := pricedByID(t, store)

	second, err := engine.Run(context.Background(), TriggerManual)
	require.NoError(t, err)
	require.NotEqual(t, first.RunID, second.RunID)
	require.Equal(t, 0, second.Discounted)
	require.Equal(t, 1, second.AlreadyDiscounted)
	require.Equal(t, 0, second.PriceChanges)
	require.Equal(t, before, pricedByID(t, store))

	history, err := store.ListPriceHistory(context.Background(), "B1")
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestRunExcludesZeroQuantity(t *testing.T) {
	store := seed(t)
	_, err := store.CreateBatch(context.Background(), domain.InventoryBatch{InventoryID: "B3", ProductID: "P1", BatchID: "L2", Quantity: 0, ExpirationDate: runNow.AddDate(0, 0, 1)})
	require.NoError(t, err)

	summary, err := newEngine(store).Run(context.Background(), TriggerManual)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Excluded)
	require.Equal(t, 2, summary.Processed)
	require.Equal(t, 1, summary.Discounted)
	_, ok := pricedByID(t, store)["B3"]
	require.False(t, ok)
}

func TestRunExpiredPolicy(t *testing.T) {
	store := seed(t)
	_, err := store.CreateBatch(context.Background(), domain.InventoryBatch{InventoryID: "B4", ProductID: "P1", BatchID: "L3", Quantity: 2, ExpirationDate: runNow.AddDate(0, 0, -2)})
	require.NoError(t, err)

	summary, err := newEngine(store).Run(context.Background(), TriggerManual)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Discounted)
	require.Equal(t, "R1", *pricedByID(t, store)["B4"].AppliedRuleID)

	engine := newEngine(store)
	engine.ExcludeExpired = true
	summary, err = engine.Run(context.Background(), TriggerManual)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Excluded)
	_, ok := pricedByID(t, store)["B4"]
	require.False(t, ok)
}

func TestRunClearsDeactivatedRule(t *testing.T) {
	store := seed(t)
	engine := newEngine(store)
	_, err := engine.Run(context.Background(), TriggerManual)
	require.NoError(t, err)

	_, err = store.SetRuleActive(context.Background(), "R1", false, runNow)
	require.NoError(t, err)
	summary, err := engine.Run(context.Background(), TriggerManual)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Cleared)
	require.Equal(t, 0, summary.Discounted)
	require.Equal(t, 1, summary.PriceChanges)

	item := pricedByID(t, store)["B1"]
	require.Nil(t, item.AppliedRuleID)
	require.Equal(t, "10.00", item.CurrentPrice.StringFixed(2))
	require.Equal(t, summary.RunID, item.RunID)
}

// stubStore serves a fixed snapshot and records commits.
type stubStore struct {
	snap      domain.Snapshot
	snapErr   error
	commitErr error
	block     bool
	started   chan struct{}
	committed [][]domain.PricedItem
}

func (s *stubStore) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	if s.block {
		if s.started != nil {
			close(s.started)
		}
		<-ctx.Done()
		return domain.Snapshot{}, ctx.Err()
	}
	return s.snap, s.snapErr
}

func (s *stubStore) ReplacePricedItems(_ context.Context, items []domain.PricedItem, _ []domain.PriceChange) error {
	if s.commitErr != nil {
		return s.commitErr
	}
	s.committed = append(s.committed, items)
	return nil
}

func TestRunIsolatesBatchFailures(t *testing.T) {
	store := &stubStore{snap: domain.Snapshot{
		Products: []domain.Product{
			{ProductID: "P1", BasePrice: decimal.RequireFromString("10.00")},
			{ProductID: "P0", BasePrice: decimal.Zero},
		},
		Batches: []domain.InventoryBatch{
			{InventoryID: "B1", ProductID: "P1", Quantity: 1, ExpirationDate: runNow.AddDate(0, 0, 2)},
			{InventoryID: "B2", ProductID: "missing", Quantity: 1, ExpirationDate: runNow},
			{InventoryID: "B3", ProductID: "P0", Quantity: 1, ExpirationDate: runNow},
			{InventoryID: "B4", ProductID: "P1", Quantity: -1, ExpirationDate: runNow},
			{InventoryID: "B5", ProductID: "P1", Quantity: 1},
		},
		Rules: []domain.DiscountRule{{RuleID: "R1", DaysBeforeExpiry: 3, DiscountPercentage: decimal.NewFromInt(10), Priority: 1, IsActive: true}},
	}}

	summary, err := newEngine(store).Run(context.Background(), TriggerManual)
	require.NoError(t, err)
	require.Equal(t, 5, summary.Processed)
	require.Equal(t, 4, summary.Failed)
	require.Equal(t, 1, summary.Discounted)
	require.Len(t, summary.Failures, 4)
	require.Equal(t, "B2", summary.Failures[0].InventoryID)
	require.Contains(t, summary.Failures[0].Reason, "unknown product")

	require.Len(t, store.committed, 1)
	require.Len(t, store.committed[0], 1)
	require.Equal(t, "B1", store.committed[0][0].InventoryID)
	require.Equal(t, "9.00", store.committed[0][0].CurrentPrice.StringFixed(2))
}

func TestRunStoreFailureAbortsWithoutCommit(t *testing.T) {
	store := &stubStore{snapErr: repo.ErrStoreUnavailable}
	engine := newEngine(store)
	_, err := engine.Run(context.Background(), TriggerManual)
	require.ErrorIs(t, err, repo.ErrStoreUnavailable)
	require.Empty(t, store.committed)
	_, ok := engine.LastRun(context.Background())
	require.False(t, ok)

	store = &stubStore{commitErr: errors.New("disk full")}
	_, err = newEngine(store).Run(context.Background(), TriggerManual)
	require.Error(t, err)
}

func TestRunTimeoutLeavesPriorState(t *testing.T) {
	store := &stubStore{block: true}
	engine := newEngine(store)
	engine.Timeout = 20 * time.Millisecond

	_, err := engine.Run(context.Background(), TriggerManual)
	require.ErrorIs(t, err, domain.ErrRunTimeout)
	require.Empty(t, store.committed)

	// The gate is released after an aborted run.
	store.block = false
	_, err = engine.Run(context.Background(), TriggerManual)
	require.NoError(t, err)
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	store := &stubStore{block: true, started: make(chan struct{})}
	engine := newEngine(store)
	engine.Timeout = 5 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := engine.Run(ctx, TriggerManual)
		done <- err
	}()
	<-store.started

	_, err := engine.Run(context.Background(), TriggerManual)
	require.ErrorIs(t, err, domain.ErrRunInProgress)

	cancel()
	require.Error(t, <-done)
}

func TestRunSharedLockAcrossEngines(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	mr.Set("discount:run:lock", "held-by-worker")
	engine := newEngine(seed(t))
	engine.Gate = &Gate{Locker: lock.Locker{R: client}, TTL: time.Minute}

	_, err := engine.Run(context.Background(), TriggerScheduled)
	require.ErrorIs(t, err, domain.ErrRunInProgress)

	mr.Del("discount:run:lock")
	_, err = engine.Run(context.Background(), TriggerScheduled)
	require.NoError(t, err)
	require.False(t, mr.Exists("discount:run:lock"))
}

func TestRunPublishesSummary(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	var got []events.Event
	engine := newEngine(seed(t))
	engine.LastRuns = LastRunCache{R: client, TTL: time.Hour}
	engine.Events = &events.Bus{Notifiers: []events.Notifier{events.NotifierFunc(func(_ context.Context, evt events.Event) error {
		got = append(got, evt)
		return nil
	})}}

	summary, err := engine.Run(context.Background(), TriggerManual)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, events.TopicRunCompleted, got[0].Topic)
	require.Equal(t, summary.RunID, got[0].AggregateID)

	// A fresh engine sharing Redis sees the mirrored summary.
	other := newEngine(seed(t))
	other.LastRuns = LastRunCache{R: client}
	last, ok := other.LastRun(context.Background())
	require.True(t, ok)
	require.Equal(t, summary.RunID, last.RunID)
	require.Equal(t, summary.Discounted, last.Discounted)
}

func TestClassify(t *testing.T) {
	rule := domain.StringPtr("R1")
	withRule := domain.PricedItem{AppliedRuleID: rule}
	plain := domain.PricedItem{}

	require.Equal(t, OutcomeDiscounted, classify(plain, false, withRule))
	require.Equal(t, OutcomeDiscounted, classify(plain, true, withRule))
	require.Equal(t, OutcomeAlreadyDiscounted, classify(withRule, true, withRule))
	require.Equal(t, OutcomeCleared, classify(withRule, true, plain))
	require.Equal(t, OutcomeNoRuleFound, classify(plain, true, plain))
	require.Equal(t, OutcomeNoRuleFound, classify(plain, false, plain))
}
