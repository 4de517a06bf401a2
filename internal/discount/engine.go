package discount

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/expiry-discount/internal/domain"
	"github.com/noah-isme/expiry-discount/internal/events"
	"github.com/noah-isme/expiry-discount/internal/obs"
	"github.com/noah-isme/expiry-discount/internal/pricing"
)

var (
	// ErrUnknownProduct marks a batch whose product is missing from the store.
	ErrUnknownProduct = errors.New("batch references unknown product")
	// ErrNegativeQuantity marks a stored batch with a quantity below zero.
	ErrNegativeQuantity = errors.New("batch quantity is negative")
)

// Store is the slice of the record store a calculation run needs.
type Store interface {
	Snapshot(ctx context.Context) (domain.Snapshot, error)
	ReplacePricedItems(ctx context.Context, items []domain.PricedItem, changes []domain.PriceChange) error
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// Engine orchestrates calculation runs: it snapshots the store, prices every
// eligible batch in parallel and commits the whole priced item set at once.
type Engine struct {
	Store          Store
	Gate           *Gate
	Events         Emitter
	LastRuns       LastRunCache
	Logger         zerolog.Logger
	Workers        int
	Timeout        time.Duration
	ExcludeExpired bool
	Now            func() time.Time
	NewID          func() string

	fallback Gate
	last     atomic.Pointer[Summary]
}

type evaluation struct {
	batch domain.InventoryBatch
	item  domain.PricedItem
	err   error
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e *Engine) workers() int {
	if e.Workers <= 0 {
		return 4
	}
	return e.Workers
}

// Run executes one calculation run. A second call while a run is in flight
// fails fast with domain.ErrRunInProgress. Any store failure or timeout
// aborts the run and leaves the previously committed state untouched.
func (e *Engine) Run(ctx context.Context, trigger string) (Summary, error) {
	if e.Store == nil {
		return Summary{}, errors.New("discount: store not configured")
	}
	gate := e.Gate
	if gate == nil {
		gate = &e.fallback
	}
	release, err := gate.Acquire(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrRunInProgress) {
			obs.ObserveRun("conflict", -1, nil)
		}
		return Summary{}, err
	}
	defer release()

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	started := e.now()
	summary := Summary{RunID: e.newID(), Trigger: trigger, StartedAt: started, Failures: []Failure{}}
	ctx, span := obs.StartSpan(ctx, "discount", "discount.run")
	defer span.End()
	span.SetAttributes(attribute.String("discount.run_id", summary.RunID), attribute.String("discount.trigger", trigger))

	logger := e.Logger.With().Str("run_id", summary.RunID).Str("trigger", trigger).Logger()
	logger.Info().Msg("discount run started")

	summary, err = e.run(ctx, summary, logger)
	elapsed := time.Since(started)
	if err != nil {
		result := "error"
		if errors.Is(err, domain.ErrRunTimeout) {
			result = "timeout"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		obs.ObserveRun(result, obs.DurationMillis(elapsed), nil)
		logger.Error().Err(err).Dur("elapsed", elapsed).Msg("discount run aborted")
		return Summary{}, err
	}

	summary.FinishedAt = e.now()
	summary.DurationMs = elapsed.Milliseconds()
	e.last.Store(&summary)
	obs.ObserveRun("ok", obs.DurationMillis(elapsed), summary.Outcomes())
	span.SetAttributes(
		attribute.Int("discount.processed", summary.Processed),
		attribute.Int("discount.failed", summary.Failed),
	)

	// Post-commit side effects must not fail a committed run.
	post := context.WithoutCancel(ctx)
	if err := e.LastRuns.Save(post, summary); err != nil {
		logger.Warn().Err(err).Msg("mirror last run summary")
	}
	if e.Events != nil {
		if _, err := e.Events.Emit(post, events.TopicRunCompleted, summary.RunID, summary); err != nil {
			logger.Warn().Err(err).Msg("emit run completed")
		}
	}

	logger.Info().
		Int("processed", summary.Processed).
		Int("discounted", summary.Discounted).
		Int("already_discounted", summary.AlreadyDiscounted).
		Int("no_rule_found", summary.NoRuleFound).
		Int("cleared", summary.Cleared).
		Int("excluded", summary.Excluded).
		Int("failed", summary.Failed).
		Int("price_changes", summary.PriceChanges).
		Int64("duration_ms", summary.DurationMs).
		Msg("discount run finished")
	return summary, nil
}

func (e *Engine) run(ctx context.Context, summary Summary, logger zerolog.Logger) (Summary, error) {
	snap, err := e.Store.Snapshot(ctx)
	if err != nil {
		return Summary{}, abortErr("load snapshot", err)
	}
	now := summary.StartedAt
	products := snap.ProductIndex()
	previous := snap.PricedIndex()

	eligible := make([]domain.InventoryBatch, 0, len(snap.Batches))
	for _, batch := range snap.Batches {
		if e.excluded(batch, now) {
			summary.count(OutcomeExcluded)
			continue
		}
		eligible = append(eligible, batch)
	}

	results, err := e.evaluate(ctx, eligible, products, snap.Rules, now)
	if err != nil {
		return Summary{}, abortErr("evaluate batches", err)
	}

	items := make([]domain.PricedItem, 0, len(results))
	changes := make([]domain.PriceChange, 0)
	for _, res := range results {
		if res.err != nil {
			summary.count(OutcomeFailed)
			summary.Failures = append(summary.Failures, Failure{InventoryID: res.batch.InventoryID, Reason: res.err.Error()})
			logger.Warn().Err(res.err).Str("inventory_id", res.batch.InventoryID).Msg("batch skipped")
			continue
		}
		prev, had := previous[res.batch.InventoryID]
		summary.count(classify(prev, had, res.item))

		item := settle(prev, had, res.item, summary.RunID, now)
		items = append(items, item)
		if change, ok := priceChange(prev, had, item, summary.RunID, now, e.newID); ok {
			changes = append(changes, change)
		}
	}
	summary.PriceChanges = len(changes)

	if err := ctx.Err(); err != nil {
		return Summary{}, abortErr("before commit", err)
	}
	if err := e.Store.ReplacePricedItems(ctx, items, changes); err != nil {
		return Summary{}, abortErr("commit priced items", err)
	}
	return summary, nil
}

func (e *Engine) excluded(batch domain.InventoryBatch, now time.Time) bool {
	if batch.Quantity == 0 {
		return true
	}
	if e.ExcludeExpired && !batch.ExpirationDate.IsZero() && batch.DaysUntilExpiry(now) < 0 {
		return true
	}
	return false
}

// evaluate prices batches on a bounded worker pool. Per-batch failures are
// carried in the result; only cancellation fails the whole call.
func (e *Engine) evaluate(ctx context.Context, batches []domain.InventoryBatch, products map[string]domain.Product, rules []domain.DiscountRule, now time.Time) ([]evaluation, error) {
	results := make([]evaluation, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers())
	for i := range batches {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = evaluateOne(batches[i], products, rules, now)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func evaluateOne(batch domain.InventoryBatch, products map[string]domain.Product, rules []domain.DiscountRule, now time.Time) evaluation {
	res := evaluation{batch: batch}
	if batch.Quantity < 0 {
		res.err = &domain.ComputationError{InventoryID: batch.InventoryID, Err: ErrNegativeQuantity}
		return res
	}
	product, ok := products[batch.ProductID]
	if !ok {
		res.err = &domain.ComputationError{InventoryID: batch.InventoryID, Err: ErrUnknownProduct}
		return res
	}
	item, err := pricing.Evaluate(batch, product, rules, now)
	if err != nil {
		res.err = &domain.ComputationError{InventoryID: batch.InventoryID, Err: err}
		return res
	}
	res.item = item
	return res
}

func classify(prev domain.PricedItem, had bool, next domain.PricedItem) string {
	before := had && prev.HasRule()
	switch {
	case next.HasRule() && !before:
		return OutcomeDiscounted
	case next.HasRule():
		return OutcomeAlreadyDiscounted
	case before:
		return OutcomeCleared
	default:
		return OutcomeNoRuleFound
	}
}

// settle stamps the run onto changed items and keeps unchanged items as they
// were, so repeated runs over unchanged inputs leave identical state.
func settle(prev domain.PricedItem, had bool, next domain.PricedItem, runID string, at time.Time) domain.PricedItem {
	if had && samePricing(prev, next) {
		return prev
	}
	next.RunID = runID
	next.CalculatedAt = at
	return next
}

func samePricing(a, b domain.PricedItem) bool {
	return a.ProductID == b.ProductID &&
		a.BasePrice.Equal(b.BasePrice) &&
		a.CurrentPrice.Equal(b.CurrentPrice) &&
		a.DiscountPercentageApplied.Equal(b.DiscountPercentageApplied) &&
		domain.SameString(a.AppliedRuleID, b.AppliedRuleID)
}

// priceChange reports a history row when the price or the applied rule moved.
// A batch priced for the first time is compared against its base price.
func priceChange(prev domain.PricedItem, had bool, next domain.PricedItem, runID string, at time.Time, newID func() string) (domain.PriceChange, bool) {
	previousPrice := next.BasePrice
	var previousRule *string
	if had {
		previousPrice = prev.CurrentPrice
		previousRule = prev.AppliedRuleID
	}
	if previousPrice.Equal(next.CurrentPrice) && domain.SameString(previousRule, next.AppliedRuleID) {
		return domain.PriceChange{}, false
	}
	return domain.PriceChange{
		ID:             newID(),
		InventoryID:    next.InventoryID,
		ProductID:      next.ProductID,
		RunID:          runID,
		PreviousPrice:  previousPrice,
		NewPrice:       next.CurrentPrice,
		PreviousRuleID: previousRule,
		NewRuleID:      next.AppliedRuleID,
		ChangedAt:      at,
	}, true
}

func abortErr(stage string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", domain.ErrRunTimeout, stage, err)
	}
	return fmt.Errorf("discount run %s: %w", stage, err)
}

// LastRun returns the most recent summary known to this process or mirrored
// by another one, whichever finished later.
func (e *Engine) LastRun(ctx context.Context) (Summary, bool) {
	var best *Summary
	if local := e.last.Load(); local != nil {
		copied := *local
		best = &copied
	}
	shared, ok, err := e.LastRuns.Load(ctx)
	if err != nil {
		e.Logger.Warn().Err(err).Msg("load mirrored last run")
	}
	if ok && (best == nil || shared.FinishedAt.After(best.FinishedAt)) {
		best = &shared
	}
	if best == nil {
		return Summary{}, false
	}
	return *best, true
}
