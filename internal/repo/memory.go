package repo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/noah-isme/expiry-discount/internal/domain"
)

// MemoryStore keeps every record in process memory. It backs local runs
// without DATABASE_URL and the service tests.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]domain.Product
	batches  map[string]domain.InventoryBatch
	rules    map[string]domain.DiscountRule
	priced   map[string]domain.PricedItem
	history  []domain.PriceChange
	now      func() time.Time
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[string]domain.Product),
		batches:  make(map[string]domain.InventoryBatch),
		rules:    make(map[string]domain.DiscountRule),
		priced:   make(map[string]domain.PricedItem),
		now:      time.Now,
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) ListProducts(ctx context.Context) ([]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.productsLocked(), nil
}

func (m *MemoryStore) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[productID]
	if !ok {
		return domain.Product{}, domain.NewNotFoundError("product", productID)
	}
	return p, nil
}

func (m *MemoryStore) CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.products[p.ProductID]; exists {
		return domain.Product{}, fmt.Errorf("product %s: %w", p.ProductID, domain.ErrDuplicate)
	}
	stamp := m.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = stamp
	}
	p.UpdatedAt = stamp
	m.products[p.ProductID] = p
	return p, nil
}

func (m *MemoryStore) ListBatches(ctx context.Context) ([]domain.InventoryBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.batchesLocked(), nil
}

func (m *MemoryStore) GetBatch(ctx context.Context, inventoryID string) (domain.InventoryBatch, error) {
	if err := ctx.Err(); err != nil {
		return domain.InventoryBatch{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[inventoryID]
	if !ok {
		return domain.InventoryBatch{}, domain.NewNotFoundError("inventory batch", inventoryID)
	}
	return b, nil
}

func (m *MemoryStore) ListExpiringWithin(ctx context.Context, now time.Time, days int) ([]domain.InventoryBatch, error) {
	batches, err := m.ListBatches(ctx)
	if err != nil {
		return nil, err
	}
	return expiringWithin(batches, now, days), nil
}

func (m *MemoryStore) CreateBatch(ctx context.Context, b domain.InventoryBatch) (domain.InventoryBatch, error) {
	if err := ctx.Err(); err != nil {
		return domain.InventoryBatch{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[b.ProductID]; !ok {
		return domain.InventoryBatch{}, domain.NewNotFoundError("product", b.ProductID)
	}
	if _, exists := m.batches[b.InventoryID]; exists {
		return domain.InventoryBatch{}, fmt.Errorf("inventory %s: %w", b.InventoryID, domain.ErrDuplicate)
	}
	for _, existing := range m.batches {
		if existing.ProductID == b.ProductID && existing.BatchID == b.BatchID {
			return domain.InventoryBatch{}, fmt.Errorf("batch %s for product %s: %w", b.BatchID, b.ProductID, domain.ErrDuplicate)
		}
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = m.now().UTC()
	}
	m.batches[b.InventoryID] = b
	return b, nil
}

func (m *MemoryStore) ListRules(ctx context.Context) ([]domain.DiscountRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rulesLocked(), nil
}

func (m *MemoryStore) GetRule(ctx context.Context, ruleID string) (domain.DiscountRule, error) {
	if err := ctx.Err(); err != nil {
		return domain.DiscountRule{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[ruleID]
	if !ok {
		return domain.DiscountRule{}, domain.NewNotFoundError("discount rule", ruleID)
	}
	return r, nil
}

func (m *MemoryStore) CreateRule(ctx context.Context, r domain.DiscountRule) (domain.DiscountRule, error) {
	if err := ctx.Err(); err != nil {
		return domain.DiscountRule{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rules[r.RuleID]; exists {
		return domain.DiscountRule{}, fmt.Errorf("rule %s: %w", r.RuleID, domain.ErrDuplicate)
	}
	stamp := m.now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = stamp
	}
	r.UpdatedAt = stamp
	m.rules[r.RuleID] = r
	return r, nil
}

func (m *MemoryStore) UpdateRule(ctx context.Context, r domain.DiscountRule) (domain.DiscountRule, error) {
	if err := ctx.Err(); err != nil {
		return domain.DiscountRule{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.rules[r.RuleID]
	if !ok {
		return domain.DiscountRule{}, domain.NewNotFoundError("discount rule", r.RuleID)
	}
	r.CreatedAt = existing.CreatedAt
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = m.now().UTC()
	}
	m.rules[r.RuleID] = r
	return r, nil
}

func (m *MemoryStore) SetRuleActive(ctx context.Context, ruleID string, active bool, at time.Time) (domain.DiscountRule, error) {
	if err := ctx.Err(); err != nil {
		return domain.DiscountRule{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[ruleID]
	if !ok {
		return domain.DiscountRule{}, domain.NewNotFoundError("discount rule", ruleID)
	}
	r.IsActive = active
	r.UpdatedAt = at.UTC()
	m.rules[ruleID] = r
	return r, nil
}

func (m *MemoryStore) ListPricedItems(ctx context.Context) ([]domain.PricedItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pricedLocked(), nil
}

// ReplacePricedItems swaps the whole priced item cache and appends the
// history rows under a single write lock.
func (m *MemoryStore) ReplacePricedItems(ctx context.Context, items []domain.PricedItem, changes []domain.PriceChange) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	next := make(map[string]domain.PricedItem, len(items))
	for _, item := range items {
		next[item.InventoryID] = item
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.priced = next
	m.history = append(m.history, changes...)
	return nil
}

func (m *MemoryStore) ListPriceHistory(ctx context.Context, inventoryID string) ([]domain.PriceChange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.batches[inventoryID]; !ok {
		return nil, domain.NewNotFoundError("inventory batch", inventoryID)
	}
	out := make([]domain.PriceChange, 0)
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].InventoryID == inventoryID {
			out = append(out, m.history[i])
		}
	}
	return out, nil
}

// Snapshot copies every collection under one read lock so callers never
// observe a half-replaced priced item set.
func (m *MemoryStore) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.Snapshot{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return domain.Snapshot{
		Products:    m.productsLocked(),
		Batches:     m.batchesLocked(),
		Rules:       m.rulesLocked(),
		PricedItems: m.pricedLocked(),
	}, nil
}

func (m *MemoryStore) productsLocked() []domain.Product {
	out := make([]domain.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	sortProducts(out)
	return out
}

func (m *MemoryStore) batchesLocked() []domain.InventoryBatch {
	out := make([]domain.InventoryBatch, 0, len(m.batches))
	for _, b := range m.batches {
		out = append(out, b)
	}
	sortBatches(out)
	return out
}

func (m *MemoryStore) rulesLocked() []domain.DiscountRule {
	out := make([]domain.DiscountRule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r)
	}
	sortRules(out)
	return out
}

func (m *MemoryStore) pricedLocked() []domain.PricedItem {
	out := make([]domain.PricedItem, 0, len(m.priced))
	for _, p := range m.priced {
		out = append(out, p)
	}
	sortPriced(out)
	return out
}
