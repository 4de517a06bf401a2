package repo

import (
	"context"
	"sort"
	"time"

	"github.com/noah-isme/expiry-discount/internal/domain"
)

// Store is the record store backing products, batches, rules and the priced
// item cache. Implementations must make Snapshot and ReplacePricedItems
// atomic with respect to each other.
type Store interface {
	Ping(ctx context.Context) error

	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error)

	ListBatches(ctx context.Context) ([]domain.InventoryBatch, error)
	GetBatch(ctx context.Context, inventoryID string) (domain.InventoryBatch, error)
	ListExpiringWithin(ctx context.Context, now time.Time, days int) ([]domain.InventoryBatch, error)
	CreateBatch(ctx context.Context, b domain.InventoryBatch) (domain.InventoryBatch, error)

	ListRules(ctx context.Context) ([]domain.DiscountRule, error)
	GetRule(ctx context.Context, ruleID string) (domain.DiscountRule, error)
	CreateRule(ctx context.Context, r domain.DiscountRule) (domain.DiscountRule, error)
	UpdateRule(ctx context.Context, r domain.DiscountRule) (domain.DiscountRule, error)
	SetRuleActive(ctx context.Context, ruleID string, active bool, at time.Time) (domain.DiscountRule, error)

	ListPricedItems(ctx context.Context) ([]domain.PricedItem, error)
	ReplacePricedItems(ctx context.Context, items []domain.PricedItem, changes []domain.PriceChange) error
	ListPriceHistory(ctx context.Context, inventoryID string) ([]domain.PriceChange, error)

	Snapshot(ctx context.Context) (domain.Snapshot, error)
}

func sortProducts(products []domain.Product) {
	sort.Slice(products, func(i, j int) bool { return products[i].ProductID < products[j].ProductID })
}

func sortBatches(batches []domain.InventoryBatch) {
	sort.Slice(batches, func(i, j int) bool {
		a, b := batches[i], batches[j]
		if !a.ExpirationDate.Equal(b.ExpirationDate) {
			return a.ExpirationDate.Before(b.ExpirationDate)
		}
		return a.InventoryID < b.InventoryID
	})
}

func sortRules(rules []domain.DiscountRule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].RuleID < rules[j].RuleID
	})
}

func sortPriced(items []domain.PricedItem) {
	sort.Slice(items, func(i, j int) bool { return items[i].InventoryID < items[j].InventoryID })
}

// expiringWithin keeps batches expiring between today and today+days inclusive.
func expiringWithin(batches []domain.InventoryBatch, now time.Time, days int) []domain.InventoryBatch {
	out := make([]domain.InventoryBatch, 0, len(batches))
	for _, b := range batches {
		d := b.DaysUntilExpiry(now)
		if d >= 0 && d <= days {
			out = append(out, b)
		}
	}
	return out
}
