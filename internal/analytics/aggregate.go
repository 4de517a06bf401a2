package analytics

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/expiry-discount/internal/domain"
)

// DefaultWindowDays is the soon-expiring look-ahead shared with the inventory view.
const DefaultWindowDays = 7

// Report is the analytics payload derived from committed priced state.
type Report struct {
	Summary      Totals          `json:"summary"`
	ByCategory   []CategoryStats `json:"by_category"`
	SoonExpiring []ExpiringItem  `json:"soon_expiring"`
	WindowDays   int             `json:"window_days"`
	GeneratedAt  time.Time       `json:"generated_at"`
}

// Totals summarises every discounted item.
type Totals struct {
	Total              int              `json:"total"`
	AvgPct             *decimal.Decimal `json:"avg_pct"`
	TotalDiscountValue decimal.Decimal  `json:"total_discount_value"`
}

// CategoryStats aggregates discounted items sharing a product category.
type CategoryStats struct {
	Category string          `json:"category"`
	Count    int             `json:"count"`
	AvgPct   decimal.Decimal `json:"avg_pct"`
}

// ExpiringItem is a discounted batch inside the look-ahead window.
type ExpiringItem struct {
	InventoryID        string          `json:"inventory_id"`
	ProductID          string          `json:"product_id"`
	ProductName        string          `json:"product_name"`
	BatchID            string          `json:"batch_id"`
	Category           string          `json:"category"`
	Quantity           int             `json:"quantity"`
	ExpirationDate     string          `json:"expiration_date"`
	DaysUntilExpiry    int             `json:"days_until_expiry"`
	BasePrice          decimal.Decimal `json:"base_price"`
	CurrentPrice       decimal.Decimal `json:"current_price"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	DiscountValue      decimal.Decimal `json:"discount_value"`

	expiresAt time.Time
}

type bucket struct {
	count int
	sum   decimal.Decimal
}

// Aggregate derives the report from one snapshot. Only items with a
// positive applied percentage count as discounted. Items whose batch is gone
// or now holds no stock are ignored until the next run rebuilds them.
// limit <= 0 leaves the soon-expiring list unbounded.
func Aggregate(snap domain.Snapshot, now time.Time, windowDays, limit int) Report {
	products := snap.ProductIndex()
	batches := snap.BatchIndex()

	report := Report{
		ByCategory:   []CategoryStats{},
		SoonExpiring: []ExpiringItem{},
		WindowDays:   windowDays,
		GeneratedAt:  now.UTC(),
	}
	total := bucket{sum: decimal.Zero}
	valueSum := decimal.Zero
	categories := map[string]*bucket{}

	for _, item := range snap.PricedItems {
		if !item.Discounted() {
			continue
		}
		batch, ok := batches[item.InventoryID]
		if !ok || batch.Quantity <= 0 {
			continue
		}
		product := products[item.ProductID]
		category := categoryOf(product)

		total.count++
		total.sum = total.sum.Add(item.DiscountPercentageApplied)
		value := item.BasePrice.Sub(item.CurrentPrice)
		valueSum = valueSum.Add(value)

		b, ok := categories[category]
		if !ok {
			b = &bucket{sum: decimal.Zero}
			categories[category] = b
		}
		b.count++
		b.sum = b.sum.Add(item.DiscountPercentageApplied)

		if batch.ExpirationDate.IsZero() {
			continue
		}
		days := batch.DaysUntilExpiry(now)
		if days < 0 || days > windowDays {
			continue
		}
		report.SoonExpiring = append(report.SoonExpiring, ExpiringItem{
			InventoryID:        item.InventoryID,
			ProductID:          item.ProductID,
			ProductName:        product.Name,
			BatchID:            batch.BatchID,
			Category:           category,
			Quantity:           batch.Quantity,
			ExpirationDate:     domain.FormatDate(batch.ExpirationDate),
			DaysUntilExpiry:    days,
			BasePrice:          item.BasePrice,
			CurrentPrice:       item.CurrentPrice,
			DiscountPercentage: item.DiscountPercentageApplied,
			DiscountValue:      value,
			expiresAt:          batch.ExpirationDate,
		})
	}

	report.Summary = Totals{Total: total.count, TotalDiscountValue: valueSum}
	if total.count > 0 {
		avg := mean(total)
		report.Summary.AvgPct = &avg
	}

	for name, b := range categories {
		report.ByCategory = append(report.ByCategory, CategoryStats{Category: name, Count: b.count, AvgPct: mean(*b)})
	}
	sort.Slice(report.ByCategory, func(i, j int) bool {
		return report.ByCategory[i].Category < report.ByCategory[j].Category
	})

	sort.Slice(report.SoonExpiring, func(i, j int) bool {
		a, b := report.SoonExpiring[i], report.SoonExpiring[j]
		if !a.expiresAt.Equal(b.expiresAt) {
			return a.expiresAt.Before(b.expiresAt)
		}
		return a.InventoryID < b.InventoryID
	})
	if limit > 0 && len(report.SoonExpiring) > limit {
		report.SoonExpiring = report.SoonExpiring[:limit]
	}
	return report
}

func categoryOf(p domain.Product) string {
	if name := p.CategoryName(); name != "" {
		return name
	}
	return domain.UncategorizedBucket
}

func mean(b bucket) decimal.Decimal {
	return b.sum.Div(decimal.NewFromInt(int64(b.count))).Round(2)
}
