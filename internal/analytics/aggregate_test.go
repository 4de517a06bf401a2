package analytics

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/expiry-discount/internal/domain"
)

var now = time.Date(2026, 6, 1, 15, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func priced(inv, product, base, current, pct string) domain.PricedItem {
	item := domain.PricedItem{
		InventoryID:               inv,
		ProductID:                 product,
		BasePrice:                 dec(base),
		CurrentPrice:              dec(current),
		DiscountPercentageApplied: dec(pct),
	}
	if !item.DiscountPercentageApplied.IsZero() {
		item.AppliedRuleID = domain.StringPtr("R-" + pct)
	}
	return item
}

func fixture() domain.Snapshot {
	return domain.Snapshot{
		Products: []domain.Product{
			{ProductID: "P1", Name: "Milk", BasePrice: dec("10.00"), Category: domain.StringPtr("Dairy")},
			{ProductID: "P2", Name: "Yogurt", BasePrice: dec("5.00"), Category: domain.StringPtr("Dairy")},
			{ProductID: "P3", Name: "Mystery", BasePrice: dec("2.00")},
			{ProductID: "P4", Name: "Bread", BasePrice: dec("4.00"), Category: domain.StringPtr("Bakery")},
		},
		Batches: []domain.InventoryBatch{
			{InventoryID: "B1", ProductID: "P1", BatchID: "L1", Quantity: 4, ExpirationDate: now.AddDate(0, 0, 5)},
			{InventoryID: "B2", ProductID: "P2", BatchID: "L1", Quantity: 2, ExpirationDate: now.AddDate(0, 0, 2)},
			{InventoryID: "B3", ProductID: "P3", BatchID: "L1", Quantity: 1, ExpirationDate: now.AddDate(0, 0, 30)},
			{InventoryID: "B4", ProductID: "P4", BatchID: "L1", Quantity: 9, ExpirationDate: now.AddDate(0, 0, 1)},
			{InventoryID: "B5", ProductID: "P4", BatchID: "L2", Quantity: 3, ExpirationDate: now.AddDate(0, 0, -1)},
		},
		PricedItems: []domain.PricedItem{
			priced("B1", "P1", "10.00", "8.00", "20"),
			priced("B2", "P2", "5.00", "3.00", "40"),
			priced("B3", "P3", "2.00", "1.50", "25"),
			priced("B4", "P4", "4.00", "4.00", "0"),
			priced("B5", "P4", "4.00", "2.00", "50"),
		},
	}
}

func TestAggregateByCategory(t *testing.T) {
	report := Aggregate(fixture(), now, DefaultWindowDays, 0)

	require.Equal(t, 4, report.Summary.Total)
	require.NotNil(t, report.Summary.AvgPct)
	require.True(t, report.Summary.AvgPct.Equal(dec("33.75")), report.Summary.AvgPct.String())
	require.True(t, report.Summary.TotalDiscountValue.Equal(dec("6.50")))

	require.Len(t, report.ByCategory, 3)
	require.Equal(t, "Bakery", report.ByCategory[0].Category)
	require.Equal(t, "Dairy", report.ByCategory[1].Category)
	require.Equal(t, 2, report.ByCategory[1].Count)
	require.True(t, report.ByCategory[1].AvgPct.Equal(decimal.NewFromInt(30)))
	require.Equal(t, domain.UncategorizedBucket, report.ByCategory[2].Category)
	require.Equal(t, 1, report.ByCategory[2].Count)
}

func TestAggregateSoonExpiring(t *testing.T) {
	report := Aggregate(fixture(), now, DefaultWindowDays, 0)

	require.Len(t, report.SoonExpiring, 2)
	require.Equal(t, "B2", report.SoonExpiring[0].InventoryID)
	require.Equal(t, 2, report.SoonExpiring[0].DaysUntilExpiry)
	require.Equal(t, "Yogurt", report.SoonExpiring[0].ProductName)
	require.True(t, report.SoonExpiring[0].DiscountValue.Equal(dec("2.00")))
	require.Equal(t, "B1", report.SoonExpiring[1].InventoryID)

	limited := Aggregate(fixture(), now, DefaultWindowDays, 1)
	require.Len(t, limited.SoonExpiring, 1)
	require.Equal(t, "B2", limited.SoonExpiring[0].InventoryID)
}

func TestAggregateEmpty(t *testing.T) {
	report := Aggregate(domain.Snapshot{}, now, DefaultWindowDays, 0)
	require.Equal(t, 0, report.Summary.Total)
	require.Nil(t, report.Summary.AvgPct)
	require.True(t, report.Summary.TotalDiscountValue.IsZero())
	require.Empty(t, report.ByCategory)
	require.NotNil(t, report.SoonExpiring)
}

func TestAggregateSkipsEmptyOrMissingBatches(t *testing.T) {
	snap := fixture()
	snap.Batches[0].Quantity = 0
	snap.Batches = snap.Batches[:4]

	report := Aggregate(snap, now, DefaultWindowDays, 0)
	require.Equal(t, 2, report.Summary.Total)
	for _, row := range report.ByCategory {
		require.NotEqual(t, "Bakery", row.Category)
	}
}
