package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Prices and percentages render as JSON numbers rather than quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// UncategorizedBucket groups products without a category in analytics output.
const UncategorizedBucket = "uncategorized"

// Product is a sellable item with a base price. The engine never mutates it.
type Product struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	BasePrice decimal.Decimal `json:"base_price"`
	Category  *string         `json:"category,omitempty"`
	SKU       string          `json:"sku"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CategoryName returns the product category or an empty string.
func (p Product) CategoryName() string {
	if p.Category == nil {
		return ""
	}
	return *p.Category
}

// InventoryBatch is a dated lot of a product. ExpirationDate is the only time anchor.
type InventoryBatch struct {
	InventoryID     string     `json:"inventory_id"`
	ProductID       string     `json:"product_id"`
	BatchID         string     `json:"batch_id"`
	Quantity        int        `json:"quantity"`
	Location        *string    `json:"location,omitempty"`
	ManufactureDate *time.Time `json:"manufacture_date,omitempty"`
	ExpirationDate  time.Time  `json:"expiration_date"`
	CreatedAt       time.Time  `json:"created_at"`
}

// DaysUntilExpiry computes the whole days between now's calendar date and the
// expiration date. It is negative once the batch has expired.
func (b InventoryBatch) DaysUntilExpiry(now time.Time) int {
	return DaysBetween(now, b.ExpirationDate)
}

// DiscountRule describes a markdown triggered when a batch nears expiry.
type DiscountRule struct {
	RuleID             string          `json:"rule_id"`
	Name               string          `json:"name"`
	Description        *string         `json:"description,omitempty"`
	DaysBeforeExpiry   int             `json:"days_before_expiry"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	Category           *string         `json:"category,omitempty"`
	Priority           int             `json:"priority"`
	IsActive           bool            `json:"is_active"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// AppliesToAllCategories reports whether the rule is unscoped.
func (r DiscountRule) AppliesToAllCategories() bool {
	return r.Category == nil || *r.Category == ""
}

// PricedItem is the engine-owned pricing result for one batch.
type PricedItem struct {
	InventoryID               string          `json:"inventory_id"`
	ProductID                 string          `json:"product_id"`
	BasePrice                 decimal.Decimal `json:"base_price"`
	CurrentPrice              decimal.Decimal `json:"current_price"`
	AppliedRuleID             *string         `json:"applied_rule_id"`
	DiscountPercentageApplied decimal.Decimal `json:"discount_percentage_applied"`
	RunID                     string          `json:"run_id"`
	CalculatedAt              time.Time       `json:"calculated_at"`
}

// Discounted reports whether a non-zero markdown is in effect.
func (p PricedItem) Discounted() bool {
	return p.DiscountPercentageApplied.IsPositive()
}

// HasRule reports whether a rule was applied, including 0% rules.
func (p PricedItem) HasRule() bool {
	return p.AppliedRuleID != nil
}

// PriceChange records a committed change in a batch's price or applied rule.
type PriceChange struct {
	ID             string          `json:"id"`
	InventoryID    string          `json:"inventory_id"`
	ProductID      string          `json:"product_id"`
	RunID          string          `json:"run_id"`
	PreviousPrice  decimal.Decimal `json:"previous_price"`
	NewPrice       decimal.Decimal `json:"new_price"`
	PreviousRuleID *string         `json:"previous_rule_id"`
	NewRuleID      *string         `json:"new_rule_id"`
	ChangedAt      time.Time       `json:"changed_at"`
}

// Snapshot is a consistent read of every record the engine and analytics need.
type Snapshot struct {
	Products    []Product
	Batches     []InventoryBatch
	Rules       []DiscountRule
	PricedItems []PricedItem
}

// ProductIndex maps products by identifier.
func (s Snapshot) ProductIndex() map[string]Product {
	out := make(map[string]Product, len(s.Products))
	for _, p := range s.Products {
		out[p.ProductID] = p
	}
	return out
}

// BatchIndex maps batches by inventory identifier.
func (s Snapshot) BatchIndex() map[string]InventoryBatch {
	out := make(map[string]InventoryBatch, len(s.Batches))
	for _, b := range s.Batches {
		out[b.InventoryID] = b
	}
	return out
}

// PricedIndex maps priced items by inventory identifier.
func (s Snapshot) PricedIndex() map[string]PricedItem {
	out := make(map[string]PricedItem, len(s.PricedItems))
	for _, p := range s.PricedItems {
		out[p.InventoryID] = p
	}
	return out
}

// StringPtr returns a pointer to a copy of s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	v := s
	return &v
}

// SameString compares two optional strings by value.
func SameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
