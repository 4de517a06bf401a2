package pricing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/expiry-discount/internal/domain"
)

var (
	// ErrInvalidBasePrice is returned when a product price cannot be discounted.
	ErrInvalidBasePrice = errors.New("pricing: base price must be positive")
	// ErrMissingExpiry is returned for batches without a usable expiration date.
	ErrMissingExpiry = errors.New("pricing: batch has no expiration date")
	// ErrProductMismatch indicates the batch does not belong to the product.
	ErrProductMismatch = errors.New("pricing: batch does not reference product")
	// ErrInvalidPercentage is returned for rules outside the 0..100 range.
	ErrInvalidPercentage = errors.New("pricing: discount percentage out of range")
)

var (
	hundred = decimal.NewFromInt(100)
	// minPrice is the smallest currency unit; a matched batch never sells for nothing.
	minPrice = decimal.New(1, -2)
)

// Price derives the current price of a batch from its product and matched rule.
// A nil rule leaves the base price standing. The result is rounded to two
// decimal places with round-half-to-even and floored at 0.01, so a 100% rule
// or a tiny base price still leaves a positive price. The applied percentage
// stays the rule's.
func Price(batch domain.InventoryBatch, product domain.Product, rule *domain.DiscountRule) (domain.PricedItem, error) {
	if batch.ProductID != product.ProductID {
		return domain.PricedItem{}, ErrProductMismatch
	}
	if !product.BasePrice.IsPositive() {
		return domain.PricedItem{}, ErrInvalidBasePrice
	}
	item := domain.PricedItem{
		InventoryID:               batch.InventoryID,
		ProductID:                 product.ProductID,
		BasePrice:                 product.BasePrice,
		CurrentPrice:              product.BasePrice,
		DiscountPercentageApplied: decimal.Zero,
	}
	if rule == nil {
		return item, nil
	}
	pct := rule.DiscountPercentage
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return domain.PricedItem{}, ErrInvalidPercentage
	}
	price := product.BasePrice.Mul(hundred.Sub(pct)).Div(hundred).RoundBank(2)
	if price.LessThan(minPrice) {
		price = minPrice
	}
	if price.GreaterThan(product.BasePrice) {
		price = product.BasePrice
	}
	ruleID := rule.RuleID
	item.CurrentPrice = price
	item.AppliedRuleID = &ruleID
	item.DiscountPercentageApplied = pct
	return item, nil
}

// Evaluate matches and prices a batch in one step.
func Evaluate(batch domain.InventoryBatch, product domain.Product, rules []domain.DiscountRule, now time.Time) (domain.PricedItem, error) {
	if batch.ExpirationDate.IsZero() {
		return domain.PricedItem{}, ErrMissingExpiry
	}
	return Price(batch, product, Match(batch, product, rules, now))
}
