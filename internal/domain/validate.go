package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ValidateProduct checks the invariants of a product record.
func ValidateProduct(p Product) error {
	if strings.TrimSpace(p.ProductID) == "" {
		return NewValidationError("product_id", "is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return NewValidationError("name", "is required")
	}
	if strings.TrimSpace(p.SKU) == "" {
		return NewValidationError("sku", "is required")
	}
	if !p.BasePrice.IsPositive() {
		return NewValidationError("base_price", "must be greater than zero")
	}
	if !p.BasePrice.Equal(p.BasePrice.Round(2)) {
		return NewValidationError("base_price", "must have at most two decimal places")
	}
	return nil
}

// ValidateBatch checks the invariants of an inventory batch.
func ValidateBatch(b InventoryBatch) error {
	if strings.TrimSpace(b.ProductID) == "" {
		return NewValidationError("product_id", "is required")
	}
	if strings.TrimSpace(b.BatchID) == "" {
		return NewValidationError("batch_id", "is required")
	}
	if b.Quantity < 0 {
		return NewValidationError("quantity", "must not be negative")
	}
	if b.ExpirationDate.IsZero() {
		return NewValidationError("expiration_date", "is required")
	}
	if b.ManufactureDate != nil && b.ManufactureDate.After(b.ExpirationDate) {
		return NewValidationError("manufacture_date", "must not be after expiration_date")
	}
	return nil
}

// ValidateRule checks the invariants of a discount rule.
func ValidateRule(r DiscountRule) error {
	if strings.TrimSpace(r.Name) == "" {
		return NewValidationError("name", "is required")
	}
	if r.DaysBeforeExpiry < 0 {
		return NewValidationError("days_before_expiry", "must not be negative")
	}
	if r.DiscountPercentage.IsNegative() || r.DiscountPercentage.GreaterThan(hundred) {
		return NewValidationError("discount_percentage", "must be between 0 and 100")
	}
	if !r.DiscountPercentage.Equal(r.DiscountPercentage.Round(2)) {
		return NewValidationError("discount_percentage", "must have at most two decimal places")
	}
	return nil
}
