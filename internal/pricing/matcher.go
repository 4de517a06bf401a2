package pricing

import (
	"time"

	"github.com/noah-isme/expiry-discount/internal/domain"
)

// Match selects the single rule applicable to the batch, or nil when none is.
//
// A rule is a candidate when it is active, the batch is inside its expiry
// window and its category is empty or equal to the product category. The
// candidate with the highest priority wins; ties go to the deepest discount,
// then to the lexicographically smallest rule id.
func Match(batch domain.InventoryBatch, product domain.Product, rules []domain.DiscountRule, now time.Time) *domain.DiscountRule {
	return MatchDays(batch.DaysUntilExpiry(now), product.CategoryName(), rules)
}

// MatchDays is Match with the expiry distance already computed.
func MatchDays(daysUntilExpiry int, category string, rules []domain.DiscountRule) *domain.DiscountRule {
	var best *domain.DiscountRule
	for i := range rules {
		rule := &rules[i]
		if !eligible(*rule, daysUntilExpiry, category) {
			continue
		}
		if best == nil || preferred(*rule, *best) {
			best = rule
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}

func eligible(rule domain.DiscountRule, days int, category string) bool {
	if !rule.IsActive {
		return false
	}
	if days > rule.DaysBeforeExpiry {
		return false
	}
	if rule.AppliesToAllCategories() {
		return true
	}
	return *rule.Category == category
}

// preferred reports whether a outranks b.
func preferred(a, b domain.DiscountRule) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if cmp := a.DiscountPercentage.Cmp(b.DiscountPercentage); cmp != 0 {
		return cmp > 0
	}
	return a.RuleID < b.RuleID
}
