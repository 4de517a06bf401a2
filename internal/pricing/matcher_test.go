package pricing

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/expiry-discount/internal/domain"
)

func TestMatchFiltersInactiveRules(t *testing.T) {
	inactive := rule("R1", 7, "20", "", 9)
	inactive.IsActive = false
	got := Match(batchIn(3, 1), dairyProduct(), []domain.DiscountRule{inactive}, now)
	require.Nil(t, got)
}

func TestMatchWindowBoundaryIsInclusive(t *testing.T) {
	rules := []domain.DiscountRule{rule("R1", 7, "20", "", 1)}
	require.NotNil(t, Match(batchIn(7, 1), dairyProduct(), rules, now))
	require.Nil(t, Match(batchIn(8, 1), dairyProduct(), rules, now))
}

func TestMatchExpiredBatchStillEligible(t *testing.T) {
	rules := []domain.DiscountRule{rule("R1", 2, "60", "", 1)}
	got := Match(batchIn(-3, 1), dairyProduct(), rules, now)
	require.NotNil(t, got)
	require.Equal(t, "R1", got.RuleID)
}

func TestMatchCategoryScoping(t *testing.T) {
	bakery := dairyProduct()
	bakery.Category = domain.StringPtr("Bakery")
	rules := []domain.DiscountRule{rule("R1", 7, "20", "Dairy", 1)}
	require.Nil(t, Match(batchIn(1, 1), bakery, rules, now))

	lower := dairyProduct()
	lower.Category = domain.StringPtr("dairy")
	require.Nil(t, Match(batchIn(1, 1), lower, rules, now), "category match is case-sensitive")

	uncategorized := dairyProduct()
	uncategorized.Category = nil
	require.Nil(t, Match(batchIn(1, 1), uncategorized, rules, now))

	global := []domain.DiscountRule{rule("R2", 7, "10", "", 1)}
	require.NotNil(t, Match(batchIn(1, 1), uncategorized, global, now))
	require.NotNil(t, Match(batchIn(1, 1), bakery, global, now))
}

func TestMatchHighestPriorityWinsRegardlessOfOrder(t *testing.T) {
	low := rule("R-low", 7, "50", "", 1)
	high := rule("R-high", 7, "10", "", 5)
	rules := []domain.DiscountRule{low, high}
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		rng.Shuffle(len(rules), func(a, b int) { rules[a], rules[b] = rules[b], rules[a] })
		got := Match(batchIn(2, 1), dairyProduct(), rules, now)
		require.NotNil(t, got)
		require.Equal(t, "R-high", got.RuleID)
	}
}

func TestMatchTieBreaks(t *testing.T) {
	shallow := rule("R-a", 7, "10", "", 3)
	deep := rule("R-b", 7, "40", "", 3)
	got := Match(batchIn(1, 1), dairyProduct(), []domain.DiscountRule{shallow, deep}, now)
	require.Equal(t, "R-b", got.RuleID, "deepest discount wins a priority tie")

	first := rule("R-2", 7, "40", "", 3)
	second := rule("R-10", 7, "40", "", 3)
	got = Match(batchIn(1, 1), dairyProduct(), []domain.DiscountRule{first, second}, now)
	require.Equal(t, "R-10", got.RuleID, "smallest rule id wins a full tie")
	got = Match(batchIn(1, 1), dairyProduct(), []domain.DiscountRule{second, first}, now)
	require.Equal(t, "R-10", got.RuleID)
}

func TestMatchReturnsCopy(t *testing.T) {
	rules := []domain.DiscountRule{rule("R1", 7, "20", "", 1)}
	got := Match(batchIn(1, 1), dairyProduct(), rules, now)
	got.Priority = 99
	require.Equal(t, 1, rules[0].Priority)
}

func TestMatchNoRules(t *testing.T) {
	require.Nil(t, Match(batchIn(1, 1), dairyProduct(), nil, now))
}
