package rules_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/expiry-discount/internal/domain"
	"github.com/noah-isme/expiry-discount/internal/events"
	"github.com/noah-isme/expiry-discount/internal/repo"
	"github.com/noah-isme/expiry-discount/internal/rules"
)

var fixed = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

type mockEmitter struct {
	mock.Mock
}

func (m *mockEmitter) Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error) {
	args := m.Called(ctx, topic, aggregateID, payload)
	return events.Event{}, args.Error(1)
}

func ptr[T any](v T) *T { return &v }

func newService(store rules.Store, emitter rules.Emitter) *rules.Service {
	return &rules.Service{
		Store:  store,
		Events: emitter,
		Now:    func() time.Time { return fixed },
		NewID:  func() string { return "rule-generated" },
	}
}

func TestCreateDefaultsAndEmits(t *testing.T) {
	emitter := &mockEmitter{}
	emitter.On("Emit", mock.Anything, events.TopicRuleChanged, "rule-generated", mock.MatchedBy(func(c rules.Change) bool {
		return c.Action == rules.ActionCreated && c.Rule.IsActive
	})).Return(events.Event{}, nil).Once()

	svc := newService(repo.NewMemoryStore(), emitter)
	rule, err := svc.Create(context.Background(), rules.Request{
		Name:               ptr("week before"),
		DaysBeforeExpiry:   ptr(7),
		DiscountPercentage: ptr(decimal.NewFromInt(20)),
	})
	require.NoError(t, err)
	require.Equal(t, "rule-generated", rule.RuleID)
	require.True(t, rule.IsActive)
	require.Equal(t, 0, rule.Priority)
	require.True(t, rule.AppliesToAllCategories())
	emitter.AssertExpectations(t)
}

func TestCreateValidation(t *testing.T) {
	svc := newService(repo.NewMemoryStore(), nil)
	cases := map[string]rules.Request{
		"name":                {DaysBeforeExpiry: ptr(1), DiscountPercentage: ptr(decimal.NewFromInt(5))},
		"days_before_expiry":  {Name: ptr("x"), DiscountPercentage: ptr(decimal.NewFromInt(5))},
		"discount_percentage": {Name: ptr("x"), DaysBeforeExpiry: ptr(1), DiscountPercentage: ptr(decimal.NewFromInt(101))},
	}
	for field, req := range cases {
		_, err := svc.Create(context.Background(), req)
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr, field)
		require.Equal(t, field, verr.Field)
	}

	_, err := svc.Create(context.Background(), rules.Request{Name: ptr("x"), DaysBeforeExpiry: ptr(-1), DiscountPercentage: ptr(decimal.NewFromInt(5))})
	require.True(t, domain.IsValidation(err))
}

func TestUpdateIsPartial(t *testing.T) {
	store := repo.NewMemoryStore()
	svc := newService(store, nil)
	ctx := context.Background()
	_, err := svc.Create(ctx, rules.Request{
		RuleID:             "R1",
		Name:               ptr("dairy"),
		DaysBeforeExpiry:   ptr(5),
		DiscountPercentage: ptr(decimal.NewFromInt(10)),
		Category:           ptr("Dairy"),
		Priority:           ptr(3),
	})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, "R1", rules.Request{DiscountPercentage: ptr(decimal.RequireFromString("12.5"))})
	require.NoError(t, err)
	require.Equal(t, "dairy", updated.Name)
	require.Equal(t, 5, updated.DaysBeforeExpiry)
	require.Equal(t, 3, updated.Priority)
	require.Equal(t, "Dairy", *updated.Category)
	require.True(t, updated.DiscountPercentage.Equal(decimal.RequireFromString("12.5")))

	updated, err = svc.Update(ctx, "R1", rules.Request{Category: ptr("")})
	require.NoError(t, err)
	require.Nil(t, updated.Category)

	_, err = svc.Update(ctx, "R1", rules.Request{RuleID: "R2"})
	require.True(t, domain.IsValidation(err))

	_, err = svc.Update(ctx, "missing", rules.Request{Name: ptr("x")})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestActivateDeactivate(t *testing.T) {
	store := repo.NewMemoryStore()
	var actions []string
	bus := &events.Bus{Notifiers: []events.Notifier{events.NotifierFunc(func(_ context.Context, evt events.Event) error {
		var change rules.Change
		if err := json.Unmarshal(evt.Payload, &change); err != nil {
			return err
		}
		actions = append(actions, change.Action)
		return nil
	})}}
	svc := newService(store, bus)
	ctx := context.Background()
	_, err := svc.Create(ctx, rules.Request{RuleID: "R1", Name: ptr("r"), DaysBeforeExpiry: ptr(1), DiscountPercentage: ptr(decimal.NewFromInt(5))})
	require.NoError(t, err)

	rule, err := svc.Deactivate(ctx, "R1")
	require.NoError(t, err)
	require.False(t, rule.IsActive)
	require.Equal(t, fixed, rule.UpdatedAt)

	rule, err = svc.Activate(ctx, "R1")
	require.NoError(t, err)
	require.True(t, rule.IsActive)

	_, err = svc.Activate(ctx, "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Equal(t, []string{rules.ActionCreated, rules.ActionDeactivated, rules.ActionActivated}, actions)
}

func TestPreview(t *testing.T) {
	store := repo.NewMemoryStore()
	ctx := context.Background()
	_, err := store.CreateProduct(ctx, domain.Product{ProductID: "P1", Name: "Milk", SKU: "M", BasePrice: decimal.NewFromInt(10), Category: domain.StringPtr("Dairy")})
	require.NoError(t, err)
	_, err = store.CreateBatch(ctx, domain.InventoryBatch{InventoryID: "B1", ProductID: "P1", BatchID: "L1", Quantity: 1, ExpirationDate: fixed.AddDate(0, 0, 2)})
	require.NoError(t, err)

	svc := newService(store, nil)
	result, err := svc.Preview(ctx, "B1")
	require.NoError(t, err)
	require.Nil(t, result.Rule)
	require.Equal(t, 2, result.DaysUntilExpiry)
	require.True(t, result.Item.CurrentPrice.Equal(decimal.NewFromInt(10)))

	_, err = svc.Create(ctx, rules.Request{RuleID: "R1", Name: ptr("r"), DaysBeforeExpiry: ptr(3), DiscountPercentage: ptr(decimal.NewFromInt(25))})
	require.NoError(t, err)
	result, err = svc.Preview(ctx, "B1")
	require.NoError(t, err)
	require.NotNil(t, result.Rule)
	require.Equal(t, "R1", result.Rule.RuleID)
	require.Equal(t, "7.50", result.Item.CurrentPrice.StringFixed(2))

	// Preview never commits priced state.
	items, err := store.ListPricedItems(ctx)
	require.NoError(t, err)
	require.Empty(t, items)

	_, err = svc.Preview(ctx, "B404")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
