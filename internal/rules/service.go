package rules

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/expiry-discount/internal/common"
	"github.com/noah-isme/expiry-discount/internal/domain"
	"github.com/noah-isme/expiry-discount/internal/events"
	"github.com/noah-isme/expiry-discount/internal/pricing"
)

// Store captures the record store methods required by the rule service.
type Store interface {
	ListRules(ctx context.Context) ([]domain.DiscountRule, error)
	GetRule(ctx context.Context, ruleID string) (domain.DiscountRule, error)
	CreateRule(ctx context.Context, r domain.DiscountRule) (domain.DiscountRule, error)
	UpdateRule(ctx context.Context, r domain.DiscountRule) (domain.DiscountRule, error)
	SetRuleActive(ctx context.Context, ruleID string, active bool, at time.Time) (domain.DiscountRule, error)
	GetBatch(ctx context.Context, inventoryID string) (domain.InventoryBatch, error)
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// Rule change actions carried in TopicRuleChanged payloads.
const (
	ActionCreated     = "created"
	ActionUpdated     = "updated"
	ActionActivated   = "activated"
	ActionDeactivated = "deactivated"
)

// Change is the payload of a rule change event.
type Change struct {
	Action string              `json:"action"`
	Rule   domain.DiscountRule `json:"rule"`
}

// Request is the create and partial-update payload. Absent fields are left
// untouched on update; an empty category clears the scope.
type Request struct {
	RuleID             string           `json:"rule_id" validate:"omitempty,max=64"`
	Name               *string          `json:"name" validate:"omitempty,max=120"`
	Description        *string          `json:"description" validate:"omitempty,max=500"`
	DaysBeforeExpiry   *int             `json:"days_before_expiry"`
	DiscountPercentage *decimal.Decimal `json:"discount_percentage"`
	Category           *string          `json:"category" validate:"omitempty,max=100"`
	Priority           *int             `json:"priority"`
	IsActive           *bool            `json:"is_active"`
}

// PreviewResult describes what a calculation run would price a batch at
// right now, without committing anything.
type PreviewResult struct {
	InventoryID     string               `json:"inventory_id"`
	DaysUntilExpiry int                  `json:"days_until_expiry"`
	Rule            *domain.DiscountRule `json:"rule"`
	Item            domain.PricedItem    `json:"priced_item"`
}

// Service manages the discount rule lifecycle. Rules are never deleted so
// price history keeps resolving.
type Service struct {
	Store           Store
	Events          Emitter
	Now             func() time.Time
	NewID           func() string
	DefaultPriority int
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

// List returns every rule ordered by priority, highest first.
func (s *Service) List(ctx context.Context) ([]domain.DiscountRule, error) {
	if s == nil || s.Store == nil {
		return nil, errors.New("rule service not configured")
	}
	return s.Store.ListRules(ctx)
}

// Get returns one rule.
func (s *Service) Get(ctx context.Context, ruleID string) (domain.DiscountRule, error) {
	return s.Store.GetRule(ctx, strings.TrimSpace(ruleID))
}

// Create validates and stores a new rule. Rules are active unless is_active is false.
func (s *Service) Create(ctx context.Context, req Request) (domain.DiscountRule, error) {
	if err := common.ValidateStruct(req); err != nil {
		return domain.DiscountRule{}, err
	}
	switch {
	case req.Name == nil:
		return domain.DiscountRule{}, domain.NewValidationError("name", "is required")
	case req.DaysBeforeExpiry == nil:
		return domain.DiscountRule{}, domain.NewValidationError("days_before_expiry", "is required")
	case req.DiscountPercentage == nil:
		return domain.DiscountRule{}, domain.NewValidationError("discount_percentage", "is required")
	}
	rule := domain.DiscountRule{
		RuleID:   strings.TrimSpace(req.RuleID),
		Priority: s.DefaultPriority,
		IsActive: true,
	}
	if rule.RuleID == "" {
		rule.RuleID = s.newID()
	}
	apply(&rule, req)
	if err := domain.ValidateRule(rule); err != nil {
		return domain.DiscountRule{}, err
	}
	created, err := s.Store.CreateRule(ctx, rule)
	if err != nil {
		return domain.DiscountRule{}, err
	}
	s.emit(ctx, ActionCreated, created)
	return created, nil
}

// Update applies a partial update. The rule id cannot change.
func (s *Service) Update(ctx context.Context, ruleID string, req Request) (domain.DiscountRule, error) {
	if err := common.ValidateStruct(req); err != nil {
		return domain.DiscountRule{}, err
	}
	ruleID = strings.TrimSpace(ruleID)
	if req.RuleID != "" && req.RuleID != ruleID {
		return domain.DiscountRule{}, domain.NewValidationError("rule_id", "cannot be changed")
	}
	rule, err := s.Store.GetRule(ctx, ruleID)
	if err != nil {
		return domain.DiscountRule{}, err
	}
	apply(&rule, req)
	if err := domain.ValidateRule(rule); err != nil {
		return domain.DiscountRule{}, err
	}
	rule.UpdatedAt = s.now()
	updated, err := s.Store.UpdateRule(ctx, rule)
	if err != nil {
		return domain.DiscountRule{}, err
	}
	s.emit(ctx, ActionUpdated, updated)
	return updated, nil
}

// Activate makes a rule eligible for matching.
func (s *Service) Activate(ctx context.Context, ruleID string) (domain.DiscountRule, error) {
	return s.setActive(ctx, ruleID, true)
}

// Deactivate removes a rule from matching while keeping it for history.
func (s *Service) Deactivate(ctx context.Context, ruleID string) (domain.DiscountRule, error) {
	return s.setActive(ctx, ruleID, false)
}

func (s *Service) setActive(ctx context.Context, ruleID string, active bool) (domain.DiscountRule, error) {
	rule, err := s.Store.SetRuleActive(ctx, strings.TrimSpace(ruleID), active, s.now())
	if err != nil {
		return domain.DiscountRule{}, err
	}
	action := ActionDeactivated
	if active {
		action = ActionActivated
	}
	s.emit(ctx, action, rule)
	return rule, nil
}

// Preview evaluates the current rule set against one batch.
func (s *Service) Preview(ctx context.Context, inventoryID string) (PreviewResult, error) {
	batch, err := s.Store.GetBatch(ctx, strings.TrimSpace(inventoryID))
	if err != nil {
		return PreviewResult{}, err
	}
	product, err := s.Store.GetProduct(ctx, batch.ProductID)
	if err != nil {
		return PreviewResult{}, err
	}
	ruleset, err := s.Store.ListRules(ctx)
	if err != nil {
		return PreviewResult{}, err
	}
	now := s.now()
	matched := pricing.Match(batch, product, ruleset, now)
	item, err := pricing.Price(batch, product, matched)
	if err != nil {
		return PreviewResult{}, &domain.ComputationError{InventoryID: batch.InventoryID, Err: err}
	}
	return PreviewResult{
		InventoryID:     batch.InventoryID,
		DaysUntilExpiry: batch.DaysUntilExpiry(now),
		Rule:            matched,
		Item:            item,
	}, nil
}

func (s *Service) emit(ctx context.Context, action string, rule domain.DiscountRule) {
	if s.Events == nil {
		return
	}
	_, _ = s.Events.Emit(ctx, events.TopicRuleChanged, rule.RuleID, Change{Action: action, Rule: rule})
}

func apply(rule *domain.DiscountRule, req Request) {
	if req.Name != nil {
		rule.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		rule.Description = domain.StringPtr(strings.TrimSpace(*req.Description))
	}
	if req.DaysBeforeExpiry != nil {
		rule.DaysBeforeExpiry = *req.DaysBeforeExpiry
	}
	if req.DiscountPercentage != nil {
		rule.DiscountPercentage = *req.DiscountPercentage
	}
	if req.Category != nil {
		rule.Category = domain.StringPtr(strings.TrimSpace(*req.Category))
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
}
