package inventory

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
)

// Store is the inventory slice of the record store.
type Store interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	ListBatches(ctx context.Context) ([]domain.InventoryBatch, error)
	ListExpiringWithin(ctx context.Context, now time.Time, days int) ([]domain.InventoryBatch, error)
	ListPricedItems(ctx context.Context) ([]domain.PricedItem, error)
	GetBatch(ctx context.Context, inventoryID string) (domain.InventoryBatch, error)
	CreateBatch(ctx context.Context, b domain.InventoryBatch) (domain.InventoryBatch, error)
	ListPriceHistory(ctx context.Context, inventoryID string) ([]domain.PriceChange, error)
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// Service lists and records inventory batches.
type Service struct {
	Store  Store
	Events Emitter
	Now    func() time.Time
	NewID  func() string
}

// BatchView is a batch with its derived expiry distance and the committed price, if any.
type BatchView struct {
	domain.InventoryBatch
	DaysUntilExpiry    int              `json:"days_until_expiry"`
	ProductName        string           `json:"product_name"`
	Category           *string          `json:"category"`
	BasePrice          decimal.Decimal  `json:"base_price"`
	CurrentPrice       *decimal.Decimal `json:"current_price"`
	AppliedRuleID      *string          `json:"applied_rule_id"`
	DiscountPercentage *decimal.Decimal `json:"discount_percentage_applied"`
}

// CreateBatchRequest is the payload for POST /inventory. Dates use YYYY-MM-DD.
type CreateBatchRequest struct {
	InventoryID     string  `json:"inventory_id" validate:"omitempty,max=64"`
	ProductID       string  `json:"product_id" validate:"required,max=64"`
	BatchID         string  `json:"batch_id" validate:"required,max=64"`
	Quantity        *int    `json:"quantity" validate:"required"`
	Location        *string `json:"location" validate:"omitempty,max=120"`
	ManufactureDate *string `json:"manufacture_date"`
	ExpirationDate  string  `json:"expiration_date"`
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// List returns every batch, or with days set only those expiring within days
// (0 <= days_until_expiry <= days). Batches are ordered by expiration date.
func (s *Service) List(ctx context.Context, days *int) ([]BatchView, error) {
	if s.Store == nil {
		return nil, errors.New("inventory service not configured")
	}
	now := s.now()
	var (
		batches []domain.InventoryBatch
		err     error
	)
	if days != nil {
		if *days < 0 {
			return nil, domain.NewValidationError("days", "must not be negative")
		}
		batches, err = s.Store.ListExpiringWithin(ctx, now, *days)
	} else {
		batches, err = s.Store.ListBatches(ctx)
	}
	if err != nil {
		return nil, err
	}
	products, err := s.Store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	items, err := s.Store.ListPricedItems(ctx)
	if err != nil {
		return nil, err
	}
	index := domain.Snapshot{Products: products, PricedItems: items}
	byProduct := index.ProductIndex()
	priced := index.PricedIndex()

	views := make([]BatchView, 0, len(batches))
	for _, b := range batches {
		product := byProduct[b.ProductID]
		view := BatchView{
			InventoryBatch:  b,
			DaysUntilExpiry: b.DaysUntilExpiry(now),
			ProductName:     product.Name,
			Category:        product.Category,
			BasePrice:       product.BasePrice,
		}
		if item, ok := priced[b.InventoryID]; ok {
			current := item.CurrentPrice
			pct := item.DiscountPercentageApplied
			view.CurrentPrice = &current
			view.DiscountPercentage = &pct
			view.AppliedRuleID = item.AppliedRuleID
		}
		views = append(views, view)
	}
	return views, nil
}

// Create validates and stores a batch. An empty inventory_id is assigned a UUID.
func (s *Service) Create(ctx context.Context, req CreateBatchRequest) (domain.InventoryBatch, error) {
	if err := common.ValidateStruct(req); err != nil {
		return domain.InventoryBatch{}, err
	}
	expires, err := domain.ParseDate("expiration_date", req.ExpirationDate)
	if err != nil {
		return domain.InventoryBatch{}, err
	}
	batch := domain.InventoryBatch{
		InventoryID:    strings.TrimSpace(req.InventoryID),
		ProductID:      strings.TrimSpace(req.ProductID),
		BatchID:        strings.TrimSpace(req.BatchID),
		Quantity:       *req.Quantity,
		ExpirationDate: expires,
	}
	if req.Location != nil {
		batch.Location = domain.StringPtr(strings.TrimSpace(*req.Location))
	}
	if req.ManufactureDate != nil && strings.TrimSpace(*req.ManufactureDate) != "" {
		made, err := domain.ParseDate("manufacture_date", *req.ManufactureDate)
		if err != nil {
			return domain.InventoryBatch{}, err
		}
		batch.ManufactureDate = &made
	}
	if batch.InventoryID == "" {
		if s.NewID != nil {
			batch.InventoryID = s.NewID()
		} else {
			batch.InventoryID = uuid.NewString()
		}
	}
	if err := domain.ValidateBatch(batch); err != nil {
		return domain.InventoryBatch{}, err
	}
	created, err := s.Store.CreateBatch(ctx, batch)
	if err != nil {
		return domain.InventoryBatch{}, err
	}
	if s.Events != nil {
		_, _ = s.Events.Emit(ctx, events.TopicBatchCreated, created.InventoryID, created)
	}
	return created, nil
}

// Get returns one batch with its derived fields.
func (s *Service) Get(ctx context.Context, inventoryID string) (BatchView, error) {
	batch, err := s.Store.GetBatch(ctx, strings.TrimSpace(inventoryID))
	if err != nil {
		return BatchView{}, err
	}
	return BatchView{InventoryBatch: batch, DaysUntilExpiry: batch.DaysUntilExpiry(s.now())}, nil
}

// PriceHistory returns committed price changes for a batch, newest first.
func (s *Service) PriceHistory(ctx context.Context, inventoryID string) ([]domain.PriceChange, error) {
	return s.Store.ListPriceHistory(ctx, strings.TrimSpace(inventoryID))
}
