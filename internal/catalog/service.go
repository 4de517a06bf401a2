package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/expiry-discount/internal/common"
	"github.com/noah-isme/expiry-discount/internal/domain"
	"github.com/noah-isme/expiry-discount/internal/events"
)

// ProductStore is the product slice of the record store.
type ProductStore interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error)
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// Service manages the product catalog. Products are never mutated by pricing runs.
type Service struct {
	store        ProductStore
	events       Emitter
	newID        func() string
	defaultLimit int
	maxLimit     int
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store        ProductStore
	Events       Emitter
	NewID        func() string
	DefaultLimit int
	MaxLimit     int
}

// ListParams captures filters for product listing.
type ListParams struct {
	Query    string
	Category string
	Page     int
	Limit    int
}

// CreateProductRequest is the payload for POST /products.
type CreateProductRequest struct {
	ProductID string          `json:"product_id" validate:"omitempty,max=64"`
	Name      string          `json:"name" validate:"required,max=200"`
	BasePrice decimal.Decimal `json:"base_price"`
	Category  *string         `json:"category" validate:"omitempty,max=100"`
	SKU       string          `json:"sku" validate:"required,max=64"`
}

// ProductListResult contains list data and pagination metadata.
type ProductListResult struct {
	Items      []domain.Product
	Pagination common.Pagination
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("catalog: product store is required")
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	maxLimit := cfg.MaxLimit
	if maxLimit < 1 {
		maxLimit = 100
	}
	defaultLimit := cfg.DefaultLimit
	if defaultLimit < 1 {
		defaultLimit = 20
	}
	if defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}
	return &Service{
		store:        cfg.Store,
		events:       cfg.Events,
		newID:        newID,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}, nil
}

// ParseListParams normalises raw query values into typed filters.
func (s *Service) ParseListParams(values url.Values) (ListParams, error) {
	params := ListParams{Page: 1, Limit: s.defaultLimit}
	params.Query = strings.TrimSpace(values.Get("q"))
	params.Category = strings.TrimSpace(values.Get("category"))

	if v := strings.TrimSpace(values.Get("page")); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			return params, badRequest("page", "page must be a positive integer", err)
		}
		params.Page = page
	}
	if v := strings.TrimSpace(values.Get("limit")); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return params, badRequest("limit", "limit must be a positive integer", err)
		}
		params.Limit = limit
	}
	if params.Limit > s.maxLimit {
		params.Limit = s.maxLimit
	}
	return params, nil
}

// ListProducts returns products ordered by id, filtered by name/SKU substring
// and exact category. Category "uncategorized" selects products without one.
func (s *Service) ListProducts(ctx context.Context, params ListParams) (ProductListResult, error) {
	products, err := s.store.ListProducts(ctx)
	if err != nil {
		return ProductListResult{}, err
	}
	query := strings.ToLower(params.Query)
	filtered := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if query != "" && !strings.Contains(strings.ToLower(p.Name), query) && !strings.Contains(strings.ToLower(p.SKU), query) {
			continue
		}
		if params.Category != "" && !matchesCategory(p, params.Category) {
			continue
		}
		filtered = append(filtered, p)
	}
	items, meta := common.Paginate(filtered, params.Page, params.Limit)
	return ProductListResult{Items: items, Pagination: meta}, nil
}

// GetProduct returns a product by id.
func (s *Service) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	return s.store.GetProduct(ctx, strings.TrimSpace(productID))
}

// CreateProduct validates and stores a product. An empty product_id is assigned a UUID.
func (s *Service) CreateProduct(ctx context.Context, req CreateProductRequest) (domain.Product, error) {
	if err := common.ValidateStruct(req); err != nil {
		return domain.Product{}, err
	}
	product := domain.Product{
		ProductID: strings.TrimSpace(req.ProductID),
		Name:      strings.TrimSpace(req.Name),
		BasePrice: req.BasePrice,
		SKU:       strings.TrimSpace(req.SKU),
	}
	if req.Category != nil {
		product.Category = domain.StringPtr(strings.TrimSpace(*req.Category))
	}
	if product.ProductID == "" {
		product.ProductID = s.newID()
	}
	if err := domain.ValidateProduct(product); err != nil {
		return domain.Product{}, err
	}
	created, err := s.store.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	if s.events != nil {
		_, _ = s.events.Emit(ctx, events.TopicProductCreated, created.ProductID, created)
	}
	return created, nil
}

func matchesCategory(p domain.Product, category string) bool {
	if category == domain.UncategorizedBucket {
		return p.CategoryName() == ""
	}
	return p.CategoryName() == category
}

func badRequest(field, message string, err error) *common.AppError {
	return &common.AppError{
		Code:       "BAD_REQUEST",
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		Err:        err,
		Details:    map[string]any{"field": field},
	}
}
