package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/expiry-discount/internal/domain"
)

// ErrStoreUnavailable indicates the store was constructed without a pool.
var ErrStoreUnavailable = errors.New("repo: store unavailable")

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on a pgx connection pool. Decimal columns
// travel as text so no precision is lost to float conversion.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) ready() error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.pool.Ping(ctx)
}

const productColumns = `product_id, name, base_price::text, category, sku, created_at, updated_at`

func (s *PostgresStore) ListProducts(ctx context.Context) ([]domain.Product, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return listProducts(ctx, s.pool)
}

func listProducts(ctx context.Context, q dbtx) ([]domain.Product, error) {
	rows, err := q.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY product_id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()
	out := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	if err := s.ready(); err != nil {
		return domain.Product{}, err
	}
	row := s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE product_id = $1`, productID)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Product{}, domain.NewNotFoundError("product", productID)
	}
	return p, err
}

func (s *PostgresStore) CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	if err := s.ready(); err != nil {
		return domain.Product{}, err
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO products (product_id, name, base_price, category, sku)
VALUES ($1, $2, $3::numeric, $4, $5) RETURNING `+productColumns,
		p.ProductID, p.Name, p.BasePrice.String(), p.Category, p.SKU)
	created, err := scanProduct(row)
	if err != nil {
		return domain.Product{}, translate(err, "product", p.ProductID)
	}
	return created, nil
}

const batchColumns = `inventory_id, product_id, batch_id, quantity, location, manufacture_date, expiration_date, created_at`

func (s *PostgresStore) ListBatches(ctx context.Context) ([]domain.InventoryBatch, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return listBatches(ctx, s.pool, `SELECT `+batchColumns+` FROM inventory_batches ORDER BY expiration_date, inventory_id`)
}

func listBatches(ctx context.Context, q dbtx, sql string, args ...any) ([]domain.InventoryBatch, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()
	out := make([]domain.InventoryBatch, 0)
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetBatch(ctx context.Context, inventoryID string) (domain.InventoryBatch, error) {
	if err := s.ready(); err != nil {
		return domain.InventoryBatch{}, err
	}
	row := s.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM inventory_batches WHERE inventory_id = $1`, inventoryID)
	b, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.InventoryBatch{}, domain.NewNotFoundError("inventory batch", inventoryID)
	}
	return b, err
}

func (s *PostgresStore) ListExpiringWithin(ctx context.Context, now time.Time, days int) ([]domain.InventoryBatch, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	today := domain.CalendarDate(now)
	return listBatches(ctx, s.pool, `SELECT `+batchColumns+` FROM inventory_batches
WHERE expiration_date >= $1::date AND expiration_date <= $1::date + $2::int
ORDER BY expiration_date, inventory_id`, today, days)
}

func (s *PostgresStore) CreateBatch(ctx context.Context, b domain.InventoryBatch) (domain.InventoryBatch, error) {
	if err := s.ready(); err != nil {
		return domain.InventoryBatch{}, err
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO inventory_batches (inventory_id, product_id, batch_id, quantity, location, manufacture_date, expiration_date)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING `+batchColumns,
		b.InventoryID, b.ProductID, b.BatchID, b.Quantity, b.Location, b.ManufactureDate, b.ExpirationDate)
	created, err := scanBatch(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return domain.InventoryBatch{}, domain.NewNotFoundError("product", b.ProductID)
		}
		return domain.InventoryBatch{}, translate(err, "inventory batch", b.InventoryID)
	}
	return created, nil
}

const ruleColumns = `rule_id, name, description, days_before_expiry, discount_percentage::text, category, priority, is_active, created_at, updated_at`

func (s *PostgresStore) ListRules(ctx context.Context) ([]domain.DiscountRule, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return listRules(ctx, s.pool)
}

func listRules(ctx context.Context, q dbtx) ([]domain.DiscountRule, error) {
	rows, err := q.Query(ctx, `SELECT `+ruleColumns+` FROM discount_rules ORDER BY priority DESC, rule_id`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()
	out := make([]domain.DiscountRule, 0)
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetRule(ctx context.Context, ruleID string) (domain.DiscountRule, error) {
	if err := s.ready(); err != nil {
		return domain.DiscountRule{}, err
	}
	row := s.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM discount_rules WHERE rule_id = $1`, ruleID)
	r, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DiscountRule{}, domain.NewNotFoundError("discount rule", ruleID)
	}
	return r, err
}

func (s *PostgresStore) CreateRule(ctx context.Context, r domain.DiscountRule) (domain.DiscountRule, error) {
	if err := s.ready(); err != nil {
		return domain.DiscountRule{}, err
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO discount_rules (rule_id, name, description, days_before_expiry, discount_percentage, category, priority, is_active)
VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8) RETURNING `+ruleColumns,
		r.RuleID, r.Name, r.Description, r.DaysBeforeExpiry, r.DiscountPercentage.String(), r.Category, r.Priority, r.IsActive)
	created, err := scanRule(row)
	if err != nil {
		return domain.DiscountRule{}, translate(err, "discount rule", r.RuleID)
	}
	return created, nil
}

func (s *PostgresStore) UpdateRule(ctx context.Context, r domain.DiscountRule) (domain.DiscountRule, error) {
	if err := s.ready(); err != nil {
		return domain.DiscountRule{}, err
	}
	updatedAt := r.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	row := s.pool.QueryRow(ctx, `UPDATE discount_rules
SET name = $2, description = $3, days_before_expiry = $4, discount_percentage = $5::numeric,
    category = $6, priority = $7, is_active = $8, updated_at = $9
WHERE rule_id = $1 RETURNING `+ruleColumns,
		r.RuleID, r.Name, r.Description, r.DaysBeforeExpiry, r.DiscountPercentage.String(), r.Category, r.Priority, r.IsActive, updatedAt)
	updated, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DiscountRule{}, domain.NewNotFoundError("discount rule", r.RuleID)
	}
	return updated, err
}

func (s *PostgresStore) SetRuleActive(ctx context.Context, ruleID string, active bool, at time.Time) (domain.DiscountRule, error) {
	if err := s.ready(); err != nil {
		return domain.DiscountRule{}, err
	}
	row := s.pool.QueryRow(ctx, `UPDATE discount_rules SET is_active = $2, updated_at = $3 WHERE rule_id = $1 RETURNING `+ruleColumns,
		ruleID, active, at.UTC())
	updated, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DiscountRule{}, domain.NewNotFoundError("discount rule", ruleID)
	}
	return updated, err
}

const pricedColumns = `inventory_id, product_id, base_price::text, current_price::text, applied_rule_id, discount_percentage_applied::text, run_id, calculated_at`

func (s *PostgresStore) ListPricedItems(ctx context.Context) ([]domain.PricedItem, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return listPriced(ctx, s.pool)
}

func listPriced(ctx context.Context, q dbtx) ([]domain.PricedItem, error) {
	rows, err := q.Query(ctx, `SELECT `+pricedColumns+` FROM priced_items ORDER BY inventory_id`)
	if err != nil {
		return nil, fmt.Errorf("list priced items: %w", err)
	}
	defer rows.Close()
	out := make([]domain.PricedItem, 0)
	for rows.Next() {
		item, err := scanPriced(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// ReplacePricedItems rebuilds priced_items and appends price_history in one
// transaction. A failure rolls back to the previous priced state.
func (s *PostgresStore) ReplacePricedItems(ctx context.Context, items []domain.PricedItem, changes []domain.PriceChange) error {
	if err := s.ready(); err != nil {
		return err
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM priced_items`); err != nil {
		return fmt.Errorf("clear priced items: %w", err)
	}

	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(`INSERT INTO priced_items (inventory_id, product_id, base_price, current_price, applied_rule_id, discount_percentage_applied, run_id, calculated_at)
VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6::numeric, $7, $8)`,
			item.InventoryID, item.ProductID, item.BasePrice.String(), item.CurrentPrice.String(),
			item.AppliedRuleID, item.DiscountPercentageApplied.String(), item.RunID, item.CalculatedAt)
	}
	for _, ch := range changes {
		batch.Queue(`INSERT INTO price_history (id, inventory_id, product_id, run_id, previous_price, new_price, previous_rule_id, new_rule_id, changed_at)
VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9)`,
			ch.ID, ch.InventoryID, ch.ProductID, ch.RunID, ch.PreviousPrice.String(), ch.NewPrice.String(),
			ch.PreviousRuleID, ch.NewRuleID, ch.ChangedAt)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("write priced items: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit priced items: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPriceHistory(ctx context.Context, inventoryID string) ([]domain.PriceChange, error) {
	if _, err := s.GetBatch(ctx, inventoryID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT id, inventory_id, product_id, run_id, previous_price::text, new_price::text, previous_rule_id, new_rule_id, changed_at
FROM price_history WHERE inventory_id = $1 ORDER BY changed_at DESC, id DESC`, inventoryID)
	if err != nil {
		return nil, fmt.Errorf("list price history: %w", err)
	}
	defer rows.Close()
	out := make([]domain.PriceChange, 0)
	for rows.Next() {
		var ch domain.PriceChange
		var prev, next string
		if err := rows.Scan(&ch.ID, &ch.InventoryID, &ch.ProductID, &ch.RunID, &prev, &next, &ch.PreviousRuleID, &ch.NewRuleID, &ch.ChangedAt); err != nil {
			return nil, err
		}
		if ch.PreviousPrice, err = parseDecimal("previous_price", prev); err != nil {
			return nil, err
		}
		if ch.NewPrice, err = parseDecimal("new_price", next); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// Snapshot reads every table inside one repeatable-read transaction.
func (s *PostgresStore) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	if err := s.ready(); err != nil {
		return domain.Snapshot{}, err
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var snap domain.Snapshot
	if snap.Products, err = listProducts(ctx, tx); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Batches, err = listBatches(ctx, tx, `SELECT `+batchColumns+` FROM inventory_batches ORDER BY expiration_date, inventory_id`); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Rules, err = listRules(ctx, tx); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.PricedItems, err = listPriced(ctx, tx); err != nil {
		return domain.Snapshot{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Snapshot{}, fmt.Errorf("commit snapshot: %w", err)
	}
	return snap, nil
}

func scanProduct(row pgx.Row) (domain.Product, error) {
	var p domain.Product
	var price string
	if err := row.Scan(&p.ProductID, &p.Name, &price, &p.Category, &p.SKU, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Product{}, err
	}
	var err error
	p.BasePrice, err = parseDecimal("base_price", price)
	return p, err
}

func scanBatch(row pgx.Row) (domain.InventoryBatch, error) {
	var b domain.InventoryBatch
	if err := row.Scan(&b.InventoryID, &b.ProductID, &b.BatchID, &b.Quantity, &b.Location, &b.ManufactureDate, &b.ExpirationDate, &b.CreatedAt); err != nil {
		return domain.InventoryBatch{}, err
	}
	return b, nil
}

func scanRule(row pgx.Row) (domain.DiscountRule, error) {
	var r domain.DiscountRule
	var pct string
	if err := row.Scan(&r.RuleID, &r.Name, &r.Description, &r.DaysBeforeExpiry, &pct, &r.Category, &r.Priority, &r.IsActive, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return domain.DiscountRule{}, err
	}
	var err error
	r.DiscountPercentage, err = parseDecimal("discount_percentage", pct)
	return r, err
}

func scanPriced(row pgx.Row) (domain.PricedItem, error) {
	var item domain.PricedItem
	var base, current, pct string
	if err := row.Scan(&item.InventoryID, &item.ProductID, &base, &current, &item.AppliedRuleID, &pct, &item.RunID, &item.CalculatedAt); err != nil {
		return domain.PricedItem{}, err
	}
	var err error
	if item.BasePrice, err = parseDecimal("base_price", base); err != nil {
		return domain.PricedItem{}, err
	}
	if item.CurrentPrice, err = parseDecimal("current_price", current); err != nil {
		return domain.PricedItem{}, err
	}
	if item.DiscountPercentageApplied, err = parseDecimal("discount_percentage_applied", pct); err != nil {
		return domain.PricedItem{}, err
	}
	return item, nil
}

func parseDecimal(column, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode %s %q: %w", column, raw, err)
	}
	return d, nil
}

// translate maps constraint violations onto domain errors.
func translate(err error, resource, id string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%s %s: %w", resource, id, domain.ErrDuplicate)
		case pgForeignKeyViolation:
			return domain.NewNotFoundError(resource, id)
		}
	}
	return fmt.Errorf("write %s: %w", resource, err)
}
