package main

import (
	"context"
	"errors"
	"flag"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/expiry-discount/internal/app"
	"github.com/noah-isme/expiry-discount/internal/auth"
	"github.com/noah-isme/expiry-discount/internal/catalog"
	"github.com/noah-isme/expiry-discount/internal/config"
	"github.com/noah-isme/expiry-discount/internal/discount"
	"github.com/noah-isme/expiry-discount/internal/domain"
	"github.com/noah-isme/expiry-discount/internal/inventory"
	"github.com/noah-isme/expiry-discount/internal/obs"
	"github.com/noah-isme/expiry-discount/internal/rules"
)

func main() {
	calculate := flag.Bool("calculate", false, "run a calculation after seeding")
	tokenSubject := flag.String("token", "", "issue an admin token for this subject")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of the issued token")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "seeder").Logger()
	if !cfg.UsesPostgres() {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	application, err := app.New(ctx, cfg, logger, "expiry-discount-seeder")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise application")
	}
	defer application.Close()

	seedProducts(ctx, application, logger)
	seedBatches(ctx, application, logger)
	seedRules(ctx, application, logger)

	if *calculate {
		summary, err := application.Engine.Run(ctx, discount.TriggerManual)
		if err != nil {
			logger.Fatal().Err(err).Msg("calculation run")
		}
		logger.Info().
			Str("run_id", summary.RunID).
			Int("processed", summary.Processed).
			Int("discounted", summary.Discounted).
			Msg("calculation run finished")
	}

	if *tokenSubject != "" {
		issueToken(cfg, *tokenSubject, *tokenTTL, logger)
	}
	logger.Info().Msg("seeding completed")
}

func seedProducts(ctx context.Context, a *app.App, logger zerolog.Logger) {
	products := []struct {
		ID, Name, SKU, Category, Price string
	}{
		{"P-MILK-1L", "Fresh Milk 1L", "MLK-001", "dairy", "18500"},
		{"P-YOG-200", "Greek Yogurt 200g", "YOG-001", "dairy", "12000"},
		{"P-BREAD", "Whole Wheat Bread", "BRD-001", "bakery", "22000"},
		{"P-CROIS", "Butter Croissant", "BRD-002", "bakery", "9500"},
		{"P-SPIN", "Baby Spinach 250g", "VEG-001", "produce", "15000"},
		{"P-CHKN", "Chicken Breast 500g", "MEA-001", "meat", "42000"},
		{"P-RICE", "Jasmine Rice 5kg", "DRY-001", "", "78000"},
	}
	for _, p := range products {
		req := catalog.CreateProductRequest{
			ProductID: p.ID,
			Name:      p.Name,
			SKU:       p.SKU,
			BasePrice: decimal.RequireFromString(p.Price),
		}
		if p.Category != "" {
			category := p.Category
			req.Category = &category
		}
		_, err := a.Catalog.CreateProduct(ctx, req)
		report(logger, "product", p.ID, err)
	}
}

func seedBatches(ctx context.Context, a *app.App, logger zerolog.Logger) {
	today := time.Now().UTC()
	batches := []struct {
		ID, Product, Batch string
		Quantity, Days     int
	}{
		{"INV-MILK-A", "P-MILK-1L", "L2401", 24, 1},
		{"INV-MILK-B", "P-MILK-1L", "L2402", 40, 6},
		{"INV-YOG-A", "P-YOG-200", "Y118", 30, 3},
		{"INV-BREAD-A", "P-BREAD", "B77", 12, 0},
		{"INV-CROIS-A", "P-CROIS", "C12", 18, 2},
		{"INV-SPIN-A", "P-SPIN", "S05", 10, -1},
		{"INV-CHKN-A", "P-CHKN", "M31", 8, 4},
		{"INV-RICE-A", "P-RICE", "R900", 60, 240},
	}
	for _, b := range batches {
		quantity := b.Quantity
		_, err := a.Inventory.Create(ctx, inventory.CreateBatchRequest{
			InventoryID:    b.ID,
			ProductID:      b.Product,
			BatchID:        b.Batch,
			Quantity:       &quantity,
			ExpirationDate: domain.FormatDate(today.AddDate(0, 0, b.Days)),
		})
		report(logger, "batch", b.ID, err)
	}
}

func seedRules(ctx context.Context, a *app.App, logger zerolog.Logger) {
	ruleSet := []struct {
		ID, Name, Pct, Category string
		Days, Priority          int
	}{
		{"R-LAST-DAY", "Last day clearance", "50", "", 1, 10},
		{"R-3-DAYS", "Three days out", "30", "", 3, 5},
		{"R-WEEK", "Within a week", "10", "", 7, 0},
		{"R-BAKERY", "Bakery same day", "60", "bakery", 1, 20},
		{"R-DAIRY", "Dairy two days", "35", "dairy", 2, 15},
	}
	for _, r := range ruleSet {
		name := r.Name
		days := r.Days
		priority := r.Priority
		pct := decimal.RequireFromString(r.Pct)
		req := rules.Request{
			RuleID:             r.ID,
			Name:               &name,
			DaysBeforeExpiry:   &days,
			DiscountPercentage: &pct,
			Priority:           &priority,
		}
		if r.Category != "" {
			category := r.Category
			req.Category = &category
		}
		_, err := a.Rules.Create(ctx, req)
		report(logger, "rule", r.ID, err)
	}
}

func report(logger zerolog.Logger, kind, id string, err error) {
	switch {
	case err == nil:
		logger.Info().Str("kind", kind).Str("id", id).Msg("seeded")
	case errors.Is(err, domain.ErrDuplicate):
		logger.Debug().Str("kind", kind).Str("id", id).Msg("already present")
	default:
		logger.Fatal().Err(err).Str("kind", kind).Str("id", id).Msg("seed failed")
	}
}

func issueToken(cfg *config.Config, subject string, ttl time.Duration, logger zerolog.Logger) {
	verifier, err := auth.NewVerifier(auth.Config{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("token issuer unavailable, set AUTH_JWT_SECRET")
	}
	token, err := verifier.Issue(subject, []string{auth.RoleAdmin}, ttl)
	if err != nil {
		logger.Fatal().Err(err).Msg("issue token")
	}
	logger.Info().Str("subject", subject).Dur("ttl", ttl).Str("token", token).Msg("admin token issued")
}
