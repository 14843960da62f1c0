// Command seed-db applies migrations and loads the demo catalog.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/john25coder/pizzaria-app/internal/domain/auth"
	"github.com/john25coder/pizzaria-app/internal/domain/catalog"
	"github.com/john25coder/pizzaria-app/internal/domain/coupon"
	"github.com/john25coder/pizzaria-app/internal/domain/customer"
	"github.com/john25coder/pizzaria-app/internal/handler"
	"github.com/john25coder/pizzaria-app/internal/storage/postgres"
)

type seedFile struct {
	Sizes []struct {
		ID          string          `json:"id"`
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Price       decimal.Decimal `json:"price"`
	} `json:"sizes"`
	Products []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Category    string `json:"category"`
		Description string `json:"description"`
		ImageURL    string `json:"imageUrl"`
	} `json:"products"`
	Customers []struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"customers"`
	Coupons []struct {
		ID          string          `json:"id"`
		Code        string          `json:"code"`
		Kind        string          `json:"kind"`
		Value       decimal.Decimal `json:"value"`
		Description string          `json:"description"`
		MaxUses     *int            `json:"maxUses"`
		ExpiresAt   *time.Time      `json:"expiresAt"`
	} `json:"coupons"`
}

func main() {
	var (
		databaseURL  string
		seedPath     string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedPath, "seed-file", "db/seed/catalog.json", "path to catalog seed JSON file")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or PIZZARIA_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or PIZZARIA_ADMIN_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("PIZZARIA_SEED_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("PIZZARIA_ADMIN_API_KEY_PEPPER")
	}
	if apiKey != "" && apiKeyPepper == "" {
		slog.Error("API key pepper is required to seed an API key: set --api-key-pepper or PIZZARIA_ADMIN_API_KEY_PEPPER")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, seedPath, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, seedPath, apiKey, pepper string) error {
	slog.Info("reading seed file", slog.String("path", seedPath))

	data, err := os.ReadFile(seedPath)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse seed JSON")
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	now := time.Now()
	catalogRepo := postgres.NewCatalogRepository(pool)

	if err := seedSizes(ctx, catalogRepo, &seed, now); err != nil {
		return errors.Wrap(err, "seed sizes")
	}
	if err := seedProducts(ctx, catalogRepo, &seed, now); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedCustomers(ctx, postgres.NewCustomerRepository(pool), &seed, now); err != nil {
		return errors.Wrap(err, "seed customers")
	}
	if err := seedCoupons(ctx, postgres.NewCouponRepository(pool), &seed, now); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	if apiKey == "" {
		slog.Info("no API key given, skipping")
		return nil
	}
	if err := seedAPIKey(ctx, postgres.NewAPIKeyRepository(pool), apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	return nil
}

func seedSizes(ctx context.Context, repo *postgres.CatalogRepository, seed *seedFile, now time.Time) error {
	slog.Info("upserting sizes", slog.Int("count", len(seed.Sizes)))

	for _, s := range seed.Sizes {
		size := &catalog.Size{
			ID:          s.ID,
			Name:        s.Name,
			Description: s.Description,
			Price:       s.Price,
			Active:      true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		err := repo.UpdateSize(ctx, size)
		if errors.Is(err, catalog.ErrSizeNotFound) {
			err = repo.CreateSize(ctx, size)
		}
		if err != nil {
			return errors.Wrapf(err, "upsert size %s", s.ID)
		}

		slog.Info("upserted size", slog.String("id", s.ID), slog.String("price", s.Price.StringFixed(2)))
	}
	return nil
}

func seedProducts(ctx context.Context, repo *postgres.CatalogRepository, seed *seedFile, now time.Time) error {
	slog.Info("upserting products", slog.Int("count", len(seed.Products)))

	for _, p := range seed.Products {
		product := &catalog.Product{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Category:    p.Category,
			ImageURL:    p.ImageURL,
			Active:      true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		err := repo.UpdateProduct(ctx, product)
		if errors.Is(err, catalog.ErrProductNotFound) {
			err = repo.CreateProduct(ctx, product)
		}
		if err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}
	return nil
}

func seedCustomers(ctx context.Context, repo *postgres.CustomerRepository, seed *seedFile, now time.Time) error {
	for _, c := range seed.Customers {
		if err := repo.Upsert(ctx, &customer.Customer{
			ID:        c.ID,
			Name:      c.Name,
			Email:     c.Email,
			Phone:     c.Phone,
			CreatedAt: now,
		}); err != nil {
			return errors.Wrapf(err, "upsert customer %s", c.ID)
		}

		slog.Info("upserted customer", slog.String("id", c.ID))
	}
	return nil
}

func seedCoupons(ctx context.Context, repo *postgres.CouponRepository, seed *seedFile, now time.Time) error {
	slog.Info("upserting coupons", slog.Int("count", len(seed.Coupons)))

	for _, c := range seed.Coupons {
		kind, err := coupon.ParseKind(c.Kind)
		if err != nil {
			return errors.Wrapf(err, "coupon %s", c.Code)
		}

		if err := repo.Upsert(ctx, &coupon.Coupon{
			ID:          c.ID,
			Code:        coupon.NormalizeCode(c.Code),
			Kind:        kind,
			Value:       c.Value,
			Description: c.Description,
			ExpiresAt:   c.ExpiresAt,
			MaxUses:     c.MaxUses,
			Active:      true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.Code)
		}

		slog.Info("upserted coupon", slog.String("code", c.Code), slog.String("description", c.Description))
	}
	return nil
}

func seedAPIKey(ctx context.Context, repo *postgres.APIKeyRepository, apiKey, pepper string) error {
	slog.Info("seeding admin API key")

	if err := repo.Upsert(ctx, &auth.APIKeyInfo{
		ID:      "default-admin",
		KeyHash: handler.HashAPIKey([]byte(pepper), apiKey),
		Name:    "Default admin key",
		Scopes:  []string{auth.ScopeAdmin},
	}); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("upserted API key", slog.String("id", "default-admin"))
	return nil
}
