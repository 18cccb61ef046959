package main

import (
	"context"
	"database/sql"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/emirsalihagic/miniERP-sub001/internal/obs"
)

type seedProduct struct {
	SKU      string
	Name     string
	Price    string
	TaxRate  string
	Discount string
}

var products = []seedProduct{
	{"WID-001", "Widget", "100.00", "20", "0"},
	{"GAD-002", "Gadget", "49.90", "20", "5"},
	{"BOL-003", "Bolt pack", "3.25", "10", "0"},
	{"SRV-004", "Installation service", "250.00", "0", "0"},
}

func main() {
	_ = godotenv.Load()
	logger := obs.NewLogger("console", "info").With().Str("component", "seeder").Logger()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}
	slug := os.Getenv("SEED_TENANT_SLUG")
	if slug == "" {
		slug = "default"
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	tenantID, err := seedTenant(ctx, db, slug)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed tenant")
	}
	logger.Info().Str("tenant_id", tenantID).Str("slug", slug).Msg("tenant ready")

	client := uuid.NewString()
	for _, p := range products {
		productID, err := upsertProduct(ctx, db, tenantID, p)
		if err != nil {
			logger.Error().Err(err).Str("sku", p.SKU).Msg("seed product")
			continue
		}
		if err := seedBaseRule(ctx, db, tenantID, productID, p); err != nil {
			logger.Error().Err(err).Str("sku", p.SKU).Msg("seed base price rule")
		}
	}
	if err := seedClientRule(ctx, db, tenantID, products[0].SKU, client); err != nil {
		logger.Error().Err(err).Msg("seed client price rule")
	}
	logger.Info().Str("client_id", client).Msg("seeding completed")
}

func seedTenant(ctx context.Context, db *sql.DB, slug string) (string, error) {
	var id string
	err := db.QueryRowContext(ctx, `
		INSERT INTO tenants (name, slug) VALUES ($1, $2)
		ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`, "Tenant "+slug, slug).Scan(&id)
	return id, err
}

func upsertProduct(ctx context.Context, db *sql.DB, tenantID string, p seedProduct) (string, error) {
	var id string
	err := db.QueryRowContext(ctx, `
		INSERT INTO products (tenant_id, sku, name) VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, sku) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`, tenantID, p.SKU, p.Name).Scan(&id)
	return id, err
}

// seedBaseRule inserts an open base rule unless the product already has one.
func seedBaseRule(ctx context.Context, db *sql.DB, tenantID, productID string, p seedProduct) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO price_rules (id, tenant_id, product_id, price, currency, tax_rate_percent, discount_percent, effective_from)
		SELECT $1, $2, $3, $4, 'EUR', $5, $6, now() - interval '1 day'
		WHERE NOT EXISTS (
			SELECT 1 FROM price_rules
			WHERE tenant_id = $2 AND product_id = $3 AND client_id IS NULL AND supplier_id IS NULL)`,
		uuid.NewString(), tenantID, productID, p.Price, p.TaxRate, p.Discount)
	return err
}

func seedClientRule(ctx context.Context, db *sql.DB, tenantID, sku, clientID string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO price_rules (id, tenant_id, product_id, client_id, price, currency, tax_rate_percent, discount_percent, effective_from)
		SELECT $1, $2, id, $4, 85.00, 'EUR', 20, 5, now() - interval '1 day'
		FROM products WHERE tenant_id = $2 AND sku = $3`,
		uuid.NewString(), tenantID, sku, clientID)
	return err
}
