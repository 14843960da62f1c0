package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/john25coder/pizzaria-app/internal/domain/coupon"
)

const (
	couponColumns = `id, code, kind, value, description, expires_at, max_uses, uses, active, created_at, updated_at`

	getCouponByIDSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = UPPER($1)`

	listCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE NOT $1 OR active ORDER BY created_at DESC, code`

	createCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	updateCouponSQL = `UPDATE coupons
		SET code = $2, kind = $3, value = $4, description = $5, expires_at = $6,
			max_uses = $7, active = $8, updated_at = $9
		WHERE id = $1`

	// Only increments while the coupon is active, unexpired and below its
	// limit, so two orders racing for the last use cannot both succeed.
	consumeCouponSQL = `UPDATE coupons SET uses = uses + 1, updated_at = now()
		WHERE id = $1 AND active
			AND (expires_at IS NULL OR expires_at >= now())
			AND (max_uses IS NULL OR uses < max_uses)`

	couponExistsSQL = `SELECT EXISTS (SELECT 1 FROM coupons WHERE id = $1)`

	couponUsageSQL = `SELECT COUNT(*), COALESCE(SUM(discount), 0) FROM orders WHERE coupon_id = $1`

	upsertCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $9)
		ON CONFLICT (code) DO UPDATE SET kind = EXCLUDED.kind, value = EXCLUDED.value,
			description = EXCLUDED.description, expires_at = EXCLUDED.expires_at,
			max_uses = EXCLUDED.max_uses, active = EXCLUDED.active, updated_at = EXCLUDED.updated_at`

	listCouponCodesSQL = `SELECT code FROM coupons`
)

var (
	_ coupon.Repository = (*CouponRepository)(nil)
	_ coupon.Consumer   = (*CouponRepository)(nil)
)

// CouponRepository implements coupon.Repository and coupon.Consumer backed
// by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// GetByID returns a coupon or coupon.ErrNotFound.
func (r *CouponRepository) GetByID(ctx context.Context, id string) (*coupon.Coupon, error) {
	return r.getOne(ctx, getCouponByIDSQL, id)
}

// GetByCode looks up a coupon by its code (case-insensitive), active or not.
func (r *CouponRepository) GetByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.getOne(ctx, getCouponByCodeSQL, code)
}

func (r *CouponRepository) getOne(ctx context.Context, sql, arg string) (*coupon.Coupon, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("finding coupon %q: %w", arg, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon %q: %w", arg, err)
	}
	return &c, nil
}

// List returns coupons, newest first.
func (r *CouponRepository) List(ctx context.Context, activeOnly bool) ([]coupon.Coupon, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listCouponsSQL, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	return pgx.CollectRows(rows, scanCoupon)
}

// Create inserts a coupon. A code clash returns coupon.ErrDuplicateCode.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	_, err := conn(ctx, r.pool).Exec(ctx, createCouponSQL,
		c.ID, c.Code, string(c.Kind), c.Value, c.Description, c.ExpiresAt,
		c.MaxUses, c.Uses, c.Active, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return coupon.ErrDuplicateCode
		}
		return fmt.Errorf("creating coupon %q: %w", c.Code, err)
	}
	return nil
}

// Update overwrites the mutable fields of a coupon. The uses counter is
// owned by Consume and never written here.
func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, updateCouponSQL,
		c.ID, c.Code, string(c.Kind), c.Value, c.Description, c.ExpiresAt,
		c.MaxUses, c.Active, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return coupon.ErrDuplicateCode
		}
		return fmt.Errorf("updating coupon %q: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// Consume takes one use of the coupon.
func (r *CouponRepository) Consume(ctx context.Context, id string) error {
	q := conn(ctx, r.pool)
	tag, err := q.Exec(ctx, consumeCouponSQL, id)
	if err != nil {
		return fmt.Errorf("consuming coupon %q: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := q.QueryRow(ctx, couponExistsSQL, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking coupon %q: %w", id, err)
	}
	if !exists {
		return coupon.ErrNotFound
	}
	return coupon.ErrUsageLimitReached
}

// Usage aggregates the orders placed with the coupon.
func (r *CouponRepository) Usage(ctx context.Context, id string) (*coupon.Usage, error) {
	var u coupon.Usage
	if err := conn(ctx, r.pool).QueryRow(ctx, couponUsageSQL, id).Scan(&u.OrderCount, &u.TotalDiscount); err != nil {
		return nil, fmt.Errorf("aggregating usage for coupon %q: %w", id, err)
	}
	return &u, nil
}

// Upsert creates a coupon or refreshes every field except its uses.
// Used by import tooling.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) error {
	_, err := conn(ctx, r.pool).Exec(ctx, upsertCouponSQL,
		c.ID, c.Code, string(c.Kind), c.Value, c.Description, c.ExpiresAt,
		c.MaxUses, c.Active, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return nil
}

// Codes streams every stored coupon code to fn.
func (r *CouponRepository) Codes(ctx context.Context, fn func(code string)) error {
	rows, err := conn(ctx, r.pool).Query(ctx, listCouponCodesSQL)
	if err != nil {
		return fmt.Errorf("listing coupon codes: %w", err)
	}
	defer rows.Close()

	var code string
	_, err = pgx.ForEachRow(rows, []any{&code}, func() error {
		fn(code)
		return nil
	})
	if err != nil {
		return fmt.Errorf("listing coupon codes: %w", err)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c       coupon.Coupon
		kind    string
		maxUses *int32
		uses    int32
	)
	err := row.Scan(
		&c.ID, &c.Code, &kind, &c.Value, &c.Description, &c.ExpiresAt,
		&maxUses, &uses, &c.Active, &c.CreatedAt, &c.UpdatedAt,
	)
	c.Kind = coupon.Kind(kind)
	c.Uses = int(uses)
	if maxUses != nil {
		n := int(*maxUses)
		c.MaxUses = &n
	}
	return c, err
}
