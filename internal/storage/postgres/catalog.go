package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/john25coder/pizzaria-app/internal/domain/catalog"
)

const (
	productColumns = `id, name, description, category, image_url, active, created_at, updated_at`

	productFilterSQL = ` WHERE ($1 OR active)
		AND ($2 = '' OR name ILIKE '%' || $2 || '%' OR description ILIKE '%' || $2 || '%')
		AND ($3 = '' OR category = $3)`

	listProductsSQL = `SELECT ` + productColumns + ` FROM products` + productFilterSQL +
		` ORDER BY name, id LIMIT $4 OFFSET $5`

	countProductsSQL = `SELECT COUNT(*) FROM products` + productFilterSQL

	getProductSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`

	createProductSQL = `INSERT INTO products (` + productColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	updateProductSQL = `UPDATE products
		SET name = $2, description = $3, category = $4, image_url = $5, active = $6, updated_at = $7
		WHERE id = $1`

	sizeColumns = `id, name, description, price, active, created_at, updated_at`

	listSizesSQL = `SELECT ` + sizeColumns + ` FROM sizes WHERE $1 OR active ORDER BY price, name`

	getSizeSQL = `SELECT ` + sizeColumns + ` FROM sizes WHERE id = $1`

	getSizeByNameSQL = `SELECT ` + sizeColumns + ` FROM sizes WHERE LOWER(name) = LOWER($1)`

	getSizesByIDsSQL = `SELECT ` + sizeColumns + ` FROM sizes WHERE id = ANY($1)`

	createSizeSQL = `INSERT INTO sizes (` + sizeColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	updateSizeSQL = `UPDATE sizes
		SET name = $2, description = $3, price = $4, active = $5, updated_at = $6
		WHERE id = $1`
)

var (
	_ catalog.ProductRepository = (*CatalogRepository)(nil)
	_ catalog.SizeRepository    = (*CatalogRepository)(nil)
)

// CatalogRepository implements catalog.ProductRepository and
// catalog.SizeRepository backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// ListProducts returns one page of products matching f and the total count.
func (r *CatalogRepository) ListProducts(ctx context.Context, f catalog.ProductFilter) ([]catalog.Product, int, error) {
	q := conn(ctx, r.pool)

	var total int
	if err := q.QueryRow(ctx, countProductsSQL, f.IncludeInactive, f.Search, f.Category).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting products: %w", err)
	}

	rows, err := q.Query(ctx, listProductsSQL, f.IncludeInactive, f.Search, f.Category, f.Limit, f.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("listing products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, 0, fmt.Errorf("listing products: %w", err)
	}
	return products, total, nil
}

// GetProduct returns a single product by its identifier.
func (r *CatalogRepository) GetProduct(ctx context.Context, id string) (*catalog.Product, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getProductSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrProductNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetProductsByIDs returns products matching any of the given IDs.
func (r *CatalogRepository) GetProductsByIDs(ctx context.Context, ids []string) ([]catalog.Product, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// CreateProduct inserts a new product.
func (r *CatalogRepository) CreateProduct(ctx context.Context, p *catalog.Product) error {
	_, err := conn(ctx, r.pool).Exec(ctx, createProductSQL,
		p.ID, p.Name, p.Description, p.Category, p.ImageURL, p.Active, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating product %q: %w", p.ID, err)
	}
	return nil
}

// UpdateProduct overwrites the mutable fields of a product.
func (r *CatalogRepository) UpdateProduct(ctx context.Context, p *catalog.Product) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, updateProductSQL,
		p.ID, p.Name, p.Description, p.Category, p.ImageURL, p.Active, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating product %q: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrProductNotFound
	}
	return nil
}

// ListSizes returns sizes ordered from cheapest.
func (r *CatalogRepository) ListSizes(ctx context.Context, includeInactive bool) ([]catalog.Size, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listSizesSQL, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("listing sizes: %w", err)
	}
	return pgx.CollectRows(rows, scanSize)
}

// GetSize returns a single size by its identifier.
func (r *CatalogRepository) GetSize(ctx context.Context, id string) (*catalog.Size, error) {
	return r.getSize(ctx, getSizeSQL, id)
}

// GetSizeByName looks a size up by case-insensitive name.
func (r *CatalogRepository) GetSizeByName(ctx context.Context, name string) (*catalog.Size, error) {
	return r.getSize(ctx, getSizeByNameSQL, name)
}

func (r *CatalogRepository) getSize(ctx context.Context, sql, arg string) (*catalog.Size, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting size %q: %w", arg, err)
	}

	s, err := pgx.CollectExactlyOneRow(rows, scanSize)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrSizeNotFound
		}
		return nil, fmt.Errorf("getting size %q: %w", arg, err)
	}
	return &s, nil
}

// GetSizesByIDs returns sizes matching any of the given IDs.
func (r *CatalogRepository) GetSizesByIDs(ctx context.Context, ids []string) ([]catalog.Size, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getSizesByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting sizes by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanSize)
}

// CreateSize inserts a new size. A name clash returns catalog.ErrDuplicateSize.
func (r *CatalogRepository) CreateSize(ctx context.Context, s *catalog.Size) error {
	_, err := conn(ctx, r.pool).Exec(ctx, createSizeSQL,
		s.ID, s.Name, s.Description, s.Price, s.Active, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return catalog.ErrDuplicateSize
		}
		return fmt.Errorf("creating size %q: %w", s.Name, err)
	}
	return nil
}

// UpdateSize overwrites the mutable fields of a size.
func (r *CatalogRepository) UpdateSize(ctx context.Context, s *catalog.Size) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, updateSizeSQL,
		s.ID, s.Name, s.Description, s.Price, s.Active, s.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return catalog.ErrDuplicateSize
		}
		return fmt.Errorf("updating size %q: %w", s.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrSizeNotFound
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var p catalog.Product
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Category, &p.ImageURL,
		&p.Active, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

func scanSize(row pgx.CollectableRow) (catalog.Size, error) {
	var s catalog.Size
	err := row.Scan(
		&s.ID, &s.Name, &s.Description, &s.Price,
		&s.Active, &s.CreatedAt, &s.UpdatedAt,
	)
	return s, err
}
