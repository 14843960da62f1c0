// Package catalog models the pizza menu: products (flavors) and the sizes
// they are sold in. The unit price of an order line always comes from the
// size; a product only selects the flavor.
package catalog

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/john25coder/pizzaria-app/internal/domain/paging"
)

var (
	// ErrProductNotFound is returned when a requested product does not exist.
	ErrProductNotFound = errors.New("product not found")
	// ErrSizeNotFound is returned when a requested size does not exist.
	ErrSizeNotFound = errors.New("size not found")
	// ErrDuplicateSize is returned when a size name is already taken.
	ErrDuplicateSize = errors.New("size with this name already exists")
	// ErrNameRequired is returned when a product or size has an empty name.
	ErrNameRequired = errors.New("name is required")
	// ErrInvalidPrice is returned for negative size prices.
	ErrInvalidPrice = errors.New("price must not be negative")
)

// Product is a flavor on the menu.
type Product struct {
	ID          string
	Name        string
	Description string
	Category    string
	ImageURL    string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Size is a pizza size. Price is the authoritative unit price.
type Size struct {
	ID          string
	Name        string
	Description string
	Price       decimal.Decimal
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProductFilter narrows product listings.
type ProductFilter struct {
	Search          string
	Category        string
	IncludeInactive bool
	paging.Params
}

// ProductRepository defines persistence operations for products.
type ProductRepository interface {
	ListProducts(ctx context.Context, f ProductFilter) ([]Product, int, error)
	GetProduct(ctx context.Context, id string) (*Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) ([]Product, error)
	CreateProduct(ctx context.Context, p *Product) error
	UpdateProduct(ctx context.Context, p *Product) error
}

// SizeRepository defines persistence operations for sizes.
type SizeRepository interface {
	ListSizes(ctx context.Context, includeInactive bool) ([]Size, error)
	GetSize(ctx context.Context, id string) (*Size, error)
	GetSizeByName(ctx context.Context, name string) (*Size, error)
	GetSizesByIDs(ctx context.Context, ids []string) ([]Size, error)
	CreateSize(ctx context.Context, s *Size) error
	UpdateSize(ctx context.Context, s *Size) error
}
