package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/john25coder/pizzaria-app/internal/domain/paging"
)

// ProductPage is one page of a product listing.
type ProductPage struct {
	Products []Product
	paging.Info
}

// ProductInput holds the fields for creating a product.
type ProductInput struct {
	Name        string
	Description string
	Category    string
	ImageURL    string
}

// ProductPatch holds optional product fields; nil fields are left unchanged.
type ProductPatch struct {
	Name        *string
	Description *string
	Category    *string
	ImageURL    *string
	Active      *bool
}

// SizeInput holds the fields for creating a size.
type SizeInput struct {
	Name        string
	Description string
	Price       decimal.Decimal
}

// SizePatch holds optional size fields; nil fields are left unchanged.
type SizePatch struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
	Active      *bool
}

// Service implements catalog reads and administrative edits.
type Service struct {
	products ProductRepository
	sizes    SizeRepository
	now      func() time.Time
}

// NewService creates a catalog Service.
func NewService(products ProductRepository, sizes SizeRepository) *Service {
	return &Service{products: products, sizes: sizes, now: time.Now}
}

// ListProducts returns a page of products matching the filter.
func (s *Service) ListProducts(ctx context.Context, f ProductFilter) (*ProductPage, error) {
	f.Params = f.Params.Normalize()
	f.Search = strings.TrimSpace(f.Search)

	products, total, err := s.products.ListProducts(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return &ProductPage{Products: products, Info: paging.NewInfo(f.Params, total)}, nil
}

// GetProduct returns a single product by id.
func (s *Service) GetProduct(ctx context.Context, id string) (*Product, error) {
	return s.products.GetProduct(ctx, id)
}

// CreateProduct adds an active product to the menu.
func (s *Service) CreateProduct(ctx context.Context, in ProductInput) (*Product, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrNameRequired
	}

	now := s.now()
	p := &Product{
		ID:          uuid.New().String(),
		Name:        name,
		Description: in.Description,
		Category:    in.Category,
		ImageURL:    in.ImageURL,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.products.CreateProduct(ctx, p); err != nil {
		return nil, errors.Wrap(err, "create product")
	}
	return p, nil
}

// UpdateProduct applies a partial update to an existing product.
func (s *Service) UpdateProduct(ctx context.Context, id string, patch ProductPatch) (*Product, error) {
	p, err := s.products.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, ErrNameRequired
		}
		p.Name = name
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Category != nil {
		p.Category = *patch.Category
	}
	if patch.ImageURL != nil {
		p.ImageURL = *patch.ImageURL
	}
	if patch.Active != nil {
		p.Active = *patch.Active
	}
	p.UpdatedAt = s.now()

	if err := s.products.UpdateProduct(ctx, p); err != nil {
		return nil, errors.Wrap(err, "update product")
	}
	return p, nil
}

// ListSizes returns sizes ordered by name.
func (s *Service) ListSizes(ctx context.Context, includeInactive bool) ([]Size, error) {
	sizes, err := s.sizes.ListSizes(ctx, includeInactive)
	if err != nil {
		return nil, errors.Wrap(err, "list sizes")
	}
	return sizes, nil
}

// GetSize returns a single size by id.
func (s *Service) GetSize(ctx context.Context, id string) (*Size, error) {
	return s.sizes.GetSize(ctx, id)
}

// CreateSize adds a size. Names are unique.
func (s *Service) CreateSize(ctx context.Context, in SizeInput) (*Size, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrNameRequired
	}
	if in.Price.IsNegative() {
		return nil, ErrInvalidPrice
	}
	if err := s.ensureSizeNameFree(ctx, name, ""); err != nil {
		return nil, err
	}

	now := s.now()
	sz := &Size{
		ID:          uuid.New().String(),
		Name:        name,
		Description: in.Description,
		Price:       in.Price.Round(2),
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.sizes.CreateSize(ctx, sz); err != nil {
		return nil, errors.Wrap(err, "create size")
	}
	return sz, nil
}

// UpdateSize applies a partial update. A renamed size must not collide with
// another size.
func (s *Service) UpdateSize(ctx context.Context, id string, patch SizePatch) (*Size, error) {
	sz, err := s.sizes.GetSize(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, ErrNameRequired
		}
		if name != sz.Name {
			if err := s.ensureSizeNameFree(ctx, name, sz.ID); err != nil {
				return nil, err
			}
		}
		sz.Name = name
	}
	if patch.Description != nil {
		sz.Description = *patch.Description
	}
	if patch.Price != nil {
		if patch.Price.IsNegative() {
			return nil, ErrInvalidPrice
		}
		sz.Price = patch.Price.Round(2)
	}
	if patch.Active != nil {
		sz.Active = *patch.Active
	}
	sz.UpdatedAt = s.now()

	if err := s.sizes.UpdateSize(ctx, sz); err != nil {
		return nil, errors.Wrap(err, "update size")
	}
	return sz, nil
}

func (s *Service) ensureSizeNameFree(ctx context.Context, name, selfID string) error {
	existing, err := s.sizes.GetSizeByName(ctx, name)
	switch {
	case errors.Is(err, ErrSizeNotFound):
		return nil
	case err != nil:
		return errors.Wrap(err, "lookup size by name")
	case existing.ID != selfID:
		return ErrDuplicateSize
	}
	return nil
}
