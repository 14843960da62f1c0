package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Input holds the fields for creating a coupon.
type Input struct {
	Code        string
	Kind        string
	Value       decimal.Decimal
	Description string
	ExpiresAt   *time.Time
	MaxUses     *int
}

// Patch holds optional coupon fields; nil fields are left unchanged. The
// Clear flags remove the expiry or usage limit and win over a value set in
// the same patch.
type Patch struct {
	Code           *string
	Kind           *string
	Value          *decimal.Decimal
	Description    *string
	ExpiresAt      *time.Time
	ClearExpiresAt bool
	MaxUses        *int
	ClearMaxUses   bool
	Active         *bool
}

// Stats summarizes how a coupon has been used.
type Stats struct {
	Coupon        *Coupon
	Uses          int
	MaxUses       *int
	Remaining     *int
	OrderCount    int
	TotalDiscount decimal.Decimal
}

// Create registers a new active coupon.
func (s *Service) Create(ctx context.Context, in Input) (*Coupon, error) {
	code := NormalizeCode(in.Code)
	if code == "" {
		return nil, ErrCodeRequired
	}
	kind, err := ParseKind(in.Kind)
	if err != nil {
		return nil, err
	}
	if err := validateValue(kind, in.Value); err != nil {
		return nil, err
	}
	if in.MaxUses != nil && *in.MaxUses < 1 {
		return nil, ErrInvalidMaxUses
	}
	if err := s.ensureCodeFree(ctx, code, ""); err != nil {
		return nil, err
	}

	now := s.now()
	c := &Coupon{
		ID:          uuid.New().String(),
		Code:        code,
		Kind:        kind,
		Value:       in.Value,
		Description: in.Description,
		ExpiresAt:   in.ExpiresAt,
		MaxUses:     in.MaxUses,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, errors.Wrap(err, "create coupon")
	}
	return c, nil
}

// Update applies a partial update. Code uniqueness is only rechecked when
// the code actually changes.
func (s *Service) Update(ctx context.Context, id string, p Patch) (*Coupon, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.Code != nil {
		code := NormalizeCode(*p.Code)
		if code == "" {
			return nil, ErrCodeRequired
		}
		if code != c.Code {
			if err := s.ensureCodeFree(ctx, code, c.ID); err != nil {
				return nil, err
			}
			c.Code = code
		}
	}
	if p.Kind != nil {
		kind, err := ParseKind(*p.Kind)
		if err != nil {
			return nil, err
		}
		c.Kind = kind
	}
	if p.Value != nil {
		c.Value = *p.Value
	}
	if err := validateValue(c.Kind, c.Value); err != nil {
		return nil, err
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	switch {
	case p.ClearExpiresAt:
		c.ExpiresAt = nil
	case p.ExpiresAt != nil:
		c.ExpiresAt = p.ExpiresAt
	}
	switch {
	case p.ClearMaxUses:
		c.MaxUses = nil
	case p.MaxUses != nil:
		if *p.MaxUses < 1 {
			return nil, ErrInvalidMaxUses
		}
		if *p.MaxUses < c.Uses {
			return nil, errors.Wrapf(ErrInvalidMaxUses, "coupon already used %d times", c.Uses)
		}
		c.MaxUses = p.MaxUses
	}
	if p.Active != nil {
		c.Active = *p.Active
	}
	c.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, c); err != nil {
		return nil, errors.Wrap(err, "update coupon")
	}
	return c, nil
}

// Deactivate marks the coupon inactive. It is kept for order history.
func (s *Service) Deactivate(ctx context.Context, id string) (*Coupon, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Active {
		return c, nil
	}

	c.Active = false
	c.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, errors.Wrap(err, "deactivate coupon")
	}
	return c, nil
}

// Get returns a coupon by id.
func (s *Service) Get(ctx context.Context, id string) (*Coupon, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns coupons, newest first.
func (s *Service) List(ctx context.Context, activeOnly bool) ([]Coupon, error) {
	list, err := s.repo.List(ctx, activeOnly)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	return list, nil
}

// Stats reports usage counters and the total discount granted through orders.
func (s *Service) Stats(ctx context.Context, id string) (*Stats, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	u, err := s.repo.Usage(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "coupon usage")
	}
	return &Stats{
		Coupon:        c,
		Uses:          c.Uses,
		MaxUses:       c.MaxUses,
		Remaining:     c.Remaining(),
		OrderCount:    u.OrderCount,
		TotalDiscount: u.TotalDiscount,
	}, nil
}

func (s *Service) ensureCodeFree(ctx context.Context, code, selfID string) error {
	existing, err := s.repo.GetByCode(ctx, code)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return errors.Wrap(err, "lookup coupon by code")
	case existing.ID != selfID:
		return ErrDuplicateCode
	}
	return nil
}
