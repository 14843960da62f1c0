package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Validation is the outcome of checking a code. Expected failures (unknown,
// inactive, expired, exhausted) are reported here, not as errors.
type Validation struct {
	Valid  bool
	Reason string
	Coupon *Coupon
}

// Validator checks whether a coupon code can currently be applied.
type Validator interface {
	Validate(ctx context.Context, code string) (*Validation, error)
}

var _ Validator = (*Service)(nil)

// Service implements coupon validation and administration on top of a
// Repository.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a coupon Service backed by the given Repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Validate looks up the normalized code and reports whether it may be used
// now. It never consumes a use.
func (s *Service) Validate(ctx context.Context, code string) (*Validation, error) {
	code = NormalizeCode(code)
	if code == "" {
		return &Validation{Reason: ReasonNotFound}, nil
	}

	c, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &Validation{Reason: ReasonNotFound}, nil
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if reason := c.Check(s.now()); reason != "" {
		return &Validation{Reason: reason, Coupon: c}, nil
	}
	return &Validation{Valid: true, Coupon: c}, nil
}
