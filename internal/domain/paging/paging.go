// Package paging holds the page/limit arithmetic shared by list operations.
package paging

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Params is a 1-based page request.
type Params struct {
	Page  int
	Limit int
}

// Normalize clamps zero and out-of-range values to defaults.
func (p Params) Normalize() Params {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}

// Offset returns the number of rows to skip. Call on normalized params.
func (p Params) Offset() int {
	return (p.Page - 1) * p.Limit
}

// Info describes where a page sits within the full result set.
type Info struct {
	Page       int
	Limit      int
	Total      int
	TotalPages int
	HasNext    bool
	HasPrev    bool
}

// NewInfo builds page metadata for a normalized request and a total row count.
func NewInfo(p Params, total int) Info {
	pages := 0
	if p.Limit > 0 {
		pages = (total + p.Limit - 1) / p.Limit
	}
	return Info{
		Page:       p.Page,
		Limit:      p.Limit,
		Total:      total,
		TotalPages: pages,
		HasNext:    p.Page < pages,
		HasPrev:    p.Page > 1,
	}
}
