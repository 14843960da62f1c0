// Package customer is the read side of the customer directory. Accounts are
// managed elsewhere; orders only need to confirm that the owner exists.
package customer

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a customer does not exist.
var ErrNotFound = errors.New("customer not found")

// Customer is the owner of an order.
type Customer struct {
	ID        string
	Name      string
	Email     string
	Phone     string
	CreatedAt time.Time
}

// Repository looks customers up by id.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Customer, error)
}
