package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/john25coder/pizzaria-app/internal/domain/order"
	"github.com/john25coder/pizzaria-app/internal/domain/paging"
)

const (
	orderColumns = `id, customer_id, status, subtotal, discount, delivery_fee, total,
		delivery_address, phone, notes, coupon_id, coupon_code, created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	createOrderItemSQL = `INSERT INTO order_items
		(id, order_id, position, product_id, product_name, size_id, size_name, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	customerFilterSQL = ` WHERE customer_id = $1 AND ($2::text IS NULL OR status = $2)`

	listCustomerOrdersSQL = `SELECT ` + orderColumns + ` FROM orders` + customerFilterSQL +
		` ORDER BY created_at DESC, id LIMIT $3 OFFSET $4`

	countCustomerOrdersSQL = `SELECT COUNT(*) FROM orders` + customerFilterSQL

	adminFilterSQL = ` WHERE ($1::text IS NULL OR status = $1)
		AND ($2::timestamptz IS NULL OR created_at >= $2)
		AND ($3::timestamptz IS NULL OR created_at < $3)`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders` + adminFilterSQL +
		` ORDER BY created_at DESC, id LIMIT $4 OFFSET $5`

	countOrdersSQL = `SELECT COUNT(*) FROM orders` + adminFilterSQL

	listOrderItemsSQL = `SELECT id, order_id, product_id, product_name, size_id, size_name, quantity, unit_price
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`

	// Compare-and-set on the current status.
	updateOrderStatusSQL = `UPDATE orders SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	countOrdersByStatusSQL = `SELECT status, COUNT(*), COALESCE(SUM(total), 0) FROM orders GROUP BY status`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts the order and its items atomically.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	return atomically(ctx, r.pool, func(q querier) error {
		_, err := q.Exec(ctx, createOrderSQL,
			o.ID, o.CustomerID, string(o.Status), o.Subtotal, o.Discount, o.DeliveryFee, o.Total,
			o.DeliveryAddress, o.Phone, o.Notes, o.CouponID, o.CouponCode, o.CreatedAt, o.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("creating order %q: %w", o.ID, err)
		}

		batch := &pgx.Batch{}
		for i, it := range o.Items {
			batch.Queue(createOrderItemSQL,
				it.ID, o.ID, i, it.ProductID, it.ProductName, it.SizeID, it.SizeName, it.Quantity, it.UnitPrice,
			)
		}
		if err := q.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("creating items for order %q: %w", o.ID, err)
		}
		return nil
	})
}

// Get returns an order with its items.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	q := conn(ctx, r.pool)
	rows, err := q.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	orders := []order.Order{o}
	if err := r.attachItems(ctx, q, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// ListByCustomer returns one page of a customer's orders, newest first.
func (r *OrderRepository) ListByCustomer(
	ctx context.Context,
	customerID string,
	status *order.Status,
	p paging.Params,
) ([]order.Order, int, error) {
	st := statusArg(status)
	return r.list(ctx,
		countCustomerOrdersSQL, []any{customerID, st},
		listCustomerOrdersSQL, []any{customerID, st, p.Limit, p.Offset()},
	)
}

// List returns one page of all orders in an optional status and
// [from, to) creation window.
func (r *OrderRepository) List(
	ctx context.Context,
	status *order.Status,
	from, to *time.Time,
	p paging.Params,
) ([]order.Order, int, error) {
	st := statusArg(status)
	return r.list(ctx,
		countOrdersSQL, []any{st, from, to},
		listOrdersSQL, []any{st, from, to, p.Limit, p.Offset()},
	)
}

func (r *OrderRepository) list(ctx context.Context, countSQL string, countArgs []any, listSQL string, listArgs []any) ([]order.Order, int, error) {
	q := conn(ctx, r.pool)

	var total int
	if err := q.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting orders: %w", err)
	}

	rows, err := q.Query(ctx, listSQL, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders: %w", err)
	}
	if err := r.attachItems(ctx, q, orders); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// UpdateStatus moves the order from one status to another. It returns
// order.ErrConcurrentUpdate when the stored status is no longer from.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status, at time.Time) error {
	q := conn(ctx, r.pool)
	tag, err := q.Exec(ctx, updateOrderStatusSQL, id, string(from), string(to), at)
	if err != nil {
		return fmt.Errorf("updating status of order %q: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := q.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking order %q: %w", id, err)
	}
	if !exists {
		return order.ErrNotFound
	}
	return order.ErrConcurrentUpdate
}

// CountByStatus returns order counts per status and the revenue of
// delivered orders.
func (r *OrderRepository) CountByStatus(ctx context.Context) (map[order.Status]int, decimal.Decimal, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, countOrdersByStatusSQL)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("counting orders by status: %w", err)
	}
	defer rows.Close()

	var (
		counts  = make(map[order.Status]int)
		revenue = decimal.Zero
		status  string
		n       int
		sum     decimal.Decimal
	)
	_, err = pgx.ForEachRow(rows, []any{&status, &n, &sum}, func() error {
		counts[order.Status(status)] = n
		if order.Status(status) == order.StatusDelivered {
			revenue = sum
		}
		return nil
	})
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("counting orders by status: %w", err)
	}
	return counts, revenue, nil
}

func (r *OrderRepository) attachItems(ctx context.Context, q querier, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	rows, err := q.Query(ctx, listOrderItemsSQL, ids)
	if err != nil {
		return fmt.Errorf("listing order items: %w", err)
	}
	defer rows.Close()

	var (
		it      order.Item
		orderID string
	)
	_, err = pgx.ForEachRow(rows,
		[]any{&it.ID, &orderID, &it.ProductID, &it.ProductName, &it.SizeID, &it.SizeName, &it.Quantity, &it.UnitPrice},
		func() error {
			i := index[orderID]
			orders[i].Items = append(orders[i].Items, it)
			return nil
		},
	)
	if err != nil {
		return fmt.Errorf("listing order items: %w", err)
	}
	return nil
}

func statusArg(s *order.Status) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(
		&o.ID, &o.CustomerID, &status, &o.Subtotal, &o.Discount, &o.DeliveryFee, &o.Total,
		&o.DeliveryAddress, &o.Phone, &o.Notes, &o.CouponID, &o.CouponCode, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	return o, err
}
