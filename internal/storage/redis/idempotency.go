// Package redis stores idempotency keys for order creation in Redis.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	goredis "github.com/redis/go-redis/v9"
)

const (
	keyPrefix    = "pizzaria:idempotency:"
	pendingValue = "\x00pending"
)

// ErrInProgress is returned when another request holds the key and has not
// finished yet.
var ErrInProgress = errors.New("request with this idempotency key is in progress")

// IdempotencyStore maps client-supplied idempotency keys to the order they
// created. A key is first reserved, then completed with the order id or
// released on failure.
type IdempotencyStore struct {
	client goredis.Cmdable
	ttl    time.Duration
}

// NewIdempotencyStore returns a store whose keys expire after ttl.
func NewIdempotencyStore(client goredis.Cmdable, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{client: client, ttl: ttl}
}

// Reserve claims key. It returns claimed=true when the caller now owns the
// key, or the stored order id when a previous request completed.
func (s *IdempotencyStore) Reserve(ctx context.Context, key string) (orderID string, claimed bool, err error) {
	ok, err := s.client.SetNX(ctx, keyPrefix+key, pendingValue, s.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("reserving idempotency key: %w", err)
	}
	if ok {
		return "", true, nil
	}

	v, err := s.client.Get(ctx, keyPrefix+key).Result()
	switch {
	case errors.Is(err, goredis.Nil):
		// Expired between SETNX and GET; try once more.
		return s.Reserve(ctx, key)
	case err != nil:
		return "", false, fmt.Errorf("reading idempotency key: %w", err)
	case v == pendingValue:
		return "", false, ErrInProgress
	default:
		return v, false, nil
	}
}

// Complete records the order created under key.
func (s *IdempotencyStore) Complete(ctx context.Context, key, orderID string) error {
	if err := s.client.Set(ctx, keyPrefix+key, orderID, s.ttl).Err(); err != nil {
		return fmt.Errorf("completing idempotency key: %w", err)
	}
	return nil
}

// Release drops a reservation so the client may retry.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("releasing idempotency key: %w", err)
	}
	return nil
}

// Ping checks connectivity for the readiness check.
func (s *IdempotencyStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
