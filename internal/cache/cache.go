package cache

import (
	"context"
	"time"

	"retailpos/backend/internal/domain"
)

// OrderCache holds short-lived order snapshots keyed by order id, so status
// polling does not hit the database on every request. Every state transition
// must invalidate the snapshot.
type OrderCache interface {
	Get(ctx context.Context, orderID string) (*domain.Order, bool, error)
	Set(ctx context.Context, orderID string, order *domain.Order, ttl time.Duration) error
	Invalidate(ctx context.Context, orderID string) error
}

type NoopOrderCache struct{}

func (NoopOrderCache) Get(_ context.Context, _ string) (*domain.Order, bool, error) {
	return nil, false, nil
}

func (NoopOrderCache) Set(_ context.Context, _ string, _ *domain.Order, _ time.Duration) error {
	return nil
}

func (NoopOrderCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
