package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"retailpos/backend/internal/cache"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const (
	maxTxAttempts = 3
	retryBaseWait = 100 * time.Millisecond
	orderCacheTTL = 30 * time.Second
)

type Service struct {
	repo   store.Repository
	orders cache.OrderCache
}

func New(repo store.Repository, orders cache.OrderCache) *Service {
	if orders == nil {
		orders = cache.NoopOrderCache{}
	}
	return &Service{repo: repo, orders: orders}
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("%w: no authenticated principal", store.ErrForbidden)
	}
	return actor, nil
}

// retryTransient re-runs a unit of work on transient lock conflicts, waiting
// 100ms, then 200ms, between the three attempts. Any other error is surfaced
// immediately.
func retryTransient[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var out T
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		out, err = fn()
		if err == nil || !errors.Is(err, store.ErrTransientConflict) {
			return out, err
		}
		if attempt == maxTxAttempts {
			break
		}
		log.Printf("[service] WARN: transient conflict, retrying (attempt %d): %v", attempt, err)
		select {
		case <-time.After(time.Duration(attempt) * retryBaseWait):
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
	return out, err
}

func (s *Service) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.CreateOrderResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: order needs at least one item", store.ErrInvalidInput)
	}
	if req.StoreID == "" || req.BranchID == "" {
		return nil, fmt.Errorf("%w: store_id and branch_id are required", store.ErrInvalidInput)
	}

	order, err := retryTransient(ctx, func() (*domain.Order, error) {
		return s.repo.CreateOrder(ctx, actor, req)
	})
	if err != nil {
		return nil, err
	}
	return &domain.CreateOrderResponse{OrderID: order.ID, TaxTotal: order.TaxTotal}, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", store.ErrInvalidInput)
	}

	if cached, hit, cacheErr := s.orders.Get(ctx, orderID); cacheErr != nil {
		log.Printf("[service] WARN: order cache read failed: %v", cacheErr)
	} else if hit {
		// A snapshot is only served after re-checking the actor's scope:
		// the cache is keyed by order id alone.
		if _, err := s.repo.GetBranch(ctx, actor.ShopID, cached.BranchID); err == nil {
			if scope := actor.BranchScope(); scope == "" || cached.BranchID == scope {
				return cached, nil
			}
			return nil, store.ErrForbidden
		}
	}

	order, err := s.repo.GetOrder(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	if cacheErr := s.orders.Set(ctx, orderID, order, orderCacheTTL); cacheErr != nil {
		log.Printf("[service] WARN: order cache write failed: %v", cacheErr)
	}
	return order, nil
}

func (s *Service) ListOrders(ctx context.Context, filter domain.OrderListFilter) (*domain.OrderListResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if filter.Status != "" {
		if _, valid := domain.ParseStatus(filter.Status); !valid {
			return nil, fmt.Errorf("%w: status %q", store.ErrInvalidInput, filter.Status)
		}
	}

	orders, total, err := s.repo.ListOrders(ctx, actor, filter)
	if err != nil {
		return nil, err
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage < 1 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	return &domain.OrderListResponse{
		Orders:     orders,
		Pagination: domain.Pagination{Page: page, PerPage: perPage, Total: total},
	}, nil
}

func (s *Service) RefundOrder(ctx context.Context, orderID string, req domain.RefundOrderRequest) (*domain.Refund, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", store.ErrInvalidInput)
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: refund amount must be positive", store.ErrInvalidInput)
	}

	refund, err := s.repo.RefundOrder(ctx, actor, orderID, req)
	if err != nil {
		return nil, err
	}
	s.invalidateOrder(ctx, orderID)
	return refund, nil
}

func (s *Service) CancelOrder(ctx context.Context, orderID string, reason string) (*domain.Order, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", store.ErrInvalidInput)
	}

	order, err := s.repo.CancelOrder(ctx, actor, orderID, reason)
	if err != nil {
		return nil, err
	}
	s.invalidateOrder(ctx, orderID)
	return order, nil
}

func (s *Service) MarkPrepared(ctx context.Context, orderID string) (*domain.Order, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", store.ErrInvalidInput)
	}

	order, err := s.repo.MarkOrderPrepared(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	s.invalidateOrder(ctx, orderID)
	return order, nil
}

func (s *Service) PickupOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", store.ErrInvalidInput)
	}

	order, err := retryTransient(ctx, func() (*domain.Order, error) {
		return s.repo.PickupOrder(ctx, actor, orderID)
	})
	if err != nil {
		return nil, err
	}
	s.invalidateOrder(ctx, orderID)
	return order, nil
}

func (s *Service) DeleteOrder(ctx context.Context, orderID string, reason string) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return err
	}
	if !actor.Privileged() {
		return fmt.Errorf("%w: only admin or shop owner may delete orders", store.ErrForbidden)
	}
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", store.ErrInvalidInput)
	}

	if err := s.repo.DeleteOrder(ctx, actor, orderID, reason); err != nil {
		return err
	}
	s.invalidateOrder(ctx, orderID)
	return nil
}

func (s *Service) UpdateOrderStatus(ctx context.Context, orderID string, rawStatus string) (*domain.Order, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if !actor.Privileged() {
		return nil, fmt.Errorf("%w: only admin or shop owner may override order status", store.ErrForbidden)
	}
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", store.ErrInvalidInput)
	}
	status, valid := domain.ParseStatus(rawStatus)
	if !valid {
		return nil, fmt.Errorf("%w: status %q", store.ErrInvalidInput, rawStatus)
	}

	order, err := s.repo.UpdateOrderStatus(ctx, actor, orderID, status)
	if err != nil {
		return nil, err
	}
	s.invalidateOrder(ctx, orderID)
	return order, nil
}

func (s *Service) invalidateOrder(ctx context.Context, orderID string) {
	if err := s.orders.Invalidate(ctx, orderID); err != nil {
		log.Printf("[service] WARN: order cache invalidation failed for %s: %v", orderID, err)
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ShopID:        actor.ShopID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[service] WARN: failed to write audit log action=%s: %v", action, err)
	}
}
