package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"retailpos/backend/internal/cache"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/store/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	return New(repo, cache.NoopOrderCache{}), repo
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		Username: "admin",
		Role:     domain.RoleAdmin,
		ShopID:   "shop-1",
	})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		Username: "cashier",
		Role:     domain.RoleCashier,
		ShopID:   "shop-1",
		BranchID: "branch-1",
	})
}

func seedProduct(t *testing.T, repo *memory.Store, price float64, stock int) domain.Product {
	t.Helper()
	created, err := repo.CreateProduct(context.Background(), domain.Product{
		ShopID: "shop-1",
		Name:   "Test Widget",
		Price:  price,
		Stock:  stock,
		Active: true,
	})
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return *created
}

func widgetOrder(productID string, qty int, price float64) domain.CreateOrderRequest {
	return domain.CreateOrderRequest{
		StoreID:    "store-1",
		BranchID:   "branch-1",
		CurrencyID: "cur-usd",
		Status:     "completed",
		Items: []domain.OrderItemInput{
			{ProductID: productID, Quantity: qty, UnitPrice: price},
		},
		Payments: []domain.PaymentInput{
			{PaymentMethodID: "pm-cash", Amount: price * float64(qty)},
		},
	}
}

func TestCreateOrderConsumesStockAndComputesTotal(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := adminCtx()
	product := seedProduct(t, repo, 10.00, 5)

	resp, err := svc.CreateOrder(ctx, widgetOrder(product.ID, 2, 10.00))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	order, err := svc.GetOrder(ctx, resp.OrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Total != 20.00 {
		t.Fatalf("expected total 20.00, got %.2f", order.Total)
	}
	if order.Status != domain.StatusCompleted {
		t.Fatalf("expected completed status, got %s", order.Status)
	}

	after, err := repo.GetProduct(ctx, "shop-1", product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if after.Stock != 3 {
		t.Fatalf("expected stock 3 after sale of 2, got %d", after.Stock)
	}
}

func TestDeleteOrderRestoresStock(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := adminCtx()
	product := seedProduct(t, repo, 10.00, 5)

	req := widgetOrder(product.ID, 2, 10.00)
	req.Status = "preparing"
	resp, err := svc.CreateOrder(ctx, req)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if err := svc.DeleteOrder(ctx, resp.OrderID, "test cleanup"); err != nil {
		t.Fatalf("delete order: %v", err)
	}

	after, err := repo.GetProduct(ctx, "shop-1", product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if after.Stock != 5 {
		t.Fatalf("expected stock restored to 5, got %d", after.Stock)
	}
	if _, err := svc.GetOrder(ctx, resp.OrderID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected deleted order to be gone, got %v", err)
	}
}

func TestDeleteOrderRequiresPrivilegedRole(t *testing.T) {
	svc, repo := newTestService(t)
	product := seedProduct(t, repo, 10.00, 5)

	resp, err := svc.CreateOrder(cashierCtx(), widgetOrder(product.ID, 1, 10.00))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	err = svc.DeleteOrder(cashierCtx(), resp.OrderID, "")
	if !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected forbidden for cashier delete, got %v", err)
	}
}

func TestLoyaltyRedemptionCappedByBalance(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := adminCtx()
	product := seedProduct(t, repo, 10.00, 100)

	// cust-1 holds 50 points; requesting 200 must cap at the balance, worth
	// 0.50 off a 100.00 order.
	req := widgetOrder(product.ID, 10, 10.00)
	req.CustomerID = "cust-1"
	req.UseLoyaltyPoints = 200
	req.Payments = []domain.PaymentInput{{PaymentMethodID: "pm-cash", Amount: 99.50}}

	resp, err := svc.CreateOrder(ctx, req)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	order, err := svc.GetOrder(ctx, resp.OrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Total != 99.50 {
		t.Fatalf("expected total 99.50, got %.2f", order.Total)
	}

	customer, err := svc.GetCustomer(ctx, "cust-1")
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	// 50 points spent, then floor(99.50) = 99 earned.
	if customer.LoyaltyPoints != 99 {
		t.Fatalf("expected 99 loyalty points, got %d", customer.LoyaltyPoints)
	}
	if customer.EwalletBalance != 25.00 {
		t.Fatalf("expected untouched wallet balance 25.00, got %.2f", customer.EwalletBalance)
	}
}

func TestCancelCompletedOrderRejected(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := adminCtx()
	product := seedProduct(t, repo, 10.00, 5)

	resp, err := svc.CreateOrder(ctx, widgetOrder(product.ID, 1, 10.00))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	_, err = svc.CancelOrder(ctx, resp.OrderID, "too late")
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestCancelPreparingOrderRestoresStock(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := adminCtx()
	product := seedProduct(t, repo, 10.00, 5)

	req := widgetOrder(product.ID, 2, 10.00)
	req.Status = "preparing"
	resp, err := svc.CreateOrder(ctx, req)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	order, err := svc.CancelOrder(ctx, resp.OrderID, "customer left")
	if err != nil {
		t.Fatalf("cancel order: %v", err)
	}
	if order.Status != domain.StatusCancelled {
		t.Fatalf("expected cancelled status, got %s", order.Status)
	}

	after, err := repo.GetProduct(ctx, "shop-1", product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if after.Stock != 5 {
		t.Fatalf("expected stock restored to 5, got %d", after.Stock)
	}
}

func TestConcurrentPickupCompletesExactlyOnce(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := adminCtx()
	product := seedProduct(t, repo, 10.00, 5)

	req := widgetOrder(product.ID, 1, 10.00)
	req.Status = "prepared"
	req.IsOnline = true
	resp, err := svc.CreateOrder(ctx, req)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.PickupOrder(ctx, resp.OrderID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded, rejected := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrInvalidTransition):
			rejected++
		default:
			t.Fatalf("unexpected pickup error: %v", err)
		}
	}
	if succeeded != 1 || rejected != 1 {
		t.Fatalf("expected exactly one successful pickup, got %d success / %d rejected", succeeded, rejected)
	}

	order, err := svc.GetOrder(ctx, resp.OrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Status != domain.StatusCompleted || order.PickupTime == nil {
		t.Fatalf("expected completed order with pickup time, got status=%s pickup=%v", order.Status, order.PickupTime)
	}
}

func TestRefundRejectsExcessAmountWithoutSideEffects(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := adminCtx()
	product := seedProduct(t, repo, 10.00, 5)

	resp, err := svc.CreateOrder(ctx, widgetOrder(product.ID, 2, 10.00))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	_, err = svc.RefundOrder(ctx, resp.OrderID, domain.RefundOrderRequest{Amount: 25.00, Reason: "oops"})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for over-refund, got %v", err)
	}

	after, err := repo.GetProduct(ctx, "shop-1", product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if after.Stock != 3 {
		t.Fatalf("expected stock untouched at 3 after failed refund, got %d", after.Stock)
	}
	order, err := svc.GetOrder(ctx, resp.OrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.IsRefunded || order.Status != domain.StatusCompleted {
		t.Fatalf("expected order untouched, got status=%s refunded=%t", order.Status, order.IsRefunded)
	}
}

func TestRefundRestoresStockAndBlocksSecondRefund(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := adminCtx()
	product := seedProduct(t, repo, 10.00, 5)

	req := widgetOrder(product.ID, 2, 10.00)
	req.CustomerID = "cust-2"
	resp, err := svc.CreateOrder(ctx, req)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	refund, err := svc.RefundOrder(ctx, resp.OrderID, domain.RefundOrderRequest{
		Amount:          20.00,
		Reason:          "damaged goods",
		RefundToEwallet: true,
	})
	if err != nil {
		t.Fatalf("refund order: %v", err)
	}
	if refund.Amount != 20.00 {
		t.Fatalf("expected refund amount 20.00, got %.2f", refund.Amount)
	}

	after, err := repo.GetProduct(ctx, "shop-1", product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if after.Stock != 5 {
		t.Fatalf("expected stock restored to 5, got %d", after.Stock)
	}
	customer, err := svc.GetCustomer(ctx, "cust-2")
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if customer.EwalletBalance != 20.00 {
		t.Fatalf("expected wallet credit of 20.00, got %.2f", customer.EwalletBalance)
	}
	// The 20 points earned on the sale are clawed back by the refund.
	if customer.LoyaltyPoints != 0 {
		t.Fatalf("expected points clawed back to 0, got %d", customer.LoyaltyPoints)
	}

	_, err = svc.RefundOrder(ctx, resp.OrderID, domain.RefundOrderRequest{Amount: 20.00, Reason: "again"})
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected second refund to be rejected, got %v", err)
	}
}

func TestPendingOrderSkipsStockAndRedemption(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := adminCtx()
	product := seedProduct(t, repo, 10.00, 5)

	req := widgetOrder(product.ID, 2, 10.00)
	req.Status = ""
	req.CustomerID = "cust-1"
	req.UseLoyaltyPoints = 50
	req.Payments = nil
	resp, err := svc.CreateOrder(ctx, req)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	order, err := svc.GetOrder(ctx, resp.OrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Status != domain.StatusPending {
		t.Fatalf("expected empty status to default to pending, got %s", order.Status)
	}
	if order.Total != 20.00 {
		t.Fatalf("expected total without redemption 20.00, got %.2f", order.Total)
	}

	after, err := repo.GetProduct(ctx, "shop-1", product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if after.Stock != 5 {
		t.Fatalf("expected pending order to leave stock at 5, got %d", after.Stock)
	}
	customer, err := svc.GetCustomer(ctx, "cust-1")
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if customer.LoyaltyPoints != 50 {
		t.Fatalf("expected untouched loyalty points 50, got %d", customer.LoyaltyPoints)
	}
}

func TestCreateOrderRejectsInsufficientStock(t *testing.T) {
	svc, repo := newTestService(t)
	product := seedProduct(t, repo, 10.00, 5)

	_, err := svc.CreateOrder(adminCtx(), widgetOrder(product.ID, 6, 10.00))
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
}

func TestCreateOrderSumsDuplicateLineItemsAgainstStock(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := adminCtx()
	product := seedProduct(t, repo, 10.00, 5)

	// Two lines of the same product must be validated against their sum, not
	// each against the same stock snapshot.
	req := widgetOrder(product.ID, 4, 10.00)
	req.Items = append(req.Items, domain.OrderItemInput{ProductID: product.ID, Quantity: 4, UnitPrice: 10.00})
	req.Payments = []domain.PaymentInput{{PaymentMethodID: "pm-cash", Amount: 80.00}}

	_, err := svc.CreateOrder(ctx, req)
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock for 4+4 of 5, got %v", err)
	}

	after, err := repo.GetProduct(ctx, "shop-1", product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if after.Stock != 5 {
		t.Fatalf("expected stock untouched at 5, got %d", after.Stock)
	}
}

func TestCancelRestoresStockAcrossDuplicateLineItems(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := adminCtx()
	product := seedProduct(t, repo, 10.00, 5)

	req := widgetOrder(product.ID, 2, 10.00)
	req.Status = "preparing"
	req.Items = append(req.Items, domain.OrderItemInput{ProductID: product.ID, Quantity: 3, UnitPrice: 10.00})
	req.Payments = []domain.PaymentInput{{PaymentMethodID: "pm-cash", Amount: 50.00}}

	resp, err := svc.CreateOrder(ctx, req)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	consumed, err := repo.GetProduct(ctx, "shop-1", product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if consumed.Stock != 0 {
		t.Fatalf("expected stock 0 after sale of 2+3, got %d", consumed.Stock)
	}

	if _, err := svc.CancelOrder(ctx, resp.OrderID, "customer left"); err != nil {
		t.Fatalf("cancel order: %v", err)
	}

	restored, err := repo.GetProduct(ctx, "shop-1", product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if restored.Stock != 5 {
		t.Fatalf("expected stock restored to exactly 5, got %d", restored.Stock)
	}
}

func TestCreateOrderRejectsPriceMismatch(t *testing.T) {
	svc, repo := newTestService(t)
	product := seedProduct(t, repo, 10.00, 5)

	_, err := svc.CreateOrder(adminCtx(), widgetOrder(product.ID, 1, 9.99))
	if !errors.Is(err, store.ErrPriceMismatch) {
		t.Fatalf("expected price mismatch, got %v", err)
	}
}

func TestCreateOrderRejectsInsufficientPayment(t *testing.T) {
	svc, repo := newTestService(t)
	product := seedProduct(t, repo, 10.00, 5)

	req := widgetOrder(product.ID, 2, 10.00)
	req.Payments = []domain.PaymentInput{{PaymentMethodID: "pm-cash", Amount: 19.99}}
	_, err := svc.CreateOrder(adminCtx(), req)
	if !errors.Is(err, store.ErrInsufficientPayment) {
		t.Fatalf("expected insufficient payment, got %v", err)
	}
}

func TestBranchScopeBlocksCashier(t *testing.T) {
	svc, repo := newTestService(t)
	product := seedProduct(t, repo, 10.00, 5)

	req := widgetOrder(product.ID, 1, 10.00)
	req.BranchID = "branch-2"
	req.StoreID = "store-2"
	_, err := svc.CreateOrder(cashierCtx(), req)
	if !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected forbidden for cross-branch create, got %v", err)
	}

	resp, err := svc.CreateOrder(adminCtx(), req)
	if err != nil {
		t.Fatalf("admin create on branch-2: %v", err)
	}
	if _, err := svc.GetOrder(cashierCtx(), resp.OrderID); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected forbidden for cross-branch read, got %v", err)
	}
}

func TestUpdateOrderStatusRequiresPrivilegedRole(t *testing.T) {
	svc, repo := newTestService(t)
	product := seedProduct(t, repo, 10.00, 5)

	resp, err := svc.CreateOrder(cashierCtx(), widgetOrder(product.ID, 1, 10.00))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	_, err = svc.UpdateOrderStatus(cashierCtx(), resp.OrderID, "cancelled")
	if !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected forbidden for cashier status override, got %v", err)
	}

	order, err := svc.UpdateOrderStatus(adminCtx(), resp.OrderID, "preparing")
	if err != nil {
		t.Fatalf("admin status override: %v", err)
	}
	if order.Status != domain.StatusPreparing {
		t.Fatalf("expected preparing, got %s", order.Status)
	}
}

func TestRetryTransientGivesUpAfterThreeAttempts(t *testing.T) {
	attempts := 0
	_, err := retryTransient(context.Background(), func() (struct{}, error) {
		attempts++
		return struct{}{}, store.ErrTransientConflict
	})
	if !errors.Is(err, store.ErrTransientConflict) {
		t.Fatalf("expected transient conflict after exhausted retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryTransientStopsOnSuccess(t *testing.T) {
	attempts := 0
	out, err := retryTransient(context.Background(), func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", store.ErrTransientConflict
		}
		return "done", nil
	})
	if err != nil || out != "done" {
		t.Fatalf("expected success on second attempt, got %q %v", out, err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

// recordingCache counts cache traffic so transition invalidation can be asserted.
type recordingCache struct {
	mu          sync.Mutex
	store       map[string]*domain.Order
	invalidated []string
}

func newRecordingCache() *recordingCache {
	return &recordingCache{store: make(map[string]*domain.Order)}
}

func (c *recordingCache) Get(_ context.Context, orderID string) (*domain.Order, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	order, ok := c.store[orderID]
	return order, ok, nil
}

func (c *recordingCache) Set(_ context.Context, orderID string, order *domain.Order, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[orderID] = order
	return nil
}

func (c *recordingCache) Invalidate(_ context.Context, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, orderID)
	c.invalidated = append(c.invalidated, orderID)
	return nil
}

func TestOrderCacheInvalidatedOnTransition(t *testing.T) {
	repo := memory.NewSeeded()
	orderCache := newRecordingCache()
	svc := New(repo, orderCache)
	ctx := adminCtx()
	product := seedProduct(t, repo, 10.00, 5)

	req := widgetOrder(product.ID, 1, 10.00)
	req.Status = "preparing"
	resp, err := svc.CreateOrder(ctx, req)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if _, err := svc.GetOrder(ctx, resp.OrderID); err != nil {
		t.Fatalf("get order: %v", err)
	}
	if _, ok := orderCache.store[resp.OrderID]; !ok {
		t.Fatalf("expected order snapshot to be cached after read")
	}

	if _, err := svc.CancelOrder(ctx, resp.OrderID, ""); err != nil {
		t.Fatalf("cancel order: %v", err)
	}
	if len(orderCache.invalidated) == 0 || orderCache.invalidated[len(orderCache.invalidated)-1] != resp.OrderID {
		t.Fatalf("expected cancel to invalidate the cached order, got %v", orderCache.invalidated)
	}
}
