package memory

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/pricing"
	"retailpos/backend/internal/store"
)

func (s *Store) CreateOrder(_ context.Context, actor domain.Actor, req domain.CreateOrderRequest) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	branch, ok := s.branches[req.BranchID]
	if !ok || branch.ShopID != actor.ShopID {
		return nil, fmt.Errorf("%w: branch %s", store.ErrNotFound, req.BranchID)
	}
	if scope := actor.BranchScope(); scope != "" && req.BranchID != scope {
		return nil, store.ErrForbidden
	}
	st, ok := s.stores[req.StoreID]
	if !ok || st.BranchID != req.BranchID {
		return nil, fmt.Errorf("%w: store %s", store.ErrNotFound, req.StoreID)
	}

	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: order needs at least one item", store.ErrInvalidInput)
	}
	status := domain.StatusPending
	if req.Status != "" {
		parsed, valid := domain.ParseStatus(req.Status)
		if !valid {
			return nil, fmt.Errorf("%w: status %q", store.ErrInvalidInput, req.Status)
		}
		status = parsed
	}
	pending := status == domain.StatusPending

	for _, item := range req.Items {
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity must be positive", store.ErrInvalidInput)
		}
		if item.Discount < 0 || item.Discount > 100 {
			return nil, fmt.Errorf("%w: item discount out of range", store.ErrInvalidInput)
		}
	}
	if req.Discount < 0 || req.Discount > 100 {
		return nil, fmt.Errorf("%w: discount out of range", store.ErrInvalidInput)
	}

	if !pending {
		if err := s.validateItemsLocked(actor.ShopID, req.Items); err != nil {
			return nil, err
		}
	}

	rate := 1.0
	if req.CurrencyID != "" {
		currency, ok := s.currencies[req.CurrencyID]
		if !ok || currency.ShopID != actor.ShopID {
			return nil, fmt.Errorf("%w: currency %s", store.ErrNotFound, req.CurrencyID)
		}
		rate = currency.ExchangeRate
	}

	priceItems := make([]pricing.Item, 0, len(req.Items))
	for _, item := range req.Items {
		percents := make([]float64, 0, len(item.TaxRateIDs))
		for _, id := range item.TaxRateIDs {
			taxRate, ok := s.taxRates[id]
			if !ok || taxRate.ShopID != actor.ShopID {
				return nil, fmt.Errorf("%w: tax rate %s", store.ErrNotFound, id)
			}
			percents = append(percents, taxRate.Percent)
		}
		priceItems = append(priceItems, pricing.Item{
			ProductID:       item.ProductID,
			UnitPrice:       item.UnitPrice,
			Quantity:        item.Quantity,
			DiscountPercent: item.Discount,
			TaxRatePercents: percents,
		})
	}

	var customer *domain.Customer
	if req.CustomerID != "" {
		c, ok := s.customers[req.CustomerID]
		if !ok || c.ShopID != actor.ShopID {
			return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, req.CustomerID)
		}
		customer = &c
	}

	in := pricing.Input{
		Items:                priceItems,
		OrderDiscountPercent: req.Discount,
		ExchangeRate:         rate,
		TaxTotalOverride:     req.TaxTotal,
		Pending:              pending,
		RequestedPoints:      req.UseLoyaltyPoints,
		RequestedWallet:      req.EwalletAmount,
	}
	if customer != nil {
		in.LoyaltyPoints = customer.LoyaltyPoints
		in.EwalletBalance = customer.EwalletBalance
	}
	res := pricing.Calculate(in)

	if !pending {
		paid := 0.0
		for _, p := range req.Payments {
			method, ok := s.paymentMethods[p.PaymentMethodID]
			if !ok || method.ShopID != actor.ShopID || !method.Active {
				return nil, fmt.Errorf("%w: payment method %s", store.ErrNotFound, p.PaymentMethodID)
			}
			if p.Amount < 0 {
				return nil, fmt.Errorf("%w: payment amount must not be negative", store.ErrInvalidInput)
			}
			paid += p.Amount
		}
		if pricing.Round2(paid) < res.Total {
			return nil, fmt.Errorf("%w: paid %.2f of %.2f", store.ErrInsufficientPayment, paid, res.Total)
		}
	}

	now := time.Now().UTC()
	order := &domain.Order{
		ID:         uuid.NewString(),
		BranchID:   req.BranchID,
		StoreID:    req.StoreID,
		CustomerID: req.CustomerID,
		CurrencyID: req.CurrencyID,
		Total:      res.Total,
		Discount:   req.Discount,
		TaxTotal:   res.TaxTotal,
		Status:     status,
		IsOnline:   req.IsOnline,
		PickupTime: req.PickupTime,
		CreatedAt:  now,
	}
	for _, item := range req.Items {
		order.Items = append(order.Items, domain.OrderItem{
			OrderID:      order.ID,
			ProductID:    item.ProductID,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			Discount:     item.Discount,
			CustomerNote: item.CustomerNote,
		})
	}

	if !pending {
		s.applyStockLocked(order.Items, -1)
		if customer != nil {
			s.debitPointsLocked(customer.ID, res.PointsUsed)
			s.debitWalletLocked(customer.ID, res.WalletUsed)
			s.creditPointsLocked(customer.ID, pricing.PointsEarned(res.Total))
		}
		for _, p := range req.Payments {
			order.Payments = append(order.Payments, domain.OrderPayment{
				OrderID:         order.ID,
				PaymentMethodID: p.PaymentMethodID,
				Amount:          pricing.Round2(p.Amount),
			})
		}
	}

	s.orders[order.ID] = order
	s.appendStatusLogLocked(order.ID, status, actor.Username)
	s.appendAuditLogLocked(orderAudit(actor, "order.create", order.ID, fmt.Sprintf("total=%.2f status=%s", order.Total, status)))

	return cloneOrder(order), nil
}

func (s *Store) GetOrder(_ context.Context, actor domain.Actor, orderID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, err := s.findOrderLocked(actor, orderID)
	if err != nil {
		return nil, err
	}
	detailed := cloneOrder(order)
	detailed.StatusLogs = append(detailed.StatusLogs, s.statusLogs[order.ID]...)
	return detailed, nil
}

func (s *Store) ListOrders(_ context.Context, actor domain.Actor, filter domain.OrderListFilter) ([]domain.Order, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branchID := actor.BranchScope()
	if branchID == "" {
		branchID = filter.BranchID
	}

	matched := make([]domain.Order, 0, len(s.orders))
	for _, order := range s.orders {
		branch, ok := s.branches[order.BranchID]
		if !ok || branch.ShopID != actor.ShopID {
			continue
		}
		if branchID != "" && order.BranchID != branchID {
			continue
		}
		if filter.Status != "" && string(order.Status) != filter.Status {
			continue
		}
		if !filter.From.IsZero() && order.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && order.CreatedAt.After(filter.To) {
			continue
		}
		matched = append(matched, *cloneOrder(order))
	}
	slices.SortFunc(matched, func(a, b domain.Order) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})

	total := len(matched)
	page, perPage := normalizePage(filter.Page, filter.PerPage)
	start := (page - 1) * perPage
	if start >= total {
		return []domain.Order{}, total, nil
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *Store) RefundOrder(_ context.Context, actor domain.Actor, orderID string, req domain.RefundOrderRequest) (*domain.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, err := s.findOrderLocked(actor, orderID)
	if err != nil {
		return nil, err
	}
	amount := pricing.Round2(req.Amount)
	if amount <= 0 || amount > order.Total {
		return nil, fmt.Errorf("%w: refund amount must be positive and not exceed the order total", store.ErrInvalidInput)
	}
	if order.IsRefunded || order.Status == domain.StatusCancelled {
		return nil, fmt.Errorf("%w: order already reversed", store.ErrInvalidTransition)
	}

	if order.Status != domain.StatusPending {
		s.applyStockLocked(order.Items, 1)
		if order.CustomerID != "" {
			s.debitPointsLocked(order.CustomerID, int(math.Floor(amount)))
		}
	}
	if req.RefundToEwallet && order.CustomerID != "" {
		s.creditWalletLocked(order.CustomerID, amount)
	}

	order.Status = domain.StatusCancelled
	order.IsRefunded = true

	refund := domain.Refund{
		ID:        uuid.NewString(),
		OrderID:   order.ID,
		Amount:    amount,
		Reason:    req.Reason,
		CreatedAt: time.Now().UTC(),
	}
	s.refunds[refund.ID] = refund
	s.appendStatusLogLocked(order.ID, domain.StatusCancelled, actor.Username)
	s.appendAuditLogLocked(orderAudit(actor, "order.refund", order.ID, fmt.Sprintf("amount=%.2f reason=%s", amount, req.Reason)))

	return &refund, nil
}

func (s *Store) CancelOrder(_ context.Context, actor domain.Actor, orderID string, reason string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, err := s.findOrderLocked(actor, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.Cancellable() {
		return nil, fmt.Errorf("%w: cannot cancel order in status %s", store.ErrInvalidTransition, order.Status)
	}

	if order.Status != domain.StatusPending {
		s.applyStockLocked(order.Items, 1)
		if order.CustomerID != "" {
			s.debitPointsLocked(order.CustomerID, int(math.Floor(order.Total)))
		}
	}
	if reason != "" {
		refund := domain.Refund{
			ID:        uuid.NewString(),
			OrderID:   order.ID,
			Amount:    order.Total,
			Reason:    reason,
			CreatedAt: time.Now().UTC(),
		}
		s.refunds[refund.ID] = refund
	}

	order.Status = domain.StatusCancelled
	s.appendStatusLogLocked(order.ID, domain.StatusCancelled, actor.Username)
	s.appendAuditLogLocked(orderAudit(actor, "order.cancel", order.ID, "reason="+reason))

	return cloneOrder(order), nil
}

func (s *Store) MarkOrderPrepared(_ context.Context, actor domain.Actor, orderID string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, err := s.findOrderLocked(actor, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsOnline || !domain.CanTransition(order.Status, domain.StatusPrepared) {
		return nil, fmt.Errorf("%w: order not eligible to be marked prepared", store.ErrInvalidTransition)
	}

	order.Status = domain.StatusPrepared
	s.appendStatusLogLocked(order.ID, domain.StatusPrepared, actor.Username)
	s.appendAuditLogLocked(orderAudit(actor, "order.prepared", order.ID, ""))

	return cloneOrder(order), nil
}

func (s *Store) PickupOrder(_ context.Context, actor domain.Actor, orderID string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, err := s.findOrderLocked(actor, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsOnline || !domain.CanTransition(order.Status, domain.StatusCompleted) {
		return nil, fmt.Errorf("%w: order not eligible for pickup", store.ErrInvalidTransition)
	}

	now := time.Now().UTC()
	order.Status = domain.StatusCompleted
	order.PickupTime = &now
	s.appendStatusLogLocked(order.ID, domain.StatusCompleted, actor.Username)
	s.appendAuditLogLocked(orderAudit(actor, "order.pickup", order.ID, ""))

	return cloneOrder(order), nil
}

func (s *Store) DeleteOrder(_ context.Context, actor domain.Actor, orderID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, err := s.findOrderLocked(actor, orderID)
	if err != nil {
		return err
	}
	if !order.Status.Deletable() {
		return fmt.Errorf("%w: completed orders cannot be deleted", store.ErrInvalidTransition)
	}

	// Cancelled orders already had their stock and points reversed.
	if order.Status != domain.StatusPending && order.Status != domain.StatusCancelled {
		s.applyStockLocked(order.Items, 1)
		if order.CustomerID != "" {
			s.debitPointsLocked(order.CustomerID, int(math.Floor(order.Total)))
		}
	}

	s.appendAuditLogLocked(orderAudit(actor, "order.delete", order.ID, "reason="+reason))
	for id, refund := range s.refunds {
		if refund.OrderID == order.ID {
			delete(s.refunds, id)
		}
	}
	delete(s.statusLogs, order.ID)
	delete(s.orders, order.ID)
	return nil
}

func (s *Store) UpdateOrderStatus(_ context.Context, actor domain.Actor, orderID string, status domain.Status) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, err := s.findOrderLocked(actor, orderID)
	if err != nil {
		return nil, err
	}

	order.Status = status
	s.appendStatusLogLocked(order.ID, status, actor.Username)
	s.appendAuditLogLocked(orderAudit(actor, "order.status", order.ID, "status="+string(status)))

	return cloneOrder(order), nil
}

// findOrderLocked resolves an order within the actor's shop and branch scope.
// Callers must hold the mutex.
func (s *Store) findOrderLocked(actor domain.Actor, orderID string) (*domain.Order, error) {
	order, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, orderID)
	}
	branch, ok := s.branches[order.BranchID]
	if !ok || branch.ShopID != actor.ShopID {
		return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, orderID)
	}
	if scope := actor.BranchScope(); scope != "" && order.BranchID != scope {
		return nil, store.ErrForbidden
	}
	return order, nil
}

// validateItemsLocked checks stock against the summed quantity per product, so
// repeated line items for one product cannot each pass against the same
// snapshot.
func (s *Store) validateItemsLocked(shopID string, items []domain.OrderItemInput) error {
	needed := make(map[string]int, len(items))
	for _, item := range items {
		product, ok := s.products[item.ProductID]
		if !ok || product.ShopID != shopID || !product.Active {
			return fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
		if pricing.Round2(product.Price) != pricing.Round2(item.UnitPrice) {
			return fmt.Errorf("%w: product %s is priced %.2f", store.ErrPriceMismatch, product.Name, product.Price)
		}
		needed[item.ProductID] += item.Quantity
	}
	for id, qty := range needed {
		product := s.products[id]
		if product.Stock < qty {
			return fmt.Errorf("%w: product %s has %d left", store.ErrInsufficientStock, product.Name, product.Stock)
		}
	}
	return nil
}

// applyStockLocked shifts stock by direction (-1 consume, +1 restore) for all
// items. Validation must already have happened for the consume direction; a
// restore puts back exactly what a consume took out.
func (s *Store) applyStockLocked(items []domain.OrderItem, direction int) {
	for _, item := range items {
		product, ok := s.products[item.ProductID]
		if !ok {
			continue
		}
		product.Stock += direction * item.Quantity
		s.products[product.ID] = product
	}
}

func (s *Store) debitPointsLocked(customerID string, points int) {
	if points <= 0 {
		return
	}
	customer, ok := s.customers[customerID]
	if !ok {
		return
	}
	customer.LoyaltyPoints -= points
	if customer.LoyaltyPoints < 0 {
		customer.LoyaltyPoints = 0
	}
	s.customers[customerID] = customer
}

func (s *Store) creditPointsLocked(customerID string, points int) {
	if points <= 0 {
		return
	}
	customer, ok := s.customers[customerID]
	if !ok {
		return
	}
	customer.LoyaltyPoints += points
	s.customers[customerID] = customer
}

func (s *Store) debitWalletLocked(customerID string, amount float64) {
	if amount <= 0 {
		return
	}
	customer, ok := s.customers[customerID]
	if !ok {
		return
	}
	customer.EwalletBalance = pricing.Round2(customer.EwalletBalance - amount)
	if customer.EwalletBalance < 0 {
		customer.EwalletBalance = 0
	}
	s.customers[customerID] = customer
}

func (s *Store) creditWalletLocked(customerID string, amount float64) {
	if amount <= 0 {
		return
	}
	customer, ok := s.customers[customerID]
	if !ok {
		return
	}
	customer.EwalletBalance = pricing.Round2(customer.EwalletBalance + amount)
	s.customers[customerID] = customer
}

func (s *Store) appendStatusLogLocked(orderID string, status domain.Status, actor string) {
	s.statusLogs[orderID] = append(s.statusLogs[orderID], domain.OrderStatusLog{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Status:    status,
		Actor:     actor,
		CreatedAt: time.Now().UTC(),
	})
}

func orderAudit(actor domain.Actor, action, orderID, detail string) domain.AuditLog {
	return domain.AuditLog{
		ShopID:        actor.ShopID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    "order",
		EntityID:      orderID,
		Detail:        detail,
	}
}

func cloneOrder(order *domain.Order) *domain.Order {
	copied := *order
	copied.Items = append([]domain.OrderItem(nil), order.Items...)
	copied.Payments = append([]domain.OrderPayment(nil), order.Payments...)
	copied.StatusLogs = append([]domain.OrderStatusLog(nil), order.StatusLogs...)
	return &copied
}

func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage
}
