package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/pricing"
	"retailpos/backend/internal/store"
)

// wrapDB converts raw database errors, tagging the retryable conflict class.
func wrapDB(err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return fmt.Errorf("%w: %v", store.ErrTransientConflict, err)
	}
	return err
}

func (s *Store) CreateOrder(ctx context.Context, actor domain.Actor, req domain.CreateOrderRequest) (*domain.Order, error) {
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
	if scope := actor.BranchScope(); scope != "" && req.BranchID != scope {
		return nil, store.ErrForbidden
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, wrapDB(err)
	}
	defer func() { _ = tx.Rollback() }()

	var branchID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM branches WHERE id = $1 AND shop_id = $2
	`, req.BranchID, actor.ShopID).Scan(&branchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: branch %s", store.ErrNotFound, req.BranchID)
		}
		return nil, wrapDB(err)
	}
	var storeID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM stores WHERE id = $1 AND branch_id = $2
	`, req.StoreID, req.BranchID).Scan(&storeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: store %s", store.ErrNotFound, req.StoreID)
		}
		return nil, wrapDB(err)
	}

	var productMap map[string]domain.Product
	if !pending {
		productMap, err = lockProducts(ctx, tx, actor.ShopID, req.Items)
		if err != nil {
			return nil, err
		}
		// Stock is checked against the summed quantity per product, so
		// repeated line items cannot each pass against the same snapshot.
		needed := make(map[string]int, len(req.Items))
		for _, item := range req.Items {
			product, exists := productMap[item.ProductID]
			if !exists {
				return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
			}
			if pricing.Round2(product.Price) != pricing.Round2(item.UnitPrice) {
				return nil, fmt.Errorf("%w: product %s is priced %.2f", store.ErrPriceMismatch, product.Name, product.Price)
			}
			needed[item.ProductID] += item.Quantity
		}
		for id, qty := range needed {
			product := productMap[id]
			if product.Stock < qty {
				return nil, fmt.Errorf("%w: product %s has %d left", store.ErrInsufficientStock, product.Name, product.Stock)
			}
		}
	}

	rate := 1.0
	if req.CurrencyID != "" {
		var stored sql.NullFloat64
		err = tx.QueryRowContext(ctx, `
			SELECT exchange_rate FROM currencies WHERE id = $1 AND shop_id = $2
		`, req.CurrencyID, actor.ShopID).Scan(&stored)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: currency %s", store.ErrNotFound, req.CurrencyID)
			}
			return nil, wrapDB(err)
		}
		if stored.Valid && stored.Float64 > 0 {
			rate = stored.Float64
		}
	}

	taxPercents, err := loadTaxPercents(ctx, tx, actor.ShopID, req.Items)
	if err != nil {
		return nil, err
	}
	priceItems := make([]pricing.Item, 0, len(req.Items))
	for _, item := range req.Items {
		percents := make([]float64, 0, len(item.TaxRateIDs))
		for _, id := range item.TaxRateIDs {
			percent, ok := taxPercents[id]
			if !ok {
				return nil, fmt.Errorf("%w: tax rate %s", store.ErrNotFound, id)
			}
			percents = append(percents, percent)
		}
		priceItems = append(priceItems, pricing.Item{
			ProductID:       item.ProductID,
			UnitPrice:       item.UnitPrice,
			Quantity:        item.Quantity,
			DiscountPercent: item.Discount,
			TaxRatePercents: percents,
		})
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
	if req.CustomerID != "" {
		// Row lock so no concurrent debit interleaves between this read and
		// the balance writes below.
		err = tx.QueryRowContext(ctx, `
			SELECT loyalty_points, ewallet_balance
			FROM customers
			WHERE id = $1 AND shop_id = $2
			FOR UPDATE
		`, req.CustomerID, actor.ShopID).Scan(&in.LoyaltyPoints, &in.EwalletBalance)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, req.CustomerID)
			}
			return nil, wrapDB(err)
		}
	}
	res := pricing.Calculate(in)

	if !pending {
		if err := validatePayments(ctx, tx, actor.ShopID, req.Payments, res.Total); err != nil {
			return nil, err
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
	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, branch_id, store_id, customer_id, currency_id, total, discount, tax_total, status, is_online, is_refunded, pickup_time, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,false,$11,$12)
	`, order.ID, order.BranchID, order.StoreID, nullIfEmpty(order.CustomerID), nullIfEmpty(order.CurrencyID),
		order.Total, order.Discount, order.TaxTotal, order.Status, order.IsOnline, nullTime(order.PickupTime), order.CreatedAt)
	if err != nil {
		return nil, wrapDB(err)
	}

	for _, item := range req.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, quantity, unit_price, discount, customer_note)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, order.ID, item.ProductID, item.Quantity, item.UnitPrice, item.Discount, nullIfEmpty(item.CustomerNote))
		if err != nil {
			return nil, wrapDB(err)
		}
		order.Items = append(order.Items, domain.OrderItem{
			OrderID:      order.ID,
			ProductID:    item.ProductID,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			Discount:     item.Discount,
			CustomerNote: item.CustomerNote,
		})
		if !pending {
			_, err = tx.ExecContext(ctx, `
				UPDATE products SET stock = stock - $1, updated_at = now() WHERE id = $2
			`, item.Quantity, item.ProductID)
			if err != nil {
				return nil, wrapDB(err)
			}
		}
	}

	if !pending {
		for _, p := range req.Payments {
			amount := pricing.Round2(p.Amount)
			_, err = tx.ExecContext(ctx, `
				INSERT INTO order_payments (order_id, payment_method_id, amount)
				VALUES ($1,$2,$3)
			`, order.ID, p.PaymentMethodID, amount)
			if err != nil {
				return nil, wrapDB(err)
			}
			order.Payments = append(order.Payments, domain.OrderPayment{
				OrderID:         order.ID,
				PaymentMethodID: p.PaymentMethodID,
				Amount:          amount,
			})
		}
		if req.CustomerID != "" {
			if err := debitPoints(ctx, tx, req.CustomerID, res.PointsUsed); err != nil {
				return nil, wrapDB(err)
			}
			if err := debitWallet(ctx, tx, req.CustomerID, res.WalletUsed); err != nil {
				return nil, wrapDB(err)
			}
			if err := creditPoints(ctx, tx, req.CustomerID, pricing.PointsEarned(res.Total)); err != nil {
				return nil, wrapDB(err)
			}
		}
	}

	if err := insertStatusLog(ctx, tx, order.ID, status, actor.Username); err != nil {
		return nil, wrapDB(err)
	}
	if err := insertAuditLog(ctx, tx, actor, "order.create", order.ID, fmt.Sprintf("total=%.2f status=%s", order.Total, status)); err != nil {
		return nil, wrapDB(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapDB(err)
	}
	return order, nil
}

func (s *Store) GetOrder(ctx context.Context, actor domain.Actor, orderID string) (*domain.Order, error) {
	order, err := s.queryOrder(ctx, s.db, actor, orderID, false)
	if err != nil {
		return nil, err
	}

	items, err := queryItems(ctx, s.db, []string{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]

	payments, err := queryPayments(ctx, s.db, []string{order.ID})
	if err != nil {
		return nil, err
	}
	order.Payments = payments[order.ID]

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, status, actor, created_at
		FROM order_status_logs
		WHERE order_id = $1
		ORDER BY created_at
	`, order.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var entry domain.OrderStatusLog
		if err := rows.Scan(&entry.ID, &entry.OrderID, &entry.Status, &entry.Actor, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		order.StatusLogs = append(order.StatusLogs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Store) ListOrders(ctx context.Context, actor domain.Actor, filter domain.OrderListFilter) ([]domain.Order, int, error) {
	branchID := actor.BranchScope()
	if branchID == "" {
		branchID = filter.BranchID
	}

	where := `
		FROM orders o
		JOIN branches b ON b.id = o.branch_id
		WHERE b.shop_id = $1
	`
	args := []any{actor.ShopID}
	if branchID != "" {
		args = append(args, branchID)
		where += fmt.Sprintf(" AND o.branch_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where += fmt.Sprintf(" AND o.status = $%d", len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where += fmt.Sprintf(" AND o.created_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where += fmt.Sprintf(" AND o.created_at <= $%d", len(args))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*)`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, perPage := normalizePage(filter.Page, filter.PerPage)
	args = append(args, perPage, (page-1)*perPage)
	query := `
		SELECT o.id, o.branch_id, o.store_id, COALESCE(o.customer_id, ''), COALESCE(o.currency_id, ''),
		       o.total, o.discount, o.tax_total, o.status, o.is_online, o.is_refunded, o.pickup_time, o.created_at
	` + where + fmt.Sprintf(" ORDER BY o.created_at DESC, o.id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, perPage)
	ids := make([]string, 0, perPage)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, *order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	items, err := queryItems(ctx, s.db, ids)
	if err != nil {
		return nil, 0, err
	}
	payments, err := queryPayments(ctx, s.db, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
		orders[i].Payments = payments[orders[i].ID]
	}
	return orders, total, nil
}

func (s *Store) RefundOrder(ctx context.Context, actor domain.Actor, orderID string, req domain.RefundOrderRequest) (*domain.Refund, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, wrapDB(err)
	}
	defer func() { _ = tx.Rollback() }()

	order, err := s.queryOrder(ctx, tx, actor, orderID, true)
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
		if err := s.reverseOrder(ctx, tx, order, int(math.Floor(amount))); err != nil {
			return nil, wrapDB(err)
		}
	}
	if req.RefundToEwallet && order.CustomerID != "" {
		if err := creditWallet(ctx, tx, order.CustomerID, amount); err != nil {
			return nil, wrapDB(err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET status = $2, is_refunded = true, updated_at = now() WHERE id = $1
	`, order.ID, domain.StatusCancelled)
	if err != nil {
		return nil, wrapDB(err)
	}

	refund := domain.Refund{
		ID:        uuid.NewString(),
		OrderID:   order.ID,
		Amount:    amount,
		Reason:    req.Reason,
		CreatedAt: time.Now().UTC(),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO refunds (id, order_id, amount, reason, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, refund.ID, refund.OrderID, refund.Amount, refund.Reason, refund.CreatedAt)
	if err != nil {
		return nil, wrapDB(err)
	}

	if err := insertStatusLog(ctx, tx, order.ID, domain.StatusCancelled, actor.Username); err != nil {
		return nil, wrapDB(err)
	}
	if err := insertAuditLog(ctx, tx, actor, "order.refund", order.ID, fmt.Sprintf("amount=%.2f reason=%s", amount, req.Reason)); err != nil {
		return nil, wrapDB(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapDB(err)
	}
	return &refund, nil
}

func (s *Store) CancelOrder(ctx context.Context, actor domain.Actor, orderID string, reason string) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, wrapDB(err)
	}
	defer func() { _ = tx.Rollback() }()

	order, err := s.queryOrder(ctx, tx, actor, orderID, true)
	if err != nil {
		return nil, err
	}
	if !order.Status.Cancellable() {
		return nil, fmt.Errorf("%w: cannot cancel order in status %s", store.ErrInvalidTransition, order.Status)
	}

	if order.Status != domain.StatusPending {
		if err := s.reverseOrder(ctx, tx, order, int(math.Floor(order.Total))); err != nil {
			return nil, wrapDB(err)
		}
	}
	if reason != "" {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO refunds (id, order_id, amount, reason, created_at)
			VALUES ($1,$2,$3,$4,$5)
		`, uuid.NewString(), order.ID, order.Total, reason, time.Now().UTC())
		if err != nil {
			return nil, wrapDB(err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET status = $2, updated_at = now() WHERE id = $1
	`, order.ID, domain.StatusCancelled)
	if err != nil {
		return nil, wrapDB(err)
	}
	if err := insertStatusLog(ctx, tx, order.ID, domain.StatusCancelled, actor.Username); err != nil {
		return nil, wrapDB(err)
	}
	if err := insertAuditLog(ctx, tx, actor, "order.cancel", order.ID, "reason="+reason); err != nil {
		return nil, wrapDB(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapDB(err)
	}

	order.Status = domain.StatusCancelled
	return order, nil
}

func (s *Store) MarkOrderPrepared(ctx context.Context, actor domain.Actor, orderID string) (*domain.Order, error) {
	return s.transition(ctx, actor, orderID, domain.StatusPrepared, "order.prepared")
}

// PickupOrder completes a prepared online order. The row lock taken by
// queryOrder guarantees at-most-once completion under concurrent pickups: the
// loser re-reads a completed order and fails the transition check.
func (s *Store) PickupOrder(ctx context.Context, actor domain.Actor, orderID string) (*domain.Order, error) {
	return s.transition(ctx, actor, orderID, domain.StatusCompleted, "order.pickup")
}

func (s *Store) transition(ctx context.Context, actor domain.Actor, orderID string, to domain.Status, action string) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, wrapDB(err)
	}
	defer func() { _ = tx.Rollback() }()

	order, err := s.queryOrder(ctx, tx, actor, orderID, true)
	if err != nil {
		return nil, err
	}
	if !order.IsOnline || !domain.CanTransition(order.Status, to) {
		return nil, fmt.Errorf("%w: order not eligible for %s", store.ErrInvalidTransition, to)
	}

	var pickup *time.Time
	if to == domain.StatusCompleted {
		now := time.Now().UTC()
		pickup = &now
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET status = $2, pickup_time = COALESCE($3, pickup_time), updated_at = now() WHERE id = $1
	`, order.ID, to, nullTime(pickup))
	if err != nil {
		return nil, wrapDB(err)
	}
	if err := insertStatusLog(ctx, tx, order.ID, to, actor.Username); err != nil {
		return nil, wrapDB(err)
	}
	if err := insertAuditLog(ctx, tx, actor, action, order.ID, ""); err != nil {
		return nil, wrapDB(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapDB(err)
	}

	order.Status = to
	if pickup != nil {
		order.PickupTime = pickup
	}
	return order, nil
}

func (s *Store) DeleteOrder(ctx context.Context, actor domain.Actor, orderID string, reason string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return wrapDB(err)
	}
	defer func() { _ = tx.Rollback() }()

	order, err := s.queryOrder(ctx, tx, actor, orderID, true)
	if err != nil {
		return err
	}
	if !order.Status.Deletable() {
		return fmt.Errorf("%w: completed orders cannot be deleted", store.ErrInvalidTransition)
	}

	// Cancelled orders already had their stock and points reversed.
	if order.Status != domain.StatusPending && order.Status != domain.StatusCancelled {
		if err := s.reverseOrder(ctx, tx, order, int(math.Floor(order.Total))); err != nil {
			return wrapDB(err)
		}
	}

	if err := insertAuditLog(ctx, tx, actor, "order.delete", order.ID, "reason="+reason); err != nil {
		return wrapDB(err)
	}
	for _, stmt := range []string{
		`DELETE FROM order_payments WHERE order_id = $1`,
		`DELETE FROM order_items WHERE order_id = $1`,
		`DELETE FROM refunds WHERE order_id = $1`,
		`DELETE FROM order_status_logs WHERE order_id = $1`,
		`DELETE FROM orders WHERE id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, order.ID); err != nil {
			return wrapDB(err)
		}
	}
	return wrapDB(tx.Commit())
}

func (s *Store) UpdateOrderStatus(ctx context.Context, actor domain.Actor, orderID string, status domain.Status) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, wrapDB(err)
	}
	defer func() { _ = tx.Rollback() }()

	order, err := s.queryOrder(ctx, tx, actor, orderID, true)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET status = $2, updated_at = now() WHERE id = $1
	`, order.ID, status)
	if err != nil {
		return nil, wrapDB(err)
	}
	if err := insertStatusLog(ctx, tx, order.ID, status, actor.Username); err != nil {
		return nil, wrapDB(err)
	}
	if err := insertAuditLog(ctx, tx, actor, "order.status", order.ID, "status="+string(status)); err != nil {
		return nil, wrapDB(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapDB(err)
	}

	order.Status = status
	return order, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) queryOrder(ctx context.Context, q querier, actor domain.Actor, orderID string, forUpdate bool) (*domain.Order, error) {
	query := `
		SELECT o.id, o.branch_id, o.store_id, COALESCE(o.customer_id, ''), COALESCE(o.currency_id, ''),
		       o.total, o.discount, o.tax_total, o.status, o.is_online, o.is_refunded, o.pickup_time, o.created_at
		FROM orders o
		JOIN branches b ON b.id = o.branch_id
		WHERE o.id = $1 AND b.shop_id = $2
	`
	if forUpdate {
		query += ` FOR UPDATE OF o`
	}
	row := q.QueryRowContext(ctx, query, orderID, actor.ShopID)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, orderID)
		}
		return nil, wrapDB(err)
	}
	if scope := actor.BranchScope(); scope != "" && order.BranchID != scope {
		return nil, store.ErrForbidden
	}
	return order, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var order domain.Order
	var pickup sql.NullTime
	err := row.Scan(&order.ID, &order.BranchID, &order.StoreID, &order.CustomerID, &order.CurrencyID,
		&order.Total, &order.Discount, &order.TaxTotal, &order.Status, &order.IsOnline, &order.IsRefunded,
		&pickup, &order.CreatedAt)
	if err != nil {
		return nil, err
	}
	if pickup.Valid {
		t := pickup.Time.UTC()
		order.PickupTime = &t
	}
	order.CreatedAt = order.CreatedAt.UTC()
	return &order, nil
}

// reverseOrder undoes the fulfillment side effects of a non-pending order:
// stock back on the shelf, loyalty points clawed back (floored at zero).
func (s *Store) reverseOrder(ctx context.Context, tx *sql.Tx, order *domain.Order, points int) error {
	items, err := queryItems(ctx, tx, []string{order.ID})
	if err != nil {
		return err
	}
	for _, item := range items[order.ID] {
		_, err = tx.ExecContext(ctx, `
			UPDATE products SET stock = stock + $1, updated_at = now() WHERE id = $2
		`, item.Quantity, item.ProductID)
		if err != nil {
			return err
		}
	}
	if order.CustomerID != "" {
		return debitPoints(ctx, tx, order.CustomerID, points)
	}
	return nil
}

func lockProducts(ctx context.Context, tx *sql.Tx, shopID string, items []domain.OrderItemInput) (map[string]domain.Product, error) {
	ids := uniqueProductIDs(items)
	rows, err := tx.QueryContext(ctx, `
		SELECT id, name, price, stock
		FROM products
		WHERE shop_id = $1 AND active = true AND id = ANY($2)
		FOR UPDATE
	`, shopID, ids)
	if err != nil {
		return nil, wrapDB(err)
	}
	defer rows.Close()

	productMap := make(map[string]domain.Product, len(ids))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Stock); err != nil {
			return nil, wrapDB(err)
		}
		productMap[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB(err)
	}
	return productMap, nil
}

func loadTaxPercents(ctx context.Context, tx *sql.Tx, shopID string, items []domain.OrderItemInput) (map[string]float64, error) {
	set := make(map[string]struct{}, 4)
	for _, item := range items {
		for _, id := range item.TaxRateIDs {
			set[id] = struct{}{}
		}
	}
	result := make(map[string]float64, len(set))
	if len(set) == 0 {
		return result, nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows, err := tx.QueryContext(ctx, `
		SELECT id, percent FROM tax_rates WHERE shop_id = $1 AND id = ANY($2)
	`, shopID, ids)
	if err != nil {
		return nil, wrapDB(err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var percent float64
		if err := rows.Scan(&id, &percent); err != nil {
			return nil, wrapDB(err)
		}
		result[id] = percent
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB(err)
	}
	return result, nil
}

func validatePayments(ctx context.Context, tx *sql.Tx, shopID string, payments []domain.PaymentInput, total float64) error {
	paid := 0.0
	for _, p := range payments {
		if p.Amount < 0 {
			return fmt.Errorf("%w: payment amount must not be negative", store.ErrInvalidInput)
		}
		var active bool
		err := tx.QueryRowContext(ctx, `
			SELECT active FROM payment_methods WHERE id = $1 AND shop_id = $2
		`, p.PaymentMethodID, shopID).Scan(&active)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: payment method %s", store.ErrNotFound, p.PaymentMethodID)
			}
			return wrapDB(err)
		}
		if !active {
			return fmt.Errorf("%w: payment method %s", store.ErrNotFound, p.PaymentMethodID)
		}
		paid += p.Amount
	}
	if pricing.Round2(paid) < total {
		return fmt.Errorf("%w: paid %.2f of %.2f", store.ErrInsufficientPayment, paid, total)
	}
	return nil
}

func queryItems(ctx context.Context, q querier, orderIDs []string) (map[string][]domain.OrderItem, error) {
	result := make(map[string][]domain.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return result, nil
	}
	rows, err := q.QueryContext(ctx, `
		SELECT order_id, product_id, quantity, unit_price, discount, COALESCE(customer_note, '')
		FROM order_items
		WHERE order_id = ANY($1)
	`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.Discount, &item.CustomerNote); err != nil {
			return nil, err
		}
		result[item.OrderID] = append(result[item.OrderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func queryPayments(ctx context.Context, q querier, orderIDs []string) (map[string][]domain.OrderPayment, error) {
	result := make(map[string][]domain.OrderPayment, len(orderIDs))
	if len(orderIDs) == 0 {
		return result, nil
	}
	rows, err := q.QueryContext(ctx, `
		SELECT order_id, payment_method_id, amount
		FROM order_payments
		WHERE order_id = ANY($1)
	`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var payment domain.OrderPayment
		if err := rows.Scan(&payment.OrderID, &payment.PaymentMethodID, &payment.Amount); err != nil {
			return nil, err
		}
		result[payment.OrderID] = append(result[payment.OrderID], payment)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func debitPoints(ctx context.Context, tx *sql.Tx, customerID string, points int) error {
	if points <= 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE customers SET loyalty_points = GREATEST(loyalty_points - $1, 0), updated_at = now() WHERE id = $2
	`, points, customerID)
	return err
}

func creditPoints(ctx context.Context, tx *sql.Tx, customerID string, points int) error {
	if points <= 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE customers SET loyalty_points = loyalty_points + $1, updated_at = now() WHERE id = $2
	`, points, customerID)
	return err
}

func debitWallet(ctx context.Context, tx *sql.Tx, customerID string, amount float64) error {
	if amount <= 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE customers SET ewallet_balance = GREATEST(round((ewallet_balance - $1)::numeric, 2), 0), updated_at = now() WHERE id = $2
	`, amount, customerID)
	return err
}

func creditWallet(ctx context.Context, tx *sql.Tx, customerID string, amount float64) error {
	if amount <= 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE customers SET ewallet_balance = round((ewallet_balance + $1)::numeric, 2), updated_at = now() WHERE id = $2
	`, amount, customerID)
	return err
}

func insertStatusLog(ctx context.Context, tx *sql.Tx, orderID string, status domain.Status, actor string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_status_logs (id, order_id, status, actor, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, uuid.NewString(), orderID, status, actor, time.Now().UTC())
	return err
}

func insertAuditLog(ctx context.Context, tx *sql.Tx, actor domain.Actor, action, orderID, detail string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_logs (id, shop_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,'order',$6,$7,$8)
	`, uuid.NewString(), actor.ShopID, actor.Username, actor.Role, action, orderID, detail, time.Now().UTC())
	return err
}

func uniqueProductIDs(items []domain.OrderItemInput) []string {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item.ProductID == "" {
			continue
		}
		set[item.ProductID] = struct{}{}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
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
