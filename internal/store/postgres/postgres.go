package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context, shopID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, name, COALESCE(barcode, ''), price, stock, active, created_at
		FROM products
		WHERE shop_id = $1 AND active = true
		ORDER BY name
	`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.ShopID, &p.Name, &p.Barcode, &p.Price, &p.Stock, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, shopID string, productID string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, shop_id, name, COALESCE(barcode, ''), price, stock, active, created_at
		FROM products
		WHERE id = $1 AND shop_id = $2
	`, productID, shopID).Scan(&p.ID, &p.ShopID, &p.Name, &p.Barcode, &p.Price, &p.Stock, &p.Active, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ShopID == "" || strings.TrimSpace(product.Name) == "" || product.Price <= 0 || product.Stock < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	product.Active = true
	product.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, shop_id, name, barcode, price, stock, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
	`, product.ID, product.ShopID, product.Name, nullIfEmpty(product.Barcode), product.Price, product.Stock, product.Active, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.Price <= 0 || product.Stock < 0 {
		return nil, store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $3, barcode = $4, price = $5, stock = $6, active = $7, updated_at = now()
		WHERE id = $1 AND shop_id = $2
	`, product.ID, product.ShopID, product.Name, nullIfEmpty(product.Barcode), product.Price, product.Stock, product.Active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := product
	return &updated, nil
}

func (s *Store) ListCustomers(ctx context.Context, shopID string) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, name, COALESCE(phone, ''), loyalty_points, ewallet_balance, created_at
		FROM customers
		WHERE shop_id = $1
		ORDER BY name
	`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.ShopID, &c.Name, &c.Phone, &c.LoyaltyPoints, &c.EwalletBalance, &c.CreatedAt); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) GetCustomer(ctx context.Context, shopID string, customerID string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, shop_id, name, COALESCE(phone, ''), loyalty_points, ewallet_balance, created_at
		FROM customers
		WHERE id = $1 AND shop_id = $2
	`, customerID, shopID).Scan(&c.ID, &c.ShopID, &c.Name, &c.Phone, &c.LoyaltyPoints, &c.EwalletBalance, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ShopID == "" || strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.LoyaltyPoints < 0 || customer.EwalletBalance < 0 {
		return nil, store.ErrInvalidInput
	}
	if customer.ID == "" {
		customer.ID = uuid.NewString()
	}
	customer.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, shop_id, name, phone, loyalty_points, ewallet_balance, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
	`, customer.ID, customer.ShopID, customer.Name, nullIfEmpty(customer.Phone), customer.LoyaltyPoints, customer.EwalletBalance, customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := customer
	return &created, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.LoyaltyPoints < 0 || customer.EwalletBalance < 0 {
		return nil, store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE customers
		SET name = $3, phone = $4, loyalty_points = $5, ewallet_balance = $6, updated_at = now()
		WHERE id = $1 AND shop_id = $2
	`, customer.ID, customer.ShopID, customer.Name, nullIfEmpty(customer.Phone), customer.LoyaltyPoints, customer.EwalletBalance)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := customer
	return &updated, nil
}

func (s *Store) ListShops(ctx context.Context) ([]domain.Shop, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, created_at
		FROM shops
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shops := make([]domain.Shop, 0, 8)
	for rows.Next() {
		var sh domain.Shop
		if err := rows.Scan(&sh.ID, &sh.Name, &sh.CreatedAt); err != nil {
			return nil, err
		}
		shops = append(shops, sh)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return shops, nil
}

func (s *Store) CreateShop(ctx context.Context, shop domain.Shop) (*domain.Shop, error) {
	if strings.TrimSpace(shop.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if shop.ID == "" {
		shop.ID = uuid.NewString()
	}
	shop.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shops (id, name, created_at)
		VALUES ($1,$2,$3)
	`, shop.ID, shop.Name, shop.CreatedAt)
	if err != nil {
		return nil, err
	}

	created := shop
	return &created, nil
}

func (s *Store) ListBranches(ctx context.Context, shopID string) ([]domain.Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, name, created_at
		FROM branches
		WHERE shop_id = $1
		ORDER BY name
	`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	branches := make([]domain.Branch, 0, 16)
	for rows.Next() {
		var b domain.Branch
		if err := rows.Scan(&b.ID, &b.ShopID, &b.Name, &b.CreatedAt); err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return branches, nil
}

func (s *Store) GetBranch(ctx context.Context, shopID string, branchID string) (*domain.Branch, error) {
	var b domain.Branch
	err := s.db.QueryRowContext(ctx, `
		SELECT id, shop_id, name, created_at
		FROM branches
		WHERE id = $1 AND shop_id = $2
	`, branchID, shopID).Scan(&b.ID, &b.ShopID, &b.Name, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (s *Store) CreateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error) {
	if branch.ShopID == "" || strings.TrimSpace(branch.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if branch.ID == "" {
		branch.ID = uuid.NewString()
	}
	branch.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO branches (id, shop_id, name, created_at)
		VALUES ($1,$2,$3,$4)
	`, branch.ID, branch.ShopID, branch.Name, branch.CreatedAt)
	if err != nil {
		return nil, err
	}

	created := branch
	return &created, nil
}

func (s *Store) ListStores(ctx context.Context, shopID string, branchID string) ([]domain.Store, error) {
	query := `
		SELECT s.id, s.branch_id, s.name, s.created_at
		FROM stores s
		JOIN branches b ON b.id = s.branch_id
		WHERE b.shop_id = $1
	`
	args := []any{shopID}
	if branchID != "" {
		query += ` AND s.branch_id = $2`
		args = append(args, branchID)
	}
	query += ` ORDER BY s.name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stores := make([]domain.Store, 0, 16)
	for rows.Next() {
		var st domain.Store
		if err := rows.Scan(&st.ID, &st.BranchID, &st.Name, &st.CreatedAt); err != nil {
			return nil, err
		}
		stores = append(stores, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stores, nil
}

func (s *Store) CreateStore(ctx context.Context, shopID string, st domain.Store) (*domain.Store, error) {
	if st.BranchID == "" || strings.TrimSpace(st.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	var branchShop string
	err := s.db.QueryRowContext(ctx, `
		SELECT shop_id FROM branches WHERE id = $1
	`, st.BranchID).Scan(&branchShop)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if branchShop != shopID {
		return nil, store.ErrNotFound
	}

	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	st.CreatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO stores (id, branch_id, name, created_at)
		VALUES ($1,$2,$3,$4)
	`, st.ID, st.BranchID, st.Name, st.CreatedAt)
	if err != nil {
		return nil, err
	}

	created := st
	return &created, nil
}

func (s *Store) ListCurrencies(ctx context.Context, shopID string) ([]domain.Currency, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, code, COALESCE(exchange_rate, 1.0)
		FROM currencies
		WHERE shop_id = $1
		ORDER BY code
	`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	currencies := make([]domain.Currency, 0, 8)
	for rows.Next() {
		var c domain.Currency
		if err := rows.Scan(&c.ID, &c.ShopID, &c.Code, &c.ExchangeRate); err != nil {
			return nil, err
		}
		currencies = append(currencies, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return currencies, nil
}

func (s *Store) CreateCurrency(ctx context.Context, currency domain.Currency) (*domain.Currency, error) {
	if currency.ShopID == "" || strings.TrimSpace(currency.Code) == "" || currency.ExchangeRate < 0 {
		return nil, store.ErrInvalidInput
	}
	if currency.ID == "" {
		currency.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO currencies (id, shop_id, code, exchange_rate, created_at)
		VALUES ($1,$2,$3,$4,now())
	`, currency.ID, currency.ShopID, currency.Code, currency.ExchangeRate)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := currency
	return &created, nil
}

func (s *Store) ListTaxRates(ctx context.Context, shopID string) ([]domain.TaxRate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, name, percent
		FROM tax_rates
		WHERE shop_id = $1
		ORDER BY name
	`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rates := make([]domain.TaxRate, 0, 8)
	for rows.Next() {
		var r domain.TaxRate
		if err := rows.Scan(&r.ID, &r.ShopID, &r.Name, &r.Percent); err != nil {
			return nil, err
		}
		rates = append(rates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rates, nil
}

func (s *Store) CreateTaxRate(ctx context.Context, rate domain.TaxRate) (*domain.TaxRate, error) {
	if rate.ShopID == "" || strings.TrimSpace(rate.Name) == "" || rate.Percent < 0 || rate.Percent > 100 {
		return nil, store.ErrInvalidInput
	}
	if rate.ID == "" {
		rate.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tax_rates (id, shop_id, name, percent, created_at)
		VALUES ($1,$2,$3,$4,now())
	`, rate.ID, rate.ShopID, rate.Name, rate.Percent)
	if err != nil {
		return nil, err
	}

	created := rate
	return &created, nil
}

func (s *Store) ListPaymentMethods(ctx context.Context, shopID string) ([]domain.PaymentMethod, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, name, active
		FROM payment_methods
		WHERE shop_id = $1
		ORDER BY name
	`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	methods := make([]domain.PaymentMethod, 0, 8)
	for rows.Next() {
		var m domain.PaymentMethod
		if err := rows.Scan(&m.ID, &m.ShopID, &m.Name, &m.Active); err != nil {
			return nil, err
		}
		methods = append(methods, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return methods, nil
}

func (s *Store) CreatePaymentMethod(ctx context.Context, method domain.PaymentMethod) (*domain.PaymentMethod, error) {
	if method.ShopID == "" || strings.TrimSpace(method.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if method.ID == "" {
		method.ID = uuid.NewString()
	}
	method.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_methods (id, shop_id, name, active, created_at)
		VALUES ($1,$2,$3,$4,now())
	`, method.ID, method.ShopID, method.Name, method.Active)
	if err != nil {
		return nil, err
	}

	created := method
	return &created, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, shop_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.ShopID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, shopID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE shop_id = $1
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at <= $3)
		ORDER BY created_at DESC
		LIMIT $4
	`, shopID, nullTime(timePtr(from)), nullTime(timePtr(to)), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ShopID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" || user.Role == "" {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, shop_id, branch_id, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, user.Username, user.Password, user.Role, user.ShopID, nullIfEmpty(user.BranchID), user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password, role, shop_id, COALESCE(branch_id, ''), active, created_at
		FROM users
		WHERE username = $1
	`, username).Scan(&user.Username, &user.Password, &user.Role, &user.ShopID, &user.BranchID, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context, shopID string) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, role, shop_id, COALESCE(branch_id, ''), active, created_at
		FROM users
		WHERE shop_id = $1
		ORDER BY username
	`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Role, &u.ShopID, &u.BranchID, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// isTransient matches serialization failures, deadlocks and lock timeouts,
// the conflict class the retry policy is allowed to re-run.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
