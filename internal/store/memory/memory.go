package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

// Store is a mutex-guarded in-memory Repository used for tests and for running
// the backend without a database. The single mutex makes every order mutation
// an atomic unit of work.
type Store struct {
	mu             sync.RWMutex
	shops          map[string]domain.Shop
	branches       map[string]domain.Branch
	stores         map[string]domain.Store
	products       map[string]domain.Product
	customers      map[string]domain.Customer
	currencies     map[string]domain.Currency
	taxRates       map[string]domain.TaxRate
	paymentMethods map[string]domain.PaymentMethod
	orders         map[string]*domain.Order
	refunds        map[string]domain.Refund
	statusLogs     map[string][]domain.OrderStatusLog
	auditLogs      []domain.AuditLog
	users          map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		shops:          make(map[string]domain.Shop),
		branches:       make(map[string]domain.Branch),
		stores:         make(map[string]domain.Store),
		products:       make(map[string]domain.Product),
		customers:      make(map[string]domain.Customer),
		currencies:     make(map[string]domain.Currency),
		taxRates:       make(map[string]domain.TaxRate),
		paymentMethods: make(map[string]domain.PaymentMethod),
		orders:         make(map[string]*domain.Order),
		refunds:        make(map[string]domain.Refund),
		statusLogs:     make(map[string][]domain.OrderStatusLog),
		auditLogs:      make([]domain.AuditLog, 0, 128),
		users:          make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; if
// unset, hardcoded dev defaults are used with a warning. These credentials are
// never used in production (the backend uses PostgreSQL when DATABASE_URL is
// set).
func seedUsers(shopID, branchID string) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
		branchID string
	}{
		{"admin", adminPwd, domain.RoleAdmin, ""},
		{"owner", adminPwd, domain.RoleShopOwner, ""},
		{"cashier", cashierPwd, domain.RoleCashier, branchID},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			ShopID:    shopID,
			BranchID:  u.branchID,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store preloaded with one shop, two branches and a small
// catalog, enough to exercise the whole order path without a database.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	s.shops["shop-1"] = domain.Shop{ID: "shop-1", Name: "Demo Retail", CreatedAt: now}
	s.branches["branch-1"] = domain.Branch{ID: "branch-1", ShopID: "shop-1", Name: "Downtown", CreatedAt: now}
	s.branches["branch-2"] = domain.Branch{ID: "branch-2", ShopID: "shop-1", Name: "Airport", CreatedAt: now}
	s.stores["store-1"] = domain.Store{ID: "store-1", BranchID: "branch-1", Name: "Register 1", CreatedAt: now}
	s.stores["store-2"] = domain.Store{ID: "store-2", BranchID: "branch-2", Name: "Register 1", CreatedAt: now}

	for _, p := range []domain.Product{
		{ID: "prod-espresso", ShopID: "shop-1", Name: "Espresso", Barcode: "2000000000017", Price: 3.50, Stock: 120, Active: true, CreatedAt: now},
		{ID: "prod-latte", ShopID: "shop-1", Name: "Latte", Barcode: "2000000000024", Price: 4.75, Stock: 120, Active: true, CreatedAt: now},
		{ID: "prod-croissant", ShopID: "shop-1", Name: "Croissant", Barcode: "2000000000031", Price: 2.80, Stock: 60, Active: true, CreatedAt: now},
		{ID: "prod-sandwich", ShopID: "shop-1", Name: "Club Sandwich", Barcode: "2000000000048", Price: 7.90, Stock: 40, Active: true, CreatedAt: now},
		{ID: "prod-water", ShopID: "shop-1", Name: "Mineral Water", Barcode: "2000000000055", Price: 1.20, Stock: 200, Active: true, CreatedAt: now},
	} {
		s.products[p.ID] = p
	}

	s.customers["cust-1"] = domain.Customer{ID: "cust-1", ShopID: "shop-1", Name: "Walk-in Regular", Phone: "+100000001", LoyaltyPoints: 50, EwalletBalance: 25.00, CreatedAt: now}
	s.customers["cust-2"] = domain.Customer{ID: "cust-2", ShopID: "shop-1", Name: "Office Account", Phone: "+100000002", LoyaltyPoints: 0, EwalletBalance: 0, CreatedAt: now}

	s.currencies["cur-usd"] = domain.Currency{ID: "cur-usd", ShopID: "shop-1", Code: "USD", ExchangeRate: 1.0}
	s.currencies["cur-eur"] = domain.Currency{ID: "cur-eur", ShopID: "shop-1", Code: "EUR", ExchangeRate: 1.08}

	s.taxRates["tax-vat"] = domain.TaxRate{ID: "tax-vat", ShopID: "shop-1", Name: "VAT", Percent: 10}
	s.taxRates["tax-service"] = domain.TaxRate{ID: "tax-service", ShopID: "shop-1", Name: "Service", Percent: 5}

	s.paymentMethods["pm-cash"] = domain.PaymentMethod{ID: "pm-cash", ShopID: "shop-1", Name: "Cash", Active: true}
	s.paymentMethods["pm-card"] = domain.PaymentMethod{ID: "pm-card", ShopID: "shop-1", Name: "Card", Active: true}

	s.users = seedUsers("shop-1", "branch-1")
	return s
}

func (s *Store) ListProducts(_ context.Context, shopID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.ShopID != shopID || !p.Active {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmpString(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, shopID string, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[productID]
	if !ok || p.ShopID != shopID {
		return nil, store.ErrNotFound
	}
	copied := p
	return &copied, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ShopID == "" || strings.TrimSpace(product.Name) == "" || product.Price <= 0 || product.Stock < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.Active = true
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok || existing.ShopID != product.ShopID {
		return nil, store.ErrNotFound
	}
	if strings.TrimSpace(product.Name) == "" || product.Price <= 0 || product.Stock < 0 {
		return nil, store.ErrInvalidInput
	}
	product.CreatedAt = existing.CreatedAt
	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) ListCustomers(_ context.Context, shopID string) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		if c.ShopID != shopID {
			continue
		}
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return cmpString(a.Name, b.Name)
	})
	return customers, nil
}

func (s *Store) GetCustomer(_ context.Context, shopID string, customerID string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[customerID]
	if !ok || c.ShopID != shopID {
		return nil, store.ErrNotFound
	}
	copied := c
	return &copied, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.ShopID == "" || strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.LoyaltyPoints < 0 || customer.EwalletBalance < 0 {
		return nil, store.ErrInvalidInput
	}
	if customer.ID == "" {
		customer.ID = uuid.NewString()
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	s.customers[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.customers[customer.ID]
	if !ok || existing.ShopID != customer.ShopID {
		return nil, store.ErrNotFound
	}
	if customer.LoyaltyPoints < 0 || customer.EwalletBalance < 0 {
		return nil, store.ErrInvalidInput
	}
	customer.CreatedAt = existing.CreatedAt
	s.customers[customer.ID] = customer
	updated := customer
	return &updated, nil
}

func (s *Store) ListShops(_ context.Context) ([]domain.Shop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shops := make([]domain.Shop, 0, len(s.shops))
	for _, sh := range s.shops {
		shops = append(shops, sh)
	}
	slices.SortFunc(shops, func(a, b domain.Shop) int {
		return cmpString(a.Name, b.Name)
	})
	return shops, nil
}

func (s *Store) CreateShop(_ context.Context, shop domain.Shop) (*domain.Shop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(shop.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if shop.ID == "" {
		shop.ID = uuid.NewString()
	}
	if shop.CreatedAt.IsZero() {
		shop.CreatedAt = time.Now().UTC()
	}
	s.shops[shop.ID] = shop
	created := shop
	return &created, nil
}

func (s *Store) ListBranches(_ context.Context, shopID string) ([]domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branches := make([]domain.Branch, 0, len(s.branches))
	for _, b := range s.branches {
		if b.ShopID != shopID {
			continue
		}
		branches = append(branches, b)
	}
	slices.SortFunc(branches, func(a, b domain.Branch) int {
		return cmpString(a.Name, b.Name)
	})
	return branches, nil
}

func (s *Store) GetBranch(_ context.Context, shopID string, branchID string) (*domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.branches[branchID]
	if !ok || b.ShopID != shopID {
		return nil, store.ErrNotFound
	}
	copied := b
	return &copied, nil
}

func (s *Store) CreateBranch(_ context.Context, branch domain.Branch) (*domain.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if branch.ShopID == "" || strings.TrimSpace(branch.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if _, ok := s.shops[branch.ShopID]; !ok {
		return nil, store.ErrNotFound
	}
	if branch.ID == "" {
		branch.ID = uuid.NewString()
	}
	if branch.CreatedAt.IsZero() {
		branch.CreatedAt = time.Now().UTC()
	}
	s.branches[branch.ID] = branch
	created := branch
	return &created, nil
}

func (s *Store) ListStores(_ context.Context, shopID string, branchID string) ([]domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stores := make([]domain.Store, 0, len(s.stores))
	for _, st := range s.stores {
		branch, ok := s.branches[st.BranchID]
		if !ok || branch.ShopID != shopID {
			continue
		}
		if branchID != "" && st.BranchID != branchID {
			continue
		}
		stores = append(stores, st)
	}
	slices.SortFunc(stores, func(a, b domain.Store) int {
		return cmpString(a.Name, b.Name)
	})
	return stores, nil
}

func (s *Store) CreateStore(_ context.Context, shopID string, st domain.Store) (*domain.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.BranchID == "" || strings.TrimSpace(st.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	branch, ok := s.branches[st.BranchID]
	if !ok || branch.ShopID != shopID {
		return nil, store.ErrNotFound
	}
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}
	s.stores[st.ID] = st
	created := st
	return &created, nil
}

func (s *Store) ListCurrencies(_ context.Context, shopID string) ([]domain.Currency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	currencies := make([]domain.Currency, 0, len(s.currencies))
	for _, c := range s.currencies {
		if c.ShopID != shopID {
			continue
		}
		currencies = append(currencies, c)
	}
	slices.SortFunc(currencies, func(a, b domain.Currency) int {
		return cmpString(a.Code, b.Code)
	})
	return currencies, nil
}

func (s *Store) CreateCurrency(_ context.Context, currency domain.Currency) (*domain.Currency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if currency.ShopID == "" || strings.TrimSpace(currency.Code) == "" || currency.ExchangeRate < 0 {
		return nil, store.ErrInvalidInput
	}
	if currency.ID == "" {
		currency.ID = uuid.NewString()
	}
	s.currencies[currency.ID] = currency
	created := currency
	return &created, nil
}

func (s *Store) ListTaxRates(_ context.Context, shopID string) ([]domain.TaxRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rates := make([]domain.TaxRate, 0, len(s.taxRates))
	for _, r := range s.taxRates {
		if r.ShopID != shopID {
			continue
		}
		rates = append(rates, r)
	}
	slices.SortFunc(rates, func(a, b domain.TaxRate) int {
		return cmpString(a.Name, b.Name)
	})
	return rates, nil
}

func (s *Store) CreateTaxRate(_ context.Context, rate domain.TaxRate) (*domain.TaxRate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rate.ShopID == "" || strings.TrimSpace(rate.Name) == "" || rate.Percent < 0 || rate.Percent > 100 {
		return nil, store.ErrInvalidInput
	}
	if rate.ID == "" {
		rate.ID = uuid.NewString()
	}
	s.taxRates[rate.ID] = rate
	created := rate
	return &created, nil
}

func (s *Store) ListPaymentMethods(_ context.Context, shopID string) ([]domain.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	methods := make([]domain.PaymentMethod, 0, len(s.paymentMethods))
	for _, m := range s.paymentMethods {
		if m.ShopID != shopID {
			continue
		}
		methods = append(methods, m)
	}
	slices.SortFunc(methods, func(a, b domain.PaymentMethod) int {
		return cmpString(a.Name, b.Name)
	})
	return methods, nil
}

func (s *Store) CreatePaymentMethod(_ context.Context, method domain.PaymentMethod) (*domain.PaymentMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if method.ShopID == "" || strings.TrimSpace(method.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if method.ID == "" {
		method.ID = uuid.NewString()
	}
	method.Active = true
	s.paymentMethods[method.ID] = method
	created := method
	return &created, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.appendAuditLogLocked(entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, shopID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0, 32)
	for _, entry := range s.auditLogs {
		if entry.ShopID != shopID {
			continue
		}
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && entry.CreatedAt.After(to) {
			continue
		}
		logs = append(logs, entry)
	}
	slices.SortFunc(logs, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" || user.Role == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.users[user.Username]; exists {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.Username] = user
	return nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := user
	return &copied, nil
}

func (s *Store) ListUsers(_ context.Context, shopID string) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, u := range s.users {
		if u.ShopID != shopID {
			continue
		}
		u.Password = ""
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) appendAuditLogLocked(entry domain.AuditLog) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
