package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx, actor.ShopID)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := requirePrivileged(ctx)
	if err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.Price <= 0 || req.Stock < 0 {
		return domain.Product{}, fmt.Errorf("%w: name, positive price and non-negative stock are required", store.ErrInvalidInput)
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ShopID:  actor.ShopID,
		Name:    req.Name,
		Barcode: strings.TrimSpace(req.Barcode),
		Price:   req.Price,
		Stock:   req.Stock,
		Active:  true,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product.create", "product", created.ID, fmt.Sprintf("name=%s price=%.2f stock=%d", created.Name, created.Price, created.Stock))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, productID string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, err := requirePrivileged(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	if productID == "" {
		return domain.Product{}, fmt.Errorf("%w: product id is required", store.ErrInvalidInput)
	}

	existing, err := s.repo.GetProduct(ctx, actor.ShopID, productID)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, fmt.Errorf("%w: name must not be empty", store.ErrInvalidInput)
		}
		updated.Name = name
	}
	if req.Price != nil {
		if *req.Price <= 0 {
			return domain.Product{}, fmt.Errorf("%w: price must be positive", store.ErrInvalidInput)
		}
		updated.Price = *req.Price
	}
	if req.Stock != nil {
		if *req.Stock < 0 {
			return domain.Product{}, fmt.Errorf("%w: stock must not be negative", store.ErrInvalidInput)
		}
		updated.Stock = *req.Stock
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product.update", "product", saved.ID, fmt.Sprintf("price=%.2f stock=%d active=%t", saved.Price, saved.Stock, saved.Active))
	return *saved, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListCustomers(ctx, actor.ShopID)
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Customer{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Customer{}, fmt.Errorf("%w: customer name is required", store.ErrInvalidInput)
	}
	if req.LoyaltyPoints < 0 || req.EwalletBalance < 0 {
		return domain.Customer{}, fmt.Errorf("%w: balances must not be negative", store.ErrInvalidInput)
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		ShopID:         actor.ShopID,
		Name:           req.Name,
		Phone:          strings.TrimSpace(req.Phone),
		LoyaltyPoints:  req.LoyaltyPoints,
		EwalletBalance: req.EwalletBalance,
	})
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "customer.create", "customer", created.ID, "name="+created.Name)
	return *created, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, customerID string, req domain.CustomerUpdateRequest) (domain.Customer, error) {
	actor, err := requirePrivileged(ctx)
	if err != nil {
		return domain.Customer{}, err
	}
	if customerID == "" {
		return domain.Customer{}, fmt.Errorf("%w: customer id is required", store.ErrInvalidInput)
	}

	existing, err := s.repo.GetCustomer(ctx, actor.ShopID, customerID)
	if err != nil {
		return domain.Customer{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Customer{}, fmt.Errorf("%w: name must not be empty", store.ErrInvalidInput)
		}
		updated.Name = name
	}
	if req.Phone != nil {
		updated.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.LoyaltyPoints != nil {
		if *req.LoyaltyPoints < 0 {
			return domain.Customer{}, fmt.Errorf("%w: loyalty points must not be negative", store.ErrInvalidInput)
		}
		updated.LoyaltyPoints = *req.LoyaltyPoints
	}
	if req.EwalletBalance != nil {
		if *req.EwalletBalance < 0 {
			return domain.Customer{}, fmt.Errorf("%w: wallet balance must not be negative", store.ErrInvalidInput)
		}
		updated.EwalletBalance = *req.EwalletBalance
	}

	saved, err := s.repo.UpdateCustomer(ctx, updated)
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "customer.update", "customer", saved.ID, fmt.Sprintf("points=%d wallet=%.2f", saved.LoyaltyPoints, saved.EwalletBalance))
	return *saved, nil
}

func (s *Service) GetCustomer(ctx context.Context, customerID string) (domain.Customer, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Customer{}, err
	}
	customer, err := s.repo.GetCustomer(ctx, actor.ShopID, customerID)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) ListShops(ctx context.Context) ([]domain.Shop, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("%w: admin role required", store.ErrForbidden)
	}
	return s.repo.ListShops(ctx)
}

func (s *Service) CreateShop(ctx context.Context, name string) (domain.Shop, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Shop{}, err
	}
	if actor.Role != domain.RoleAdmin {
		return domain.Shop{}, fmt.Errorf("%w: admin role required", store.ErrForbidden)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Shop{}, fmt.Errorf("%w: shop name is required", store.ErrInvalidInput)
	}

	created, err := s.repo.CreateShop(ctx, domain.Shop{Name: name})
	if err != nil {
		return domain.Shop{}, err
	}
	s.logAudit(ctx, "shop.create", "shop", created.ID, "name="+created.Name)
	return *created, nil
}

func (s *Service) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListBranches(ctx, actor.ShopID)
}

func (s *Service) CreateBranch(ctx context.Context, req domain.BranchCreateRequest) (domain.Branch, error) {
	actor, err := requirePrivileged(ctx)
	if err != nil {
		return domain.Branch{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Branch{}, fmt.Errorf("%w: branch name is required", store.ErrInvalidInput)
	}

	created, err := s.repo.CreateBranch(ctx, domain.Branch{ShopID: actor.ShopID, Name: req.Name})
	if err != nil {
		return domain.Branch{}, err
	}
	s.logAudit(ctx, "branch.create", "branch", created.ID, "name="+created.Name)
	return *created, nil
}

func (s *Service) ListStores(ctx context.Context, branchID string) ([]domain.Store, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if scope := actor.BranchScope(); scope != "" {
		branchID = scope
	}
	return s.repo.ListStores(ctx, actor.ShopID, branchID)
}

func (s *Service) CreateStore(ctx context.Context, req domain.StoreCreateRequest) (domain.Store, error) {
	actor, err := requirePrivileged(ctx)
	if err != nil {
		return domain.Store{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.BranchID == "" {
		return domain.Store{}, fmt.Errorf("%w: branch_id and name are required", store.ErrInvalidInput)
	}

	created, err := s.repo.CreateStore(ctx, actor.ShopID, domain.Store{BranchID: req.BranchID, Name: req.Name})
	if err != nil {
		return domain.Store{}, err
	}
	s.logAudit(ctx, "store.create", "store", created.ID, "name="+created.Name)
	return *created, nil
}

func (s *Service) ListCurrencies(ctx context.Context) ([]domain.Currency, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListCurrencies(ctx, actor.ShopID)
}

func (s *Service) CreateCurrency(ctx context.Context, req domain.CurrencyCreateRequest) (domain.Currency, error) {
	actor, err := requirePrivileged(ctx)
	if err != nil {
		return domain.Currency{}, err
	}
	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	if req.Code == "" || req.ExchangeRate < 0 {
		return domain.Currency{}, fmt.Errorf("%w: code and a non-negative exchange rate are required", store.ErrInvalidInput)
	}

	created, err := s.repo.CreateCurrency(ctx, domain.Currency{ShopID: actor.ShopID, Code: req.Code, ExchangeRate: req.ExchangeRate})
	if err != nil {
		return domain.Currency{}, err
	}
	s.logAudit(ctx, "currency.create", "currency", created.ID, fmt.Sprintf("code=%s rate=%.4f", created.Code, created.ExchangeRate))
	return *created, nil
}

func (s *Service) ListTaxRates(ctx context.Context) ([]domain.TaxRate, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListTaxRates(ctx, actor.ShopID)
}

func (s *Service) CreateTaxRate(ctx context.Context, req domain.TaxRateCreateRequest) (domain.TaxRate, error) {
	actor, err := requirePrivileged(ctx)
	if err != nil {
		return domain.TaxRate{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.Percent < 0 || req.Percent > 100 {
		return domain.TaxRate{}, fmt.Errorf("%w: name and a percent between 0 and 100 are required", store.ErrInvalidInput)
	}

	created, err := s.repo.CreateTaxRate(ctx, domain.TaxRate{ShopID: actor.ShopID, Name: req.Name, Percent: req.Percent})
	if err != nil {
		return domain.TaxRate{}, err
	}
	s.logAudit(ctx, "tax_rate.create", "tax_rate", created.ID, fmt.Sprintf("name=%s percent=%.2f", created.Name, created.Percent))
	return *created, nil
}

func (s *Service) ListPaymentMethods(ctx context.Context) ([]domain.PaymentMethod, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListPaymentMethods(ctx, actor.ShopID)
}

func (s *Service) CreatePaymentMethod(ctx context.Context, req domain.PaymentMethodCreateRequest) (domain.PaymentMethod, error) {
	actor, err := requirePrivileged(ctx)
	if err != nil {
		return domain.PaymentMethod{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.PaymentMethod{}, fmt.Errorf("%w: payment method name is required", store.ErrInvalidInput)
	}

	created, err := s.repo.CreatePaymentMethod(ctx, domain.PaymentMethod{ShopID: actor.ShopID, Name: req.Name, Active: true})
	if err != nil {
		return domain.PaymentMethod{}, err
	}
	s.logAudit(ctx, "payment_method.create", "payment_method", created.ID, "name="+created.Name)
	return *created, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, day time.Time, limit int) ([]domain.AuditLog, error) {
	actor, err := requirePrivileged(ctx)
	if err != nil {
		return nil, err
	}

	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.Add(24*time.Hour - time.Nanosecond)
	return s.repo.ListAuditLogs(ctx, actor.ShopID, from, to, limit)
}

func (s *Service) CreateCashier(ctx context.Context, req domain.CashierCreateRequest) (domain.CashierUser, error) {
	actor, err := requirePrivileged(ctx)
	if err != nil {
		return domain.CashierUser{}, err
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || len(req.Password) < 8 || req.BranchID == "" {
		return domain.CashierUser{}, fmt.Errorf("%w: username, branch_id and a password of at least 8 characters are required", store.ErrInvalidInput)
	}
	if _, err := s.repo.GetBranch(ctx, actor.ShopID, req.BranchID); err != nil {
		return domain.CashierUser{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.CashierUser{}, err
	}

	user := domain.UserAccount{
		Username:  req.Username,
		Password:  string(hash),
		Role:      domain.RoleCashier,
		ShopID:    actor.ShopID,
		BranchID:  req.BranchID,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return domain.CashierUser{}, err
	}

	s.logAudit(ctx, "cashier.create", "user", user.Username, "branch="+user.BranchID)
	return domain.CashierUser{
		Username:  user.Username,
		Role:      user.Role,
		BranchID:  user.BranchID,
		Active:    user.Active,
		CreatedAt: user.CreatedAt,
	}, nil
}

func (s *Service) ListCashiers(ctx context.Context) ([]domain.CashierUser, error) {
	actor, err := requirePrivileged(ctx)
	if err != nil {
		return nil, err
	}
	users, err := s.repo.ListUsers(ctx, actor.ShopID)
	if err != nil {
		return nil, err
	}
	cashiers := make([]domain.CashierUser, 0, len(users))
	for _, u := range users {
		cashiers = append(cashiers, domain.CashierUser{
			Username:  u.Username,
			Role:      u.Role,
			BranchID:  u.BranchID,
			Active:    u.Active,
			CreatedAt: u.CreatedAt,
		})
	}
	return cashiers, nil
}

func requirePrivileged(ctx context.Context) (domain.Actor, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if !actor.Privileged() {
		return domain.Actor{}, fmt.Errorf("%w: admin or shop owner role required", store.ErrForbidden)
	}
	return actor, nil
}
