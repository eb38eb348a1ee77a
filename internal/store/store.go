package store

import (
	"context"
	"errors"
	"time"

	"retailpos/backend/internal/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrPriceMismatch       = errors.New("price mismatch")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrInvalidTransition   = errors.New("invalid status transition")
	// ErrTransientConflict marks serialization/lock failures that are safe to
	// retry after the whole unit of work rolled back.
	ErrTransientConflict = errors.New("transient conflict")
)

// Repository is the persistence boundary. Every order mutation is a single
// atomic unit of work: stock, balances, payments, status logs, audit logs and
// the order row itself commit together or not at all.
//
// Order operations take the acting principal directly: the actor's shop bounds
// every lookup, and Actor.BranchScope confines non-privileged roles to their
// own branch (an order outside the scope yields ErrForbidden).
type Repository interface {
	CreateOrder(ctx context.Context, actor domain.Actor, req domain.CreateOrderRequest) (*domain.Order, error)
	GetOrder(ctx context.Context, actor domain.Actor, orderID string) (*domain.Order, error)
	ListOrders(ctx context.Context, actor domain.Actor, filter domain.OrderListFilter) ([]domain.Order, int, error)
	RefundOrder(ctx context.Context, actor domain.Actor, orderID string, req domain.RefundOrderRequest) (*domain.Refund, error)
	CancelOrder(ctx context.Context, actor domain.Actor, orderID string, reason string) (*domain.Order, error)
	MarkOrderPrepared(ctx context.Context, actor domain.Actor, orderID string) (*domain.Order, error)
	PickupOrder(ctx context.Context, actor domain.Actor, orderID string) (*domain.Order, error)
	DeleteOrder(ctx context.Context, actor domain.Actor, orderID string, reason string) error
	UpdateOrderStatus(ctx context.Context, actor domain.Actor, orderID string, status domain.Status) (*domain.Order, error)

	ListProducts(ctx context.Context, shopID string) ([]domain.Product, error)
	GetProduct(ctx context.Context, shopID string, productID string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	ListCustomers(ctx context.Context, shopID string) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, shopID string, customerID string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)

	ListShops(ctx context.Context) ([]domain.Shop, error)
	CreateShop(ctx context.Context, shop domain.Shop) (*domain.Shop, error)
	ListBranches(ctx context.Context, shopID string) ([]domain.Branch, error)
	GetBranch(ctx context.Context, shopID string, branchID string) (*domain.Branch, error)
	CreateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error)
	ListStores(ctx context.Context, shopID string, branchID string) ([]domain.Store, error)
	CreateStore(ctx context.Context, shopID string, st domain.Store) (*domain.Store, error)

	ListCurrencies(ctx context.Context, shopID string) ([]domain.Currency, error)
	CreateCurrency(ctx context.Context, currency domain.Currency) (*domain.Currency, error)
	ListTaxRates(ctx context.Context, shopID string) ([]domain.TaxRate, error)
	CreateTaxRate(ctx context.Context, rate domain.TaxRate) (*domain.TaxRate, error)
	ListPaymentMethods(ctx context.Context, shopID string) ([]domain.PaymentMethod, error)
	CreatePaymentMethod(ctx context.Context, method domain.PaymentMethod) (*domain.PaymentMethod, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, shopID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context, shopID string) ([]domain.UserAccount, error)
}
