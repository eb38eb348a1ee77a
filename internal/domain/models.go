package domain

import "time"

const (
	RoleAdmin     = "admin"
	RoleShopOwner = "shop_owner"
	RoleCashier   = "cashier"
)

// Actor is the authenticated principal attached to every request. Non-privileged
// roles are implicitly scoped to their own branch; admin and shop_owner see the
// whole shop.
type Actor struct {
	Username string
	Role     string
	ShopID   string
	BranchID string
}

func (a Actor) Privileged() bool {
	return a.Role == RoleAdmin || a.Role == RoleShopOwner
}

// BranchScope returns the branch filter the actor is confined to. Empty means
// shop-wide access.
func (a Actor) BranchScope() string {
	if a.Privileged() {
		return ""
	}
	return a.BranchID
}

type Shop struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Branch struct {
	ID        string    `json:"id"`
	ShopID    string    `json:"shop_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is a sales channel/register inside a branch that orders are attributed to.
type Store struct {
	ID        string    `json:"id"`
	BranchID  string    `json:"branch_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Product struct {
	ID        string    `json:"id"`
	ShopID    string    `json:"shop_id"`
	Name      string    `json:"name"`
	Barcode   string    `json:"barcode,omitempty"`
	Price     float64   `json:"price"`
	Stock     int       `json:"stock"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type Customer struct {
	ID             string    `json:"id"`
	ShopID         string    `json:"shop_id"`
	Name           string    `json:"name"`
	Phone          string    `json:"phone,omitempty"`
	LoyaltyPoints  int       `json:"loyalty_points"`
	EwalletBalance float64   `json:"ewallet_balance"`
	CreatedAt      time.Time `json:"created_at"`
}

// Currency carries the exchange rate applied to order subtotals. A stored rate
// of zero is treated as 1.0 at resolution time.
type Currency struct {
	ID           string  `json:"id"`
	ShopID       string  `json:"shop_id"`
	Code         string  `json:"code"`
	ExchangeRate float64 `json:"exchange_rate"`
}

type TaxRate struct {
	ID      string  `json:"id"`
	ShopID  string  `json:"shop_id"`
	Name    string  `json:"name"`
	Percent float64 `json:"percent"`
}

type PaymentMethod struct {
	ID     string `json:"id"`
	ShopID string `json:"shop_id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type Order struct {
	ID         string           `json:"id"`
	BranchID   string           `json:"branch_id"`
	StoreID    string           `json:"store_id"`
	CustomerID string           `json:"customer_id,omitempty"`
	CurrencyID string           `json:"currency_id"`
	Total      float64          `json:"total"`
	Discount   float64          `json:"discount"`
	TaxTotal   float64          `json:"tax_total"`
	Status     Status           `json:"status"`
	IsOnline   bool             `json:"is_online"`
	IsRefunded bool             `json:"is_refunded"`
	PickupTime *time.Time       `json:"pickup_time,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	Items      []OrderItem      `json:"items,omitempty"`
	Payments   []OrderPayment   `json:"payments,omitempty"`
	StatusLogs []OrderStatusLog `json:"status_logs,omitempty"`
}

type OrderItem struct {
	OrderID      string  `json:"order_id"`
	ProductID    string  `json:"product_id"`
	Quantity     int     `json:"quantity"`
	UnitPrice    float64 `json:"unit_price"`
	Discount     float64 `json:"discount"`
	CustomerNote string  `json:"customer_note,omitempty"`
}

type OrderPayment struct {
	OrderID         string  `json:"order_id"`
	PaymentMethodID string  `json:"payment_method_id"`
	Amount          float64 `json:"amount"`
}

// OrderStatusLog is append-only: exactly one row per status transition.
type OrderStatusLog struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Status    Status    `json:"status"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ShopID        string    `json:"shop_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type Refund struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Amount    float64   `json:"amount"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	ShopID    string
	BranchID  string
	Active    bool
	CreatedAt time.Time
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ShopID      string `json:"shop_id"`
	BranchID    string `json:"branch_id,omitempty"`
	ExpiresAt   string `json:"expires_at"`
}

type OrderItemInput struct {
	ProductID    string   `json:"product_id"`
	Quantity     int      `json:"quantity"`
	UnitPrice    float64  `json:"unit_price"`
	Discount     float64  `json:"discount"`
	CustomerNote string   `json:"customer_note,omitempty"`
	TaxRateIDs   []string `json:"tax_rate_ids,omitempty"`
}

type PaymentInput struct {
	PaymentMethodID string  `json:"payment_method_id"`
	Amount          float64 `json:"amount"`
}

type CreateOrderRequest struct {
	StoreID          string           `json:"store_id"`
	BranchID         string           `json:"branch_id"`
	CustomerID       string           `json:"customer_id,omitempty"`
	CurrencyID       string           `json:"currency_id"`
	Status           string           `json:"status"`
	Discount         float64          `json:"discount"`
	TaxTotal         float64          `json:"tax_total,omitempty"`
	IsOnline         bool             `json:"is_online"`
	PickupTime       *time.Time       `json:"pickup_time,omitempty"`
	UseLoyaltyPoints int              `json:"use_loyalty_points,omitempty"`
	EwalletAmount    float64          `json:"ewallet_amount,omitempty"`
	Items            []OrderItemInput `json:"items"`
	Payments         []PaymentInput   `json:"payments"`
}

type CreateOrderResponse struct {
	OrderID  string  `json:"order_id"`
	TaxTotal float64 `json:"tax_total"`
}

type RefundOrderRequest struct {
	Amount          float64 `json:"amount"`
	Reason          string  `json:"reason"`
	RefundToEwallet bool    `json:"refund_to_ewallet,omitempty"`
}

type CancelOrderRequest struct {
	Reason string `json:"reason,omitempty"`
}

type DeleteOrderRequest struct {
	Reason string `json:"reason,omitempty"`
}

type UpdateOrderStatusRequest struct {
	Status string `json:"status"`
}

type OrderListFilter struct {
	Status   string
	BranchID string
	From     time.Time
	To       time.Time
	Page     int
	PerPage  int
}

type Pagination struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Total   int `json:"total"`
}

type OrderListResponse struct {
	Orders     []Order    `json:"orders"`
	Pagination Pagination `json:"pagination"`
}

type ProductCreateRequest struct {
	Name    string  `json:"name"`
	Barcode string  `json:"barcode,omitempty"`
	Price   float64 `json:"price"`
	Stock   int     `json:"stock"`
}

type ProductUpdateRequest struct {
	Name   *string  `json:"name,omitempty"`
	Price  *float64 `json:"price,omitempty"`
	Stock  *int     `json:"stock,omitempty"`
	Active *bool    `json:"active,omitempty"`
}

type CustomerCreateRequest struct {
	Name           string  `json:"name"`
	Phone          string  `json:"phone,omitempty"`
	LoyaltyPoints  int     `json:"loyalty_points,omitempty"`
	EwalletBalance float64 `json:"ewallet_balance,omitempty"`
}

type CustomerUpdateRequest struct {
	Name           *string  `json:"name,omitempty"`
	Phone          *string  `json:"phone,omitempty"`
	LoyaltyPoints  *int     `json:"loyalty_points,omitempty"`
	EwalletBalance *float64 `json:"ewallet_balance,omitempty"`
}

type BranchCreateRequest struct {
	Name string `json:"name"`
}

type StoreCreateRequest struct {
	BranchID string `json:"branch_id"`
	Name     string `json:"name"`
}

type CurrencyCreateRequest struct {
	Code         string  `json:"code"`
	ExchangeRate float64 `json:"exchange_rate"`
}

type TaxRateCreateRequest struct {
	Name    string  `json:"name"`
	Percent float64 `json:"percent"`
}

type PaymentMethodCreateRequest struct {
	Name string `json:"name"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	BranchID string `json:"branch_id"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	BranchID  string    `json:"branch_id,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
