package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/service"
	"retailpos/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) http.Handler {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, nil)
	auth := NewAuthManager("0123456789abcdef0123456789abcdef", time.Hour, repo)
	return New(svc, auth, "*").Handler()
}

func loginToken(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{"username": username, "password": password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed: %d (%s)", username, rec.Code, rec.Body.String())
	}
	var body domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return body.AccessToken
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body)
	}
}

func TestHandleLoginInvalidCredentials(t *testing.T) {
	handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestHandleLoginRateLimit(t *testing.T) {
	handler := newTestAPI(t)

	// The login limiter allows 10 attempts per minute per client address.
	payload, _ := json.Marshal(map[string]string{"username": "admin", "password": "badpass"})
	var lastCode int
	for i := 0; i < 11; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		lastCode = rec.Code
	}
	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after 11 attempts, got %d", lastCode)
	}
}

func TestOrdersRequireAuth(t *testing.T) {
	handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/orders", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	handler := newTestAPI(t)
	admin := loginToken(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/products", admin, domain.ProductCreateRequest{
		Name:  "Widget",
		Price: 10.00,
		Stock: 5,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create product: %d (%s)", rec.Code, rec.Body.String())
	}
	var product domain.Product
	if err := json.NewDecoder(rec.Body).Decode(&product); err != nil {
		t.Fatalf("decode product: %v", err)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/orders", admin, domain.CreateOrderRequest{
		StoreID:    "store-1",
		BranchID:   "branch-1",
		CurrencyID: "cur-usd",
		Status:     "preparing",
		IsOnline:   true,
		Items: []domain.OrderItemInput{
			{ProductID: product.ID, Quantity: 2, UnitPrice: 10.00},
		},
		Payments: []domain.PaymentInput{
			{PaymentMethodID: "pm-cash", Amount: 20.00},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create order: %d (%s)", rec.Code, rec.Body.String())
	}
	var created domain.CreateOrderResponse
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode order response: %v", err)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/orders/"+created.OrderID, admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get order: %d (%s)", rec.Code, rec.Body.String())
	}
	var order domain.Order
	if err := json.NewDecoder(rec.Body).Decode(&order); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	if order.Total != 20.00 || order.Status != domain.StatusPreparing {
		t.Fatalf("unexpected order %+v", order)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/orders/"+created.OrderID+"/prepared", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("mark prepared: %d (%s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/orders/"+created.OrderID+"/pickup", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pickup: %d (%s)", rec.Code, rec.Body.String())
	}
	if err := json.NewDecoder(rec.Body).Decode(&order); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	if order.Status != domain.StatusCompleted || order.PickupTime == nil {
		t.Fatalf("expected completed order with pickup time, got %+v", order)
	}

	// Completed orders cannot be cancelled.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/orders/"+created.OrderID+"/cancel", admin, domain.CancelOrderRequest{Reason: "late"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 cancelling completed order, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestCreateOrderInsufficientStockMapsTo400(t *testing.T) {
	handler := newTestAPI(t)
	admin := loginToken(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/orders", admin, domain.CreateOrderRequest{
		StoreID:    "store-1",
		BranchID:   "branch-1",
		CurrencyID: "cur-usd",
		Status:     "completed",
		Items: []domain.OrderItemInput{
			{ProductID: "prod-espresso", Quantity: 1000, UnitPrice: 3.50},
		},
		Payments: []domain.PaymentInput{
			{PaymentMethodID: "pm-cash", Amount: 3500.00},
		},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestGetUnknownOrderMapsTo404(t *testing.T) {
	handler := newTestAPI(t)
	admin := loginToken(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/orders/no-such-order", admin, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestCashierCannotUpdateProducts(t *testing.T) {
	handler := newTestAPI(t)
	cashier := loginToken(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPatch, "/api/v1/products/prod-espresso", cashier, map[string]any{
		"price": 1.00,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestCashierCannotDeleteOrders(t *testing.T) {
	handler := newTestAPI(t)
	cashier := loginToken(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/orders", cashier, domain.CreateOrderRequest{
		StoreID:    "store-1",
		BranchID:   "branch-1",
		CurrencyID: "cur-usd",
		Status:     "completed",
		Items: []domain.OrderItemInput{
			{ProductID: "prod-espresso", Quantity: 1, UnitPrice: 3.50},
		},
		Payments: []domain.PaymentInput{
			{PaymentMethodID: "pm-cash", Amount: 3.50},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create order: %d (%s)", rec.Code, rec.Body.String())
	}
	var created domain.CreateOrderResponse
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode order response: %v", err)
	}

	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/orders/"+created.OrderID, cashier, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestUnknownFieldsRejected(t *testing.T) {
	handler := newTestAPI(t)
	admin := loginToken(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/products", admin, map[string]any{
		"name":     "Widget",
		"price":    10.00,
		"stock":    5,
		"surprise": true,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestListOrdersScopedToCashierBranch(t *testing.T) {
	handler := newTestAPI(t)
	admin := loginToken(t, handler, "admin", "admin123")
	cashier := loginToken(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/orders", admin, domain.CreateOrderRequest{
		StoreID:    "store-2",
		BranchID:   "branch-2",
		CurrencyID: "cur-usd",
		Status:     "completed",
		Items: []domain.OrderItemInput{
			{ProductID: "prod-latte", Quantity: 1, UnitPrice: 4.75},
		},
		Payments: []domain.PaymentInput{
			{PaymentMethodID: "pm-cash", Amount: 4.75},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create order: %d (%s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/orders?branch_id=branch-2", cashier, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list orders: %d (%s)", rec.Code, rec.Body.String())
	}
	var listing domain.OrderListResponse
	if err := json.NewDecoder(rec.Body).Decode(&listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	// The cashier's branch filter wins over the requested one.
	if len(listing.Orders) != 0 {
		t.Fatalf("expected no branch-2 orders visible to a branch-1 cashier, got %d", len(listing.Orders))
	}
}
