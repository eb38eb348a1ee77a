package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"retailpos/backend/internal/domain"
)

func (a *API) handleOrders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createOrder(w, r)
	case http.MethodGet:
		a.listOrders(w, r)
	default:
		writeMethodNotAllowed(w)
	}
}

// handleOrderByID dispatches /api/v1/orders/{id} and the action subroutes
// {id}/refund, {id}/cancel, {id}/prepared, {id}/pickup and {id}/status.
func (a *API) handleOrderByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/orders/")
	parts := strings.SplitN(rest, "/", 2)
	orderID := parts[0]
	if orderID == "" {
		writeError(w, http.StatusBadRequest, errors.New("order id is required"))
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			a.getOrder(w, r, orderID)
		case http.MethodDelete:
			a.deleteOrder(w, r, orderID)
		default:
			writeMethodNotAllowed(w)
		}
		return
	}

	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	switch parts[1] {
	case "refund":
		a.refundOrder(w, r, orderID)
	case "cancel":
		a.cancelOrder(w, r, orderID)
	case "prepared":
		a.markPrepared(w, r, orderID)
	case "pickup":
		a.pickupOrder(w, r, orderID)
	case "status":
		a.updateOrderStatus(w, r, orderID)
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown order action"))
	}
}

func (a *API) createOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.svc.CreateOrder(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) getOrder(w http.ResponseWriter, r *http.Request, orderID string) {
	order, err := a.svc.GetOrder(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.OrderListFilter{
		Status:   q.Get("status"),
		BranchID: q.Get("branch_id"),
		Page:     parsePositiveInt(q.Get("page"), 1),
		PerPage:  parsePositiveInt(q.Get("per_page"), 20),
	}
	var err error
	if filter.From, err = parseTimeParam(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if filter.To, err = parseTimeParam(q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.svc.ListOrders(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) refundOrder(w http.ResponseWriter, r *http.Request, orderID string) {
	var req domain.RefundOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	refund, err := a.svc.RefundOrder(r.Context(), orderID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refund)
}

func (a *API) cancelOrder(w http.ResponseWriter, r *http.Request, orderID string) {
	var req domain.CancelOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	order, err := a.svc.CancelOrder(r.Context(), orderID, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) markPrepared(w http.ResponseWriter, r *http.Request, orderID string) {
	order, err := a.svc.MarkPrepared(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) pickupOrder(w http.ResponseWriter, r *http.Request, orderID string) {
	order, err := a.svc.PickupOrder(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) updateOrderStatus(w http.ResponseWriter, r *http.Request, orderID string) {
	var req domain.UpdateOrderStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	order, err := a.svc.UpdateOrderStatus(r.Context(), orderID, req.Status)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) deleteOrder(w http.ResponseWriter, r *http.Request, orderID string) {
	reason := r.URL.Query().Get("reason")
	if err := a.svc.DeleteOrder(r.Context(), orderID, reason); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Time{}, errors.New("invalid time value, use RFC3339 or YYYY-MM-DD")
}
