package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/csrf"

	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/models"
	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/store"
)

func (h *AdminHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	pageStr := r.URL.Query().Get("page")
	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 1 {
		page = 1
	}

	limitStr := r.URL.Query().Get("limit")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 1 || limit > 100 {
		limit = 20
	}

	offset := (page - 1) * limit

	orders, err := h.Store.GetAllOrders(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, "Error fetching orders", http.StatusInternalServerError)
		return
	}

	totalOrders, err := h.Store.GetTotalOrdersCount(r.Context())
	if err != nil {
		http.Error(w, "Error fetching total order count", http.StatusInternalServerError)
		return
	}

	unread, err := h.Store.GetUnreadCounts(r.Context())
	if err != nil {
		http.Error(w, "Error fetching unread messages", http.StatusInternalServerError)
		return
	}

	totalPages := (totalOrders + limit - 1) / limit
	if totalPages == 0 {
		totalPages = 1
	}

	session, _ := h.SessionStore.Get(r, adminSessionName)
	data := map[string]interface{}{
		"Title":       "Orders",
		"Orders":      orders,
		"Unread":      unread,
		"CsrfField":   csrf.TemplateField(r),
		"Flashes":     GetFlash(session),
		"CurrentPage": page,
		"TotalPages":  totalPages,
		"Limit":       limit,
		"IsAdmin":     true,
	}
	session.Save(r, w)
	h.Templates.Render(w, http.StatusOK, "admin_orders.html", data)
}

// ViewOrder shows everything delivered for an order plus its chat. Opening
// the page marks the customer's messages as read.
func (h *AdminHandler) ViewOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return
	}

	detail, err := h.Store.GetOrderDetail(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Order not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Failed to load order", "order_id", id, "error", err)
		http.Error(w, "Error fetching order", http.StatusInternalServerError)
		return
	}

	messages, err := h.Chat.StaffThread(r.Context(), id)
	if err != nil {
		slog.Error("Failed to load chat", "order_id", id, "error", err)
		http.Error(w, "Error fetching messages", http.StatusInternalServerError)
		return
	}

	session, _ := h.SessionStore.Get(r, adminSessionName)
	data := map[string]interface{}{
		"Title":     fmt.Sprintf("Order #%d", id),
		"Detail":    detail,
		"Messages":  messages,
		"Statuses":  []string{models.OrderStatusPending, models.OrderStatusPartial, models.OrderStatusCompleted},
		"CsrfField": csrf.TemplateField(r),
		"Flashes":   GetFlash(session),
		"IsAdmin":   true,
	}
	session.Save(r, w)
	h.Templates.Render(w, http.StatusOK, "admin_order.html", data)
}

func (h *AdminHandler) PostChat(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return
	}
	if _, err := h.Store.GetOrder(r.Context(), id); err != nil {
		http.Error(w, "Order not found", http.StatusNotFound)
		return
	}

	text, att, cleanup, err := readChatForm(r)
	if err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}
	defer cleanup()

	if _, err := h.Chat.Post(r.Context(), id, models.SenderAdmin, text, att); err != nil {
		slog.Error("Failed to post chat message", "order_id", id, "error", err)
		h.flash(w, r, "error", "Message could not be sent.")
	}
	http.Redirect(w, r, fmt.Sprintf("/admin/orders/%d#chat", id), http.StatusSeeOther)
}

func (h *AdminHandler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return
	}

	if err := h.Store.UpdateOrderStatus(r.Context(), id, r.FormValue("status")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Order not found", http.StatusNotFound)
			return
		}
		h.flash(w, r, "error", "Error updating status.")
		http.Redirect(w, r, fmt.Sprintf("/admin/orders/%d", id), http.StatusSeeOther)
		return
	}

	slog.Info("Order status changed", "order_id", id, "status", r.FormValue("status"))
	h.flash(w, r, "success", "Order updated!")
	http.Redirect(w, r, fmt.Sprintf("/admin/orders/%d", id), http.StatusSeeOther)
}
