package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/csrf"
	"github.com/gorilla/sessions"
	"github.com/shopspring/decimal"

	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/access"
	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/cart"
	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/chat"
	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/fulfillment"
	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/mailer"
	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/models"
	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/store"
)

type OrderHandler struct {
	Store        *store.Store
	Templates    *TemplateCache
	SessionStore *sessions.CookieStore
	Cart         *cart.Cart
	Checkout     *fulfillment.Service
	Tokens       *access.Issuer
	Chat         *chat.Service
	Outbox       *mailer.Outbox
	BaseURL      string
}

type cartRow struct {
	Item     models.CatalogItem
	Quantity int
	Subtotal decimal.Decimal
}

// cartRows resolves the session cart against the catalog. Lines whose item
// no longer exists are left out.
func (h *OrderHandler) cartRows(r *http.Request) ([]cartRow, decimal.Decimal, error) {
	total := decimal.Zero
	var rows []cartRow
	for _, l := range h.Cart.Snapshot(r).Lines {
		item, err := h.Store.GetItemByID(r.Context(), l.ItemID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, total, err
		}
		sub := item.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
		total = total.Add(sub)
		rows = append(rows, cartRow{Item: *item, Quantity: l.Quantity, Subtotal: sub})
	}
	return rows, total, nil
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func (h *OrderHandler) ViewCart(w http.ResponseWriter, r *http.Request) {
	rows, total, err := h.cartRows(r)
	if err != nil {
		http.Error(w, "Error loading cart", http.StatusInternalServerError)
		return
	}
	session, _ := h.SessionStore.Get(r, publicSessionName)
	data := map[string]interface{}{
		"Title":     "Your Cart",
		"Rows":      rows,
		"Total":     total,
		"CartCount": h.Cart.Count(r),
		"CsrfField": csrf.TemplateField(r),
		"Flashes":   GetFlash(session),
	}
	session.Save(r, w)
	h.Templates.Render(w, http.StatusOK, "cart.html", data)
}

func (h *OrderHandler) AddToCart(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid Item ID", http.StatusBadRequest)
		return
	}
	if _, err := h.Store.GetItemByID(r.Context(), id); err != nil {
		http.Error(w, "Item not found", http.StatusNotFound)
		return
	}
	qty, err := strconv.Atoi(r.FormValue("quantity"))
	if err != nil {
		qty = 1
	}
	if err := h.Cart.Add(w, r, id, qty); err != nil {
		slog.Error("Failed to save cart", "error", err)
		http.Error(w, "Failed to save cart", http.StatusInternalServerError)
		return
	}
	if isHTMX(r) {
		h.Templates.RenderPartial(w, http.StatusOK, "cart.html", "cart_count", map[string]interface{}{
			"CartCount": h.Cart.Count(r),
		})
		return
	}
	http.Redirect(w, r, "/cart", http.StatusSeeOther)
}

func (h *OrderHandler) UpdateCart(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid Item ID", http.StatusBadRequest)
		return
	}
	qty, err := strconv.Atoi(r.FormValue("quantity"))
	if err != nil {
		qty = 1
	}
	if err := h.Cart.Update(w, r, id, qty); err != nil {
		slog.Error("Failed to save cart", "error", err)
		http.Error(w, "Failed to save cart", http.StatusInternalServerError)
		return
	}
	h.cartChanged(w, r)
}

func (h *OrderHandler) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid Item ID", http.StatusBadRequest)
		return
	}
	if err := h.Cart.Remove(w, r, id); err != nil {
		slog.Error("Failed to save cart", "error", err)
		http.Error(w, "Failed to save cart", http.StatusInternalServerError)
		return
	}
	h.cartChanged(w, r)
}

// cartChanged answers an edit to the cart: the refreshed table for HTMX,
// otherwise a redirect back to the cart page. The session registry already
// holds the edited cart, so r reads the new state.
func (h *OrderHandler) cartChanged(w http.ResponseWriter, r *http.Request) {
	if !isHTMX(r) {
		http.Redirect(w, r, "/cart", http.StatusSeeOther)
		return
	}
	rows, total, err := h.cartRows(r)
	if err != nil {
		http.Error(w, "Error loading cart", http.StatusInternalServerError)
		return
	}
	h.Templates.RenderPartial(w, http.StatusOK, "cart.html", "cart_table", map[string]interface{}{
		"Rows":      rows,
		"Total":     total,
		"CsrfField": csrf.TemplateField(r),
	})
}

func (h *OrderHandler) CheckoutForm(w http.ResponseWriter, r *http.Request) {
	h.renderCheckout(w, r, http.StatusOK, nil, "", "")
}

func (h *OrderHandler) renderCheckout(w http.ResponseWriter, r *http.Request, status int, fieldErrors map[string]string, email, name string) {
	rows, total, err := h.cartRows(r)
	if err != nil {
		http.Error(w, "Error loading cart", http.StatusInternalServerError)
		return
	}
	if len(rows) == 0 {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	session, _ := h.SessionStore.Get(r, publicSessionName)
	data := map[string]interface{}{
		"Title":     "Checkout",
		"Rows":      rows,
		"Total":     total,
		"Errors":    fieldErrors,
		"Email":     email,
		"Name":      name,
		"CartCount": h.Cart.Count(r),
		"CsrfField": csrf.TemplateField(r),
		"Flashes":   GetFlash(session),
	}
	session.Save(r, w)
	h.Templates.Render(w, status, "checkout.html", data)
}

// SubmitCheckout places the order and sends the buyer to its delivery page.
// The cart is cleared only once the order is committed.
func (h *OrderHandler) SubmitCheckout(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}
	email := strings.TrimSpace(r.FormValue("email"))
	name := strings.TrimSpace(r.FormValue("name"))

	receipt, err := h.Checkout.Checkout(r.Context(), fulfillment.CheckoutRequest{
		Email: email,
		Name:  name,
		Cart:  h.Cart.Snapshot(r),
	})

	var verr *fulfillment.ValidationError
	switch {
	case errors.As(err, &verr):
		h.renderCheckout(w, r, http.StatusUnprocessableEntity, verr.Fields, email, name)
		return
	case errors.Is(err, fulfillment.ErrEmptyCart):
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	case err != nil:
		session, _ := h.SessionStore.Get(r, publicSessionName)
		session.AddFlash(FlashMessage{Type: "error", Message: "We could not place your order. Please try again."})
		session.Save(r, w)
		http.Redirect(w, r, "/checkout", http.StatusSeeOther)
		return
	}

	if err := h.Cart.Clear(w, r); err != nil {
		slog.Error("Failed to clear cart", "order_id", receipt.Order.ID, "error", err)
	}

	session, _ := h.SessionStore.Get(r, publicSessionName)
	if receipt.Outcome.Partial() {
		session.AddFlash(FlashMessage{Type: "warning", Message: "Some items are not in stock yet. We'll deliver them shortly."})
	} else {
		session.AddFlash(FlashMessage{Type: "success", Message: "Order placed! Your items are below and in your email."})
	}
	session.Save(r, w)
	http.Redirect(w, r, "/delivery/"+receipt.Link.Token, http.StatusSeeOther)
}

// linkGone renders the page shown for unknown and expired links.
func (h *OrderHandler) linkGone(w http.ResponseWriter, r *http.Request, err error) {
	if !access.IsInvalid(err) {
		slog.Error("Failed to validate access link", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	data := map[string]interface{}{
		"Title":     "Link expired",
		"Expired":   errors.Is(err, access.ErrTokenExpired),
		"CartCount": h.Cart.Count(r),
	}
	h.Templates.Render(w, http.StatusGone, "link_expired.html", data)
}

func (h *OrderHandler) Delivery(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	detail, link, err := h.Tokens.ValidateDelivery(r.Context(), token)
	if err != nil {
		h.linkGone(w, r, err)
		return
	}
	messages, err := h.Chat.CustomerThread(r.Context(), detail.Order.ID)
	if err != nil {
		http.Error(w, "Error loading messages", http.StatusInternalServerError)
		return
	}

	session, _ := h.SessionStore.Get(r, publicSessionName)
	data := map[string]interface{}{
		"Title":     "Order #" + strconv.FormatInt(detail.Order.ID, 10),
		"Detail":    detail,
		"Link":      link,
		"Token":     token,
		"Messages":  messages,
		"CartCount": h.Cart.Count(r),
		"CsrfField": csrf.TemplateField(r),
		"Flashes":   GetFlash(session),
	}
	session.Save(r, w)
	h.Templates.Render(w, http.StatusOK, "delivery.html", data)
}

func (h *OrderHandler) ChatThread(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	detail, _, err := h.Tokens.ValidateDelivery(r.Context(), token)
	if err != nil {
		h.linkGone(w, r, err)
		return
	}
	messages, err := h.Chat.CustomerThread(r.Context(), detail.Order.ID)
	if err != nil {
		http.Error(w, "Error loading messages", http.StatusInternalServerError)
		return
	}
	data := map[string]interface{}{
		"Title":     "Messages",
		"Order":     detail.Order,
		"Token":     token,
		"Messages":  messages,
		"CartCount": h.Cart.Count(r),
		"CsrfField": csrf.TemplateField(r),
	}
	h.Templates.Render(w, http.StatusOK, "chat_thread.html", data)
}

func (h *OrderHandler) PostChat(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	detail, _, err := h.Tokens.ValidateDelivery(r.Context(), token)
	if err != nil {
		h.linkGone(w, r, err)
		return
	}

	text, att, cleanup, err := readChatForm(r)
	if err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}
	defer cleanup()

	if _, err := h.Chat.Post(r.Context(), detail.Order.ID, models.SenderCustomer, text, att); err != nil {
		slog.Error("Failed to post chat message", "order_id", detail.Order.ID, "error", err)
		http.Error(w, "Failed to send message", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/delivery/"+token+"#chat", http.StatusSeeOther)
}

// readChatForm pulls the message text and optional image out of a chat form.
// Plain urlencoded posts are accepted too; they simply carry no image.
// Multipart bodies arrive already bounded by ChatUploadMiddleware.
func readChatForm(r *http.Request) (string, *chat.Attachment, func(), error) {
	noop := func() {}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseForm(); err != nil {
			return "", nil, noop, err
		}
		return r.FormValue("text"), nil, noop, nil
	}

	if err := r.ParseMultipartForm(maxChatBody); err != nil {
		return "", nil, noop, err
	}
	text := r.FormValue("text")
	file, header, err := r.FormFile("image")
	if err != nil {
		return text, nil, noop, nil
	}
	att := &chat.Attachment{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	}
	return text, att, func() { file.Close() }, nil
}
