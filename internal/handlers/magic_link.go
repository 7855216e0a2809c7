package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/csrf"

	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/mailer"
	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/models"
)

var addressValidator = validator.New()

func (h *OrderHandler) RequestPurchasesLink(w http.ResponseWriter, r *http.Request) {
	session, _ := h.SessionStore.Get(r, publicSessionName)
	data := map[string]interface{}{
		"Title":     "My Purchases",
		"CartCount": h.Cart.Count(r),
		"CsrfField": csrf.TemplateField(r),
		"Flashes":   GetFlash(session),
	}
	session.Save(r, w)
	h.Templates.Render(w, http.StatusOK, "purchases_request.html", data)
}

// SendPurchasesLink mails a purchase lookup link when the address has
// orders. The response is the same either way so the form cannot be used to
// learn which addresses bought something.
func (h *OrderHandler) SendPurchasesLink(w http.ResponseWriter, r *http.Request) {
	session, _ := h.SessionStore.Get(r, publicSessionName)
	defer session.Save(r, w)

	email := strings.TrimSpace(r.FormValue("email"))
	if err := addressValidator.Var(email, "required,email,max=254"); err != nil {
		session.AddFlash(FlashMessage{Type: "error", Message: "Please enter a valid email address."})
		http.Redirect(w, r, "/purchases", http.StatusSeeOther)
		return
	}

	orders, err := h.Store.GetOrdersByEmail(r.Context(), email)
	if err != nil {
		slog.Error("Failed to look up orders by email", "error", err)
		session.AddFlash(FlashMessage{Type: "error", Message: "Internal Error processing your request."})
		http.Redirect(w, r, "/purchases", http.StatusSeeOther)
		return
	}

	if len(orders) > 0 {
		link, err := h.Tokens.IssueEmailAccess(r.Context(), email)
		if err != nil {
			slog.Error("Failed to issue purchases link", "error", err)
			session.AddFlash(FlashMessage{Type: "error", Message: "Error generating access link. Please try again."})
			http.Redirect(w, r, "/purchases", http.StatusSeeOther)
			return
		}
		h.mailPurchasesLink(r.Context(), email, link.Token, len(orders))
	} else {
		slog.Info("Purchases link requested for unknown email")
	}

	session.AddFlash(FlashMessage{Type: "success", Message: "If you have purchases with us, a link has been sent to your email."})
	http.Redirect(w, r, "/purchases", http.StatusSeeOther)
}

func (h *OrderHandler) mailPurchasesLink(ctx context.Context, email, token string, count int) {
	body := fmt.Sprintf("Hello,\n\nYou have %d order(s) with us. View all of them here:\n%s/purchases/%s\n\nThe link is valid for %s.\n",
		count, h.BaseURL, token, h.Tokens.TTL)
	h.Outbox.Send(ctx, mailer.Message{
		To:      []string{email},
		Subject: "Your purchases",
		Body:    body,
	})
}

func (h *OrderHandler) MyPurchases(w http.ResponseWriter, r *http.Request) {
	email, orders, err := h.Tokens.ValidateEmailAccess(r.Context(), r.PathValue("token"))
	if err != nil {
		h.linkGone(w, r, err)
		return
	}

	details := make([]*models.OrderDetail, 0, len(orders))
	for _, o := range orders {
		d, err := h.Store.GetOrderDetail(r.Context(), o.ID)
		if err != nil {
			slog.Error("Failed to load order detail", "order_id", o.ID, "error", err)
			http.Error(w, "Error fetching your orders", http.StatusInternalServerError)
			return
		}
		details = append(details, d)
	}

	h.Templates.Render(w, http.StatusOK, "my_purchases.html", map[string]interface{}{
		"Title":     "My Purchases",
		"Email":     email,
		"Orders":    details,
		"CartCount": h.Cart.Count(r),
	})
}
