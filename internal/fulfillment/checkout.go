package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/access"
	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/mailer"
	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/metrics"
	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/models"
	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/store"
)

// ErrEmptyCart means none of the cart lines refer to a catalog item.
var ErrEmptyCart = errors.New("cart is empty")

type CheckoutRequest struct {
	Email string `validate:"required,email,max=254"`
	Name  string `validate:"max=200"`
	Cart  models.CartSnapshot
}

// ValidationError carries one message per rejected form field.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for f, m := range e.Fields {
		msgs = append(msgs, f+": "+m)
	}
	return "invalid checkout: " + strings.Join(msgs, "; ")
}

// Receipt is what a successful checkout produced. Mailed reports the
// confirmation email's fate once it is known; the order is committed
// whether or not the email goes out, so callers may ignore it.
type Receipt struct {
	Order   models.Order
	Outcome *Outcome
	Link    *models.DeliveryLink
	Summary string
	Mailed  <-chan error
}

type Service struct {
	Store     *store.Store
	Tokens    *access.Issuer
	Outbox    *mailer.Outbox
	Allocator *Allocator
	BaseURL   string
	Now       func() time.Time

	validate *validator.Validate
}

func NewService(s *store.Store, tokens *access.Issuer, outbox *mailer.Outbox, baseURL string) *Service {
	if outbox == nil {
		outbox = mailer.NewOutbox(nil, 0)
	}
	return &Service{
		Store:     s,
		Tokens:    tokens,
		Outbox:    outbox,
		Allocator: &Allocator{},
		BaseURL:   strings.TrimRight(baseURL, "/"),
		validate:  validator.New(),
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// ValidateRequest checks the customer-entered fields.
func (s *Service) ValidateRequest(req CheckoutRequest) error {
	if s.validate == nil {
		s.validate = validator.New()
	}
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	ve := &ValidationError{Fields: make(map[string]string)}
	for _, fe := range verrs {
		switch fe.Field() {
		case "Email":
			if fe.Tag() == "required" {
				ve.Fields["email"] = "Email address is required."
			} else {
				ve.Fields["email"] = "Please enter a valid email address."
			}
		case "Name":
			ve.Fields["name"] = "Name must be at most 200 characters."
		default:
			ve.Fields[strings.ToLower(fe.Field())] = "Invalid value."
		}
	}
	return ve
}

// Checkout creates the order, its line items at today's prices, allocates
// stock and mints the delivery link in a single transaction, then mails the
// summary in the background. A store error anywhere before commit leaves no
// trace of the order.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*Receipt, error) {
	req.Email = strings.TrimSpace(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	if err := s.ValidateRequest(req); err != nil {
		return nil, err
	}
	if req.Cart.Empty() {
		return nil, ErrEmptyCart
	}

	started := time.Now()
	receipt := &Receipt{}
	err := s.Store.WithTx(ctx, func(tx *store.Tx) error {
		type priced struct {
			item *models.CatalogItem
			qty  int
		}
		var resolved []priced
		for _, cl := range req.Cart.Lines {
			if cl.Quantity < 1 {
				continue
			}
			item, err := tx.GetItemByID(ctx, cl.ItemID)
			if errors.Is(err, store.ErrNotFound) {
				slog.Warn("Skipping unknown cart item", "item_id", cl.ItemID)
				continue
			}
			if err != nil {
				return err
			}
			resolved = append(resolved, priced{item: item, qty: cl.Quantity})
		}
		if len(resolved) == 0 {
			return ErrEmptyCart
		}

		order := &models.Order{
			Email:     req.Email,
			Name:      req.Name,
			Status:    models.OrderStatusPending,
			CreatedAt: s.now(),
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}

		lines := make([]models.LineItem, 0, len(resolved))
		for _, p := range resolved {
			line := models.LineItem{
				OrderID:       order.ID,
				CatalogItemID: p.item.ID,
				ItemTitle:     p.item.Title,
				Quantity:      p.qty,
				UnitPrice:     p.item.Price,
			}
			if err := tx.AddLineItem(ctx, &line); err != nil {
				return err
			}
			lines = append(lines, line)
		}

		outcome, err := s.Allocator.Allocate(ctx, tx, order, lines)
		if err != nil {
			return err
		}

		link, err := s.Tokens.IssueDelivery(ctx, tx, order.ID)
		if err != nil {
			return fmt.Errorf("issue delivery link: %w", err)
		}

		receipt.Order = *order
		receipt.Outcome = outcome
		receipt.Link = link
		return nil
	})
	metrics.CheckoutDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		if !errors.Is(err, ErrEmptyCart) {
			metrics.CheckoutsTotal.WithLabelValues("failed").Inc()
			slog.Error("Checkout transaction aborted", "email", req.Email, "error", err)
		}
		return nil, err
	}
	metrics.CheckoutsTotal.WithLabelValues(receipt.Order.Status).Inc()

	receipt.Summary = Summary(receipt.Order, receipt.Outcome, s.DeliveryURL(receipt.Link.Token), receipt.Link.ExpiresAt)
	receipt.Mailed = s.Outbox.Send(ctx, mailer.Message{
		To:      []string{receipt.Order.Email},
		Subject: "Your Game Order #" + fmt.Sprint(receipt.Order.ID),
		Body:    receipt.Summary,
	})

	slog.Info("Order fulfilled",
		"order_id", receipt.Order.ID,
		"status", receipt.Order.Status,
		"lines", len(receipt.Outcome.Lines),
	)
	return receipt, nil
}

func (s *Service) DeliveryURL(token string) string {
	return s.BaseURL + "/delivery/" + token
}
