// Package access mints and checks the expiring tokens that stand in for
// customer authentication: delivery links (one per order) and email access
// links (one email, every order placed with it).
package access

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/metrics"
	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/models"
	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/store"
)

const (
	// DefaultTTL applies to both link kinds.
	DefaultTTL = 24 * time.Hour

	tokenBytes    = 32
	issueAttempts = 3
)

var (
	ErrTokenNotFound = errors.New("access token not found")
	ErrTokenExpired  = errors.New("access token expired")
)

// DeliveryLinkWriter persists delivery links; *store.Store and *store.Tx
// both satisfy it so a link can be minted inside the checkout transaction.
type DeliveryLinkWriter interface {
	InsertDeliveryLink(ctx context.Context, l *models.DeliveryLink) error
}

// LinkStore is the persistence the issuer needs outside a transaction.
type LinkStore interface {
	InsertEmailAccessLink(ctx context.Context, l *models.EmailAccessLink) error
	GetDeliveryLink(ctx context.Context, token string) (*models.DeliveryLink, error)
	GetEmailAccessLink(ctx context.Context, token string) (*models.EmailAccessLink, error)
	GetOrderDetail(ctx context.Context, orderID int64) (*models.OrderDetail, error)
	GetOrdersByEmail(ctx context.Context, email string) ([]models.Order, error)
}

type Issuer struct {
	Store LinkStore
	TTL   time.Duration
	// Now and Rand default to time.Now and crypto/rand.
	Now  func() time.Time
	Rand io.Reader
}

func NewIssuer(s LinkStore, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{Store: s, TTL: ttl}
}

func (i *Issuer) now() time.Time {
	if i.Now != nil {
		return i.Now().UTC()
	}
	return time.Now().UTC()
}

// NewToken returns a URL-safe encoding of 32 random bytes.
func (i *Issuer) NewToken() (string, error) {
	r := i.Rand
	if r == nil {
		r = rand.Reader
	}
	b := make([]byte, tokenBytes)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("read random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// issue draws tokens until insert accepts one. Only a uniqueness violation
// triggers another draw; any other error is returned as is.
func (i *Issuer) issue(insert func(token string) error) error {
	var lastErr error
	for attempt := 0; attempt < issueAttempts; attempt++ {
		token, err := i.NewToken()
		if err != nil {
			return err
		}
		lastErr = insert(token)
		if lastErr == nil || !store.IsUniqueViolation(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("issue token after %d attempts: %w", issueAttempts, lastErr)
}

// IssueDelivery mints the delivery link for an order through w.
func (i *Issuer) IssueDelivery(ctx context.Context, w DeliveryLinkWriter, orderID int64) (*models.DeliveryLink, error) {
	now := i.now()
	link := &models.DeliveryLink{OrderID: orderID, CreatedAt: now, ExpiresAt: now.Add(i.TTL)}
	err := i.issue(func(token string) error {
		link.Token = token
		return w.InsertDeliveryLink(ctx, link)
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}

// IssueEmailAccess mints a purchase lookup link for the address as typed.
func (i *Issuer) IssueEmailAccess(ctx context.Context, email string) (*models.EmailAccessLink, error) {
	now := i.now()
	link := &models.EmailAccessLink{Email: strings.TrimSpace(email), CreatedAt: now, ExpiresAt: now.Add(i.TTL)}
	err := i.issue(func(token string) error {
		link.Token = token
		return i.Store.InsertEmailAccessLink(ctx, link)
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}

// checkExpiry treats a token as valid up to and including its expiry instant.
func (i *Issuer) checkExpiry(expiresAt time.Time) error {
	if i.now().After(expiresAt) {
		return ErrTokenExpired
	}
	return nil
}

// ValidateDelivery resolves a delivery token to its order and fulfillment.
func (i *Issuer) ValidateDelivery(ctx context.Context, token string) (*models.OrderDetail, *models.DeliveryLink, error) {
	link, err := i.Store.GetDeliveryLink(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.TokenValidationsTotal.WithLabelValues("delivery", "not_found").Inc()
			return nil, nil, ErrTokenNotFound
		}
		return nil, nil, err
	}
	if err := i.checkExpiry(link.ExpiresAt); err != nil {
		metrics.TokenValidationsTotal.WithLabelValues("delivery", "expired").Inc()
		return nil, nil, err
	}
	detail, err := i.Store.GetOrderDetail(ctx, link.OrderID)
	if err != nil {
		return nil, nil, fmt.Errorf("load order %d: %w", link.OrderID, err)
	}
	metrics.TokenValidationsTotal.WithLabelValues("delivery", "valid").Inc()
	return detail, link, nil
}

// ValidateEmailAccess resolves a purchase token to its email and every order
// placed with that email, compared case-insensitively.
func (i *Issuer) ValidateEmailAccess(ctx context.Context, token string) (string, []models.Order, error) {
	link, err := i.Store.GetEmailAccessLink(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.TokenValidationsTotal.WithLabelValues("email", "not_found").Inc()
			return "", nil, ErrTokenNotFound
		}
		return "", nil, err
	}
	if err := i.checkExpiry(link.ExpiresAt); err != nil {
		metrics.TokenValidationsTotal.WithLabelValues("email", "expired").Inc()
		return "", nil, err
	}
	orders, err := i.Store.GetOrdersByEmail(ctx, link.Email)
	if err != nil {
		return "", nil, fmt.Errorf("load orders: %w", err)
	}
	metrics.TokenValidationsTotal.WithLabelValues("email", "valid").Inc()
	return link.Email, orders, nil
}

// IsInvalid reports whether err means the link cannot be used (unknown or
// expired), as opposed to a store failure.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrTokenNotFound) || errors.Is(err, ErrTokenExpired)
}
