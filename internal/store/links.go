package store

import (
	"context"
	"fmt"

	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/models"
)

// Delivery and email access links. Both tables carry a UNIQUE token; callers
// detect collisions with IsUniqueViolation and retry with a fresh token.

func (s *Store) InsertDeliveryLink(ctx context.Context, l *models.DeliveryLink) error {
	return insertDeliveryLink(ctx, s.DB, l)
}

func (t *Tx) InsertDeliveryLink(ctx context.Context, l *models.DeliveryLink) error {
	return insertDeliveryLink(ctx, t.tx, l)
}

func insertDeliveryLink(ctx context.Context, q queryer, l *models.DeliveryLink) error {
	res, err := q.ExecContext(ctx, `
		INSERT INTO delivery_links (order_id, token, created_at, expires_at)
		VALUES (?, ?, ?, ?)
	`, l.OrderID, l.Token, l.CreatedAt, l.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert delivery link: %w", err)
	}
	l.ID, err = res.LastInsertId()
	return err
}

func (s *Store) GetDeliveryLink(ctx context.Context, token string) (*models.DeliveryLink, error) {
	var l models.DeliveryLink
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, order_id, token, created_at, expires_at
		FROM delivery_links WHERE token = ?
	`, token).Scan(&l.ID, &l.OrderID, &l.Token, &l.CreatedAt, &l.ExpiresAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

// GetDeliveryLinkForOrder is used by the admin order view.
func (s *Store) GetDeliveryLinkForOrder(ctx context.Context, orderID int64) (*models.DeliveryLink, error) {
	var l models.DeliveryLink
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, order_id, token, created_at, expires_at
		FROM delivery_links WHERE order_id = ?
	`, orderID).Scan(&l.ID, &l.OrderID, &l.Token, &l.CreatedAt, &l.ExpiresAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

func (s *Store) InsertEmailAccessLink(ctx context.Context, l *models.EmailAccessLink) error {
	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO email_access_links (email, token, created_at, expires_at)
		VALUES (?, ?, ?, ?)
	`, l.Email, l.Token, l.CreatedAt, l.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert email access link: %w", err)
	}
	l.ID, err = res.LastInsertId()
	return err
}

func (s *Store) GetEmailAccessLink(ctx context.Context, token string) (*models.EmailAccessLink, error) {
	var l models.EmailAccessLink
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, email, token, created_at, expires_at
		FROM email_access_links WHERE token = ?
	`, token).Scan(&l.ID, &l.Email, &l.Token, &l.CreatedAt, &l.ExpiresAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}
