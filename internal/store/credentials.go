package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/models"
)

func (s *Store) AddCredential(ctx context.Context, c *models.Credential) error {
	c.Username = strings.TrimSpace(c.Username)
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("username and password are required")
	}
	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO credentials (catalog_item_id, username, password, notes)
		VALUES (?, ?, ?, ?)
	`, c.CatalogItemID, c.Username, c.Password, strings.TrimSpace(c.Notes))
	if err != nil {
		return fmt.Errorf("add credential: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

// DeleteCredential removes a pool entry. Assignments already handed out are
// copies and stay untouched.
func (s *Store) DeleteCredential(ctx context.Context, itemID, credentialID int64) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM credentials WHERE id = ? AND catalog_item_id = ?`, credentialID, itemID)
	return err
}

func (s *Store) GetCredentials(ctx context.Context, itemID int64) ([]models.Credential, error) {
	return listCredentials(ctx, s.DB, itemID)
}

// GetCredentials returns the item's pool in id order, the order rotation
// indexes into.
func (t *Tx) GetCredentials(ctx context.Context, itemID int64) ([]models.Credential, error) {
	return listCredentials(ctx, t.tx, itemID)
}

func listCredentials(ctx context.Context, q queryer, itemID int64) ([]models.Credential, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, catalog_item_id, username, password, notes
		FROM credentials WHERE catalog_item_id = ? ORDER BY id
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var pool []models.Credential
	for rows.Next() {
		var c models.Credential
		if err := rows.Scan(&c.ID, &c.CatalogItemID, &c.Username, &c.Password, &c.Notes); err != nil {
			return nil, err
		}
		pool = append(pool, c)
	}
	return pool, rows.Err()
}

func (t *Tx) AddAssignment(ctx context.Context, a *models.CredentialAssignment) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO credential_assignments (order_id, catalog_item_id, username, password, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.OrderID, a.CatalogItemID, a.Username, a.Password, a.Notes, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("add credential assignment: %w", err)
	}
	a.ID, err = res.LastInsertId()
	return err
}

func (s *Store) GetAssignmentsForOrder(ctx context.Context, orderID int64) ([]models.CredentialAssignment, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, order_id, catalog_item_id, username, password, notes, created_at
		FROM credential_assignments WHERE order_id = ? ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CredentialAssignment
	for rows.Next() {
		var a models.CredentialAssignment
		if err := rows.Scan(&a.ID, &a.OrderID, &a.CatalogItemID, &a.Username, &a.Password, &a.Notes, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
