package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/models"
)

// ImportKeys adds new unused keys for an item. Blank lines and secrets that
// already exist are skipped; the number actually inserted is returned.
func (s *Store) ImportKeys(ctx context.Context, itemID int64, secrets []string) (int, error) {
	added := 0
	err := s.WithTx(ctx, func(tx *Tx) error {
		for _, secret := range secrets {
			secret = strings.TrimSpace(secret)
			if secret == "" {
				continue
			}
			res, err := tx.tx.ExecContext(ctx, `
				INSERT INTO scarce_keys (catalog_item_id, secret, is_used)
				VALUES (?, ?, 0)
				ON CONFLICT(secret) DO NOTHING
			`, itemID, secret)
			if err != nil {
				return fmt.Errorf("import key: %w", err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				added++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// ClaimKeys binds up to n unused keys of the item to the order, lowest id
// first, and returns the ones it bound. Fewer than n means the item ran out.
func (t *Tx) ClaimKeys(ctx context.Context, itemID, orderID int64, n int, at time.Time) ([]models.ScarceKey, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, secret FROM scarce_keys
		WHERE catalog_item_id = ? AND is_used = 0
		ORDER BY id
		LIMIT ?
	`, itemID, n)
	if err != nil {
		return nil, fmt.Errorf("select free keys: %w", err)
	}
	var candidates []models.ScarceKey
	for rows.Next() {
		k := models.ScarceKey{CatalogItemID: itemID}
		if err := rows.Scan(&k.ID, &k.Secret); err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	claimed := make([]models.ScarceKey, 0, len(candidates))
	for _, k := range candidates {
		res, err := t.tx.ExecContext(ctx, `
			UPDATE scarce_keys SET is_used = 1, order_id = ?, assigned_at = ?
			WHERE id = ? AND is_used = 0
		`, orderID, at, k.ID)
		if err != nil {
			return nil, fmt.Errorf("claim key %d: %w", k.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		oid, ts := orderID, at
		k.Used, k.OrderID, k.AssignedAt = true, &oid, &ts
		claimed = append(claimed, k)
	}
	return claimed, nil
}

func (s *Store) GetKeysForOrder(ctx context.Context, orderID int64) ([]models.ScarceKey, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, catalog_item_id, secret, is_used, order_id, assigned_at
		FROM scarce_keys WHERE order_id = ? ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKeys(rows)
}

// GetKeysForItem lists every key of an item, used ones included.
func (s *Store) GetKeysForItem(ctx context.Context, itemID int64) ([]models.ScarceKey, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, catalog_item_id, secret, is_used, order_id, assigned_at
		FROM scarce_keys WHERE catalog_item_id = ? ORDER BY id
	`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKeys(rows)
}

func scanKeys(rows *sql.Rows) ([]models.ScarceKey, error) {
	var keys []models.ScarceKey
	for rows.Next() {
		var (
			k          models.ScarceKey
			orderID    sql.NullInt64
			assignedAt sql.NullTime
		)
		if err := rows.Scan(&k.ID, &k.CatalogItemID, &k.Secret, &k.Used, &orderID, &assignedAt); err != nil {
			return nil, err
		}
		k.OrderID = nullInt64Ptr(orderID)
		k.AssignedAt = nullTimePtr(assignedAt)
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
