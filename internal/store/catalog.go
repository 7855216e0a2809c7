package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/models"
	"github.com/shopspring/decimal"
)

const catalogColumns = `id, title, COALESCE(slug, '') as slug, description, image_url, instructions, price, original_price, category, rotation_index, created_at`

// CatalogFilter narrows the public catalog listing.
type CatalogFilter struct {
	Category models.Category
	Query    string
	Sort     string // "", "price-asc" or "price-desc"
}

func scanCatalogItem(row interface{ Scan(...any) error }) (*models.CatalogItem, error) {
	var (
		i        models.CatalogItem
		original decimal.NullDecimal
		category string
	)
	if err := row.Scan(&i.ID, &i.Title, &i.Slug, &i.Description, &i.ImageURL, &i.Instructions, &i.Price, &original, &category, &i.RotationIndex, &i.CreatedAt); err != nil {
		return nil, err
	}
	i.Category = models.Category(category)
	if original.Valid {
		op := original.Decimal
		i.OriginalPrice = &op
	}
	return &i, nil
}

func (s *Store) CreateItem(ctx context.Context, item *models.CatalogItem) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO catalog_items (title, slug, description, image_url, instructions, price, original_price, category, rotation_index, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
	`, item.Title, nullString(item.Slug), item.Description, item.ImageURL, item.Instructions, item.Price, nullDecimal(item.OriginalPrice), string(item.Category), item.CreatedAt)
	if err != nil {
		return fmt.Errorf("create catalog item: %w", err)
	}
	item.ID, err = res.LastInsertId()
	return err
}

// ListItems returns the catalog, newest first unless f asks for a price sort.
func (s *Store) ListItems(ctx context.Context, f CatalogFilter) ([]models.CatalogItem, error) {
	var (
		where []string
		args  []any
	)
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(f.Category))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		where = append(where, "LOWER(title) LIKE '%' || LOWER(?) || '%'")
		args = append(args, q)
	}

	query := `SELECT ` + catalogColumns + ` FROM catalog_items`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	// price is stored as TEXT to keep decimals exact; cast only for ordering
	switch f.Sort {
	case "price-asc":
		query += " ORDER BY CAST(price AS REAL) ASC, id DESC"
	case "price-desc":
		query += " ORDER BY CAST(price AS REAL) DESC, id DESC"
	default:
		query += " ORDER BY id DESC"
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.CatalogItem
	for rows.Next() {
		i, err := scanCatalogItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *i)
	}
	return items, rows.Err()
}

func (s *Store) GetItemByID(ctx context.Context, id int64) (*models.CatalogItem, error) {
	return getItemByID(ctx, s.DB, id)
}

// GetItemByID reads the item inside the transaction. The transaction already
// holds the write lock, so the rotation index read here cannot go stale
// before the same transaction writes it back.
func (t *Tx) GetItemByID(ctx context.Context, id int64) (*models.CatalogItem, error) {
	return getItemByID(ctx, t.tx, id)
}

func getItemByID(ctx context.Context, q queryer, id int64) (*models.CatalogItem, error) {
	row := q.QueryRowContext(ctx, `SELECT `+catalogColumns+` FROM catalog_items WHERE id = ?`, id)
	i, err := scanCatalogItem(row)
	if err != nil {
		return nil, notFound(err)
	}
	return i, nil
}

func (s *Store) UpdateItem(ctx context.Context, item *models.CatalogItem) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE catalog_items
		SET title = ?, slug = ?, description = ?, instructions = ?, price = ?, original_price = ?, category = ?
		WHERE id = ?
	`, item.Title, nullString(item.Slug), item.Description, item.Instructions, item.Price, nullDecimal(item.OriginalPrice), string(item.Category), item.ID)
	if err != nil {
		return fmt.Errorf("update catalog item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) UpdateItemImage(ctx context.Context, id int64, imageURL string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE catalog_items SET image_url = ? WHERE id = ?`, imageURL, id)
	return err
}

// DeleteItem fails while any order line still references the item.
func (s *Store) DeleteItem(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM catalog_items WHERE id = ?`, id)
	return err
}

func (t *Tx) SetRotationIndex(ctx context.Context, itemID int64, index int) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE catalog_items SET rotation_index = ? WHERE id = ?`, index, itemID)
	if err != nil {
		return fmt.Errorf("set rotation index: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
