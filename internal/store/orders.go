package store

import (
	"context"
	"fmt"

	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/models"
)

func (t *Tx) CreateOrder(ctx context.Context, order *models.Order) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (email, name, status, created_at)
		VALUES (?, ?, ?, ?)
	`, order.Email, order.Name, order.Status, order.CreatedAt)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	order.ID, err = res.LastInsertId()
	return err
}

func (t *Tx) AddLineItem(ctx context.Context, line *models.LineItem) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO line_items (order_id, catalog_item_id, quantity, unit_price)
		VALUES (?, ?, ?, ?)
	`, line.OrderID, line.CatalogItemID, line.Quantity, line.UnitPrice)
	if err != nil {
		return fmt.Errorf("add line item: %w", err)
	}
	line.ID, err = res.LastInsertId()
	return err
}

func (t *Tx) SetOrderStatus(ctx context.Context, orderID int64, status string) error {
	if _, err := t.tx.ExecContext(ctx, `UPDATE orders SET status = ? WHERE id = ?`, status, orderID); err != nil {
		return fmt.Errorf("set order status: %w", err)
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	var o models.Order
	err := s.DB.QueryRowContext(ctx, `SELECT id, email, name, status, created_at FROM orders WHERE id = ?`, id).
		Scan(&o.ID, &o.Email, &o.Name, &o.Status, &o.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func (s *Store) GetAllOrders(ctx context.Context, limit, offset int) ([]models.Order, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, email, name, status, created_at
		FROM orders
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(&o.ID, &o.Email, &o.Name, &o.Status, &o.CreatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *Store) GetTotalOrdersCount(ctx context.Context) (int, error) {
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders").Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// GetOrdersByEmail matches the address case-insensitively, newest first.
func (s *Store) GetOrdersByEmail(ctx context.Context, email string) ([]models.Order, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, email, name, status, created_at
		FROM orders
		WHERE LOWER(email) = LOWER(?)
		ORDER BY created_at DESC, id DESC
	`, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(&o.ID, &o.Email, &o.Name, &o.Status, &o.CreatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// UpdateOrderStatus is the manual admin override; allocation never calls it.
func (s *Store) UpdateOrderStatus(ctx context.Context, id int64, status string) error {
	switch status {
	case models.OrderStatusPending, models.OrderStatusCompleted, models.OrderStatusPartial:
	default:
		return fmt.Errorf("invalid order status %q", status)
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE orders SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetLineItems(ctx context.Context, orderID int64) ([]models.LineItem, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT l.id, l.order_id, l.catalog_item_id, c.title, l.quantity, l.unit_price
		FROM line_items l
		JOIN catalog_items c ON c.id = l.catalog_item_id
		WHERE l.order_id = ?
		ORDER BY l.id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []models.LineItem
	for rows.Next() {
		var l models.LineItem
		if err := rows.Scan(&l.ID, &l.OrderID, &l.CatalogItemID, &l.ItemTitle, &l.Quantity, &l.UnitPrice); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// GetOrderDetail loads an order with its lines and everything bound to it.
func (s *Store) GetOrderDetail(ctx context.Context, orderID int64) (*models.OrderDetail, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	d := &models.OrderDetail{Order: *order, Instructions: make(map[int64]string)}

	if d.Lines, err = s.GetLineItems(ctx, orderID); err != nil {
		return nil, fmt.Errorf("load line items: %w", err)
	}
	if d.Keys, err = s.GetKeysForOrder(ctx, orderID); err != nil {
		return nil, fmt.Errorf("load keys: %w", err)
	}
	if d.Credentials, err = s.GetAssignmentsForOrder(ctx, orderID); err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT DISTINCT c.id, c.instructions
		FROM line_items l
		JOIN catalog_items c ON c.id = l.catalog_item_id
		WHERE l.order_id = ? AND c.instructions != ''
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id   int64
			text string
		)
		if err := rows.Scan(&id, &text); err != nil {
			return nil, err
		}
		d.Instructions[id] = text
	}
	return d, rows.Err()
}
