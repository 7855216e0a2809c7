package store

import (
	"context"
	"fmt"

	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/models"
)

func (s *Store) InsertChatMessage(ctx context.Context, m *models.ChatMessage) error {
	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO chat_messages (order_id, sender, body, image_path, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.OrderID, m.Sender, m.Body, m.ImagePath, m.Read, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	m.ID, err = res.LastInsertId()
	return err
}

func (s *Store) GetChatMessages(ctx context.Context, orderID int64) ([]models.ChatMessage, error) {
	return listChatMessages(ctx, s.DB, orderID)
}

func (t *Tx) GetChatMessages(ctx context.Context, orderID int64) ([]models.ChatMessage, error) {
	return listChatMessages(ctx, t.tx, orderID)
}

func listChatMessages(ctx context.Context, q queryer, orderID int64) ([]models.ChatMessage, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, sender, body, image_path, is_read, created_at
		FROM chat_messages
		WHERE order_id = ?
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.OrderID, &m.Sender, &m.Body, &m.ImagePath, &m.Read, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkCustomerMessagesRead flags every unread customer message of the order
// as read and reports how many changed.
func (t *Tx) MarkCustomerMessagesRead(ctx context.Context, orderID int64) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE chat_messages SET is_read = 1
		WHERE order_id = ? AND sender = ? AND is_read = 0
	`, orderID, models.SenderCustomer)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	return res.RowsAffected()
}

// GetUnreadCounts maps order id to its number of unread customer messages.
// Orders without unread messages are absent.
func (s *Store) GetUnreadCounts(ctx context.Context) (map[int64]int, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT order_id, COUNT(*) FROM chat_messages
		WHERE sender = ? AND is_read = 0
		GROUP BY order_id
	`, models.SenderCustomer)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var (
			orderID int64
			n       int
		)
		if err := rows.Scan(&orderID, &n); err != nil {
			return nil, err
		}
		counts[orderID] = n
	}
	return counts, rows.Err()
}
