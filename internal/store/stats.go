package store

import (
	"context"
	"database/sql"
	"errors"
)

type DashboardStats struct {
	TotalItems     int
	TotalOrders    int
	UnreadMessages int
	OrdersByStatus map[string]int
	ItemStock      []ItemStock
}

// ItemStock is what is left to sell for one catalog item: free keys for
// key-fulfilled items, pool size for credential items.
type ItemStock struct {
	ItemID     int64
	Title      string
	Category   string
	FreeKeys   int
	PoolSize   int
	OrderLines int
}

func (s *Store) GetDashboardStats(ctx context.Context) (*DashboardStats, error) {
	stats := &DashboardStats{
		OrdersByStatus: make(map[string]int),
	}

	err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM catalog_items").Scan(&stats.TotalItems)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	err = s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders").Scan(&stats.TotalOrders)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	err = s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM chat_messages WHERE sender = 'customer' AND is_read = 0").Scan(&stats.UnreadMessages)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, "SELECT status, COUNT(*) FROM orders GROUP BY status")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, err
		}
		stats.OrdersByStatus[status] = count
	}
	rows.Close()

	itemRows, err := s.DB.QueryContext(ctx, `
		SELECT c.id, c.title, c.category,
			(SELECT COUNT(*) FROM scarce_keys k WHERE k.catalog_item_id = c.id AND k.is_used = 0),
			(SELECT COUNT(*) FROM credentials p WHERE p.catalog_item_id = c.id),
			(SELECT COUNT(*) FROM line_items l WHERE l.catalog_item_id = c.id)
		FROM catalog_items c
		ORDER BY c.title
	`)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var is ItemStock
		if err := itemRows.Scan(&is.ItemID, &is.Title, &is.Category, &is.FreeKeys, &is.PoolSize, &is.OrderLines); err != nil {
			return nil, err
		}
		stats.ItemStock = append(stats.ItemStock, is)
	}

	return stats, itemRows.Err()
}
