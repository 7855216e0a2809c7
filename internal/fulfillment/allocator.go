// Package fulfillment turns a cart into a fulfilled order: it captures prices,
// hands out scarce keys or rotates shared credentials, decides the final
// order status and mints the delivery link, all in one transaction.
package fulfillment

import (
	"context"
	"fmt"
	"time"

	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/metrics"
	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/models"
)

// AllocationTx is the slice of a store transaction the allocator works on.
// *store.Tx implements it.
type AllocationTx interface {
	GetItemByID(ctx context.Context, id int64) (*models.CatalogItem, error)
	ClaimKeys(ctx context.Context, itemID, orderID int64, n int, at time.Time) ([]models.ScarceKey, error)
	GetCredentials(ctx context.Context, itemID int64) ([]models.Credential, error)
	AddAssignment(ctx context.Context, a *models.CredentialAssignment) error
	SetRotationIndex(ctx context.Context, itemID int64, index int) error
	SetOrderStatus(ctx context.Context, orderID int64, status string) error
}

// LineOutcome records what one line item received.
type LineOutcome struct {
	Line        models.LineItem
	Item        models.CatalogItem
	Keys        []models.ScarceKey
	Credentials []models.CredentialAssignment
	Shortfall   int
}

func (l LineOutcome) Delivered() int {
	return len(l.Keys) + len(l.Credentials)
}

type Outcome struct {
	Status string
	Lines  []LineOutcome
}

func (o *Outcome) Partial() bool {
	return o.Status == models.OrderStatusPartial
}

type Allocator struct {
	Now func() time.Time
}

func (a *Allocator) now() time.Time {
	if a != nil && a.Now != nil {
		return a.Now().UTC()
	}
	return time.Now().UTC()
}

// Allocate fulfills every line of the order and writes the final status.
// Running out of keys or credentials is not an error: the line records its
// shortfall, whatever was bound stays bound, and the order ends up partial.
// Any store error is returned and the caller must roll back.
func (a *Allocator) Allocate(ctx context.Context, tx AllocationTx, order *models.Order, lines []models.LineItem) (*Outcome, error) {
	out := &Outcome{Lines: make([]LineOutcome, 0, len(lines))}
	at := a.now()
	short := false

	for _, line := range lines {
		item, err := tx.GetItemByID(ctx, line.CatalogItemID)
		if err != nil {
			return nil, fmt.Errorf("load catalog item %d: %w", line.CatalogItemID, err)
		}
		lo := LineOutcome{Line: line, Item: *item}

		if item.Category.UsesCredentialPool() {
			lo.Credentials, err = a.rotateCredentials(ctx, tx, order.ID, item, line.Quantity, at)
		} else {
			lo.Keys, err = tx.ClaimKeys(ctx, item.ID, order.ID, line.Quantity, at)
		}
		if err != nil {
			return nil, fmt.Errorf("allocate line %d: %w", line.ID, err)
		}

		lo.Shortfall = line.Quantity - lo.Delivered()
		if lo.Shortfall > 0 {
			short = true
			metrics.ShortfallUnitsTotal.WithLabelValues(string(item.Category)).Add(float64(lo.Shortfall))
		}
		metrics.KeysAllocatedTotal.Add(float64(len(lo.Keys)))
		metrics.CredentialsAssignedTotal.Add(float64(len(lo.Credentials)))
		out.Lines = append(out.Lines, lo)
	}

	out.Status = models.OrderStatusCompleted
	if short {
		out.Status = models.OrderStatusPartial
	}
	if err := tx.SetOrderStatus(ctx, order.ID, out.Status); err != nil {
		return nil, err
	}
	order.Status = out.Status
	return out, nil
}

// rotateCredentials copies quantity pool entries, starting at the item's
// rotation index and wrapping around, then advances the index past them.
// An empty pool yields nothing.
func (a *Allocator) rotateCredentials(ctx context.Context, tx AllocationTx, orderID int64, item *models.CatalogItem, quantity int, at time.Time) ([]models.CredentialAssignment, error) {
	pool, err := tx.GetCredentials(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	n := len(pool)
	if n == 0 {
		return nil, nil
	}

	start := item.RotationIndex % n
	if start < 0 {
		start += n
	}
	assigned := make([]models.CredentialAssignment, 0, quantity)
	for i := 0; i < quantity; i++ {
		entry := pool[(start+i)%n]
		ca := models.CredentialAssignment{
			OrderID:       orderID,
			CatalogItemID: item.ID,
			Username:      entry.Username,
			Password:      entry.Password,
			Notes:         entry.Notes,
			CreatedAt:     at,
		}
		if err := tx.AddAssignment(ctx, &ca); err != nil {
			return nil, err
		}
		assigned = append(assigned, ca)
	}

	next := (start + quantity) % n
	if err := tx.SetRotationIndex(ctx, item.ID, next); err != nil {
		return nil, err
	}
	item.RotationIndex = next
	return assigned, nil
}
