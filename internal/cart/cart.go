// Package cart keeps the shopper's cart in a signed cookie session.
package cart

import (
	"encoding/gob"
	"net/http"

	"github.com/gorilla/sessions"

	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/models"
)

const (
	SessionName = "cart-session"
	valuesKey   = "lines"
	// MaxQuantity caps a single line; bigger orders go through chat.
	MaxQuantity = 99
)

func init() {
	gob.Register([]models.CartLine{})
}

type Cart struct {
	Sessions sessions.Store
}

func New(s sessions.Store) *Cart {
	return &Cart{Sessions: s}
}

func (c *Cart) load(r *http.Request) (*sessions.Session, []models.CartLine) {
	// A tampered or stale cookie yields a fresh session; treat it as empty.
	session, _ := c.Sessions.Get(r, SessionName)
	lines, _ := session.Values[valuesKey].([]models.CartLine)
	return session, lines
}

func (c *Cart) save(w http.ResponseWriter, r *http.Request, session *sessions.Session, lines []models.CartLine) error {
	if len(lines) == 0 {
		delete(session.Values, valuesKey)
	} else {
		session.Values[valuesKey] = lines
	}
	return session.Save(r, w)
}

// Snapshot returns the cart's lines in the order they were added.
func (c *Cart) Snapshot(r *http.Request) models.CartSnapshot {
	_, lines := c.load(r)
	return models.CartSnapshot{Lines: append([]models.CartLine(nil), lines...)}
}

// Add puts qty more of the item in the cart.
func (c *Cart) Add(w http.ResponseWriter, r *http.Request, itemID int64, qty int) error {
	// Both operands stay within 1..MaxQuantity so the sum cannot overflow.
	qty = clamp(qty)
	session, lines := c.load(r)
	for i := range lines {
		if lines[i].ItemID == itemID {
			lines[i].Quantity = clamp(clamp(lines[i].Quantity) + qty)
			return c.save(w, r, session, lines)
		}
	}
	lines = append(lines, models.CartLine{ItemID: itemID, Quantity: qty})
	return c.save(w, r, session, lines)
}

// Update sets the quantity of an item already in the cart. Quantities below
// one become one; removal goes through Remove.
func (c *Cart) Update(w http.ResponseWriter, r *http.Request, itemID int64, qty int) error {
	session, lines := c.load(r)
	for i := range lines {
		if lines[i].ItemID == itemID {
			lines[i].Quantity = clamp(qty)
			return c.save(w, r, session, lines)
		}
	}
	return nil
}

func (c *Cart) Remove(w http.ResponseWriter, r *http.Request, itemID int64) error {
	session, lines := c.load(r)
	kept := lines[:0]
	for _, l := range lines {
		if l.ItemID != itemID {
			kept = append(kept, l)
		}
	}
	return c.save(w, r, session, kept)
}

func (c *Cart) Clear(w http.ResponseWriter, r *http.Request) error {
	session, _ := c.load(r)
	return c.save(w, r, session, nil)
}

// Count is the number of units in the cart, for the header badge.
func (c *Cart) Count(r *http.Request) int {
	_, lines := c.load(r)
	n := 0
	for _, l := range lines {
		n += l.Quantity
	}
	return n
}

func clamp(q int) int {
	if q < 1 {
		return 1
	}
	if q > MaxQuantity {
		return MaxQuantity
	}
	return q
}
