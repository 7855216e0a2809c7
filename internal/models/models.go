package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Category string

const (
	CategoryOfflineAccount Category = "offline-account"
	CategoryOnlineAccount  Category = "online-account"
	CategoryAccountRent    Category = "account-rent"
)

// Categories lists the catalog categories in display order.
var Categories = []Category{CategoryOfflineAccount, CategoryOnlineAccount, CategoryAccountRent}

func (c Category) Valid() bool {
	switch c {
	case CategoryOfflineAccount, CategoryOnlineAccount, CategoryAccountRent:
		return true
	}
	return false
}

// UsesCredentialPool reports whether items of this category are fulfilled by
// rotating through a shared credential pool instead of consuming scarce keys.
func (c Category) UsesCredentialPool() bool {
	return c == CategoryOfflineAccount || c == CategoryOnlineAccount
}

func (c Category) Label() string {
	switch c {
	case CategoryOfflineAccount:
		return "Offline Account"
	case CategoryOnlineAccount:
		return "Online Account"
	case CategoryAccountRent:
		return "Account Rent"
	}
	return string(c)
}

const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusPartial   = "partial"
)

const (
	SenderCustomer = "customer"
	SenderAdmin    = "admin"
)

type CatalogItem struct {
	ID            int64            `json:"id"`
	Title         string           `json:"title"`
	Slug          string           `json:"slug,omitempty"`
	Description   string           `json:"description"`
	ImageURL      string           `json:"image_url"`
	Instructions  string           `json:"instructions"` // shown on the delivery page
	Price         decimal.Decimal  `json:"price"`
	OriginalPrice *decimal.Decimal `json:"original_price,omitempty"`
	Category      Category         `json:"category"`
	RotationIndex int              `json:"rotation_index"`
	CreatedAt     time.Time        `json:"created_at"`
}

// DiscountPercent is the rounded saving against OriginalPrice, or 0 when the
// item is not discounted.
func (i CatalogItem) DiscountPercent() int {
	if i.OriginalPrice == nil || !i.OriginalPrice.IsPositive() || !i.OriginalPrice.GreaterThan(i.Price) {
		return 0
	}
	one := decimal.NewFromInt(1)
	pct := one.Sub(i.Price.Div(*i.OriginalPrice)).Mul(decimal.NewFromInt(100)).Round(0)
	return int(pct.IntPart())
}

type Order struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type LineItem struct {
	ID            int64           `json:"id"`
	OrderID       int64           `json:"order_id"`
	CatalogItemID int64           `json:"catalog_item_id"`
	ItemTitle     string          `json:"item_title"` // For display convenience
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
}

func (l LineItem) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type ScarceKey struct {
	ID            int64      `json:"id"`
	CatalogItemID int64      `json:"catalog_item_id"`
	Secret        string     `json:"-"`
	Used          bool       `json:"used"`
	OrderID       *int64     `json:"order_id,omitempty"`
	AssignedAt    *time.Time `json:"assigned_at,omitempty"`
}

// Credential is one entry of a catalog item's shared login pool.
type Credential struct {
	ID            int64  `json:"id"`
	CatalogItemID int64  `json:"catalog_item_id"`
	Username      string `json:"username"`
	Password      string `json:"-"`
	Notes         string `json:"notes"`
}

// CredentialAssignment is the copy of a pool entry handed to an order. Later
// edits to the pool do not touch it.
type CredentialAssignment struct {
	ID            int64     `json:"id"`
	OrderID       int64     `json:"order_id"`
	CatalogItemID int64     `json:"catalog_item_id"`
	Username      string    `json:"username"`
	Password      string    `json:"-"`
	Notes         string    `json:"notes"`
	CreatedAt     time.Time `json:"created_at"`
}

type DeliveryLink struct {
	ID        int64     `json:"id"`
	OrderID   int64     `json:"order_id"`
	Token     string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type EmailAccessLink struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Token     string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ChatMessage struct {
	ID        int64     `json:"id"`
	OrderID   int64     `json:"order_id"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	ImagePath string    `json:"image_path,omitempty"`
	Read      bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Password string `json:"-"` // Store hashed password
}

// OrderDetail is an order together with everything delivered for it.
type OrderDetail struct {
	Order       Order
	Lines       []LineItem
	Keys        []ScarceKey
	Credentials []CredentialAssignment
	// Instructions per catalog item id, for items that carry any.
	Instructions map[int64]string
}

func (d OrderDetail) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range d.Lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// KeysFor returns the keys bound to the order for one catalog item.
func (d OrderDetail) KeysFor(itemID int64) []ScarceKey {
	var out []ScarceKey
	for _, k := range d.Keys {
		if k.CatalogItemID == itemID {
			out = append(out, k)
		}
	}
	return out
}

func (d OrderDetail) CredentialsFor(itemID int64) []CredentialAssignment {
	var out []CredentialAssignment
	for _, c := range d.Credentials {
		if c.CatalogItemID == itemID {
			out = append(out, c)
		}
	}
	return out
}

// CartLine is one (item, quantity) pair of a cart.
type CartLine struct {
	ItemID   int64
	Quantity int
}

// CartSnapshot is the finalized cart handed to checkout.
type CartSnapshot struct {
	Lines []CartLine
}

func (c CartSnapshot) Empty() bool {
	return len(c.Lines) == 0
}
