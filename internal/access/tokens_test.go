package access

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/models"
	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/store"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func setupIssuer(t *testing.T) (*Issuer, *store.Store, *fakeClock) {
	t.Helper()

	s, err := store.NewStore(filepath.Join(t.TempDir(), "access.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	issuer := NewIssuer(s, DefaultTTL)
	issuer.Now = clock.Now
	return issuer, s, clock
}

func placeOrder(t *testing.T, s *store.Store, email string) *models.Order {
	t.Helper()
	order := &models.Order{Email: email, Status: models.OrderStatusCompleted, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.WithTx(context.Background(), func(tx *store.Tx) error {
		return tx.CreateOrder(context.Background(), order)
	}))
	return order
}

func TestNewToken_IsURLSafeWith32Bytes(t *testing.T) {
	issuer := NewIssuer(nil, 0)
	assert.Equal(t, DefaultTTL, issuer.TTL)

	token, err := issuer.NewToken()
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
	assert.NotContains(t, token, "/")
	assert.NotContains(t, token, "+")
	assert.NotContains(t, token, "=")

	other, err := issuer.NewToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestDeliveryLink_ValidUntilExpiryThenGone(t *testing.T) {
	issuer, s, clock := setupIssuer(t)
	ctx := context.Background()
	order := placeOrder(t, s, "buyer@example.com")

	link, err := issuer.IssueDelivery(ctx, s, order.ID)
	require.NoError(t, err)
	assert.True(t, clock.now.Add(24*time.Hour).Equal(link.ExpiresAt))

	detail, got, err := issuer.ValidateDelivery(ctx, link.Token)
	require.NoError(t, err)
	assert.Equal(t, order.ID, detail.Order.ID)
	assert.Equal(t, link.Token, got.Token)

	// valid at the expiry instant itself
	clock.now = link.ExpiresAt
	_, _, err = issuer.ValidateDelivery(ctx, link.Token)
	require.NoError(t, err)

	clock.now = link.ExpiresAt.Add(time.Nanosecond)
	_, _, err = issuer.ValidateDelivery(ctx, link.Token)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.True(t, IsInvalid(err))

	// once expired, never valid again
	for _, later := range []time.Duration{time.Second, time.Hour, 30 * 24 * time.Hour} {
		clock.now = link.ExpiresAt.Add(later)
		_, _, err = issuer.ValidateDelivery(ctx, link.Token)
		assert.ErrorIs(t, err, ErrTokenExpired)
	}
}

func TestDeliveryLink_ReusableWhileValid(t *testing.T) {
	issuer, s, clock := setupIssuer(t)
	ctx := context.Background()
	order := placeOrder(t, s, "buyer@example.com")

	link, err := issuer.IssueDelivery(ctx, s, order.ID)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		clock.now = clock.now.Add(time.Hour)
		_, _, err := issuer.ValidateDelivery(ctx, link.Token)
		require.NoError(t, err)
	}
}

func TestValidate_UnknownToken(t *testing.T) {
	issuer, _, _ := setupIssuer(t)
	ctx := context.Background()

	_, _, err := issuer.ValidateDelivery(ctx, "nope")
	assert.ErrorIs(t, err, ErrTokenNotFound)

	_, _, err = issuer.ValidateEmailAccess(ctx, "nope")
	assert.ErrorIs(t, err, ErrTokenNotFound)
	assert.True(t, IsInvalid(err))
}

func TestEmailAccess_ResolvesAllOrdersCaseInsensitively(t *testing.T) {
	issuer, s, clock := setupIssuer(t)
	ctx := context.Background()
	placeOrder(t, s, "Gamer@Example.com")
	placeOrder(t, s, "gamer@example.com")
	placeOrder(t, s, "someone@example.com")

	link, err := issuer.IssueEmailAccess(ctx, "  GAMER@example.com ")
	require.NoError(t, err)
	assert.Equal(t, "GAMER@example.com", link.Email)

	email, orders, err := issuer.ValidateEmailAccess(ctx, link.Token)
	require.NoError(t, err)
	assert.Equal(t, "GAMER@example.com", email)
	assert.Len(t, orders, 2)

	clock.now = clock.now.Add(25 * time.Hour)
	_, _, err = issuer.ValidateEmailAccess(ctx, link.Token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestIssue_RetriesOnCollision(t *testing.T) {
	issuer, s, _ := setupIssuer(t)
	ctx := context.Background()

	repeated := bytes.Repeat([]byte{7}, 32)
	fresh := bytes.Repeat([]byte{9}, 32)
	issuer.Rand = bytes.NewReader(append(append(append([]byte{}, repeated...), repeated...), fresh...))

	first, err := issuer.IssueEmailAccess(ctx, "a@example.com")
	require.NoError(t, err)

	second, err := issuer.IssueEmailAccess(ctx, "b@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(fresh), second.Token)

	_, err = s.GetEmailAccessLink(ctx, second.Token)
	require.NoError(t, err)
}

func TestIssue_GivesUpAfterRepeatedCollisions(t *testing.T) {
	issuer, _, _ := setupIssuer(t)
	ctx := context.Background()

	same := bytes.Repeat([]byte{1}, 32)
	issuer.Rand = bytes.NewReader(bytes.Repeat(same, 1+issueAttempts))

	_, err := issuer.IssueEmailAccess(ctx, "a@example.com")
	require.NoError(t, err)

	_, err = issuer.IssueEmailAccess(ctx, "a@example.com")
	require.Error(t, err)
	assert.True(t, store.IsUniqueViolation(err))
}

func TestIssue_RandomFailureIsReturned(t *testing.T) {
	issuer, s, _ := setupIssuer(t)
	issuer.Rand = io.LimitReader(bytes.NewReader(nil), 0)
	order := placeOrder(t, s, "a@example.com")

	_, err := issuer.IssueDelivery(context.Background(), s, order.ID)
	assert.Error(t, err)
}
