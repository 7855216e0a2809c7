package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/access"
	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/mailer"
	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/models"
	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/store"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return m.err
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func setupService(t *testing.T) (*Service, *store.Store, *recordingMailer) {
	t.Helper()

	s, err := store.NewStore(filepath.Join(t.TempDir(), "checkout.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })

	m := &recordingMailer{}
	svc := NewService(s, access.NewIssuer(s, access.DefaultTTL), mailer.NewOutbox(m, time.Second), "https://shop.example.com/")
	return svc, s, m
}

func addItem(t *testing.T, s *store.Store, title string, category models.Category, price string) *models.CatalogItem {
	t.Helper()
	item := &models.CatalogItem{Title: title, Price: decimal.RequireFromString(price), Category: category}
	require.NoError(t, s.CreateItem(context.Background(), item))
	return item
}

func addPool(t *testing.T, s *store.Store, itemID int64, usernames ...string) {
	t.Helper()
	for _, u := range usernames {
		require.NoError(t, s.AddCredential(context.Background(), &models.Credential{
			CatalogItemID: itemID,
			Username:      u,
			Password:      "pw-" + u,
		}))
	}
}

func buy(t *testing.T, svc *Service, email string, lines ...models.CartLine) *Receipt {
	t.Helper()
	r, err := svc.Checkout(context.Background(), CheckoutRequest{
		Email: email,
		Name:  "Buyer",
		Cart:  models.CartSnapshot{Lines: lines},
	})
	require.NoError(t, err)
	svc.Outbox.Wait()
	return r
}

func usernames(as []models.CredentialAssignment) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = a.Username
	}
	return out
}

func TestCheckout_CredentialRotationWrapsAround(t *testing.T) {
	svc, s, _ := setupService(t)
	ctx := context.Background()

	game := addItem(t, s, "Game A", models.CategoryOfflineAccount, "9.99")
	addPool(t, s, game.ID, "A1", "A2", "A3")

	first := buy(t, svc, "one@example.com", models.CartLine{ItemID: game.ID, Quantity: 2})
	assert.Equal(t, models.OrderStatusCompleted, first.Order.Status)
	assert.Equal(t, []string{"A1", "A2"}, usernames(first.Outcome.Lines[0].Credentials))

	item, err := s.GetItemByID(ctx, game.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, item.RotationIndex)

	second := buy(t, svc, "two@example.com", models.CartLine{ItemID: game.ID, Quantity: 2})
	assert.Equal(t, []string{"A3", "A1"}, usernames(second.Outcome.Lines[0].Credentials))

	item, err = s.GetItemByID(ctx, game.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, item.RotationIndex)

	stored, err := s.GetAssignmentsForOrder(ctx, second.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"A3", "A1"}, usernames(stored))
	assert.Equal(t, "pw-A3", stored[0].Password)
}

func TestCheckout_QuantityLargerThanPoolRepeatsEntries(t *testing.T) {
	svc, s, _ := setupService(t)

	game := addItem(t, s, "Game B", models.CategoryOnlineAccount, "4.00")
	addPool(t, s, game.ID, "B1", "B2")

	r := buy(t, svc, "a@example.com", models.CartLine{ItemID: game.ID, Quantity: 5})
	assert.Equal(t, models.OrderStatusCompleted, r.Order.Status)
	assert.Equal(t, []string{"B1", "B2", "B1", "B2", "B1"}, usernames(r.Outcome.Lines[0].Credentials))

	item, err := s.GetItemByID(context.Background(), game.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, item.RotationIndex)
}

func TestCheckout_EmptyPoolIsPartial(t *testing.T) {
	svc, s, m := setupService(t)

	game := addItem(t, s, "Game C", models.CategoryOfflineAccount, "4.00")

	r := buy(t, svc, "a@example.com", models.CartLine{ItemID: game.ID, Quantity: 1})
	assert.Equal(t, models.OrderStatusPartial, r.Order.Status)
	assert.Equal(t, 1, r.Outcome.Lines[0].Shortfall)
	assert.Empty(t, r.Outcome.Lines[0].Credentials)

	require.Len(t, m.sent, 1)
	assert.Contains(t, m.sent[0].Body, "Game C: No accounts available yet.")
}

func TestCheckout_ScarceKeysShortfallKeepsWhatWasBound(t *testing.T) {
	svc, s, _ := setupService(t)
	ctx := context.Background()

	rent := addItem(t, s, "Rental", models.CategoryAccountRent, "2.50")
	_, err := s.ImportKeys(ctx, rent.ID, []string{"KEY-1", "KEY-2"})
	require.NoError(t, err)

	r := buy(t, svc, "a@example.com", models.CartLine{ItemID: rent.ID, Quantity: 3})
	assert.Equal(t, models.OrderStatusPartial, r.Order.Status)
	require.Len(t, r.Outcome.Lines[0].Keys, 2)
	assert.Equal(t, 1, r.Outcome.Lines[0].Shortfall)

	bound, err := s.GetKeysForOrder(ctx, r.Order.ID)
	require.NoError(t, err)
	require.Len(t, bound, 2)
	assert.Equal(t, "KEY-1", bound[0].Secret)
	assert.Equal(t, "KEY-2", bound[1].Secret)
	for _, k := range bound {
		assert.True(t, k.Used)
		require.NotNil(t, k.OrderID)
		assert.Equal(t, r.Order.ID, *k.OrderID)
	}

	order, err := s.GetOrder(ctx, r.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPartial, order.Status)
}

func TestCheckout_CompletedOnlyWhenEveryLineIsFull(t *testing.T) {
	svc, s, _ := setupService(t)
	ctx := context.Background()

	rent := addItem(t, s, "Rental", models.CategoryAccountRent, "2.50")
	_, err := s.ImportKeys(ctx, rent.ID, []string{"K1", "K2"})
	require.NoError(t, err)
	game := addItem(t, s, "Game", models.CategoryOfflineAccount, "5.00")
	addPool(t, s, game.ID, "G1")

	full := buy(t, svc, "a@example.com",
		models.CartLine{ItemID: rent.ID, Quantity: 1},
		models.CartLine{ItemID: game.ID, Quantity: 1},
	)
	assert.Equal(t, models.OrderStatusCompleted, full.Order.Status)

	mixed := buy(t, svc, "b@example.com",
		models.CartLine{ItemID: game.ID, Quantity: 1},
		models.CartLine{ItemID: rent.ID, Quantity: 2},
	)
	assert.Equal(t, models.OrderStatusPartial, mixed.Order.Status)
	assert.Len(t, mixed.Outcome.Lines[0].Credentials, 1)
	assert.Len(t, mixed.Outcome.Lines[1].Keys, 1)
}

func TestCheckout_CapturesPriceAtPurchaseTime(t *testing.T) {
	svc, s, _ := setupService(t)
	ctx := context.Background()

	game := addItem(t, s, "Game", models.CategoryOfflineAccount, "10.00")
	addPool(t, s, game.ID, "G1")

	r := buy(t, svc, "a@example.com", models.CartLine{ItemID: game.ID, Quantity: 2})

	game.Price = decimal.RequireFromString("15.00")
	require.NoError(t, s.UpdateItem(ctx, game))

	lines, err := s.GetLineItems(ctx, r.Order.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "10", lines[0].UnitPrice.String())
	assert.Equal(t, "20", lines[0].Subtotal().String())
}

func TestCheckout_MailsSummaryWithDeliveryLink(t *testing.T) {
	svc, s, m := setupService(t)
	ctx := context.Background()

	rent := addItem(t, s, "Rental", models.CategoryAccountRent, "2.50")
	_, err := s.ImportKeys(ctx, rent.ID, []string{"SECRET-KEY"})
	require.NoError(t, err)

	r := buy(t, svc, "buyer@example.com", models.CartLine{ItemID: rent.ID, Quantity: 1})
	require.NoError(t, <-r.Mailed)
	require.NotNil(t, r.Link)
	assert.Equal(t, r.Order.ID, r.Link.OrderID)

	require.Len(t, m.sent, 1)
	msg := m.sent[0]
	assert.Equal(t, []string{"buyer@example.com"}, msg.To)
	assert.Equal(t, fmt.Sprintf("Your Game Order #%d", r.Order.ID), msg.Subject)
	assert.Contains(t, msg.Body, "SECRET-KEY")
	assert.Contains(t, msg.Body, "https://shop.example.com/delivery/"+r.Link.Token)
	assert.Equal(t, r.Summary, msg.Body)

	stored, err := s.GetDeliveryLinkForOrder(ctx, r.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Link.Token, stored.Token)
}

func TestCheckout_MailFailureDoesNotUndoOrder(t *testing.T) {
	svc, s, m := setupService(t)
	ctx := context.Background()
	m.err = errors.New("smtp down")

	game := addItem(t, s, "Game", models.CategoryOfflineAccount, "5.00")
	addPool(t, s, game.ID, "G1")

	r := buy(t, svc, "a@example.com", models.CartLine{ItemID: game.ID, Quantity: 1})
	assert.EqualError(t, <-r.Mailed, "smtp down")
	assert.Equal(t, models.OrderStatusCompleted, r.Order.Status)

	order, err := s.GetOrder(ctx, r.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, order.Status)
}

// stalledMailer blocks until released or until its context ends.
type stalledMailer struct {
	release chan struct{}
}

func (m *stalledMailer) Send(ctx context.Context, _ mailer.Message) error {
	select {
	case <-m.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestCheckout_StalledMailServerDoesNotHoldUpCheckout(t *testing.T) {
	svc, s, _ := setupService(t)
	stalled := &stalledMailer{release: make(chan struct{})}
	svc.Outbox = mailer.NewOutbox(stalled, time.Hour)

	game := addItem(t, s, "Game", models.CategoryOfflineAccount, "5.00")
	addPool(t, s, game.ID, "G1")

	done := make(chan *Receipt, 1)
	go func() {
		r, err := svc.Checkout(context.Background(), CheckoutRequest{
			Email: "a@example.com",
			Cart:  models.CartSnapshot{Lines: []models.CartLine{{ItemID: game.ID, Quantity: 1}}},
		})
		assert.NoError(t, err)
		done <- r
	}()

	var r *Receipt
	select {
	case r = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("checkout waited for the mail server")
	}
	require.NotNil(t, r)
	assert.Equal(t, models.OrderStatusCompleted, r.Order.Status)

	select {
	case <-r.Mailed:
		t.Fatal("mail reported done before the server answered")
	default:
	}

	close(stalled.release)
	assert.NoError(t, <-r.Mailed)
}

func TestCheckout_MailOutlivesRequestContext(t *testing.T) {
	svc, s, m := setupService(t)

	game := addItem(t, s, "Game", models.CategoryOfflineAccount, "5.00")
	addPool(t, s, game.ID, "G1")

	ctx, cancel := context.WithCancel(context.Background())
	r, err := svc.Checkout(ctx, CheckoutRequest{
		Email: "a@example.com",
		Cart:  models.CartSnapshot{Lines: []models.CartLine{{ItemID: game.ID, Quantity: 1}}},
	})
	require.NoError(t, err)
	cancel()

	assert.NoError(t, <-r.Mailed)
	svc.Outbox.Wait()
	assert.Len(t, m.sent, 1)
}

func TestCheckout_LinkFailureRollsBackEverything(t *testing.T) {
	svc, s, m := setupService(t)
	ctx := context.Background()
	svc.Tokens.Rand = failingReader{}

	rent := addItem(t, s, "Rental", models.CategoryAccountRent, "2.50")
	_, err := s.ImportKeys(ctx, rent.ID, []string{"K1"})
	require.NoError(t, err)
	game := addItem(t, s, "Game", models.CategoryOfflineAccount, "5.00")
	addPool(t, s, game.ID, "G1", "G2")

	_, err = svc.Checkout(ctx, CheckoutRequest{
		Email: "a@example.com",
		Cart: models.CartSnapshot{Lines: []models.CartLine{
			{ItemID: rent.ID, Quantity: 1},
			{ItemID: game.ID, Quantity: 1},
		}},
	})
	require.Error(t, err)
	svc.Outbox.Wait()
	assert.Empty(t, m.sent)

	count, err := s.GetTotalOrdersCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	keys, err := s.GetKeysForItem(ctx, rent.ID)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.False(t, keys[0].Used)
	assert.Nil(t, keys[0].OrderID)

	item, err := s.GetItemByID(ctx, game.ID)
	require.NoError(t, err)
	assert.Zero(t, item.RotationIndex)
}

func TestCheckout_SkipsUnknownItemsAndRejectsEmptyCart(t *testing.T) {
	svc, s, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.Checkout(ctx, CheckoutRequest{Email: "a@example.com"})
	assert.ErrorIs(t, err, ErrEmptyCart)

	_, err = svc.Checkout(ctx, CheckoutRequest{
		Email: "a@example.com",
		Cart:  models.CartSnapshot{Lines: []models.CartLine{{ItemID: 999, Quantity: 1}}},
	})
	assert.ErrorIs(t, err, ErrEmptyCart)

	game := addItem(t, s, "Game", models.CategoryOfflineAccount, "5.00")
	addPool(t, s, game.ID, "G1")
	r := buy(t, svc, "a@example.com",
		models.CartLine{ItemID: 999, Quantity: 1},
		models.CartLine{ItemID: game.ID, Quantity: 1},
	)
	assert.Len(t, r.Outcome.Lines, 1)

	count, err := s.GetTotalOrdersCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCheckout_ValidatesCustomerFields(t *testing.T) {
	svc, _, _ := setupService(t)
	cart := models.CartSnapshot{Lines: []models.CartLine{{ItemID: 1, Quantity: 1}}}

	tests := []struct {
		name  string
		req   CheckoutRequest
		field string
		msg   string
	}{
		{"missing email", CheckoutRequest{Cart: cart}, "email", "Email address is required."},
		{"malformed email", CheckoutRequest{Email: "not-an-email", Cart: cart}, "email", "Please enter a valid email address."},
		{"long name", CheckoutRequest{Email: "a@example.com", Name: strings.Repeat("x", 201), Cart: cart}, "name", "Name must be at most 200 characters."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Checkout(context.Background(), tt.req)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.msg, ve.Fields[tt.field])
		})
	}
}

func TestCheckout_ConcurrentBuyersShareSingleCredential(t *testing.T) {
	svc, s, _ := setupService(t)
	ctx := context.Background()

	game := addItem(t, s, "Solo", models.CategoryOfflineAccount, "1.00")
	addPool(t, s, game.ID, "ONLY")

	const buyers = 8
	var wg sync.WaitGroup
	errs := make(chan error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Checkout(ctx, CheckoutRequest{
				Email: fmt.Sprintf("buyer%d@example.com", i),
				Cart:  models.CartSnapshot{Lines: []models.CartLine{{ItemID: game.ID, Quantity: 1}}},
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	item, err := s.GetItemByID(ctx, game.ID)
	require.NoError(t, err)
	assert.Zero(t, item.RotationIndex)

	orders, err := s.GetAllOrders(ctx, 100, 0)
	require.NoError(t, err)
	require.Len(t, orders, buyers)
	for _, o := range orders {
		assert.Equal(t, models.OrderStatusCompleted, o.Status)
		as, err := s.GetAssignmentsForOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"ONLY"}, usernames(as))
	}
}

func TestCheckout_ConcurrentBuyersNeverShareAKey(t *testing.T) {
	svc, s, _ := setupService(t)
	ctx := context.Background()

	rent := addItem(t, s, "Rental", models.CategoryAccountRent, "1.00")
	_, err := s.ImportKeys(ctx, rent.ID, []string{"K1", "K2", "K3", "K4", "K5"})
	require.NoError(t, err)

	const buyers = 8
	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Checkout(ctx, CheckoutRequest{
				Email: fmt.Sprintf("buyer%d@example.com", i),
				Cart:  models.CartSnapshot{Lines: []models.CartLine{{ItemID: rent.ID, Quantity: 1}}},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	keys, err := s.GetKeysForItem(ctx, rent.ID)
	require.NoError(t, err)
	owners := make(map[int64]int)
	for _, k := range keys {
		require.True(t, k.Used)
		require.NotNil(t, k.OrderID)
		owners[*k.OrderID]++
	}
	assert.Len(t, owners, 5)
	for _, n := range owners {
		assert.Equal(t, 1, n)
	}

	orders, err := s.GetAllOrders(ctx, 100, 0)
	require.NoError(t, err)
	partial := 0
	for _, o := range orders {
		if o.Status == models.OrderStatusPartial {
			partial++
		}
	}
	assert.Equal(t, buyers-5, partial)
}

func TestCheckout_RotationSpreadsEvenlyAcrossStoreHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	open := func() *store.Store {
		s, err := store.NewStore(path)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	}
	first := open()
	require.NoError(t, first.Migrate())
	second := open()

	game := addItem(t, first, "Trio", models.CategoryOnlineAccount, "1.00")
	addPool(t, first, game.ID, "P0", "P1", "P2")

	services := []*Service{
		NewService(first, access.NewIssuer(first, access.DefaultTTL), mailer.NewOutbox(&recordingMailer{}, time.Second), "https://shop.example.com"),
		NewService(second, access.NewIssuer(second, access.DefaultTTL), mailer.NewOutbox(&recordingMailer{}, time.Second), "https://shop.example.com"),
	}

	const buyers = 12
	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := services[i%2].Checkout(ctx, CheckoutRequest{
				Email: fmt.Sprintf("buyer%d@example.com", i),
				Cart:  models.CartSnapshot{Lines: []models.CartLine{{ItemID: game.ID, Quantity: 1}}},
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	for _, svc := range services {
		svc.Outbox.Wait()
	}

	orders, err := first.GetAllOrders(ctx, 100, 0)
	require.NoError(t, err)
	require.Len(t, orders, buyers)
	spread := make(map[string]int)
	for _, o := range orders {
		as, err := first.GetAssignmentsForOrder(ctx, o.ID)
		require.NoError(t, err)
		require.Len(t, as, 1)
		spread[as[0].Username]++
	}
	assert.Equal(t, map[string]int{"P0": 4, "P1": 4, "P2": 4}, spread)

	item, err := second.GetItemByID(ctx, game.ID)
	require.NoError(t, err)
	assert.Zero(t, item.RotationIndex)
}

type failingAssignTx struct {
	*store.Tx
}

func (failingAssignTx) AddAssignment(context.Context, *models.CredentialAssignment) error {
	return errors.New("disk full")
}

func TestAllocate_StoreErrorAbortsTransaction(t *testing.T) {
	_, s, _ := setupService(t)
	ctx := context.Background()

	rent := addItem(t, s, "Rental", models.CategoryAccountRent, "1.00")
	_, err := s.ImportKeys(ctx, rent.ID, []string{"K1"})
	require.NoError(t, err)
	game := addItem(t, s, "Game", models.CategoryOfflineAccount, "1.00")
	addPool(t, s, game.ID, "G1")

	alloc := &Allocator{Now: func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }}
	err = s.WithTx(ctx, func(tx *store.Tx) error {
		order := &models.Order{Email: "a@example.com", Status: models.OrderStatusPending, CreatedAt: time.Now().UTC()}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		lines := []models.LineItem{
			{OrderID: order.ID, CatalogItemID: rent.ID, Quantity: 1, UnitPrice: rent.Price},
			{OrderID: order.ID, CatalogItemID: game.ID, Quantity: 1, UnitPrice: game.Price},
		}
		for i := range lines {
			if err := tx.AddLineItem(ctx, &lines[i]); err != nil {
				return err
			}
		}
		_, err := alloc.Allocate(ctx, failingAssignTx{tx}, order, lines)
		return err
	})
	require.ErrorContains(t, err, "disk full")

	keys, err := s.GetKeysForItem(ctx, rent.ID)
	require.NoError(t, err)
	assert.False(t, keys[0].Used)

	count, err := s.GetTotalOrdersCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCheckout_TwoEntryPoolScenario(t *testing.T) {
	svc, s, _ := setupService(t)

	game := addItem(t, s, "Game A", models.CategoryOnlineAccount, "3.00")
	addPool(t, s, game.ID, "C0", "C1")

	x := buy(t, svc, "x@example.com", models.CartLine{ItemID: game.ID, Quantity: 1})
	assert.Equal(t, []string{"C0"}, usernames(x.Outcome.Lines[0].Credentials))

	y := buy(t, svc, "y@example.com", models.CartLine{ItemID: game.ID, Quantity: 2})
	assert.Equal(t, []string{"C1", "C0"}, usernames(y.Outcome.Lines[0].Credentials))

	item, err := s.GetItemByID(context.Background(), game.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, item.RotationIndex)
}
