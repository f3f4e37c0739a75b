package checkout_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"mercadito/internal/checkout"
	"mercadito/internal/gateway"
	"mercadito/internal/ledger"
	"mercadito/internal/rates"
	"mercadito/internal/shipping"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	user       *ledger.User
	upsertErr  error
	openParams *ledger.OpenOrderParams
	openErr    error
	attached   map[uuid.UUID]string
}

func (f *fakeLedger) UpsertUserByEmail(ctx context.Context, email, name string) (*ledger.User, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	return f.user, nil
}

func (f *fakeLedger) OpenOrder(ctx context.Context, p ledger.OpenOrderParams) (*ledger.Order, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.openParams = &p
	return &ledger.Order{
		ID:             uuid.New(),
		UserID:         p.UserID,
		Status:         ledger.StatusPending,
		TotalCents:     p.TotalCents,
		DiscountPoints: p.DiscountPoints,
	}, nil
}

func (f *fakeLedger) AttachPaymentRef(ctx context.Context, orderID uuid.UUID, paymentID string) error {
	if f.attached == nil {
		f.attached = make(map[uuid.UUID]string)
	}
	f.attached[orderID] = paymentID
	return nil
}

type fakeAdapter struct {
	name      string
	createFn  func(ctx context.Context, req gateway.PaymentRequest) (*gateway.PaymentRedirect, error)
	lastReq   *gateway.PaymentRequest
	fetchFn   func(ctx context.Context, id string) (*gateway.PaymentInfo, error)
	createdID string
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) CreatePayment(ctx context.Context, req gateway.PaymentRequest) (*gateway.PaymentRedirect, error) {
	f.lastReq = &req
	if f.createFn != nil {
		return f.createFn(ctx, req)
	}
	f.createdID = "pref-123"
	return &gateway.PaymentRedirect{RedirectURL: "https://pay.example/redirect", ExternalID: "pref-123"}, nil
}

func (f *fakeAdapter) FetchPayment(ctx context.Context, id string) (*gateway.PaymentInfo, error) {
	if f.fetchFn != nil {
		return f.fetchFn(ctx, id)
	}
	return nil, errors.New("not implemented")
}

type fakeRates struct {
	quote rates.Quote
	err   error
}

func (f *fakeRates) Snapshot(ctx context.Context) (rates.Quote, error) {
	return f.quote, f.err
}

type fakeShipping struct {
	opt shipping.Option
	err error
}

func (f *fakeShipping) Quote(ctx context.Context, address, option string) (shipping.Option, error) {
	return f.opt, f.err
}

func newService(store *fakeLedger, adapter *fakeAdapter) *checkout.Service {
	return checkout.NewService(
		store,
		map[string]gateway.Adapter{"mercadopago": adapter},
		&fakeRates{quote: rates.Quote{SellRate: 1000}},
		&fakeShipping{},
		"https://shop.example",
		"mercadopago",
		slog.New(slog.NewTextHandler(testWriter{}, nil)),
	)
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func cartItems() []checkout.Item {
	return []checkout.Item{
		{ProductID: "sku-1", Title: "Keyboard", Quantity: 2, UnitPriceCents: 2500},
		{ProductID: "sku-2", Title: "Mouse", Quantity: 1, UnitPriceCents: 5000},
	}
}

func TestCreate_Totals(t *testing.T) {
	tests := []struct {
		name         string
		balance      int64
		redeem       int64
		wantDiscount int64
		wantTotal    int64
	}{
		{
			// $100 cart, no points: total stays 100.00.
			name:         "no_redemption",
			balance:      0,
			redeem:       0,
			wantDiscount: 0,
			wantTotal:    10000,
		},
		{
			// $100 cart, 80 points redeemed: capped at half the total.
			name:         "redemption_capped_at_half_total",
			balance:      80,
			redeem:       80,
			wantDiscount: 50,
			wantTotal:    5000,
		},
		{
			name:         "redemption_capped_at_balance",
			balance:      30,
			redeem:       80,
			wantDiscount: 30,
			wantTotal:    7000,
		},
		{
			name:         "negative_request_ignored",
			balance:      50,
			redeem:       -10,
			wantDiscount: 0,
			wantTotal:    10000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeLedger{user: &ledger.User{ID: uuid.New(), Email: "ana@example.com", Points: tt.balance}}
			adapter := &fakeAdapter{name: "mercadopago"}
			svc := newService(store, adapter)

			result, err := svc.Create(context.Background(), checkout.Request{
				Email:          "ana@example.com",
				Name:           "Ana",
				Items:          cartItems(),
				PointsToRedeem: tt.redeem,
			})
			require.NoError(t, err)
			require.NotNil(t, store.openParams)

			assert.Equal(t, tt.wantDiscount, store.openParams.DiscountPoints)
			assert.Equal(t, tt.wantTotal, store.openParams.TotalCents)
			assert.Equal(t, "https://pay.example/redirect", result.RedirectURL)
			assert.Equal(t, "pref-123", store.attached[result.OrderID])
		})
	}
}

func TestCreate_AccountRestrictions(t *testing.T) {
	tests := []struct {
		name    string
		user    *ledger.User
		wantErr error
	}{
		{
			name:    "blocked",
			user:    &ledger.User{ID: uuid.New(), Blocked: true},
			wantErr: checkout.ErrAccountBlocked,
		},
		{
			name:    "purchase_disabled",
			user:    &ledger.User{ID: uuid.New(), PurchaseDisabled: true},
			wantErr: checkout.ErrPurchaseDisabled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeLedger{user: tt.user}
			svc := newService(store, &fakeAdapter{name: "mercadopago"})

			_, err := svc.Create(context.Background(), checkout.Request{
				Email: "ana@example.com",
				Name:  "Ana",
				Items: cartItems(),
			})
			assert.ErrorIs(t, err, tt.wantErr)
			// Restrictions reject before any monetary action.
			assert.Nil(t, store.openParams)
		})
	}
}

func TestCreate_InputValidation(t *testing.T) {
	store := &fakeLedger{user: &ledger.User{ID: uuid.New()}}
	svc := newService(store, &fakeAdapter{name: "mercadopago"})

	_, err := svc.Create(context.Background(), checkout.Request{Email: "a@b.com", Name: "A"})
	assert.ErrorIs(t, err, checkout.ErrEmptyCart)

	_, err = svc.Create(context.Background(), checkout.Request{
		Email: "a@b.com",
		Name:  "A",
		Items: []checkout.Item{{ProductID: "sku-1", Quantity: 0, UnitPriceCents: 100}},
	})
	assert.ErrorIs(t, err, checkout.ErrInvalidItem)
}

func TestCreate_UnknownGateway(t *testing.T) {
	store := &fakeLedger{user: &ledger.User{ID: uuid.New()}}
	svc := newService(store, &fakeAdapter{name: "mercadopago"})

	_, err := svc.Create(context.Background(), checkout.Request{
		Email:   "a@b.com",
		Name:    "A",
		Items:   cartItems(),
		Gateway: "paypal",
	})
	assert.ErrorIs(t, err, gateway.ErrUnknown)
	assert.Nil(t, store.openParams)
}

func TestCreate_GatewayFailureKeepsOrder(t *testing.T) {
	store := &fakeLedger{user: &ledger.User{ID: uuid.New(), Points: 80}}
	adapter := &fakeAdapter{
		name: "mercadopago",
		createFn: func(ctx context.Context, req gateway.PaymentRequest) (*gateway.PaymentRedirect, error) {
			return nil, gateway.ErrUnavailable
		},
	}
	svc := newService(store, adapter)

	_, err := svc.Create(context.Background(), checkout.Request{
		Email:          "a@b.com",
		Name:           "A",
		Items:          cartItems(),
		PointsToRedeem: 20,
	})
	assert.ErrorIs(t, err, gateway.ErrUnavailable)
	// The order (and its debit) committed before the handoff; it stays payable.
	require.NotNil(t, store.openParams)
	assert.Equal(t, int64(20), store.openParams.DiscountPoints)
}

func TestCreate_ConvertsAmountsOnce(t *testing.T) {
	store := &fakeLedger{user: &ledger.User{ID: uuid.New()}}
	adapter := &fakeAdapter{name: "mercadopago"}
	svc := checkout.NewService(
		store,
		map[string]gateway.Adapter{"mercadopago": adapter},
		&fakeRates{quote: rates.Quote{SellRate: 1234.5}},
		&fakeShipping{},
		"https://shop.example",
		"mercadopago",
		slog.New(slog.NewTextHandler(testWriter{}, nil)),
	)

	_, err := svc.Create(context.Background(), checkout.Request{
		Email: "a@b.com",
		Name:  "A",
		Items: []checkout.Item{{ProductID: "sku-1", Title: "Keyboard", Quantity: 1, UnitPriceCents: 10000}},
	})
	require.NoError(t, err)
	require.NotNil(t, adapter.lastReq)

	// 100.00 USD at 1234.5 → 123450 pesos, rounded whole units.
	assert.Equal(t, int64(123450), adapter.lastReq.TotalARS)
	require.Len(t, adapter.lastReq.Items, 1)
	assert.Equal(t, int64(123450), adapter.lastReq.Items[0].UnitPriceARS)
	assert.Equal(t, "https://shop.example/webhooks/mercadopago", adapter.lastReq.NotificationURL)
}
