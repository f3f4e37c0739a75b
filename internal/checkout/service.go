package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mercadito/internal/gateway"
	"mercadito/internal/ledger"
	"mercadito/internal/rates"
	"mercadito/internal/shipping"

	"github.com/google/uuid"
)

var (
	ErrAccountBlocked   = errors.New("account is blocked")
	ErrPurchaseDisabled = errors.New("purchases are disabled for this account")
	ErrEmptyCart        = errors.New("cart is empty")
	ErrInvalidItem      = errors.New("invalid cart item")
)

// pointValueCents: 1 loyalty point discounts 1 whole currency unit.
const pointValueCents = 100

type Ledger interface {
	UpsertUserByEmail(ctx context.Context, email, name string) (*ledger.User, error)
	OpenOrder(ctx context.Context, p ledger.OpenOrderParams) (*ledger.Order, error)
	AttachPaymentRef(ctx context.Context, orderID uuid.UUID, paymentID string) error
}

type RateSource interface {
	Snapshot(ctx context.Context) (rates.Quote, error)
}

type ShippingSource interface {
	Quote(ctx context.Context, address, option string) (shipping.Option, error)
}

type Item struct {
	ProductID      string
	Title          string
	Quantity       int64
	UnitPriceCents int64
}

type Request struct {
	Email           string
	Name            string
	Items           []Item
	ShippingAddress string
	ShippingOption  string
	PointsToRedeem  int64
	Gateway         string
}

type Result struct {
	OrderID     uuid.UUID
	RedirectURL string
	QRPayload   string
}

type Service struct {
	store          Ledger
	gateways       map[string]gateway.Adapter
	ratesrc        RateSource
	shipsrc        ShippingSource
	publicBaseURL  string
	defaultGateway string
	logger         *slog.Logger
}

func NewService(store Ledger, gateways map[string]gateway.Adapter, ratesrc RateSource, shipsrc ShippingSource, publicBaseURL, defaultGateway string, logger *slog.Logger) *Service {
	return &Service{
		store:          store,
		gateways:       gateways,
		ratesrc:        ratesrc,
		shipsrc:        shipsrc,
		publicBaseURL:  publicBaseURL,
		defaultGateway: defaultGateway,
		logger:         logger,
	}
}

// Create validates the buyer, opens a PENDING order (debiting any redeemed
// points atomically with it) and hands off to the selected gateway. Account
// checks run before any write; the gateway call runs after the order commit,
// so a gateway failure leaves a payable PENDING order rather than a dangling
// debit.
func (s *Service) Create(ctx context.Context, req Request) (*Result, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyCart
	}

	var rawTotal int64
	for _, it := range req.Items {
		if it.Quantity <= 0 || it.UnitPriceCents < 0 || it.ProductID == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidItem, it.ProductID)
		}
		rawTotal += it.Quantity * it.UnitPriceCents
	}

	gatewayName := req.Gateway
	if gatewayName == "" {
		gatewayName = s.defaultGateway
	}
	adapter, ok := s.gateways[gatewayName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", gateway.ErrUnknown, gatewayName)
	}

	user, err := s.store.UpsertUserByEmail(ctx, req.Email, req.Name)
	if err != nil {
		return nil, err
	}
	if user.Blocked {
		return nil, ErrAccountBlocked
	}
	if user.PurchaseDisabled {
		return nil, ErrPurchaseDisabled
	}

	discount := discountPoints(req.PointsToRedeem, user.Points, rawTotal)
	total := rawTotal - discount*pointValueCents

	// One snapshot per checkout; every converted amount below derives from it.
	quote, err := s.ratesrc.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var shipOpt shipping.Option
	if req.ShippingOption != "" {
		shipOpt, err = s.shipsrc.Quote(ctx, req.ShippingAddress, req.ShippingOption)
		if err != nil {
			return nil, err
		}
	}

	items := make([]ledger.NewItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, ledger.NewItem{
			ProductID:      it.ProductID,
			Title:          it.Title,
			Quantity:       it.Quantity,
			UnitPriceCents: it.UnitPriceCents,
		})
	}

	order, err := s.store.OpenOrder(ctx, ledger.OpenOrderParams{
		UserID:            user.ID,
		Items:             items,
		TotalCents:        total,
		DiscountPoints:    discount,
		Gateway:           gatewayName,
		ShippingAddress:   req.ShippingAddress,
		ShippingOption:    shipOpt.Name,
		ShippingCostCents: shipOpt.CostCents,
	})
	if err != nil {
		return nil, err
	}

	payReq := gateway.PaymentRequest{
		OrderID:         order.ID.String(),
		TotalARS:        quote.ConvertCents(total),
		PayerEmail:      user.Email,
		SuccessURL:      s.publicBaseURL + "/checkout/success?order=" + order.ID.String(),
		FailureURL:      s.publicBaseURL + "/checkout/failure?order=" + order.ID.String(),
		PendingURL:      s.publicBaseURL + "/checkout/pending?order=" + order.ID.String(),
		NotificationURL: s.publicBaseURL + "/webhooks/" + gatewayName,
	}
	for _, it := range req.Items {
		payReq.Items = append(payReq.Items, gateway.Item{
			Title:        it.Title,
			Quantity:     it.Quantity,
			UnitPriceARS: quote.ConvertCents(it.UnitPriceCents),
		})
	}

	redirect, err := adapter.CreatePayment(ctx, payReq)
	if err != nil {
		// The PENDING order and any debit stay; the buyer can retry payment
		// or the order gets cancelled later.
		s.logger.Error("gateway handoff failed", "order_id", order.ID, "gateway", gatewayName, "err", err)
		return nil, fmt.Errorf("create payment for order %s: %w", order.ID, err)
	}

	if err := s.store.AttachPaymentRef(ctx, order.ID, redirect.ExternalID); err != nil {
		return nil, err
	}

	s.logger.Info("checkout opened", "order_id", order.ID, "gateway", gatewayName,
		"total_cents", total, "discount_points", discount)

	return &Result{OrderID: order.ID, RedirectURL: redirect.RedirectURL, QRPayload: redirect.QRPayload}, nil
}

// discountPoints clamps a redemption request to the balance and to half the
// pre-discount total, floored to whole points. Negative requests count as zero.
func discountPoints(requested, balance, rawTotalCents int64) int64 {
	if requested <= 0 {
		return 0
	}
	d := requested
	if balance < d {
		d = balance
	}
	if maxByTotal := rawTotalCents / (2 * pointValueCents); maxByTotal < d {
		d = maxByTotal
	}
	if d < 0 {
		return 0
	}
	return d
}
