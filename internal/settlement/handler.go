package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mercadito/internal/gateway"
	"mercadito/internal/ledger"

	"github.com/google/uuid"
)

var ErrUnresolvedReference = errors.New("event does not resolve to an order")

type Settler interface {
	RecordEvent(ctx context.Context, provider, eventID, topic string) (bool, error)
	SettleApproved(ctx context.Context, p ledger.SettleParams) (*ledger.SettleResult, error)
	CancelOrder(ctx context.Context, p ledger.CancelParams) (*ledger.CancelResult, error)
}

// Notifier receives committed status flips; the websocket hub implements it.
type Notifier interface {
	OrderStatusChanged(orderID, status string)
}

type Handler struct {
	store          Settler
	gateways       map[string]gateway.Adapter
	notifier       Notifier
	refundOnCancel bool
	logger         *slog.Logger
}

func NewHandler(store Settler, gateways map[string]gateway.Adapter, notifier Notifier, refundOnCancel bool, logger *slog.Logger) *Handler {
	return &Handler{
		store:          store,
		gateways:       gateways,
		notifier:       notifier,
		refundOnCancel: refundOnCancel,
		logger:         logger,
	}
}

// Outcome reports what a delivery did. Applied is false for idempotent no-ops
// and ignored topics; both are still acknowledged so the provider stops
// redelivering.
type Outcome struct {
	OrderID uuid.UUID
	Status  ledger.Status
	Applied bool
}

// HandleEvent is the settlement state machine. The inbound event only names a
// payment; status is re-fetched from the provider, the order is resolved via
// the echoed external reference, and the transition itself is guarded by the
// ledger's compare-and-set so concurrent duplicate deliveries settle once.
func (h *Handler) HandleEvent(ctx context.Context, provider string, evt Event) (*Outcome, error) {
	adapter, ok := h.gateways[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", gateway.ErrUnknown, provider)
	}

	if !relevantTopic(evt.Topic) {
		h.logger.Info("ignoring event topic", "provider", provider, "topic", evt.Topic)
		return &Outcome{}, nil
	}

	info, err := adapter.FetchPayment(ctx, evt.PaymentID)
	if err != nil {
		// The provider redelivers; no retry loop here.
		return nil, fmt.Errorf("verify payment %s: %w", evt.PaymentID, err)
	}

	if info.ExternalReference == "" {
		return nil, fmt.Errorf("%w: payment %s has no external reference", ErrUnresolvedReference, evt.PaymentID)
	}
	orderID, err := uuid.Parse(info.ExternalReference)
	if err != nil {
		return nil, fmt.Errorf("%w: bad external reference %q", ErrUnresolvedReference, info.ExternalReference)
	}

	fresh, err := h.store.RecordEvent(ctx, provider, evt.PaymentID, evt.Topic)
	if err != nil {
		return nil, err
	}
	if !fresh {
		h.logger.Info("event seen before", "provider", provider, "payment_id", evt.PaymentID)
	}

	switch info.Status {
	case gateway.StatusApproved:
		return h.applyApproved(ctx, provider, orderID, info)
	case gateway.StatusRejected, gateway.StatusCancelled:
		return h.applyCancelled(ctx, provider, orderID, info)
	default:
		h.logger.Info("payment not final yet", "order_id", orderID, "status", info.RawStatus)
		return &Outcome{OrderID: orderID}, nil
	}
}

func (h *Handler) applyApproved(ctx context.Context, provider string, orderID uuid.UUID, info *gateway.PaymentInfo) (*Outcome, error) {
	res, err := h.store.SettleApproved(ctx, ledger.SettleParams{
		OrderID:   orderID,
		Gateway:   provider,
		PaymentID: info.ID,
		RawStatus: info.RawStatus,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrOrderNotFound) {
			return nil, fmt.Errorf("%w: order %s", ErrUnresolvedReference, orderID)
		}
		return nil, err
	}

	if res.AlreadySettled {
		h.logger.Info("settlement already applied", "order_id", orderID, "status", res.Status)
		return &Outcome{OrderID: orderID, Status: res.Status}, nil
	}

	for _, sh := range res.Shortages {
		h.logger.Error("paid order cannot be fully stocked", "order_id", orderID,
			"product_id", sh.ProductID, "requested", sh.Requested)
	}

	h.logger.Info("order settled", "order_id", orderID, "payment_id", info.ID,
		"points_earned", res.PointsEarned)
	h.notifier.OrderStatusChanged(orderID.String(), string(ledger.StatusPaid))

	return &Outcome{OrderID: orderID, Status: ledger.StatusPaid, Applied: true}, nil
}

func (h *Handler) applyCancelled(ctx context.Context, provider string, orderID uuid.UUID, info *gateway.PaymentInfo) (*Outcome, error) {
	res, err := h.store.CancelOrder(ctx, ledger.CancelParams{
		OrderID:      orderID,
		Gateway:      provider,
		PaymentID:    info.ID,
		RawStatus:    info.RawStatus,
		RefundPoints: h.refundOnCancel,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrOrderNotFound) {
			return nil, fmt.Errorf("%w: order %s", ErrUnresolvedReference, orderID)
		}
		return nil, err
	}

	if res.AlreadyFinal {
		h.logger.Info("cancellation already applied", "order_id", orderID, "status", res.Status)
		return &Outcome{OrderID: orderID, Status: res.Status}, nil
	}

	h.logger.Info("order cancelled", "order_id", orderID, "payment_id", info.ID,
		"payment_status", info.RawStatus, "points_returned", res.PointsReturned)
	h.notifier.OrderStatusChanged(orderID.String(), string(ledger.StatusCancelled))

	return &Outcome{OrderID: orderID, Status: ledger.StatusCancelled, Applied: true}, nil
}

// relevantTopic filters the notification kinds that describe a payment.
// Mercado Pago also notifies merchant orders and plan events on the same URL.
func relevantTopic(topic string) bool {
	switch topic {
	case "", "payment", "payment.created", "payment.updated":
		return true
	default:
		return false
	}
}
