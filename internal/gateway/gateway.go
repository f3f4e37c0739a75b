package gateway

import (
	"context"
	"errors"
)

var (
	// ErrNotConfigured means this provider is missing a credential. Fatal for
	// the provider only; the other one may still be usable.
	ErrNotConfigured = errors.New("gateway not configured")
	// ErrUnavailable covers timeouts and non-2xx provider responses. Surfaced
	// to the checkout caller as retryable; never retried here.
	ErrUnavailable = errors.New("gateway unavailable")
	ErrUnknown     = errors.New("unknown gateway")
)

// PaymentStatus is the normalized provider status vocabulary.
type PaymentStatus string

const (
	StatusApproved  PaymentStatus = "approved"
	StatusRejected  PaymentStatus = "rejected"
	StatusCancelled PaymentStatus = "cancelled"
	StatusPending   PaymentStatus = "pending"
	StatusUnknown   PaymentStatus = "unknown"
)

type Item struct {
	Title        string
	Quantity     int64
	UnitPriceARS int64
}

// PaymentRequest carries everything a provider needs to host a payment.
// Amounts are whole pesos, converted once at checkout time.
type PaymentRequest struct {
	OrderID         string
	Items           []Item
	TotalARS        int64
	PayerEmail      string
	SuccessURL      string
	FailureURL      string
	PendingURL      string
	NotificationURL string
}

type PaymentRedirect struct {
	RedirectURL string
	// ExternalID is the provider-side reference (preference or intent id).
	ExternalID string
	// QRPayload is set by providers that also return an in-person QR code.
	QRPayload string
}

// PaymentInfo is the authoritative state fetched back from the provider
// during settlement. ExternalReference echoes the order id set at creation.
type PaymentInfo struct {
	ID                string
	Status            PaymentStatus
	RawStatus         string
	ExternalReference string
}

// Adapter is implemented by each payment provider. Adapters never touch the
// database; settlement owns every ledger mutation.
type Adapter interface {
	Name() string
	CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentRedirect, error)
	FetchPayment(ctx context.Context, paymentID string) (*PaymentInfo, error)
}
