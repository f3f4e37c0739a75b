package ledger

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
)

// Terminal reports whether no payment-outcome transition can leave s.
// Shipped/delivered are forward states of paid, not re-settleable ones.
func (s Status) Terminal() bool {
	return s != StatusPending
}

type PointKind string

const (
	PointEarned   PointKind = "earned"
	PointRedeemed PointKind = "redeemed"
)

type User struct {
	ID               uuid.UUID `json:"id"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
	Points           int64     `json:"points"`
	Blocked          bool      `json:"blocked"`
	PurchaseDisabled bool      `json:"purchase_disabled"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type Order struct {
	ID                uuid.UUID   `json:"id"`
	UserID            uuid.UUID   `json:"user_id"`
	Status            Status      `json:"status"`
	TotalCents        int64       `json:"total_cents"`
	DiscountPoints    int64       `json:"discount_points"`
	Gateway           string      `json:"gateway"`
	PaymentID         string      `json:"payment_id,omitempty"`
	PaymentStatus     string      `json:"payment_status,omitempty"`
	ShippingAddress   string      `json:"shipping_address,omitempty"`
	ShippingOption    string      `json:"shipping_option,omitempty"`
	ShippingCostCents int64       `json:"shipping_cost_cents,omitempty"`
	Items             []OrderItem `json:"items"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// OrderItem is an immutable snapshot of a product at order-creation time.
type OrderItem struct {
	ID             uuid.UUID `json:"id"`
	OrderID        uuid.UUID `json:"order_id"`
	ProductID      string    `json:"product_id"`
	Title          string    `json:"title"`
	Quantity       int64     `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	CreatedAt      time.Time `json:"created_at"`
}

type PointEntry struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Amount      int64     `json:"amount"`
	Kind        PointKind `json:"kind"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Shortage records a line item whose stock could not be decremented at
// settlement time without going negative.
type Shortage struct {
	ProductID string `json:"product_id"`
	Requested int64  `json:"requested"`
}
