package contracts

import "time"

// OrderSettledEvent is published after a settlement transaction commits.
// Downstream consumers (shipping, notifications) subscribe to the fanout
// exchange fed by the settlement outbox.
type OrderSettledEvent struct {
	EventID      string    `json:"event_id"`
	OrderID      string    `json:"order_id"`
	UserID       string    `json:"user_id"`
	Status       string    `json:"status"`
	TotalCents   int64     `json:"total_cents"`
	PointsEarned int64     `json:"points_earned,omitempty"`
	Gateway      string    `json:"gateway"`
	PaymentID    string    `json:"payment_id"`
	SettledAt    time.Time `json:"settled_at"`
}

const OrderSettledType = "orders.settled"
