package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mercadito/pkg/contracts"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrOrderNotFound      = errors.New("order not found")
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrInvalidTransition  = errors.New("invalid status transition")
)

// One loyalty point is worth one whole currency unit (100 cents).
const pointCents = 100

// One point earned per 100 whole units paid.
const earnDivisorCents = 100 * pointCents

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// UpsertUserByEmail resolves or creates the buyer identity. Concurrent creates
// for the same email collapse onto one row; first insert wins, later calls only
// refresh the display name.
func (s *Store) UpsertUserByEmail(ctx context.Context, email, name string) (*User, error) {
	id := uuid.New()
	var u User
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, email, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name, updated_at = NOW()
		RETURNING id, email, name, points, blocked, purchase_disabled, created_at, updated_at`,
		id, email, name,
	).Scan(&u.ID, &u.Email, &u.Name, &u.Points, &u.Blocked, &u.PurchaseDisabled, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return &u, nil
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, name, points, blocked, purchase_disabled, created_at, updated_at
		FROM users
		WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.Name, &u.Points, &u.Blocked, &u.PurchaseDisabled, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("select user: %w", err)
	}
	return &u, nil
}

type NewItem struct {
	ProductID      string
	Title          string
	Quantity       int64
	UnitPriceCents int64
}

type OpenOrderParams struct {
	UserID            uuid.UUID
	Items             []NewItem
	TotalCents        int64
	DiscountPoints    int64
	Gateway           string
	ShippingAddress   string
	ShippingOption    string
	ShippingCostCents int64
}

// OpenOrder creates a PENDING order together with its item snapshot and, when
// points are redeemed, the balance debit plus its REDEEMED history row. All of
// it commits in one transaction or none of it does: a debit can never exist
// without its order, and the balance never drifts from the history.
func (s *Store) OpenOrder(ctx context.Context, p OpenOrderParams) (*Order, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	orderID := uuid.New()
	now := time.Now().UTC()

	if p.DiscountPoints > 0 {
		tag, err := tx.Exec(ctx, `
			UPDATE users
			SET points = points - $2, updated_at = NOW()
			WHERE id = $1 AND points >= $2`,
			p.UserID, p.DiscountPoints,
		)
		if err != nil {
			return nil, fmt.Errorf("debit points: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, ErrInsufficientPoints
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO point_history (id, user_id, amount, kind, description)
			VALUES ($1, $2, $3, $4, $5)`,
			uuid.New(), p.UserID, -p.DiscountPoints, PointRedeemed,
			fmt.Sprintf("redeemed on order %s", orderID),
		)
		if err != nil {
			return nil, fmt.Errorf("insert redeem history: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, user_id, status, total_cents, discount_points, gateway,
		                    shipping_address, shipping_option, shipping_cost_cents, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		orderID, p.UserID, StatusPending, p.TotalCents, p.DiscountPoints, p.Gateway,
		p.ShippingAddress, p.ShippingOption, p.ShippingCostCents, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	order := &Order{
		ID:                orderID,
		UserID:            p.UserID,
		Status:            StatusPending,
		TotalCents:        p.TotalCents,
		DiscountPoints:    p.DiscountPoints,
		Gateway:           p.Gateway,
		ShippingAddress:   p.ShippingAddress,
		ShippingOption:    p.ShippingOption,
		ShippingCostCents: p.ShippingCostCents,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	for _, it := range p.Items {
		itemID := uuid.New()
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (id, order_id, product_id, title, quantity, unit_price_cents, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			itemID, orderID, it.ProductID, it.Title, it.Quantity, it.UnitPriceCents, now,
		)
		if err != nil {
			return nil, fmt.Errorf("insert order item: %w", err)
		}
		order.Items = append(order.Items, OrderItem{
			ID:             itemID,
			OrderID:        orderID,
			ProductID:      it.ProductID,
			Title:          it.Title,
			Quantity:       it.Quantity,
			UnitPriceCents: it.UnitPriceCents,
			CreatedAt:      now,
		})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return order, nil
}

// AttachPaymentRef records the gateway's reference (preference or intent id)
// once the hosted payment has been created.
func (s *Store) AttachPaymentRef(ctx context.Context, orderID uuid.UUID, paymentID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET payment_id = $2, updated_at = NOW()
		WHERE id = $1`, orderID, paymentID)
	if err != nil {
		return fmt.Errorf("attach payment ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	var o Order
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, status, total_cents, discount_points, gateway, payment_id, payment_status,
		       shipping_address, shipping_option, shipping_cost_cents, created_at, updated_at
		FROM orders
		WHERE id = $1`, id,
	).Scan(&o.ID, &o.UserID, &o.Status, &o.TotalCents, &o.DiscountPoints, &o.Gateway, &o.PaymentID,
		&o.PaymentStatus, &o.ShippingAddress, &o.ShippingOption, &o.ShippingCostCents, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("select order: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, product_id, title, quantity, unit_price_cents, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at`, id)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Title, &it.Quantity, &it.UnitPriceCents, &it.CreatedAt); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	return &o, rows.Err()
}

func (s *Store) PointHistory(ctx context.Context, userID uuid.UUID) ([]PointEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, amount, kind, description, created_at
		FROM point_history
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query point history: %w", err)
	}
	defer rows.Close()

	var entries []PointEntry
	for rows.Next() {
		var e PointEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.Kind, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecordEvent appends a webhook delivery to the payment_events inbox. Returns
// false when this provider+event pair was seen before. The inbox is an audit
// trail and duplicate fast path; settlement correctness rests on the status
// CAS, not on event ids being stable across redeliveries.
func (s *Store) RecordEvent(ctx context.Context, provider, eventID, topic string) (bool, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO payment_events (provider, event_id, topic)
		VALUES ($1, $2, $3)`,
		provider, eventID, topic,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("insert payment event: %w", err)
	}
	return true, nil
}

type SettleParams struct {
	OrderID   uuid.UUID
	Gateway   string
	PaymentID string
	RawStatus string
}

type SettleResult struct {
	AlreadySettled bool
	Status         Status
	UserID         uuid.UUID
	PointsEarned   int64
	Shortages      []Shortage
}

// SettleApproved performs the PENDING→PAID transition. The conditional UPDATE
// is the idempotency gate: of N concurrent deliveries for the same payment,
// exactly one sees RowsAffected==1 and runs the stock and points side effects;
// the rest observe a terminal status and return AlreadySettled.
func (s *Store) SettleApproved(ctx context.Context, p SettleParams) (*SettleResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var (
		userID     uuid.UUID
		totalCents int64
	)
	err = tx.QueryRow(ctx, `
		UPDATE orders
		SET status = $2, payment_id = $3, payment_status = $4, updated_at = NOW()
		WHERE id = $1 AND status = $5
		RETURNING user_id, total_cents`,
		p.OrderID, StatusPaid, p.PaymentID, p.RawStatus, StatusPending,
	).Scan(&userID, &totalCents)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.settledNoop(ctx, tx, p.OrderID)
		}
		return nil, fmt.Errorf("mark order paid: %w", err)
	}

	result := &SettleResult{Status: StatusPaid, UserID: userID}

	items, err := orderItemQuantities(ctx, tx, p.OrderID)
	if err != nil {
		return nil, err
	}

	for _, it := range items {
		tag, err := tx.Exec(ctx, `
			UPDATE products
			SET stock = stock - $2, updated_at = NOW()
			WHERE id = $1 AND stock >= $2`,
			it.ProductID, it.Quantity,
		)
		if err != nil {
			return nil, fmt.Errorf("decrement stock for %s: %w", it.ProductID, err)
		}
		if tag.RowsAffected() == 0 {
			// Stock cannot cover the line after payment; keep it non-negative
			// and queue the shortage for operator reconciliation.
			if _, err := tx.Exec(ctx, `
				INSERT INTO settlement_shortages (order_id, product_id, requested)
				VALUES ($1, $2, $3)`,
				p.OrderID, it.ProductID, it.Quantity,
			); err != nil {
				return nil, fmt.Errorf("record shortage for %s: %w", it.ProductID, err)
			}
			result.Shortages = append(result.Shortages, Shortage{ProductID: it.ProductID, Requested: it.Quantity})
		}
	}

	earned := totalCents / earnDivisorCents
	if earned > 0 {
		if err := creditPoints(ctx, tx, userID, earned,
			fmt.Sprintf("earned on order %s", p.OrderID)); err != nil {
			return nil, err
		}
		result.PointsEarned = earned
	}

	if err := insertSettledOutbox(ctx, tx, contracts.OrderSettledEvent{
		EventID:      uuid.New().String(),
		OrderID:      p.OrderID.String(),
		UserID:       userID.String(),
		Status:       string(StatusPaid),
		TotalCents:   totalCents,
		PointsEarned: result.PointsEarned,
		Gateway:      p.Gateway,
		PaymentID:    p.PaymentID,
		SettledAt:    time.Now().UTC(),
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

type CancelParams struct {
	OrderID      uuid.UUID
	Gateway      string
	PaymentID    string
	RawStatus    string
	RefundPoints bool
}

type CancelResult struct {
	AlreadyFinal   bool
	Status         Status
	UserID         uuid.UUID
	PointsReturned int64
}

// CancelOrder performs the PENDING→CANCELLED transition under the same CAS
// guard as SettleApproved. Redeemed points are returned only when the caller
// asks for it; the historical behavior is to keep the debit.
func (s *Store) CancelOrder(ctx context.Context, p CancelParams) (*CancelResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var (
		userID         uuid.UUID
		totalCents     int64
		discountPoints int64
	)
	err = tx.QueryRow(ctx, `
		UPDATE orders
		SET status = $2, payment_id = $3, payment_status = $4, updated_at = NOW()
		WHERE id = $1 AND status = $5
		RETURNING user_id, total_cents, discount_points`,
		p.OrderID, StatusCancelled, p.PaymentID, p.RawStatus, StatusPending,
	).Scan(&userID, &totalCents, &discountPoints)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			noop, nerr := s.settledNoop(ctx, tx, p.OrderID)
			if nerr != nil {
				return nil, nerr
			}
			return &CancelResult{AlreadyFinal: true, Status: noop.Status, UserID: noop.UserID}, nil
		}
		return nil, fmt.Errorf("mark order cancelled: %w", err)
	}

	result := &CancelResult{Status: StatusCancelled, UserID: userID}

	if p.RefundPoints && discountPoints > 0 {
		if err := creditPoints(ctx, tx, userID, discountPoints,
			fmt.Sprintf("points returned for cancelled order %s", p.OrderID)); err != nil {
			return nil, err
		}
		result.PointsReturned = discountPoints
	}

	if err := insertSettledOutbox(ctx, tx, contracts.OrderSettledEvent{
		EventID:    uuid.New().String(),
		OrderID:    p.OrderID.String(),
		UserID:     userID.String(),
		Status:     string(StatusCancelled),
		TotalCents: totalCents,
		Gateway:    p.Gateway,
		PaymentID:  p.PaymentID,
		SettledAt:  time.Now().UTC(),
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

// AdvanceFulfillment moves a paid order forward: paid→shipped or
// shipped→delivered. Same CAS shape, no side effects.
func (s *Store) AdvanceFulfillment(ctx context.Context, orderID uuid.UUID, to Status) error {
	var from Status
	switch to {
	case StatusShipped:
		from = StatusPaid
	case StatusDelivered:
		from = StatusShipped
	default:
		return ErrInvalidTransition
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3`,
		orderID, to, from,
	)
	if err != nil {
		return fmt.Errorf("advance fulfillment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var current Status
		err := s.pool.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, orderID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("select order status: %w", err)
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, to)
	}
	return nil
}

func (s *Store) settledNoop(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (*SettleResult, error) {
	var (
		status Status
		userID uuid.UUID
	)
	err := tx.QueryRow(ctx, `SELECT status, user_id FROM orders WHERE id = $1`, orderID).Scan(&status, &userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("select order status: %w", err)
	}
	return &SettleResult{AlreadySettled: true, Status: status, UserID: userID}, nil
}

type itemQuantity struct {
	ProductID string
	Quantity  int64
}

func orderItemQuantities(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) ([]itemQuantity, error) {
	rows, err := tx.Query(ctx, `
		SELECT product_id, quantity
		FROM order_items
		WHERE order_id = $1`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	var items []itemQuantity
	for rows.Next() {
		var it itemQuantity
		if err := rows.Scan(&it.ProductID, &it.Quantity); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func creditPoints(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64, description string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE users
		SET points = points + $2, updated_at = NOW()
		WHERE id = $1`, userID, amount)
	if err != nil {
		return fmt.Errorf("credit points: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO point_history (id, user_id, amount, kind, description)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), userID, amount, PointEarned, description,
	)
	if err != nil {
		return fmt.Errorf("insert earn history: %w", err)
	}
	return nil
}

func insertSettledOutbox(ctx context.Context, tx pgx.Tx, evt contracts.OrderSettledEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal settled event: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO settlement_outbox (event_id, event_type, payload)
		VALUES ($1, $2, $3)`,
		evt.EventID, contracts.OrderSettledType, payload,
	)
	if err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}
	return nil
}
