package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"mercadito/internal/checkout"
	"mercadito/internal/gateway"
	"mercadito/internal/ledger"
	"mercadito/internal/settlement"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type CheckoutService interface {
	Create(ctx context.Context, req checkout.Request) (*checkout.Result, error)
}

type SettlementService interface {
	HandleEvent(ctx context.Context, provider string, evt settlement.Event) (*settlement.Outcome, error)
}

type LedgerReader interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*ledger.Order, error)
	GetUser(ctx context.Context, id uuid.UUID) (*ledger.User, error)
	PointHistory(ctx context.Context, userID uuid.UUID) ([]ledger.PointEntry, error)
	AdvanceFulfillment(ctx context.Context, orderID uuid.UUID, to ledger.Status) error
}

type Server struct {
	checkoutSvc CheckoutService
	settlement  SettlementService
	store       LedgerReader
	validate    *validator.Validate
	logger      *slog.Logger
	mux         *http.ServeMux
}

func NewServer(checkoutSvc CheckoutService, settlementSvc SettlementService, store LedgerReader, logger *slog.Logger) *Server {
	s := &Server{
		checkoutSvc: checkoutSvc,
		settlement:  settlementSvc,
		store:       store,
		validate:    validator.New(),
		logger:      logger,
		mux:         http.NewServeMux(),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /checkout", s.createCheckout)
	s.mux.HandleFunc("POST /webhooks/{provider}", s.paymentWebhook)
	s.mux.HandleFunc("GET /webhooks/{provider}", s.webhookLiveness)
	s.mux.HandleFunc("GET /orders/{orderID}", s.getOrder)
	s.mux.HandleFunc("POST /orders/{orderID}/status", s.advanceOrder)
	s.mux.HandleFunc("GET /users/{userID}/points", s.getPoints)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Handle registers an extra route on the server's mux (used for the
// websocket endpoint wired in app).
func (s *Server) Handle(pattern string, handler http.HandlerFunc) {
	s.mux.HandleFunc(pattern, handler)
}

type checkoutItem struct {
	ProductID string `json:"product_id" validate:"required"`
	Title     string `json:"title"`
	Quantity  int64  `json:"quantity" validate:"gt=0"`
	Price     int64  `json:"price" validate:"gte=0"`
}

type checkoutRequest struct {
	Email           string         `json:"email" validate:"required,email"`
	Name            string         `json:"name" validate:"required"`
	Items           []checkoutItem `json:"items" validate:"required,min=1,dive"`
	ShippingAddress string         `json:"shipping_address"`
	ShippingOption  string         `json:"shipping_option"`
	PointsToRedeem  int64          `json:"points_to_redeem" validate:"gte=0"`
	Gateway         string         `json:"gateway"`
}

func (s *Server) createCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCheckoutError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeCheckoutError(w, http.StatusBadRequest, err.Error())
		return
	}

	items := make([]checkout.Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, checkout.Item{
			ProductID:      it.ProductID,
			Title:          it.Title,
			Quantity:       it.Quantity,
			UnitPriceCents: it.Price,
		})
	}

	result, err := s.checkoutSvc.Create(r.Context(), checkout.Request{
		Email:           req.Email,
		Name:            req.Name,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		ShippingOption:  req.ShippingOption,
		PointsToRedeem:  req.PointsToRedeem,
		Gateway:         req.Gateway,
	})
	if err != nil {
		status := checkoutErrorStatus(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("checkout failed", "err", err)
			writeCheckoutError(w, status, "internal error")
			return
		}
		writeCheckoutError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":      true,
		"order_id":     result.OrderID,
		"redirect_url": result.RedirectURL,
		"qr_payload":   result.QRPayload,
	})
}

func checkoutErrorStatus(err error) int {
	switch {
	case errors.Is(err, checkout.ErrAccountBlocked), errors.Is(err, checkout.ErrPurchaseDisabled):
		return http.StatusForbidden
	case errors.Is(err, checkout.ErrEmptyCart), errors.Is(err, checkout.ErrInvalidItem),
		errors.Is(err, gateway.ErrUnknown), errors.Is(err, ledger.ErrInsufficientPoints):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")

	evt, err := settlement.Normalize(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := s.settlement.HandleEvent(r.Context(), provider, evt)
	if err != nil {
		switch {
		case errors.Is(err, settlement.ErrUnresolvedReference), errors.Is(err, gateway.ErrUnknown):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			// Non-2xx makes the provider redeliver; that is the retry loop.
			s.logger.Error("webhook processing failed", "provider", provider,
				"payment_id", evt.PaymentID, "err", err)
			writeError(w, http.StatusBadGateway, "verification failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"received": true,
		"applied":  outcome.Applied,
	})
}

func (s *Server) webhookLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "provider": r.PathValue("provider")})
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(r.PathValue("orderID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	o, err := s.store.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, ledger.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		s.logger.Error("get order", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, o)
}

// advanceOrder moves a paid order along the fulfillment states (shipped,
// delivered). Payment-driven transitions go through the webhook, not here.
func (s *Server) advanceOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(r.PathValue("orderID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req struct {
		Status ledger.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.store.AdvanceFulfillment(r.Context(), orderID, req.Status); err != nil {
		switch {
		case errors.Is(err, ledger.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, ledger.ErrInvalidTransition):
			writeError(w, http.StatusConflict, err.Error())
		default:
			s.logger.Error("advance order", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": orderID, "status": req.Status})
}

func (s *Server) getPoints(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	u, err := s.store.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ledger.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		s.logger.Error("get user", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	history, err := s.store.PointHistory(r.Context(), userID)
	if err != nil {
		s.logger.Error("get point history", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"balance": u.Points,
		"history": history,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeCheckoutError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
