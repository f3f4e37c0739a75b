package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"mercadito/internal/config"
)

// Modo first exchanges client credentials for a short-lived token, then
// creates a payment intent. Tokens are deliberately not cached: each checkout
// re-authenticates, so a revoked credential fails fast.
type Modo struct {
	clientID     string
	clientSecret string
	storeID      string
	baseURL      string
	client       *http.Client
}

func NewModo(cfg config.Modo, client *http.Client) *Modo {
	return &Modo{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		storeID:      cfg.StoreID,
		baseURL:      cfg.BaseURL,
		client:       client,
	}
}

func (m *Modo) Name() string { return "modo" }

func (m *Modo) configured() error {
	if m.clientID == "" || m.clientSecret == "" || m.storeID == "" {
		return fmt.Errorf("%w: modo client id, secret and store id are required", ErrNotConfigured)
	}
	return nil
}

type modoIntentRequest struct {
	ProductName       string `json:"productName"`
	Price             int64  `json:"price"`
	Quantity          int64  `json:"quantity"`
	StoreID           string `json:"storeId"`
	CurrencyCode      string `json:"currencyCode"`
	ExternalReference string `json:"externalIntentionId"`
	CallbackURL       string `json:"callbackURL"`
}

type modoIntentResponse struct {
	ID          string `json:"id"`
	QR          string `json:"qr"`
	Deeplink    string `json:"deeplink"`
	CheckoutURL string `json:"checkoutUrl"`
}

func (m *Modo) CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentRedirect, error) {
	if err := m.configured(); err != nil {
		return nil, err
	}

	token, err := m.fetchToken(ctx)
	if err != nil {
		return nil, err
	}

	intent := modoIntentRequest{
		ProductName:       intentLabel(req.Items),
		Price:             req.TotalARS,
		Quantity:          1,
		StoreID:           m.storeID,
		CurrencyCode:      "ARS",
		ExternalReference: req.OrderID,
		CallbackURL:       req.NotificationURL,
	}

	var resp modoIntentResponse
	if err := m.do(ctx, http.MethodPost, "/payment-intention", token, intent, &resp); err != nil {
		return nil, err
	}

	redirect := resp.CheckoutURL
	if redirect == "" {
		redirect = resp.Deeplink
	}
	return &PaymentRedirect{RedirectURL: redirect, ExternalID: resp.ID, QRPayload: resp.QR}, nil
}

func (m *Modo) FetchPayment(ctx context.Context, paymentID string) (*PaymentInfo, error) {
	if err := m.configured(); err != nil {
		return nil, err
	}

	token, err := m.fetchToken(ctx)
	if err != nil {
		return nil, err
	}

	var resp struct {
		ID                string `json:"id"`
		Status            string `json:"status"`
		ExternalReference string `json:"externalIntentionId"`
	}
	if err := m.do(ctx, http.MethodGet, "/payment-intention/"+paymentID, token, nil, &resp); err != nil {
		return nil, err
	}

	return &PaymentInfo{
		ID:                resp.ID,
		Status:            normalizeModoStatus(resp.Status),
		RawStatus:         resp.Status,
		ExternalReference: resp.ExternalReference,
	}, nil
}

func (m *Modo) fetchToken(ctx context.Context) (string, error) {
	body := map[string]string{
		"username": m.clientID,
		"password": m.clientSecret,
	}

	var resp struct {
		AccessToken string `json:"accessToken"`
	}
	if err := m.do(ctx, http.MethodPost, "/stores/companies/token", "", body, &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("%w: modo token response empty", ErrUnavailable)
	}
	return resp.AccessToken, nil
}

func (m *Modo) do(ctx context.Context, method, path, token string, body, out any) error {
	payload := []byte(nil)
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: modo %s %s returned %d", ErrUnavailable, method, path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode modo response: %w", err)
	}
	return nil
}

func intentLabel(items []Item) string {
	if len(items) == 1 {
		return items[0].Title
	}
	return fmt.Sprintf("order with %d items", len(items))
}

func normalizeModoStatus(status string) PaymentStatus {
	switch status {
	case "ACCEPTED", "APPROVED":
		return StatusApproved
	case "REJECTED":
		return StatusRejected
	case "CANCELLED", "EXPIRED":
		return StatusCancelled
	case "CREATED", "SCANNED", "PROCESSING":
		return StatusPending
	default:
		return StatusUnknown
	}
}
