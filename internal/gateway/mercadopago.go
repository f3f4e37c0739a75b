package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"mercadito/internal/config"
)

const mercadoPagoAPI = "https://api.mercadopago.com"

// MercadoPago hosts payments through checkout preferences: we create a
// preference with the converted line items and redirect the buyer to its
// init point.
type MercadoPago struct {
	accessToken string
	baseURL     string
	client      *http.Client
}

func NewMercadoPago(cfg config.MercadoPago, client *http.Client) *MercadoPago {
	return &MercadoPago{
		accessToken: cfg.AccessToken,
		baseURL:     mercadoPagoAPI,
		client:      client,
	}
}

func (m *MercadoPago) Name() string { return "mercadopago" }

type mpPreferenceItem struct {
	Title      string `json:"title"`
	Quantity   int64  `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
	CurrencyID string `json:"currency_id"`
}

type mpPreference struct {
	Items             []mpPreferenceItem `json:"items"`
	ExternalReference string             `json:"external_reference"`
	NotificationURL   string             `json:"notification_url"`
	BackURLs          struct {
		Success string `json:"success"`
		Failure string `json:"failure"`
		Pending string `json:"pending"`
	} `json:"back_urls"`
	AutoReturn string `json:"auto_return"`
	Payer      struct {
		Email string `json:"email,omitempty"`
	} `json:"payer"`
}

func (m *MercadoPago) CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentRedirect, error) {
	if m.accessToken == "" {
		return nil, fmt.Errorf("%w: mercadopago access token missing", ErrNotConfigured)
	}

	pref := mpPreference{ExternalReference: req.OrderID, NotificationURL: req.NotificationURL, AutoReturn: "approved"}
	pref.BackURLs.Success = req.SuccessURL
	pref.BackURLs.Failure = req.FailureURL
	pref.BackURLs.Pending = req.PendingURL
	pref.Payer.Email = req.PayerEmail
	for _, it := range req.Items {
		pref.Items = append(pref.Items, mpPreferenceItem{
			Title:      it.Title,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPriceARS,
			CurrencyID: "ARS",
		})
	}

	var resp struct {
		ID        string `json:"id"`
		InitPoint string `json:"init_point"`
	}
	if err := m.do(ctx, http.MethodPost, "/checkout/preferences", pref, &resp); err != nil {
		return nil, err
	}

	return &PaymentRedirect{RedirectURL: resp.InitPoint, ExternalID: resp.ID}, nil
}

func (m *MercadoPago) FetchPayment(ctx context.Context, paymentID string) (*PaymentInfo, error) {
	if m.accessToken == "" {
		return nil, fmt.Errorf("%w: mercadopago access token missing", ErrNotConfigured)
	}

	var resp struct {
		ID                json.Number `json:"id"`
		Status            string      `json:"status"`
		ExternalReference string      `json:"external_reference"`
	}
	if err := m.do(ctx, http.MethodGet, "/v1/payments/"+paymentID, nil, &resp); err != nil {
		return nil, err
	}

	return &PaymentInfo{
		ID:                resp.ID.String(),
		Status:            normalizeMPStatus(resp.Status),
		RawStatus:         resp.Status,
		ExternalReference: resp.ExternalReference,
	}, nil
}

func (m *MercadoPago) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: mercadopago %s %s returned %d", ErrUnavailable, method, path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode mercadopago response: %w", err)
	}
	return nil
}

func normalizeMPStatus(status string) PaymentStatus {
	switch status {
	case "approved":
		return StatusApproved
	case "rejected":
		return StatusRejected
	case "cancelled", "refunded", "charged_back":
		return StatusCancelled
	case "pending", "in_process", "authorized":
		return StatusPending
	default:
		return StatusUnknown
	}
}
