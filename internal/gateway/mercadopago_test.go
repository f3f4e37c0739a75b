package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"mercadito/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paymentRequest() PaymentRequest {
	return PaymentRequest{
		OrderID:         "3f6c0f1e-9d1f-4f0e-8f7a-1a2b3c4d5e6f",
		TotalARS:        123450,
		PayerEmail:      "ana@example.com",
		SuccessURL:      "https://shop.example/checkout/success",
		FailureURL:      "https://shop.example/checkout/failure",
		PendingURL:      "https://shop.example/checkout/pending",
		NotificationURL: "https://shop.example/webhooks/mercadopago",
		Items: []Item{
			{Title: "Keyboard", Quantity: 2, UnitPriceARS: 30000},
			{Title: "Mouse", Quantity: 1, UnitPriceARS: 63450},
		},
	}
}

func TestMercadoPago_CreatePayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		require.Equal(t, "/checkout/preferences", r.URL.Path)
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var pref mpPreference
		require.NoError(t, json.NewDecoder(r.Body).Decode(&pref))
		assert.Equal(t, "3f6c0f1e-9d1f-4f0e-8f7a-1a2b3c4d5e6f", pref.ExternalReference)
		assert.Equal(t, "https://shop.example/webhooks/mercadopago", pref.NotificationURL)
		require.Len(t, pref.Items, 2)
		assert.Equal(t, "ARS", pref.Items[0].CurrencyID)
		assert.Equal(t, int64(30000), pref.Items[0].UnitPrice)

		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":         "pref-42",
			"init_point": "https://mp.example/init/pref-42",
		})
	}))
	defer srv.Close()

	mp := NewMercadoPago(config.MercadoPago{AccessToken: "test-token"}, srv.Client())
	mp.baseURL = srv.URL

	redirect, err := mp.CreatePayment(context.Background(), paymentRequest())
	require.NoError(t, err)
	assert.Equal(t, "pref-42", redirect.ExternalID)
	assert.Equal(t, "https://mp.example/init/pref-42", redirect.RedirectURL)
}

func TestMercadoPago_MissingTokenIsConfigurationError(t *testing.T) {
	mp := NewMercadoPago(config.MercadoPago{}, http.DefaultClient)

	_, err := mp.CreatePayment(context.Background(), paymentRequest())
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = mp.FetchPayment(context.Background(), "123")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestMercadoPago_ProviderErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	mp := NewMercadoPago(config.MercadoPago{AccessToken: "test-token"}, srv.Client())
	mp.baseURL = srv.URL

	_, err := mp.CreatePayment(context.Background(), paymentRequest())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestMercadoPago_FetchPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payments/987", r.URL.Path)
		// The payments API returns numeric ids.
		_, _ = w.Write([]byte(`{"id":987,"status":"approved","external_reference":"3f6c0f1e-9d1f-4f0e-8f7a-1a2b3c4d5e6f"}`))
	}))
	defer srv.Close()

	mp := NewMercadoPago(config.MercadoPago{AccessToken: "test-token"}, srv.Client())
	mp.baseURL = srv.URL

	info, err := mp.FetchPayment(context.Background(), "987")
	require.NoError(t, err)
	assert.Equal(t, "987", info.ID)
	assert.Equal(t, StatusApproved, info.Status)
	assert.Equal(t, "approved", info.RawStatus)
	assert.Equal(t, "3f6c0f1e-9d1f-4f0e-8f7a-1a2b3c4d5e6f", info.ExternalReference)
}

func TestNormalizeMPStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want PaymentStatus
	}{
		{"approved", StatusApproved},
		{"rejected", StatusRejected},
		{"cancelled", StatusCancelled},
		{"refunded", StatusCancelled},
		{"charged_back", StatusCancelled},
		{"pending", StatusPending},
		{"in_process", StatusPending},
		{"authorized", StatusPending},
		{"something_new", StatusUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeMPStatus(tt.raw), tt.raw)
	}
}
