package rates

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"compra":1015.0,"venta":1065.0,"nombre":"Oficial"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client())

	q, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1065.0, q.SellRate)
	assert.False(t, q.FetchedAt.IsZero())
}

func TestSnapshot_BadResponses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server_error", status: 500, body: ""},
		{name: "zero_rate", status: 200, body: `{"venta":0}`},
		{name: "negative_rate", status: 200, body: `{"venta":-3}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(srv.URL, srv.Client())
			_, err := c.Snapshot(context.Background())
			assert.ErrorIs(t, err, ErrUnavailable)
		})
	}
}

func TestConvertCents(t *testing.T) {
	tests := []struct {
		name  string
		cents int64
		rate  float64
		want  int64
	}{
		{name: "whole", cents: 10000, rate: 1000, want: 100000},
		{name: "rounds_up", cents: 150, rate: 1001, want: 1502},
		{name: "rounds_down", cents: 100, rate: 1000.4, want: 1000},
		{name: "zero", cents: 0, rate: 1234.5, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := Quote{SellRate: tt.rate}
			assert.Equal(t, tt.want, q.ConvertCents(tt.cents))
		})
	}
}
