package settlement

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		body    string
		want    Event
		wantErr bool
	}{
		{
			name:   "query_topic_and_id",
			target: "/webhooks/mercadopago?topic=payment&id=12345",
			want:   Event{PaymentID: "12345", Topic: "payment"},
		},
		{
			name:   "query_data_id_and_type",
			target: "/webhooks/mercadopago?type=payment&data.id=98765",
			want:   Event{PaymentID: "98765", Topic: "payment"},
		},
		{
			name:   "body_data_id_string",
			target: "/webhooks/mercadopago",
			body:   `{"type":"payment","data":{"id":"555"}}`,
			want:   Event{PaymentID: "555", Topic: "payment"},
		},
		{
			name:   "body_numeric_id",
			target: "/webhooks/modo",
			body:   `{"id":777,"action":"payment.updated"}`,
			want:   Event{PaymentID: "777", Topic: "payment.updated"},
		},
		{
			name:   "query_wins_over_body",
			target: "/webhooks/mercadopago?id=111&topic=payment",
			body:   `{"data":{"id":"222"},"type":"merchant_order"}`,
			want:   Event{PaymentID: "111", Topic: "payment"},
		},
		{
			name:    "no_id_anywhere",
			target:  "/webhooks/mercadopago?topic=payment",
			body:    `{"action":"something"}`,
			wantErr: true,
		},
		{
			name:    "garbage_body_no_query",
			target:  "/webhooks/mercadopago",
			body:    `not json at all`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", tt.target, strings.NewReader(tt.body))

			evt, err := Normalize(req)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedEvent)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, evt)
		})
	}
}
