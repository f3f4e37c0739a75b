package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var ErrUnavailable = errors.New("rate source unavailable")

// Quote is a point-in-time USD→ARS rate snapshot. A checkout takes exactly one
// snapshot and derives every converted amount from it.
type Quote struct {
	SellRate  float64
	FetchedAt time.Time
}

// ConvertCents turns USD cents into whole (rounded) pesos.
func (q Quote) ConvertCents(cents int64) int64 {
	pesos := float64(cents) * q.SellRate / 100
	return int64(pesos + 0.5)
}

type Client struct {
	url    string
	client *http.Client
}

func NewClient(url string, client *http.Client) *Client {
	return &Client{url: url, client: client}
}

func (c *Client) Snapshot(ctx context.Context) (Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("%w: rate source returned %d", ErrUnavailable, resp.StatusCode)
	}

	var body struct {
		Venta float64 `json:"venta"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Quote{}, fmt.Errorf("decode rate response: %w", err)
	}
	if body.Venta <= 0 {
		return Quote{}, fmt.Errorf("%w: non-positive sell rate %f", ErrUnavailable, body.Venta)
	}

	return Quote{SellRate: body.Venta, FetchedAt: time.Now().UTC()}, nil
}
