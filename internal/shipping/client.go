package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

var ErrUnavailable = errors.New("shipping source unavailable")

// Option is a carrier quote for one shipping method to one address.
type Option struct {
	Name      string `json:"name"`
	CostCents int64  `json:"cost_cents"`
}

type Client struct {
	url    string
	client *http.Client
}

func NewClient(baseURL string, client *http.Client) *Client {
	return &Client{url: baseURL, client: client}
}

// Quote resolves one shipping option cost for an address. An empty base URL
// means no carrier integration is configured; the orchestrator then stores the
// option name with zero cost.
func (c *Client) Quote(ctx context.Context, address, option string) (Option, error) {
	if c.url == "" {
		return Option{Name: option}, nil
	}

	q := url.Values{}
	q.Set("address", address)
	q.Set("option", option)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/quote?"+q.Encode(), nil)
	if err != nil {
		return Option{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Option{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Option{}, fmt.Errorf("%w: shipping source returned %d", ErrUnavailable, resp.StatusCode)
	}

	var opt Option
	if err := json.NewDecoder(resp.Body).Decode(&opt); err != nil {
		return Option{}, fmt.Errorf("decode shipping response: %w", err)
	}
	return opt, nil
}
