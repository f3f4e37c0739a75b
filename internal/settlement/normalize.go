package settlement

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

var ErrMalformedEvent = errors.New("malformed payment event")

// Event is the canonical {payment id, topic} pair extracted from a webhook.
// Everything else in the delivery is ignored; the event is only a "go check"
// signal and the authoritative status is re-fetched from the provider.
type Event struct {
	PaymentID string
	Topic     string
}

type eventBody struct {
	ID     any    `json:"id"`
	Type   string `json:"type"`
	Topic  string `json:"topic"`
	Action string `json:"action"`
	Status string `json:"status"`
	Data   struct {
		ID any `json:"id"`
	} `json:"data"`
}

// Normalize accepts the inconsistent encodings gateways actually send:
// query parameters (`id`/`data.id` plus `topic`/`type`) and JSON bodies with
// the id at the top level or under `data`. Field precedence follows the more
// specific key first.
func Normalize(r *http.Request) (Event, error) {
	q := r.URL.Query()

	evt := Event{
		PaymentID: firstNonEmpty(q.Get("data.id"), q.Get("id")),
		Topic:     firstNonEmpty(q.Get("topic"), q.Get("type")),
	}

	if r.Body != nil {
		var body eventBody
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			if evt.PaymentID == "" {
				evt.PaymentID = firstNonEmpty(stringify(body.Data.ID), stringify(body.ID))
			}
			if evt.Topic == "" {
				evt.Topic = firstNonEmpty(body.Type, body.Topic, body.Action)
			}
		}
	}

	if evt.PaymentID == "" {
		return Event{}, fmt.Errorf("%w: no payment id in query or body", ErrMalformedEvent)
	}
	return evt, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatInt(int64(x), 10)
	case json.Number:
		return x.String()
	default:
		return ""
	}
}
