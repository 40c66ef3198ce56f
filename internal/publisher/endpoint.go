package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"codeberg.org/mutker/datasyncd/internal/errors"
	"codeberg.org/mutker/datasyncd/internal/logger"
)

const deliveryTimeout = 30 * time.Second

// Endpoint delivers aggregate records to a remote HTTP collector. The
// payload carries the window timestamp, so the endpoint can de-duplicate
// re-sent windows (delivery is at-least-once).
type Endpoint struct {
	url    string
	origin string
	apiKey string
	client *http.Client
}

func NewEndpoint(url, origin, apiKey string) *Endpoint {
	return &Endpoint{
		url:    url,
		origin: origin,
		apiKey: apiKey,
		client: &http.Client{Timeout: deliveryTimeout},
	}
}

// Deliver posts one aggregate record. Any non-2xx response is a delivery
// fault for the caller's retry policy.
func (e *Endpoint) Deliver(ctx context.Context, record *AggregateRecord) error {
	errFactory := errors.New()

	data := make(map[string]any, len(record.Values)+1)
	data["timestamp"] = record.WindowTimestamp()
	for _, field := range record.Fields {
		if value := record.Values[field]; value != nil {
			data[field] = *value
		} else {
			data[field] = nil
		}
	}

	payload, err := json.Marshal(map[string]any{
		"apiKey": e.apiKey,
		"origen": e.origin,
		"data":   data,
	})
	if err != nil {
		return errFactory.Wrap(ErrEncodeFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return errFactory.Wrap(ErrDeliveryFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return errFactory.Wrap(ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errFactory.WithData(ErrEndpointRejected, resp.StatusCode)
	}

	logger.Debug().
		Str("window", record.WindowTimestamp()).
		Int("status", resp.StatusCode).
		Str("response", string(body)).
		Msg("Aggregate delivered")

	return nil
}
