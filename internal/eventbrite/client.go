package eventbrite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

var (
	// ErrTransport covers network failures and non-2xx answers.
	ErrTransport = errors.New("eventbrite transport error")
	// ErrMalformedResponse is returned when the body is not JSON.
	ErrMalformedResponse = errors.New("eventbrite malformed response")
)

const ownedEventsQuery = "users/me/owned_events/?status=live&order_by=start_desc"

// maxBodyBytes bounds how much of a response is read into memory.
const maxBodyBytes = 16 << 20

// RequestURL builds the live, start-descending owned events URL for endpoint.
// The endpoint is expected to end with a slash.
func RequestURL(endpoint string) string {
	return endpoint + ownedEventsQuery
}

// Client issues the single authenticated GET the sync relies on.
type Client struct {
	httpClient *http.Client
}

// NewClient configures a client with a tuned transport and the given timeout.
func NewClient(timeout time.Duration) *Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return NewClientWithHTTP(&http.Client{Timeout: timeout, Transport: tr})
}

// NewClientWithHTTP wraps an existing http.Client.
func NewClientWithHTTP(hc *http.Client) *Client {
	return &Client{httpClient: hc}
}

// Fetch returns the elements of the response's "events" field. A missing field,
// or one that is neither an array nor an object, yields an empty result.
// Only the first page is consumed.
func (c *Client) Fetch(ctx context.Context, requestURL, token string) ([]EventPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: eventbrite responded with %s", ErrTransport, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}
	return decodeEvents(body)
}

func decodeEvents(body []byte) ([]EventPayload, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		// A JSON document that is valid but not an object carries no events.
		if json.Valid(body) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	raw, ok := envelope["events"]
	if !ok {
		return nil, nil
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	switch raw[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("%w: events: %v", ErrMalformedResponse, err)
		}
		out := make([]EventPayload, 0, len(items))
		for _, item := range items {
			out = append(out, EventPayload(item))
		}
		return out, nil
	case '{':
		return objectValues(raw)
	default:
		return nil, nil
	}
}

// objectValues returns the member values of a JSON object in document order.
func objectValues(raw json.RawMessage) ([]EventPayload, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: events: %v", ErrMalformedResponse, err)
	}
	var out []EventPayload
	for dec.More() {
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("%w: events key: %v", ErrMalformedResponse, err)
		}
		var item json.RawMessage
		if err := dec.Decode(&item); err != nil {
			return nil, fmt.Errorf("%w: events value: %v", ErrMalformedResponse, err)
		}
		out = append(out, EventPayload(item))
	}
	return out, nil
}
