package machineguardian

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gregjones/httpcache"

	"github.com/gmoura/lavamon/internal/domain/model"
	"github.com/gmoura/lavamon/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.VendorClient = (*Client)(nil)

// errUnauthorized marks a 401 inside a single attempt; do() turns it into
// an invalidate-and-retry, and only a second consecutive 401 escapes as
// ErrInvalidCredentials.
var errUnauthorized = errors.New("vendor rejected token")

// NewHTTPClient builds the HTTP client shared by the session manager and the
// API client: an httpcache memory transport for ETag-conditional GETs, plus
// a bounded per-request timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: httpcache.NewMemoryCacheTransport(),
		Timeout:   timeout,
	}
}

// Client implements the driven.VendorClient port over the Machine Guardian
// HTTP API. It is stateless aside from delegating authentication to the
// SessionManager.
type Client struct {
	httpc     *http.Client
	baseURL   string
	session   *SessionManager
	laundryID string
}

// NewClient creates a vendor API client bound to one laundromat.
func NewClient(httpc *http.Client, baseURL, laundryID string, session *SessionManager) *Client {
	return &Client{
		httpc:     httpc,
		baseURL:   baseURL,
		session:   session,
		laundryID: laundryID,
	}
}

// FetchLaundry returns the monitored laundromat with its machine fleet.
func (c *Client) FetchLaundry(ctx context.Context) (model.LaundryPayload, error) {
	var laundry model.LaundryPayload
	if err := c.do(ctx, http.MethodGet, "/laundry/"+c.laundryID, nil, &laundry); err != nil {
		return model.LaundryPayload{}, fmt.Errorf("fetching laundry %s: %w", c.laundryID, err)
	}
	return laundry, nil
}

// FetchActiveOrders returns the account's in-flight orders.
func (c *Client) FetchActiveOrders(ctx context.Context) ([]model.OrderPayload, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/order/actives", nil, &raw); err != nil {
		return nil, fmt.Errorf("fetching active orders: %w", err)
	}

	orders, err := decodeItems[model.OrderPayload](raw)
	if err != nil {
		return nil, &driven.TransportError{Op: "GET /order/actives", Err: err}
	}
	return orders, nil
}

// FetchCards returns the account's payment cards.
func (c *Client) FetchCards(ctx context.Context) ([]model.CardPayload, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/payment/card", nil, &raw); err != nil {
		return nil, fmt.Errorf("fetching payment cards: %w", err)
	}

	cards, err := decodeItems[model.CardPayload](raw)
	if err != nil {
		return nil, &driven.TransportError{Op: "GET /payment/card", Err: err}
	}
	return cards, nil
}

// StartCycle runs the vendor's two-step checkout: create an order for the
// machine/service pair, then pay for it with the given card. Domain
// rejections surface as the corresponding sentinel errors.
func (c *Client) StartCycle(ctx context.Context, machineID, serviceID, cardID string) (model.OrderPayload, error) {
	var created struct {
		ID      string `json:"id"`
		OrderID string `json:"orderId"`
	}
	err := c.do(ctx, http.MethodPost, "/order", map[string]any{
		"machineId": machineID,
		"serviceId": serviceID,
	}, &created)
	if err != nil {
		return model.OrderPayload{}, classifyStartError(fmt.Errorf("creating order for machine %s: %w", machineID, err))
	}

	orderID := created.ID
	if orderID == "" {
		orderID = created.OrderID
	}
	if orderID == "" {
		return model.OrderPayload{}, &driven.TransportError{
			Op:  "POST /order",
			Err: errors.New("order response missing order id"),
		}
	}

	var order model.OrderPayload
	err = c.do(ctx, http.MethodPost, "/order/checkout", map[string]any{
		"orderId": orderID,
		"cardId":  cardID,
	}, &order)
	if err != nil {
		return model.OrderPayload{}, classifyStartError(fmt.Errorf("checking out order %s: %w", orderID, err))
	}

	slog.Info("cycle started", "machine_id", machineID, "order_id", orderID)
	return order, nil
}

// do issues one authenticated request. On a 401 it invalidates the token,
// obtains a fresh one (triggering a re-login), and retries exactly once;
// a second 401 surfaces ErrInvalidCredentials. No other outcome is retried
// here -- transient failures are the poll coordinator's job.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	token, err := c.session.Token(ctx)
	if err != nil {
		return err
	}

	err = c.attempt(ctx, method, path, body, token, out)
	if !errors.Is(err, errUnauthorized) {
		return err
	}

	c.session.Invalidate(token)
	token, err = c.session.Token(ctx)
	if err != nil {
		return err
	}

	err = c.attempt(ctx, method, path, body, token, out)
	if errors.Is(err, errUnauthorized) {
		return driven.ErrInvalidCredentials
	}
	return err
}

func (c *Client) attempt(ctx context.Context, method, path string, body any, token string, out any) error {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-app-version", appVersion)
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &driven.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &driven.TransportError{Op: op, Err: err}
	}

	slog.Debug("vendor api call",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return errUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return &driven.ThrottledError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode >= 500:
		return &driven.TransportError{Op: op, Status: resp.StatusCode}
	case resp.StatusCode >= 400:
		return &apiError{Status: resp.StatusCode, Message: errorMessage(data)}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &driven.TransportError{Op: op, Err: fmt.Errorf("malformed response: %w", err)}
	}
	return nil
}

// apiError is a non-auth 4xx response: a request the vendor understood and
// rejected. Not transient, never retried.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("vendor rejected request (HTTP %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("vendor rejected request (HTTP %d)", e.Status)
}

// classifyStartError maps vendor rejections of the start-cycle flow onto the
// domain error taxonomy so callers can distinguish "machine taken" from
// "card empty" from plain transport trouble.
func classifyStartError(err error) error {
	var api *apiError
	if !errors.As(err, &api) {
		return err
	}

	message := strings.ToLower(api.Message)
	switch {
	case api.Status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", driven.ErrMachineNotFound, api.Message)
	case api.Status == http.StatusPaymentRequired, strings.Contains(message, "balance"), strings.Contains(message, "insufficient"):
		return fmt.Errorf("%w: %s", driven.ErrInsufficientBalance, api.Message)
	case api.Status == http.StatusConflict, strings.Contains(message, "available"), strings.Contains(message, "in use"):
		return fmt.Errorf("%w: %s", driven.ErrMachineUnavailable, api.Message)
	default:
		return err
	}
}

// errorMessage pulls the human-readable reason out of a vendor error body.
func errorMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Error
}

// decodeItems handles the vendor's two list shapes: a bare JSON array, or an
// envelope with the array under "data".
func decodeItems[T any](raw json.RawMessage) ([]T, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return []T{}, nil
	}

	if trimmed[0] == '[' {
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("malformed list response: %w", err)
		}
		return items, nil
	}

	var envelope struct {
		Data []T `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("malformed list envelope: %w", err)
	}
	if envelope.Data == nil {
		return []T{}, nil
	}
	return envelope.Data, nil
}
