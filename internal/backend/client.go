// Package backend is the REST client for the donation platform backend.
// The backend owns persistence, payments and the current nisab; this
// package only speaks its HTTP contract.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/sadaka-platform/zakat"
)

// ErrNotFound matches any 404 returned by the backend.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx backend response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend %s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("backend %s %s: %d", e.Method, e.Path, e.StatusCode)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client calls the backend REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default instrumented HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		cl.httpClient.Timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// New creates a client for the backend at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   10 * time.Second,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NisabResponse is the backend's current nisab.
type NisabResponse struct {
	NisabAmount decimal.Decimal `json:"nisab_amount"`
	Currency    string          `json:"currency"`
	ZakatRate   decimal.Decimal `json:"zakat_rate"`
	Description string          `json:"description"`
}

// Calculation is a zakat calculation as stored by the backend.
type Calculation struct {
	ID     int64 `json:"id"`
	UserID int64 `json:"user_id,omitempty"`
	zakat.Inputs

	TotalAssets      decimal.Decimal `json:"total_assets"`
	TotalLiabilities decimal.Decimal `json:"total_liabilities"`
	ZakatableAmount  decimal.Decimal `json:"zakatable_amount"`
	NisabAmount      decimal.Decimal `json:"nisab_amount"`
	ZakatAmount      decimal.Decimal `json:"zakat_amount"`
	IsPaid           bool            `json:"is_paid"`
	PaymentID        *string         `json:"payment_id,omitempty"`
	CreatedAt        Time            `json:"created_at"`
	UpdatedAt        *Time           `json:"updated_at,omitempty"`
}

// PaymentResponse is returned when a zakat payment is initiated.
type PaymentResponse struct {
	ZakatID    int64           `json:"zakat_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	PaymentURL string          `json:"payment_url"`
	Status     string          `json:"status"`
}

// Nisab fetches the current nisab threshold and rate.
func (c *Client) Nisab(ctx context.Context) (NisabResponse, error) {
	var out NisabResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/zakat/nisab", nil, nil, &out)
	return out, err
}

// Calculate submits the inputs for an authoritative, persisted calculation.
func (c *Client) Calculate(ctx context.Context, userID int64, in zakat.Inputs) (Calculation, error) {
	q := url.Values{}
	q.Set("user_id", strconv.FormatInt(userID, 10))

	var out Calculation
	err := c.do(ctx, http.MethodPost, "/api/v1/zakat/calc", q, in, &out)
	return out, err
}

// Pay initiates payment of a stored calculation.
func (c *Client) Pay(ctx context.Context, zakatID int64, paymentMethod string) (PaymentResponse, error) {
	q := url.Values{}
	q.Set("zakat_id", strconv.FormatInt(zakatID, 10))
	q.Set("payment_method", paymentMethod)

	var out PaymentResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/zakat/pay", q, nil, &out)
	return out, err
}

// ConfirmPayment marks a calculation as paid.
func (c *Client) ConfirmPayment(ctx context.Context, zakatID int64, paymentID string) error {
	path := "/api/v1/zakat/" + strconv.FormatInt(zakatID, 10) + "/confirm"
	body := map[string]string{"payment_id": paymentID}
	return c.do(ctx, http.MethodPost, path, nil, body, nil)
}

// History lists the user's calculations, newest first.
func (c *Client) History(ctx context.Context, userID int64) ([]Calculation, error) {
	var out []Calculation
	err := c.do(ctx, http.MethodGet, "/api/v1/zakat/user/"+strconv.FormatInt(userID, 10), nil, nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID(ctx))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("backend call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Detail:     readDetail(resp.Body),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// readDetail extracts the "detail" field of an error body, or the raw body.
func readDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && len(body.Detail) > 0 {
		var s string
		if json.Unmarshal(body.Detail, &s) == nil {
			return s
		}
		return string(body.Detail)
	}
	return strings.TrimSpace(string(raw))
}

func requestID(ctx context.Context) string {
	if id := middleware.GetReqID(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}
