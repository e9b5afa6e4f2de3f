// Package paymongo is a small client for the PayMongo checkout session API.
package paymongo

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://api.paymongo.com/v1"
	DefaultTimeout = 20 * time.Second
)

var (
	// ErrTransient wraps transport failures and timeouts. Callers may retry.
	ErrTransient = errors.New("paymongo: transient failure")

	ErrMissingSessionID   = errors.New("paymongo: missing checkout session id")
	ErrMissingCredentials = errors.New("paymongo: secret key not configured")
	ErrUnexpectedResponse = errors.New("paymongo: unexpected response")
)

// APIError is a non-2xx answer. The body itself is never kept; BodyHash
// lets operators correlate with PayMongo support.
type APIError struct {
	StatusCode int
	Code       string
	BodyHash   string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("paymongo api error (HTTP %d, %s)", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("paymongo api error (HTTP %d)", e.StatusCode)
}

// IsRetryable reports whether err is worth retrying later.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrTransient) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}

type Client struct {
	BaseURL string
	HTTP    *http.Client

	secretKey string
	log       *zap.Logger
}

func NewClient(secretKey string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		BaseURL:   DefaultBaseURL,
		HTTP:      &http.Client{Timeout: DefaultTimeout},
		secretKey: secretKey,
		log:       log,
	}
}

type LineItem struct {
	Name        string `json:"name"`
	Quantity    int    `json:"quantity"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description,omitempty"`
}

type SessionAttributes struct {
	Amount             int64             `json:"amount"`
	Currency           string            `json:"currency"`
	Description        string            `json:"description"`
	PaymentMethodTypes []string          `json:"payment_method_types"`
	LineItems          []LineItem        `json:"line_items"`
	SuccessURL         string            `json:"success_url"`
	CancelURL          string            `json:"cancel_url"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

type Session struct {
	ID          string
	CheckoutURL string
	Status      string
}

type sessionResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			CheckoutURL string `json:"checkout_url"`
			Status      string `json:"status"`
		} `json:"attributes"`
	} `json:"data"`
}

func (c *Client) CreateCheckoutSession(ctx context.Context, attrs SessionAttributes, idempotencyKey string) (*Session, error) {
	body := map[string]any{"data": map[string]any{"attributes": attrs}}
	headers := map[string]string{}
	if idempotencyKey != "" {
		headers["Idempotency-Key"] = idempotencyKey
	}
	s, err := c.session(ctx, http.MethodPost, "/checkout_sessions", body, headers)
	if err != nil {
		return nil, err
	}
	if s.ID == "" || s.CheckoutURL == "" {
		return nil, fmt.Errorf("%w: missing session id or checkout_url", ErrUnexpectedResponse)
	}
	return s, nil
}

func (c *Client) RetrieveCheckoutSession(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrMissingSessionID
	}
	return c.session(ctx, http.MethodGet, "/checkout_sessions/"+url.PathEscape(id), nil, nil)
}

// ExpireCheckoutSession closes a session so it can no longer be paid.
func (c *Client) ExpireCheckoutSession(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrMissingSessionID
	}
	body := map[string]any{"data": struct{}{}}
	return c.session(ctx, http.MethodPost, "/checkout_sessions/"+url.PathEscape(id)+"/expire", body, nil)
}

func (c *Client) session(ctx context.Context, method, path string, body any, headers map[string]string) (*Session, error) {
	raw, err := c.do(ctx, method, path, body, headers)
	if err != nil {
		return nil, err
	}
	var res sessionResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return &Session{
		ID:          res.Data.ID,
		CheckoutURL: res.Data.Attributes.CheckoutURL,
		Status:      res.Data.Attributes.Status,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, headers map[string]string) ([]byte, error) {
	if c.secretKey == "" {
		return nil, ErrMissingCredentials
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(c.secretKey+":")))
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	c.log.Debug("paymongo request", zap.String("method", method), zap.String("path", path))

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrTransient, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransient, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		sum := sha256.Sum256(raw)
		apiErr := &APIError{StatusCode: resp.StatusCode, Code: errorCode(raw), BodyHash: hex.EncodeToString(sum[:])}
		c.log.Error("paymongo api error",
			zap.Int("status", apiErr.StatusCode),
			zap.String("code", apiErr.Code),
			zap.String("body", "[redacted]"),
			zap.String("body_hash", apiErr.BodyHash))
		return nil, apiErr
	}
	return raw, nil
}

func errorCode(raw []byte) string {
	var body struct {
		Errors []struct {
			Code string `json:"code"`
		} `json:"errors"`
	}
	if json.Unmarshal(raw, &body) != nil || len(body.Errors) == 0 {
		return ""
	}
	return body.Errors[0].Code
}
