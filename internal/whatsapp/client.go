package whatsapp

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

	"golang.org/x/time/rate"
)

// Default configuration values
const (
	DefaultBaseURL    = "https://graph.facebook.com"
	DefaultAPIVersion = "v20.0"
	DefaultTimeout    = 10 * time.Second
	// DefaultRateLimit is the outbound messages per second allowed per client.
	DefaultRateLimit = 20
	DefaultRateBurst = 5
	// maxErrorBody caps how much of an error response is read.
	maxErrorBody = 64 << 10
)

// Client errors
var (
	ErrMissingCredentials = errors.New("access token and phone number id must be provided")
	ErrEmptyRecipient     = errors.New("recipient cannot be empty")
	ErrBadResponse        = errors.New("malformed send response")
)

// RetryConfig defines retry behavior for message delivery
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts after the first try
	MaxRetries int
	// InitialBackoff is the initial backoff duration
	InitialBackoff time.Duration
	// MaxBackoff caps the backoff duration
	MaxBackoff time.Duration
	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64
}

// DefaultRetryConfig returns two retries with 500ms/1s backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        2,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// CalculateBackoff calculates the backoff duration for a given retry attempt
func (c RetryConfig) CalculateBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return c.InitialBackoff
	}
	backoff := c.InitialBackoff
	for i := 0; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * c.BackoffMultiplier)
		if backoff > c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return backoff
}

// APIError is an error response from the Graph API.
type APIError struct {
	StatusCode int
	Message    string `json:"message"`
	Type       string `json:"type"`
	Code       int    `json:"code"`
	FBTraceID  string `json:"fbtrace_id"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("whatsapp api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("whatsapp api: status %d: %s (code %d)", e.StatusCode, e.Message, e.Code)
}

// Temporary reports whether retrying the request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Opts holds configuration options for the Cloud API client.
type Opts struct {
	AccessToken   string
	PhoneNumberID string
	APIVersion    string
	BaseURL       string
	Timeout       time.Duration
	Retry         RetryConfig
	RateLimit     float64
	RateBurst     int
	HTTPClient    *http.Client
}

// Option defines a configuration option for the Cloud API client.
type Option func(*Opts)

// WithAccessToken sets the bearer token used for the Graph API.
func WithAccessToken(token string) Option {
	return func(o *Opts) { o.AccessToken = token }
}

// WithPhoneNumberID sets the sending phone number id.
func WithPhoneNumberID(id string) Option {
	return func(o *Opts) { o.PhoneNumberID = id }
}

// WithAPIVersion sets the Graph API version, e.g. "v20.0".
func WithAPIVersion(version string) Option {
	return func(o *Opts) { o.APIVersion = version }
}

// WithBaseURL overrides the Graph API host.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithTimeout bounds each HTTP attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithRetryConfig sets the retry policy.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(o *Opts) { o.Retry = cfg }
}

// WithRateLimit sets the outbound rate limit in messages per second.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *Opts) {
		o.RateLimit = perSecond
		o.RateBurst = burst
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client sends messages through the WhatsApp Cloud API.
type Client struct {
	endpoint    string
	accessToken string
	timeout     time.Duration
	retry       RetryConfig
	limiter     *rate.Limiter
	httpClient  *http.Client
}

// NewClient creates a Cloud API client, applying any provided options.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		APIVersion: DefaultAPIVersion,
		BaseURL:    DefaultBaseURL,
		Timeout:    DefaultTimeout,
		Retry:      DefaultRetryConfig(),
		RateLimit:  DefaultRateLimit,
		RateBurst:  DefaultRateBurst,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("WhatsApp NewClient options set", "AccessToken_set", cfg.AccessToken != "", "PhoneNumberID", cfg.PhoneNumberID, "APIVersion", cfg.APIVersion)

	if cfg.AccessToken == "" || cfg.PhoneNumberID == "" {
		return nil, ErrMissingCredentials
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		endpoint:    fmt.Sprintf("%s/%s/%s/messages", strings.TrimRight(cfg.BaseURL, "/"), cfg.APIVersion, cfg.PhoneNumberID),
		accessToken: cfg.AccessToken,
		timeout:     cfg.Timeout,
		retry:       cfg.Retry,
		limiter:     rate.NewLimiter(limit, burst),
		httpClient:  httpClient,
	}, nil
}

// Send delivers one message and returns the platform message id.
// Network errors, 429 and 5xx responses are retried with exponential backoff.
func (c *Client) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	if msg.To == "" {
		return "", ErrEmptyRecipient
	}
	if msg.MessagingProduct == "" {
		msg.MessagingProduct = MessagingProduct
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.retry.CalculateBackoff(attempt - 1)
			slog.Debug("WhatsApp Send retrying", "to", msg.To, "attempt", attempt, "backoff", backoff, "error", lastErr)
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("send to %s cancelled: %w", msg.To, ctx.Err())
			case <-time.After(backoff):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}

		id, err := c.do(ctx, body)
		if err == nil {
			slog.Debug("WhatsApp message sent", "to", msg.To, "type", msg.Type, "id", id)
			return id, nil
		}
		lastErr = err
		if !isRetryable(err) {
			break
		}
	}
	slog.Error("WhatsApp Send failed", "to", msg.To, "type", msg.Type, "error", lastErr)
	return "", fmt.Errorf("failed to send message to %s: %w", msg.To, lastErr)
}

func (c *Client) do(ctx context.Context, body []byte) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return "", err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope struct {
			Error *APIError `json:"error"`
		}
		if json.Unmarshal(data, &envelope) == nil && envelope.Error != nil {
			apiErr = envelope.Error
			apiErr.StatusCode = resp.StatusCode
		}
		return "", apiErr
	}

	var out SendResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if len(out.Messages) == 0 {
		return "", nil
	}
	return out.Messages[0].ID, nil
}

func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	if errors.Is(err, ErrBadResponse) || errors.Is(err, context.Canceled) {
		return false
	}
	// Everything else is a transport failure: timeouts, resets, refused connections.
	return true
}
