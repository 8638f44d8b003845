package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultGatewayURL is the hosted Brain gateway.
const DefaultGatewayURL = "https://climacore-gateway-301645355529.europe-west1.run.app"

// Endpoints
const (
	MainLogicPath      = "/api/v1/main_logic"
	ProactiveStartPath = "/api/v1/proactive_start"
)

// Request timeouts
const (
	RequestTimeout    = 30 * time.Second
	ValidationTimeout = 10 * time.Second
)

// Errors returned by the client. Every failure wraps exactly one of them.
var (
	ErrAuth       = errors.New("activation code invalid or expired")
	ErrConnection = errors.New("cannot connect to gateway")
	ErrTimeout    = errors.New("gateway request timed out")
)

// Validation results
const (
	StatusValid         = "valid"
	StatusInvalidAuth   = "invalid_auth"
	StatusTimeout       = "timeout"
	StatusCannotConnect = "cannot_connect"
	StatusUnknown       = "unknown"
)

// API is what the coordinator needs from the Brain.
type API interface {
	MainLogic(ctx context.Context, payload interface{}) (*MainLogicResponse, error)
	ProactiveStart(ctx context.Context, payload interface{}) (*ProactiveStartResponse, error)
}

// Observer receives the duration of every request, keyed by endpoint.
type Observer func(endpoint string, d time.Duration)

// Client talks to the Brain gateway over HTTPS.
type Client struct {
	gatewayURL     string
	activationCode string
	httpClient     *http.Client
	logger         *zap.Logger
	observe        Observer
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithObserver registers a request duration callback
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observe = o }
}

// NewClient creates a Brain client. An empty gatewayURL selects the hosted gateway.
func NewClient(gatewayURL, activationCode string, logger *zap.Logger, opts ...Option) *Client {
	if gatewayURL == "" {
		gatewayURL = DefaultGatewayURL
	}
	c := &Client{
		gatewayURL:     strings.TrimRight(gatewayURL, "/"),
		activationCode: activationCode,
		httpClient:     &http.Client{},
		logger:         logger.Named("brain"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type requestBody struct {
	ActivationCode string      `json:"activation_code"`
	Payload        interface{} `json:"payload"`
}

// MainLogic sends the full payload and returns the actions to execute.
func (c *Client) MainLogic(ctx context.Context, payload interface{}) (*MainLogicResponse, error) {
	c.logger.Debug("Calling main logic")
	var resp MainLogicResponse
	if err := c.post(ctx, MainLogicPath, payload, RequestTimeout, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProactiveStart asks the Brain when pre-heating should begin.
func (c *Client) ProactiveStart(ctx context.Context, payload interface{}) (*ProactiveStartResponse, error) {
	c.logger.Debug("Calling proactive start")
	var resp ProactiveStartResponse
	if err := c.post(ctx, ProactiveStartPath, payload, RequestTimeout, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Validate checks the activation code with a minimal main logic request.
func (c *Client) Validate(ctx context.Context) string {
	var discard json.RawMessage
	err := c.post(ctx, MainLogicPath, TestPayload(), ValidationTimeout, &discard)
	switch {
	case err == nil:
		c.logger.Info("Activation code validated")
		return StatusValid
	case errors.Is(err, ErrAuth):
		return StatusInvalidAuth
	case errors.Is(err, ErrTimeout):
		return StatusTimeout
	case errors.Is(err, ErrConnection):
		return StatusCannotConnect
	default:
		return StatusUnknown
	}
}

// TestPayload is the empty payload used for activation code validation.
func TestPayload() map[string]interface{} {
	return map[string]interface{}{
		"test_connection": true,
		"sensors":         map[string]interface{}{},
		"config":          map[string]interface{}{},
		"persons":         map[string]interface{}{},
		"climate_zones":   map[string]interface{}{},
		"context":         map[string]interface{}{"current_time": "12:00:00"},
	}
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, timeout time.Duration, out interface{}) error {
	body, err := json.Marshal(requestBody{ActivationCode: c.activationCode, Payload: payload})
	if err != nil {
		return fmt.Errorf("%w: failed to marshal request: %v", ErrConnection, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := c.gatewayURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: failed to build request: %v", ErrConnection, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	logger := c.logger.With(zap.String("endpoint", path), zap.String("request_id", requestID))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.observe != nil {
		c.observe(path, time.Since(start))
	}
	if err != nil {
		if isTimeout(ctx, err) {
			logger.Error("Timeout connecting to gateway", zap.String("url", url))
			return fmt.Errorf("%w: %s", ErrTimeout, url)
		}
		logger.Error("Failed to connect to gateway", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(ctx, err) {
			logger.Error("Timeout reading gateway response")
			return fmt.Errorf("%w: %s", ErrTimeout, url)
		}
		return fmt.Errorf("%w: failed to read response: %v", ErrConnection, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.Unmarshal(data, out); err != nil {
			logger.Error("Gateway returned 200 but the response is not JSON", zap.Error(err))
			return fmt.Errorf("%w: response is not JSON", ErrConnection)
		}
		return nil
	case http.StatusForbidden:
		logger.Error("Activation code is invalid or expired (403 Forbidden)")
		return ErrAuth
	default:
		logger.Error("Gateway returned unexpected status",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", truncate(data, 512)))
		return fmt.Errorf("%w: unexpected status %d", ErrConnection, resp.StatusCode)
	}
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
