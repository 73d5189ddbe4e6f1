package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/raxautoscale/convergence/internal/logging"
	"github.com/raxautoscale/convergence/pkg/model"
)

const (
	// DefaultTimeout is the default per-call HTTP deadline.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default requests-per-minute cap per gateway.
	DefaultRateLimit = 600

	// MaxResponseBodySize bounds how much of a response body is read,
	// guarding against a misbehaving or compromised upstream.
	MaxResponseBodySize = 10 * 1024 * 1024

	// TokenRefreshBuffer is how long before expiry the access token is renewed.
	TokenRefreshBuffer = 5 * time.Minute
)

// Credentials authenticates against the identity service. Token
// acquisition itself is an external collaborator (spec.md §1); this struct
// is only the shape the gateway needs to attach a bearer token.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// TokenSource supplies a bearer token, refreshing it as needed. The real
// identity integration lives outside this module's core; ServiceClient
// depends only on this interface.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ClientOptions configures a ServiceClient.
type ClientOptions struct {
	BaseURL        string
	UserAgent      string
	Timeout        time.Duration
	RateLimit      int // requests per minute
	HTTPClient     *http.Client
	Logger         *zap.Logger
	TokenSource    TokenSource
	CircuitBreaker CircuitBreakerConfig
}

// ServiceClient is a typed JSON-over-HTTP client shared by the compute and
// LB gateways: it owns auth, rate limiting, and circuit breaking, but never
// retries — retry policy belongs to the Step Executor.
type ServiceClient struct {
	httpClient     *http.Client
	rateLimiter    *rate.Limiter
	circuitBreaker *CircuitBreaker
	baseURL        string
	userAgent      string
	logger         *zap.Logger
	tokenSource    TokenSource
	mu             sync.RWMutex
}

// NewServiceClient constructs a ServiceClient for one service endpoint
// (compute or load-balancer), each with its own circuit breaker so a
// failing LB does not trip calls to compute.
func NewServiceClient(name string, opts ClientOptions) *ServiceClient {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	rateLimit := opts.RateLimit
	if rateLimit == 0 {
		rateLimit = DefaultRateLimit
	}
	cbConfig := opts.CircuitBreaker
	if cbConfig == (CircuitBreakerConfig{}) {
		cbConfig = DefaultCircuitBreakerConfig()
	}

	return &ServiceClient{
		httpClient:     httpClient,
		rateLimiter:    rate.NewLimiter(rate.Limit(float64(rateLimit)/60.0), rateLimit),
		circuitBreaker: NewCircuitBreaker(name, cbConfig, logger),
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		userAgent:      opts.UserAgent,
		logger:         logger,
		tokenSource:    opts.TokenSource,
	}
}

// do performs one request/response cycle: rate limit, auth, circuit
// breaker, JSON encode/decode. On a non-2xx response it returns
// *model.APIError; the caller (compute.go/lb.go) is responsible for
// reclassifying that into a domain error (e.g. CLBOrNodeDeletedError) where
// the response body carries a recognizable reason.
func (c *ServiceClient) do(ctx context.Context, method, path string, body, out interface{}) (*http.Response, []byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	var bodyReader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if requestID := logging.GetRequestID(ctx); requestID != "" {
		req.Header.Set("X-Request-Id", requestID)
	}
	if c.tokenSource != nil {
		token, err := c.tokenSource.Token(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("acquire token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	var resp *http.Response
	var respBody []byte
	callErr := c.circuitBreaker.Call(func() error {
		start := time.Now()
		var err error
		resp, err = c.httpClient.Do(req)
		if err != nil {
			logging.LogAPIError(c.logger, method, path, 0, err, logging.GetRequestID(ctx))
			return err
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(io.LimitReader(resp.Body, MaxResponseBodySize))
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}
		logging.LogAPIResponse(c.logger, method, path, resp.StatusCode, time.Since(start).String(), logging.GetRequestID(ctx))

		if resp.StatusCode >= 400 {
			return &model.APIError{
				StatusCode: resp.StatusCode,
				Method:     method,
				Path:       path,
				Message:    string(respBody),
			}
		}
		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode response body: %w", err)
			}
		}
		return nil
	})
	if callErr != nil {
		return resp, respBody, callErr
	}
	return resp, respBody, nil
}
