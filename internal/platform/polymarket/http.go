package polymarket

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/marketwatch/internal/domain"
	"golang.org/x/time/rate"
)

const (
	// Gamma allows roughly 300 requests per 10s; stay well below it.
	defaultRatePerSec = 10
	defaultBurst      = 5
	defaultTimeout    = 30 * time.Second
)

// Option configures a REST client.
type Option func(*restClient)

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *restClient) { r.httpClient = c }
}

// WithRateLimit sets the per-second request budget and burst.
func WithRateLimit(perSec float64, burst int) Option {
	return func(r *restClient) { r.limiter = rate.NewLimiter(rate.Limit(perSec), burst) }
}

// restClient is the unauthenticated GET transport shared by the Gamma and
// CLOB clients. A call performs exactly one request; retries are the
// caller's decision.
type restClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func newRestClient(baseURL string, opts ...Option) restClient {
	r := restClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(defaultRatePerSec, defaultBurst),
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// doGet sends a GET request to baseURL+path and returns the body.
func (r *restClient) doGet(ctx context.Context, path string) ([]byte, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	if len(bodyStr) > 256 {
		bodyStr = bodyStr[:256]
	}
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
