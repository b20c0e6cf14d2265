package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/valyala/fasthttp"

	"utmrelay/internal/logging"
	"utmrelay/internal/metrics"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("order api circuit open")

// APIError is a non-2xx answer from the order API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("order api returned %d: %s", e.Status, e.Body)
}

// Response is a 2xx answer from the order API.
type Response struct {
	Status int
	Body   []byte
}

// Client posts order payloads to the order API.
type Client struct {
	url     string
	apiKey  string
	timeout time.Duration
	http    *fasthttp.Client
	cb      *gobreaker.CircuitBreaker[*Response]
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying fasthttp client.
func WithHTTPClient(c *fasthttp.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// NewClient returns a Client for url authenticating with apiKey. Each call
// is bounded by timeout.
func NewClient(url, apiKey string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		url:     url,
		apiKey:  apiKey,
		timeout: timeout,
		http: &fasthttp.Client{
			Name:                "utmrelay",
			MaxConnsPerHost:     32,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: time.Minute,
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	const cbName = "order-api"
	log := logging.With("orders")
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)
	c.cb = gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A rejected payload says nothing about the API's health.
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.Status < 500 && apiErr.Status != fasthttp.StatusTooManyRequests
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	return c
}

// Send posts payload. Non-2xx answers return *APIError; timeouts, network
// errors and an open circuit return plain errors. Nothing is retried here.
func (c *Client) Send(ctx context.Context, payload []byte) (*Response, error) {
	start := time.Now()
	resp, err := c.cb.Execute(func() (*Response, error) {
		return c.do(ctx, payload)
	})
	metrics.ForwardDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.ForwardsTotal.WithLabelValues("success").Inc()
		return resp, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.ForwardsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	default:
		metrics.ForwardsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}
}

func (c *Client) do(ctx context.Context, payload []byte) (*Response, error) {
	timeout := c.timeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("x-api-token", c.apiKey)
	req.SetBody(payload)

	if err := c.http.DoTimeout(req, resp, timeout); err != nil {
		return nil, fmt.Errorf("post order: %w", err)
	}

	status := resp.StatusCode()
	body := append([]byte(nil), resp.Body()...)
	if status < 200 || status >= 300 {
		return nil, &APIError{Status: status, Body: string(body)}
	}
	return &Response{Status: status, Body: body}, nil
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
