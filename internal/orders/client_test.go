package orders

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

// serve starts handler on an in-memory listener and returns a Client wired to it.
func serve(t *testing.T, timeout time.Duration, handler fasthttp.RequestHandler) *Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	hc := &fasthttp.Client{
		Dial: func(string) (net.Conn, error) { return ln.Dial() },
	}
	return NewClient("http://orders.test/api-credentials/orders", "secret", timeout, WithHTTPClient(hc))
}

func TestSendPostsWithAPIKey(t *testing.T) {
	var gotKey, gotPath, gotMethod, gotType, gotBody string
	c := serve(t, time.Second, func(ctx *fasthttp.RequestCtx) {
		gotKey = string(ctx.Request.Header.Peek("x-api-token"))
		gotPath = string(ctx.Path())
		gotMethod = string(ctx.Method())
		gotType = string(ctx.Request.Header.ContentType())
		gotBody = string(ctx.PostBody())
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString(`{"OK":true}`)
	})

	resp, err := c.Send(context.Background(), []byte(`{"orderId":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.JSONEq(t, `{"OK":true}`, string(resp.Body))

	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "/api-credentials/orders", gotPath)
	assert.Equal(t, "POST", gotMethod)
	assert.Equal(t, "application/json", gotType)
	assert.JSONEq(t, `{"orderId":"x"}`, gotBody)
}

func TestSendNon2xxIsAPIError(t *testing.T) {
	c := serve(t, time.Second, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusUnprocessableEntity)
		ctx.SetBodyString(`{"message":"invalid email"}`)
	})

	_, err := c.Send(context.Background(), []byte(`{}`))
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 422, apiErr.Status)
	assert.Contains(t, apiErr.Body, "invalid email")
	assert.Equal(t, 422, StatusOf(err))
}

func TestSendTimesOut(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	c := serve(t, 50*time.Millisecond, func(ctx *fasthttp.RequestCtx) {
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
	})

	start := time.Now()
	_, err := c.Send(context.Background(), []byte(`{}`))
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, StatusOf(err))
}

func TestSendHonoursCancelledContext(t *testing.T) {
	var calls atomic.Int32
	c := serve(t, time.Second, func(ctx *fasthttp.RequestCtx) { calls.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Send(ctx, []byte(`{}`))
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls.Load())
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := serve(t, time.Second, func(ctx *fasthttp.RequestCtx) {
		calls.Add(1)
		ctx.SetStatusCode(fasthttp.StatusBadGateway)
	})

	for i := 0; i < 5; i++ {
		_, err := c.Send(context.Background(), []byte(`{}`))
		require.Error(t, err)
	}
	_, err := c.Send(context.Background(), []byte(`{}`))
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.Equal(t, int32(5), calls.Load())
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	c := serve(t, time.Second, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
	})

	for i := 0; i < 8; i++ {
		_, err := c.Send(context.Background(), []byte(`{}`))
		assert.Equal(t, 400, StatusOf(err))
	}
}
