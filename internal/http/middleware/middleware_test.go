package middleware

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"

	httpctx "utmrelay/internal/http/ctx"
)

func newCtx(method string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI("/x")
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, &net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1}, nil)
	return ctx
}

func ok(ctx *fasthttp.RequestCtx) { ctx.SetStatusCode(fasthttp.StatusOK) }

func TestBearerAuth(t *testing.T) {
	h := BearerAuth("s3cret")(ok)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", fasthttp.StatusUnauthorized},
		{"wrong scheme", "Basic abc", fasthttp.StatusUnauthorized},
		{"empty token", "Bearer  ", fasthttp.StatusUnauthorized},
		{"wrong token", "Bearer nope", fasthttp.StatusUnauthorized},
		{"valid", "Bearer s3cret", fasthttp.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := newCtx("GET")
			if tt.header != "" {
				ctx.Request.Header.Set("Authorization", tt.header)
			}
			h(ctx)
			assert.Equal(t, tt.status, ctx.Response.StatusCode())
		})
	}
}

func TestBearerAuthDisabledWithoutToken(t *testing.T) {
	ctx := newCtx("GET")
	BearerAuth("")(ok)(ctx)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
}

func TestCORS(t *testing.T) {
	called := false
	h := CORS("https://lp.example.com")(func(ctx *fasthttp.RequestCtx) {
		called = true
		ok(ctx)
	})

	ctx := newCtx("OPTIONS")
	h(ctx)
	assert.False(t, called)
	assert.Equal(t, fasthttp.StatusNoContent, ctx.Response.StatusCode())
	assert.Equal(t, "https://lp.example.com", string(ctx.Response.Header.Peek("Access-Control-Allow-Origin")))

	ctx = newCtx("POST")
	h(ctx)
	assert.True(t, called)
	assert.Equal(t, "https://lp.example.com", string(ctx.Response.Header.Peek("Access-Control-Allow-Origin")))
}

func TestRequestID(t *testing.T) {
	var id, ip string
	h := RequestID(func(ctx *fasthttp.RequestCtx) {
		id, _ = httpctx.RequestIDFromCtx(ctx)
		ip = httpctx.ClientIPFromCtx(ctx)
	})

	ctx := newCtx("GET")
	h(ctx)
	assert.Len(t, id, 36)
	assert.Equal(t, id, string(ctx.Response.Header.Peek("X-Request-ID")))
	assert.Equal(t, "10.0.0.1", ip)

	ctx = newCtx("GET")
	ctx.Request.Header.Set("X-Request-ID", "abc")
	ctx.Request.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.2")
	h(ctx)
	assert.Equal(t, "abc", id)
	assert.Equal(t, "203.0.113.9", ip)

	ctx = newCtx("GET")
	ctx.Request.Header.Set("X-Forwarded-For", "not-an-ip")
	h(ctx)
	assert.Equal(t, "10.0.0.1", ip)
}
