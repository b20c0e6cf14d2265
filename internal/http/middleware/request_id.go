package middleware

import (
	"bytes"
	"net"
	"strings"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	httpctx "utmrelay/internal/http/ctx"
)

// RequestID tags each request with an id, reusing a sane inbound
// X-Request-ID, and echoes it in the response. It also records the client
// IP, preferring the first X-Forwarded-For hop.
func RequestID(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id := string(bytes.TrimSpace(ctx.Request.Header.Peek("X-Request-ID")))
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		httpctx.SetRequestID(ctx, id)
		ctx.Response.Header.Set("X-Request-ID", id)

		if ip := forwardedFor(ctx); ip != "" {
			httpctx.SetClientIP(ctx, ip)
		}
		next(ctx)
	}
}

func forwardedFor(ctx *fasthttp.RequestCtx) string {
	xff := string(ctx.Request.Header.Peek("X-Forwarded-For"))
	if xff == "" {
		return ""
	}
	first, _, _ := strings.Cut(xff, ",")
	first = strings.TrimSpace(first)
	if net.ParseIP(first) == nil {
		return ""
	}
	return first
}
