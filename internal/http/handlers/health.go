package handlers

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"

	"utmrelay/internal/logging"
)

// Healthz reports ok while ping succeeds.
func Healthz(ping func(context.Context) error) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := ping(pctx); err != nil {
			logging.Warn().Err(err).Msg("health check failed")
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			ctx.SetBodyString("database unavailable")
			return
		}
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	}
}

// Redeliverer retries failed order forwards.
type Redeliverer interface {
	RedeliverPending(ctx context.Context) (int, error)
}

// Redeliver runs one redelivery pass on demand.
func Redeliver(svc Redeliverer) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		n, err := svc.RedeliverPending(ctx)
		if err != nil {
			logging.Error().Err(err).Msg("manual redelivery failed")
			jsonResponse(ctx, fasthttp.StatusInternalServerError, map[string]any{
				"error": "redelivery failed",
				"sent":  n,
			})
			return
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"sent": n})
	}
}
