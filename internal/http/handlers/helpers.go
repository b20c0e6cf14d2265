package handlers

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"

	httpctx "utmrelay/internal/http/ctx"
	"utmrelay/internal/logging"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// RequestLogger logs one line per request.
func RequestLogger(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	log := logging.With("http")
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)

		status := ctx.Response.StatusCode()
		ev := log.Info()
		if status >= fasthttp.StatusInternalServerError {
			ev = log.Warn()
		}
		if id, ok := httpctx.RequestIDFromCtx(ctx); ok {
			ev = ev.Str("request_id", id)
		}
		ev.Str("method", string(ctx.Method())).
			Str("path", string(ctx.Path())).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("ip", httpctx.ClientIPFromCtx(ctx)).
			Msg("request")
	}
}

func jsonResponse(ctx *fasthttp.RequestCtx, code int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		errResponse(ctx, fasthttp.StatusInternalServerError, "failed to encode response")
		return
	}
	ctx.SetStatusCode(code)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func errResponse(ctx *fasthttp.RequestCtx, code int, msg string) {
	jsonResponse(ctx, code, map[string]string{"error": msg})
}
