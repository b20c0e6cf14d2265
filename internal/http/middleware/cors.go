package middleware

import (
	"github.com/valyala/fasthttp"
)

// CORS lets browsers on origin call the wrapped handler. Preflight requests
// are answered directly.
func CORS(origin string) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	if origin == "" {
		origin = "*"
	}
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			h := &ctx.Response.Header
			h.Set("Access-Control-Allow-Origin", origin)
			if origin != "*" {
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Set("Access-Control-Max-Age", "600")

			if ctx.IsOptions() {
				ctx.SetStatusCode(fasthttp.StatusNoContent)
				return
			}
			next(ctx)
		}
	}
}
