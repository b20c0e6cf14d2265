package ctx

import (
	"github.com/valyala/fasthttp"
)

const (
	RequestIDKey = "requestID"
	ClientIPKey  = "clientIP"
)

func SetRequestID(ctx *fasthttp.RequestCtx, id string) {
	ctx.SetUserValue(RequestIDKey, id)
}

func RequestIDFromCtx(ctx *fasthttp.RequestCtx) (string, bool) {
	v := ctx.UserValue(RequestIDKey)
	if v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func SetClientIP(ctx *fasthttp.RequestCtx, ip string) {
	ctx.SetUserValue(ClientIPKey, ip)
}

// ClientIPFromCtx returns the client address recorded by middleware, or
// the connection's remote IP when none was recorded.
func ClientIPFromCtx(ctx *fasthttp.RequestCtx) string {
	if s, ok := ctx.UserValue(ClientIPKey).(string); ok && s != "" {
		return s
	}
	return ctx.RemoteIP().String()
}
