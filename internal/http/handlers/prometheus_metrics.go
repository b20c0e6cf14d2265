package handlers

import (
	"bytes"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/valyala/fasthttp"
)

// MetricsHandler serves gatherer in the Prometheus text format. An
// optional ?prefix= keeps only families whose name starts with it.
func MetricsHandler(gatherer prometheus.Gatherer) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		metricFamilies, err := gatherer.Gather()
		if err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			ctx.SetBodyString("failed to gather metrics")
			return
		}

		prefix := string(ctx.QueryArgs().Peek("prefix"))
		filtered := metricFamilies
		if prefix != "" {
			filtered = make([]*dto.MetricFamily, 0, len(metricFamilies))
			for _, mf := range metricFamilies {
				if strings.HasPrefix(mf.GetName(), prefix) {
					filtered = append(filtered, mf)
				}
			}
		}

		format := expfmt.NewFormat(expfmt.TypeTextPlain)
		var buf bytes.Buffer
		encoder := expfmt.NewEncoder(&buf, format)
		for _, mf := range filtered {
			if err := encoder.Encode(mf); err != nil {
				ctx.SetStatusCode(fasthttp.StatusInternalServerError)
				ctx.SetBodyString("failed to encode metrics")
				return
			}
		}

		ctx.SetContentType(string(format))
		ctx.Response.Header.Set("Cache-Control", "no-store")
		ctx.SetBody(buf.Bytes())
	}
}
