package handlers

import (
	"context"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/valyala/fasthttp"

	dbpkg "utmrelay/internal/db"
	httpctx "utmrelay/internal/http/ctx"
	"utmrelay/internal/logging"
	"utmrelay/internal/metrics"
)

// AttributionSink stores attribution records.
type AttributionSink interface {
	Put(ctx context.Context, rec *dbpkg.AttributionRecord) error
}

// UTMFields are the attribution tags shared by every inbound payload.
type UTMFields struct {
	UTMSource   string `json:"utm_source" validate:"max=255"`
	UTMMedium   string `json:"utm_medium" validate:"max=255"`
	UTMCampaign string `json:"utm_campaign" validate:"max=255"`
	UTMContent  string `json:"utm_content" validate:"max=255"`
	UTMTerm     string `json:"utm_term" validate:"max=255"`
}

// Attribution converts the tags, dropping empty ones.
func (u UTMFields) Attribution() dbpkg.Attribution {
	return dbpkg.Attribution{
		UTMSource:   nonEmpty(u.UTMSource),
		UTMMedium:   nonEmpty(u.UTMMedium),
		UTMCampaign: nonEmpty(u.UTMCampaign),
		UTMContent:  nonEmpty(u.UTMContent),
		UTMTerm:     nonEmpty(u.UTMTerm),
	}
}

// AttributionEvent is one click reported by the landing page.
type AttributionEvent struct {
	// Timestamp is the client capture time in ms since epoch.
	Timestamp *int64 `json:"timestamp" validate:"required"`

	// Valor may be a placeholder zero.
	Valor *decimal.Decimal `json:"valor" validate:"required"`

	Fbclid string `json:"fbclid" validate:"max=255"`
	IP     string `json:"ip" validate:"max=64"`

	UTMFields
}

type ingestResponse struct {
	Status string `json:"status"`
	Token  string `json:"token"`
}

// IngestHandler accepts attribution events. The response carries the
// record's correlation token: the fbclid when present, otherwise a fresh
// one the page can hand to the chat bot as a /start payload.
//
// Storage failures are logged and not surfaced to the page.
func IngestHandler(sink AttributionSink) fasthttp.RequestHandler {
	log := logging.With("ingest")
	return func(ctx *fasthttp.RequestCtx) {
		var ev AttributionEvent
		if err := json.Unmarshal(ctx.PostBody(), &ev); err != nil {
			metrics.AttributionIngested.WithLabelValues("invalid").Inc()
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := validate.Struct(ev); err != nil {
			metrics.AttributionIngested.WithLabelValues("invalid").Inc()
			errResponse(ctx, fasthttp.StatusBadRequest, "timestamp and valor are required")
			return
		}

		token := strings.TrimSpace(ev.Fbclid)
		if token == "" {
			token = uuid.NewString()
		}
		origin := strings.TrimSpace(ev.IP)
		if origin == "" {
			origin = httpctx.ClientIPFromCtx(ctx)
		}

		amount := *ev.Valor
		rec := &dbpkg.AttributionRecord{
			CapturedAtMs:     *ev.Timestamp,
			Amount:           &amount,
			CorrelationToken: &token,
			NetworkOrigin:    &origin,
		}
		rec.Apply(ev.Attribution())

		if err := sink.Put(ctx, rec); err != nil {
			metrics.AttributionIngested.WithLabelValues("store_failed").Inc()
			log.Error().Err(err).Int64("captured_at_ms", rec.CapturedAtMs).Msg("storing attribution failed")
		} else {
			metrics.AttributionIngested.WithLabelValues("stored").Inc()
		}

		jsonResponse(ctx, fasthttp.StatusOK, ingestResponse{Status: "ok", Token: token})
	}
}

func nonEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
