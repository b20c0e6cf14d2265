package handlers

import (
	"context"
	"strings"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/valyala/fasthttp"

	httpctx "utmrelay/internal/http/ctx"
	"utmrelay/internal/logging"
	"utmrelay/internal/orders"
	"utmrelay/internal/relay"
)

// SaleRelay records and forwards manual sales.
type SaleRelay interface {
	HandleManualSale(ctx context.Context, s relay.ManualSale) (relay.Outcome, *orders.Response, error)
}

// ManualSaleRequest is a sale reported directly by a page or operator.
type ManualSaleRequest struct {
	Nome  string           `json:"nome" validate:"required,max=255"`
	Email string           `json:"email" validate:"required,max=255"`
	Valor *decimal.Decimal `json:"valor" validate:"required"`

	UTMFields
}

// CreateOrder handles POST /criar-pedido with a JSON body.
func CreateOrder(svc SaleRelay) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req ManualSaleRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}
		handleManualSale(ctx, svc, req)
	}
}

// MarkSale handles GET /marcar-venda with query parameters.
func MarkSale(svc SaleRelay) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		args := ctx.QueryArgs()
		req := ManualSaleRequest{
			Nome:  string(args.Peek("nome")),
			Email: string(args.Peek("email")),
			UTMFields: UTMFields{
				UTMSource:   string(args.Peek("utm_source")),
				UTMMedium:   string(args.Peek("utm_medium")),
				UTMCampaign: string(args.Peek("utm_campaign")),
				UTMContent:  string(args.Peek("utm_content")),
				UTMTerm:     string(args.Peek("utm_term")),
			},
		}
		if v := strings.TrimSpace(string(args.Peek("valor"))); v != "" {
			d, err := decimal.NewFromString(v)
			if err != nil {
				errResponse(ctx, fasthttp.StatusBadRequest, "valor must be a number")
				return
			}
			req.Valor = &d
		}
		handleManualSale(ctx, svc, req)
	}
}

func handleManualSale(ctx *fasthttp.RequestCtx, svc SaleRelay, req ManualSaleRequest) {
	req.Nome = strings.TrimSpace(req.Nome)
	req.Email = strings.TrimSpace(req.Email)
	if err := validate.Struct(req); err != nil {
		errResponse(ctx, fasthttp.StatusBadRequest, "nome, email and valor are required")
		return
	}
	if !req.Valor.IsPositive() {
		errResponse(ctx, fasthttp.StatusBadRequest, "valor must be positive")
		return
	}

	outcome, resp, err := svc.HandleManualSale(ctx, relay.ManualSale{
		Name:        req.Nome,
		Email:       req.Email,
		Amount:      *req.Valor,
		Attribution: req.Attribution(),
		Origin:      httpctx.ClientIPFromCtx(ctx),
		UserAgent:   string(ctx.UserAgent()),
	})

	switch outcome {
	case relay.OutcomeForwarded:
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{
			"message": "order created",
			"data":    responseData(resp),
		})
	case relay.OutcomeDuplicate:
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{
			"message":   "duplicate sale ignored",
			"duplicate": true,
		})
	case relay.OutcomeForwardFailed:
		jsonResponse(ctx, fasthttp.StatusBadGateway, map[string]any{
			"error":   "order forward failed",
			"details": err.Error(),
		})
	default:
		logging.Error().Err(err).Str("outcome", string(outcome)).Msg("manual sale failed")
		errResponse(ctx, fasthttp.StatusInternalServerError, "failed to record sale")
	}
}

// responseData passes the order API body through, as JSON when it is JSON.
func responseData(resp *orders.Response) any {
	if resp == nil || len(resp.Body) == 0 {
		return nil
	}
	if json.Valid(resp.Body) {
		return json.RawMessage(resp.Body)
	}
	return string(resp.Body)
}
