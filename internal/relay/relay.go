// Package relay turns sale notifications into order API calls.
//
// The ledger insert is the only authority on whether a sale is new: the
// order API is called only by the caller whose insert succeeded, and only
// after it committed.
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"utmrelay/internal/chat"
	"utmrelay/internal/correlate"
	"utmrelay/internal/db"
	"utmrelay/internal/idempotency"
	"utmrelay/internal/logging"
	"utmrelay/internal/metrics"
	"utmrelay/internal/orders"
	"utmrelay/internal/parser"
)

// Outcome is what happened to one message or manual sale.
type Outcome string

const (
	OutcomeIgnored       Outcome = "ignored"
	OutcomeHandshake     Outcome = "handshake"
	OutcomeNoSale        Outcome = "no_sale"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeForwarded     Outcome = "forwarded"
	OutcomeForwardFailed Outcome = "forward_failed"
	OutcomeError         Outcome = "error"
)

// Ledger is the subset of db.Ledger the relay uses.
type Ledger interface {
	Exists(ctx context.Context, key string, since time.Time) (bool, error)
	Record(ctx context.Context, rec *db.SaleRecord, payload []byte) (bool, error)
	MarkDelivered(ctx context.Context, key string, status int) error
	MarkFailed(ctx context.Context, key string, status int, cause error) error
	PendingDeliveries(ctx context.Context, maxAttempts, limit int) ([]db.SaleDelivery, error)
	Claim(ctx context.Context, d db.SaleDelivery) (bool, error)
}

// Forwarder sends an order payload to the order API.
type Forwarder interface {
	Send(ctx context.Context, payload []byte) (*orders.Response, error)
}

// Correlator resolves a sale's attribution.
type Correlator interface {
	Resolve(ctx context.Context, q correlate.Query) correlate.Match
}

// SenderBinder records /start handshakes.
type SenderBinder interface {
	Bind(ctx context.Context, senderID int64, token string) error
}

// Settings are the relay's static inputs.
type Settings struct {
	// TargetChatID is the only chat parsed for sales.
	TargetChatID int64

	Platform      string
	PaymentMethod string
	ProductName   string

	// MaxAttempts caps redelivery attempts per sale.
	MaxAttempts int

	// Concurrency bounds messages processed at once by Run.
	Concurrency int
}

// Service is the sale relay.
type Service struct {
	parser     parser.Parser
	ledger     Ledger
	correlator Correlator
	forwarder  Forwarder
	senders    SenderBinder
	settings   Settings
	now        func() time.Time
	log        zerolog.Logger
}

func New(p parser.Parser, ledger Ledger, correlator Correlator, forwarder Forwarder, senders SenderBinder, settings Settings) *Service {
	if settings.Concurrency <= 0 {
		settings.Concurrency = 16
	}
	if settings.MaxAttempts <= 0 {
		settings.MaxAttempts = 8
	}
	return &Service{
		parser:     p,
		ledger:     ledger,
		correlator: correlator,
		forwarder:  forwarder,
		senders:    senders,
		settings:   settings,
		now:        func() time.Time { return time.Now().UTC() },
		log:        logging.With("relay"),
	}
}

// Run handles messages until msgs is closed or ctx is done. Messages are
// processed concurrently; per-message failures are logged.
func (s *Service) Run(ctx context.Context, msgs <-chan chat.Message) error {
	var g errgroup.Group
	g.SetLimit(s.settings.Concurrency)
	// Accepted messages run to completion after ctx is cancelled.
	hctx := context.WithoutCancel(ctx)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case msg, ok := <-msgs:
			if !ok {
				break loop
			}
			g.Go(func() error {
				if _, err := s.HandleMessage(hctx, msg); err != nil {
					s.log.Error().Err(err).Int64("chat_id", msg.ChatID).Msg("message handling failed")
				}
				return nil
			})
		}
	}
	return g.Wait()
}

// HandleMessage runs one chat message through the pipeline.
func (s *Service) HandleMessage(ctx context.Context, msg chat.Message) (Outcome, error) {
	outcome, err := s.handleMessage(ctx, msg)
	metrics.MessagesTotal.WithLabelValues(string(outcome)).Inc()
	return outcome, err
}

func (s *Service) handleMessage(ctx context.Context, msg chat.Message) (Outcome, error) {
	if token, ok := chat.ParseStart(msg.Text); ok {
		if s.senders == nil {
			return OutcomeIgnored, nil
		}
		if err := s.senders.Bind(ctx, msg.SenderID, token); err != nil {
			return OutcomeError, fmt.Errorf("bind sender %d: %w", msg.SenderID, err)
		}
		s.log.Info().Int64("sender_id", msg.SenderID).Msg("sender bound to correlation token")
		return OutcomeHandshake, nil
	}

	if msg.ChatID != s.settings.TargetChatID {
		return OutcomeIgnored, nil
	}

	sale, ok := s.parser.Parse(msg.Text)
	if !ok {
		s.log.Debug().Int64("chat_id", msg.ChatID).Msg("message is not a sale")
		return OutcomeNoSale, nil
	}

	observed := msg.Timestamp
	if observed.IsZero() {
		observed = s.now()
	}
	txid := sale.TransactionID

	outcome, _, err := s.process(ctx, pending{
		key:           idempotency.TransactionKey(txid),
		transactionID: &txid,
		orderID:       "pedido-" + txid,
		amount:        sale.Amount,
		customerName:  sale.CustomerName,
		customerEmail: sale.CustomerEmail,
		paymentMethod: orDefault(sale.PaymentMethod, s.settings.PaymentMethod),
		platform:      orDefault(sale.Platform, s.settings.Platform),
		origin:        db.OriginTelegram,
		observedAt:    observed,
		query: correlate.Query{
			SenderID:     msg.SenderID,
			Token:        sale.Token,
			ObservedAtMs: observed.UnixMilli(),
			Origin:       db.OriginTelegram,
		},
	})
	return outcome, err
}

// ManualSale is a sale reported directly over HTTP, with its attribution
// already known. It has no transaction id.
type ManualSale struct {
	Name        string
	Email       string
	Amount      decimal.Decimal
	Attribution db.Attribution
	Origin      string
	UserAgent   string
}

// HandleManualSale records and forwards s. It is deduplicated by the
// tuple key, so identical submissions are forwarded once.
func (s *Service) HandleManualSale(ctx context.Context, m ManualSale) (Outcome, *orders.Response, error) {
	a := m.Attribution
	key := idempotency.TupleKey(idempotency.Tuple{
		Amount:      m.Amount,
		UTMSource:   deref(a.UTMSource),
		UTMMedium:   deref(a.UTMMedium),
		UTMCampaign: deref(a.UTMCampaign),
		UTMContent:  deref(a.UTMContent),
		UTMTerm:     deref(a.UTMTerm),
		Origin:      m.Origin,
		UserAgent:   m.UserAgent,
	})
	outcome, resp, err := s.process(ctx, pending{
		key:           key,
		orderID:       "pedido-" + uuid.NewString(),
		amount:        m.Amount,
		customerName:  m.Name,
		customerEmail: m.Email,
		paymentMethod: s.settings.PaymentMethod,
		platform:      s.settings.Platform,
		origin:        m.Origin,
		observedAt:    s.now(),
		attribution:   &a,
	})
	metrics.ManualSalesTotal.WithLabelValues(string(outcome)).Inc()
	return outcome, resp, err
}

// pending is a sale on its way through the ledger.
type pending struct {
	key           string
	transactionID *string
	orderID       string
	amount        decimal.Decimal
	customerName  string
	customerEmail string
	paymentMethod string
	platform      string
	origin        string
	observedAt    time.Time

	// attribution, when set, skips correlation.
	attribution *db.Attribution
	query       correlate.Query
}

func (s *Service) process(ctx context.Context, p pending) (Outcome, *orders.Response, error) {
	log := s.log.With().Str("key", p.key).Str("order_id", p.orderID).Logger()

	// Fast path only; Record below decides.
	if seen, err := s.ledger.Exists(ctx, p.key, time.Time{}); err != nil {
		log.Warn().Err(err).Msg("ledger lookup failed")
	} else if seen {
		log.Info().Msg("duplicate sale skipped")
		return OutcomeDuplicate, nil, nil
	}

	tier := "explicit"
	var attr db.Attribution
	if p.attribution != nil {
		attr = *p.attribution
	} else {
		m := s.correlator.Resolve(ctx, p.query)
		attr = m.Attribution()
		tier = string(m.Tier)
	}

	order := orders.NewOrder(orders.Sale{
		OrderID:       p.orderID,
		Platform:      p.platform,
		PaymentMethod: p.paymentMethod,
		CustomerName:  p.customerName,
		CustomerEmail: p.customerEmail,
		ProductName:   s.settings.ProductName,
		Amount:        p.amount,
		ApprovedAt:    p.observedAt,
		Attribution:   attr,
	})
	payload, err := json.Marshal(order)
	if err != nil {
		return OutcomeError, nil, fmt.Errorf("encode order: %w", err)
	}

	rec := &db.SaleRecord{
		IdempotencyKey:  p.key,
		TransactionID:   p.transactionID,
		Amount:          p.amount,
		OrderID:         p.orderID,
		NetworkOrigin:   p.origin,
		CorrelationTier: tier,
	}
	rec.Apply(attr)

	inserted, err := s.ledger.Record(ctx, rec, payload)
	if err != nil {
		return OutcomeError, nil, fmt.Errorf("record sale: %w", err)
	}
	if !inserted {
		log.Info().Msg("duplicate sale skipped")
		return OutcomeDuplicate, nil, nil
	}

	resp, err := s.forwarder.Send(ctx, payload)
	// Bookkeeping must land even if the caller has gone away.
	bctx := context.WithoutCancel(ctx)
	if err != nil {
		status := orders.StatusOf(err)
		log.Error().Err(err).Int("status", status).Str("tier", tier).Msg("order forward failed; queued for redelivery")
		if merr := s.ledger.MarkFailed(bctx, p.key, status, err); merr != nil {
			log.Error().Err(merr).Msg("recording forward failure")
		}
		return OutcomeForwardFailed, nil, err
	}

	if merr := s.ledger.MarkDelivered(bctx, p.key, resp.Status); merr != nil {
		log.Error().Err(merr).Msg("recording forward success")
	}
	log.Info().
		Str("tier", tier).
		Str("amount", p.amount.StringFixed(2)).
		Int("status", resp.Status).
		Msg("sale forwarded")
	return OutcomeForwarded, resp, nil
}

func orDefault(v, def string) string {
	if v == "" || v == parser.Unknown {
		return def
	}
	return v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
