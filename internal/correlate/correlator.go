// Package correlate resolves the click that led to a sale.
//
// Tiers are tried in order and the first hit wins:
//
//	sender  token bound to the chat sender by a /start handshake
//	token   explicit token carried with the sale
//	time    nearest click within the attribution window
//
// A lookup error is logged and the next tier is tried; correlation never
// blocks forwarding.
package correlate

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"utmrelay/internal/db"
	"utmrelay/internal/logging"
	"utmrelay/internal/metrics"
)

// Tier names the strategy that produced a match.
type Tier string

const (
	TierSender Tier = "sender"
	TierToken  Tier = "token"
	TierTime   Tier = "time"
	TierNone   Tier = "none"
)

// Finder looks up attribution records.
type Finder interface {
	FindByToken(ctx context.Context, token string) (*db.AttributionRecord, error)
	FindNearestByTime(ctx context.Context, targetMs int64, origin string, window time.Duration) (*db.AttributionRecord, error)
}

// SenderLookup returns the token bound to a chat sender.
type SenderLookup interface {
	TokenFor(ctx context.Context, senderID int64) (string, error)
}

// Query describes the sale being correlated.
type Query struct {
	// SenderID is the chat sender; zero when the sale did not come from chat.
	SenderID int64
	// Token is an explicit correlation token from the sale itself.
	Token string
	// ObservedAtMs is when the sale was seen, ms since epoch.
	ObservedAtMs int64
	// Origin is the sale's network origin, possibly a sentinel.
	Origin string
}

// Match is the outcome of Resolve. Record is nil for TierNone.
type Match struct {
	Record *db.AttributionRecord
	Tier   Tier
}

// Attribution returns the UTM block to copy into the sale.
func (m Match) Attribution() db.Attribution {
	return m.Record.Attribution()
}

type Correlator struct {
	finder  Finder
	senders SenderLookup
	window  time.Duration
	log     zerolog.Logger
}

// New returns a Correlator. senders may be nil to disable the sender tier.
func New(finder Finder, senders SenderLookup, window time.Duration) *Correlator {
	return &Correlator{finder: finder, senders: senders, window: window, log: logging.With("correlate")}
}

// Resolve finds the attribution record for q.
func (c *Correlator) Resolve(ctx context.Context, q Query) Match {
	m := c.resolve(ctx, q)
	metrics.CorrelationsTotal.WithLabelValues(string(m.Tier)).Inc()
	return m
}

func (c *Correlator) resolve(ctx context.Context, q Query) Match {
	if c.senders != nil && q.SenderID != 0 {
		token, err := c.senders.TokenFor(ctx, q.SenderID)
		if err != nil {
			c.log.Warn().Err(err).Int64("sender_id", q.SenderID).Msg("sender token lookup failed")
		} else if rec := c.byToken(ctx, token); rec != nil {
			return Match{Record: rec, Tier: TierSender}
		}
	}

	if rec := c.byToken(ctx, q.Token); rec != nil {
		return Match{Record: rec, Tier: TierToken}
	}

	if q.ObservedAtMs > 0 {
		rec, err := c.finder.FindNearestByTime(ctx, q.ObservedAtMs, q.Origin, c.window)
		if err != nil {
			c.log.Warn().Err(err).Int64("observed_at_ms", q.ObservedAtMs).Msg("time correlation failed")
		} else if rec != nil {
			return Match{Record: rec, Tier: TierTime}
		}
	}

	return Match{Tier: TierNone}
}

func (c *Correlator) byToken(ctx context.Context, token string) *db.AttributionRecord {
	if token == "" {
		return nil
	}
	rec, err := c.finder.FindByToken(ctx, token)
	if err != nil {
		c.log.Warn().Err(err).Str("token", token).Msg("token lookup failed")
		return nil
	}
	return rec
}
