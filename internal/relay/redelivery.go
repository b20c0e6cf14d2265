package relay

import (
	"context"
	"time"

	"utmrelay/internal/orders"
)

const redeliveryBatch = 50

// RedeliverPending resends every due, unforwarded sale once. It returns the
// number of deliveries the order API accepted.
func (s *Service) RedeliverPending(ctx context.Context) (int, error) {
	due, err := s.ledger.PendingDeliveries(ctx, s.settings.MaxAttempts, redeliveryBatch)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, d := range due {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		claimed, err := s.ledger.Claim(ctx, d)
		if err != nil {
			return sent, err
		}
		if !claimed {
			continue
		}

		log := s.log.With().Str("key", d.IdempotencyKey).Int("attempt", d.Attempts+1).Logger()
		resp, err := s.forwarder.Send(ctx, d.Payload)
		bctx := context.WithoutCancel(ctx)
		if err != nil {
			status := orders.StatusOf(err)
			log.Warn().Err(err).Int("status", status).Msg("redelivery failed")
			if merr := s.ledger.MarkFailed(bctx, d.IdempotencyKey, status, err); merr != nil {
				log.Error().Err(merr).Msg("recording redelivery failure")
			}
			continue
		}
		if merr := s.ledger.MarkDelivered(bctx, d.IdempotencyKey, resp.Status); merr != nil {
			log.Error().Err(merr).Msg("recording redelivery success")
		}
		log.Info().Int("status", resp.Status).Msg("sale redelivered")
		sent++
	}
	return sent, nil
}

// StartRedeliveryWorker retries failed forwards once at startup and then
// every interval, until ctx is cancelled.
func (s *Service) StartRedeliveryWorker(ctx context.Context, interval time.Duration) {
	run := func(phase string) {
		n, err := s.RedeliverPending(ctx)
		if err != nil && ctx.Err() == nil {
			s.log.Error().Err(err).Str("phase", phase).Msg("redelivery pass failed")
			return
		}
		if n > 0 {
			s.log.Info().Int("sent", n).Str("phase", phase).Msg("redelivery pass done")
		}
	}

	go func() {
		run("startup")

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run("tick")
			}
		}
	}()
}
