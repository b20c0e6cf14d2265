package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Ledger is the record of sales already accepted for forwarding.
//
// Novelty is decided by a single INSERT ... ON CONFLICT DO NOTHING against
// the unique idempotency_key index. There is no read-then-write step, so
// concurrent deliveries of the same sale cannot both win.
type Ledger struct {
	db  *gorm.DB
	now func() time.Time

	// lease is how long a delivery stays invisible to PendingDeliveries
	// after it is recorded or claimed.
	lease time.Duration
}

// DefaultLease covers one inline forward attempt, including its timeout.
const DefaultLease = 2 * time.Minute

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{
		db:    db,
		now:   func() time.Time { return time.Now().UTC() },
		lease: DefaultLease,
	}
}

// WithLease returns a copy of l using lease d.
func (l *Ledger) WithLease(d time.Duration) *Ledger {
	c := *l
	c.lease = d
	return &c
}

// WithClock returns a copy of l reading time from now.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	c := *l
	c.now = now
	return &c
}

// Exists reports whether key is already in the ledger. A zero since means
// no time bound.
func (l *Ledger) Exists(ctx context.Context, key string, since time.Time) (bool, error) {
	q := l.db.WithContext(ctx).Model(&SaleRecord{}).Where("idempotency_key = ?", key)
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// InsertIfAbsent stores rec unless its key is already present. It returns
// true only for the call that performed the insert.
func (l *Ledger) InsertIfAbsent(ctx context.Context, rec *SaleRecord) (bool, error) {
	return insertIfAbsent(l.db.WithContext(ctx), rec)
}

func insertIfAbsent(tx *gorm.DB, rec *SaleRecord) (bool, error) {
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Record inserts rec and, when it is new, its pending delivery carrying
// payload, in one transaction. The boolean is InsertIfAbsent's result.
func (l *Ledger) Record(ctx context.Context, rec *SaleRecord, payload []byte) (bool, error) {
	var inserted bool
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := insertIfAbsent(tx, rec)
		if err != nil || !ok {
			return err
		}
		inserted = true
		return tx.Create(&SaleDelivery{
			IdempotencyKey: rec.IdempotencyKey,
			Payload:        datatypes.JSON(payload),
			NextAttemptAt:  l.now().Add(l.lease),
		}).Error
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// Sale returns the ledger row for key, or nil when there is none.
func (l *Ledger) Sale(ctx context.Context, key string) (*SaleRecord, error) {
	var rec SaleRecord
	err := l.db.WithContext(ctx).Where("idempotency_key = ?", key).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Delivery returns the delivery row for key, or nil when there is none.
func (l *Ledger) Delivery(ctx context.Context, key string) (*SaleDelivery, error) {
	var d SaleDelivery
	err := l.db.WithContext(ctx).Where("idempotency_key = ?", key).Take(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// MarkDelivered records a successful forward.
func (l *Ledger) MarkDelivered(ctx context.Context, key string, status int) error {
	now := l.now()
	return l.db.WithContext(ctx).
		Model(&SaleDelivery{}).
		Where("idempotency_key = ?", key).
		Updates(map[string]any{
			"attempts":     gorm.Expr("attempts + 1"),
			"last_status":  status,
			"last_error":   "",
			"forwarded_at": now,
		}).Error
}

// MarkFailed records a failed forward and schedules the next attempt with
// exponential backoff.
func (l *Ledger) MarkFailed(ctx context.Context, key string, status int, cause error) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var d SaleDelivery
		if err := tx.Where("idempotency_key = ?", key).Take(&d).Error; err != nil {
			return err
		}
		msg := ""
		if cause != nil {
			msg = cause.Error()
		}
		attempts := d.Attempts + 1
		return tx.Model(&SaleDelivery{}).
			Where("id = ?", d.ID).
			Updates(map[string]any{
				"attempts":        attempts,
				"last_status":     status,
				"last_error":      msg,
				"next_attempt_at": l.now().Add(Backoff(attempts)),
			}).Error
	})
}

// PendingDeliveries returns unforwarded deliveries that are due and have
// fewer than maxAttempts attempts, oldest first.
func (l *Ledger) PendingDeliveries(ctx context.Context, maxAttempts, limit int) ([]SaleDelivery, error) {
	var out []SaleDelivery
	err := l.db.WithContext(ctx).
		Where("forwarded_at IS NULL AND attempts < ? AND next_attempt_at <= ?", maxAttempts, l.now()).
		Order("next_attempt_at, id").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// Claim takes d for one redelivery attempt by pushing its next attempt
// past the lease. Only one concurrent caller gets true for a given row.
func (l *Ledger) Claim(ctx context.Context, d SaleDelivery) (bool, error) {
	now := l.now()
	res := l.db.WithContext(ctx).
		Model(&SaleDelivery{}).
		Where("id = ? AND attempts = ? AND forwarded_at IS NULL AND next_attempt_at <= ?", d.ID, d.Attempts, now).
		Update("next_attempt_at", now.Add(l.lease))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

const (
	baseBackoff = 30 * time.Second
	maxBackoff  = 6 * time.Hour
)

// Backoff is the delay before retry number attempts+1.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		return 0
	}
	d := baseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
