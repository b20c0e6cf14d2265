package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OriginTelegram is the network origin of sales seen on the chat feed.
const OriginTelegram = "telegram"

// IsSentinelOrigin reports whether origin carries no network-layer
// identity and must not be used to filter attribution candidates.
func IsSentinelOrigin(origin string) bool {
	switch origin {
	case "", "bot", OriginTelegram:
		return true
	}
	return false
}

// AttributionStore holds click/visit events awaiting correlation.
type AttributionStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewAttributionStore(db *gorm.DB) *AttributionStore {
	return &AttributionStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock returns a copy of s reading time from now.
func (s *AttributionStore) WithClock(now func() time.Time) *AttributionStore {
	c := *s
	c.now = now
	return &c
}

// Put appends rec. ReceivedAt defaults to the current time.
func (s *AttributionStore) Put(ctx context.Context, rec *AttributionRecord) error {
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = s.now()
	}
	return s.db.WithContext(ctx).Create(rec).Error
}

// FindByToken returns the most recently received record carrying token,
// or nil when there is none.
func (s *AttributionStore) FindByToken(ctx context.Context, token string) (*AttributionRecord, error) {
	if token == "" {
		return nil, nil
	}
	var rec AttributionRecord
	err := s.db.WithContext(ctx).
		Where("correlation_token = ?", token).
		Order("received_at DESC, id DESC").
		Take(&rec).Error
	return found(&rec, err)
}

// FindNearestByTime returns the record whose CapturedAtMs is closest to
// targetMs within [targetMs-window, targetMs+window], or nil. Unless origin
// is a sentinel, only records from that origin are considered.
func (s *AttributionStore) FindNearestByTime(ctx context.Context, targetMs int64, origin string, window time.Duration) (*AttributionRecord, error) {
	w := window.Milliseconds()
	q := s.db.WithContext(ctx).
		Where("captured_at_ms BETWEEN ? AND ?", targetMs-w, targetMs+w)
	if !IsSentinelOrigin(origin) {
		q = q.Where("network_origin = ?", origin)
	}

	var rec AttributionRecord
	err := q.Clauses(clause.OrderBy{
		Expression: clause.Expr{
			SQL:                "ABS(captured_at_ms - ?), id DESC",
			Vars:               []any{targetMs},
			WithoutParentheses: true,
		},
	}).Take(&rec).Error
	return found(&rec, err)
}

// PurgeOlderThan deletes records received more than horizon ago and
// returns how many were removed.
func (s *AttributionStore) PurgeOlderThan(ctx context.Context, horizon time.Duration) (int64, error) {
	cutoff := s.now().Add(-horizon)
	res := s.db.WithContext(ctx).Where("received_at < ?", cutoff).Delete(&AttributionRecord{})
	return res.RowsAffected, res.Error
}

func found(rec *AttributionRecord, err error) (*AttributionRecord, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}
