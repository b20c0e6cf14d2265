package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SenderTokens persists the chat sender to correlation token association
// made by /start handshakes, so it survives restarts.
type SenderTokens struct {
	db  *gorm.DB
	now func() time.Time
}

func NewSenderTokens(db *gorm.DB) *SenderTokens {
	return &SenderTokens{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Bind associates senderID with token in one upsert, replacing any
// earlier token.
func (s *SenderTokens) Bind(ctx context.Context, senderID int64, token string) error {
	rec := SenderToken{SenderID: senderID, Token: token, UpdatedAt: s.now()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sender_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"token", "updated_at"}),
	}).Create(&rec).Error
}

// TokenFor returns the token bound to senderID, or "" when none is.
func (s *SenderTokens) TokenFor(ctx context.Context, senderID int64) (string, error) {
	var rec SenderToken
	err := s.db.WithContext(ctx).Where("sender_id = ?", senderID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return rec.Token, nil
}
