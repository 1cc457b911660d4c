package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/toidukodu/tehiskokk/internal/common"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// UpsertSession inserts the session if it does not exist yet and returns the
// stored row. An existing row keeps its created_at; updated_at only moves
// forward.
func (r *Repo) UpsertSession(ctx context.Context, id string) (*Session, error) {
	now := time.Now().UTC()
	s := &Session{ID: id, CreatedAt: now, UpdatedAt: now}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(s).Error
	if err != nil {
		// insert failed: fall back to the existing row if there is one
		existing, getErr := r.GetSession(ctx, id)
		if getErr == nil {
			return existing, nil
		}
		if errors.Is(getErr, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, getErr
	}

	if err := r.TouchSession(ctx, id, now); err != nil {
		return nil, err
	}
	return r.GetSession(ctx, id)
}

func (r *Repo) GetSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// TouchSession advances updated_at to at. It never moves it backwards.
func (r *Repo) TouchSession(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND updated_at < ?", id, at.UTC()).
		UpdateColumn("updated_at", at.UTC()).Error
}

// InsertMessage assigns id and created_at when unset and stores the row.
func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		id, err := common.NewULID()
		if err != nil {
			return fmt.Errorf("message id: %w", err)
		}
		m.ID = id
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(m).Error
}

// ListMessages returns all messages of a session in ASC created_at order
// (oldest -> newest). Ties are broken by the ULID id.
func (r *Repo) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}
