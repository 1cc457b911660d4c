package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// HistoryCache holds the serialized ordered history of a session next to a
// per-session version that every save bumps. GetHistory returns an error
// (any) on miss.
type HistoryCache interface {
	GetHistory(ctx context.Context, sessionID string) ([]byte, error)
	HistoryVersion(ctx context.Context, sessionID string) (int64, error)
	// SetHistory stores data only while the version still equals version and
	// reports whether it did.
	SetHistory(ctx context.Context, sessionID string, version int64, data []byte) (bool, error)
	// InvalidateHistory bumps the version and drops the cached list.
	InvalidateHistory(ctx context.Context, sessionID string) error
}

// EventPublisher announces stored messages to background workers.
type EventPublisher interface {
	PublishMessageSaved(ctx context.Context, sessionID, messageID string, createdAt time.Time) error
}

var ErrInvalidMessage = errors.New("invalid message")

// Store is the best-effort persistence façade used by the chat feature.
// Failures are logged and reported as absent results, never as errors. A nil
// *Store, or one built without a repo, runs in degraded mode: every operation
// is a no-op.
type Store struct {
	repo   *Repo
	cache  HistoryCache
	events EventPublisher
	log    *logrus.Entry
}

type StoreOption func(*Store)

func WithHistoryCache(c HistoryCache) StoreOption {
	return func(s *Store) { s.cache = c }
}

func WithEventPublisher(p EventPublisher) StoreOption {
	return func(s *Store) { s.events = p }
}

func NewStore(repo *Repo, opts ...StoreOption) *Store {
	s := &Store{repo: repo, log: logrus.WithField("component", "chat_store")}
	for _, o := range opts {
		o(s)
	}
	if repo == nil {
		s.log.Warn("persistence not configured, chat history will not be saved")
	}
	return s
}

// Enabled reports whether messages are durably persisted.
func (s *Store) Enabled() bool {
	return s != nil && s.repo != nil
}

// GetOrCreateSession returns the session row for id, creating it on first
// use. Calling it again with the same id returns the same row.
func (s *Store) GetOrCreateSession(ctx context.Context, id string) *Session {
	if !s.Enabled() || strings.TrimSpace(id) == "" {
		return nil
	}
	sess, err := s.repo.UpsertSession(ctx, id)
	if err != nil {
		s.log.WithError(err).WithField("session_id", id).Error("upsert session failed")
		return nil
	}
	return sess
}

// GetMessages returns the session history oldest first. Any failure yields
// an empty slice.
func (s *Store) GetMessages(ctx context.Context, sessionID string) []Message {
	if !s.Enabled() || strings.TrimSpace(sessionID) == "" {
		return []Message{}
	}

	if s.cache != nil {
		if data, err := s.cache.GetHistory(ctx, sessionID); err == nil {
			var msgs []Message
			if err := json.Unmarshal(data, &msgs); err == nil {
				return msgs
			}
			s.log.WithField("session_id", sessionID).Warn("discarding undecodable cached history")
		}
	}

	// read the version before the rows: a save landing in between bumps it
	// and the fill below is refused
	var (
		version int64
		verr    error
	)
	if s.cache != nil {
		version, verr = s.cache.HistoryVersion(ctx, sessionID)
	}

	msgs, err := s.repo.ListMessages(ctx, sessionID)
	if err != nil {
		s.log.WithError(err).WithField("session_id", sessionID).Error("list messages failed")
		return []Message{}
	}
	if msgs == nil {
		msgs = []Message{}
	}

	if s.cache != nil && verr == nil && len(msgs) > 0 {
		s.fillCache(ctx, sessionID, version, msgs)
	}
	return msgs
}

func (s *Store) fillCache(ctx context.Context, sessionID string, version int64, msgs []Message) {
	data, err := json.Marshal(msgs)
	if err != nil {
		return
	}
	stored, err := s.cache.SetHistory(ctx, sessionID, version, data)
	if err != nil {
		s.log.WithError(err).WithField("session_id", sessionID).Warn("cache history failed")
		return
	}
	if !stored {
		s.log.WithField("session_id", sessionID).Debug("history changed while loading, not cached")
	}
}

// SaveMessage stores one message and returns the stored row, or nil when the
// store is unavailable or the write failed.
func (s *Store) SaveMessage(ctx context.Context, sessionID string, role Role, content string, imageURL *string) *Message {
	if !s.Enabled() {
		return nil
	}
	if strings.TrimSpace(sessionID) == "" || !role.Valid() {
		s.log.WithError(ErrInvalidMessage).WithFields(logrus.Fields{
			"session_id": sessionID,
			"role":       role,
		}).Warn("refusing to save message")
		return nil
	}

	m := &Message{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		ImageURL:  imageURL,
	}
	if err := s.repo.InsertMessage(ctx, m); err != nil {
		s.log.WithError(err).WithField("session_id", sessionID).Error("save message failed")
		return nil
	}

	if s.cache != nil {
		if err := s.cache.InvalidateHistory(ctx, sessionID); err != nil {
			s.log.WithError(err).WithField("session_id", sessionID).Warn("invalidate cached history failed")
		}
	}

	s.announce(ctx, m)
	return m
}

// announce hands the session touch to the worker when a publisher is wired,
// and applies it inline otherwise.
func (s *Store) announce(ctx context.Context, m *Message) {
	if s.events != nil {
		err := s.events.PublishMessageSaved(ctx, m.SessionID, m.ID, m.CreatedAt)
		if err == nil {
			return
		}
		s.log.WithError(err).WithField("message_id", m.ID).Warn("publish message event failed, touching session inline")
	}
	if err := s.repo.TouchSession(ctx, m.SessionID, m.CreatedAt); err != nil {
		s.log.WithError(err).WithField("session_id", m.SessionID).Warn("touch session failed")
	}
}
