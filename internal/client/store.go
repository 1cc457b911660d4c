package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/toidukodu/tehiskokk/internal/chat"
)

// RemoteStore reaches the conversation store through the server's HTTP API.
// Like chat.Store it never returns errors: failures are logged and reported
// as nil or empty results. An empty base URL disables it.
type RemoteStore struct {
	baseURL string
	http    *http.Client
	log     *logrus.Entry
}

func NewRemoteStore(baseURL string, hc *http.Client) *RemoteStore {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &RemoteStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		log:     logrus.WithField("component", "remote_store"),
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (s *RemoteStore) enabled() bool {
	return s != nil && s.baseURL != ""
}

func (s *RemoteStore) GetOrCreateSession(ctx context.Context, id string) *chat.Session {
	if !s.enabled() || id == "" {
		return nil
	}
	var sess *chat.Session
	if err := s.do(ctx, http.MethodPost, "/api/sessions", map[string]string{"id": id}, &sess); err != nil {
		s.log.WithError(err).WithField("session_id", id).Error("get or create session failed")
		return nil
	}
	return sess
}

func (s *RemoteStore) GetMessages(ctx context.Context, sessionID string) []chat.Message {
	if !s.enabled() || sessionID == "" {
		return []chat.Message{}
	}
	var msgs []chat.Message
	if err := s.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(sessionID)+"/messages", nil, &msgs); err != nil {
		s.log.WithError(err).WithField("session_id", sessionID).Error("get messages failed")
		return []chat.Message{}
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	return msgs
}

func (s *RemoteStore) SaveMessage(ctx context.Context, sessionID string, role chat.Role, content string, imageURL *string) *chat.Message {
	if !s.enabled() || sessionID == "" {
		return nil
	}
	body := map[string]any{"role": role, "content": content}
	if imageURL != nil {
		body["image_url"] = *imageURL
	}
	var m *chat.Message
	if err := s.do(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(sessionID)+"/messages", body, &m); err != nil {
		s.log.WithError(err).WithField("session_id", sessionID).Error("save message failed")
		return nil
	}
	return m
}

func (s *RemoteStore) do(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8*1024*1024)).Decode(&env); err != nil {
		return fmt.Errorf("decode %s %s: status %d: %w", method, path, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || env.Code != 0 {
		return fmt.Errorf("%s %s: status %d code %d: %s", method, path, resp.StatusCode, env.Code, env.Message)
	}
	if len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
