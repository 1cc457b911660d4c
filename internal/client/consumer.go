// Package client is the consuming side of the chat relay: it sends a turn,
// renders the streamed reply incrementally and persists both turns.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/toidukodu/tehiskokk/internal/chat"
	"github.com/toidukodu/tehiskokk/internal/identity"
	"github.com/toidukodu/tehiskokk/internal/relay"
	"github.com/toidukodu/tehiskokk/internal/sse"
)

var (
	ErrEmptyMessage = errors.New("client: message is empty")
	ErrTurnInFlight = errors.New("client: a turn is already in flight")
	ErrIdleTimeout  = errors.New("client: stream idle timeout")
)

// ConversationStore is the persistence the consumer writes through. All
// methods are best effort: failures yield nil or empty results.
type ConversationStore interface {
	GetOrCreateSession(ctx context.Context, id string) *chat.Session
	GetMessages(ctx context.Context, sessionID string) []chat.Message
	SaveMessage(ctx context.Context, sessionID string, role chat.Role, content string, imageURL *string) *chat.Message
}

// RelayError is a terminal error frame or a non-streaming error response.
type RelayError struct {
	Status  int
	Message string
}

func (e *RelayError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("relay: status %d: %s", e.Status, e.Message)
	}
	return "relay: " + e.Message
}

type Option func(*Consumer)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Consumer) { c.http = hc }
}

// WithTimeouts bounds a whole turn and the silence between two reads.
func WithTimeouts(total, idle time.Duration) Option {
	return func(c *Consumer) {
		if total > 0 {
			c.totalTimeout = total
		}
		if idle > 0 {
			c.idleTimeout = idle
		}
	}
}

// WithOnUpdate registers a callback invoked after every visible change of a
// turn, including each merged delta.
func WithOnUpdate(fn func(Turn)) Option {
	return func(c *Consumer) { c.onUpdate = fn }
}

type Consumer struct {
	relayURL     string
	http         *http.Client
	store        ConversationStore
	identity     identity.Provider
	totalTimeout time.Duration
	idleTimeout  time.Duration
	onUpdate     func(Turn)
	log          *logrus.Entry

	transcript Transcript
	failed     sync.Map // turn id -> struct{}

	mu           sync.Mutex
	inFlight     bool
	sessionID    string
	sessionReady bool
}

// New builds a consumer posting turns to relayURL. A nil store runs without
// persistence.
func New(relayURL string, store ConversationStore, id identity.Provider, opts ...Option) *Consumer {
	if store == nil {
		store = (*chat.Store)(nil)
	}
	c := &Consumer{
		relayURL:     relayURL,
		http:         &http.Client{},
		store:        store,
		identity:     id,
		totalTimeout: 5 * time.Minute,
		idleTimeout:  60 * time.Second,
		log:          logrus.WithField("component", "chat_client"),
	}
	for _, o := range opts {
		o(c)
	}
	c.transcript.Reset()
	return c
}

// Init resolves the session identity, makes sure the session exists and
// loads its history. Without history the welcome message is shown.
func (c *Consumer) Init(ctx context.Context) {
	sid := c.identity.GetSessionID()
	sess := c.store.GetOrCreateSession(ctx, sid)
	msgs := c.store.GetMessages(ctx, sid)

	c.mu.Lock()
	c.sessionID = sid
	c.sessionReady = sess != nil
	c.mu.Unlock()

	c.transcript.Load(msgs)
}

func (c *Consumer) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// InFlight reports whether a turn is running. Input should stay disabled
// while it does.
func (c *Consumer) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// ShowExamples reports whether ExamplePrompts should be offered: nothing has
// been said in this session yet.
func (c *Consumer) ShowExamples() bool {
	return c.transcript.Fresh()
}

func (c *Consumer) Transcript() []Turn {
	return c.transcript.Turns()
}

// Reset abandons the current session: the identity is cleared, a fresh one
// is minted and the transcript returns to the welcome state. Stored history
// of the old session is left untouched.
func (c *Consumer) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		return ErrTurnInFlight
	}
	c.identity.ClearSession()
	c.sessionID = c.identity.GetSessionID()
	c.sessionReady = false
	c.transcript.Reset()
	return nil
}

// Send runs one chat turn to completion or failure. On failure the assistant
// placeholder shows FailureMessage and the error is returned.
func (c *Consumer) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return ErrTurnInFlight
	}
	c.inFlight = true
	if c.sessionID == "" {
		c.sessionID = c.identity.GetSessionID()
	}
	sid, ready := c.sessionID, c.sessionReady
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	if !ready && c.store.GetOrCreateSession(ctx, sid) != nil {
		c.mu.Lock()
		if c.sessionID == sid {
			c.sessionReady = true
		}
		c.mu.Unlock()
	}

	history := c.requestTurns()

	user := Turn{ID: localID("user"), Role: chat.RoleUser, Content: text}
	c.transcript.Append(user)
	c.notify(user)
	c.store.SaveMessage(ctx, sid, chat.RoleUser, text, nil)

	placeholder := Turn{ID: localID("assistant"), Role: chat.RoleAssistant}
	c.transcript.Append(placeholder)
	c.notify(placeholder)

	history = append(history, relay.Turn{Role: chat.RoleUser, Content: text})
	full, err := c.stream(ctx, placeholder.ID, history)
	if err != nil {
		c.log.WithError(err).WithField("session_id", sid).Warn("chat turn failed")
		c.failed.Store(placeholder.ID, struct{}{})
		c.transcript.Replace(placeholder.ID, FailureMessage)
		c.notifyID(placeholder.ID)
		return err
	}

	if full != "" {
		c.store.SaveMessage(ctx, sid, chat.RoleAssistant, full, nil)
	}
	return nil
}

// requestTurns is the visible transcript minus client-only turns: the
// welcome message, failure notices and empty replies.
func (c *Consumer) requestTurns() []relay.Turn {
	turns := c.transcript.Turns()
	out := make([]relay.Turn, 0, len(turns)+1)
	for _, t := range turns {
		if t.ID == WelcomeID || strings.TrimSpace(t.Content) == "" {
			continue
		}
		if _, failed := c.failed.Load(t.ID); failed {
			continue
		}
		out = append(out, relay.Turn{Role: t.Role, Content: t.Content})
	}
	return out
}

func (c *Consumer) stream(ctx context.Context, placeholderID string, history []relay.Turn) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.totalTimeout)
	defer cancel()

	body, err := json.Marshal(relay.Request{Messages: history})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.relayURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4*1024)).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return "", &RelayError{Status: resp.StatusCode, Message: e.Error}
	}

	var idleFired atomic.Bool
	watchdog := time.AfterFunc(c.idleTimeout, func() {
		idleFired.Store(true)
		cancel()
	})
	defer watchdog.Stop()

	var (
		dec sse.Decoder
		acc strings.Builder
		buf = make([]byte, 4*1024)
	)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			watchdog.Reset(c.idleTimeout)
			events, derr := dec.Write(buf[:n])
			done, err := c.merge(events, &acc, placeholderID)
			if err != nil {
				return "", err
			}
			if done {
				return acc.String(), nil
			}
			if derr != nil {
				return "", fmt.Errorf("read relay stream: %w", derr)
			}
		}
		if errors.Is(rerr, io.EOF) {
			// stream ended without a terminal frame: keep what arrived
			if pending := dec.Buffered(); pending > 0 {
				c.log.WithField("bytes", pending).Debug("stream ended mid-line")
			}
			if _, err := c.merge(dec.Flush(), &acc, placeholderID); err != nil {
				return "", err
			}
			if dec.Skipped() > 0 {
				c.log.WithField("skipped", dec.Skipped()).Debug("skipped undecodable frames")
			}
			return acc.String(), nil
		}
		if rerr != nil {
			if idleFired.Load() {
				return "", ErrIdleTimeout
			}
			return "", rerr
		}
	}
}

// merge applies decoded events to the accumulated reply. done is true once a
// done frame has been seen.
func (c *Consumer) merge(events []sse.Event, acc *strings.Builder, placeholderID string) (done bool, err error) {
	for _, ev := range events {
		switch ev.Kind {
		case sse.EventText:
			if ev.Text == "" {
				continue
			}
			acc.WriteString(ev.Text)
			c.transcript.Replace(placeholderID, acc.String())
			c.notifyID(placeholderID)
		case sse.EventError:
			return false, &RelayError{Message: ev.Error}
		case sse.EventDone:
			return true, nil
		}
	}
	return false, nil
}

func (c *Consumer) notify(t Turn) {
	if c.onUpdate != nil {
		c.onUpdate(t)
	}
}

func (c *Consumer) notifyID(id string) {
	if c.onUpdate == nil {
		return
	}
	if t, ok := c.transcript.Get(id); ok {
		c.onUpdate(t)
	}
}
