// Package relay forwards a chat turn to the model gateway and re-emits the
// generated text to the caller as a stream of sse frames.
package relay

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/toidukodu/tehiskokk/internal/ai"
	"github.com/toidukodu/tehiskokk/internal/chat"
	"github.com/toidukodu/tehiskokk/internal/sse"
)

// User-facing messages.
const (
	MsgNotConfigured   = "API ei ole seadistatud"
	MsgMissingMessages = "Sõnumid on puudu"
	MsgInvalidMessages = "Vigased sõnumid"
	MsgServerError     = "Serveri viga. Proovi hiljem uuesti."
)

var (
	ErrGatewayNotConfigured = errors.New("relay: model gateway not configured")
	errIdleTimeout          = errors.New("relay: no upstream output within idle timeout")
)

type Turn struct {
	Role    chat.Role `json:"role"`
	Content string    `json:"content"`
}

type Request struct {
	Messages []Turn `json:"messages"`
}

type Options struct {
	// WindowSize bounds how many of the most recent turns are forwarded.
	// Zero or less forwards the whole history.
	WindowSize   int
	TotalTimeout time.Duration
	IdleTimeout  time.Duration
	Heartbeat    time.Duration
	SystemPrompt string
}

type Relay struct {
	gateway ai.StreamProvider
	opts    Options
	log     *logrus.Entry
}

// New builds a relay. A nil gateway is allowed: every request then fails with
// a configuration error before any network call.
func New(gateway ai.StreamProvider, opts Options) *Relay {
	if opts.TotalTimeout <= 0 {
		opts.TotalTimeout = 5 * time.Minute
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 60 * time.Second
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = SystemPrompt
	}
	return &Relay{gateway: gateway, opts: opts, log: logrus.WithField("component", "relay")}
}

// Configured reports whether an upstream gateway is available.
func (r *Relay) Configured() bool {
	return r.gateway != nil
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// Validate checks the incoming turns.
func (req Request) Validate() error {
	if len(req.Messages) == 0 {
		return errors.New(MsgMissingMessages)
	}
	for _, m := range req.Messages {
		if !m.Role.Valid() || strings.TrimSpace(m.Content) == "" {
			return errors.New(MsgInvalidMessages)
		}
	}
	return nil
}

// Handle serves POST requests carrying {messages:[{role,content}...]}.
func (r *Relay) Handle(c *gin.Context) {
	log := r.log.WithField("request_id", c.GetString("request_id"))

	if !r.Configured() {
		log.WithError(ErrGatewayNotConfigured).Error("chat request rejected")
		fail(c, http.StatusInternalServerError, MsgNotConfigured)
		return
	}

	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, MsgMissingMessages)
		return
	}
	if err := req.Validate(); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	w := sse.NewWriter(c.Writer)
	r.Stream(c.Request.Context(), w, r.upstreamMessages(req.Messages), log)
	if !w.Terminated() {
		log.Debug("stream closed without terminal frame")
	}
}

// upstreamMessages prepends the system prompt and applies the history window.
func (r *Relay) upstreamMessages(turns []Turn) []ai.Message {
	if n := r.opts.WindowSize; n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]ai.Message, 0, len(turns)+1)
	out = append(out, ai.Message{Role: "system", Content: r.opts.SystemPrompt})
	for _, t := range turns {
		out = append(out, ai.Message{Role: string(t.Role), Content: t.Content})
	}
	return out
}

// Stream relays gateway output to w until the gateway finishes, fails, times
// out or the caller goes away. Unless the caller went away, exactly one
// terminal frame is written.
func (r *Relay) Stream(ctx context.Context, w *sse.Writer, messages []ai.Message, log *logrus.Entry) {
	start := time.Now()
	streamCtx, cancel := context.WithTimeout(ctx, r.opts.TotalTimeout)
	defer cancel()

	chunks, errs := r.gateway.StreamChat(streamCtx, messages)

	idle := time.NewTimer(r.opts.IdleTimeout)
	defer idle.Stop()
	ticker := time.NewTicker(r.opts.Heartbeat)
	defer ticker.Stop()

	var deltas, size int
	finish := func(err error) {
		fields := logrus.Fields{"deltas": deltas, "bytes": size, "cost": time.Since(start).String()}
		if err == nil {
			log.WithFields(fields).Info("chat stream done")
			_ = w.Done()
			return
		}
		log.WithFields(fields).WithError(err).Error("chat stream failed")
		_ = w.Error(MsgServerError)
	}

	for {
		select {
		case c, ok := <-chunks:
			if !ok {
				err := <-errs
				if err == nil && streamCtx.Err() != nil {
					err = streamCtx.Err()
				}
				if ctx.Err() != nil {
					log.WithField("deltas", deltas).Info("client went away")
					return
				}
				finish(err)
				return
			}
			if c == "" {
				continue
			}
			idle.Reset(r.opts.IdleTimeout)
			if err := w.Text(c); err != nil {
				log.WithError(err).Info("client went away")
				return
			}
			deltas++
			size += len(c)

		case <-idle.C:
			cancel()
			finish(errIdleTimeout)
			return

		case <-ticker.C:
			if err := w.Comment("ping"); err != nil {
				return
			}

		case <-streamCtx.Done():
			if ctx.Err() != nil {
				log.WithField("deltas", deltas).Info("client went away")
				return
			}
			finish(streamCtx.Err())
			return
		}
	}
}
