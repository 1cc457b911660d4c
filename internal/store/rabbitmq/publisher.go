// Package rabbitmq carries message-saved events from the API server to the
// worker.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageSaved is published once per stored chat message.
type MessageSaved struct {
	SessionID string    `json:"session_id"`
	MessageID string    `json:"message_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (m MessageSaved) Validate() error {
	if m.SessionID == "" || m.MessageID == "" || m.CreatedAt.IsZero() {
		return errors.New("rabbitmq: incomplete message-saved event")
	}
	return nil
}

func retryQueue(queue string) string { return queue + ".retry" }
func deadQueue(queue string) string  { return queue + ".dlq" }

// declareQueues sets up the main queue with its retry and dead-letter
// companions. Publisher and consumer declare identically, so either side may
// start first.
//
// Rejected main-queue messages go to the DLQ. Retry-queue messages expire
// back into the main queue.
func declareQueues(ch *amqp.Channel, queue string) error {
	deadLetterTo := func(target string) amqp.Table {
		return amqp.Table{"x-dead-letter-exchange": "", "x-dead-letter-routing-key": target}
	}
	topology := []struct {
		name string
		args amqp.Table
	}{
		{deadQueue(queue), nil},
		{retryQueue(queue), deadLetterTo(queue)},
		{queue, deadLetterTo(deadQueue(queue))},
	}
	for _, q := range topology {
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return fmt.Errorf("rabbitmq: declare %s: %w", q.name, err)
		}
	}
	return nil
}

type Publisher struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// dial opens a connection and channel with the queue topology declared.
func dial(url, queue string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err == nil {
		err = declareQueues(ch, queue)
	}
	if err != nil {
		if ch != nil {
			_ = ch.Close()
		}
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, ch, err := dial(url, queue)
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func (p *Publisher) PublishMessageSaved(ctx context.Context, sessionID, messageID string, createdAt time.Time) error {
	body, err := json.Marshal(MessageSaved{SessionID: sessionID, MessageID: messageID, CreatedAt: createdAt.UTC()})
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// amqp channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(cctx, "", p.queue, false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}
