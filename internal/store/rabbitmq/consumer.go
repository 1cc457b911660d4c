package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const attemptHeader = "x-attempt"

// HandlerFunc processes one event. A returned error schedules a retry.
type HandlerFunc func(ctx context.Context, ev MessageSaved) error

type ConsumerOptions struct {
	Concurrency int
	MaxAttempts int
	RetryDelay  time.Duration
}

type Consumer struct {
	pubMu sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	opts  ConsumerOptions
	log   *logrus.Entry
}

func NewConsumer(url, queue string, opts ConsumerOptions) (*Consumer, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.Concurrency > 50 {
		opts.Concurrency = 50
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}

	conn, ch, err := dial(url, queue)
	if err != nil {
		return nil, err
	}
	// prefetch bounded by the pool size
	if err := ch.Qos(opts.Concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Consumer{
		conn:  conn,
		ch:    ch,
		queue: queue,
		opts:  opts,
		log:   logrus.WithFields(logrus.Fields{"component": "worker", "queue": queue}),
	}, nil
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Run dispatches deliveries to a fixed pool of handlers until ctx is done or
// the broker closes the delivery channel.
func (c *Consumer) Run(ctx context.Context, handle HandlerFunc) error {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	c.log.WithField("concurrency", c.opts.Concurrency).Info("worker started")

	// worker pool
	jobs := make(chan amqp.Delivery, c.opts.Concurrency*2)
	var wg sync.WaitGroup
	wg.Add(c.opts.Concurrency)
	for i := 0; i < c.opts.Concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				c.process(ctx, workerID, d, handle)
			}
		}(i)
	}
	defer func() {
		close(jobs)
		wg.Wait()
	}()

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			c.log.Info("worker shutting down")
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("rabbitmq: delivery channel closed")
			}
			select {
			case jobs <- d:
			case <-ctx.Done():
				// unacked; the broker redelivers it
				return nil
			}
		}
	}
}

func (c *Consumer) process(ctx context.Context, workerID int, d amqp.Delivery, handle HandlerFunc) {
	log := c.log.WithField("worker", workerID)

	var ev MessageSaved
	if err := json.Unmarshal(d.Body, &ev); err != nil || ev.Validate() != nil {
		log.WithField("body", string(d.Body)).Warn("bad message, dead-lettering")
		_ = d.Nack(false, false)
		return
	}
	log = log.WithFields(logrus.Fields{"session_id": ev.SessionID, "message_id": ev.MessageID})

	start := time.Now()
	err := handle(ctx, ev)
	if err == nil {
		if err := d.Ack(false); err != nil {
			log.WithError(err).Warn("ack failed")
		}
		log.WithField("cost", time.Since(start).String()).Debug("event handled")
		return
	}

	attempt := attemptOf(d) + 1
	if attempt >= c.opts.MaxAttempts {
		log.WithError(err).WithField("attempt", attempt).Error("event failed, dead-lettering")
		_ = d.Nack(false, false)
		return
	}
	if rerr := c.retry(ctx, d, attempt); rerr != nil {
		log.WithError(rerr).Error("schedule retry failed, dead-lettering")
		_ = d.Nack(false, false)
		return
	}
	log.WithError(err).WithField("attempt", attempt).Warn("event failed, retry scheduled")
	_ = d.Ack(false)
}

// retry parks the delivery on the retry queue; its TTL dead-letters it back
// to the main queue.
func (c *Consumer) retry(ctx context.Context, d amqp.Delivery, attempt int) error {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	return c.ch.PublishWithContext(cctx, "", retryQueue(c.queue), false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Body:         d.Body,
		Timestamp:    time.Now(),
		Expiration:   strconv.FormatInt(c.opts.RetryDelay.Milliseconds(), 10),
		Headers:      amqp.Table{attemptHeader: int32(attempt)},
	})
}

func attemptOf(d amqp.Delivery) int {
	switch v := d.Headers[attemptHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}
