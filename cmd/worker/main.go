package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/toidukodu/tehiskokk/internal/chat"
	"github.com/toidukodu/tehiskokk/internal/config"
	"github.com/toidukodu/tehiskokk/internal/db"
	"github.com/toidukodu/tehiskokk/internal/logx"
	"github.com/toidukodu/tehiskokk/internal/store/rabbitmq"
)

func main() {
	cfg := config.Load()
	logx.Setup(cfg.LogLevel, cfg.LogFormat)

	if !cfg.PersistenceEnabled() {
		logrus.Fatal("worker needs DB_DSN")
	}
	if cfg.RabbitURL == "" {
		logrus.Fatal("worker needs RABBIT_URL")
	}

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logrus.WithError(err).Fatal("db connect")
	}
	repo := chat.NewRepo(gdb)

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, rabbitmq.ConsumerOptions{
		Concurrency: cfg.WorkerConcurrency,
	})
	if err != nil {
		logrus.WithError(err).Fatal("rabbit connect")
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := consumer.Run(ctx, touchSession(repo)); err != nil {
		logrus.WithError(err).Error("worker stopped")
	}
}

// touchSession moves the session's updated_at to the saved message's time.
// The update never moves it backwards, so redelivered or reordered events
// are harmless.
func touchSession(repo *chat.Repo) rabbitmq.HandlerFunc {
	return func(ctx context.Context, ev rabbitmq.MessageSaved) error {
		start := time.Now()
		if err := repo.TouchSession(ctx, ev.SessionID, ev.CreatedAt); err != nil {
			return err
		}
		if cost := time.Since(start); cost > 500*time.Millisecond {
			logrus.WithFields(logrus.Fields{
				"session_id": ev.SessionID,
				"message_id": ev.MessageID,
				"cost":       cost.String(),
			}).Warn("slow session touch")
		}
		return nil
	}
}
