package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/toidukodu/tehiskokk/internal/ai"
	"github.com/toidukodu/tehiskokk/internal/chat"
	"github.com/toidukodu/tehiskokk/internal/config"
	"github.com/toidukodu/tehiskokk/internal/db"
	"github.com/toidukodu/tehiskokk/internal/httpapi"
	"github.com/toidukodu/tehiskokk/internal/httpapi/handlers"
	"github.com/toidukodu/tehiskokk/internal/httpapi/middleware"
	"github.com/toidukodu/tehiskokk/internal/logx"
	"github.com/toidukodu/tehiskokk/internal/relay"
	"github.com/toidukodu/tehiskokk/internal/store/rabbitmq"
	"github.com/toidukodu/tehiskokk/internal/store/redisstore"
)

func main() {
	cfg := config.Load()
	logx.Setup(cfg.LogLevel, cfg.LogFormat)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// every backing service is optional; the chat keeps working without them
	var storeOpts []chat.StoreOption
	var limiter middleware.Limiter

	if cfg.RedisAddr != "" {
		rds, err := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.HistoryCacheTTL)
		if err != nil {
			logrus.WithError(err).Warn("redis unavailable, running without history cache and rate limiting")
		} else {
			defer rds.Close()
			storeOpts = append(storeOpts, chat.WithHistoryCache(rds))
			limiter = rds
		}
	}

	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			logrus.WithError(err).Warn("rabbitmq unavailable, sessions are touched inline")
		} else {
			defer pub.Close()
			storeOpts = append(storeOpts, chat.WithEventPublisher(pub))
		}
	}

	var repo *chat.Repo
	if cfg.PersistenceEnabled() {
		gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
		if err != nil {
			logrus.WithError(err).Warn("database unavailable, chat history will not be saved")
		} else {
			repo = chat.NewRepo(gdb)
		}
	}
	store := chat.NewStore(repo, storeOpts...)

	reg := ai.NewConfiguredRegistry(cfg)
	gateway, err := reg.Get(ctx, cfg.AIProvider, "")
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"provider":  cfg.AIProvider,
			"available": reg.Names(),
		}).Warn("model gateway not configured, chat requests will fail")
		gateway = nil
	}

	rl := relay.New(gateway, relay.Options{
		WindowSize:   cfg.ChatContextWindowSize,
		TotalTimeout: cfg.StreamTimeout,
		IdleTimeout:  cfg.StreamIdleTimeout,
		Heartbeat:    cfg.StreamHeartbeat,
	})

	router := httpapi.NewRouter(cfg, handlers.NewHandler(store, rl), limiter)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// streams are bounded by the relay's own timeouts
		WriteTimeout: 0,
	}

	go func() {
		logrus.WithFields(logrus.Fields{
			"addr":        cfg.HTTPAddr,
			"provider":    cfg.AIProvider,
			"persistence": store.Enabled(),
		}).Info("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("listen")
		}
	}()

	<-ctx.Done()
	logrus.Info("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("shutdown")
	}
}
