package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/FlexpointLLC/linquo-sub000/pkg/api"
	"github.com/FlexpointLLC/linquo-sub000/pkg/auth"
	"github.com/FlexpointLLC/linquo-sub000/pkg/broker"
	"github.com/FlexpointLLC/linquo-sub000/pkg/config"
	"github.com/FlexpointLLC/linquo-sub000/pkg/db"
	"github.com/FlexpointLLC/linquo-sub000/pkg/feed"
	"github.com/FlexpointLLC/linquo-sub000/pkg/gateway"
	"github.com/FlexpointLLC/linquo-sub000/pkg/metrics"
	"github.com/FlexpointLLC/linquo-sub000/pkg/model"
	"github.com/FlexpointLLC/linquo-sub000/pkg/presence"
	"github.com/FlexpointLLC/linquo-sub000/pkg/snowflake"
	"github.com/FlexpointLLC/linquo-sub000/pkg/store"
)

func main() {
	cfg := config.Load()

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithField("node_id", cfg.NodeID).Info("Starting conversation service")

	m := metrics.NewMetrics()

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ScyllaDB")
	}
	defer session.Close()

	ids, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize id generator")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	messageStore := store.New(session, ids, logger, m).
		WithChangelog(cfg.KafkaBrokers, cfg.ChangelogTopic)

	registry := presence.NewRegistry(logger).WithMirror(rdb)
	hub := broker.NewHub(registry, logger, m)

	authManager := auth.NewManager(cfg.JWTSecret)
	gw := gateway.New(registry, hub, messageStore, authManager, logger, m)

	reconciler := feed.New(messageStore, logger, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Other instances persist messages too. The changelog consumer replays
	// their committed rows into this instance's rooms; duplicates are
	// resolved client side by message id.
	consumer := feed.NewConsumer(cfg.KafkaBrokers, cfg.ChangelogTopic, logger, m)
	go func() {
		err := consumer.Run(ctx, func(msg model.Message) {
			ev, err := model.NewEvent(model.EventNewMessage, msg)
			if err != nil {
				return
			}
			hub.Publish(msg.ConversationID, ev)
		})
		if err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("Changelog consumer stopped")
		}
	}()

	handler := api.NewHandler(messageStore, reconciler, gw, authManager, rdb, logger, cfg.PageSize)
	router := handler.Router()
	router.HandleFunc("/ws", gw.ServeWS)

	srv := api.NewHTTPServer(":"+cfg.Port, router)
	go func() {
		logger.WithField("port", cfg.Port).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: promhttp.Handler()}
	go func() {
		logger.WithField("port", cfg.MetricsPort).Info("Metrics server listening")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Metrics server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("Received shutdown signal")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Error during HTTP shutdown")
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Error during metrics shutdown")
	}

	logger.Info("Shutdown complete")
}
