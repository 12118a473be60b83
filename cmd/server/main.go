// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/impostor-game/impostor/internal/config"
	"github.com/impostor-game/impostor/internal/game"
	"github.com/impostor-game/impostor/internal/handlers"
	"github.com/impostor-game/impostor/internal/notify"
	"github.com/impostor-game/impostor/internal/room"
	"github.com/impostor-game/impostor/internal/store"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if config.GetEnv("LOG_LEVEL", "") == "debug" {
		logger.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load(config.GetEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		logger.WithError(err).Fatal("config load failed")
	}

	redisURL := config.GetEnv("REDIS_URL", "redis://localhost:6379/0")
	rdb, err := store.ConnectRedis(redisURL)
	if err != nil {
		logger.WithError(err).Fatal("redis connect failed")
	}
	defer rdb.Close()

	defaults := map[string]int{
		"round_time":    cfg.RedisRoomStore.Settings.RoundTime,
		"max_players":   cfg.RedisRoomStore.Settings.MaxPlayers,
		"turn_duration": cfg.RedisRoomStore.Settings.TurnDuration,
		"turn_grace":    cfg.RedisRoomStore.Settings.TurnGrace,
	}
	st := store.NewRedisStore(rdb, defaults)
	manager := notify.NewManager(logger)
	rooms := room.NewService(st, manager, logger)
	engine, err := game.NewService(st, manager, logger, cfg.TimerTickSeconds)
	if err != nil {
		logger.WithError(err).Fatal("engine init failed")
	}

	srv := handlers.NewServer(st, rooms, engine, manager, logger, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})

	server := &http.Server{
		Handler:     srv.Routes(),
		ReadTimeout: time.Second * 10,
	}

	port := config.GetEnv("PORT", "8000")
	l, err := net.Listen("tcp", fmt.Sprintf(":%s", port))
	if err != nil {
		logger.WithError(err).Fatal("failed to listen")
	}
	logger.WithField("addr", l.Addr().String()).Info("listening")

	errc := make(chan error, 1)
	go func() {
		errc <- server.Serve(l)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	select {
	case err := <-errc:
		logger.WithError(err).Error("serve failed")
	case sig := <-sigs:
		logger.WithField("signal", sig.String()).Info("terminating")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("shutdown failed")
		}
	}
}
