package main

import (
	"context"
	"crypto/tls"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/aliftan/zero-kanban/api"
	"github.com/aliftan/zero-kanban/board"
	"github.com/aliftan/zero-kanban/storage"
)

func main() {
	logger := log.New()
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		logger.SetLevel(log.DebugLevel)
	}
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		logger.SetFormatter(&log.JSONFormatter{})
	}

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	tableName := os.Getenv("BOARD_TABLE")
	if connStr == "" || tableName == "" {
		logger.Fatal("missing storage config")
	}
	boardID := os.Getenv("BOARD_ID")
	if boardID == "" {
		boardID = "default"
	}

	tables, err := storage.New(connStr, tableName, boardID)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}
	var persistence board.Persistence = tables

	var deduper api.Deduper
	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		rc := redis.NewClient(parseRedisOptions(redisConn))
		persistence = storage.NewCache(tables, rc, boardID, envDur(logger, "CACHE_TTL", 5*time.Minute))
		deduper = api.NewRedisDeduper(rc, envDur(logger, "DEDUPER_TTL", 24*time.Hour))
	} else {
		logger.Warn("REDIS_CONNECTION_STRING not set; board cache and idempotency keys disabled")
	}

	var opts []board.Option
	var dispatcher *storage.Dispatcher
	if queueName := os.Getenv("EVENTS_QUEUE"); queueName != "" {
		queue, err := storage.NewEventQueue(connStr, queueName, boardID)
		if err != nil {
			logger.Fatalf("events queue: %v", err)
		}
		dispatcher = storage.NewDispatcher(queue, storage.DispatcherConfig{
			Workers:        envInt(logger, "EVENT_WORKERS", 4),
			Buffer:         envInt(logger, "EVENT_BUFFER", 1024),
			PublishTimeout: envDur(logger, "EVENT_PUBLISH_TIMEOUT", 30*time.Second),
			HandoffTimeout: envDur(logger, "EVENT_HANDOFF_TIMEOUT", 15*time.Millisecond),
		}, logger)
		opts = append(opts, board.WithPublisher(dispatcher))
	}

	svc := board.NewService(persistence, board.NewStore(nil), logger, opts...)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	if err := svc.Refresh(ctx); err != nil {
		cancel()
		logger.Fatalf("initial board load: %v", err)
	}
	cancel()
	logger.WithFields(log.Fields{"board": tables.BoardID(), "categories": len(svc.Categories())}).Info("board loaded")

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, api.HeaderIdempotencyKey},
	}))
	e.Use(api.GzipRequestMiddleware())
	api.Register(e, svc, deduper, boardID, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	} else if val, ok := os.LookupEnv("PORT"); ok {
		listenAddr = ":" + val
	}

	go func() {
		if err := e.Start(listenAddr); err != nil {
			logger.WithError(err).Info("server stopped")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown failed")
	}
	if dispatcher != nil {
		dispatcher.Close()
	}
}

// parseRedisOptions accepts a redis:// URL or the Azure style
// "host:port,password=...,ssl=true" connection string.
func parseRedisOptions(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}

func envInt(logger *log.Logger, name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		logger.Fatalf("invalid %s: %q", name, v)
	}
	return n
}

func envDur(logger *log.Logger, name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		logger.Fatalf("invalid %s: %q", name, v)
	}
	return d
}
