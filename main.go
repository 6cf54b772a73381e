package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"

	"studysync/internal/auth"
	"studysync/internal/config"
	"studysync/internal/database/db_client"
	"studysync/internal/http/http_server"
	"studysync/internal/http/roomhandler"
	"studysync/internal/presence"
	"studysync/internal/redis/redis_client"
	"studysync/internal/services/roomdir"
	"studysync/internal/syncpresence"
	"studysync/internal/ws"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	Log, _ = zap.NewDevelopment()
)

func main() {
	defer func() { _ = Log.Sync() }()
	zap.ReplaceGlobals(Log)

	var err error
	var cfg *config.Config
	var redisClient *redis.Client
	var directory ws.RoomDirectory

	// 1. Load configuration
	cfg, err = config.LoadConfig()
	if err != nil {
		Log.Fatal("Failed to load configuration", zap.Error(err))
	}
	// .env is only read inside LoadConfig, so LOG_FORMAT is known from here on.
	if Log, err = cfg.Logger(); err != nil {
		zap.L().Fatal("Failed to build logger", zap.Error(err))
	}
	zap.ReplaceGlobals(Log)
	Log.Debug("Configuration loaded successfully", zap.Any("config", cfg))

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	// 3. Redis (optional): external injection + occupancy mirror
	if cfg.RedisEnabled {
		redisClient, err = redis_client.NewRedisClient(cfg.RedisHost, int(cfg.RedisPort), cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			Log.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()
		Log.Debug("Redis client created successfully")
	}

	// 4. Postgres room directory (optional)
	if cfg.RoomDirectoryEnabled {
		var pgDb *sql.DB
		pgDb, err = db_client.Open(cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDb)
		if err != nil {
			Log.Fatal("pg-open", zap.Error(err))
		}
		defer pgDb.Close()
		directory = roomdir.NewRoomDirectory(pgDb)
	}

	// 5. WebSockets hub + per-room dispatchers
	hub := ws.NewHub(ws.OptionsFromConfig(cfg), presence.NewRegistry())
	wsSrv := ws.NewWsServer(hub, redisClient, auth.NewVerifier(cfg.AuthJWTSecret), directory)

	// 6. Background: occupancy mirror
	if redisClient != nil {
		syncpresence.NewSyncer(redisClient, hub, cfg.OccupancyTTL).Run(ctx, cfg.OccupancySyncInterval)
	}

	// 7. HTTP + WS server
	httpServer := http_server.NewHttpServer(ctx, cfg.HttpServerPort, wsSrv, roomhandler.New(hub, cfg.ICEServers(), cfg.TimerResyncEvery))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		hub.Shutdown()
		return httpServer.Dispose()
	})
	if err := g.Wait(); err != nil {
		Log.Fatal("Failed to start HTTP server", zap.Error(err))
	}
	Log.Info("shutdown complete")
}
