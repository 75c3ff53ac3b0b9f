package main

import (
	"fmt"
	"log"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/collabstack/authz"
	"github.com/collabstack/authz/api"
	"github.com/collabstack/authz/config"
	"github.com/collabstack/authz/gormstore"
	"github.com/collabstack/authz/logger"
	"github.com/collabstack/authz/resolver"
	"github.com/collabstack/authz/telemetry"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger.InitLogger(cfg.LogLevel)
	defer logger.Log.Sync()

	logger.Log.Info("Starting authz service",
		zap.Int("port", cfg.Port),
		zap.String("db_type", cfg.DBType),
	)

	open := gormstore.Open
	if cfg.SkipAutoMigrate {
		open = gormstore.OpenDB
	}
	db, err := open(cfg.DBType, cfg.DSN, nil)
	if err != nil {
		logger.Log.Fatal("failed to open database", zap.Error(err))
	}

	var cache resolver.Cache
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		cache = resolver.NewRedisCache(client, "", resolver.WithTTL(cfg.CacheTTL))
		logger.Log.Info("using redis reachability cache", zap.String("addr", cfg.RedisAddr))
	} else {
		cache = resolver.NewMemoryCache()
	}

	telCfg := telemetry.DefaultConfig()
	telCfg.OTLPEndpoint = cfg.OTLPEndpoint
	tel, err := telemetry.NewProvider(telCfg)
	if err != nil {
		logger.Log.Fatal("failed to initialize telemetry", zap.Error(err))
	}

	core := authz.NewGormCore(db, cache, logger.Log, authz.WithTelemetryProvider(tel))

	h := api.NewHandler(core, []byte(cfg.JWTSecret),
		api.WithTelemetry(tel),
		api.WithLogger(logger.Log),
	)

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	g := e.Group("/api/v1")
	h.RegisterRoutes(g)

	logger.Log.Info("Server is starting", zap.Int("port", cfg.Port))
	if err := e.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
		logger.Log.Fatal("server failed to start", zap.Error(err))
	}
}
