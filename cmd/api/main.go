package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"attendance/internal/checkin"
	"attendance/internal/config"
	"attendance/internal/enrollment"
	"attendance/internal/events"
	"attendance/internal/httpapi"
	"attendance/internal/httpmiddleware"
	"attendance/internal/logger"
	"attendance/internal/session"
	"attendance/internal/stats"
	"attendance/internal/store"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.Get()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatal().Err(err).Msg("http server failed")
	}
}

func runHTTP(cfg config.App) error {
	log := logger.Get()

	db, err := store.NewDB(cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var broker events.Broker
	if cfg.BrokerBackend == "memory" {
		broker = events.NewInMemory()
	} else {
		broker = events.NewRedisBroker(redisClient.Client, log)
	}

	sessions := session.NewRepository(db.Client)
	records := checkin.NewRepository(db.Client)
	enroll := enrollment.NewSQLProvider(db.Client)

	gen := session.NewGenerator(cfg.TokenTTL)
	manager := session.NewManager(sessions, records, enroll, gen, broker, log)
	validator := checkin.NewValidator(sessions, records, enroll, broker,
		cfg.LateGrace, cfg.GeofencePolicy, cfg.GeofenceRadiusM, log)
	agg := stats.NewAggregator(stats.NewRepository(db.Client), redisClient.Client, cfg.StatsCacheTTL, log)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(httpmiddleware.CORS())
	r.Use(httpmiddleware.SecurityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	limiter := httpmiddleware.NewRateLimiter(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	h := httpapi.NewHandler(cfg, manager, sessions, validator, records, agg, broker, log)
	h.Register(r, limiter.GinMiddleware())

	srv := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// Generous write timeout: SSE streams stay open far longer than a
		// normal request/response exchange.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server forced shutdown")
	}

	log.Info().Msg("server exited")
	return nil
}
