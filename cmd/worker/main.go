package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"attendance/internal/config"
	"attendance/internal/events"
	"attendance/internal/logger"
	"attendance/internal/metrics"
	"attendance/internal/notify"
	"attendance/internal/stats"
	"attendance/internal/store"
)

// Worker consumes accepted-record events, keeps the stats cache honest and
// raises tier alerts.
func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.Get()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	broker, err := newBroker(cfg.BrokerBackend, redisClient.Client, log)
	if err != nil {
		log.Fatal().Err(err).Msg("broker init failed")
	}

	agg := stats.NewAggregator(stats.NewRepository(db.Client), redisClient.Client, cfg.StatsCacheTTL, log)
	notifier := notify.New(cfg.NotifierURL, cfg.NotifierSkip)

	if !cfg.NotifierSkip {
		if err := notifier.Health(ctx); err != nil {
			log.Warn().Err(err).Msg("notifier not available, alerts will retry per event")
		} else {
			log.Info().Msg("notifier connected")
		}
	}

	ch, release, err := broker.Subscribe(ctx, events.TopicAll)
	if err != nil {
		log.Fatal().Err(err).Msg("broker subscribe failed")
	}
	defer release()

	log.Info().Msg("worker started, waiting for record events")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("worker stopped")
			return
		case evt, ok := <-ch:
			if !ok {
				log.Info().Msg("event stream closed")
				return
			}
			handleEvent(ctx, agg, notifier, evt)
		}
	}
}

// newBroker refuses an in-process backend: the worker must see events
// published by the API process, and only redis crosses process boundaries.
func newBroker(backend string, client *redis.Client, log zerolog.Logger) (events.Broker, error) {
	if backend != "redis" {
		return nil, fmt.Errorf("broker backend %q cannot deliver events across processes, set BROKER_BACKEND=redis", backend)
	}
	return events.NewRedisBroker(client, log), nil
}

// handleEvent is idempotent: repeated delivery of the same record recomputes
// the same aggregate and a tier can only transition once.
func handleEvent(ctx context.Context, agg *stats.Aggregator, notifier notify.Notifier, evt events.RecordEvent) {
	log := logger.Get().With().
		Str("record_id", evt.RecordID).
		Str("student_id", evt.StudentID).
		Str("course_id", evt.CourseID).
		Logger()

	agg.Invalidate(ctx, evt.StudentID, evt.CourseID)

	prev, cur, changed, err := agg.TierTransition(ctx, evt.StudentID, evt.CourseID)
	if err != nil {
		log.Error().Err(err).Msg("tier recompute failed")
		return
	}
	if !changed || cur != stats.TierCritical {
		return
	}

	msg := fmt.Sprintf("Your attendance for course %s dropped to the critical tier (was %s). Please contact your faculty.", evt.CourseID, prev)
	if err := notifier.Notify(ctx, evt.StudentID, msg); err != nil {
		log.Error().Err(err).Msg("tier alert delivery failed")
		return
	}
	metrics.TierAlertsTotal.Inc()
	log.Info().Str("from", prev).Str("to", cur).Msg("critical tier alert sent")
}
