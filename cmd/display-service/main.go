package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qms/display-service/internal/board"
	"qms/display-service/internal/config"
	"qms/display-service/internal/estimator"
	"qms/display-service/internal/estimator/redisstore"
	"qms/display-service/internal/httpapi"
	"qms/display-service/internal/hub"
	"qms/display-service/internal/logging"
	"qms/display-service/internal/outbox"
	"qms/display-service/internal/store/postgres"
	"qms/display-service/internal/telemetry"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogDir)

	shutdownTelemetry := telemetry.Setup(telemetry.Options{
		ServiceName: "display-service",
		Version:     version,
		InstanceID:  cfg.InstanceID,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		SampleRatio: cfg.TraceSampleRatio,
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	location, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Str("timezone", cfg.Timezone).Msg("load timezone")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer pool.Close()
	st := postgres.NewStore(pool)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, estimates use service baselines")
	}

	est := estimator.New(redisstore.New(rdb, cfg.StatsTTL), estimator.Options{})
	h := hub.New()
	b := board.New(st, st, est, h, board.Options{
		Location:    location,
		RecentLimit: cfg.RecentLimit,
		Concurrency: cfg.RefreshWorkers,
	})
	if err := b.RefreshAll(ctx); err != nil {
		log.Error().Err(err).Msg("initial refresh")
	}

	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute: cfg.RateLimitPerMinute,
		IPBurst:     cfg.RateLimitBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/realtime/", sockjs.NewHandler("/realtime", sockjs.DefaultOptions, realtimeSession(h)))
	mux.Handle("/", httpapi.NewHandler(b, est).Routes())

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(mux)), "display-service"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	consumer := outbox.NewConsumer(st, b, cfg.OffsetConsumer, cfg.BatchSize)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("display-service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return consumer.Run(ctx, cfg.PollInterval)
	})
	if cfg.RefreshInterval > 0 {
		g.Go(func() error {
			refreshLoop(ctx, b, cfg.RefreshInterval)
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("display-service stopped")
		os.Exit(1)
	}
}

// refreshLoop periodically rebuilds every board from the database, which
// repairs any drift left by missed outbox events.
func refreshLoop(ctx context.Context, b *board.Board, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refreshCtx, cancel := context.WithTimeout(ctx, interval)
			if err := b.RefreshAll(refreshCtx); err != nil {
				log.Error().Err(err).Msg("refresh boards")
			}
			cancel()
		}
	}
}

func realtimeSession(h *hub.Hub) func(sockjs.Session) {
	return func(session sockjs.Session) {
		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		h.Register(client)
		defer h.Unregister(client)

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			handleClientMessage(h, client, msg)
		}
	}
}

// handleClientMessage applies one subscribe or unsubscribe frame. Anything
// else a client sends is ignored.
func handleClientMessage(h *hub.Hub, client *hub.Client, msg string) bool {
	parsed, ok := hub.ParseSubscribe([]byte(msg))
	if !ok {
		return false
	}
	if parsed.Action == "unsubscribe" {
		h.Unsubscribe(client)
		return true
	}
	h.UpdateSubscription(client, hub.Subscription{ServiceID: parsed.ServiceID})
	return true
}
