package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/LeventeLantos/contact-engage/internal/api"
	"github.com/LeventeLantos/contact-engage/internal/cache"
	"github.com/LeventeLantos/contact-engage/internal/config"
	"github.com/LeventeLantos/contact-engage/internal/engine"
	"github.com/LeventeLantos/contact-engage/internal/queue"
	"github.com/LeventeLantos/contact-engage/internal/store"
	"github.com/LeventeLantos/contact-engage/internal/transport"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		log.Fatal(err)
	}

	db, err := sql.Open("pgx", cfg.Database.PostgresURL)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("ping postgres: %v", err)
	}

	conversations := store.NewPostgresStore(db)

	client := transport.NewWebhookTransport(cfg.Transport.URL, cfg.Transport.Token, cfg.Transport.ContentMax)

	q, err := queue.New(queue.Options{
		Workers:      cfg.Queue.Workers,
		PollInterval: cfg.Queue.PollInterval,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		BackoffBase:  cfg.Queue.BackoffBase,
	})
	if err != nil {
		log.Fatalf("build queue: %v", err)
	}

	eng, err := engine.New(q, conversations, client, engine.Options{
		WelcomeTemplate: cfg.Welcome.Template,
		Stagger:         cfg.Welcome.Stagger,
		SweepCadence:    queue.Daily(cfg.Sweep.Hour, cfg.Sweep.Minute),
		Cutoff:          cfg.Sweep.Cutoff,
	})
	if err != nil {
		log.Fatalf("build engine: %v", err)
	}

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		eng.WithReceiptCache(cache.NewRedisCache(rdb, cfg.Redis.TTL))
	}

	if err := eng.ScheduleInactiveConversationsCheck(); err != nil {
		log.Fatalf("register inactivity check: %v", err)
	}

	q.Start()
	defer q.Stop()

	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: loggingMiddleware(api.Router(api.NewHandler(q, conversations))),
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("engage starting",
			"addr", cfg.Server.Address,
			"workers", cfg.Queue.Workers,
			"stagger", cfg.Welcome.Stagger.String(),
			"redis", cfg.Redis.Enabled,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	waitForExit(stop, serverErr)

	slog.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
}

// waitForExit blocks until a termination signal arrives or the server
// reports a fatal error. Returning lets the deferred queue stop and db
// close run either way.
func waitForExit(stop <-chan os.Signal, serverErr <-chan error) {
	select {
	case sig := <-stop:
		slog.Info("signal received", "signal", sig.String())
	case err := <-serverErr:
		slog.Error("http server", "error", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
