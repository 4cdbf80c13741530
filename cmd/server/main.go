package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/pressly/goose/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"Marginalia/internal/api/middleware"
	"Marginalia/internal/api/routes"
	"Marginalia/internal/config"
	"Marginalia/internal/core/posts"
	"Marginalia/internal/core/quotes"
	"Marginalia/internal/core/replies"
	"Marginalia/internal/db/kvstore"
	"Marginalia/internal/db/migrations"
	postgresRepo "Marginalia/internal/db/postgres"
	"Marginalia/internal/events"
)

// repositories is the storage backend chosen by configuration
type repositories struct {
	posts   posts.Repository
	replies replies.Repository
	quotes  quotes.Repository
	ping    func(ctx context.Context) error
	close   func() error
}

func openPostgres(ctx context.Context, dbURL string) (*repositories, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	log.Println("Connected to database")

	// Run migrations
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Println("Migrations completed successfully")

	return &repositories{
		posts:   postgresRepo.NewPostRepository(db),
		replies: postgresRepo.NewReplyRepository(db),
		quotes:  postgresRepo.NewQuoteCountRepository(db),
		ping:    db.PingContext,
		close:   db.Close,
	}, nil
}

func openPebble(path string, logger *slog.Logger) (*repositories, error) {
	store, err := kvstore.Open(path, logger)
	if err != nil {
		return nil, err
	}
	log.Printf("Opened pebble store at %s", path)

	return &repositories{
		posts:   kvstore.NewPostRepository(store),
		replies: kvstore.NewReplyRepository(store),
		quotes:  kvstore.NewQuoteCountRepository(store),
		ping:    func(context.Context) error { return store.Ping() },
		close:   store.Close,
	}, nil
}

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var repos *repositories
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		repos, err = openPostgres(ctx, cfg.Storage.DatabaseURL)
	default:
		repos, err = openPebble(cfg.Storage.PebblePath, logger)
	}
	if err != nil {
		log.Fatal("Failed to open store: ", err)
	}
	defer func() {
		if err := repos.close(); err != nil {
			log.Printf("Failed to close store: %v", err)
		}
	}()

	// Post-commit events are optional; without NATS nothing is published
	var postNotifier posts.Notifier
	var replyNotifier replies.Notifier
	if cfg.Events.NATSURL != "" {
		nc, err := nats.Connect(cfg.Events.NATSURL, nats.Name("marginalia-server"))
		if err != nil {
			log.Fatal("Failed to connect to NATS: ", err)
		}
		defer nc.Drain()

		publisher, err := events.NewPublisher(nc, logger)
		if err != nil {
			log.Fatal("Failed to create event publisher: ", err)
		}
		if err := publisher.EnsureStream(ctx); err != nil {
			log.Fatal(err)
		}
		postNotifier, replyNotifier = publisher, publisher
		log.Printf("Publishing creation events to %s", cfg.Events.NATSURL)

		if cfg.Events.LogConsumer {
			consumer, err := events.NewConsumer(nc, events.ConsumerConfig{HandlerTimeout: cfg.Events.HandlerTimeout},
				events.LogHandler{Logger: logger})
			if err != nil {
				log.Fatal("Failed to create event consumer: ", err)
			}
			go func() {
				if err := consumer.Start(ctx); err != nil {
					log.Printf("[EVENTS] Consumer stopped: %v", err)
				}
			}()
		}
	}

	replyConfig := replies.DefaultConfig()
	replyConfig.MinLength = cfg.Replies.MinLength
	replyConfig.MaxLength = cfg.Replies.MaxLength
	if len(cfg.Replies.ExemptPhrases) > 0 {
		replyConfig.ExemptPhrases = cfg.Replies.ExemptPhrases
	}

	postService := posts.NewPostService(repos.posts, postNotifier, logger)
	quoteService := quotes.NewQuoteService(repos.quotes, logger)
	replyService := replies.NewReplyService(repos.replies, replyConfig, nil, replyNotifier, logger)

	r := chi.NewRouter()

	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(middleware.Metrics)

	if cfg.Auth.SkipVerify {
		log.Println("WARNING: AUTH_SKIP_VERIFY is set, tokens are not verified")
	}
	authMiddleware := middleware.NewJWTAuthMiddleware(cfg.Auth.JWTSecret, cfg.Auth.SkipVerify)

	// Rate limits are per author when a token is present, per IP otherwise
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.PerMinute, 1*time.Minute, cfg.RateLimit.Burst)
	routes.RegisterClientLimits(r, authMiddleware, rateLimiter)

	routes.RegisterPostRoutes(r, postService, authMiddleware)
	routes.RegisterReplyRoutes(r, replyService, authMiddleware)
	routes.RegisterQuoteCountRoutes(r, quoteService)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := repos.ping(pingCtx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("NOT READY"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Graceful shutdown failed: %v", err)
		}
	}()

	fmt.Printf("Marginalia starting on %s (store: %s)\n", cfg.Addr(), cfg.Storage.Driver)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
