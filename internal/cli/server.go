package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
	mongostore "live-quiz-service/internal/infra/mongo"
	pgstore "live-quiz-service/internal/infra/postgres"
	redisstore "live-quiz-service/internal/infra/redis"
	transport "live-quiz-service/internal/transport/http"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the live quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = newRedisClient(cfg)
		defer redisClient.Close()
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 6*time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.QuestionSetLoader
	switch cfg.QuestionSetSource() {
	case "postgres":
		if pool == nil {
			return fmt.Errorf("question sets from postgres need postgres.url")
		}
		loader = pgstore.NewQuestionSetStore(pool)
	case "mongo":
		client, err := mongostore.Connect(ctx, cfg.Mongo.URI)
		if err != nil {
			return err
		}
		defer client.Disconnect(context.Background())
		loader = mongostore.NewQuestionSetLoader(client, mongoDatabase(cfg))
	default:
		loader = memory.NewStaticQuestionSetLoader(sampleQuestionSets())
	}

	setTTL := config.TTLDuration(cfg.QuestionSets.TTL, 10*time.Minute)
	var sets app.QuestionSetRepository
	if redisClient != nil {
		sets = redisstore.NewQuestionSetRepository(redisClient, loader, setTTL)
	} else {
		sets = memory.NewQuestionSetRepository(loader, setTTL)
	}

	var store app.SessionStore
	if redisClient != nil {
		store = redisstore.NewSessionStore(redisClient, redisTTL)
	} else {
		store = memory.NewSessionStore()
	}

	opts := []app.Option{app.WithLeaderboardSize(cfg.Session.LeaderboardSize)}
	if pool != nil {
		opts = append(opts, app.WithResultArchive(pgstore.NewResultArchive(pool)))
	} else {
		opts = append(opts, app.WithResultArchive(memory.NewResultArchive()))
	}
	if cfg.Session.StoreRetries > 0 {
		policy := app.DefaultRetryPolicy()
		policy.MaxRetries = cfg.Session.StoreRetries
		opts = append(opts, app.WithRetryPolicy(policy))
	}
	service := app.NewQuizService(store, sets, opts...)

	runCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	go service.RunExpiry(runCtx, config.TTLDuration(cfg.Session.ExpiryInterval, time.Second))

	auth := transport.NewAuthenticator(cfg.Auth.JWTSecret)
	if cfg.Auth.JWTSecret == "" {
		log.Printf("auth.jwtSecret not set, trusting identity headers (dev mode)")
	}
	wsHandler := transport.NewWSHandler(service, auth, transport.WSTimeouts{
		PongWait:  config.TTLDuration(cfg.WebSocket.PongWait, 60*time.Second),
		WriteWait: config.TTLDuration(cfg.WebSocket.WriteWait, 10*time.Second),
	})
	router := transport.NewRouter(transport.NewHandler(service), wsHandler, auth)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting live quiz service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	stopBackground()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuestionSets backs the static loader when no store is configured.
func sampleQuestionSets() map[string]domain.QuestionSet {
	return map[string]domain.QuestionSet{
		"sample": {
			ID:    "sample",
			Title: "Warm-up",
			Questions: []domain.Question{
				{
					ID:     "q1",
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3"},
						{ID: "o2", Text: "4"},
						{ID: "o3", Text: "5"},
					},
					CorrectOption: "o2",
					Points:        1,
					TimeLimitMs:   20000,
				},
				{
					ID:     "q2",
					Prompt: "Which planet is known as the red planet?",
					Options: []domain.Option{
						{ID: "o1", Text: "Venus"},
						{ID: "o2", Text: "Mars"},
						{ID: "o3", Text: "Jupiter"},
					},
					CorrectOption: "o2",
					Points:        2,
					TimeLimitMs:   20000,
				},
			},
		},
	}
}
