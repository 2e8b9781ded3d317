package cli

import (
	"context"
	"fmt"
	"log"
	"os"

	"live-quiz-service/internal/config"
	"live-quiz-service/internal/domain"
	mongostore "live-quiz-service/internal/infra/mongo"
	pgstore "live-quiz-service/internal/infra/postgres"
	redisstore "live-quiz-service/internal/infra/redis"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type questionSetWriter interface {
	SaveQuestionSet(ctx context.Context, set domain.QuestionSet) error
}

// NewImportCmd loads finished question sets from YAML files into the configured store.
func NewImportCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE...",
		Short: "Import question sets from YAML files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return runImport(cmd.Context(), cfg, args)
		},
	}
}

func runImport(ctx context.Context, cfg config.Config, files []string) error {
	var sets []domain.QuestionSet
	for _, path := range files {
		parsed, err := readQuestionSets(path)
		if err != nil {
			return err
		}
		sets = append(sets, parsed...)
	}

	var writer questionSetWriter
	switch cfg.QuestionSetSource() {
	case "postgres":
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		writer = pgstore.NewQuestionSetStore(pool)
	case "mongo":
		client, err := mongostore.Connect(ctx, cfg.Mongo.URI)
		if err != nil {
			return err
		}
		defer client.Disconnect(context.WithoutCancel(ctx))
		writer = mongostore.NewQuestionSetLoader(client, mongoDatabase(cfg))
	default:
		return fmt.Errorf("import needs a postgres or mongo question set store")
	}

	var cache *redisstore.QuestionSetRepository
	if cfg.Redis.Addr != "" {
		client := newRedisClient(cfg)
		defer client.Close()
		cache = redisstore.NewQuestionSetRepository(client, nil, 0)
	}

	for _, set := range sets {
		if err := writer.SaveQuestionSet(ctx, set); err != nil {
			return err
		}
		if cache != nil {
			if err := cache.Invalidate(ctx, set.ID); err != nil {
				log.Printf("invalidate cached question set %s: %v", set.ID, err)
			}
		}
		log.Printf("imported question set %s (%d questions)", set.ID, len(set.Questions))
	}
	return nil
}

// readQuestionSets accepts a single set document or a list of sets.
func readQuestionSets(path string) ([]domain.QuestionSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(node.Content) == 0 {
		return nil, fmt.Errorf("%s: empty document", path)
	}

	var sets []domain.QuestionSet
	if node.Content[0].Kind == yaml.SequenceNode {
		err = node.Content[0].Decode(&sets)
	} else {
		var set domain.QuestionSet
		err = node.Content[0].Decode(&set)
		sets = append(sets, set)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	for _, set := range sets {
		if set.ID == "" {
			return nil, fmt.Errorf("%s: question set without id", path)
		}
		if len(set.Questions) == 0 {
			return nil, fmt.Errorf("%s: set %s: %w", path, set.ID, domain.ErrEmptyQuestionSet)
		}
		if err := set.Validate(); err != nil {
			return nil, fmt.Errorf("%s: set %s: %w", path, set.ID, err)
		}
	}
	return sets, nil
}

func newRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func mongoDatabase(cfg config.Config) string {
	if cfg.Mongo.Database != "" {
		return cfg.Mongo.Database
	}
	return "livequiz"
}
