package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/mongo"
	"live-quiz-service/internal/infra/postgres"
	pgmigrations "live-quiz-service/internal/infra/postgres/migrations"
	infraredis "live-quiz-service/internal/infra/redis"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

func TestLiveSessionEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	migrateSchema(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	sets := postgres.NewQuestionSetStore(pool)
	if err := sets.SaveQuestionSet(ctx, sampleSet()); err != nil {
		t.Fatalf("seed question set: %v", err)
	}

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	repo := infraredis.NewQuestionSetRepository(redisClient, sets, 5*time.Minute)
	store := infraredis.NewSessionStore(redisClient, time.Hour)
	service := app.NewQuizService(store, repo, app.WithResultArchive(postgres.NewResultArchive(pool)))

	session, err := service.CreateSessionFromSet(ctx, "set-1", time.Time{}, 10, 0)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := service.Publish(ctx, session.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for _, p := range [][2]string{{"u1", "Alice"}, {"u2", "Bob"}} {
		if _, err := service.Register(ctx, session.ID, p[0], p[1]); err != nil {
			t.Fatalf("register %s: %v", p[0], err)
		}
	}
	if _, err := service.Start(ctx, session.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	answer, err := service.SubmitAnswer(ctx, session.ID, "u2", domain.AnswerSubmission{QuestionID: "q1", SelectedOption: "o2", TimeTakenMs: 1200})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !answer.IsCorrect || answer.PointsAwarded != 1 || answer.TotalScore != 1 {
		t.Fatalf("expected correct answer with 1 point, got %+v", answer)
	}
	if _, err := service.SubmitAnswer(ctx, session.ID, "u1", domain.AnswerSubmission{QuestionID: "q1", SelectedOption: "o1"}); err != nil {
		t.Fatalf("submit wrong answer: %v", err)
	}

	lb, err := service.GetLeaderboard(ctx, session.ID, 0)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(lb.Entries) != 2 || lb.Entries[0].ParticipantID != "u2" {
		t.Fatalf("expected bob leading, got %+v", lb.Entries)
	}

	if _, err := service.Stop(ctx, session.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	result, err := postgres.NewResultArchive(pool).LoadResult(ctx, session.ID)
	if err != nil {
		t.Fatalf("load archived result: %v", err)
	}
	if len(result.Entries) != 2 || result.Entries[0].ParticipantID != "u2" || result.Entries[0].Score != 1 {
		t.Fatalf("unexpected archived result %+v", result)
	}
}

func TestMongoQuestionSetLoader(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	uri, cleanup := startMongo(t, ctx)
	defer cleanup()

	client, err := mongo.Connect(ctx, uri)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Disconnect(ctx)

	loader := mongo.NewQuestionSetLoader(client, "livequiz_test")
	if err := loader.SaveQuestionSet(ctx, sampleSet()); err != nil {
		t.Fatalf("save: %v", err)
	}
	set, err := loader.LoadQuestionSet(ctx, "set-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if set.Title != "Arithmetic" || len(set.Questions) != 1 || set.Questions[0].CorrectOption != "o2" {
		t.Fatalf("unexpected set %+v", set)
	}
	if _, err := loader.LoadQuestionSet(ctx, "missing"); !errors.Is(err, domain.ErrQuestionSetNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func migrateSchema(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	container := startContainer(t, ctx, tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	})
	hostPort := endpoint(t, ctx, container, "5432/tcp")
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s/quizdb?sslmode=disable", hostPort)
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	container := startContainer(t, ctx, tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	})
	url := fmt.Sprintf("redis://%s", endpoint(t, ctx, container, "6379/tcp"))
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func startMongo(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	container := startContainer(t, ctx, tc.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(60 * time.Second),
	})
	uri := fmt.Sprintf("mongodb://%s", endpoint(t, ctx, container, "27017/tcp"))
	return uri, func() {
		_ = container.Terminate(ctx)
	}
}

func startContainer(t *testing.T, ctx context.Context, req tc.ContainerRequest) tc.Container {
	t.Helper()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start %s: %v", req.Image, err)
	}
	return container
}

func endpoint(t *testing.T, ctx context.Context, container tc.Container, port nat.Port) string {
	t.Helper()
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	mapped, err := container.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("port %s: %v", port, err)
	}
	return fmt.Sprintf("%s:%s", host, mapped.Port())
}

func sampleSet() domain.QuestionSet {
	return domain.QuestionSet{
		ID:    "set-1",
		Title: "Arithmetic",
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
			},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
