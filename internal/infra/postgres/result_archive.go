package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"live-quiz-service/internal/domain"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ResultArchive persists the frozen leaderboard of completed sessions.
type ResultArchive struct {
	pool *pgxpool.Pool
}

func NewResultArchive(pool *pgxpool.Pool) *ResultArchive {
	return &ResultArchive{pool: pool}
}

func (a *ResultArchive) SaveResult(ctx context.Context, result domain.SessionResult) error {
	entries, err := json.Marshal(result.Entries)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = a.pool.Exec(ctx, `
		INSERT INTO session_results (session_id, title, ended_at, entries)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (session_id) DO NOTHING`,
		result.SessionID, result.Title, result.EndedAt, string(entries))
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

func (a *ResultArchive) LoadResult(ctx context.Context, sessionID string) (domain.SessionResult, error) {
	var (
		title   string
		endedAt time.Time
		raw     []byte
	)
	err := a.pool.QueryRow(ctx,
		`SELECT title, ended_at, entries FROM session_results WHERE session_id=$1`, sessionID,
	).Scan(&title, &endedAt, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SessionResult{}, domain.ErrResultsNotFound
	}
	if err != nil {
		return domain.SessionResult{}, fmt.Errorf("load result: %w", err)
	}
	result := domain.SessionResult{SessionID: sessionID, Title: title, EndedAt: endedAt.UTC()}
	if err := json.Unmarshal(raw, &result.Entries); err != nil {
		return domain.SessionResult{}, fmt.Errorf("unmarshal result: %w", err)
	}
	return result, nil
}
