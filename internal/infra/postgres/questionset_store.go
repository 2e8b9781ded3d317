package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"live-quiz-service/internal/domain"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// QuestionSetStore loads and saves question set JSONB in Postgres.
type QuestionSetStore struct {
	pool *pgxpool.Pool
}

func NewQuestionSetStore(pool *pgxpool.Pool) *QuestionSetStore {
	return &QuestionSetStore{pool: pool}
}

func (s *QuestionSetStore) LoadQuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM question_sets WHERE id=$1`, setID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QuestionSet{}, domain.ErrQuestionSetNotFound
	}
	if err != nil {
		return domain.QuestionSet{}, fmt.Errorf("load question set: %w", err)
	}
	var set domain.QuestionSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return domain.QuestionSet{}, fmt.Errorf("unmarshal question set: %w", err)
	}
	set.ID = setID
	return set, nil
}

// SaveQuestionSet inserts or replaces a finished question set.
func (s *QuestionSetStore) SaveQuestionSet(ctx context.Context, set domain.QuestionSet) error {
	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("marshal question set: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO question_sets (id, title, data, updated_at)
		VALUES ($1, $2, $3::jsonb, now())
		ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, data=EXCLUDED.data, updated_at=now()`,
		set.ID, set.Title, string(data))
	if err != nil {
		return fmt.Errorf("save question set: %w", err)
	}
	return nil
}
