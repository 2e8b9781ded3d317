package memory

import (
	"context"
	"sync"

	"live-quiz-service/internal/domain"
)

// ResultArchive keeps final leaderboards in process memory.
type ResultArchive struct {
	mu      sync.RWMutex
	results map[string]domain.SessionResult
}

func NewResultArchive() *ResultArchive {
	return &ResultArchive{results: make(map[string]domain.SessionResult)}
}

func (a *ResultArchive) SaveResult(_ context.Context, result domain.SessionResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	result.Entries = append([]domain.LeaderboardEntry(nil), result.Entries...)
	a.results[result.SessionID] = result
	return nil
}

func (a *ResultArchive) LoadResult(_ context.Context, sessionID string) (domain.SessionResult, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	result, ok := a.results[sessionID]
	if !ok {
		return domain.SessionResult{}, domain.ErrResultsNotFound
	}
	return result, nil
}
