package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"live-quiz-service/internal/domain"
)

// standing is one participant's position key in the ordering.
type standing struct {
	id    string
	name  string
	score int
	at    time.Time
}

// ranksBefore is the total order of a board:
// higher score first, then earlier lastScoreAt, then participant id.
func ranksBefore(a, b standing) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if !a.at.Equal(b.at) {
		return a.at.Before(b.at)
	}
	return a.id < b.id
}

func standingOf(p domain.Participant) standing {
	return standing{id: p.ID, name: p.DisplayName, score: p.Score, at: domain.ScoreTime(p.LastScoreAt)}
}

// Board is the live ranked index for one session. It keeps the ordering sorted at
// all times so rank lookups are a binary search and top-N is a prefix copy.
// synced is the store score revision the board last caught up with; writes made
// through other instances show up as a higher revision.
type Board struct {
	mu        sync.RWMutex
	loaded    bool
	final     bool
	synced    int64
	ordered   []standing
	byID      map[string]standing
	updatedAt time.Time
}

func newBoard() *Board {
	return &Board{byID: make(map[string]standing)}
}

// search returns the position s occupies (or would occupy) in the ordering.
func (b *Board) search(s standing) int {
	return sort.Search(len(b.ordered), func(i int) bool {
		return !ranksBefore(b.ordered[i], s)
	})
}

// Upsert moves a participant to the position implied by its cumulative score.
// Scores never decrease, so a stale update carrying a lower score is ignored.
// It returns false when the board is frozen or nothing moved.
func (b *Board) Upsert(p domain.Participant, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.upsertLocked(standingOf(p), now)
}

func (b *Board) upsertLocked(next standing, now time.Time) bool {
	if b.final {
		return false
	}
	if prev, ok := b.byID[next.id]; ok {
		if next.score < prev.score || (next.score == prev.score && next.at.Equal(prev.at) && next.name == prev.name) {
			return false
		}
		if next.score == prev.score && next.at.Before(prev.at) {
			// same score reached again cannot move earlier in time
			next.at = prev.at
		}
		i := b.search(prev)
		if i < len(b.ordered) && b.ordered[i].id == prev.id {
			b.ordered = append(b.ordered[:i], b.ordered[i+1:]...)
		}
	}

	j := b.search(next)
	b.ordered = append(b.ordered, standing{})
	copy(b.ordered[j+1:], b.ordered[j:])
	b.ordered[j] = next
	b.byID[next.id] = next
	b.updatedAt = now
	return true
}

// Top returns the first n entries (all when n <= 0).
func (b *Board) Top(sessionID string, n int) domain.Leaderboard {
	b.mu.RLock()
	defer b.mu.RUnlock()

	limit := len(b.ordered)
	if n > 0 && n < limit {
		limit = n
	}
	entries := make([]domain.LeaderboardEntry, limit)
	for i := 0; i < limit; i++ {
		entries[i] = entryOf(b.ordered[i], i+1)
	}
	return domain.Leaderboard{
		SessionID: sessionID,
		Entries:   entries,
		Total:     len(b.ordered),
		Final:     b.final,
		UpdatedAt: b.updatedAt,
	}
}

// RankOf returns a participant's current standing even when it is outside the top N.
func (b *Board) RankOf(participantID string) (domain.LeaderboardEntry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, ok := b.byID[participantID]
	if !ok {
		return domain.LeaderboardEntry{}, false
	}
	return entryOf(s, b.search(s)+1), true
}

// Behind reports whether the store has seen score changes this board has not caught up with.
func (b *Board) Behind(revision int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.final && revision > b.synced
}

// Sync merges a roster read at or after revision into the board.
func (b *Board) Sync(roster []domain.Participant, revision int64, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.final {
		return
	}
	for _, p := range roster {
		b.upsertLocked(standingOf(p), now)
	}
	if revision > b.synced {
		b.synced = revision
	}
}

// Freeze stops all further updates; final ranks stay stable afterwards.
func (b *Board) Freeze() {
	b.mu.Lock()
	b.final = true
	b.mu.Unlock()
}

// Final reports whether the board is frozen.
func (b *Board) Final() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.final
}

func (b *Board) hydrate(ctx context.Context, sessionID string, load RosterLoader) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loaded {
		return nil
	}
	roster, err := load(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, p := range roster {
		if _, ok := b.byID[p.ID]; ok {
			continue
		}
		s := standingOf(p)
		b.byID[s.id] = s
		b.ordered = append(b.ordered, s)
	}
	sort.Slice(b.ordered, func(i, j int) bool { return ranksBefore(b.ordered[i], b.ordered[j]) })
	b.loaded = true
	return nil
}

func entryOf(s standing, rank int) domain.LeaderboardEntry {
	return domain.LeaderboardEntry{
		ParticipantID: s.id,
		DisplayName:   s.name,
		Score:         s.score,
		Rank:          rank,
		LastScoreAt:   s.at,
	}
}

// RosterLoader reads the cumulative score index of a session from the store.
type RosterLoader func(ctx context.Context, sessionID string) ([]domain.Participant, error)

// Leaderboards owns one Board per session. Boards are hydrated once from the
// roster's cumulative scores and then maintained incrementally.
type Leaderboards struct {
	mu     sync.Mutex
	boards map[string]*Board
	load   RosterLoader
}

func NewLeaderboards(load RosterLoader) *Leaderboards {
	return &Leaderboards{boards: make(map[string]*Board), load: load}
}

// Board returns the hydrated board for a session.
func (l *Leaderboards) Board(ctx context.Context, sessionID string) (*Board, error) {
	l.mu.Lock()
	b, ok := l.boards[sessionID]
	if !ok {
		b = newBoard()
		l.boards[sessionID] = b
	}
	l.mu.Unlock()

	if err := b.hydrate(ctx, sessionID, l.load); err != nil {
		return nil, err
	}
	return b, nil
}

// Forget drops a session's board from memory.
func (l *Leaderboards) Forget(sessionID string) {
	l.mu.Lock()
	delete(l.boards, sessionID)
	l.mu.Unlock()
}
