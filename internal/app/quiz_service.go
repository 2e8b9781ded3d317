package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"live-quiz-service/internal/domain"

	"github.com/google/uuid"
)

// SessionStore abstracts how live sessions, rosters and answers are persisted (in-memory, Redis, etc).
// Every method that mutates state is a single atomic operation against the store.
type SessionStore interface {
	CreateSession(ctx context.Context, session domain.Session) (domain.Session, error)
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	// UpdateSession writes next only if the stored version still equals expectedVersion
	// and returns the stored session with its bumped version. A mismatch yields
	// domain.ErrConcurrentModification.
	UpdateSession(ctx context.Context, next domain.Session, expectedVersion int64) (domain.Session, error)

	// AddParticipant admits p when it is not on the roster yet and the roster holds fewer than
	// maxParticipants (zero means unlimited). An existing record is returned with created=false.
	AddParticipant(ctx context.Context, sessionID string, p domain.Participant, maxParticipants int) (stored domain.Participant, created bool, err error)
	GetParticipant(ctx context.Context, sessionID, participantID string) (domain.Participant, error)
	ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error)
	SetParticipantStatus(ctx context.Context, sessionID, participantID string, status domain.ParticipantStatus) (domain.Participant, error)
	// ChangeConnections adds delta to the participant's open connection count (never below zero)
	// and derives its presence status from the result.
	ChangeConnections(ctx context.Context, sessionID, participantID string, delta int) (domain.Participant, error)

	// RecordAnswer stores answer and adds its points to the participant's cumulative score in one
	// step, provided the session version is still sessionVersion. When an answer for the same
	// participant and question exists, it is returned together with domain.ErrDuplicateSubmission.
	// A disconnected participant is refused with domain.ErrNotRegistered.
	RecordAnswer(ctx context.Context, answer domain.ScoredAnswer, sessionVersion int64) (domain.ScoredAnswer, domain.Participant, error)
	ListAnswers(ctx context.Context, sessionID, participantID string) ([]domain.ScoredAnswer, error)

	// ScoreRevision increases whenever a participant joins or an answer is recorded, so readers
	// can tell that their view of the roster's scores is behind the store.
	ScoreRevision(ctx context.Context, sessionID string) (int64, error)
}

// QuestionSetRepository loads finished question sets (from cache/backing store).
type QuestionSetRepository interface {
	GetQuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error)
}

// ResultArchive keeps the frozen leaderboard of completed sessions.
type ResultArchive interface {
	SaveResult(ctx context.Context, result domain.SessionResult) error
	LoadResult(ctx context.Context, sessionID string) (domain.SessionResult, error)
}

// QuizService contains the live quiz use cases.
type QuizService struct {
	store    SessionStore
	sets     QuestionSetRepository
	archive  ResultArchive
	boards   *Leaderboards
	notifier *Notifier
	locks    *keyedMutex
	retry    RetryPolicy
	now      func() time.Time
	newID    func() string
	topN     int

	deadlineMu sync.Mutex
	deadlines  map[string]time.Time
}

// Option customizes a QuizService.
type Option func(*QuizService)

// WithClock is used by tests for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *QuizService) { s.now = now }
}

// WithResultArchive persists final leaderboards when sessions stop.
func WithResultArchive(archive ResultArchive) Option {
	return func(s *QuizService) { s.archive = archive }
}

// WithLeaderboardSize sets how many entries are materialized for transmission.
func WithLeaderboardSize(n int) Option {
	return func(s *QuizService) {
		if n > 0 {
			s.topN = n
		}
	}
}

// WithRetryPolicy overrides the store retry budget.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *QuizService) { s.retry = p }
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *QuizService) { s.newID = gen }
}

// DefaultLeaderboardSize is the number of top entries sent to subscribers.
const DefaultLeaderboardSize = 20

func NewQuizService(store SessionStore, sets QuestionSetRepository, opts ...Option) *QuizService {
	s := &QuizService{
		store:     store,
		sets:      sets,
		notifier:  NewNotifier(),
		locks:     newKeyedMutex(),
		retry:     DefaultRetryPolicy(),
		now:       time.Now,
		newID:     uuid.NewString,
		topN:      DefaultLeaderboardSize,
		deadlines: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.boards = NewLeaderboards(s.loadRoster)
	return s
}

// CreateSession stores a new draft session for an immutable copy of the question set.
func (s *QuizService) CreateSession(ctx context.Context, req domain.NewSession) (domain.Session, error) {
	questions, err := copyQuestions(req.QuestionSet.Questions)
	if err != nil {
		return domain.Session{}, err
	}
	if req.MaxParticipants < 0 || req.DurationSeconds < 0 {
		return domain.Session{}, fmt.Errorf("%w: negative limits", domain.ErrInvalidQuestionSet)
	}

	scheduledAt := req.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = s.now()
	}
	session := domain.Session{
		ID:                   s.newID(),
		QuestionSetID:        req.QuestionSet.ID,
		Title:                req.QuestionSet.Title,
		Questions:            questions,
		Status:               domain.StatusDraft,
		CurrentQuestionIndex: -1,
		ScheduledAt:          scheduledAt.UTC(),
		MaxParticipants:      req.MaxParticipants,
		DurationSeconds:      req.DurationSeconds,
		CreatedAt:            s.now().UTC(),
	}

	var created domain.Session
	err = s.retry.Do(ctx, "create session", func() error {
		var err error
		created, err = s.store.CreateSession(ctx, session)
		return err
	})
	if err != nil {
		return domain.Session{}, err
	}
	return created, nil
}

// CreateSessionFromSet loads a stored question set and creates a draft session for it.
func (s *QuizService) CreateSessionFromSet(ctx context.Context, setID string, scheduledAt time.Time, maxParticipants, durationSeconds int) (domain.Session, error) {
	set, err := s.sets.GetQuestionSet(ctx, setID)
	if err != nil {
		return domain.Session{}, err
	}
	return s.CreateSession(ctx, domain.NewSession{
		QuestionSet:     set,
		ScheduledAt:     scheduledAt,
		MaxParticipants: maxParticipants,
		DurationSeconds: durationSeconds,
	})
}

// GetSession returns the stored session.
func (s *QuizService) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.loadSession(ctx, sessionID)
}

// Results returns the frozen leaderboard of a completed session.
func (s *QuizService) Results(ctx context.Context, sessionID string) (domain.SessionResult, error) {
	if s.archive != nil {
		result, err := s.archive.LoadResult(ctx, sessionID)
		if err == nil {
			return result, nil
		}
		if !isNotFound(err) {
			return domain.SessionResult{}, err
		}
	}

	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return domain.SessionResult{}, err
	}
	if session.Status != domain.StatusCompleted {
		return domain.SessionResult{}, domain.ErrResultsNotFound
	}
	board, err := s.sessionBoard(ctx, sessionID)
	if err != nil {
		return domain.SessionResult{}, err
	}
	return resultOf(session, board), nil
}

// Answers lists a participant's scored answers for result review.
func (s *QuizService) Answers(ctx context.Context, sessionID, participantID string) ([]domain.ScoredAnswer, error) {
	if _, err := s.loadSession(ctx, sessionID); err != nil {
		return nil, err
	}
	var answers []domain.ScoredAnswer
	err := s.retry.Do(ctx, "list answers", func() error {
		var err error
		answers, err = s.store.ListAnswers(ctx, sessionID, participantID)
		return err
	})
	return answers, err
}

func (s *QuizService) loadSession(ctx context.Context, sessionID string) (domain.Session, error) {
	var session domain.Session
	err := s.retry.Do(ctx, "load session", func() error {
		var err error
		session, err = s.store.GetSession(ctx, sessionID)
		return err
	})
	return session, err
}

func (s *QuizService) loadRoster(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	var roster []domain.Participant
	err := s.retry.Do(ctx, "load roster", func() error {
		var err error
		roster, err = s.store.ListParticipants(ctx, sessionID)
		return err
	})
	return roster, err
}

func resultOf(session domain.Session, board *Board) domain.SessionResult {
	endedAt := time.Time{}
	if session.EndedAt != nil {
		endedAt = *session.EndedAt
	}
	lb := board.Top(session.ID, 0)
	return domain.SessionResult{
		SessionID: session.ID,
		Title:     session.Title,
		EndedAt:   endedAt,
		Entries:   lb.Entries,
	}
}

func copyQuestions(in []domain.Question) ([]domain.Question, error) {
	if err := (domain.QuestionSet{Questions: in}).Validate(); err != nil {
		return nil, err
	}
	out := make([]domain.Question, len(in))
	for i, q := range in {
		q.Options = append([]domain.Option(nil), q.Options...)
		out[i] = q
	}
	return out, nil
}
