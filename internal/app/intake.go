package app

import (
	"context"
	"errors"
	"time"

	"live-quiz-service/internal/domain"
)

// maxIntakeAttempts bounds re-validation when a host action lands between validating
// a submission and recording it.
const maxIntakeAttempts = 3

// SubmitAnswer validates an answer against the server-held active question, scores it and
// records it together with the score increment. Resubmitting the same question returns the
// originally stored result.
func (s *QuizService) SubmitAnswer(ctx context.Context, sessionID, participantID string, submission domain.AnswerSubmission) (domain.ScoredAnswer, error) {
	unlock := s.locks.Lock(sessionID + "/" + participantID)
	defer unlock()

	var err error
	for attempt := 0; attempt < maxIntakeAttempts; attempt++ {
		var (
			answer      domain.ScoredAnswer
			participant domain.Participant
			duplicate   bool
		)
		answer, participant, duplicate, err = s.intake(ctx, sessionID, participantID, submission)
		if errors.Is(err, domain.ErrConcurrentModification) {
			continue
		}
		if err != nil {
			return domain.ScoredAnswer{}, err
		}
		if !duplicate {
			s.publishStanding(ctx, sessionID, participant)
		}
		return answer, nil
	}
	return domain.ScoredAnswer{}, err
}

func (s *QuizService) intake(ctx context.Context, sessionID, participantID string, submission domain.AnswerSubmission) (domain.ScoredAnswer, domain.Participant, bool, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return domain.ScoredAnswer{}, domain.Participant{}, false, err
	}
	if session.Status != domain.StatusLive {
		return domain.ScoredAnswer{}, domain.Participant{}, false, domain.ErrSessionNotAcceptingAnswers
	}
	question, ok := session.CurrentQuestion()
	if !ok || question.ID != submission.QuestionID {
		return domain.ScoredAnswer{}, domain.Participant{}, false, domain.ErrStaleQuestion
	}

	participant, err := s.getParticipant(ctx, sessionID, participantID)
	if err != nil {
		return domain.ScoredAnswer{}, domain.Participant{}, false, err
	}
	if participant.Status == domain.ParticipantDisconnected {
		return domain.ScoredAnswer{}, domain.Participant{}, false, domain.ErrNotRegistered
	}
	if !question.HasOption(submission.SelectedOption) {
		return domain.ScoredAnswer{}, domain.Participant{}, false, domain.ErrUnknownOption
	}

	scored := scoreSubmission(question, submission, s.now())
	scored.SessionID = sessionID
	scored.ParticipantID = participantID

	var (
		stored  domain.ScoredAnswer
		updated domain.Participant
	)
	err = s.retry.Do(ctx, "record answer", func() error {
		var err error
		stored, updated, err = s.store.RecordAnswer(ctx, scored, session.Version)
		return err
	})
	if errors.Is(err, domain.ErrDuplicateSubmission) {
		return stored, updated, true, nil
	}
	if err != nil {
		return domain.ScoredAnswer{}, domain.Participant{}, false, err
	}
	return stored, updated, false, nil
}

// scoreSubmission scores one answer. Late answers are accepted but earn nothing.
func scoreSubmission(question domain.Question, submission domain.AnswerSubmission, now time.Time) domain.ScoredAnswer {
	timeTaken := submission.TimeTakenMs
	if timeTaken < 0 {
		timeTaken = 0
	}
	correct := submission.SelectedOption == question.CorrectOption
	late := question.TimeLimitMs > 0 && timeTaken > question.TimeLimitMs

	points := 0
	if correct && !late {
		points = question.PointValue()
	}
	return domain.ScoredAnswer{
		QuestionID:     question.ID,
		SelectedOption: submission.SelectedOption,
		SubmittedAt:    domain.ScoreTime(now),
		TimeTakenMs:    timeTaken,
		IsCorrect:      correct,
		Late:           late,
		PointsAwarded:  points,
	}
}

// publishStanding moves the participant within the board and broadcasts the new top N.
func (s *QuizService) publishStanding(ctx context.Context, sessionID string, p domain.Participant) {
	board, err := s.boards.Board(ctx, sessionID)
	if err != nil {
		// the board hydrates from the store on the next read
		s.boards.Forget(sessionID)
		return
	}
	if !board.Upsert(p, s.now().UTC()) {
		return
	}
	evt := domain.LeaderboardChanged{Leaderboard: board.Top(sessionID, s.topN)}
	if entry, ok := board.RankOf(p.ID); ok {
		evt.AffectedParticipant = &entry
	}
	s.notifier.PublishLeaderboard(sessionID, evt)
}

// GetLeaderboard returns the first n entries of the session ranking (n <= 0 uses the default size).
func (s *QuizService) GetLeaderboard(ctx context.Context, sessionID string, n int) (domain.Leaderboard, error) {
	board, err := s.sessionBoard(ctx, sessionID)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	if n <= 0 {
		n = s.topN
	}
	return board.Top(sessionID, n), nil
}

// GetRank returns a participant's current rank and score even outside the top N.
func (s *QuizService) GetRank(ctx context.Context, sessionID, participantID string) (domain.LeaderboardEntry, error) {
	board, err := s.sessionBoard(ctx, sessionID)
	if err != nil {
		return domain.LeaderboardEntry{}, err
	}
	entry, ok := board.RankOf(participantID)
	if !ok {
		return domain.LeaderboardEntry{}, domain.ErrNotRegistered
	}
	return entry, nil
}

// Subscribe returns a channel of state and leaderboard changes for a session, primed with a
// full snapshot. The caller must invoke the returned cancel function to avoid leaks.
func (s *QuizService) Subscribe(ctx context.Context, sessionID, participantID string) (<-chan domain.Event, func(), error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	board, err := s.sessionBoard(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	snapshot := domain.LeaderboardChanged{Leaderboard: board.Top(sessionID, s.topN)}
	if participantID != "" {
		if entry, ok := board.RankOf(participantID); ok {
			snapshot.AffectedParticipant = &entry
		}
	}
	sub, cancel := s.notifier.Subscribe(sessionID, participantID, domain.StateOf(session), snapshot)
	return sub.Events(), cancel, nil
}

func (s *QuizService) sessionBoard(ctx context.Context, sessionID string) (*Board, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	board, err := s.boards.Board(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.syncBoard(ctx, sessionID, board); err != nil {
		return nil, err
	}
	if session.Status == domain.StatusCompleted && !board.Final() {
		board.Freeze()
	}
	return board, nil
}

// syncBoard catches the board up with score changes recorded through any instance sharing the
// store. The revision is read before the roster, so the roster is at least that recent.
func (s *QuizService) syncBoard(ctx context.Context, sessionID string, board *Board) error {
	var revision int64
	err := s.retry.Do(ctx, "load score revision", func() error {
		var err error
		revision, err = s.store.ScoreRevision(ctx, sessionID)
		return err
	})
	if err != nil {
		return err
	}
	if !board.Behind(revision) {
		return nil
	}
	roster, err := s.loadRoster(ctx, sessionID)
	if err != nil {
		return err
	}
	board.Sync(roster, revision, s.now().UTC())
	return nil
}

// Standing is a cheap rank lookup against the live board for per-subscriber views.
func (s *QuizService) Standing(ctx context.Context, sessionID, participantID string) (domain.LeaderboardEntry, bool) {
	board, err := s.boards.Board(ctx, sessionID)
	if err != nil {
		return domain.LeaderboardEntry{}, false
	}
	return board.RankOf(participantID)
}
