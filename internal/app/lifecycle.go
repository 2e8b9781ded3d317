package app

import (
	"context"
	"log"

	"live-quiz-service/internal/domain"

	"golang.org/x/sync/errgroup"
)

// Publish opens a draft session for pre-registration.
func (s *QuizService) Publish(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.Transition(ctx, sessionID, domain.EventPublish)
}

// Start makes the first question active.
func (s *QuizService) Start(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.Transition(ctx, sessionID, domain.EventStart)
}

// Pause freezes answer acceptance.
func (s *QuizService) Pause(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.Transition(ctx, sessionID, domain.EventPause)
}

// Resume reopens answer acceptance.
func (s *QuizService) Resume(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.Transition(ctx, sessionID, domain.EventResume)
}

// Stop completes the session and freezes its leaderboard.
func (s *QuizService) Stop(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.Transition(ctx, sessionID, domain.EventStop)
}

// Cancel abandons the session; no further answers are accepted.
func (s *QuizService) Cancel(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.Transition(ctx, sessionID, domain.EventCancel)
}

// AdvanceQuestion moves to the next question, clamped to the last one.
func (s *QuizService) AdvanceQuestion(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.Transition(ctx, sessionID, domain.EventAdvance)
}

// RetreatQuestion moves to the previous question, clamped to the first one.
func (s *QuizService) RetreatQuestion(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.Transition(ctx, sessionID, domain.EventRetreat)
}

// Transition applies one lifecycle event with a single optimistic read-modify-write.
// A lost race is reported as domain.ErrConcurrentModification and not retried here,
// so two concurrent advances can never move the index twice.
func (s *QuizService) Transition(ctx context.Context, sessionID string, evt domain.LifecycleEvent) (domain.Session, error) {
	current, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}

	next, err := current.Apply(evt, s.now().UTC())
	if err != nil {
		return domain.Session{}, err
	}
	if !next.Changed(current) {
		return current, nil
	}

	var saved domain.Session
	err = s.retry.Do(ctx, "update session", func() error {
		var err error
		saved, err = s.store.UpdateSession(ctx, next, current.Version)
		return err
	})
	if err != nil {
		return domain.Session{}, err
	}

	s.afterTransition(ctx, evt, saved)
	return saved, nil
}

func (s *QuizService) afterTransition(ctx context.Context, evt domain.LifecycleEvent, session domain.Session) {
	if session.Status.Terminal() {
		s.untrackDeadline(session.ID)
	} else {
		s.trackDeadline(session)
	}
	if evt == domain.EventStop {
		s.finalize(context.WithoutCancel(ctx), session)
	}
	s.notifier.PublishState(session.ID, domain.StateOf(session))
}

// finalize freezes the leaderboard, marks the roster completed and archives the result.
// The board is re-synced from the roster first: every answer committed before the stop
// write is in the store, even if its own board update has not landed yet.
func (s *QuizService) finalize(ctx context.Context, session domain.Session) {
	board, err := s.boards.Board(ctx, session.ID)
	if err != nil {
		log.Printf("finalize session %s: load leaderboard: %v", session.ID, err)
		return
	}
	roster, err := s.loadRoster(ctx, session.ID)
	if err != nil {
		log.Printf("finalize session %s: load roster: %v", session.ID, err)
	}
	now := s.now().UTC()
	for _, p := range roster {
		board.Upsert(p, now)
	}
	board.Freeze()
	result := resultOf(session, board)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for _, p := range roster {
			if _, err := s.store.SetParticipantStatus(gctx, session.ID, p.ID, domain.ParticipantCompleted); err != nil {
				return err
			}
		}
		return nil
	})
	if s.archive != nil {
		g.Go(func() error {
			return s.retry.Do(gctx, "archive result", func() error {
				return s.archive.SaveResult(gctx, result)
			})
		})
	}
	if err := g.Wait(); err != nil {
		log.Printf("finalize session %s: %v", session.ID, err)
	}

	s.notifier.PublishLeaderboard(session.ID, domain.LeaderboardChanged{
		Leaderboard: board.Top(session.ID, s.topN),
	})
}
