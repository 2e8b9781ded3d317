package app

import (
	"context"
	"errors"
	"log"
	"time"

	"live-quiz-service/internal/domain"
)

func (s *QuizService) trackDeadline(session domain.Session) {
	deadline, ok := session.Deadline()
	if !ok {
		return
	}
	s.deadlineMu.Lock()
	s.deadlines[session.ID] = deadline
	s.deadlineMu.Unlock()
}

func (s *QuizService) untrackDeadline(sessionID string) {
	s.deadlineMu.Lock()
	delete(s.deadlines, sessionID)
	s.deadlineMu.Unlock()
}

// RunExpiry stops sessions whose advisory duration has elapsed, checking every interval
// until ctx is done.
func (s *QuizService) RunExpiry(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ExpireDue(ctx)
		}
	}
}

// ExpireDue stops every tracked session past its deadline and returns how many it stopped.
func (s *QuizService) ExpireDue(ctx context.Context) int {
	now := s.now()
	s.deadlineMu.Lock()
	var due []string
	for id, deadline := range s.deadlines {
		if !now.Before(deadline) {
			due = append(due, id)
		}
	}
	s.deadlineMu.Unlock()

	stopped := 0
	for _, id := range due {
		_, err := s.Stop(ctx, id)
		switch {
		case err == nil:
			stopped++
			log.Printf("session %s reached its duration, stopped", id)
		case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrSessionNotFound):
			s.untrackDeadline(id)
		default:
			log.Printf("expire session %s: %v", id, err)
		}
	}
	return stopped
}
