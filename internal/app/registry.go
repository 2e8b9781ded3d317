package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"live-quiz-service/internal/domain"
)

// Register admits a participant into a session. Registering an id that is already on the
// roster returns the stored participant unchanged, so reconnects never duplicate anyone.
func (s *QuizService) Register(ctx context.Context, sessionID, participantID, displayName string) (domain.Participant, error) {
	participantID = strings.TrimSpace(participantID)
	displayName = strings.TrimSpace(displayName)
	if participantID == "" || displayName == "" {
		return domain.Participant{}, domain.ErrInvalidParticipant
	}

	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return domain.Participant{}, err
	}

	existing, err := s.getParticipant(ctx, sessionID, participantID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotRegistered) {
		return domain.Participant{}, err
	}

	if session.Status != domain.StatusPublished && session.Status != domain.StatusLive {
		return domain.Participant{}, fmt.Errorf("%w: status %s", domain.ErrRegistrationClosed, session.Status)
	}

	candidate := domain.Participant{
		ID:          participantID,
		DisplayName: displayName,
		JoinedAt:    s.now().UTC(),
		Status:      domain.ParticipantRegistered,
	}
	var (
		stored  domain.Participant
		created bool
	)
	err = s.retry.Do(ctx, "add participant", func() error {
		var err error
		stored, created, err = s.store.AddParticipant(ctx, sessionID, candidate, session.MaxParticipants)
		return err
	})
	if err != nil {
		return domain.Participant{}, err
	}

	if created {
		s.publishStanding(ctx, sessionID, stored)
	}
	return stored, nil
}

// SetPresence records one subscriber connection opening (connected) or closing. A participant is
// disconnected only once its last connection closes, so a reconnect that overlaps the old socket
// keeps it active. Presence never removes anyone from the roster or the leaderboard.
func (s *QuizService) SetPresence(ctx context.Context, sessionID, participantID string, connected bool) (domain.Participant, error) {
	p, err := s.getParticipant(ctx, sessionID, participantID)
	if err != nil {
		return domain.Participant{}, err
	}
	if p.Status == domain.ParticipantCompleted {
		return p, nil
	}

	delta := -1
	if connected {
		delta = 1
	}
	var updated domain.Participant
	err = s.retry.Do(ctx, "set presence", func() error {
		var err error
		updated, err = s.store.ChangeConnections(ctx, sessionID, participantID, delta)
		return err
	})
	return updated, err
}

// Roster lists every participant of a session.
func (s *QuizService) Roster(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	if _, err := s.loadSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.loadRoster(ctx, sessionID)
}

func (s *QuizService) getParticipant(ctx context.Context, sessionID, participantID string) (domain.Participant, error) {
	var p domain.Participant
	err := s.retry.Do(ctx, "load participant", func() error {
		var err error
		p, err = s.store.GetParticipant(ctx, sessionID, participantID)
		return err
	})
	return p, err
}
