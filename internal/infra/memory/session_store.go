package memory

import (
	"context"
	"sort"
	"sync"

	"live-quiz-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionStore.
// A single mutex makes every mutation atomic, which is enough for one instance.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
	rosters  map[string]map[string]domain.Participant
	answers  map[string]map[answerKey]domain.ScoredAnswer
	revs     map[string]int64
}

type answerKey struct {
	participantID string
	questionID    string
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]domain.Session),
		rosters:  make(map[string]map[string]domain.Participant),
		answers:  make(map[string]map[answerKey]domain.ScoredAnswer),
		revs:     make(map[string]int64),
	}
}

func (s *SessionStore) CreateSession(_ context.Context, session domain.Session) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session.Version = 1
	session.Questions = append([]domain.Question(nil), session.Questions...)
	s.sessions[session.ID] = session
	s.rosters[session.ID] = make(map[string]domain.Participant)
	s.answers[session.ID] = make(map[answerKey]domain.ScoredAnswer)
	return session, nil
}

func (s *SessionStore) GetSession(_ context.Context, sessionID string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *SessionStore) UpdateSession(_ context.Context, next domain.Session, expectedVersion int64) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[next.ID]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if current.Version != expectedVersion {
		return domain.Session{}, domain.ErrConcurrentModification
	}
	next.Version = current.Version + 1
	s.sessions[next.ID] = next
	return next, nil
}

func (s *SessionStore) AddParticipant(_ context.Context, sessionID string, p domain.Participant, maxParticipants int) (domain.Participant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roster, ok := s.rosters[sessionID]
	if !ok {
		return domain.Participant{}, false, domain.ErrSessionNotFound
	}
	if existing, ok := roster[p.ID]; ok {
		return existing, false, nil
	}
	if maxParticipants > 0 && len(roster) >= maxParticipants {
		return domain.Participant{}, false, domain.ErrRosterFull
	}
	roster[p.ID] = p
	s.revs[sessionID]++
	return p, true, nil
}

func (s *SessionStore) GetParticipant(_ context.Context, sessionID, participantID string) (domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roster, ok := s.rosters[sessionID]
	if !ok {
		return domain.Participant{}, domain.ErrSessionNotFound
	}
	p, ok := roster[participantID]
	if !ok {
		return domain.Participant{}, domain.ErrNotRegistered
	}
	return p, nil
}

func (s *SessionStore) ListParticipants(_ context.Context, sessionID string) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roster, ok := s.rosters[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	out := make([]domain.Participant, 0, len(roster))
	for _, p := range roster {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *SessionStore) SetParticipantStatus(_ context.Context, sessionID, participantID string, status domain.ParticipantStatus) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roster, ok := s.rosters[sessionID]
	if !ok {
		return domain.Participant{}, domain.ErrSessionNotFound
	}
	p, ok := roster[participantID]
	if !ok {
		return domain.Participant{}, domain.ErrNotRegistered
	}
	p.Status = status
	roster[participantID] = p
	return p, nil
}

func (s *SessionStore) ChangeConnections(_ context.Context, sessionID, participantID string, delta int) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roster, ok := s.rosters[sessionID]
	if !ok {
		return domain.Participant{}, domain.ErrSessionNotFound
	}
	p, ok := roster[participantID]
	if !ok {
		return domain.Participant{}, domain.ErrNotRegistered
	}
	p.Connections = max(p.Connections+delta, 0)
	p.Status = p.Present()
	roster[participantID] = p
	return p, nil
}

func (s *SessionStore) ScoreRevision(_ context.Context, sessionID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return 0, domain.ErrSessionNotFound
	}
	return s.revs[sessionID], nil
}

func (s *SessionStore) RecordAnswer(_ context.Context, answer domain.ScoredAnswer, sessionVersion int64) (domain.ScoredAnswer, domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[answer.SessionID]
	if !ok {
		return domain.ScoredAnswer{}, domain.Participant{}, domain.ErrSessionNotFound
	}
	roster := s.rosters[answer.SessionID]
	p, ok := roster[answer.ParticipantID]
	if !ok {
		return domain.ScoredAnswer{}, domain.Participant{}, domain.ErrNotRegistered
	}

	key := answerKey{participantID: answer.ParticipantID, questionID: answer.QuestionID}
	answers := s.answers[answer.SessionID]
	if existing, ok := answers[key]; ok {
		return existing, p, domain.ErrDuplicateSubmission
	}
	if session.Version != sessionVersion {
		return domain.ScoredAnswer{}, domain.Participant{}, domain.ErrConcurrentModification
	}
	if p.Status == domain.ParticipantDisconnected {
		return domain.ScoredAnswer{}, domain.Participant{}, domain.ErrNotRegistered
	}

	p.Score += answer.PointsAwarded
	if answer.PointsAwarded > 0 {
		p.LastScoreAt = answer.SubmittedAt
	}
	answer.TotalScore = p.Score
	roster[p.ID] = p
	answers[key] = answer
	s.revs[answer.SessionID]++
	return answer, p, nil
}

func (s *SessionStore) ListAnswers(_ context.Context, sessionID, participantID string) ([]domain.ScoredAnswer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	answers, ok := s.answers[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	var out []domain.ScoredAnswer
	for key, a := range answers {
		if key.participantID == participantID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].QuestionID < out[j].QuestionID
	})
	return out, nil
}
