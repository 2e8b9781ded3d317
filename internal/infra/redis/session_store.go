package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"live-quiz-service/internal/domain"

	"github.com/redis/go-redis/v9"
)

// maxWatchAttempts bounds how often an optimistic transaction is re-run when an
// unrelated write touched one of its watched keys.
const maxWatchAttempts = 16

// SessionStore keeps sessions, rosters and answers in Redis so that a restarted
// instance resumes with the same state. Layout:
//
//	live:session:{id}                    session JSON (carries the CAS version)
//	live:session:{id}:roster             SET of participant ids
//	live:session:{id}:participant:{pid}  participant JSON
//	live:session:{id}:answers:{pid}      HSET {questionID} answer JSON
//	live:session:{id}:rev                score revision counter
//
// Every mutation runs inside WATCH/MULTI so that it is atomic against the store. Answers
// only watch the session and the answering participant's own keys.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func (s *SessionStore) CreateSession(ctx context.Context, session domain.Session) (domain.Session, error) {
	session.Version = 1
	raw, err := json.Marshal(session)
	if err != nil {
		return domain.Session{}, err
	}
	ok, err := s.client.SetNX(ctx, s.sessionKey(session.ID), raw, s.ttl).Result()
	if err != nil {
		return domain.Session{}, err
	}
	if !ok {
		return domain.Session{}, fmt.Errorf("session %s already exists", session.ID)
	}
	return session, nil
}

func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.readSession(ctx, s.client, sessionID)
}

func (s *SessionStore) UpdateSession(ctx context.Context, next domain.Session, expectedVersion int64) (domain.Session, error) {
	key := s.sessionKey(next.ID)
	var saved domain.Session
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.readSession(ctx, tx, next.ID)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return domain.ErrConcurrentModification
		}
		next.Version = current.Version + 1
		raw, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		saved = next
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		// someone else wrote the session between our read and EXEC
		return domain.Session{}, domain.ErrConcurrentModification
	}
	if err != nil {
		return domain.Session{}, err
	}
	return saved, nil
}

func (s *SessionStore) AddParticipant(ctx context.Context, sessionID string, p domain.Participant, maxParticipants int) (domain.Participant, bool, error) {
	rosterKey := s.rosterKey(sessionID)
	participantKey := s.participantKey(sessionID, p.ID)
	var (
		stored  domain.Participant
		created bool
	)
	err := s.watch(ctx, func(tx *redis.Tx) error {
		if _, err := s.readSession(ctx, tx, sessionID); err != nil {
			return err
		}
		existing, err := s.readParticipant(ctx, tx, sessionID, p.ID)
		if err == nil {
			stored, created = existing, false
			return nil
		}
		if !errors.Is(err, domain.ErrNotRegistered) {
			return err
		}
		if maxParticipants > 0 {
			count, err := tx.SCard(ctx, rosterKey).Result()
			if err != nil {
				return err
			}
			if count >= int64(maxParticipants) {
				return domain.ErrRosterFull
			}
		}
		raw, err := json.Marshal(p)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, participantKey, raw, s.ttl)
			pipe.SAdd(ctx, rosterKey, p.ID)
			s.expire(ctx, pipe, rosterKey)
			s.bumpRevision(ctx, pipe, sessionID)
			return nil
		})
		if err != nil {
			return err
		}
		stored, created = p, true
		return nil
	}, s.sessionKey(sessionID), rosterKey, participantKey)
	if err != nil {
		return domain.Participant{}, false, err
	}
	return stored, created, nil
}

func (s *SessionStore) GetParticipant(ctx context.Context, sessionID, participantID string) (domain.Participant, error) {
	p, err := s.readParticipant(ctx, s.client, sessionID, participantID)
	if errors.Is(err, domain.ErrNotRegistered) {
		if _, serr := s.readSession(ctx, s.client, sessionID); serr != nil {
			return domain.Participant{}, serr
		}
	}
	return p, err
}

func (s *SessionStore) ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	if _, err := s.readSession(ctx, s.client, sessionID); err != nil {
		return nil, err
	}
	ids, err := s.client.SMembers(ctx, s.rosterKey(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []domain.Participant{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.participantKey(sessionID, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Participant, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// expired independently of the roster set
			continue
		}
		var p domain.Participant
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode participant %s: %w", ids[i], err)
		}
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

func (s *SessionStore) SetParticipantStatus(ctx context.Context, sessionID, participantID string, status domain.ParticipantStatus) (domain.Participant, error) {
	return s.updateParticipant(ctx, sessionID, participantID, func(p *domain.Participant) {
		p.Status = status
	})
}

func (s *SessionStore) ChangeConnections(ctx context.Context, sessionID, participantID string, delta int) (domain.Participant, error) {
	return s.updateParticipant(ctx, sessionID, participantID, func(p *domain.Participant) {
		p.Connections = max(p.Connections+delta, 0)
		p.Status = p.Present()
	})
}

func (s *SessionStore) updateParticipant(ctx context.Context, sessionID, participantID string, mutate func(*domain.Participant)) (domain.Participant, error) {
	participantKey := s.participantKey(sessionID, participantID)
	var updated domain.Participant
	err := s.watch(ctx, func(tx *redis.Tx) error {
		p, err := s.readParticipant(ctx, tx, sessionID, participantID)
		if err != nil {
			return err
		}
		mutate(&p)
		raw, err := json.Marshal(p)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, participantKey, raw, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		updated = p
		return nil
	}, participantKey)
	return updated, err
}

func (s *SessionStore) RecordAnswer(ctx context.Context, answer domain.ScoredAnswer, sessionVersion int64) (domain.ScoredAnswer, domain.Participant, error) {
	sessionKey := s.sessionKey(answer.SessionID)
	participantKey := s.participantKey(answer.SessionID, answer.ParticipantID)
	answersKey := s.answersKey(answer.SessionID, answer.ParticipantID)

	var (
		stored  domain.ScoredAnswer
		updated domain.Participant
	)
	err := s.watch(ctx, func(tx *redis.Tx) error {
		session, err := s.readSession(ctx, tx, answer.SessionID)
		if err != nil {
			return err
		}
		p, err := s.readParticipant(ctx, tx, answer.SessionID, answer.ParticipantID)
		if err != nil {
			return err
		}

		raw, err := tx.HGet(ctx, answersKey, answer.QuestionID).Result()
		switch {
		case err == nil:
			if err := json.Unmarshal([]byte(raw), &stored); err != nil {
				return fmt.Errorf("decode answer: %w", err)
			}
			updated = p
			return domain.ErrDuplicateSubmission
		case !errors.Is(err, redis.Nil):
			return err
		}
		if session.Version != sessionVersion {
			return domain.ErrConcurrentModification
		}
		if p.Status == domain.ParticipantDisconnected {
			return domain.ErrNotRegistered
		}

		p.Score += answer.PointsAwarded
		if answer.PointsAwarded > 0 {
			p.LastScoreAt = answer.SubmittedAt
		}
		answer.TotalScore = p.Score
		answerRaw, err := json.Marshal(answer)
		if err != nil {
			return err
		}
		participantRaw, err := json.Marshal(p)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, answersKey, answer.QuestionID, answerRaw)
			pipe.Set(ctx, participantKey, participantRaw, s.ttl)
			s.expire(ctx, pipe, answersKey)
			s.bumpRevision(ctx, pipe, answer.SessionID)
			return nil
		})
		if err != nil {
			return err
		}
		stored, updated = answer, p
		return nil
	}, sessionKey, participantKey, answersKey)
	if errors.Is(err, domain.ErrDuplicateSubmission) {
		return stored, updated, err
	}
	if err != nil {
		return domain.ScoredAnswer{}, domain.Participant{}, err
	}
	return stored, updated, nil
}

func (s *SessionStore) ListAnswers(ctx context.Context, sessionID, participantID string) ([]domain.ScoredAnswer, error) {
	if _, err := s.readSession(ctx, s.client, sessionID); err != nil {
		return nil, err
	}
	values, err := s.client.HGetAll(ctx, s.answersKey(sessionID, participantID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.ScoredAnswer, 0, len(values))
	for questionID, raw := range values {
		var a domain.ScoredAnswer
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("decode answer %s: %w", questionID, err)
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].QuestionID < out[j].QuestionID
	})
	return out, nil
}

func (s *SessionStore) ScoreRevision(ctx context.Context, sessionID string) (int64, error) {
	rev, err := s.client.Get(ctx, s.revisionKey(sessionID)).Int64()
	if err == nil {
		return rev, nil
	}
	if !errors.Is(err, redis.Nil) {
		return 0, err
	}
	if _, err := s.readSession(ctx, s.client, sessionID); err != nil {
		return 0, err
	}
	return 0, nil
}

// watch runs fn as an optimistic transaction and re-runs it when a watched key changed
// underneath. Persistent contention surfaces as domain.ErrConcurrentModification.
func (s *SessionStore) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < maxWatchAttempts; attempt++ {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return domain.ErrConcurrentModification
}

// reader is the read subset shared by *redis.Client and *redis.Tx.
type reader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *SessionStore) readSession(ctx context.Context, c reader, sessionID string) (domain.Session, error) {
	raw, err := c.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, err
	}
	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return domain.Session{}, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return session, nil
}

func (s *SessionStore) readParticipant(ctx context.Context, c reader, sessionID, participantID string) (domain.Participant, error) {
	raw, err := c.Get(ctx, s.participantKey(sessionID, participantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Participant{}, domain.ErrNotRegistered
	}
	if err != nil {
		return domain.Participant{}, err
	}
	var p domain.Participant
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.Participant{}, fmt.Errorf("decode participant %s: %w", participantID, err)
	}
	return p, nil
}

func (s *SessionStore) expire(ctx context.Context, pipe redis.Pipeliner, key string) {
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
}

func (s *SessionStore) bumpRevision(ctx context.Context, pipe redis.Pipeliner, sessionID string) {
	key := s.revisionKey(sessionID)
	pipe.Incr(ctx, key)
	s.expire(ctx, pipe, key)
}

func (s *SessionStore) sessionKey(sessionID string) string {
	return "live:session:" + sessionID
}

func (s *SessionStore) rosterKey(sessionID string) string {
	return "live:session:" + sessionID + ":roster"
}

func (s *SessionStore) participantKey(sessionID, participantID string) string {
	return "live:session:" + sessionID + ":participant:" + participantID
}

func (s *SessionStore) answersKey(sessionID, participantID string) string {
	return "live:session:" + sessionID + ":answers:" + participantID
}

func (s *SessionStore) revisionKey(sessionID string) string {
	return "live:session:" + sessionID + ":rev"
}
