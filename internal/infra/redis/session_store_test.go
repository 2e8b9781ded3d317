package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"live-quiz-service/internal/domain"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newTestStore(t *testing.T) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return NewSessionStore(newClient(mr), time.Hour), mr
}

func liveSession(t *testing.T, store *SessionStore) domain.Session {
	t.Helper()
	session, err := store.CreateSession(context.Background(), domain.Session{
		ID:                   "s1",
		Questions:            sampleSet().Questions,
		Status:               domain.StatusLive,
		CurrentQuestionIndex: 0,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func TestSessionStoreWritesKeys(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	liveSession(t, store)

	if !mr.Exists("live:session:s1") {
		t.Fatalf("expected session key to be set")
	}
	if _, _, err := store.AddParticipant(ctx, "s1", domain.Participant{ID: "p1", DisplayName: "Ann"}, 0); err != nil {
		t.Fatalf("add participant: %v", err)
	}
	if !mr.Exists("live:session:s1:roster") || !mr.Exists("live:session:s1:participant:p1") {
		t.Fatalf("expected roster and participant keys to be set")
	}
	if _, err := store.CreateSession(ctx, domain.Session{ID: "s1"}); err == nil {
		t.Fatalf("expected duplicate session id to be rejected")
	}
}

func TestSessionStoreCompareAndSwap(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	session := liveSession(t, store)

	next := session
	next.CurrentQuestionIndex = 1
	saved, err := store.UpdateSession(ctx, next, session.Version)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if saved.Version != session.Version+1 {
		t.Fatalf("expected version bump, got %d", saved.Version)
	}
	if _, err := store.UpdateSession(ctx, next, session.Version); !errors.Is(err, domain.ErrConcurrentModification) {
		t.Fatalf("expected concurrent modification, got %v", err)
	}

	got, err := store.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CurrentQuestionIndex != 1 || got.Version != saved.Version {
		t.Fatalf("unexpected stored session %+v", got)
	}
	if _, err := store.GetSession(ctx, "missing"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSessionStoreRosterCapacity(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	liveSession(t, store)

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			_, _, err := store.AddParticipant(ctx, "s1", domain.Participant{ID: id, DisplayName: id}, 3)
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	admitted := 0
	for err := range results {
		switch {
		case err == nil:
			admitted++
		case errors.Is(err, domain.ErrRosterFull), errors.Is(err, domain.ErrConcurrentModification):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	roster, err := store.ListParticipants(ctx, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(roster) > 3 || len(roster) != admitted {
		t.Fatalf("roster exceeds capacity: %d admitted, %d stored", admitted, len(roster))
	}
}

func TestSessionStoreRecordAnswer(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	session := liveSession(t, store)
	if _, _, err := store.AddParticipant(ctx, "s1", domain.Participant{ID: "p1", DisplayName: "Ann"}, 0); err != nil {
		t.Fatalf("add: %v", err)
	}

	at := time.Date(2024, 1, 1, 0, 0, 5, 0, time.UTC)
	answer := domain.ScoredAnswer{SessionID: "s1", ParticipantID: "p1", QuestionID: "q1", SelectedOption: "o2", IsCorrect: true, PointsAwarded: 1, SubmittedAt: at}

	if _, _, err := store.RecordAnswer(ctx, answer, session.Version+1); !errors.Is(err, domain.ErrConcurrentModification) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
	stored, p, err := store.RecordAnswer(ctx, answer, session.Version)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if stored.TotalScore != 1 || p.Score != 1 || !p.LastScoreAt.Equal(at) {
		t.Fatalf("unexpected score state: answer=%+v participant=%+v", stored, p)
	}

	again := answer
	again.SelectedOption = "o1"
	dup, p, err := store.RecordAnswer(ctx, again, session.Version)
	if !errors.Is(err, domain.ErrDuplicateSubmission) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if dup.SelectedOption != "o2" || p.Score != 1 {
		t.Fatalf("duplicate changed state: answer=%+v participant=%+v", dup, p)
	}

	got, err := store.GetParticipant(ctx, "s1", "p1")
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	if got.Score != 1 {
		t.Fatalf("expected persisted score 1, got %d", got.Score)
	}
	answers, err := store.ListAnswers(ctx, "s1", "p1")
	if err != nil || len(answers) != 1 {
		t.Fatalf("list answers: %v %+v", err, answers)
	}
	if _, err := store.GetParticipant(ctx, "s1", "ghost"); !errors.Is(err, domain.ErrNotRegistered) {
		t.Fatalf("expected not registered, got %v", err)
	}
}

func TestSessionStoreAnswersAreKeyedPerParticipant(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	session := liveSession(t, store)
	for _, id := range []string{"a|b", "a"} {
		if _, _, err := store.AddParticipant(ctx, "s1", domain.Participant{ID: id, DisplayName: id}, 0); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}

	first := domain.ScoredAnswer{SessionID: "s1", ParticipantID: "a|b", QuestionID: "c", PointsAwarded: 5}
	if _, _, err := store.RecordAnswer(ctx, first, session.Version); err != nil {
		t.Fatalf("record a|b: %v", err)
	}
	second := domain.ScoredAnswer{SessionID: "s1", ParticipantID: "a", QuestionID: "b|c", PointsAwarded: 1}
	stored, p, err := store.RecordAnswer(ctx, second, session.Version)
	if err != nil {
		t.Fatalf("record a: %v (stored %+v)", err, stored)
	}
	if stored.ParticipantID != "a" || p.Score != 1 {
		t.Fatalf("answer attributed to the wrong participant: %+v %+v", stored, p)
	}
	answers, err := store.ListAnswers(ctx, "s1", "a")
	if err != nil || len(answers) != 1 || answers[0].QuestionID != "b|c" {
		t.Fatalf("unexpected answers for a: %+v (%v)", answers, err)
	}
}

func TestSessionStoreParallelAnswersDoNotConflict(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	session := liveSession(t, store)
	const n = 50
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("p%d", i)
		if _, _, err := store.AddParticipant(ctx, "s1", domain.Participant{ID: id, DisplayName: id}, 0); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := store.RecordAnswer(ctx, domain.ScoredAnswer{
				SessionID:     "s1",
				ParticipantID: fmt.Sprintf("p%d", i),
				QuestionID:    "q1",
				PointsAwarded: 1,
			}, session.Version)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("answer from an unrelated participant failed: %v", err)
		}
	}
	rev, err := store.ScoreRevision(ctx, "s1")
	if err != nil {
		t.Fatalf("revision: %v", err)
	}
	if rev != 2*n {
		t.Fatalf("expected revision %d after %d joins and answers, got %d", 2*n, n, rev)
	}
}

func TestSessionStoreConnectionCount(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	session := liveSession(t, store)
	if _, _, err := store.AddParticipant(ctx, "s1", domain.Participant{ID: "p1", DisplayName: "Ann", Status: domain.ParticipantRegistered}, 0); err != nil {
		t.Fatalf("add: %v", err)
	}

	store.ChangeConnections(ctx, "s1", "p1", 1)
	store.ChangeConnections(ctx, "s1", "p1", 1)
	p, err := store.ChangeConnections(ctx, "s1", "p1", -1)
	if err != nil || p.Status != domain.ParticipantActive {
		t.Fatalf("expected still active with one open connection, got %+v (%v)", p, err)
	}
	if _, _, err := store.RecordAnswer(ctx, domain.ScoredAnswer{SessionID: "s1", ParticipantID: "p1", QuestionID: "q1"}, session.Version); err != nil {
		t.Fatalf("record: %v", err)
	}

	if p, _ = store.ChangeConnections(ctx, "s1", "p1", -1); p.Status != domain.ParticipantDisconnected {
		t.Fatalf("expected disconnected, got %+v", p)
	}
	if _, _, err := store.RecordAnswer(ctx, domain.ScoredAnswer{SessionID: "s1", ParticipantID: "p1", QuestionID: "q2"}, session.Version); !errors.Is(err, domain.ErrNotRegistered) {
		t.Fatalf("expected disconnected participant refused, got %v", err)
	}
	if _, err := store.ChangeConnections(ctx, "s1", "ghost", 1); !errors.Is(err, domain.ErrNotRegistered) {
		t.Fatalf("expected not registered, got %v", err)
	}
}
