package domain

import (
	"errors"
	"testing"
	"time"
)

func TestApplyFollowsTransitionTable(t *testing.T) {
	now := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)
	s := Session{ID: "s1", Status: StatusDraft, CurrentQuestionIndex: -1, Questions: threeQuestions()}

	steps := []struct {
		evt   LifecycleEvent
		want  SessionStatus
		index int
	}{
		{EventPublish, StatusPublished, -1},
		{EventStart, StatusLive, 0},
		{EventAdvance, StatusLive, 1},
		{EventPause, StatusPaused, 1},
		{EventResume, StatusLive, 1},
		{EventRetreat, StatusLive, 0},
		{EventStop, StatusCompleted, 0},
	}
	for _, step := range steps {
		next, err := s.Apply(step.evt, now)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", step.evt, err)
		}
		if next.Status != step.want || next.CurrentQuestionIndex != step.index {
			t.Fatalf("%s: expected %s/%d, got %s/%d", step.evt, step.want, step.index, next.Status, next.CurrentQuestionIndex)
		}
		s = next
	}
	if s.StartedAt == nil || s.EndedAt == nil {
		t.Fatalf("expected start and end timestamps, got %+v", s)
	}
}

func TestApplyRejectsInvalidTransitions(t *testing.T) {
	now := time.Now()
	cases := []struct {
		status SessionStatus
		evt    LifecycleEvent
	}{
		{StatusDraft, EventPause},
		{StatusDraft, EventStart},
		{StatusPublished, EventAdvance},
		{StatusPaused, EventAdvance},
		{StatusLive, EventPublish},
		{StatusCompleted, EventCancel},
		{StatusCancelled, EventCancel},
		{StatusCancelled, EventResume},
		{StatusDraft, EventStop},
	}
	for _, tc := range cases {
		s := Session{Status: tc.status, Questions: threeQuestions()}
		next, err := s.Apply(tc.evt, now)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s from %s: expected invalid transition, got %v", tc.evt, tc.status, err)
		}
		if next.Status != tc.status {
			t.Fatalf("%s from %s: state changed to %s", tc.evt, tc.status, next.Status)
		}
	}
}

func TestCancelReachableFromEveryNonTerminalState(t *testing.T) {
	for _, status := range []SessionStatus{StatusDraft, StatusPublished, StatusLive, StatusPaused} {
		s := Session{Status: status, Questions: threeQuestions()}
		next, err := s.Apply(EventCancel, time.Now())
		if err != nil {
			t.Fatalf("cancel from %s: %v", status, err)
		}
		if next.Status != StatusCancelled {
			t.Fatalf("cancel from %s: got %s", status, next.Status)
		}
	}
}

func TestPublishRequiresQuestions(t *testing.T) {
	s := Session{Status: StatusDraft}
	if _, err := s.Apply(EventPublish, time.Now()); !errors.Is(err, ErrEmptyQuestionSet) {
		t.Fatalf("expected empty question set error, got %v", err)
	}
}

func TestAdvanceAndRetreatClamp(t *testing.T) {
	s := Session{Status: StatusLive, CurrentQuestionIndex: 2, Questions: threeQuestions()}
	next, err := s.Apply(EventAdvance, time.Now())
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if next.CurrentQuestionIndex != 2 || next.Changed(s) {
		t.Fatalf("expected advance clamped at last index, got %d", next.CurrentQuestionIndex)
	}

	s.CurrentQuestionIndex = 0
	next, err = s.Apply(EventRetreat, time.Now())
	if err != nil {
		t.Fatalf("retreat: %v", err)
	}
	if next.CurrentQuestionIndex != 0 || next.Changed(s) {
		t.Fatalf("expected retreat clamped at 0, got %d", next.CurrentQuestionIndex)
	}
}

func TestStateOfHidesCorrectOption(t *testing.T) {
	s := Session{ID: "s1", Status: StatusLive, CurrentQuestionIndex: 1, Questions: threeQuestions()}
	evt := StateOf(s)
	if evt.Question == nil || evt.Question.ID != "q2" {
		t.Fatalf("expected q2 in state, got %+v", evt.Question)
	}
	if evt.TotalQuestions != 3 {
		t.Fatalf("expected 3 questions, got %d", evt.TotalQuestions)
	}

	s.Status = StatusPublished
	if StateOf(s).Question != nil {
		t.Fatalf("question must not leak before the session is live")
	}
}

func threeQuestions() []Question {
	qs := make([]Question, 0, 3)
	for _, id := range []string{"q1", "q2", "q3"} {
		qs = append(qs, Question{
			ID:            id,
			Prompt:        "Prompt " + id,
			Options:       []Option{{ID: "a", Text: "A"}, {ID: "b", Text: "B"}},
			CorrectOption: "a",
			Points:        1,
		})
	}
	return qs
}
