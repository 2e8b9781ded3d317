package domain

import (
	"fmt"
	"strings"
	"time"
)

// SessionStatus is the lifecycle state of a live session.
type SessionStatus string

const (
	StatusDraft     SessionStatus = "draft"
	StatusPublished SessionStatus = "published"
	StatusLive      SessionStatus = "live"
	StatusPaused    SessionStatus = "paused"
	StatusCompleted SessionStatus = "completed"
	StatusCancelled SessionStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ParticipantStatus is used for presence display only.
type ParticipantStatus string

const (
	ParticipantRegistered   ParticipantStatus = "registered"
	ParticipantActive       ParticipantStatus = "active"
	ParticipantDisconnected ParticipantStatus = "disconnected"
	ParticipantCompleted    ParticipantStatus = "completed"
)

// Option represents a possible answer for a question.
type Option struct {
	ID   string `json:"id" yaml:"id" bson:"id"`
	Text string `json:"text" yaml:"text" bson:"text"`
}

// Question models an MCQ question with exactly one correct option.
// Points defaults to 1 if zero; a zero TimeLimitMs means no limit.
type Question struct {
	ID            string   `json:"id" yaml:"id" bson:"id"`
	Prompt        string   `json:"prompt" yaml:"prompt" bson:"prompt"`
	Options       []Option `json:"options" yaml:"options" bson:"options"`
	CorrectOption string   `json:"correctOption" yaml:"correctOption" bson:"correctOption"`
	Points        int      `json:"points" yaml:"points" bson:"points"`
	TimeLimitMs   int64    `json:"timeLimitMs,omitempty" yaml:"timeLimitMs" bson:"timeLimitMs"`
}

// PointValue returns the points awarded for a correct, on-time answer.
func (q Question) PointValue() int {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}

// HasOption reports whether optionID is one of the question's options.
// Questions without a declared option list accept any value.
func (q Question) HasOption(optionID string) bool {
	if len(q.Options) == 0 {
		return true
	}
	for _, opt := range q.Options {
		if opt.ID == optionID {
			return true
		}
	}
	return false
}

// QuestionSet is the immutable, ordered list of questions produced before a session starts.
type QuestionSet struct {
	ID        string     `json:"id" yaml:"id" bson:"_id"`
	Title     string     `json:"title" yaml:"title" bson:"title"`
	Questions []Question `json:"questions" yaml:"questions" bson:"questions"`
}

// Validate checks that every question has a unique id and a correct option among its options.
func (qs QuestionSet) Validate() error {
	seen := make(map[string]struct{}, len(qs.Questions))
	for i, q := range qs.Questions {
		if strings.TrimSpace(q.ID) == "" {
			return fmt.Errorf("%w: question %d has no id", ErrInvalidQuestionSet, i)
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("%w: duplicate question id %q", ErrInvalidQuestionSet, q.ID)
		}
		if q.CorrectOption == "" || !q.HasOption(q.CorrectOption) {
			return fmt.Errorf("%w: question %q has no valid correct option", ErrInvalidQuestionSet, q.ID)
		}
		seen[q.ID] = struct{}{}
	}
	return nil
}

// Session is one scheduled live run of a question set.
type Session struct {
	ID                   string        `json:"id"`
	QuestionSetID        string        `json:"questionSetId,omitempty"`
	Title                string        `json:"title,omitempty"`
	Questions            []Question    `json:"questions"`
	Status               SessionStatus `json:"status"`
	CurrentQuestionIndex int           `json:"currentQuestionIndex"`
	ScheduledAt          time.Time     `json:"scheduledAt"`
	StartedAt            *time.Time    `json:"startedAt,omitempty"`
	EndedAt              *time.Time    `json:"endedAt,omitempty"`
	MaxParticipants      int           `json:"maxParticipants"`
	DurationSeconds      int           `json:"durationSeconds"`
	CreatedAt            time.Time     `json:"createdAt"`
	Version              int64         `json:"version"`
}

// CurrentQuestion returns the active question, if any.
func (s Session) CurrentQuestion() (Question, bool) {
	if s.CurrentQuestionIndex < 0 || s.CurrentQuestionIndex >= len(s.Questions) {
		return Question{}, false
	}
	return s.Questions[s.CurrentQuestionIndex], true
}

// Deadline returns when the advisory duration ends. ok is false when no duration applies.
func (s Session) Deadline() (time.Time, bool) {
	if s.StartedAt == nil || s.DurationSeconds <= 0 {
		return time.Time{}, false
	}
	return s.StartedAt.Add(time.Duration(s.DurationSeconds) * time.Second), true
}

// NewSession describes a session to create from a finished question set.
type NewSession struct {
	QuestionSet     QuestionSet
	ScheduledAt     time.Time
	MaxParticipants int
	DurationSeconds int
}

// Participant is one individual on a session roster and their accumulated score.
type Participant struct {
	ID          string            `json:"id"`
	DisplayName string            `json:"displayName"`
	JoinedAt    time.Time         `json:"joinedAt"`
	Status      ParticipantStatus `json:"status"`
	Score       int               `json:"score"`
	LastScoreAt time.Time         `json:"lastScoreAt"`
	// Connections counts open subscriber connections; presence is derived from it.
	Connections int `json:"connections"`
}

// Present derives the presence status from the open connection count.
// Completed participants keep their status.
func (p Participant) Present() ParticipantStatus {
	switch {
	case p.Status == ParticipantCompleted:
		return p.Status
	case p.Connections > 0:
		return ParticipantActive
	default:
		return ParticipantDisconnected
	}
}

// AnswerSubmission models the answer signal from clients.
type AnswerSubmission struct {
	QuestionID     string `json:"questionId"`
	SelectedOption string `json:"selectedOption"`
	TimeTakenMs    int64  `json:"timeTakenMs"`
}

// ScoredAnswer is the stored, scored result of one submission.
type ScoredAnswer struct {
	SessionID      string    `json:"sessionId"`
	ParticipantID  string    `json:"participantId"`
	QuestionID     string    `json:"questionId"`
	SelectedOption string    `json:"selectedOption"`
	SubmittedAt    time.Time `json:"submittedAt"`
	TimeTakenMs    int64     `json:"timeTakenMs"`
	IsCorrect      bool      `json:"isCorrect"`
	Late           bool      `json:"late"`
	PointsAwarded  int       `json:"pointsAwarded"`
	TotalScore     int       `json:"totalScore"`
}

// LeaderboardEntry is a snapshot-friendly view of a participant's standing.
type LeaderboardEntry struct {
	ParticipantID string    `json:"participantId"`
	DisplayName   string    `json:"displayName"`
	Score         int       `json:"score"`
	Rank          int       `json:"rank"`
	LastScoreAt   time.Time `json:"lastScoreAt"`
}

// Leaderboard captures the ordered top of the scoreboard for a session.
type Leaderboard struct {
	SessionID string             `json:"sessionId"`
	Entries   []LeaderboardEntry `json:"entries"`
	Total     int                `json:"total"`
	Final     bool               `json:"final"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// SessionResult is the frozen leaderboard archived when a session completes.
type SessionResult struct {
	SessionID string             `json:"sessionId"`
	Title     string             `json:"title,omitempty"`
	EndedAt   time.Time          `json:"endedAt"`
	Entries   []LeaderboardEntry `json:"entries"`
}

// ScoreTime normalizes ranking timestamps to millisecond precision.
func ScoreTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
