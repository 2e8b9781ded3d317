package domain

// EventType names the classes of change pushed to subscribers.
type EventType string

const (
	EventSessionStateChanged EventType = "state"
	EventLeaderboardChanged  EventType = "leaderboard"
)

// SessionStateChanged is published after every lifecycle transition.
type SessionStateChanged struct {
	SessionID            string          `json:"sessionId"`
	Status               SessionStatus   `json:"status"`
	CurrentQuestionIndex int             `json:"currentQuestionIndex"`
	TotalQuestions       int             `json:"totalQuestions"`
	Question             *PublicQuestion `json:"question,omitempty"`
	Version              int64           `json:"version"`
}

// LeaderboardChanged is published after a scored answer moves the ordering.
type LeaderboardChanged struct {
	Leaderboard         Leaderboard       `json:"leaderboard"`
	AffectedParticipant *LeaderboardEntry `json:"affectedParticipant,omitempty"`
}

// Event is the envelope delivered to subscribers. Exactly one payload is set.
type Event struct {
	Type        EventType            `json:"type"`
	State       *SessionStateChanged `json:"state,omitempty"`
	Leaderboard *LeaderboardChanged  `json:"leaderboard,omitempty"`
}

// PublicQuestion is the participant-facing view of a question; the correct option is withheld.
type PublicQuestion struct {
	ID          string   `json:"id"`
	Prompt      string   `json:"prompt"`
	Options     []Option `json:"options"`
	Points      int      `json:"points"`
	TimeLimitMs int64    `json:"timeLimitMs,omitempty"`
}

// StateOf builds the state event for a session.
func StateOf(s Session) SessionStateChanged {
	evt := SessionStateChanged{
		SessionID:            s.ID,
		Status:               s.Status,
		CurrentQuestionIndex: s.CurrentQuestionIndex,
		TotalQuestions:       len(s.Questions),
		Version:              s.Version,
	}
	if s.Status == StatusLive || s.Status == StatusPaused {
		if q, ok := s.CurrentQuestion(); ok {
			evt.Question = &PublicQuestion{
				ID:          q.ID,
				Prompt:      q.Prompt,
				Options:     q.Options,
				Points:      q.PointValue(),
				TimeLimitMs: q.TimeLimitMs,
			}
		}
	}
	return evt
}
