package domain

import (
	"fmt"
	"time"
)

// LifecycleEvent is a host (or automatic) action applied to a session.
type LifecycleEvent string

const (
	EventPublish LifecycleEvent = "publish"
	EventStart   LifecycleEvent = "start"
	EventPause   LifecycleEvent = "pause"
	EventResume  LifecycleEvent = "resume"
	EventStop    LifecycleEvent = "stop"
	EventCancel  LifecycleEvent = "cancel"
	EventAdvance LifecycleEvent = "advance"
	EventRetreat LifecycleEvent = "retreat"
)

// ParseLifecycleEvent maps a transport verb onto an event.
func ParseLifecycleEvent(raw string) (LifecycleEvent, bool) {
	switch evt := LifecycleEvent(raw); evt {
	case EventPublish, EventStart, EventPause, EventResume, EventStop, EventCancel, EventAdvance, EventRetreat:
		return evt, true
	}
	return "", false
}

var transitions = map[LifecycleEvent]map[SessionStatus]SessionStatus{
	EventPublish: {StatusDraft: StatusPublished},
	EventStart:   {StatusPublished: StatusLive},
	EventPause:   {StatusLive: StatusPaused},
	EventResume:  {StatusPaused: StatusLive},
	EventStop:    {StatusLive: StatusCompleted, StatusPaused: StatusCompleted},
	EventCancel: {
		StatusDraft:     StatusCancelled,
		StatusPublished: StatusCancelled,
		StatusLive:      StatusCancelled,
		StatusPaused:    StatusCancelled,
	},
	EventAdvance: {StatusLive: StatusLive},
	EventRetreat: {StatusLive: StatusLive},
}

// Apply returns the session after evt, leaving s untouched.
// The returned session keeps s.Version; persisting it bumps the version.
func (s Session) Apply(evt LifecycleEvent, now time.Time) (Session, error) {
	next, ok := transitions[evt][s.Status]
	if !ok {
		return s, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, evt, s.Status)
	}

	out := s
	out.Status = next
	switch evt {
	case EventPublish:
		if len(s.Questions) == 0 {
			return s, ErrEmptyQuestionSet
		}
	case EventStart:
		started := now
		out.StartedAt = &started
		out.CurrentQuestionIndex = 0
	case EventStop:
		ended := now
		out.EndedAt = &ended
	case EventCancel:
		if s.StartedAt != nil {
			ended := now
			out.EndedAt = &ended
		}
	case EventAdvance:
		if out.CurrentQuestionIndex < len(s.Questions)-1 {
			out.CurrentQuestionIndex++
		}
	case EventRetreat:
		if out.CurrentQuestionIndex > 0 {
			out.CurrentQuestionIndex--
		}
	}
	return out, nil
}

// Changed reports whether applying an event produced a different observable state.
func (s Session) Changed(prev Session) bool {
	return s.Status != prev.Status || s.CurrentQuestionIndex != prev.CurrentQuestionIndex
}
