package app

import (
	"sync"

	"live-quiz-service/internal/domain"
)

// Notifier fans out session state and leaderboard changes to subscribers of a session.
// Publishing never blocks: each subscription keeps only the latest pending event per
// class, so a slow consumer skips intermediate versions but always converges.
type Notifier struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscription delivers events for one session to one consumer.
type Subscription struct {
	SessionID     string
	ParticipantID string

	events chan domain.Event
	wake   chan struct{}
	done   chan struct{}
	once   sync.Once

	mu    sync.Mutex
	state *domain.SessionStateChanged
	board *domain.LeaderboardChanged
}

// Events returns the delivery channel. It is closed after Close.
func (s *Subscription) Events() <-chan domain.Event {
	return s.events
}

func (s *Subscription) offerState(evt domain.SessionStateChanged) {
	s.mu.Lock()
	s.state = &evt
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) offerLeaderboard(evt domain.LeaderboardChanged) {
	s.mu.Lock()
	s.board = &evt
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) take() (domain.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != nil {
		evt := domain.Event{Type: domain.EventSessionStateChanged, State: s.state}
		s.state = nil
		return evt, true
	}
	if s.board != nil {
		evt := domain.Event{Type: domain.EventLeaderboardChanged, Leaderboard: s.board}
		s.board = nil
		return evt, true
	}
	return domain.Event{}, false
}

func (s *Subscription) pump() {
	defer close(s.events)
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			evt, ok := s.take()
			if !ok {
				break
			}
			select {
			case s.events <- evt:
			case <-s.done:
				return
			}
		}
	}
}

// Subscribe registers a consumer and primes it with a full snapshot.
func (n *Notifier) Subscribe(sessionID, participantID string, state domain.SessionStateChanged, board domain.LeaderboardChanged) (*Subscription, func()) {
	sub := &Subscription{
		SessionID:     sessionID,
		ParticipantID: participantID,
		events:        make(chan domain.Event, 1),
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
		state:         &state,
		board:         &board,
	}

	n.mu.Lock()
	if n.subs[sessionID] == nil {
		n.subs[sessionID] = make(map[*Subscription]struct{})
	}
	n.subs[sessionID][sub] = struct{}{}
	n.mu.Unlock()

	go sub.pump()
	sub.signal()

	cancel := func() {
		sub.once.Do(func() {
			n.mu.Lock()
			delete(n.subs[sessionID], sub)
			if len(n.subs[sessionID]) == 0 {
				delete(n.subs, sessionID)
			}
			n.mu.Unlock()
			close(sub.done)
		})
	}
	return sub, cancel
}

// PublishState offers a state change to every subscriber of the session.
func (n *Notifier) PublishState(sessionID string, evt domain.SessionStateChanged) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for sub := range n.subs[sessionID] {
		sub.offerState(evt)
	}
}

// PublishLeaderboard offers a leaderboard change to every subscriber of the session.
func (n *Notifier) PublishLeaderboard(sessionID string, evt domain.LeaderboardChanged) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for sub := range n.subs[sessionID] {
		sub.offerLeaderboard(evt)
	}
}

// Subscribers reports how many consumers follow a session.
func (n *Notifier) Subscribers(sessionID string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs[sessionID])
}
