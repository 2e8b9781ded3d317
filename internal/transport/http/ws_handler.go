package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const maxMessageSize = 4096

// WSTimeouts controls the heartbeat. Connections that miss a pong within PongWait are dropped.
type WSTimeouts struct {
	PongWait  time.Duration
	WriteWait time.Duration
}

func DefaultWSTimeouts() WSTimeouts {
	return WSTimeouts{PongWait: 60 * time.Second, WriteWait: 10 * time.Second}
}

type WSHandler struct {
	service  *app.QuizService
	auth     *Authenticator
	timeouts WSTimeouts
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.QuizService, auth *Authenticator, timeouts WSTimeouts) *WSHandler {
	if timeouts.PongWait <= 0 {
		timeouts.PongWait = DefaultWSTimeouts().PongWait
	}
	if timeouts.WriteWait <= 0 {
		timeouts.WriteWait = DefaultWSTimeouts().WriteWait
	}
	return &WSHandler{
		service:  service,
		auth:     auth,
		timeouts: timeouts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type leaderboardPayload struct {
	Leaderboard domain.Leaderboard       `json:"leaderboard"`
	Affected    *domain.LeaderboardEntry `json:"affected,omitempty"`
	Self        *domain.LeaderboardEntry `json:"self,omitempty"`
}

// ServeWS upgrades HTTP requests to websockets and wires them into the quiz use cases.
// Participants are registered (idempotently) on connect; hosts only observe.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	id, err := h.auth.Identify(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorPayload{Error: err.Error(), Code: "unauthorized"})
		return
	}
	participant := !id.Host
	if participant && (id.ParticipantID == "" || id.DisplayName == "") {
		writeJSON(w, http.StatusBadRequest, errorPayload{Error: "missing participant id or name", Code: "bad_request"})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	if participant {
		joined, err := h.service.Register(ctx, sessionID, id.ParticipantID, id.DisplayName)
		if err != nil {
			h.writeError(conn, err)
			return
		}
		// each socket holds one connection count; only the last one to close disconnects
		if _, err := h.service.SetPresence(ctx, sessionID, id.ParticipantID, true); err != nil {
			log.Printf("ws presence %s/%s: %v", sessionID, id.ParticipantID, err)
		} else {
			defer func() {
				if _, err := h.service.SetPresence(context.WithoutCancel(ctx), sessionID, id.ParticipantID, false); err != nil {
					log.Printf("ws presence %s/%s: %v", sessionID, id.ParticipantID, err)
				}
			}()
		}
		_ = conn.SetWriteDeadline(time.Now().Add(h.timeouts.WriteWait))
		if err := conn.WriteJSON(outboundMessage[domain.Participant]{Type: "joined", Payload: joined}); err != nil {
			return
		}
	}

	subscriber := ""
	if participant {
		subscriber = id.ParticipantID
	}
	events, cancel, err := h.service.Subscribe(ctx, sessionID, subscriber)
	if err != nil {
		h.writeError(conn, err)
		return
	}
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	// single writer: every frame, pings included, goes through this goroutine
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(h.timeouts.PongWait * 9 / 10)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-send:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(h.timeouts.WriteWait))
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(h.timeouts.WriteWait))
				if err := conn.WriteJSON(msg); err != nil {
					log.Printf("ws write error: %v", err)
					conn.Close()
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(h.timeouts.WriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	go func() {
		defer close(eventsDone)
		for {
			select {
			case evt, ok := <-events:
				if !ok {
					return
				}
				select {
				case send <- h.render(ctx, sessionID, subscriber, evt):
				case <-closeSignals:
					return
				case <-writerDone:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.timeouts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.timeouts.PongWait))
	})

	reply := func(msg outboundMessage[any]) bool {
		select {
		case send <- msg:
			return true
		case <-writerDone:
			return false
		}
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws read error: %v", err)
			}
			break
		}
		var out outboundMessage[any]
		switch {
		case inbound.Type == "answer" && participant:
			var submission domain.AnswerSubmission
			if err := json.Unmarshal(inbound.Payload, &submission); err != nil {
				out = outboundMessage[any]{Type: "error", Payload: errorPayload{Error: "invalid answer payload", Code: "bad_request"}}
				break
			}
			answer, err := h.service.SubmitAnswer(ctx, sessionID, id.ParticipantID, submission)
			if err != nil {
				_, payload := describeError(err)
				out = outboundMessage[any]{Type: "error", Payload: payload}
				break
			}
			out = outboundMessage[any]{Type: "answerResult", Payload: answer}
		default:
			out = outboundMessage[any]{Type: "error", Payload: errorPayload{Error: "unsupported message type", Code: "bad_request"}}
		}
		if !reply(out) {
			break
		}
	}

	close(closeSignals)
	<-eventsDone
	close(send)
	<-writerDone
}

func (h *WSHandler) render(ctx context.Context, sessionID, participantID string, evt domain.Event) outboundMessage[any] {
	switch evt.Type {
	case domain.EventSessionStateChanged:
		return outboundMessage[any]{Type: "state", Payload: evt.State}
	default:
		payload := leaderboardPayload{
			Leaderboard: evt.Leaderboard.Leaderboard,
			Affected:    evt.Leaderboard.AffectedParticipant,
		}
		if participantID != "" {
			if self, ok := h.service.Standing(ctx, sessionID, participantID); ok {
				payload.Self = &self
			}
		}
		return outboundMessage[any]{Type: "leaderboard", Payload: payload}
	}
}

func (h *WSHandler) writeError(conn *websocket.Conn, err error) {
	_, payload := describeError(err)
	_ = conn.SetWriteDeadline(time.Now().Add(h.timeouts.WriteWait))
	_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: payload})
}
