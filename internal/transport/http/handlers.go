package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"

	"github.com/gorilla/mux"
)

// Handler serves the REST surface of the quiz service.
type Handler struct {
	service *app.QuizService
}

func NewHandler(service *app.QuizService) *Handler {
	return &Handler{service: service}
}

type createSessionRequest struct {
	QuestionSetID   string            `json:"questionSetId"`
	Title           string            `json:"title"`
	Questions       []domain.Question `json:"questions"`
	ScheduledAt     time.Time         `json:"scheduledAt"`
	MaxParticipants int               `json:"maxParticipants"`
	DurationSeconds int               `json:"durationSeconds"`
}

type registerRequest struct {
	DisplayName string `json:"displayName"`
}

type leaderboardResponse struct {
	domain.Leaderboard
	Self *domain.LeaderboardEntry `json:"self,omitempty"`
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Error: "invalid request body", Code: "bad_request"})
		return
	}

	var (
		session domain.Session
		err     error
	)
	if len(req.Questions) == 0 && req.QuestionSetID != "" {
		session, err = h.service.CreateSessionFromSet(r.Context(), req.QuestionSetID, req.ScheduledAt, req.MaxParticipants, req.DurationSeconds)
	} else {
		session, err = h.service.CreateSession(r.Context(), domain.NewSession{
			QuestionSet:     domain.QuestionSet{ID: req.QuestionSetID, Title: req.Title, Questions: req.Questions},
			ScheduledAt:     req.ScheduledAt,
			MaxParticipants: req.MaxParticipants,
			DurationSeconds: req.DurationSeconds,
		})
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// GetSession returns the full session to hosts and the public state to everyone else.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.GetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if IdentityFrom(r.Context()).Host {
		writeJSON(w, http.StatusOK, session)
		return
	}
	writeJSON(w, http.StatusOK, domain.StateOf(session))
}

func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	evt, ok := domain.ParseLifecycleEvent(vars["event"])
	if !ok {
		writeJSON(w, http.StatusNotFound, errorPayload{Error: "unknown lifecycle event " + vars["event"], Code: "unknown_event"})
		return
	}
	session, err := h.service.Transition(r.Context(), vars["id"], evt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	id := IdentityFrom(r.Context())
	var req registerRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorPayload{Error: "invalid request body", Code: "bad_request"})
			return
		}
	}
	name := id.DisplayName
	if name == "" {
		name = req.DisplayName
	}
	p, err := h.service.Register(r.Context(), mux.Vars(r)["id"], id.ParticipantID, name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) Roster(w http.ResponseWriter, r *http.Request) {
	roster, err := h.service.Roster(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roster)
}

func (h *Handler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var submission domain.AnswerSubmission
	if err := json.NewDecoder(r.Body).Decode(&submission); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Error: "invalid answer payload", Code: "bad_request"})
		return
	}
	answer, err := h.service.SubmitAnswer(r.Context(), mux.Vars(r)["id"], IdentityFrom(r.Context()).ParticipantID, submission)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	n := 0
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, errorPayload{Error: "n must be a non-negative integer", Code: "bad_request"})
			return
		}
		n = parsed
	}
	lb, err := h.service.GetLeaderboard(r.Context(), sessionID, n)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := leaderboardResponse{Leaderboard: lb}
	if pid := IdentityFrom(r.Context()).ParticipantID; pid != "" {
		if self, err := h.service.GetRank(r.Context(), sessionID, pid); err == nil {
			resp.Self = &self
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Rank(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	entry, err := h.service.GetRank(r.Context(), vars["id"], vars["pid"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Answers lists a participant's scored answers; participants may only read their own.
func (h *Handler) Answers(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := IdentityFrom(r.Context())
	if !id.Host && id.ParticipantID != vars["pid"] {
		writeJSON(w, http.StatusForbidden, errorPayload{Error: "cannot read another participant's answers", Code: "forbidden"})
		return
	}
	answers, err := h.service.Answers(r.Context(), vars["id"], vars["pid"])
	if err != nil {
		writeError(w, err)
		return
	}
	if answers == nil {
		answers = []domain.ScoredAnswer{}
	}
	writeJSON(w, http.StatusOK, answers)
}

func (h *Handler) Results(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Results(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
