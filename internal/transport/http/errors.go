package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"live-quiz-service/internal/domain"
)

type errorPayload struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable,omitempty"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{domain.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
	{domain.ErrQuestionSetNotFound, http.StatusNotFound, "question_set_not_found"},
	{domain.ErrResultsNotFound, http.StatusNotFound, "results_not_found"},
	{domain.ErrEmptyQuestionSet, http.StatusBadRequest, "empty_question_set"},
	{domain.ErrInvalidQuestionSet, http.StatusBadRequest, "invalid_question_set"},
	{domain.ErrInvalidParticipant, http.StatusBadRequest, "invalid_participant"},
	{domain.ErrUnknownOption, http.StatusBadRequest, "unknown_option"},
	{domain.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{domain.ErrRegistrationClosed, http.StatusConflict, "registration_closed"},
	{domain.ErrRosterFull, http.StatusConflict, "roster_full"},
	{domain.ErrSessionNotAcceptingAnswers, http.StatusConflict, "session_not_accepting_answers"},
	{domain.ErrStaleQuestion, http.StatusConflict, "stale_question"},
	{domain.ErrNotRegistered, http.StatusForbidden, "not_registered"},
	{domain.ErrConcurrentModification, http.StatusServiceUnavailable, "concurrent_modification"},
	{domain.ErrStoreUnavailable, http.StatusServiceUnavailable, "store_unavailable"},
}

// describeError maps a service error onto an HTTP status and a stable machine code.
func describeError(err error) (int, errorPayload) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, errorPayload{Error: err.Error(), Code: m.code, Retryable: domain.IsRetryable(err)}
		}
	}
	return http.StatusInternalServerError, errorPayload{Error: "internal error", Code: "internal"}
}

func writeError(w http.ResponseWriter, err error) {
	status, payload := describeError(err)
	if status == http.StatusInternalServerError {
		log.Printf("request failed: %v", err)
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}
