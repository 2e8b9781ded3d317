package http

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter wires REST and websocket endpoints.
func NewRouter(h *Handler, ws *WSHandler, auth *Authenticator) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()

	// websocket authenticates itself (token query param)
	v1.HandleFunc("/ws/sessions/{id}", ws.ServeWS).Methods(http.MethodGet)

	api := v1.NewRoute().Subrouter()
	api.Use(auth.RequireIdentity)
	api.HandleFunc("/sessions/{id}", h.GetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/participants", h.Register).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/answers", h.SubmitAnswer).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/leaderboard", h.Leaderboard).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/participants/{pid}/rank", h.Rank).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/participants/{pid}/answers", h.Answers).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/results", h.Results).Methods(http.MethodGet)

	host := api.NewRoute().Subrouter()
	host.Use(RequireHost)
	host.HandleFunc("/sessions", h.CreateSession).Methods(http.MethodPost)
	host.HandleFunc("/sessions/{id}/participants", h.Roster).Methods(http.MethodGet)
	host.HandleFunc("/sessions/{id}/{event}", h.Transition).Methods(http.MethodPost)

	return r
}
