package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

func newTestServer(t *testing.T, secret string) (*httptest.Server, *app.QuizService, *Authenticator) {
	t.Helper()
	store := memory.NewSessionStore()
	sets := memory.NewQuestionSetRepository(memory.NewStaticQuestionSetLoader(sampleSets()), time.Minute)
	service := app.NewQuizService(store, sets, app.WithResultArchive(memory.NewResultArchive()))
	auth := NewAuthenticator(secret)
	router := NewRouter(NewHandler(service), NewWSHandler(service, auth, DefaultWSTimeouts()), auth)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, service, auth
}

type caller struct {
	t       *testing.T
	base    string
	headers map[string]string
}

func hostCaller(t *testing.T, base string) caller {
	return caller{t: t, base: base, headers: map[string]string{"X-Role": RoleHost, "X-Participant-Id": "host"}}
}

func participantCaller(t *testing.T, base, id, name string) caller {
	return caller{t: t, base: base, headers: map[string]string{"X-Participant-Id": id, "X-Display-Name": name}}
}

func (c caller) do(method, path string, body any, out any) int {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			c.t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func createLiveSession(t *testing.T, host caller, players ...caller) domain.Session {
	t.Helper()
	var session domain.Session
	if code := host.do(http.MethodPost, "/v1/sessions", map[string]any{"questionSetId": "set-1"}, &session); code != http.StatusCreated {
		t.Fatalf("create session: status %d", code)
	}
	if code := host.do(http.MethodPost, "/v1/sessions/"+session.ID+"/publish", nil, nil); code != http.StatusOK {
		t.Fatalf("publish: status %d", code)
	}
	for _, p := range players {
		if code := p.do(http.MethodPost, "/v1/sessions/"+session.ID+"/participants", nil, nil); code != http.StatusOK {
			t.Fatalf("register: status %d", code)
		}
	}
	if code := host.do(http.MethodPost, "/v1/sessions/"+session.ID+"/start", nil, &session); code != http.StatusOK {
		t.Fatalf("start: status %d", code)
	}
	return session
}

func TestRESTAnswerFlow(t *testing.T) {
	server, _, _ := newTestServer(t, "")
	host := hostCaller(t, server.URL)
	alice := participantCaller(t, server.URL, "u1", "Alice")
	bob := participantCaller(t, server.URL, "u2", "Bob")
	session := createLiveSession(t, host, alice, bob)

	var answer domain.ScoredAnswer
	code := bob.do(http.MethodPost, "/v1/sessions/"+session.ID+"/answers", domain.AnswerSubmission{QuestionID: "q1", SelectedOption: "o2"}, &answer)
	if code != http.StatusOK {
		t.Fatalf("submit: status %d", code)
	}
	if !answer.IsCorrect || answer.PointsAwarded != 1 || answer.TotalScore != 1 {
		t.Fatalf("unexpected answer %+v", answer)
	}

	var lb leaderboardResponse
	if code := alice.do(http.MethodGet, "/v1/sessions/"+session.ID+"/leaderboard", nil, &lb); code != http.StatusOK {
		t.Fatalf("leaderboard: status %d", code)
	}
	if len(lb.Entries) != 2 || lb.Entries[0].ParticipantID != "u2" {
		t.Fatalf("expected bob leading, got %+v", lb.Entries)
	}
	if lb.Self == nil || lb.Self.ParticipantID != "u1" || lb.Self.Rank != 2 {
		t.Fatalf("expected own entry at rank 2, got %+v", lb.Self)
	}

	var rank domain.LeaderboardEntry
	if code := alice.do(http.MethodGet, "/v1/sessions/"+session.ID+"/participants/u2/rank", nil, &rank); code != http.StatusOK || rank.Rank != 1 {
		t.Fatalf("rank: status %d entry %+v", code, rank)
	}

	if code := alice.do(http.MethodGet, "/v1/sessions/"+session.ID+"/participants/u2/answers", nil, nil); code != http.StatusForbidden {
		t.Fatalf("expected 403 reading another participant's answers, got %d", code)
	}

	if code := host.do(http.MethodPost, "/v1/sessions/"+session.ID+"/stop", nil, nil); code != http.StatusOK {
		t.Fatalf("stop: status %d", code)
	}
	var result domain.SessionResult
	if code := alice.do(http.MethodGet, "/v1/sessions/"+session.ID+"/results", nil, &result); code != http.StatusOK {
		t.Fatalf("results: status %d", code)
	}
	if len(result.Entries) != 2 || result.Entries[0].ParticipantID != "u2" {
		t.Fatalf("unexpected results %+v", result)
	}
}

func TestRESTErrorMapping(t *testing.T) {
	server, _, _ := newTestServer(t, "")
	host := hostCaller(t, server.URL)
	alice := participantCaller(t, server.URL, "u1", "Alice")
	stranger := participantCaller(t, server.URL, "u9", "Mallory")
	session := createLiveSession(t, host, alice)
	answers := "/v1/sessions/" + session.ID + "/answers"

	var e errorPayload
	if code := stranger.do(http.MethodPost, answers, domain.AnswerSubmission{QuestionID: "q1", SelectedOption: "o2"}, &e); code != http.StatusForbidden || e.Code != "not_registered" {
		t.Fatalf("expected 403 not_registered, got %d %+v", code, e)
	}
	if code := alice.do(http.MethodPost, answers, domain.AnswerSubmission{QuestionID: "q2", SelectedOption: "o2"}, &e); code != http.StatusConflict || e.Code != "stale_question" {
		t.Fatalf("expected 409 stale_question, got %d %+v", code, e)
	}
	if code := host.do(http.MethodPost, "/v1/sessions/"+session.ID+"/publish", nil, &e); code != http.StatusConflict || e.Code != "invalid_transition" {
		t.Fatalf("expected 409 invalid_transition, got %d %+v", code, e)
	}
	if code := host.do(http.MethodPost, "/v1/sessions/"+session.ID+"/pause", nil, nil); code != http.StatusOK {
		t.Fatalf("pause: status %d", code)
	}
	if code := alice.do(http.MethodPost, answers, domain.AnswerSubmission{QuestionID: "q1", SelectedOption: "o2"}, &e); code != http.StatusConflict || e.Code != "session_not_accepting_answers" {
		t.Fatalf("expected 409 session_not_accepting_answers, got %d %+v", code, e)
	}
	if code := alice.do(http.MethodPost, "/v1/sessions/"+session.ID+"/resume", nil, &e); code != http.StatusForbidden {
		t.Fatalf("expected participants to be refused lifecycle control, got %d", code)
	}
	if code := alice.do(http.MethodGet, "/v1/sessions/missing", nil, &e); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	if code := host.do(http.MethodPost, "/v1/sessions/"+session.ID+"/rewind", nil, &e); code != http.StatusNotFound || e.Code != "unknown_event" {
		t.Fatalf("expected 404 unknown_event, got %d %+v", code, e)
	}
}

func TestGetSessionHidesAnswersFromParticipants(t *testing.T) {
	server, _, _ := newTestServer(t, "")
	host := hostCaller(t, server.URL)
	alice := participantCaller(t, server.URL, "u1", "Alice")
	session := createLiveSession(t, host, alice)

	var raw map[string]any
	if code := alice.do(http.MethodGet, "/v1/sessions/"+session.ID, nil, &raw); code != http.StatusOK {
		t.Fatalf("get session: status %d", code)
	}
	if _, ok := raw["questions"]; ok {
		t.Fatalf("participant view leaked the question list: %v", raw)
	}
	question, ok := raw["question"].(map[string]any)
	if !ok {
		t.Fatalf("expected active question in state, got %v", raw)
	}
	if _, ok := question["correctOption"]; ok {
		t.Fatalf("participant view leaked the correct option: %v", question)
	}
}

func TestDescribeErrorMarksRetryable(t *testing.T) {
	status, payload := describeError(domain.ErrConcurrentModification)
	if status != http.StatusServiceUnavailable || !payload.Retryable {
		t.Fatalf("expected retryable 503, got %d %+v", status, payload)
	}
	status, payload = describeError(domain.ErrRosterFull)
	if status != http.StatusConflict || payload.Retryable {
		t.Fatalf("expected non-retryable 409, got %d %+v", status, payload)
	}
}

func sampleSets() map[string]domain.QuestionSet {
	return map[string]domain.QuestionSet{
		"set-1": {
			ID:    "set-1",
			Title: "Arithmetic",
			Questions: []domain.Question{
				{
					ID:     "q1",
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3"},
						{ID: "o2", Text: "4"},
						{ID: "o3", Text: "5"},
					},
					CorrectOption: "o2",
					Points:        1,
				},
				{
					ID:     "q2",
					Prompt: "What is 3 + 3?",
					Options: []domain.Option{
						{ID: "o1", Text: "6"},
						{ID: "o2", Text: "7"},
					},
					CorrectOption: "o1",
					Points:        2,
				},
			},
		},
	}
}
