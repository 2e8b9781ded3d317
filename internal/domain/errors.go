package domain

import "errors"

var (
	// ErrSessionNotFound is returned when a live session id is unknown.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrQuestionSetNotFound indicates the question set could not be loaded.
	ErrQuestionSetNotFound = errors.New("question set not found")
	// ErrEmptyQuestionSet is returned when publishing a session without questions.
	ErrEmptyQuestionSet = errors.New("question set is empty")
	// ErrInvalidQuestionSet is returned when a question set cannot back a session.
	ErrInvalidQuestionSet = errors.New("invalid question set")
	// ErrInvalidTransition is returned when a lifecycle event is not allowed from the current status.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrRegistrationClosed is returned when joining a session that is not published or live.
	ErrRegistrationClosed = errors.New("session is not open for registration")
	// ErrInvalidParticipant is returned when a registration lacks an id or display name.
	ErrInvalidParticipant = errors.New("participant id and display name are required")
	// ErrRosterFull is returned when the session already holds maxParticipants.
	ErrRosterFull = errors.New("session roster is full")
	// ErrSessionNotAcceptingAnswers is returned when answering outside the live status.
	ErrSessionNotAcceptingAnswers = errors.New("session is not accepting answers")
	// ErrStaleQuestion is returned when the answer targets a question other than the active one.
	ErrStaleQuestion = errors.New("question is not the active question")
	// ErrNotRegistered is returned when an unknown or disconnected participant answers.
	ErrNotRegistered = errors.New("participant not registered in session")
	// ErrUnknownOption indicates the selected option does not belong to the question.
	ErrUnknownOption = errors.New("option not found")
	// ErrDuplicateSubmission signals that an answer for the participant and question already exists.
	ErrDuplicateSubmission = errors.New("answer already submitted")
	// ErrConcurrentModification is returned when an optimistic write lost against another writer.
	ErrConcurrentModification = errors.New("session was modified concurrently")
	// ErrStoreUnavailable wraps store failures that persisted through every retry.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrResultsNotFound is returned when a session has no archived results.
	ErrResultsNotFound = errors.New("session results not found")
)

// IsRetryable reports whether the caller may retry the whole operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrStoreUnavailable)
}

// IsDomainError reports whether err is one of the sentinel errors above.
// Domain errors are final and never retried at the store boundary.
func IsDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

var domainErrors = []error{
	ErrSessionNotFound,
	ErrQuestionSetNotFound,
	ErrEmptyQuestionSet,
	ErrInvalidQuestionSet,
	ErrInvalidTransition,
	ErrRegistrationClosed,
	ErrInvalidParticipant,
	ErrRosterFull,
	ErrSessionNotAcceptingAnswers,
	ErrStaleQuestion,
	ErrNotRegistered,
	ErrUnknownOption,
	ErrDuplicateSubmission,
	ErrConcurrentModification,
	ErrResultsNotFound,
}
