package speech

import "errors"

var (
	// ErrUnsupportedLanguage means the language tag is not accepted by
	// the backend. Raised before any network call.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrTimeout means the overall transcription deadline passed. No
	// partial result is returned.
	ErrTimeout = errors.New("transcription timeout")

	// ErrBackend is a non-transient backend failure (auth, quota,
	// malformed audio). Not retried.
	ErrBackend = errors.New("transcription backend error")
)

// transientError marks a failure worth retrying (rate limit, 5xx).
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// IsTransient reports whether err is a retryable backend failure. It is
// the retry policy predicate for this client.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
