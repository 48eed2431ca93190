package media

import "errors"

var (
	// ErrUnreadableSource means the source does not resolve to a
	// readable video container (missing file, corrupt container,
	// unsupported format).
	ErrUnreadableSource = errors.New("unreadable source")

	// ErrResampleFailed means ffmpeg could not down-mix/resample the
	// audio track to the recognizer's required format.
	ErrResampleFailed = errors.New("resample failed")
)
