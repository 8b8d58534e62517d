package archive

import "errors"

var (
	// ErrHashNotFound is returned when a publish command exits cleanly but prints no hash.
	ErrHashNotFound = errors.New("no content hash in publish output")
	// ErrAllAttemptsFailed is returned when every configured publish attempt failed.
	ErrAllAttemptsFailed = errors.New("all publish attempts failed")
	ErrEmptyImage        = errors.New("image is required")
)
