package repository

import "errors"

var (
	// ErrEmailNotFound means the email does not exist or is soft deleted.
	ErrEmailNotFound = errors.New("email not found")
	// ErrRecordNotFound means no detection record exists for the email.
	ErrRecordNotFound = errors.New("detection record not found")
	// ErrAlreadyInitialized means a detection record already exists for
	// the email. Initialization is one-shot.
	ErrAlreadyInitialized = errors.New("detection already initialized")
	// ErrNotAllSignalsDone means fusion was requested before every
	// non-skipped signal finished.
	ErrNotAllSignalsDone = errors.New("not all signals done")
)
