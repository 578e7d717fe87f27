package auth

import "errors"

var (
	ErrNotFound     = errors.New("auth: not found")
	ErrInvalidInput = errors.New("auth: invalid input")
	ErrConflict     = errors.New("auth: already exists")

	// ErrInvalidCredentials covers absent users, password-less external
	// accounts and hash mismatches alike; callers must not distinguish.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrDuplicateIdentity means the email is already registered.
	ErrDuplicateIdentity = errors.New("auth: email already exists")

	// ErrInvalidToken indicates a token failed signature or claim validation.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrInvalidPendingToken indicates a token presented to an MFA-completion
	// endpoint is absent, malformed or lacks the pending marker.
	ErrInvalidPendingToken = errors.New("auth: invalid pending token")

	// ErrNoMFASecret means MFA verification was attempted before enrollment.
	ErrNoMFASecret = errors.New("auth: mfa secret not set")

	// ErrMFACodeRejected means the presented code matched no step in the
	// accepted window.
	ErrMFACodeRejected = errors.New("auth: mfa code rejected")

	// ErrDenied is the authorization failure; it carries no detail about
	// which grants exist.
	ErrDenied = errors.New("auth: denied")
)
