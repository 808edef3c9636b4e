package auth

import "errors"

var (
	// ErrInvalidCredentials means the token endpoint rejected the
	// email/password pair. Surfaced to the caller so the host can prompt
	// for re-entry.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrLoginLocked means the auth attempt budget is exhausted. No further
	// network calls are made until the session is reset via Logout.
	ErrLoginLocked = errors.New("login retry budget exhausted")

	// ErrBotChallenge means the token endpoint answered 403 and the
	// browser-fingerprint fallback did not get past it either.
	ErrBotChallenge = errors.New("token endpoint bot challenge not passed")

	// ErrNotAuthenticated means an operation that requires a valid session
	// ran before any successful login.
	ErrNotAuthenticated = errors.New("not authenticated")
)
