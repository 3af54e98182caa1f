package models

import "errors"

// Application-wide standard errors
var (
	// Common Resource/DB Errors
	ErrNotFound      = errors.New("resource not found")
	ErrStoryNotFound = errors.New("story not found")
	ErrUserNotFound  = errors.New("user not found")

	// Credit Ledger Errors
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrLedgerUnavailable   = errors.New("credit ledger unavailable")

	// Pipeline Errors
	ErrGenerationInProgress = errors.New("generation is already in progress for this story")
	ErrRunAlreadyStarted    = errors.New("pipeline run was already triggered")

	// Auth Errors
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrTokenInvalid   = errors.New("token is invalid")
	ErrTokenExpired   = errors.New("token has expired")
	ErrTokenMalformed = errors.New("token is malformed")

	// General Request/Server Errors
	ErrInternalServer = errors.New("internal server error")
	ErrBadRequest     = errors.New("bad request")
	ErrInvalidInput   = errors.New("invalid input data")
)
