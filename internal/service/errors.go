package service

import (
	"errors"
	"fmt"

	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/store"
)

var (
	// ErrInvalidInput is returned for missing or malformed request fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrAuthenticationRejected is the single error callers see for any
	// rejected credential. The precise reason is only logged.
	ErrAuthenticationRejected = errors.New("authentication rejected")
	// ErrInvalidCredentials is the login flavour of ErrAuthenticationRejected
	// and matches it under errors.Is.
	ErrInvalidCredentials = fmt.Errorf("invalid credentials: %w", ErrAuthenticationRejected)
	// ErrForbidden is returned when the caller's role does not allow the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrDuplicateEmail is returned by the reject policy when a tenant is
	// already registered under the email.
	ErrDuplicateEmail = store.ErrDuplicateEmail
	// ErrNotFound is returned when the addressed tenant does not exist.
	ErrNotFound = store.ErrNotFound
)
