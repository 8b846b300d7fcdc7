package service

import (
	"errors"
	"strings"
)

// Validation problem codes reported by document creation
const (
	CodeSigneeNotIncluded       = "SigneeNotIncluded"
	CodePartialPositions        = "PartialPositions"
	CodeNonConsecutivePositions = "NonConsecutivePositions"
	CodeNoPendingSignee         = "NoPendingSignee"
	CodeDuplicateSignee         = "DuplicateSignee"
	CodeUnknownSignee           = "UnknownSignee"
	CodeNameRequired            = "NameRequired"
	CodeFileRequired            = "FileRequired"
)

var (
	// ErrNotFound is returned when a document or signing token does not exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadySigned is returned for a sign attempt on a signed entry. Nothing is changed.
	ErrAlreadySigned = errors.New("document already signed by this signee")
	// ErrMissingAttachment means the ledger has no signed file at position-1 of
	// the next entry. The position invariant was broken somewhere upstream.
	ErrMissingAttachment = errors.New("couldn't find attachment")
	// ErrDispatchFailure matches every *DispatchError
	ErrDispatchFailure = errors.New("notification dispatch failed")
	// ErrNothingToSend is returned when a reminder is requested for a completed document
	ErrNothingToSend = errors.New("document has no pending signee")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// ValidationProblem is one violated creation rule
type ValidationProblem struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationError carries every rule violated by a document submission
type ValidationError struct {
	Problems []ValidationProblem
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		msgs = append(msgs, p.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Has reports whether a problem with code was collected
func (e *ValidationError) Has(code string) bool {
	for _, p := range e.Problems {
		if p.Code == code {
			return true
		}
	}
	return false
}

// DispatchError wraps a sender failure. The state change that preceded the
// dispatch is already persisted when this is returned.
type DispatchError struct {
	DocumentID string
	Err        error
}

func (e *DispatchError) Error() string {
	return "notification dispatch failed for document " + e.DocumentID + ": " + e.Err.Error()
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

func (e *DispatchError) Is(target error) bool {
	return target == ErrDispatchFailure
}
