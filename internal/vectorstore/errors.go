package vectorstore

import (
	"errors"
	"fmt"
)

// Validation errors. None of them triggers the fallback transport.
var (
	ErrMissingTenant     = errors.New("tenant id is required")
	ErrInvalidTenant     = errors.New("invalid tenant id")
	ErrEmptyQuery        = errors.New("query text or vector is required")
	ErrEmptyText         = errors.New("document text is required")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrInvalidFilter     = errors.New("invalid filter")
	ErrInvalidLimit      = errors.New("invalid limit")
	ErrInvalidID         = errors.New("invalid document id")
	ErrInvalidMetadata   = errors.New("invalid metadata")
)

// ErrEmbeddingFailed indicates the embedder could not produce a vector.
var ErrEmbeddingFailed = errors.New("embedding failed")

// ErrClosed is returned by a Provider after Close.
var ErrClosed = errors.New("vector store provider closed")

// IsValidationError reports whether err is caused by bad caller input.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrMissingTenant, ErrInvalidTenant, ErrEmptyQuery, ErrEmptyText,
		ErrDimensionMismatch, ErrInvalidFilter, ErrInvalidLimit, ErrInvalidID,
		ErrInvalidMetadata,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ConfigurationError reports a missing or unusable setting. It is raised
// before any transport is contacted.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("vector store not configured: %s is missing", e.Field)
	}
	return fmt.Sprintf("vector store not configured: %s: %s", e.Field, e.Reason)
}

// TransportError reports a failure talking to the vector store: network
// errors, timeouts, non-2xx responses and malformed bodies.
type TransportError struct {
	Transport  string
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Transport, e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// NotFoundError reports that a record id does not exist in a namespace.
type NotFoundError struct {
	ID        string
	Namespace string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("record %q not found in namespace %q", e.ID, e.Namespace)
}

// IsConfigurationError reports whether err wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsTransportError reports whether err wraps a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
