package domain

import (
	"errors"
	"fmt"
)

var (
	ErrCallNotFound     = errors.New("call not found")
	ErrInvalidCallState = errors.New("invalid call state for operation")
	ErrPermissionDenied = errors.New("media permission denied")
	ErrNoDevice         = errors.New("no media device available")
	ErrGlareUnsupported = errors.New("simultaneous renegotiation by both sides is not supported")
)

// MediaAcquisitionError means a local device or permission was unavailable.
// Fatal to the call attempt, never retried.
type MediaAcquisitionError struct {
	Err error
}

func (e *MediaAcquisitionError) Error() string {
	return fmt.Sprintf("media acquisition failed: %v", e.Err)
}

func (e *MediaAcquisitionError) Unwrap() error { return e.Err }

// StoreWriteError means a document store write could not be committed. The
// call attempt fails locally; a partially written record is left for manual
// cleanup.
type StoreWriteError struct {
	Op  string
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write %s failed: %v", e.Op, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// StoreReadError means a document store read or subscription setup failed.
type StoreReadError struct {
	Op  string
	Err error
}

func (e *StoreReadError) Error() string {
	return fmt.Sprintf("store read %s failed: %v", e.Op, e.Err)
}

func (e *StoreReadError) Unwrap() error { return e.Err }

// NegotiationError means a description or candidate was rejected by the
// underlying transport. Fatal to the call attempt.
type NegotiationError struct {
	Op  string
	Err error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation %s failed: %v", e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// IsFatalToCall reports whether an error must force the call attempt to end.
func IsFatalToCall(err error) bool {
	var media *MediaAcquisitionError
	var neg *NegotiationError
	return errors.As(err, &media) || errors.As(err, &neg)
}
