// Package utils holds small shared helpers.
package utils

import (
	"github.com/google/uuid"
)

// NewDocumentID issues a globally unique document id, mirroring the ids a
// managed document store would mint on creation.
func NewDocumentID() string {
	return uuid.NewString()
}

// NewCandidateID issues an id for one appended candidate record.
func NewCandidateID() string {
	return uuid.NewString()
}
