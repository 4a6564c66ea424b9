package ports

import (
	"context"

	"peercall/internal/core/domain"
)

// CancelFunc stops a subscription. Safe to call more than once.
type CancelFunc func()

// CallRepository is the signaling channel: a thin adapter over the shared
// document store exposing call and candidate documents with change
// notifications.
//
// Delivery guarantees assumed from the store: at least once, ordered per
// document for a single writer, no cross-writer ordering. Consumers must use
// content comparison, not delivery order, to detect staleness.
type CallRepository interface {
	// CreateCall writes a new call document and returns the store-issued id.
	// Success means "visible to all subscribers eventually", not immediately.
	CreateCall(ctx context.Context, call *domain.Call) (domain.CallID, error)

	// GetCall reads one call document.
	GetCall(ctx context.Context, id domain.CallID) (*domain.Call, error)

	// UpdateCall merges patch fields into the document. Unset fields are
	// untouched; CallPatch.ClearAnswer removes the answer field.
	UpdateCall(ctx context.Context, id domain.CallID, patch domain.CallPatch) error

	// DeleteCall removes the document. Deleting a non-existent id is not an
	// error.
	DeleteCall(ctx context.Context, id domain.CallID) error

	// AddCandidate appends one immutable candidate record to a call.
	AddCandidate(ctx context.Context, callID domain.CallID, cand *domain.Candidate) error

	// WatchCall delivers every committed state of the document, including the
	// state at subscription time. A deleted document is delivered as nil.
	WatchCall(ctx context.Context, id domain.CallID, onChange func(*domain.Call)) (CancelFunc, error)

	// WatchCandidates delivers each candidate record once per subscriber
	// lifetime in arrival order, starting with records already present.
	// Re-subscription may redeliver; candidate application must be idempotent.
	WatchCandidates(ctx context.Context, callID domain.CallID, onAdded func(*domain.Candidate)) (CancelFunc, error)

	// WatchCalls delivers every call document added to the collection,
	// starting with documents already present. Used for incoming-call
	// discovery.
	WatchCalls(ctx context.Context, onAdded func(*domain.Call)) (CancelFunc, error)
}
