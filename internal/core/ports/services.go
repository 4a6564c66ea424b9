package ports

import (
	"context"

	"peercall/internal/core/domain"
	"peercall/pkg/observable"

	"github.com/pion/webrtc/v3"
)

// NegotiatorEvents are the callbacks a negotiator fires as the underlying
// connection progresses. All callbacks may fire from transport goroutines;
// the receiver is responsible for its own serialization.
type NegotiatorEvents struct {
	// OnLocalCandidate fires for each locally discovered connectivity
	// candidate, to be appended to the signaling channel.
	OnLocalCandidate func(cand *domain.Candidate)

	// OnRemotePrimary fires when the remote audio stream becomes available.
	OnRemotePrimary func(stream *RemoteStream)

	// OnRemoteShare fires when the remote video/share stream becomes
	// available.
	OnRemoteShare func(stream *RemoteStream)

	// OnNegotiationNeeded fires after every track attach or detach. The
	// transport's own negotiation-needed signal is unreliable, so the
	// negotiator raises this manually and exactly once per change.
	OnNegotiationNeeded func()

	// OnConnectionState fires on peer connection state transitions.
	OnConnectionState func(state webrtc.PeerConnectionState)

	// OnStreamHealth reports the observed fraction of lost packets for a
	// received stream kind, sourced from RTCP receiver reports.
	OnStreamHealth func(kind string, fractionLost float64)
}

// MediaRequest selects which local media to acquire on initialization.
type MediaRequest struct {
	Audio bool
	Video bool
}

// Negotiator owns one peer connection's lifecycle for one call attempt:
// descriptions, candidates, and track attachment. Instances are single-use;
// after Close a fresh negotiator is required.
type Negotiator interface {
	// Initialize acquires local media and constructs the underlying
	// connection with the configured NAT-traversal assist servers.
	Initialize(ctx context.Context, req MediaRequest) error

	// CreateOffer produces a local session description and begins candidate
	// gathering. Valid only when no local offer is outstanding.
	CreateOffer(ctx context.Context) (*domain.Description, error)

	// ApplyRemoteOffer applies a remote offer and produces the matching
	// answer. Valid only when the connection has no pending local offer.
	ApplyRemoteOffer(ctx context.Context, offer *domain.Description) (*domain.Description, error)

	// ApplyRemoteAnswer applies a remote answer. A no-op if the connection
	// already has a remote description with identical content.
	ApplyRemoteAnswer(ctx context.Context, answer *domain.Description) error

	// ApplyRemoteCandidate applies one remote candidate. Candidates arriving
	// before a remote description are buffered and applied once it is set.
	// Applying the same candidate twice is harmless.
	ApplyRemoteCandidate(cand *domain.Candidate) error

	// AddTrack attaches a local track after the connection exists, firing
	// OnNegotiationNeeded.
	AddTrack(track webrtc.TrackLocal) error

	// RemoveTrack detaches a previously added local track, firing
	// OnNegotiationNeeded.
	RemoveTrack(track webrtc.TrackLocal) error

	// Stable reports whether the connection is not mid-handshake.
	Stable() bool

	// AppliedRemoteSDP returns the SDP of the last applied remote
	// description, used to detect duplicates against delivery replays.
	AppliedRemoteSDP() string

	// Close releases local tracks and the connection. Idempotent.
	Close() error
}

// NegotiatorFactory creates one negotiator per call attempt.
type NegotiatorFactory interface {
	New(events NegotiatorEvents) Negotiator
}

// CallService is the session facade: commands plus latest-value-replay
// observables for everything the UI shell renders. All commands are safe to
// call in a terminal or neutral state (no-op rather than error).
type CallService interface {
	// Listen starts incoming-call discovery for a group. Records originated
	// by userID are never surfaced.
	Listen(ctx context.Context, groupID domain.GroupID, userID domain.UserID) error

	// StartCall creates a new call document and begins negotiation as the
	// caller. Valid only from idle.
	StartCall(ctx context.Context, groupID domain.GroupID, callerID domain.UserID, callType domain.CallType) error

	// AnswerCall answers an offered call as the callee. Valid from idle or
	// incoming.
	AnswerCall(ctx context.Context, call *domain.Call) error

	// RejectIncoming clears the pending incoming-call notification. No store
	// write; the record stays joinable.
	RejectIncoming()

	// EndCall ends the active call. The record is deleted when the requester
	// owns it, otherwise reset so the slot stays joinable.
	EndCall(ctx context.Context, requester domain.UserID) error

	// StartShare acquires display capture and layers it onto the connected
	// call via renegotiation.
	StartShare(ctx context.Context) error

	// StopShare removes the share tracks and renegotiates.
	StopShare(ctx context.Context) error

	// Close tears down any active attempt and the discovery subscription.
	Close() error

	Status() *observable.Value[domain.SessionStatus]
	ActiveCall() *observable.Value[*domain.Call]
	IncomingCall() *observable.Value[*domain.Call]
	RemotePrimary() *observable.Value[*RemoteStream]
	RemoteShare() *observable.Value[*RemoteStream]
	Sharing() *observable.Value[bool]
}
