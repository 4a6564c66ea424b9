package domain

import (
	"time"
)

type CallID string
type GroupID string
type UserID string
type CandidateID string

// CallStatus is the status stored on the shared call document.
type CallStatus string

const (
	CallOffering CallStatus = "offering"
	CallAnswered CallStatus = "answered"
	CallEnded    CallStatus = "ended"
)

// CallType distinguishes a regular voice call from a theatre call, whose
// primary purpose is a shared secondary stream.
type CallType string

const (
	CallRegular CallType = "regular"
	CallTheatre CallType = "theatre"
)

// SessionStatus is the local lifecycle state of one call attempt. It is
// observable state, never persisted.
type SessionStatus string

const (
	SessionIdle       SessionStatus = "idle"
	SessionCalling    SessionStatus = "calling"
	SessionIncoming   SessionStatus = "incoming"
	SessionConnecting SessionStatus = "connecting"
	SessionConnected  SessionStatus = "connected"
	SessionEnded      SessionStatus = "ended"
)

// EndReason makes the caller/participant teardown asymmetry explicit.
// OwnerTerminate deletes the call document for everyone; ParticipantLeave
// resets it to offering so the slot stays joinable.
type EndReason int

const (
	OwnerTerminate EndReason = iota
	ParticipantLeave
)

func (r EndReason) String() string {
	if r == ParticipantLeave {
		return "participant_leave"
	}
	return "owner_terminate"
}

// Description is a session description half of one offer/answer round.
type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Equal compares descriptions by content. Delivery order across independent
// writers is not trustworthy, so staleness is always decided by comparison.
func (d *Description) Equal(other *Description) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.Type == other.Type && d.SDP == other.SDP
}

// Call is one shared call document. Exactly one offer is authoritative at any
// instant; an answer is only valid against the offer present when it was
// produced.
type Call struct {
	ID            CallID       `json:"id"`
	GroupID       GroupID      `json:"groupId"`
	CallerID      UserID       `json:"callerId"`
	CalleeID      UserID       `json:"calleeId,omitempty"`
	Status        CallStatus   `json:"status"`
	Type          CallType     `json:"type"`
	Offer         *Description `json:"offer,omitempty"`
	Answer        *Description `json:"answer,omitempty"`
	ScreenSharing bool         `json:"screenSharing"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// Clone returns a deep copy so repository snapshots never alias caller state.
func (c *Call) Clone() *Call {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Offer != nil {
		offer := *c.Offer
		cp.Offer = &offer
	}
	if c.Answer != nil {
		answer := *c.Answer
		cp.Answer = &answer
	}
	return &cp
}

// CallPatch is a field-merge update for a call document. Nil pointer fields
// are left untouched; ClearAnswer is the delete-field sentinel used when a
// participant leaves and the slot is reset.
type CallPatch struct {
	Status        *CallStatus
	Offer         *Description
	Answer        *Description
	ClearAnswer   bool
	ScreenSharing *bool
}

// Apply merges the patch into a call in place.
func (p CallPatch) Apply(call *Call) {
	if p.Status != nil {
		call.Status = *p.Status
	}
	if p.Offer != nil {
		offer := *p.Offer
		call.Offer = &offer
	}
	if p.ClearAnswer {
		call.Answer = nil
	} else if p.Answer != nil {
		answer := *p.Answer
		call.Answer = &answer
	}
	if p.ScreenSharing != nil {
		call.ScreenSharing = *p.ScreenSharing
	}
}

// Candidate is one connectivity candidate contributed by either peer.
// Records are append-only and immutable once written; Origin identifies the
// writer so the local peer never re-applies its own candidates.
type Candidate struct {
	ID               CandidateID `json:"id"`
	CallID           CallID      `json:"callId"`
	Origin           UserID      `json:"origin"`
	Candidate        string      `json:"candidate"`
	SDPMid           *string     `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16     `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string     `json:"usernameFragment,omitempty"`
}
