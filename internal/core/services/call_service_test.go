package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/internal/infrastructure/repositories/memory"
)

// fakeNegotiator produces deterministic descriptions so tests can assert the
// exact offer/answer content flowing through the shared store.
type fakeNegotiator struct {
	name    string
	events  ports.NegotiatorEvents
	initErr error

	mu               sync.Mutex
	initialized      bool
	closed           bool
	offerSeq         int
	offerOutstanding bool
	appliedRemote    string
	appliedCands     map[domain.CandidateID]int
	answerApplies    int
	tracks           []webrtc.TrackLocal
}

func (f *fakeNegotiator) Initialize(ctx context.Context, req ports.MediaRequest) error {
	if f.initErr != nil {
		return &domain.MediaAcquisitionError{Err: f.initErr}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initialized = true
	return nil
}

func (f *fakeNegotiator) CreateOffer(ctx context.Context) (*domain.Description, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offerOutstanding {
		return nil, &domain.NegotiationError{Op: "create_offer", Err: domain.ErrInvalidCallState}
	}
	f.offerSeq++
	f.offerOutstanding = true
	return &domain.Description{
		Type: "offer",
		SDP:  fmt.Sprintf("offer-%s-%d", f.name, f.offerSeq),
	}, nil
}

func (f *fakeNegotiator) ApplyRemoteOffer(ctx context.Context, offer *domain.Description) (*domain.Description, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offerOutstanding {
		return nil, &domain.NegotiationError{Op: "apply_offer", Err: domain.ErrGlareUnsupported}
	}
	f.appliedRemote = offer.SDP
	return &domain.Description{Type: "answer", SDP: "answer-to-" + offer.SDP}, nil
}

func (f *fakeNegotiator) ApplyRemoteAnswer(ctx context.Context, answer *domain.Description) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if answer.SDP == f.appliedRemote {
		return nil
	}
	f.appliedRemote = answer.SDP
	f.offerOutstanding = false
	f.answerApplies++
	return nil
}

func (f *fakeNegotiator) ApplyRemoteCandidate(cand *domain.Candidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appliedCands == nil {
		f.appliedCands = make(map[domain.CandidateID]int)
	}
	f.appliedCands[cand.ID]++
	return nil
}

func (f *fakeNegotiator) AddTrack(track webrtc.TrackLocal) error {
	f.mu.Lock()
	f.tracks = append(f.tracks, track)
	notify := f.events.OnNegotiationNeeded
	f.mu.Unlock()
	if notify != nil {
		notify()
	}
	return nil
}

func (f *fakeNegotiator) RemoveTrack(track webrtc.TrackLocal) error {
	f.mu.Lock()
	for i, tr := range f.tracks {
		if tr == track {
			f.tracks = append(f.tracks[:i], f.tracks[i+1:]...)
			break
		}
	}
	notify := f.events.OnNegotiationNeeded
	f.mu.Unlock()
	if notify != nil {
		notify()
	}
	return nil
}

func (f *fakeNegotiator) Stable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.offerOutstanding
}

func (f *fakeNegotiator) AppliedRemoteSDP() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appliedRemote
}

func (f *fakeNegotiator) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeNegotiator) answerApplyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.answerApplies
}

func (f *fakeNegotiator) candidateApplyCount(id domain.CandidateID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appliedCands[id]
}

func (f *fakeNegotiator) trackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tracks)
}

type fakeFactory struct {
	name    string
	initErr error

	mu   sync.Mutex
	negs []*fakeNegotiator
}

func (ff *fakeFactory) New(events ports.NegotiatorEvents) ports.Negotiator {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	neg := &fakeNegotiator{name: ff.name, events: events, initErr: ff.initErr}
	ff.negs = append(ff.negs, neg)
	return neg
}

func (ff *fakeFactory) last() *fakeNegotiator {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if len(ff.negs) == 0 {
		return nil
	}
	return ff.negs[len(ff.negs)-1]
}

type fakeMedia struct {
	displayErr error
}

func (m *fakeMedia) AcquireMicrophone(ctx context.Context) ([]webrtc.TrackLocal, error) {
	return nil, nil
}

func (m *fakeMedia) AcquireDisplayCapture(ctx context.Context) ([]webrtc.TrackLocal, error) {
	if m.displayErr != nil {
		return nil, m.displayErr
	}
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", "display",
	)
	if err != nil {
		return nil, err
	}
	return []webrtc.TrackLocal{track}, nil
}

type peer struct {
	svc     ports.CallService
	factory *fakeFactory
}

func newPeer(t *testing.T, store ports.CallRepository, name string) *peer {
	t.Helper()
	factory := &fakeFactory{name: name}
	svc := NewCallService(
		store, factory, &fakeMedia{}, NewMetricsService(),
		zaptest.NewLogger(t).Sugar(),
		CallServiceConfig{SetupTimeout: 2 * time.Second},
	)
	t.Cleanup(func() { _ = svc.Close() })
	return &peer{svc: svc, factory: factory}
}

func connectPair(t *testing.T, store ports.CallRepository) (caller, callee *peer, callID domain.CallID) {
	t.Helper()
	ctx := context.Background()

	caller = newPeer(t, store, "alice")
	callee = newPeer(t, store, "bob")
	require.NoError(t, caller.svc.Listen(ctx, "group-1", "alice"))
	require.NoError(t, callee.svc.Listen(ctx, "group-1", "bob"))

	require.NoError(t, caller.svc.StartCall(ctx, "group-1", "alice", domain.CallRegular))

	var incoming *domain.Call
	require.Eventually(t, func() bool {
		incoming = callee.svc.IncomingCall().Get()
		return incoming != nil
	}, time.Second, 5*time.Millisecond, "callee never saw the incoming call")

	require.NoError(t, callee.svc.AnswerCall(ctx, incoming))
	require.Eventually(t, func() bool {
		return caller.svc.Status().Get() == domain.SessionConnected
	}, time.Second, 5*time.Millisecond, "caller never reached connected")

	return caller, callee, incoming.ID
}

func TestCallServiceStartAndOwnerEnd(t *testing.T) {
	ctx := context.Background()
	store := memory.NewCallRepository()
	caller := newPeer(t, store, "alice")

	require.NoError(t, caller.svc.StartCall(ctx, "group-1", "alice", domain.CallRegular))
	assert.Equal(t, domain.SessionCalling, caller.svc.Status().Get())

	active := caller.svc.ActiveCall().Get()
	require.NotNil(t, active)
	record, err := store.GetCall(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallOffering, record.Status)
	assert.Equal(t, "offer-alice-1", record.Offer.SDP)

	require.NoError(t, caller.svc.EndCall(ctx, "alice"))
	_, err = store.GetCall(ctx, active.ID)
	assert.ErrorIs(t, err, domain.ErrCallNotFound)
	assert.Equal(t, domain.SessionIdle, caller.svc.Status().Get())
	assert.Nil(t, caller.svc.ActiveCall().Get())
}

func TestCallServiceAnswerFlow(t *testing.T) {
	ctx := context.Background()
	store := memory.NewCallRepository()
	caller, callee, callID := connectPair(t, store)

	record, err := store.GetCall(ctx, callID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallAnswered, record.Status)
	assert.Equal(t, "answer-to-offer-alice-1", record.Answer.SDP)

	assert.Equal(t, "answer-to-offer-alice-1", caller.factory.last().AppliedRemoteSDP())
	assert.Equal(t, "offer-alice-1", callee.factory.last().AppliedRemoteSDP())
	assert.Equal(t, domain.SessionConnecting, callee.svc.Status().Get())
}

func TestCallServiceStaleAnswerIgnored(t *testing.T) {
	ctx := context.Background()
	store := memory.NewCallRepository()
	caller, _, callID := connectPair(t, store)

	neg := caller.factory.last()
	require.Equal(t, 1, neg.answerApplyCount())

	// Redeliver the same answer content, as an at-least-once store may.
	answer := &domain.Description{Type: "answer", SDP: "answer-to-offer-alice-1"}
	require.NoError(t, store.UpdateCall(ctx, callID, domain.CallPatch{Answer: answer}))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, neg.answerApplyCount())
	assert.Equal(t, domain.SessionConnected, caller.svc.Status().Get())
}

func TestCallServiceParticipantLeaveKeepsSlot(t *testing.T) {
	ctx := context.Background()
	store := memory.NewCallRepository()
	caller, callee, callID := connectPair(t, store)

	require.NoError(t, callee.svc.EndCall(ctx, "bob"))
	assert.Equal(t, domain.SessionIdle, callee.svc.Status().Get())

	record, err := store.GetCall(ctx, callID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallOffering, record.Status)
	assert.Nil(t, record.Answer)

	require.Eventually(t, func() bool {
		return caller.svc.Status().Get() == domain.SessionCalling
	}, time.Second, 5*time.Millisecond, "caller never returned to ringing")
	assert.Nil(t, caller.svc.RemotePrimary().Get())
}

func TestCallServiceRemoteOwnerEnd(t *testing.T) {
	ctx := context.Background()
	store := memory.NewCallRepository()
	caller, callee, callID := connectPair(t, store)

	require.NoError(t, caller.svc.EndCall(ctx, "alice"))

	require.Eventually(t, func() bool {
		return callee.svc.Status().Get() == domain.SessionIdle &&
			callee.svc.ActiveCall().Get() == nil
	}, time.Second, 5*time.Millisecond, "callee never observed the deletion")

	_, err := store.GetCall(ctx, callID)
	assert.ErrorIs(t, err, domain.ErrCallNotFound)
}

func TestCallServiceDiscoveryIgnoresOwnCalls(t *testing.T) {
	ctx := context.Background()
	store := memory.NewCallRepository()
	caller := newPeer(t, store, "alice")

	require.NoError(t, caller.svc.Listen(ctx, "group-1", "alice"))
	require.NoError(t, caller.svc.StartCall(ctx, "group-1", "alice", domain.CallRegular))

	time.Sleep(50 * time.Millisecond)
	assert.Nil(t, caller.svc.IncomingCall().Get())
	assert.Equal(t, domain.SessionCalling, caller.svc.Status().Get())
}

func TestCallServiceDiscoveryIgnoresOtherGroups(t *testing.T) {
	ctx := context.Background()
	store := memory.NewCallRepository()
	caller := newPeer(t, store, "alice")
	other := newPeer(t, store, "carol")

	require.NoError(t, other.svc.Listen(ctx, "group-2", "carol"))
	require.NoError(t, caller.svc.StartCall(ctx, "group-1", "alice", domain.CallRegular))

	time.Sleep(50 * time.Millisecond)
	assert.Nil(t, other.svc.IncomingCall().Get())
}

func TestCallServiceRejectIncoming(t *testing.T) {
	ctx := context.Background()
	store := memory.NewCallRepository()
	caller := newPeer(t, store, "alice")
	callee := newPeer(t, store, "bob")

	require.NoError(t, callee.svc.Listen(ctx, "group-1", "bob"))
	require.NoError(t, caller.svc.StartCall(ctx, "group-1", "alice", domain.CallRegular))

	require.Eventually(t, func() bool {
		return callee.svc.IncomingCall().Get() != nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.SessionIncoming, callee.svc.Status().Get())

	callee.svc.RejectIncoming()
	assert.Nil(t, callee.svc.IncomingCall().Get())
	assert.Equal(t, domain.SessionIdle, callee.svc.Status().Get())

	// The record is untouched; the call stays joinable.
	active := caller.svc.ActiveCall().Get()
	require.NotNil(t, active)
	record, err := store.GetCall(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallOffering, record.Status)
}

func TestCallServiceCandidateExchange(t *testing.T) {
	store := memory.NewCallRepository()
	caller, callee, _ := connectPair(t, store)

	callerNeg := caller.factory.last()
	calleeNeg := callee.factory.last()

	cand := &domain.Candidate{ID: "cand-1", Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"}
	callerNeg.events.OnLocalCandidate(cand)

	require.Eventually(t, func() bool {
		return calleeNeg.candidateApplyCount("cand-1") >= 1
	}, time.Second, 5*time.Millisecond, "callee never applied the candidate")

	// The writer must never re-apply its own candidate.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, callerNeg.candidateApplyCount("cand-1"))
	assert.Equal(t, domain.UserID("alice"), cand.Origin)
}

func TestCallServiceShareRenegotiation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewCallRepository()
	caller, _, callID := connectPair(t, store)

	require.NoError(t, caller.svc.StartShare(ctx))
	assert.True(t, caller.svc.Sharing().Get())
	assert.Equal(t, 1, caller.factory.last().trackCount())

	// The track change drives a fresh offer round through the record, and
	// the callee answers it.
	require.Eventually(t, func() bool {
		record, err := store.GetCall(ctx, callID)
		return err == nil && record.Offer.SDP == "offer-alice-2" && record.ScreenSharing
	}, time.Second, 5*time.Millisecond, "renegotiation offer never reached the record")
	require.Eventually(t, func() bool {
		return caller.factory.last().AppliedRemoteSDP() == "answer-to-offer-alice-2"
	}, time.Second, 5*time.Millisecond, "caller never applied the renegotiation answer")
	assert.Equal(t, domain.SessionConnected, caller.svc.Status().Get())

	require.NoError(t, caller.svc.StopShare(ctx))
	assert.False(t, caller.svc.Sharing().Get())
	assert.Equal(t, 0, caller.factory.last().trackCount())

	require.Eventually(t, func() bool {
		record, err := store.GetCall(ctx, callID)
		return err == nil && record.Offer.SDP == "offer-alice-3" && !record.ScreenSharing
	}, time.Second, 5*time.Millisecond, "stop-share round never reached the record")
}

func TestCallServiceShareAcquireFailureKeepsCall(t *testing.T) {
	ctx := context.Background()
	store := memory.NewCallRepository()

	factory := &fakeFactory{name: "alice"}
	svc := NewCallService(
		store, factory, &fakeMedia{displayErr: domain.ErrPermissionDenied},
		NewMetricsService(), zaptest.NewLogger(t).Sugar(),
		CallServiceConfig{SetupTimeout: 2 * time.Second},
	)
	t.Cleanup(func() { _ = svc.Close() })

	require.NoError(t, svc.StartCall(ctx, "group-1", "alice", domain.CallRegular))

	err := svc.StartShare(ctx)
	var mediaErr *domain.MediaAcquisitionError
	require.ErrorAs(t, err, &mediaErr)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	// The voice call survives the failed share.
	assert.Equal(t, domain.SessionCalling, svc.Status().Get())
	assert.False(t, svc.Sharing().Get())
}

func TestCallServiceMediaFailureFailsAttempt(t *testing.T) {
	ctx := context.Background()
	store := memory.NewCallRepository()

	factory := &fakeFactory{name: "alice", initErr: errors.New("no capture device")}
	svc := NewCallService(
		store, factory, &fakeMedia{}, NewMetricsService(),
		zaptest.NewLogger(t).Sugar(),
		CallServiceConfig{SetupTimeout: 2 * time.Second},
	)
	t.Cleanup(func() { _ = svc.Close() })

	err := svc.StartCall(ctx, "group-1", "alice", domain.CallRegular)
	require.Error(t, err)
	assert.True(t, domain.IsFatalToCall(err))
	assert.Equal(t, domain.SessionIdle, svc.Status().Get())
	assert.True(t, factory.last().closed)
}

func TestCallServiceSecondStartRejected(t *testing.T) {
	ctx := context.Background()
	store := memory.NewCallRepository()
	caller := newPeer(t, store, "alice")

	require.NoError(t, caller.svc.StartCall(ctx, "group-1", "alice", domain.CallRegular))
	err := caller.svc.StartCall(ctx, "group-1", "alice", domain.CallRegular)
	assert.ErrorIs(t, err, domain.ErrInvalidCallState)
}

func TestCallServiceEndWithoutCallIsNoop(t *testing.T) {
	store := memory.NewCallRepository()
	caller := newPeer(t, store, "alice")
	assert.NoError(t, caller.svc.EndCall(context.Background(), "alice"))
	assert.NoError(t, caller.svc.StartShare(context.Background()))
	assert.NoError(t, caller.svc.StopShare(context.Background()))
}
