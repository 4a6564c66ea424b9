package webrtc

import (
	"context"
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
)

const hostCandidate = "candidate:863018703 1 udp 2122260223 127.0.0.1 54321 typ host"

type stubMedia struct{}

func (stubMedia) AcquireMicrophone(ctx context.Context) ([]webrtc.TrackLocal, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "mic",
	)
	if err != nil {
		return nil, err
	}
	return []webrtc.TrackLocal{track}, nil
}

func (stubMedia) AcquireDisplayCapture(ctx context.Context) ([]webrtc.TrackLocal, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", "display",
	)
	if err != nil {
		return nil, err
	}
	return []webrtc.TrackLocal{track}, nil
}

func newTestNegotiator(t *testing.T) *negotiator {
	t.Helper()

	factory := NewFactory(Config{}, stubMedia{}, zaptest.NewLogger(t).Sugar())
	neg := factory.New(ports.NegotiatorEvents{}).(*negotiator)
	require.NoError(t, neg.Initialize(context.Background(), ports.MediaRequest{Audio: true}))
	t.Cleanup(func() { neg.Close() })
	return neg
}

// connectNegotiators runs one full offer/answer round between a caller and a
// callee and returns both sides ready for candidate exchange.
func connectNegotiators(t *testing.T) (caller, callee *negotiator) {
	t.Helper()

	caller = newTestNegotiator(t)
	callee = newTestNegotiator(t)

	offer, err := caller.CreateOffer(context.Background())
	require.NoError(t, err)

	answer, err := callee.ApplyRemoteOffer(context.Background(), offer)
	require.NoError(t, err)
	require.NoError(t, caller.ApplyRemoteAnswer(context.Background(), answer))
	return caller, callee
}

func TestNegotiatorCandidateAppliedOnce(t *testing.T) {
	caller, _ := connectNegotiators(t)

	cand := &domain.Candidate{Candidate: hostCandidate}
	require.NoError(t, caller.ApplyRemoteCandidate(cand))
	require.NoError(t, caller.ApplyRemoteCandidate(cand))

	caller.mu.Lock()
	defer caller.mu.Unlock()
	assert.Len(t, caller.applied, 1)
	assert.Empty(t, caller.pendingRemote)
}

func TestNegotiatorBuffersCandidatesBeforeRemoteDescription(t *testing.T) {
	caller := newTestNegotiator(t)
	callee := newTestNegotiator(t)

	cand := &domain.Candidate{Candidate: hostCandidate}
	require.NoError(t, caller.ApplyRemoteCandidate(cand))
	require.NoError(t, caller.ApplyRemoteCandidate(cand))

	caller.mu.Lock()
	assert.Len(t, caller.pendingRemote, 1)
	assert.Len(t, caller.applied, 1)
	caller.mu.Unlock()

	offer, err := caller.CreateOffer(context.Background())
	require.NoError(t, err)
	answer, err := callee.ApplyRemoteOffer(context.Background(), offer)
	require.NoError(t, err)
	require.NoError(t, caller.ApplyRemoteAnswer(context.Background(), answer))

	caller.mu.Lock()
	assert.Empty(t, caller.pendingRemote)
	caller.mu.Unlock()

	// A redelivery after the flush stays a no-op.
	require.NoError(t, caller.ApplyRemoteCandidate(cand))

	caller.mu.Lock()
	assert.Len(t, caller.applied, 1)
	assert.Empty(t, caller.pendingRemote)
	caller.mu.Unlock()
}

func TestNegotiatorDuplicateAnswerIgnored(t *testing.T) {
	caller := newTestNegotiator(t)
	callee := newTestNegotiator(t)

	offer, err := caller.CreateOffer(context.Background())
	require.NoError(t, err)
	answer, err := callee.ApplyRemoteOffer(context.Background(), offer)
	require.NoError(t, err)

	require.NoError(t, caller.ApplyRemoteAnswer(context.Background(), answer))
	require.True(t, caller.Stable())

	// Redelivered by an at-least-once watch; recognised by content.
	require.NoError(t, caller.ApplyRemoteAnswer(context.Background(), answer))
	assert.Equal(t, answer.SDP, caller.AppliedRemoteSDP())
}

func TestNegotiatorRejectsOfferDuringOwnOffer(t *testing.T) {
	caller := newTestNegotiator(t)
	other := newTestNegotiator(t)

	_, err := caller.CreateOffer(context.Background())
	require.NoError(t, err)

	remoteOffer, err := other.CreateOffer(context.Background())
	require.NoError(t, err)

	_, err = caller.ApplyRemoteOffer(context.Background(), remoteOffer)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGlareUnsupported)
}
