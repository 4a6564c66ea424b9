// Package webrtc implements the connectivity negotiator on pion. One
// negotiator owns one peer connection for the lifetime of one call attempt.
package webrtc

import (
	"context"
	"fmt"
	"sync"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Config holds transport configuration shared by all negotiators.
type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// Factory creates one negotiator per call attempt.
type Factory struct {
	config Config
	media  ports.MediaProvider
	logger *zap.SugaredLogger
}

// NewFactory creates a negotiator factory bound to a media provider and a
// fixed NAT-traversal assist configuration.
func NewFactory(config Config, media ports.MediaProvider, logger *zap.SugaredLogger) *Factory {
	return &Factory{
		config: config,
		media:  media,
		logger: logger,
	}
}

// New creates an uninitialized negotiator.
func (f *Factory) New(events ports.NegotiatorEvents) ports.Negotiator {
	return &negotiator{
		config:     f.config,
		media:      f.media,
		events:     events,
		logger:     f.logger,
		state:      stateUninitialized,
		senders:    make(map[string]*webrtc.RTPSender),
		applied:    make(map[string]struct{}),
		monitorCtx: nil,
	}
}

type negotiatorState int

const (
	stateUninitialized negotiatorState = iota
	stateGatheringMedia
	stateReady
	stateClosed
)

type negotiator struct {
	config Config
	media  ports.MediaProvider
	events ports.NegotiatorEvents
	logger *zap.SugaredLogger

	mu          sync.Mutex
	state       negotiatorState
	pc          *webrtc.PeerConnection
	localTracks []webrtc.TrackLocal
	senders     map[string]*webrtc.RTPSender

	// Candidates may race ahead of the remote description across independent
	// writers; they are buffered until a remote description exists.
	pendingRemote []webrtc.ICECandidateInit
	applied       map[string]struct{}

	appliedRemoteSDP string

	bridges       []*trackBridge
	monitorCtx    context.Context
	monitorCancel context.CancelFunc
}

func (n *negotiator) Initialize(ctx context.Context, req ports.MediaRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != stateUninitialized {
		return fmt.Errorf("%w: negotiator already initialized", domain.ErrInvalidCallState)
	}
	n.state = stateGatheringMedia

	var tracks []webrtc.TrackLocal
	if req.Audio {
		acquired, err := n.media.AcquireMicrophone(ctx)
		if err != nil {
			n.state = stateClosed
			return &domain.MediaAcquisitionError{Err: err}
		}
		tracks = append(tracks, acquired...)
	}
	if req.Video {
		acquired, err := n.media.AcquireDisplayCapture(ctx)
		if err != nil {
			n.state = stateClosed
			return &domain.MediaAcquisitionError{Err: err}
		}
		tracks = append(tracks, acquired...)
	}

	pc, err := n.createPeerConnection()
	if err != nil {
		n.state = stateClosed
		return &domain.NegotiationError{Op: "create_connection", Err: err}
	}
	n.pc = pc

	for _, track := range tracks {
		sender, err := pc.AddTrack(track)
		if err != nil {
			n.state = stateClosed
			pc.Close()
			return &domain.NegotiationError{Op: "add_track", Err: err}
		}
		n.senders[track.ID()] = sender
		n.localTracks = append(n.localTracks, track)
	}

	n.monitorCtx, n.monitorCancel = context.WithCancel(context.Background())

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // end of gathering
		}
		if n.events.OnLocalCandidate != nil {
			n.events.OnLocalCandidate(candidateFromICE(c))
		}
	})

	pc.OnTrack(n.handleRemoteTrack)

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		n.logger.Infow("peer connection state changed", "state", state.String())
		if n.events.OnConnectionState != nil {
			n.events.OnConnectionState(state)
		}
	})

	n.state = stateReady
	return nil
}

func (n *negotiator) CreateOffer(ctx context.Context) (*domain.Description, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != stateReady {
		return nil, fmt.Errorf("%w: negotiator not ready", domain.ErrInvalidCallState)
	}
	if n.pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		return nil, &domain.NegotiationError{Op: "create_offer", Err: domain.ErrInvalidCallState}
	}

	offer, err := n.pc.CreateOffer(nil)
	if err != nil {
		return nil, &domain.NegotiationError{Op: "create_offer", Err: err}
	}
	if err := n.pc.SetLocalDescription(offer); err != nil {
		return nil, &domain.NegotiationError{Op: "set_local_offer", Err: err}
	}

	return &domain.Description{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (n *negotiator) ApplyRemoteOffer(ctx context.Context, offer *domain.Description) (*domain.Description, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != stateReady {
		return nil, fmt.Errorf("%w: negotiator not ready", domain.ErrInvalidCallState)
	}
	if n.pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		return nil, &domain.NegotiationError{Op: "apply_remote_offer", Err: domain.ErrGlareUnsupported}
	}

	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := n.pc.SetRemoteDescription(desc); err != nil {
		return nil, &domain.NegotiationError{Op: "apply_remote_offer", Err: err}
	}
	n.appliedRemoteSDP = offer.SDP
	n.flushPendingCandidatesLocked()

	answer, err := n.pc.CreateAnswer(nil)
	if err != nil {
		return nil, &domain.NegotiationError{Op: "create_answer", Err: err}
	}
	if err := n.pc.SetLocalDescription(answer); err != nil {
		return nil, &domain.NegotiationError{Op: "set_local_answer", Err: err}
	}

	return &domain.Description{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (n *negotiator) ApplyRemoteAnswer(ctx context.Context, answer *domain.Description) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != stateReady {
		return fmt.Errorf("%w: negotiator not ready", domain.ErrInvalidCallState)
	}

	// Duplicate delivery of the same answer is expected and harmless.
	if n.appliedRemoteSDP == answer.SDP {
		n.logger.Debugw("ignoring duplicate remote answer")
		return nil
	}

	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP}
	if err := n.pc.SetRemoteDescription(desc); err != nil {
		return &domain.NegotiationError{Op: "apply_remote_answer", Err: err}
	}
	n.appliedRemoteSDP = answer.SDP
	n.flushPendingCandidatesLocked()
	return nil
}

func (n *negotiator) ApplyRemoteCandidate(cand *domain.Candidate) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state == stateClosed {
		return nil
	}
	if n.state != stateReady {
		return fmt.Errorf("%w: negotiator not ready", domain.ErrInvalidCallState)
	}

	// Applying the same candidate twice must be a no-op.
	if _, seen := n.applied[cand.Candidate]; seen {
		n.logger.Debugw("ignoring duplicate remote candidate")
		return nil
	}
	n.applied[cand.Candidate] = struct{}{}

	init := candidateToInit(cand)
	if n.pc.RemoteDescription() == nil {
		n.pendingRemote = append(n.pendingRemote, init)
		return nil
	}

	if err := n.pc.AddICECandidate(init); err != nil {
		return &domain.NegotiationError{Op: "apply_candidate", Err: err}
	}
	return nil
}

func (n *negotiator) AddTrack(track webrtc.TrackLocal) error {
	n.mu.Lock()
	if n.state != stateReady {
		n.mu.Unlock()
		return fmt.Errorf("%w: negotiator not ready", domain.ErrInvalidCallState)
	}

	sender, err := n.pc.AddTrack(track)
	if err != nil {
		n.mu.Unlock()
		return &domain.NegotiationError{Op: "add_track", Err: err}
	}
	n.senders[track.ID()] = sender
	n.localTracks = append(n.localTracks, track)
	n.mu.Unlock()

	// The transport's own negotiation-needed signal is unreliable; raise it
	// manually, exactly once per change.
	if n.events.OnNegotiationNeeded != nil {
		n.events.OnNegotiationNeeded()
	}
	return nil
}

func (n *negotiator) RemoveTrack(track webrtc.TrackLocal) error {
	n.mu.Lock()
	if n.state != stateReady {
		n.mu.Unlock()
		return nil
	}

	sender, exists := n.senders[track.ID()]
	if !exists {
		n.mu.Unlock()
		return nil
	}
	if err := n.pc.RemoveTrack(sender); err != nil {
		n.mu.Unlock()
		return &domain.NegotiationError{Op: "remove_track", Err: err}
	}
	delete(n.senders, track.ID())
	for i, lt := range n.localTracks {
		if lt.ID() == track.ID() {
			n.localTracks = append(n.localTracks[:i], n.localTracks[i+1:]...)
			break
		}
	}
	n.mu.Unlock()

	if n.events.OnNegotiationNeeded != nil {
		n.events.OnNegotiationNeeded()
	}
	return nil
}

func (n *negotiator) Stable() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != stateReady {
		return false
	}
	return n.pc.SignalingState() == webrtc.SignalingStateStable
}

func (n *negotiator) AppliedRemoteSDP() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.appliedRemoteSDP
}

func (n *negotiator) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state == stateClosed {
		return nil
	}
	n.state = stateClosed

	if n.monitorCancel != nil {
		n.monitorCancel()
	}
	for _, b := range n.bridges {
		b.stop()
	}
	n.bridges = nil
	n.localTracks = nil
	n.senders = map[string]*webrtc.RTPSender{}

	if n.pc != nil {
		if err := n.pc.Close(); err != nil {
			return fmt.Errorf("failed to close peer connection: %w", err)
		}
	}
	return nil
}

// flushPendingCandidatesLocked applies candidates buffered before the remote
// description existed. Caller holds n.mu.
func (n *negotiator) flushPendingCandidatesLocked() {
	for _, init := range n.pendingRemote {
		if err := n.pc.AddICECandidate(init); err != nil {
			n.logger.Warnw("failed to apply buffered candidate", "error", err)
		}
	}
	n.pendingRemote = nil
}

func (n *negotiator) handleRemoteTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	kind := track.Kind().String()
	n.logger.Infow("remote track received",
		"kind", kind,
		"track_id", track.ID(),
		"codec", track.Codec().MimeType,
	)

	bridge, err := newTrackBridge(track, n.logger)
	if err != nil {
		n.logger.Errorw("failed to bridge remote track", "track_id", track.ID(), "error", err)
		return
	}

	n.mu.Lock()
	if n.state != stateReady {
		n.mu.Unlock()
		bridge.stop()
		return
	}
	n.bridges = append(n.bridges, bridge)
	monitorCtx := n.monitorCtx
	n.mu.Unlock()

	go bridge.run()
	go monitorReceiver(monitorCtx, receiver, kind, n.events.OnStreamHealth, n.logger)

	stream := &ports.RemoteStream{Kind: kind, Track: bridge.local}
	switch track.Kind() {
	case webrtc.RTPCodecTypeAudio:
		if n.events.OnRemotePrimary != nil {
			n.events.OnRemotePrimary(stream)
		}
	case webrtc.RTPCodecTypeVideo:
		if n.events.OnRemoteShare != nil {
			n.events.OnRemoteShare(stream)
		}
	}
}

func (n *negotiator) createPeerConnection() (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{
		ICEServers:   n.config.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	}

	settingEngine := webrtc.SettingEngine{}
	if n.config.PortRange.Min > 0 && n.config.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(n.config.PortRange.Min, n.config.PortRange.Max); err != nil {
			return nil, err
		}
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(config)
}

func candidateFromICE(c *webrtc.ICECandidate) *domain.Candidate {
	init := c.ToJSON()
	return &domain.Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func candidateToInit(cand *domain.Candidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        cand.Candidate,
		SDPMid:           cand.SDPMid,
		SDPMLineIndex:    cand.SDPMLineIndex,
		UsernameFragment: cand.UsernameFragment,
	}
}
