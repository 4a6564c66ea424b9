package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pion/webrtc/v3"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/pkg/observable"
	"peercall/pkg/tracing"
)

// CallServiceConfig carries the tunables of one call session facade.
type CallServiceConfig struct {
	// SetupTimeout bounds the media-acquire plus first-description phase of
	// StartCall and AnswerCall.
	SetupTimeout time.Duration
}

type callService struct {
	store       ports.CallRepository
	negotiators ports.NegotiatorFactory
	media       ports.MediaProvider
	metrics     ports.MetricsRecorder
	logger      *zap.SugaredLogger

	setupTimeout time.Duration

	// baseCtx outlives individual commands; subscriptions and background
	// writes hang off it so a command timeout never kills a watch.
	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu              sync.Mutex
	closed          bool
	groupID         domain.GroupID
	userID          domain.UserID
	discoveryCancel ports.CancelFunc
	attempt         *callAttempt

	status        *observable.Value[domain.SessionStatus]
	activeCall    *observable.Value[*domain.Call]
	incomingCall  *observable.Value[*domain.Call]
	remotePrimary *observable.Value[*ports.RemoteStream]
	remoteShare   *observable.Value[*ports.RemoteStream]
	sharing       *observable.Value[bool]
}

// callAttempt is all state of one negotiation lifetime. Late events from a
// superseded attempt compare against the current pointer and are dropped.
type callAttempt struct {
	callID   domain.CallID // empty until the record exists
	call     *domain.Call
	selfID   domain.UserID
	isCaller bool
	neg      ports.Negotiator
	reneg    *renegotiationController

	// lastLocalOfferSDP distinguishes our own offer echoed back by the
	// watch from a genuine remote renegotiation offer.
	lastLocalOfferSDP string

	// awaitingAnswer is set only while this side has an outstanding offer.
	// Answers observed while it is clear are replays of our own writes.
	awaitingAnswer bool

	// renegPending remembers a track change that arrived while an offer
	// round was still in flight.
	renegPending bool

	// pendingLocalCands buffers candidates discovered before the call
	// record has an id to attach them to.
	pendingLocalCands []*domain.Candidate

	answered    bool
	shareTracks []webrtc.TrackLocal
	watchCancel ports.CancelFunc
	candCancel  ports.CancelFunc
	startedAt   time.Time
}

func NewCallService(
	store ports.CallRepository,
	negotiators ports.NegotiatorFactory,
	media ports.MediaProvider,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
	config CallServiceConfig,
) ports.CallService {
	if config.SetupTimeout <= 0 {
		config.SetupTimeout = 10 * time.Second
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &callService{
		store:         store,
		negotiators:   negotiators,
		media:         media,
		metrics:       metrics,
		logger:        logger,
		setupTimeout:  config.SetupTimeout,
		baseCtx:       ctx,
		cancelBase:    cancel,
		status:        observable.NewValue(domain.SessionIdle),
		activeCall:    observable.NewValue[*domain.Call](nil),
		incomingCall:  observable.NewValue[*domain.Call](nil),
		remotePrimary: observable.NewValue[*ports.RemoteStream](nil),
		remoteShare:   observable.NewValue[*ports.RemoteStream](nil),
		sharing:       observable.NewValue(false),
	}
}

func (s *callService) Status() *observable.Value[domain.SessionStatus] { return s.status }

func (s *callService) ActiveCall() *observable.Value[*domain.Call] { return s.activeCall }

func (s *callService) IncomingCall() *observable.Value[*domain.Call] { return s.incomingCall }

func (s *callService) RemotePrimary() *observable.Value[*ports.RemoteStream] {
	return s.remotePrimary
}

func (s *callService) RemoteShare() *observable.Value[*ports.RemoteStream] { return s.remoteShare }

func (s *callService) Sharing() *observable.Value[bool] { return s.sharing }

func (s *callService) Listen(ctx context.Context, groupID domain.GroupID, userID domain.UserID) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrInvalidCallState
	}
	if s.discoveryCancel != nil {
		s.discoveryCancel()
		s.discoveryCancel = nil
	}
	s.groupID = groupID
	s.userID = userID
	s.mu.Unlock()

	cancel, err := s.store.WatchCalls(s.baseCtx, s.handleDiscovered)
	if err != nil {
		return &domain.StoreReadError{Op: "watch_calls", Err: err}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return domain.ErrInvalidCallState
	}
	s.discoveryCancel = cancel
	s.mu.Unlock()

	s.logger.Infow("listening for incoming calls", "group_id", groupID, "user_id", userID)
	return nil
}

// handleDiscovered surfaces foreign offering records as incoming-call
// notifications. Local state is untouched until the user acts on one.
func (s *callService) handleDiscovered(call *domain.Call) {
	if call == nil || call.Status != domain.CallOffering || call.Offer == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || call.GroupID != s.groupID || call.CallerID == s.userID {
		return
	}
	if s.attempt != nil && s.attempt.callID == call.ID {
		return
	}

	s.logger.Infow("incoming call discovered",
		"call_id", call.ID, "caller_id", call.CallerID, "type", call.Type)
	s.incomingCall.Set(call.Clone())
	if s.attempt == nil && s.status.Get() == domain.SessionIdle {
		s.status.Set(domain.SessionIncoming)
	}
}

func (s *callService) StartCall(ctx context.Context, groupID domain.GroupID, callerID domain.UserID, callType domain.CallType) error {
	ctx, cancel := context.WithTimeout(ctx, s.setupTimeout)
	defer cancel()
	ctx, span := tracing.TraceCallCommand(ctx, "start_call", "")
	defer span.End()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrInvalidCallState
	}
	if s.attempt != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: a call attempt is already active", domain.ErrInvalidCallState)
	}
	att := &callAttempt{
		selfID:    callerID,
		isCaller:  true,
		startedAt: time.Now(),
	}
	att.neg = s.negotiators.New(s.eventsFor(att))
	att.reneg = newRenegotiationController(s, att)
	s.attempt = att
	s.status.Set(domain.SessionCalling)
	s.mu.Unlock()

	if err := att.neg.Initialize(ctx, ports.MediaRequest{Audio: true}); err != nil {
		return s.failAttempt(att, err)
	}
	offer, err := att.neg.CreateOffer(ctx)
	if err != nil {
		return s.failAttempt(att, err)
	}

	call := &domain.Call{
		GroupID:  groupID,
		CallerID: callerID,
		Status:   domain.CallOffering,
		Type:     callType,
		Offer:    offer,
	}
	id, err := s.store.CreateCall(ctx, call)
	if err != nil {
		return s.failAttempt(att, &domain.StoreWriteError{Op: "create_call", Err: err})
	}

	s.mu.Lock()
	if s.attempt != att {
		// Ended while the record write was in flight. The record is ours
		// and never announced locally, so remove it.
		s.mu.Unlock()
		_ = s.store.DeleteCall(s.baseCtx, id)
		return domain.ErrInvalidCallState
	}
	call.ID = id
	att.callID = id
	att.call = call.Clone()
	att.lastLocalOfferSDP = offer.SDP
	att.awaitingAnswer = true
	pending := att.pendingLocalCands
	att.pendingLocalCands = nil
	s.activeCall.Set(call.Clone())
	s.mu.Unlock()

	for _, cand := range pending {
		s.writeCandidate(id, cand)
	}
	if err := s.subscribeAttempt(att); err != nil {
		return s.failAttempt(att, err)
	}

	s.metrics.RecordCallStarted(callType)
	s.metrics.SetCallActive(true)
	s.logger.Infow("call started", "call_id", id, "group_id", groupID, "type", callType)
	return nil
}

func (s *callService) AnswerCall(ctx context.Context, call *domain.Call) error {
	if call == nil || call.Offer == nil {
		return fmt.Errorf("%w: call has no offer", domain.ErrInvalidCallState)
	}
	ctx, cancel := context.WithTimeout(ctx, s.setupTimeout)
	defer cancel()
	ctx, span := tracing.TraceCallCommand(ctx, "answer_call", string(call.ID))
	defer span.End()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrInvalidCallState
	}
	if s.attempt != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: a call attempt is already active", domain.ErrInvalidCallState)
	}
	att := &callAttempt{
		callID:    call.ID,
		call:      call.Clone(),
		selfID:    s.userID,
		startedAt: time.Now(),
	}
	att.neg = s.negotiators.New(s.eventsFor(att))
	att.reneg = newRenegotiationController(s, att)
	s.attempt = att
	s.incomingCall.Set(nil)
	s.status.Set(domain.SessionConnecting)
	s.activeCall.Set(call.Clone())
	s.mu.Unlock()

	if err := att.neg.Initialize(ctx, ports.MediaRequest{Audio: true}); err != nil {
		return s.failAttempt(att, err)
	}
	answer, err := att.neg.ApplyRemoteOffer(ctx, call.Offer)
	if err != nil {
		return s.failAttempt(att, err)
	}
	if err := s.subscribeAttempt(att); err != nil {
		return s.failAttempt(att, err)
	}

	answered := domain.CallAnswered
	patch := domain.CallPatch{Status: &answered, Answer: answer}
	if err := s.store.UpdateCall(ctx, call.ID, patch); err != nil {
		return s.failAttempt(att, &domain.StoreWriteError{Op: "write_answer", Err: err})
	}

	s.metrics.RecordCallAnswered()
	s.metrics.SetCallActive(true)
	s.logger.Infow("call answered", "call_id", call.ID, "caller_id", call.CallerID)
	return nil
}

func (s *callService) RejectIncoming() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.incomingCall.Get() == nil {
		return
	}
	// Local dismissal only. The record stays offering and joinable; other
	// group members still see it.
	s.incomingCall.Set(nil)
	if s.status.Get() == domain.SessionIncoming {
		s.status.Set(domain.SessionIdle)
	}
}

func (s *callService) EndCall(ctx context.Context, requester domain.UserID) error {
	s.mu.Lock()
	att := s.attempt
	if att == nil {
		s.mu.Unlock()
		return nil
	}
	callID := att.callID
	var callerID domain.UserID
	if att.call != nil {
		callerID = att.call.CallerID
	}
	s.mu.Unlock()

	reason := domain.ParticipantLeave
	if requester == "" || requester == callerID {
		reason = domain.OwnerTerminate
	}
	ctx, span := tracing.TraceCallCommand(ctx, "end_call", string(callID))
	defer span.End()

	var storeErr error
	if callID != "" {
		switch reason {
		case domain.OwnerTerminate:
			if err := s.store.DeleteCall(ctx, callID); err != nil {
				storeErr = &domain.StoreWriteError{Op: "delete_call", Err: err}
			}
		case domain.ParticipantLeave:
			offering := domain.CallOffering
			sharing := false
			patch := domain.CallPatch{
				Status:        &offering,
				ClearAnswer:   true,
				ScreenSharing: &sharing,
			}
			if err := s.store.UpdateCall(ctx, callID, patch); err != nil {
				storeErr = &domain.StoreWriteError{Op: "reset_call", Err: err}
			}
		}
	}

	s.mu.Lock()
	if s.attempt == att {
		s.teardownLocked(att)
	}
	s.mu.Unlock()

	s.metrics.RecordCallEnded(reason.String(), time.Since(att.startedAt))
	if storeErr != nil {
		s.logger.Warnw("call ended locally but store update failed",
			"call_id", callID, "reason", reason.String(), "error", storeErr)
		return storeErr
	}
	s.logger.Infow("call ended", "call_id", callID, "reason", reason.String())
	return nil
}

func (s *callService) StartShare(ctx context.Context) error {
	s.mu.Lock()
	att := s.attempt
	if att == nil {
		s.mu.Unlock()
		return nil
	}
	if len(att.shareTracks) > 0 {
		s.mu.Unlock()
		return nil
	}
	startCallID := att.callID
	s.mu.Unlock()

	ctx, span := tracing.TraceCallCommand(ctx, "start_share", string(startCallID))
	defer span.End()

	tracks, err := s.media.AcquireDisplayCapture(ctx)
	if err != nil {
		// Share failure never tears down the voice call.
		s.metrics.RecordNegotiationFailure("acquire_display")
		return &domain.MediaAcquisitionError{Err: err}
	}
	for _, track := range tracks {
		if err := att.neg.AddTrack(track); err != nil {
			s.fatal(att, err)
			return err
		}
	}

	s.mu.Lock()
	if s.attempt != att {
		s.mu.Unlock()
		return domain.ErrInvalidCallState
	}
	att.shareTracks = tracks
	callID := att.callID
	s.sharing.Set(true)
	s.mu.Unlock()

	if callID != "" {
		on := true
		if err := s.store.UpdateCall(s.baseCtx, callID, domain.CallPatch{ScreenSharing: &on}); err != nil {
			// Advisory flag only; the media path is already renegotiating.
			s.logger.Warnw("failed to mark screen sharing on record", "call_id", callID, "error", err)
		}
	}
	s.logger.Infow("screen share started", "call_id", callID, "tracks", len(tracks))
	return nil
}

func (s *callService) StopShare(ctx context.Context) error {
	s.mu.Lock()
	att := s.attempt
	if att == nil || len(att.shareTracks) == 0 {
		s.mu.Unlock()
		return nil
	}
	tracks := att.shareTracks
	att.shareTracks = nil
	callID := att.callID
	s.sharing.Set(false)
	s.mu.Unlock()

	ctx, span := tracing.TraceCallCommand(ctx, "stop_share", string(callID))
	defer span.End()

	for _, track := range tracks {
		if err := att.neg.RemoveTrack(track); err != nil {
			s.logger.Warnw("failed to remove share track", "call_id", callID, "error", err)
		}
	}
	if callID != "" {
		off := false
		if err := s.store.UpdateCall(s.baseCtx, callID, domain.CallPatch{ScreenSharing: &off}); err != nil {
			s.logger.Warnw("failed to clear screen sharing on record", "call_id", callID, "error", err)
		}
	}
	s.logger.Infow("screen share stopped", "call_id", callID)
	return nil
}

func (s *callService) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.discoveryCancel != nil {
		s.discoveryCancel()
		s.discoveryCancel = nil
	}
	if s.attempt != nil {
		s.teardownLocked(s.attempt)
	}
	s.mu.Unlock()

	s.cancelBase()
	return nil
}

// subscribeAttempt attaches the document and candidate watches. Watches live
// on baseCtx so they survive the setup deadline.
func (s *callService) subscribeAttempt(att *callAttempt) error {
	watchCancel, err := s.store.WatchCall(s.baseCtx, att.callID, func(c *domain.Call) {
		s.handleCallChange(att, c)
	})
	if err != nil {
		return &domain.StoreReadError{Op: "watch_call", Err: err}
	}
	candCancel, err := s.store.WatchCandidates(s.baseCtx, att.callID, func(c *domain.Candidate) {
		s.handleRemoteCandidate(att, c)
	})
	if err != nil {
		watchCancel()
		return &domain.StoreReadError{Op: "watch_candidates", Err: err}
	}

	s.mu.Lock()
	if s.attempt != att {
		s.mu.Unlock()
		watchCancel()
		candCancel()
		return domain.ErrInvalidCallState
	}
	att.watchCancel = watchCancel
	att.candCancel = candCancel
	s.mu.Unlock()
	return nil
}

func (s *callService) eventsFor(att *callAttempt) ports.NegotiatorEvents {
	return ports.NegotiatorEvents{
		OnLocalCandidate: func(cand *domain.Candidate) {
			s.handleLocalCandidate(att, cand)
		},
		OnRemotePrimary: func(stream *ports.RemoteStream) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.attempt == att {
				s.remotePrimary.Set(stream)
			}
		},
		OnRemoteShare: func(stream *ports.RemoteStream) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.attempt == att {
				s.remoteShare.Set(stream)
			}
		},
		OnNegotiationNeeded: func() {
			s.mu.Lock()
			current := s.attempt == att
			s.mu.Unlock()
			if current {
				att.reneg.Trigger()
			}
		},
		OnConnectionState: func(state webrtc.PeerConnectionState) {
			s.handleConnectionState(att, state)
		},
		OnStreamHealth: func(kind string, fractionLost float64) {
			s.metrics.RecordStreamLoss(kind, fractionLost)
		},
	}
}

func (s *callService) handleLocalCandidate(att *callAttempt, cand *domain.Candidate) {
	s.mu.Lock()
	if s.attempt != att {
		s.mu.Unlock()
		return
	}
	cand.Origin = att.selfID
	if att.callID == "" {
		att.pendingLocalCands = append(att.pendingLocalCands, cand)
		s.mu.Unlock()
		return
	}
	callID := att.callID
	s.mu.Unlock()

	s.writeCandidate(callID, cand)
}

func (s *callService) writeCandidate(callID domain.CallID, cand *domain.Candidate) {
	cand.CallID = callID
	if err := s.store.AddCandidate(s.baseCtx, callID, cand); err != nil {
		// A lost candidate degrades connectivity odds but is not fatal;
		// the transport usually has more.
		s.logger.Warnw("failed to write local candidate", "call_id", callID, "error", err)
		return
	}
	s.metrics.RecordCandidate("outbound")
}

func (s *callService) handleRemoteCandidate(att *callAttempt, cand *domain.Candidate) {
	s.mu.Lock()
	if s.attempt != att {
		s.mu.Unlock()
		return
	}
	self := att.selfID
	s.mu.Unlock()

	if cand.Origin == self {
		return
	}
	if err := att.neg.ApplyRemoteCandidate(cand); err != nil {
		s.metrics.RecordStaleSignal("candidate")
		s.logger.Warnw("remote candidate rejected", "call_id", cand.CallID, "error", err)
		return
	}
	s.metrics.RecordCandidate("inbound")
}

// handleCallChange is the document watch entry point. Every committed state
// flows through here; each signal kind decides staleness by content
// comparison, never delivery order.
func (s *callService) handleCallChange(att *callAttempt, call *domain.Call) {
	s.mu.Lock()
	if s.attempt != att {
		s.mu.Unlock()
		return
	}
	if call == nil {
		// Record deleted: the owner hung up for everyone.
		s.logger.Infow("call record deleted remotely", "call_id", att.callID)
		s.teardownLocked(att)
		s.mu.Unlock()
		s.metrics.RecordCallEnded("remote_terminate", time.Since(att.startedAt))
		return
	}
	att.call = call.Clone()
	s.activeCall.Set(call.Clone())
	s.mu.Unlock()

	s.observeAnswer(att, call)
	s.observeOffer(att, call)
	s.observeReset(att, call)
}

// observeAnswer applies a remote answer to our outstanding offer. The callee
// sees its own written answer echoed by the watch; awaitingAnswer plus SDP
// comparison filters both that echo and at-least-once replays.
func (s *callService) observeAnswer(att *callAttempt, call *domain.Call) {
	if call.Answer == nil || call.Answer.SDP == "" {
		return
	}
	s.mu.Lock()
	if s.attempt != att || !att.awaitingAnswer {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if att.neg.AppliedRemoteSDP() == call.Answer.SDP {
		s.metrics.RecordStaleSignal("answer")
		return
	}
	if err := att.neg.ApplyRemoteAnswer(s.baseCtx, call.Answer); err != nil {
		s.fatal(att, err)
		return
	}

	s.mu.Lock()
	if s.attempt != att {
		s.mu.Unlock()
		return
	}
	att.awaitingAnswer = false
	att.answered = true
	if st := s.status.Get(); st == domain.SessionCalling || st == domain.SessionConnecting {
		s.status.Set(domain.SessionConnected)
	}
	resume := att.renegPending
	att.renegPending = false
	callID := att.callID
	s.mu.Unlock()

	s.logger.Infow("remote answer applied", "call_id", callID)
	if resume {
		att.reneg.Trigger()
	}
}

// observeOffer applies a remote renegotiation offer and writes the matching
// answer back. Our own last offer is recognised by SDP and skipped.
func (s *callService) observeOffer(att *callAttempt, call *domain.Call) {
	if call.Offer == nil || call.Offer.SDP == "" {
		return
	}
	s.mu.Lock()
	if s.attempt != att {
		s.mu.Unlock()
		return
	}
	own := call.Offer.SDP == att.lastLocalOfferSDP
	awaiting := att.awaitingAnswer
	callID := att.callID
	s.mu.Unlock()

	if own || att.neg.AppliedRemoteSDP() == call.Offer.SDP {
		return
	}
	if awaiting {
		// Both sides produced offers against the same document. Glare has
		// no tie-break here; drop the remote offer and keep ours.
		s.metrics.RecordStaleSignal("offer")
		s.logger.Warnw("dropping remote offer while own offer outstanding", "call_id", callID)
		return
	}
	if !att.neg.Stable() {
		s.metrics.RecordStaleSignal("offer")
		return
	}

	answer, err := att.neg.ApplyRemoteOffer(s.baseCtx, call.Offer)
	if err != nil {
		s.fatal(att, err)
		return
	}
	patch := domain.CallPatch{Answer: answer}
	if call.Status != domain.CallAnswered {
		answered := domain.CallAnswered
		patch.Status = &answered
	}
	if err := s.store.UpdateCall(s.baseCtx, callID, patch); err != nil {
		s.fatal(att, &domain.StoreWriteError{Op: "write_answer", Err: err})
		return
	}
	s.metrics.RecordRenegotiation()
	s.logger.Infow("remote renegotiation answered", "call_id", callID)

	s.mu.Lock()
	resume := s.attempt == att && att.renegPending
	if resume {
		att.renegPending = false
	}
	s.mu.Unlock()
	if resume {
		att.reneg.Trigger()
	}
}

// observeReset detects the other participant leaving: the record flips back
// to offering with the answer cleared while we were connected. The slot stays
// joinable, so the caller returns to ringing rather than ending.
func (s *callService) observeReset(att *callAttempt, call *domain.Call) {
	if call.Status != domain.CallOffering || call.Answer != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt != att || !att.isCaller || !att.answered {
		return
	}
	st := s.status.Get()
	if st != domain.SessionConnected && st != domain.SessionConnecting {
		return
	}

	s.logger.Infow("remote participant left; call open for rejoin", "call_id", att.callID)
	att.answered = false
	att.awaitingAnswer = true
	s.remotePrimary.Set(nil)
	s.remoteShare.Set(nil)
	s.status.Set(domain.SessionCalling)
}

func (s *callService) handleConnectionState(att *callAttempt, state webrtc.PeerConnectionState) {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		s.mu.Lock()
		if s.attempt == att {
			if st := s.status.Get(); st == domain.SessionCalling || st == domain.SessionConnecting {
				s.status.Set(domain.SessionConnected)
			}
		}
		s.mu.Unlock()
	case webrtc.PeerConnectionStateFailed:
		s.fatal(att, &domain.NegotiationError{Op: "transport", Err: fmt.Errorf("peer connection failed")})
	case webrtc.PeerConnectionStateDisconnected:
		s.mu.Lock()
		callID := att.callID
		s.mu.Unlock()
		s.logger.Warnw("peer connection disconnected", "call_id", callID)
	}
}

// failAttempt tears down a failed attempt and returns the error for the
// command that drove it. A partially written record is left in the store.
func (s *callService) failAttempt(att *callAttempt, err error) error {
	s.metrics.RecordNegotiationFailure(opOf(err))

	s.mu.Lock()
	callID := att.callID
	if s.attempt == att {
		s.teardownLocked(att)
	}
	s.mu.Unlock()

	s.logger.Errorw("call attempt failed", "call_id", callID, "error", err)
	return err
}

// fatal is failAttempt for asynchronous paths with no command to return to.
func (s *callService) fatal(att *callAttempt, err error) {
	_ = s.failAttempt(att, err)
}

// teardownLocked releases everything an attempt holds and returns the
// session to idle. The transient ended state is published first so observers
// can distinguish teardown from never-started.
func (s *callService) teardownLocked(att *callAttempt) {
	s.attempt = nil
	if att.watchCancel != nil {
		att.watchCancel()
	}
	if att.candCancel != nil {
		att.candCancel()
	}
	att.reneg.Stop()
	if err := att.neg.Close(); err != nil {
		s.logger.Warnw("negotiator close failed", "call_id", att.callID, "error", err)
	}

	s.status.Set(domain.SessionEnded)
	s.activeCall.Set(nil)
	s.remotePrimary.Set(nil)
	s.remoteShare.Set(nil)
	s.sharing.Set(false)
	s.status.Set(domain.SessionIdle)
	s.metrics.SetCallActive(false)
}

func opOf(err error) string {
	switch err.(type) {
	case *domain.MediaAcquisitionError:
		return "media"
	case *domain.StoreWriteError, *domain.StoreReadError:
		return "store"
	case *domain.NegotiationError:
		return "negotiation"
	default:
		return "other"
	}
}
