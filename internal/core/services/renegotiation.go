package services

import (
	"sync"

	"peercall/internal/core/domain"
)

// renegotiationController serializes offer/answer rounds after track
// changes. Trigger requests coalesce: n rapid track changes collapse into at
// most one queued round behind the one in flight.
type renegotiationController struct {
	svc *callService
	att *callAttempt

	requests chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

func newRenegotiationController(svc *callService, att *callAttempt) *renegotiationController {
	c := &renegotiationController{
		svc:      svc,
		att:      att,
		requests: make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	go c.run()
	return c
}

// Trigger requests a renegotiation round. Never blocks; a request already
// queued absorbs this one.
func (c *renegotiationController) Trigger() {
	select {
	case c.requests <- struct{}{}:
	default:
	}
}

func (c *renegotiationController) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *renegotiationController) run() {
	for {
		select {
		case <-c.stop:
			return
		case <-c.requests:
			c.svc.renegotiate(c.att)
		}
	}
}

// renegotiate runs one offer round for a track change. If an earlier round
// is still waiting on its answer the request is parked and replayed when
// that answer lands.
func (s *callService) renegotiate(att *callAttempt) {
	s.mu.Lock()
	if s.attempt != att {
		s.mu.Unlock()
		return
	}
	if att.callID == "" || att.awaitingAnswer {
		att.renegPending = true
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if !att.neg.Stable() {
		s.mu.Lock()
		if s.attempt == att {
			att.renegPending = true
		}
		s.mu.Unlock()
		return
	}

	offer, err := att.neg.CreateOffer(s.baseCtx)
	if err != nil {
		s.fatal(att, err)
		return
	}

	s.mu.Lock()
	if s.attempt != att {
		s.mu.Unlock()
		return
	}
	att.lastLocalOfferSDP = offer.SDP
	att.awaitingAnswer = true
	callID := att.callID
	s.mu.Unlock()

	if err := s.store.UpdateCall(s.baseCtx, callID, domain.CallPatch{Offer: offer}); err != nil {
		s.fatal(att, &domain.StoreWriteError{Op: "write_offer", Err: err})
		return
	}
	s.metrics.RecordRenegotiation()
	s.logger.Infow("renegotiation offer written", "call_id", callID)
}
