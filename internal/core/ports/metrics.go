package ports

import (
	"time"

	"peercall/internal/core/domain"
)

// MetricsRecorder receives call lifecycle and negotiation measurements.
type MetricsRecorder interface {
	RecordCallStarted(callType domain.CallType)
	RecordCallAnswered()
	RecordCallEnded(reason string, duration time.Duration)
	RecordRenegotiation()
	RecordCandidate(direction string)
	RecordStaleSignal(kind string)
	RecordNegotiationFailure(op string)
	RecordStreamLoss(kind string, fractionLost float64)
	SetCallActive(active bool)
}
