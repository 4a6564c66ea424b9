package services

import (
	"sync"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
)

// MetricsService is an in-memory ports.MetricsRecorder. It backs the state
// endpoint and tests; the Prometheus collector wraps it for scraping.
type MetricsService struct {
	mu sync.RWMutex

	callsStarted  map[domain.CallType]int
	callsAnswered int
	callsEnded    map[string]int
	totalDuration time.Duration

	renegotiations int
	candidates     map[string]int
	staleSignals   map[string]int
	failures       map[string]int

	active bool
}

func NewMetricsService() *MetricsService {
	return &MetricsService{
		callsStarted: make(map[domain.CallType]int),
		callsEnded:   make(map[string]int),
		candidates:   make(map[string]int),
		staleSignals: make(map[string]int),
		failures:     make(map[string]int),
	}
}

func (m *MetricsService) RecordCallStarted(callType domain.CallType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callsStarted[callType]++
}

func (m *MetricsService) RecordCallAnswered() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callsAnswered++
}

func (m *MetricsService) RecordCallEnded(reason string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callsEnded[reason]++
	m.totalDuration += duration
}

func (m *MetricsService) RecordRenegotiation() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renegotiations++
}

func (m *MetricsService) RecordCandidate(direction string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates[direction]++
}

func (m *MetricsService) RecordStaleSignal(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staleSignals[kind]++
}

func (m *MetricsService) RecordNegotiationFailure(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op]++
}

func (m *MetricsService) RecordStreamLoss(kind string, fractionLost float64) {
	// Loss samples are only exported through Prometheus; nothing to keep.
}

func (m *MetricsService) SetCallActive(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = active
}

// MetricsSnapshot is a point-in-time copy of the accumulated counters.
type MetricsSnapshot struct {
	CallsStarted   map[domain.CallType]int `json:"callsStarted"`
	CallsAnswered  int                     `json:"callsAnswered"`
	CallsEnded     map[string]int          `json:"callsEnded"`
	TotalDuration  time.Duration           `json:"totalDuration"`
	Renegotiations int                     `json:"renegotiations"`
	Candidates     map[string]int          `json:"candidates"`
	StaleSignals   map[string]int          `json:"staleSignals"`
	Failures       map[string]int          `json:"failures"`
	CallActive     bool                    `json:"callActive"`
}

func (m *MetricsService) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		CallsStarted:   make(map[domain.CallType]int, len(m.callsStarted)),
		CallsAnswered:  m.callsAnswered,
		CallsEnded:     make(map[string]int, len(m.callsEnded)),
		TotalDuration:  m.totalDuration,
		Renegotiations: m.renegotiations,
		Candidates:     make(map[string]int, len(m.candidates)),
		StaleSignals:   make(map[string]int, len(m.staleSignals)),
		Failures:       make(map[string]int, len(m.failures)),
		CallActive:     m.active,
	}
	for k, v := range m.callsStarted {
		snap.CallsStarted[k] = v
	}
	for k, v := range m.callsEnded {
		snap.CallsEnded[k] = v
	}
	for k, v := range m.candidates {
		snap.Candidates[k] = v
	}
	for k, v := range m.staleSignals {
		snap.StaleSignals[k] = v
	}
	for k, v := range m.failures {
		snap.Failures[k] = v
	}
	return snap
}

// TeeMetrics fans every measurement out to multiple recorders, typically the
// in-memory service plus the Prometheus collector.
type TeeMetrics []ports.MetricsRecorder

func (t TeeMetrics) RecordCallStarted(callType domain.CallType) {
	for _, r := range t {
		r.RecordCallStarted(callType)
	}
}

func (t TeeMetrics) RecordCallAnswered() {
	for _, r := range t {
		r.RecordCallAnswered()
	}
}

func (t TeeMetrics) RecordCallEnded(reason string, duration time.Duration) {
	for _, r := range t {
		r.RecordCallEnded(reason, duration)
	}
}

func (t TeeMetrics) RecordRenegotiation() {
	for _, r := range t {
		r.RecordRenegotiation()
	}
}

func (t TeeMetrics) RecordCandidate(direction string) {
	for _, r := range t {
		r.RecordCandidate(direction)
	}
}

func (t TeeMetrics) RecordStaleSignal(kind string) {
	for _, r := range t {
		r.RecordStaleSignal(kind)
	}
}

func (t TeeMetrics) RecordNegotiationFailure(op string) {
	for _, r := range t {
		r.RecordNegotiationFailure(op)
	}
}

func (t TeeMetrics) RecordStreamLoss(kind string, fractionLost float64) {
	for _, r := range t {
		r.RecordStreamLoss(kind, fractionLost)
	}
}

func (t TeeMetrics) SetCallActive(active bool) {
	for _, r := range t {
		r.SetCallActive(active)
	}
}

// NopMetrics discards every measurement.
type NopMetrics struct{}

func (NopMetrics) RecordCallStarted(domain.CallType)     {}
func (NopMetrics) RecordCallAnswered()                   {}
func (NopMetrics) RecordCallEnded(string, time.Duration) {}
func (NopMetrics) RecordRenegotiation()                  {}
func (NopMetrics) RecordCandidate(string)                {}
func (NopMetrics) RecordStaleSignal(string)              {}
func (NopMetrics) RecordNegotiationFailure(string)       {}
func (NopMetrics) RecordStreamLoss(string, float64)      {}
func (NopMetrics) SetCallActive(bool)                    {}
