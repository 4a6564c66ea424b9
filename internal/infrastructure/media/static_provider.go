// Package media provides local track handles for the negotiator. Real
// capture devices live outside the core; this provider mints pion local
// tracks whose payload is fed by whatever capture pipeline the host wires
// in, and models the two acquisition failure kinds the call core must
// distinguish.
package media

import (
	"context"
	"fmt"

	"peercall/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// DeviceAccess models the availability of one capture device.
type DeviceAccess int

const (
	DeviceAvailable DeviceAccess = iota
	DeviceAbsent
	DeviceDenied
)

// ParseDeviceAccess maps a config string to a DeviceAccess.
func ParseDeviceAccess(s string) (DeviceAccess, error) {
	switch s {
	case "available":
		return DeviceAvailable, nil
	case "absent":
		return DeviceAbsent, nil
	case "denied":
		return DeviceDenied, nil
	}
	return DeviceAbsent, fmt.Errorf("unknown device access %q", s)
}

// StaticProvider mints opus audio and VP8 video track handles.
type StaticProvider struct {
	Microphone DeviceAccess
	Display    DeviceAccess
}

// NewStaticProvider creates a provider with both devices available.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{}
}

func (p *StaticProvider) AcquireMicrophone(ctx context.Context) ([]webrtc.TrackLocal, error) {
	if err := accessError(p.Microphone); err != nil {
		return nil, err
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio",
		"peercall-mic",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create microphone track: %w", err)
	}
	return []webrtc.TrackLocal{track}, nil
}

func (p *StaticProvider) AcquireDisplayCapture(ctx context.Context) ([]webrtc.TrackLocal, error) {
	if err := accessError(p.Display); err != nil {
		return nil, err
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video",
		"peercall-display",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create display track: %w", err)
	}
	return []webrtc.TrackLocal{track}, nil
}

func accessError(access DeviceAccess) error {
	switch access {
	case DeviceAbsent:
		return domain.ErrNoDevice
	case DeviceDenied:
		return domain.ErrPermissionDenied
	}
	return nil
}
