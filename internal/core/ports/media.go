package ports

import (
	"context"

	"github.com/pion/webrtc/v3"
)

// MediaProvider hands out opaque local track handles. Actual capture devices
// live behind this port; the core only attaches the handles to a connection.
//
// Acquisition failures distinguish a denied permission
// (domain.ErrPermissionDenied) from a missing device (domain.ErrNoDevice).
type MediaProvider interface {
	AcquireMicrophone(ctx context.Context) ([]webrtc.TrackLocal, error)
	AcquireDisplayCapture(ctx context.Context) ([]webrtc.TrackLocal, error)
}

// RemoteStream is a live handle to media received from the remote peer. The
// track is a local forwarding track continuously fed by the connection; it
// can be attached to any downstream consumer.
type RemoteStream struct {
	Kind  string // "audio" or "video"
	Track *webrtc.TrackLocalStaticRTP
}
