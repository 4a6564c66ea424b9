package webrtc

import (
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// trackBridge pumps RTP packets from a remote track into a local forwarding
// track, giving consumers a handle that stays valid for the life of the
// stream without touching the receiver directly.
type trackBridge struct {
	remote *webrtc.TrackRemote
	local  *webrtc.TrackLocalStaticRTP
	logger *zap.SugaredLogger

	once sync.Once
	done chan struct{}
}

func newTrackBridge(remote *webrtc.TrackRemote, logger *zap.SugaredLogger) (*trackBridge, error) {
	local, err := webrtc.NewTrackLocalStaticRTP(
		remote.Codec().RTPCodecCapability,
		remote.ID(),
		remote.StreamID(),
	)
	if err != nil {
		return nil, err
	}
	return &trackBridge{
		remote: remote,
		local:  local,
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

func (b *trackBridge) run() {
	buf := make([]byte, 1500) // MTU size
	pkt := &rtp.Packet{}

	for {
		select {
		case <-b.done:
			return
		default:
		}

		n, _, err := b.remote.Read(buf)
		if err != nil {
			b.logger.Debugw("remote track read ended", "track_id", b.remote.ID(), "error", err)
			return
		}

		if err := pkt.Unmarshal(buf[:n]); err != nil {
			b.logger.Warnw("failed to unmarshal RTP packet", "track_id", b.remote.ID(), "error", err)
			continue
		}

		if err := b.local.WriteRTP(pkt); err != nil {
			b.logger.Warnw("failed to forward RTP packet", "track_id", b.remote.ID(), "error", err)
		}
	}
}

func (b *trackBridge) stop() {
	b.once.Do(func() { close(b.done) })
}
