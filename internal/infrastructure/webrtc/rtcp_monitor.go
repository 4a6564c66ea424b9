package webrtc

import (
	"context"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// monitorReceiver reads RTCP receiver reports for one received stream and
// reports the observed packet loss. Used to keep stream health visible while
// a renegotiation round runs on top of the established session.
func monitorReceiver(
	ctx context.Context,
	receiver *webrtc.RTPReceiver,
	kind string,
	onHealth func(kind string, fractionLost float64),
	logger *zap.SugaredLogger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		packets, _, err := receiver.ReadRTCP()
		if err != nil {
			logger.Debugw("rtcp read ended", "kind", kind, "error", err)
			return
		}

		for _, packet := range packets {
			report, ok := packet.(*rtcp.ReceiverReport)
			if !ok {
				continue
			}
			for _, block := range report.Reports {
				loss := float64(block.FractionLost) / 255.0
				logger.Debugw("receiver report",
					"kind", kind,
					"fraction_lost", loss,
					"jitter", block.Jitter,
				)
				if onHealth != nil {
					onHealth(kind, loss)
				}
			}
		}
	}
}
