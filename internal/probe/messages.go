package probe

import (
	"latency-probe/internal/rtp"
	"latency-probe/internal/wire"
)

// MessageFunc builds the payload of the i-th probe, i starting at 0.
type MessageFunc func(i int) ([]byte, error)

// PacketMessages builds "Packet 1", "Packet 2", ...
func PacketMessages() MessageFunc {
	return func(i int) ([]byte, error) {
		return wire.PacketMessage(i + 1), nil
	}
}

// IndexMessages builds the zero padded index "00", "01", ...
func IndexMessages(width int) MessageFunc {
	return func(i int) ([]byte, error) {
		return wire.IndexMessage(i, width), nil
	}
}

// RTPMessages frames payload in RTP packets sequenced by the probe index.
func RTPMessages(payload []byte) MessageFunc {
	return func(i int) ([]byte, error) {
		return rtp.Frame(uint16(i), payload)
	}
}
