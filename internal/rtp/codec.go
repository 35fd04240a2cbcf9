package rtp

import (
	"fmt"

	"github.com/pion/rtp"
)

const (
	// ProbeSSRC marks every framed probe sent by this tool.
	ProbeSSRC = 0x87654321

	// TimestampStep advances the RTP clock by 20ms at 8kHz per probe.
	TimestampStep = 160

	payloadTypePCMU = 0
)

// Frame wraps payload in an RTP packet carrying seq. The timestamp follows
// the sequence so an echoed packet still carries the sender pacing.
func Frame(seq uint16, payload []byte) ([]byte, error) {
	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    payloadTypePCMU,
			SequenceNumber: seq,
			Timestamp:      uint32(seq) * TimestampStep,
			SSRC:           ProbeSSRC,
		},
		Payload: payload,
	}

	data, err := packet.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rtp packet %d: %w", seq, err)
	}
	return data, nil
}

// Parse decodes an RTP packet. The payload aliases data.
func Parse(data []byte) (*rtp.Packet, error) {
	packet := &rtp.Packet{}
	if err := packet.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("failed to parse rtp packet: %w", err)
	}
	return packet, nil
}

// Sequence returns the sequence number of a framed packet.
func Sequence(data []byte) (uint16, bool) {
	packet := &rtp.Packet{}
	if err := packet.Unmarshal(data); err != nil {
		return 0, false
	}
	return packet.SequenceNumber, true
}
