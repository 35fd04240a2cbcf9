package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxMessageSize is the receive buffer used on both sides. Anything longer
// is cut to this size by the read call.
const MaxMessageSize = 1024

const (
	AckPrefix      = "ACK"
	ReceivedPrefix = "Received Packet"
)

// PacketMessage returns the counter message "Packet N".
func PacketMessage(n int) []byte {
	return []byte(fmt.Sprintf("Packet %d", n))
}

// IndexMessage returns i as a decimal zero padded to width digits.
func IndexMessage(i, width int) []byte {
	s := strconv.Itoa(i)
	if len(s) < width {
		s = strings.Repeat("0", width-len(s)) + s
	}
	return []byte(s)
}

// Ack concatenates prefix and msg into a fresh slice.
func Ack(prefix, msg []byte) []byte {
	out := make([]byte, 0, len(prefix)+len(msg))
	out = append(out, prefix...)
	return append(out, msg...)
}

// Truncate cuts msg to size the way a fixed receive buffer would.
func Truncate(msg []byte, size int) []byte {
	if size > 0 && len(msg) > size {
		return msg[:size]
	}
	return msg
}
