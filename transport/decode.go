package transport

// MaxDecodeLen bounds how much of an inbound payload is decoded for display.
const MaxDecodeLen = 255

// Datagram is an inbound datagram. It is only valid during the receive
// callback and must not be retained.
type Datagram struct {
	Payload []byte
	Peer    Endpoint
}

// Delivery is the decoded, display-only view of a datagram.
type Delivery struct {
	Text      string
	Len       int // decoded bytes
	Total     int // received bytes
	Truncated bool
	Empty     bool
}

// Decode copies at most MaxDecodeLen bytes of payload. Truncation only
// affects what is shown, never what was received.
func Decode(payload []byte) Delivery {
	if len(payload) == 0 {
		return Delivery{Empty: true}
	}

	n := min(len(payload), MaxDecodeLen)

	return Delivery{
		Text:      string(payload[:n]),
		Len:       n,
		Total:     len(payload),
		Truncated: n < len(payload),
	}
}
