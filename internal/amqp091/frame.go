// Package amqp091 holds the AMQP 0.9.1 frame model and the byte-level
// layout of the frame wire format. It knows nothing about sockets; the
// transport package drives it.
package amqp091

import (
	"encoding/binary"
	"fmt"
)

type Type uint8

const (
	TypeMethod    Type = 1
	TypeHeader    Type = 2
	TypeBody      Type = 3
	TypeHeartbeat Type = 8
)

const (
	// HeaderLen is the fixed frame header: type(1) + channel(2) + size(4).
	HeaderLen = 7

	// FrameEnd terminates every frame on the wire.
	FrameEnd = 0xCE
)

// ProtocolHeader is sent once, immediately after the TCP (or TLS) session
// is established: "AMQP" followed by protocol id 0, major 9, minor 1.
var ProtocolHeader = []byte{'A', 'M', 'Q', 'P', 0, 0, 9, 1}

func (t Type) String() string {
	switch t {
	case TypeMethod:
		return "method"
	case TypeHeader:
		return "header"
	case TypeBody:
		return "body"
	case TypeHeartbeat:
		return "heartbeat"
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// Frame is one complete wire unit. Channel 0 is the connection channel;
// frames for different channels may legitimately interleave on one socket.
type Frame struct {
	Type    Type
	Channel uint16
	Payload []byte
}

// ParseHeader decodes the leading 7 bytes of a frame. The returned size is
// the declared payload length; the terminator byte follows the payload and
// is not counted.
func ParseHeader(hdr []byte) (t Type, channel uint16, size uint32, err error) {
	if len(hdr) < HeaderLen {
		return 0, 0, 0, fmt.Errorf("amqp091: frame header is %d bytes, need %d", len(hdr), HeaderLen)
	}
	t = Type(hdr[0])
	channel = binary.BigEndian.Uint16(hdr[1:3])
	size = binary.BigEndian.Uint32(hdr[3:7])
	return t, channel, size, nil
}

// Marshal renders the complete byte image of the frame:
// header, payload, terminator.
func (f *Frame) Marshal() []byte {
	buf := make([]byte, HeaderLen+len(f.Payload)+1)
	buf[0] = byte(f.Type)
	binary.BigEndian.PutUint16(buf[1:3], f.Channel)
	binary.BigEndian.PutUint32(buf[3:7], uint32(len(f.Payload)))
	copy(buf[HeaderLen:], f.Payload)
	buf[len(buf)-1] = FrameEnd
	return buf
}

// Size reports the full on-wire length of the frame.
func (f *Frame) Size() int {
	return HeaderLen + len(f.Payload) + 1
}
