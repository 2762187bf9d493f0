// Package frame implements the bus wire geometry: decoding an inbound
// command frame into an opcode and payload, big-endian explicit-shift
// integer helpers, and the reply framer that fills the fixed-layout
// outbound telegram for the three reply-producing commands.
package frame

// Inbound frame layout. This geometry is inherited from the physical
// bus frame being overloaded and is preserved verbatim.
const (
	offCount   = 0
	offOpcode  = 2
	offPayload = 3

	countMask = 0x0F
)

// Decode splits an inbound frame into its opcode and payload. The
// frame must be at least offPayload bytes long; a shorter frame has
// no payload. A frame too short to hold even the count or opcode byte
// decodes as opcode 0, count 0 rather than panicking. The bus never
// trusts a peer to frame correctly.
func Decode(raw []byte) (opcode uint8, count uint8, payload []byte) {
	if len(raw) > offCount {
		count = raw[offCount] & countMask
	}
	if len(raw) > offOpcode {
		opcode = raw[offOpcode]
	}
	if len(raw) > offPayload {
		payload = raw[offPayload:]
	}
	return opcode, count, payload
}

// ReadU32BE decodes a big-endian u32 by explicit byte shift. Never
// reinterprets memory, so it tolerates unaligned frame buffers.
func ReadU32BE(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// PutU32BE encodes v into b as big-endian, by explicit byte shift.
func PutU32BE(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// Reply-frame layout constants. These are protocol-visible and must
// match the bus peer's expectations bit-for-bit.
const (
	// ReplyHeaderLen is how many bytes precede a reply frame's
	// payload; a bus client reads ReplyOpcode at ReplyOpcodeOffset and
	// the payload starting at ReplyHeaderLen.
	ReplyHeaderLen = 10
	replyHeaderLen = ReplyHeaderLen

	// ReplyOpcodeOffset is where a reply frame's response opcode sits,
	// for a bus client decoding an inbound reply.
	ReplyOpcodeOffset = 9

	offReplyLenByte  = 5
	offReplyMagic    = 6
	offReplyFlags    = 7
	offReplyReserved = 8
	offReplyOpcode   = ReplyOpcodeOffset

	replyLenBase   = 0x63
	replyMagic     = 0x42
	replyFlagsBase = 0x40
)

// InboundOffsets mirrors the private offCount/offOpcode/offPayload
// layout for callers outside this package that build raw inbound
// frames themselves (the bus-client CLI), so the wire layout is
// defined in exactly one place.
const (
	InboundOffsetCount   = offCount
	InboundOffsetOpcode  = offOpcode
	InboundOffsetPayload = offPayload
)

// Outbound response opcodes.
const (
	OpResponseUID    = 32
	OpAppVersionResp = 34
	OpLastErrorResp  = 21
)

// ReplyPayloadLen recovers the payload length BuildReply encoded into
// a reply header's length byte, so a bus client that has only read
// ReplyHeaderLen bytes knows how many more to read.
func ReplyPayloadLen(header []byte) int {
	return int(header[offReplyLenByte]) - replyLenBase
}

// BuildReply fills a fixed-layout outbound telegram carrying payload
// for one of the three reply-producing commands. Bytes 0..4 are left
// zero: they belong to the physical bus framing layer, out of scope
// here, and are filled in below this package.
func BuildReply(responseOpcode uint8, payload []byte) []byte {
	out := make([]byte, replyHeaderLen+len(payload))
	out[offReplyLenByte] = byte(replyLenBase + len(payload))
	out[offReplyMagic] = replyMagic
	out[offReplyFlags] = byte(replyFlagsBase | len(payload))
	out[offReplyReserved] = 0x00
	out[offReplyOpcode] = responseOpcode
	copy(out[replyHeaderLen:], payload)
	return out
}

// InboundFrameSize is the fixed envelope size a bridge transport reads
// per command: 3 header bytes plus the largest payload any command
// carries (SEND_DATA's 15 bytes). Shorter commands leave the remainder
// of the envelope unused; Decode never reads past what a given opcode
// needs.
const InboundFrameSize = offPayload + 15

// Bus-level acknowledgement bytes the bridge transport sends after
// every dispatched command, ahead of any reply frame. Ack and nack are
// simple bus-level signals distinct from the three reply-producing
// commands' payload-carrying frames. The physical bus framing is out
// of scope; these are this module's own choice for the TCP bridge that
// stands in for it.
const (
	AckByte  = 0x06
	NackByte = 0x15
)

// LastErrorPayload packs a last-error code as 4 bytes little-endian,
// as it sits in device memory, unlike every other multi-byte field on
// the wire, which is big-endian.
func LastErrorPayload(code uint32) []byte {
	return []byte{byte(code), byte(code >> 8), byte(code >> 16), byte(code >> 24)}
}
