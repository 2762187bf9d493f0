package engine

import (
	"openenterprise/fwupdater/frame"
	"openenterprise/fwupdater/lock"
)

// Wire opcodes (spec §4.5 table) of the ten inbound commands. The
// three reply-only opcodes live in package frame and are never decoded
// here.
const (
	OpEraseSector    = 0
	OpSendData       = 1
	OpProgram        = 2
	OpUpdateBootDesc = 3
	OpReqData        = 10
	OpGetLastError   = 20
	OpUnlockDevice   = 30
	OpRequestUID     = 31
	OpAppVersion     = 33
	OpSetEmulation   = 100
)

// Command is the decoded, typed form of an inbound frame (Design
// Notes §9: model inbound commands as a discriminated union rather
// than branching on raw bytes throughout the engine). Dispatch type
// switches over this interface instead of re-inspecting the opcode.
type Command interface {
	// Opcode returns the wire opcode this command was decoded from.
	Opcode() uint8
}

type EraseSectorCmd struct{ Sector uint32 }

func (EraseSectorCmd) Opcode() uint8 { return OpEraseSector }

type SendDataCmd struct{ Data []byte }

func (SendDataCmd) Opcode() uint8 { return OpSendData }

type ProgramCmd struct {
	Count, Address, CRC uint32
}

func (ProgramCmd) Opcode() uint8 { return OpProgram }

type UpdateBootDescCmd struct {
	CRC  uint32
	Slot uint8
}

func (UpdateBootDescCmd) Opcode() uint8 { return OpUpdateBootDesc }

// ReqDataCmd is reserved (spec §4.5): decoded and lock-checked like
// every other mutating command, but never implemented.
type ReqDataCmd struct{}

func (ReqDataCmd) Opcode() uint8 { return OpReqData }

type GetLastErrorCmd struct{}

func (GetLastErrorCmd) Opcode() uint8 { return OpGetLastError }

type UnlockDeviceCmd struct {
	UIDPrefix [lock.UIDPrefixLen]byte
}

func (UnlockDeviceCmd) Opcode() uint8 { return OpUnlockDevice }

type RequestUIDCmd struct{}

func (RequestUIDCmd) Opcode() uint8 { return OpRequestUID }

type AppVersionCmd struct{}

func (AppVersionCmd) Opcode() uint8 { return OpAppVersion }

type SetEmulationCmd struct{ Mask uint8 }

func (SetEmulationCmd) Opcode() uint8 { return OpSetEmulation }

// UnknownCmd wraps an opcode the table has no variant for.
type UnknownCmd struct{ Op uint8 }

func (c UnknownCmd) Opcode() uint8 { return c.Op }

// decodeCommand turns a raw inbound frame into its typed Command. It
// never panics on a short or malformed payload: missing bytes decode
// as zero, the same tolerance frame.Decode itself applies to a short
// frame.
func decodeCommand(raw []byte) Command {
	opcode, count, payload := frame.Decode(raw)
	switch opcode {
	case OpEraseSector:
		return EraseSectorCmd{Sector: uint32(byteAt(payload, 0))}

	case OpSendData:
		n := int(count)
		if n > len(payload) {
			n = len(payload)
		}
		return SendDataCmd{Data: payload[:n]}

	case OpProgram:
		return ProgramCmd{
			Count:   u32At(payload, 0),
			Address: u32At(payload, 4),
			CRC:     u32At(payload, 8),
		}

	case OpUpdateBootDesc:
		return UpdateBootDescCmd{
			CRC:  u32At(payload, 0),
			Slot: byteAt(payload, 4),
		}

	case OpReqData:
		return ReqDataCmd{}

	case OpGetLastError:
		return GetLastErrorCmd{}

	case OpUnlockDevice:
		var prefix [lock.UIDPrefixLen]byte
		n := len(payload)
		if n > lock.UIDPrefixLen {
			n = lock.UIDPrefixLen
		}
		copy(prefix[:], payload[:n])
		return UnlockDeviceCmd{UIDPrefix: prefix}

	case OpRequestUID:
		return RequestUIDCmd{}

	case OpAppVersion:
		return AppVersionCmd{}

	case OpSetEmulation:
		return SetEmulationCmd{Mask: byteAt(payload, 0)}

	default:
		return UnknownCmd{Op: opcode}
	}
}

func byteAt(b []byte, i int) uint8 {
	if i >= len(b) {
		return 0
	}
	return b[i]
}

func u32At(b []byte, off int) uint32 {
	if off+4 > len(b) {
		var padded [4]byte
		copy(padded[:], b[min(off, len(b)):])
		return frame.ReadU32BE(padded[:])
	}
	return frame.ReadU32BE(b[off:])
}
