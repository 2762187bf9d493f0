// Package descriptor decides whether a 256-byte candidate boot
// descriptor block points to a startable application (spec §4.3): a
// range check, a CRC-32 over the application image, and the ARM
// Cortex-M interrupt-vector-table checksum convention.
package descriptor

import "openenterprise/fwupdater/crc"

// Size is the fixed length of a boot descriptor block (spec §3).
const Size = 256

// Field offsets within a descriptor block. All multi-byte fields are
// big-endian u32, decoded by explicit byte shift so decoding never
// depends on the candidate block's alignment in RAM (spec §4.5,
// Design Notes §9).
const (
	offStartAddress     = 0
	offEndAddress       = 4
	offCRC              = 8
	offAppVersionAddr   = 12
	versionLen          = 12
	appVersionAddrLimit = 0x50000

	startAddressCeiling = 0x5000
	endAddressCeiling   = 0x100000

	// vectorTableWords is the ARM Cortex-M convention: the first 8
	// 32-bit words of the image (the initial SP and the first 7
	// exception vectors) sum to zero modulo 2^32.
	vectorTableWords = 8
)

// Descriptor is the decoded view of a 256-byte candidate block.
type Descriptor struct {
	StartAddress      uint32
	EndAddress        uint32
	CRC               uint32
	AppVersionAddress uint32
}

// Parse decodes a 256-byte candidate block into its fields. It does
// not validate the fields; call Validate for that.
func Parse(block []byte) Descriptor {
	return Descriptor{
		StartAddress:      readU32BE(block[offStartAddress:]),
		EndAddress:        readU32BE(block[offEndAddress:]),
		CRC:               readU32BE(block[offCRC:]),
		AppVersionAddress: readU32BE(block[offAppVersionAddr:]),
	}
}

// FlashReader is the read-only view of flash the validator needs: the
// application image bytes and the interrupt vector table live in
// flash, programmed there by prior PROGRAM commits, not in the
// descriptor block itself. The real flash driver is an external
// collaborator per spec §6; this is the narrow slice of it descriptor
// validation actually touches.
type FlashReader interface {
	ReadFlash(addr uint32, buf []byte) error
}

// Validate reports whether d describes a startable application. All
// five conditions of spec §4.3 are necessary; the first false result
// short-circuits (the five-condition "and" is mathematically
// order-independent, unlike the lock manager's UID comparison).
func Validate(d Descriptor, flash FlashReader) bool {
	if d.StartAddress > startAddressCeiling {
		return false
	}
	if d.EndAddress > endAddressCeiling {
		return false
	}
	if d.StartAddress == d.EndAddress {
		return false
	}

	appLen := d.EndAddress - d.StartAddress
	appBytes := make([]byte, appLen)
	if err := flash.ReadFlash(d.StartAddress, appBytes); err != nil {
		return false
	}
	if crc.Of(appBytes) != d.CRC {
		return false
	}

	return vectorTableChecksumOK(appBytes)
}

// vectorTableChecksumOK sums the first 8 32-bit words of the image
// and reports whether the sum is zero modulo 2^32 (spec §4.3 rule 5).
// appBytes is the already-read [StartAddress, EndAddress) range, so
// the vector table sits at its front.
func vectorTableChecksumOK(appBytes []byte) bool {
	if len(appBytes) < vectorTableWords*4 {
		return false
	}
	var sum uint32
	for i := 0; i < vectorTableWords; i++ {
		sum += readU32BE(appBytes[i*4:])
	}
	return sum == 0
}

// AppVersion returns the 12 bytes of printable version metadata the
// descriptor points at. The command engine additionally refuses to
// surface this pointer when it exceeds appVersionAddrLimit, a guard
// against an uninitialized descriptor field pointing somewhere wild,
// so that check lives at the call site (engine), not here; this
// function only performs the read once the caller has decided to.
func AppVersion(d Descriptor, flash FlashReader) ([versionLen]byte, error) {
	var buf [versionLen]byte
	err := flash.ReadFlash(d.AppVersionAddress, buf[:])
	return buf, err
}

// AppVersionAddressAllowed reports whether the descriptor's version
// pointer is within the guard the engine enforces (spec §4.3).
func AppVersionAddressAllowed(d Descriptor) bool {
	return d.AppVersionAddress <= appVersionAddrLimit
}

// readU32BE decodes a big-endian u32 by explicit byte shift, never by
// reinterpreting memory, so it tolerates unaligned buffers (spec §4.5).
func readU32BE(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
