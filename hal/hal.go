// Package hal declares the hardware collaborators the command engine
// depends on but never implements itself: flash programming
// primitives and the GPIO "program pin" reader. Both are implemented
// twice, once for the RP2350 target behind a tinygo build tag using
// direct ROM function calls, once as an in-memory fake for host
// testing.
package hal

// FlashDriver is the external flash-programming collaborator:
// eraseSector, erasePage, program, readUniqueId. Erase and Program
// return the underlying driver's own status code alongside a Go
// error; a nonzero status on a nil error is a device-specific error
// the engine passes through to the bus client unchanged.
type FlashDriver interface {
	// EraseSector erases the 4 KiB sector with index sector and
	// reports the driver's own status code.
	EraseSector(sector uint32) (status uint32, err error)

	// ErasePage erases the flash page containing addr, ahead of
	// programming a boot descriptor into it. On a target with no
	// page-granularity erase primitive, this erases the containing
	// sector instead, documented at each implementation, not hidden
	// behind the interface.
	ErasePage(addr uint32) (status uint32, err error)

	// Program writes src to flash starting at dst.
	Program(dst uint32, src []byte) (status uint32, err error)

	// ReadFlash reads len(buf) bytes from flash starting at addr.
	// Used by the descriptor validator to re-read a committed
	// application image for its CRC and vector-table checks.
	ReadFlash(addr uint32, buf []byte) error

	// ReadUniqueID reads the chip's 16-byte factory unique ID.
	ReadUniqueID() ([16]byte, error)
}

// GPIO is the external "program pin" collaborator: a physical button
// that reports operator presence and bypasses UID-based
// authentication when asserted.
type GPIO interface {
	ProgramPinAsserted() bool
}
