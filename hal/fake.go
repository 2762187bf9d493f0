package hal

// FakeFlash is an in-memory stand-in for the external flash driver,
// used by host-testable packages (engine, descriptor via their own
// fakes, and this package's own tests). Kept in one file with no
// build tag since it does not shadow any hardware-only symbol; it is
// an alternate implementation of the FlashDriver interface, not a
// stand-in for code that cannot compile on host.
type FakeFlash struct {
	Mem      []byte
	UniqueID [16]byte

	// ErasedSectors and ErasedPages record what was erased, so tests
	// can assert the engine erased before programming.
	ErasedSectors map[uint32]bool
	ErasedPages   map[uint32]bool

	// AllowedProgramSizes mirrors the flash controller's contract:
	// PROGRAM's count must be one of {256, 512, 1024, 4096}. The
	// command engine does not enforce this itself; it forwards the
	// value and propagates whatever the driver reports.
	AllowedProgramSizes map[int]bool

	sectorSize uint32
}

// NewFakeFlash returns a FakeFlash backed by size bytes, with the
// standard allowed PROGRAM byte counts.
func NewFakeFlash(size int, sectorSize uint32) *FakeFlash {
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = 0xFF
	}
	return &FakeFlash{
		Mem:           mem,
		ErasedSectors: make(map[uint32]bool),
		ErasedPages:   make(map[uint32]bool),
		AllowedProgramSizes: map[int]bool{
			256: true, 512: true, 1024: true, 4096: true,
		},
		sectorSize: sectorSize,
	}
}

const (
	// StatusOK is the driver's own "no error" status.
	StatusOK = 0
	// StatusBadProgramSize is returned when count isn't one of the
	// controller's required byte counts.
	StatusBadProgramSize = 0xE001
	// StatusOutOfRange is returned for an access beyond Mem.
	StatusOutOfRange = 0xE002
)

func (f *FakeFlash) EraseSector(sector uint32) (uint32, error) {
	start := sector * f.sectorSize
	end := start + f.sectorSize
	if end > uint32(len(f.Mem)) {
		return StatusOutOfRange, nil
	}
	for i := start; i < end; i++ {
		f.Mem[i] = 0xFF
	}
	f.ErasedSectors[sector] = true
	return StatusOK, nil
}

func (f *FakeFlash) ErasePage(addr uint32) (uint32, error) {
	sector := addr / f.sectorSize
	status, err := f.EraseSector(sector)
	if status == StatusOK {
		f.ErasedPages[addr] = true
	}
	return status, err
}

func (f *FakeFlash) Program(dst uint32, src []byte) (uint32, error) {
	if !f.AllowedProgramSizes[len(src)] {
		return StatusBadProgramSize, nil
	}
	if uint64(dst)+uint64(len(src)) > uint64(len(f.Mem)) {
		return StatusOutOfRange, nil
	}
	copy(f.Mem[dst:], src)
	return StatusOK, nil
}

func (f *FakeFlash) ReadFlash(addr uint32, buf []byte) error {
	if uint64(addr)+uint64(len(buf)) > uint64(len(f.Mem)) {
		return errOutOfRange
	}
	copy(buf, f.Mem[addr:])
	return nil
}

func (f *FakeFlash) ReadUniqueID() ([16]byte, error) {
	return f.UniqueID, nil
}

var errOutOfRange = fakeErr("hal: address out of range")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

// FakeGPIO is a settable program-pin reader for tests.
type FakeGPIO struct {
	Asserted bool
}

func (g *FakeGPIO) ProgramPinAsserted() bool {
	return g.Asserted
}
