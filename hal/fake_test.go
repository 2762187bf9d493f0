package hal

import "testing"

func TestEraseSectorFillsWithFF(t *testing.T) {
	f := NewFakeFlash(8192, 4096)
	for i := range f.Mem {
		f.Mem[i] = 0xAB
	}
	status, err := f.EraseSector(1)
	if err != nil || status != StatusOK {
		t.Fatalf("EraseSector(1) = %#x, %v", status, err)
	}
	for i := 4096; i < 8192; i++ {
		if f.Mem[i] != 0xFF {
			t.Fatalf("byte %d = %#x, want 0xFF after erase", i, f.Mem[i])
		}
	}
	if !f.ErasedSectors[1] {
		t.Fatal("ErasedSectors[1] should be recorded")
	}
}

func TestEraseSectorOutOfRange(t *testing.T) {
	f := NewFakeFlash(4096, 4096)
	status, err := f.EraseSector(5)
	if err != nil || status != StatusOutOfRange {
		t.Fatalf("EraseSector(5) = %#x, %v, want StatusOutOfRange", status, err)
	}
}

func TestProgramRejectsDisallowedSize(t *testing.T) {
	f := NewFakeFlash(4096, 4096)
	status, err := f.Program(0, []byte{1, 2, 3})
	if err != nil || status != StatusBadProgramSize {
		t.Fatalf("Program with 3 bytes = %#x, %v, want StatusBadProgramSize", status, err)
	}
}

func TestProgramWritesAllowedSize(t *testing.T) {
	f := NewFakeFlash(4096, 4096)
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	status, err := f.Program(100, data)
	if err != nil || status != StatusOK {
		t.Fatalf("Program(100, 256 bytes) = %#x, %v", status, err)
	}
	got := make([]byte, 256)
	if err := f.ReadFlash(100, got); err != nil {
		t.Fatal(err)
	}
	if string(got) != string(data) {
		t.Fatal("ReadFlash did not round-trip Program's bytes")
	}
}

func TestReadFlashOutOfRange(t *testing.T) {
	f := NewFakeFlash(4096, 4096)
	err := f.ReadFlash(4000, make([]byte, 200))
	if err == nil {
		t.Fatal("ReadFlash past the end of Mem should error")
	}
}

func TestReadUniqueID(t *testing.T) {
	f := NewFakeFlash(4096, 4096)
	f.UniqueID = [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	got, err := f.ReadUniqueID()
	if err != nil || got != f.UniqueID {
		t.Fatalf("ReadUniqueID() = %v, %v", got, err)
	}
}

func TestErasePageRecordsAndErasesContainingSector(t *testing.T) {
	f := NewFakeFlash(8192, 4096)
	for i := range f.Mem {
		f.Mem[i] = 0x11
	}
	status, err := f.ErasePage(4200)
	if err != nil || status != StatusOK {
		t.Fatalf("ErasePage(4200) = %#x, %v", status, err)
	}
	if !f.ErasedPages[4200] {
		t.Fatal("ErasedPages[4200] should be recorded")
	}
	if !f.ErasedSectors[1] {
		t.Fatal("ErasePage must erase the containing sector (sector 1)")
	}
	if f.Mem[4096] != 0xFF {
		t.Fatal("containing sector was not actually erased")
	}
}

func TestFakeGPIOProgramPinAsserted(t *testing.T) {
	g := &FakeGPIO{}
	if g.ProgramPinAsserted() {
		t.Fatal("zero value FakeGPIO should report the pin deasserted")
	}
	g.Asserted = true
	if !g.ProgramPinAsserted() {
		t.Fatal("FakeGPIO should report Asserted once set")
	}
}
