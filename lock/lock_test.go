package lock

import (
	"testing"

	"openenterprise/fwupdater/errcode"
)

func TestInitialStateIsLocked(t *testing.T) {
	var m Manager
	if !m.IsLocked() {
		t.Fatal("zero value Manager should start Locked")
	}
}

func TestUnlockViaProgramPin(t *testing.T) {
	var m Manager
	var uid [16]byte
	var prefix [UIDPrefixLen]byte

	got := m.Unlock(true, uid, prefix)
	if got != errcode.Success {
		t.Fatalf("Unlock via program pin returned %v, want Success", got)
	}
	if m.IsLocked() {
		t.Fatal("expected Unlocked after program-pin unlock")
	}
}

func TestUnlockViaMatchingUID(t *testing.T) {
	var m Manager
	uid := [16]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xAA, 0xBB, 0xCC, 0xFF, 0xFF, 0xFF, 0xFF}
	var prefix [UIDPrefixLen]byte
	copy(prefix[:], uid[:UIDPrefixLen])

	got := m.Unlock(false, uid, prefix)
	if got != errcode.Success {
		t.Fatalf("Unlock with matching UID prefix returned %v, want Success", got)
	}
	if m.IsLocked() {
		t.Fatal("expected Unlocked after matching UID unlock")
	}
}

func TestUnlockViaMismatchedUIDStaysLocked(t *testing.T) {
	var m Manager
	uid := [16]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xAA, 0xBB, 0xCC, 0, 0, 0, 0}
	prefix := [UIDPrefixLen]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xAA, 0xBB, 0xCD} // last byte wrong

	got := m.Unlock(false, uid, prefix)
	if got != errcode.UIDMismatch {
		t.Fatalf("Unlock with mismatched UID returned %v, want UIDMismatch", got)
	}
	if !m.IsLocked() {
		t.Fatal("state must remain Locked after a failed UID unlock")
	}
}

func TestUnlockOnlyComparesFirst12Of16Bytes(t *testing.T) {
	// Bytes 12-15 of the UID differ from what a hypothetical longer
	// frame payload would carry, but the comparison never looks past
	// byte 11 (spec §9 Open Question 2): a mismatch there must not
	// affect the outcome.
	var m Manager
	uid := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 0xDE, 0xAD, 0xBE, 0xEF}
	prefix := [UIDPrefixLen]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}

	got := m.Unlock(false, uid, prefix)
	if got != errcode.Success {
		t.Fatalf("Unlock returned %v, want Success (bytes 12-15 must be ignored)", got)
	}
}

func TestResetReturnsToLocked(t *testing.T) {
	var m Manager
	m.Unlock(true, [16]byte{}, [UIDPrefixLen]byte{})
	m.Reset()
	if !m.IsLocked() {
		t.Fatal("Reset should return to Locked")
	}
}

func TestStateString(t *testing.T) {
	if Locked.String() != "LOCKED" {
		t.Fatalf("Locked.String() = %q", Locked.String())
	}
	if Unlocked.String() != "UNLOCKED" {
		t.Fatalf("Unlocked.String() = %q", Unlocked.String())
	}
}
