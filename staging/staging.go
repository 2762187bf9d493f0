// Package staging implements the command engine's RAM staging buffer:
// a fixed-capacity region that receives streamed SEND_DATA payload
// fragments before they are committed to flash by PROGRAM or
// UPDATE_BOOT_DESC. It is a pre-allocated fixed array rather than a
// heap slice, consistent with this codebase's other fixed-size
// buffers (telemetry's circular queues, the bus session's frame
// buffers).
package staging

// Cap is the staging buffer's fixed capacity.
const Cap = 4096

// Buffer is a fixed 4 KiB RAM region with a monotonically
// non-decreasing append cursor. The zero value is ready to use.
type Buffer struct {
	data   [Cap]byte
	cursor int
}

// Cursor returns the current append offset, in [0, Cap].
func (b *Buffer) Cursor() int {
	return b.cursor
}

// Append copies bytes at the current cursor and advances it.
//
// The capacity check uses strict "<", not "<=": the buffer refuses a
// write once cursor+len(bytes) would reach or exceed Cap, so it
// accepts at most Cap-1 bytes total before refusing. Intentionally
// conservative and preserved verbatim (DESIGN.md, Open Question 4),
// not an off-by-one bug to fix.
//
// On refusal the cursor is left unchanged and ok is false; the caller
// maps that to RAM_OVERFLOW.
func (b *Buffer) Append(bytes []byte) (ok bool) {
	if b.cursor+len(bytes) >= Cap {
		return false
	}
	copy(b.data[b.cursor:], bytes)
	b.cursor += len(bytes)
	return true
}

// Reset returns the cursor to zero. Called after every successful
// flash commit (PROGRAM, UPDATE_BOOT_DESC) and after any sector erase.
func (b *Buffer) Reset() {
	b.cursor = 0
}

// Slice returns a read view of the first n staged bytes. n must be
// <= Cursor(); callers that violate this get a shorter slice rather
// than a panic, since the staging buffer never trusts wire-supplied
// lengths blindly.
func (b *Buffer) Slice(n int) []byte {
	if n > b.cursor {
		n = b.cursor
	}
	if n < 0 {
		n = 0
	}
	return b.data[:n]
}
