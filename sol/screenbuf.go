package sol

import "sync"

// ConsoleBuffer is the FIFO of host-console bytes awaiting delivery to the
// remote console over SOL: writes append at the back, erase drops a prefix
// once the remote console has acknowledged it, and read exposes the front
// without consuming it. Mirrors sol::ConsoleData (console_buffer.hpp).
type ConsoleBuffer struct {
	mu   sync.Mutex
	data []byte
}

func NewConsoleBuffer() *ConsoleBuffer {
	return &ConsoleBuffer{}
}

// Size returns the number of bytes currently buffered.
func (b *ConsoleBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Write appends host console output to the back of the buffer.
func (b *ConsoleBuffer) Write(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
}

// Read returns up to n bytes from the front of the buffer without consuming
// them — the caller erases only once the remote console acknowledges.
func (b *ConsoleBuffer) Read(n int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > len(b.data) {
		n = len(b.data)
	}
	out := make([]byte, n)
	copy(out, b.data[:n])
	return out
}

// Erase drops the given number of bytes from the front of the buffer. If
// fewer bytes than requested are available, the available bytes are erased
// — mirrors ConsoleData::erase's noexcept clamping behavior.
func (b *ConsoleBuffer) Erase(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > len(b.data) {
		n = len(b.data)
	}
	b.data = b.data[n:]
}
