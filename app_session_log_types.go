package main

// SessionLogEntry represents a single entry in the diagnostics log panel.
// Seq is a monotonically increasing sequence number assigned at write time,
// enabling stable frontend deduplication across snapshot fetches.
type SessionLogEntry struct {
	Seq       uint64 `json:"seq"`
	Timestamp string `json:"ts"` // "20060102150405" format
	Level     string `json:"level"`
	Message   string `json:"msg"`
	Source    string `json:"source"` // slog group or component name
}

// sessionLogRingBuffer is a fixed-capacity circular buffer for
// SessionLogEntry. It avoids O(N) slice copies on every append by
// overwriting the oldest entry when full.
//
// Not safe for concurrent use; callers must hold sessionLogMu.
type sessionLogRingBuffer struct {
	buf   []SessionLogEntry
	head  int // index of the oldest entry
	count int // number of valid entries (0..cap)
}

func newSessionLogRingBuffer(capacity int) sessionLogRingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return sessionLogRingBuffer{
		buf: make([]SessionLogEntry, capacity),
	}
}

// push appends an entry, overwriting the oldest when full.
func (rb *sessionLogRingBuffer) push(entry SessionLogEntry) {
	bufCap := len(rb.buf)
	if bufCap == 0 {
		return
	}
	if rb.count < bufCap {
		rb.buf[(rb.head+rb.count)%bufCap] = entry
		rb.count++
	} else {
		rb.buf[rb.head] = entry
		rb.head = (rb.head + 1) % bufCap
	}
}

// snapshot returns all entries in chronological order, oldest first. The
// returned slice is independent of the ring buffer's internal storage.
func (rb *sessionLogRingBuffer) snapshot() []SessionLogEntry {
	if rb.count == 0 {
		return []SessionLogEntry{}
	}

	out := make([]SessionLogEntry, rb.count)
	bufCap := len(rb.buf)

	first := min(bufCap-rb.head, rb.count)
	copy(out, rb.buf[rb.head:rb.head+first])
	if rest := rb.count - first; rest > 0 {
		copy(out[first:], rb.buf[:rest])
	}
	return out
}

func (rb *sessionLogRingBuffer) len() int {
	return rb.count
}
