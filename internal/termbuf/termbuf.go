// Package termbuf retains the tail of each session's raw output so a
// reconnecting frontend can replay it into a fresh terminal widget instead
// of starting from a blank screen.
package termbuf

import (
	"log/slog"
	"strings"
	"sync"
)

// DefaultCapacity is the per-stream replay budget when the caller passes a
// non-positive value.
const DefaultCapacity = 512 * 1024

// ring is a fixed-capacity byte ring that keeps the most recent writes.
type ring struct {
	data []byte
	head int
	size int
}

func newRing(capacity int) ring {
	if capacity <= 0 {
		capacity = 1
	}
	return ring{
		data: make([]byte, capacity),
	}
}

func (r *ring) write(chunk []byte) {
	if len(chunk) == 0 || len(r.data) == 0 {
		return
	}

	if len(chunk) >= len(r.data) {
		copy(r.data, chunk[len(chunk)-len(r.data):])
		r.head = 0
		r.size = len(r.data)
		return
	}

	n := copy(r.data[r.head:], chunk)
	if n < len(chunk) {
		copy(r.data, chunk[n:])
		r.head = len(chunk) - n
	} else {
		r.head = (r.head + n) % len(r.data)
	}

	r.size += len(chunk)
	if r.size > len(r.data) {
		r.size = len(r.data)
	}
}

func (r *ring) snapshot() []byte {
	if r.size == 0 {
		return nil
	}

	out := make([]byte, r.size)
	if r.size < len(r.data) {
		copy(out, r.data[:r.size])
		return out
	}

	n := copy(out, r.data[r.head:])
	copy(out[n:], r.data[:r.head])
	return out
}

// streamBuf holds one stream's replay ring.
// Lock ordering: always acquire Store.mu before streamBuf.mu.
type streamBuf struct {
	mu   sync.Mutex
	ring ring
}

// Store keeps per-stream replay rings.
// Lock ordering: Store.mu (coarse) then streamBuf.mu (fine). Never reverse.
// RLock covers map lookups; Lock covers map mutations.
type Store struct {
	mu       sync.RWMutex
	capacity int
	streams  map[string]*streamBuf
}

// NewStore creates a replay store with the given per-stream byte budget.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		streams:  map[string]*streamBuf{},
	}
}

// Feed records an output chunk for a stream, creating the ring on first use.
func (s *Store) Feed(streamID string, chunk []byte) {
	streamID = strings.TrimSpace(streamID)
	if streamID == "" || len(chunk) == 0 {
		if streamID == "" && len(chunk) > 0 {
			slog.Warn("[termbuf] Feed called with empty streamID, ignoring")
		}
		return
	}

	// Fast path: existing stream under read lock.
	s.mu.RLock()
	buf := s.streams[streamID]
	s.mu.RUnlock()

	if buf == nil {
		s.mu.Lock()
		buf = s.streams[streamID]
		if buf == nil {
			buf = &streamBuf{ring: newRing(s.capacity)}
			s.streams[streamID] = buf
		}
		s.mu.Unlock()
	}

	buf.mu.Lock()
	buf.ring.write(chunk)
	buf.mu.Unlock()
}

// Replay returns a copy of the retained output for a stream, oldest bytes
// first. Unknown streams yield nil.
func (s *Store) Replay(streamID string) []byte {
	streamID = strings.TrimSpace(streamID)
	if streamID == "" {
		return nil
	}

	s.mu.RLock()
	buf := s.streams[streamID]
	s.mu.RUnlock()
	if buf == nil {
		return nil
	}

	buf.mu.Lock()
	defer buf.mu.Unlock()
	return buf.ring.snapshot()
}

// Remove drops one stream's retained output.
func (s *Store) Remove(streamID string) {
	streamID = strings.TrimSpace(streamID)
	if streamID == "" {
		return
	}
	s.mu.Lock()
	delete(s.streams, streamID)
	s.mu.Unlock()
}

// Retain drops every stream not present in alive.
func (s *Store) Retain(alive map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for streamID := range s.streams {
		if _, ok := alive[streamID]; ok {
			continue
		}
		delete(s.streams, streamID)
	}
}

// Reset clears all retained output.
func (s *Store) Reset() {
	s.mu.Lock()
	s.streams = map[string]*streamBuf{}
	s.mu.Unlock()
}
