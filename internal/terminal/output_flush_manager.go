package terminal

import (
	"bytes"
	"sync"
	"time"
)

var flushBufferPool = sync.Pool{
	New: func() any {
		return &bytes.Buffer{}
	},
}

type streamChunk struct {
	streamID string
	data     []byte
}

type streamState struct {
	buf          *bytes.Buffer
	lastWriteAt  time.Time
	pendingSince time.Time
}

// OutputFlushManager batches per-session output with a single background
// worker, so a burst of shell output reaches the frontend as a few large
// chunks instead of a packet per read. One shared loop serves every stream.
type OutputFlushManager struct {
	mu sync.Mutex

	interval       time.Duration
	maxBytes       int
	maxBufferedAge time.Duration
	emit           func(streamID string, data []byte)

	streams map[string]*streamState

	started  bool
	stopped  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	kickCh   chan struct{}
	stopOnce sync.Once
}

// NewOutputFlushManager creates a shared output flusher (16ms / 8KB default).
func NewOutputFlushManager(interval time.Duration, maxBytes int, emit func(string, []byte)) *OutputFlushManager {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	if maxBytes <= 0 {
		maxBytes = 8 * 1024
	}
	if emit == nil {
		emit = func(string, []byte) {}
	}
	maxBufferedAge := interval * 4
	if maxBufferedAge < 64*time.Millisecond {
		maxBufferedAge = 64 * time.Millisecond
	}
	return &OutputFlushManager{
		interval:       interval,
		maxBytes:       maxBytes,
		maxBufferedAge: maxBufferedAge,
		emit:           emit,
		streams:        map[string]*streamState{},
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
		kickCh:         make(chan struct{}, 1),
	}
}

// Start starts the shared flush loop.
func (m *OutputFlushManager) Start() {
	m.mu.Lock()
	if m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go m.run()
}

func (m *OutputFlushManager) run() {
	defer close(m.doneCh)

	wait := m.interval
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-m.stopCh:
			m.flushAll()
			return
		case <-m.kickCh:
			flushed := m.flushReady(true)
			wait = m.nextInterval(flushed)
			restartTimer(timer, wait)
		case <-timer.C:
			flushed := m.flushReady(false)
			wait = m.nextInterval(flushed)
			timer.Reset(wait)
		}
	}
}

func restartTimer(timer *time.Timer, interval time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(interval)
}

// nextInterval backs the timer off when few streams are active.
func (m *OutputFlushManager) nextInterval(flushed int) time.Duration {
	if flushed <= 2 {
		return m.interval * 2
	}
	return m.interval
}

// Write appends output for one stream. The bytes are copied; callers may
// reuse data immediately.
func (m *OutputFlushManager) Write(streamID string, data []byte) {
	if streamID == "" || len(data) == 0 {
		return
	}
	kick := false
	now := time.Now()

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	state := m.streams[streamID]
	if state == nil {
		buf := flushBufferPool.Get().(*bytes.Buffer)
		buf.Reset()
		state = &streamState{buf: buf}
		m.streams[streamID] = state
	}
	if state.buf.Len() == 0 {
		state.pendingSince = now
	}
	state.lastWriteAt = now
	_, _ = state.buf.Write(data)
	if state.buf.Len() >= m.maxBytes {
		kick = true
	}
	m.mu.Unlock()

	if kick {
		select {
		case m.kickCh <- struct{}{}:
		default:
		}
	}
}

// RetainStreams drops buffers for streams not present in existing, flushing
// their pending data first. Returns the dropped stream ids. An empty set
// drops everything.
func (m *OutputFlushManager) RetainStreams(existing map[string]struct{}) []string {
	removed := make([]string, 0)
	chunks := make([]streamChunk, 0)

	m.mu.Lock()
	for streamID, state := range m.streams {
		if _, ok := existing[streamID]; ok {
			continue
		}
		removed = append(removed, streamID)
		if state != nil {
			if chunk, ok := m.flushStateLocked(streamID, state); ok {
				chunks = append(chunks, chunk)
			}
			m.releaseStateLocked(state)
		}
		delete(m.streams, streamID)
	}
	m.mu.Unlock()

	m.emitChunks(chunks)
	return removed
}

// RemoveStream drops one stream's buffer and flushes its pending data.
func (m *OutputFlushManager) RemoveStream(streamID string) {
	if streamID == "" {
		return
	}
	var chunk streamChunk
	var hasChunk bool

	m.mu.Lock()
	state := m.streams[streamID]
	if state != nil {
		chunk, hasChunk = m.flushStateLocked(streamID, state)
		m.releaseStateLocked(state)
		delete(m.streams, streamID)
	}
	m.mu.Unlock()

	if hasChunk {
		m.emit(chunk.streamID, chunk.data)
	}
}

func (m *OutputFlushManager) flushReady(forceLargeOnly bool) int {
	now := time.Now()
	chunks := make([]streamChunk, 0)

	m.mu.Lock()
	for streamID, state := range m.streams {
		if state == nil {
			continue
		}
		if chunk, ok := m.shouldFlushStateLocked(streamID, state, now, forceLargeOnly); ok {
			chunks = append(chunks, chunk)
		}
	}
	m.mu.Unlock()

	m.emitChunks(chunks)
	return len(chunks)
}

func (m *OutputFlushManager) flushAll() {
	chunks := make([]streamChunk, 0)

	m.mu.Lock()
	for streamID, state := range m.streams {
		if state == nil {
			continue
		}
		if chunk, ok := m.flushStateLocked(streamID, state); ok {
			chunks = append(chunks, chunk)
		}
		m.releaseStateLocked(state)
		delete(m.streams, streamID)
	}
	m.mu.Unlock()
	m.emitChunks(chunks)
}

func (m *OutputFlushManager) shouldFlushStateLocked(
	streamID string,
	state *streamState,
	now time.Time,
	forceLargeOnly bool,
) (streamChunk, bool) {
	if state.buf == nil || state.buf.Len() == 0 {
		return streamChunk{}, false
	}
	if forceLargeOnly {
		if state.buf.Len() < m.maxBytes {
			return streamChunk{}, false
		}
		return m.flushStateLocked(streamID, state)
	}

	quietFor := now.Sub(state.lastWriteAt)
	pendingFor := now.Sub(state.pendingSince)
	if state.buf.Len() < m.maxBytes && quietFor < m.interval && pendingFor < m.maxBufferedAge {
		return streamChunk{}, false
	}
	return m.flushStateLocked(streamID, state)
}

func (m *OutputFlushManager) flushStateLocked(
	streamID string,
	state *streamState,
) (streamChunk, bool) {
	if state == nil || state.buf == nil || state.buf.Len() == 0 {
		return streamChunk{}, false
	}
	data := append([]byte(nil), state.buf.Bytes()...)
	state.buf.Reset()
	state.pendingSince = time.Time{}
	return streamChunk{streamID: streamID, data: data}, len(data) > 0
}

func (m *OutputFlushManager) releaseStateLocked(state *streamState) {
	if state == nil || state.buf == nil {
		return
	}
	state.buf.Reset()
	flushBufferPool.Put(state.buf)
	state.buf = nil
}

func (m *OutputFlushManager) emitChunks(chunks []streamChunk) {
	for _, chunk := range chunks {
		if len(chunk.data) == 0 {
			continue
		}
		m.emit(chunk.streamID, chunk.data)
	}
}

// Stop stops the manager and flushes pending data.
func (m *OutputFlushManager) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopped = true
		started := m.started
		m.mu.Unlock()

		if !started {
			m.flushAll()
			close(m.doneCh)
			return
		}
		close(m.stopCh)
		<-m.doneCh
	})
}
