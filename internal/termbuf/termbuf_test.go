package termbuf

import (
	"bytes"
	"strings"
	"testing"
)

func TestRingKeepsEverythingUnderCapacity(t *testing.T) {
	r := newRing(16)
	r.write([]byte("hello "))
	r.write([]byte("world"))

	if got := string(r.snapshot()); got != "hello world" {
		t.Fatalf("snapshot = %q, want %q", got, "hello world")
	}
}

func TestRingDropsOldestOnOverflow(t *testing.T) {
	r := newRing(8)
	r.write([]byte("abcdefgh"))
	r.write([]byte("XY"))

	if got := string(r.snapshot()); got != "cdefghXY" {
		t.Fatalf("snapshot = %q, want %q", got, "cdefghXY")
	}
}

func TestRingChunkLargerThanCapacity(t *testing.T) {
	r := newRing(4)
	r.write([]byte("0123456789"))

	if got := string(r.snapshot()); got != "6789" {
		t.Fatalf("snapshot = %q, want the last 4 bytes", got)
	}
}

func TestRingManyWrapArounds(t *testing.T) {
	r := newRing(10)
	for i := 0; i < 100; i++ {
		r.write([]byte("abc"))
	}

	got := string(r.snapshot())
	if len(got) != 10 {
		t.Fatalf("snapshot length = %d, want 10", len(got))
	}
	want := strings.Repeat("abc", 100)
	want = want[len(want)-10:]
	if got != want {
		t.Fatalf("snapshot = %q, want %q", got, want)
	}
}

func TestStoreFeedAndReplay(t *testing.T) {
	s := NewStore(64)
	s.Feed("s1", []byte("one"))
	s.Feed("s1", []byte(" two"))
	s.Feed("s2", []byte("other"))

	if got := string(s.Replay("s1")); got != "one two" {
		t.Fatalf("Replay(s1) = %q, want %q", got, "one two")
	}
	if got := string(s.Replay("s2")); got != "other" {
		t.Fatalf("Replay(s2) = %q, want %q", got, "other")
	}
}

func TestStoreReplayReturnsCopy(t *testing.T) {
	s := NewStore(64)
	s.Feed("s1", []byte("data"))

	first := s.Replay("s1")
	first[0] = 'X'

	if got := s.Replay("s1"); !bytes.Equal(got, []byte("data")) {
		t.Fatalf("mutating a replay snapshot leaked into the store: %q", got)
	}
}

func TestStoreUnknownStream(t *testing.T) {
	s := NewStore(64)
	if got := s.Replay("missing"); got != nil {
		t.Fatalf("Replay of unknown stream = %v, want nil", got)
	}
}

func TestStoreEmptyIDIsIgnored(t *testing.T) {
	s := NewStore(64)
	s.Feed("", []byte("dropped"))
	s.Feed("   ", []byte("dropped"))

	if got := s.Replay(""); got != nil {
		t.Fatalf("empty stream id must not store data")
	}
}

func TestStoreRemove(t *testing.T) {
	s := NewStore(64)
	s.Feed("s1", []byte("bye"))
	s.Remove("s1")

	if got := s.Replay("s1"); got != nil {
		t.Fatalf("Replay after Remove = %v, want nil", got)
	}
}

func TestStoreRetain(t *testing.T) {
	s := NewStore(64)
	s.Feed("s1", []byte("keep"))
	s.Feed("s2", []byte("drop"))
	s.Feed("s3", []byte("drop"))

	s.Retain(map[string]struct{}{"s1": {}})

	if got := string(s.Replay("s1")); got != "keep" {
		t.Fatalf("Replay(s1) = %q, want %q", got, "keep")
	}
	if s.Replay("s2") != nil || s.Replay("s3") != nil {
		t.Fatal("retained streams outside the alive set")
	}
}

func TestStoreReset(t *testing.T) {
	s := NewStore(64)
	s.Feed("s1", []byte("gone"))
	s.Reset()

	if got := s.Replay("s1"); got != nil {
		t.Fatalf("Replay after Reset = %v, want nil", got)
	}
}
