package session

import "testing"

func TestIdentityIgnoresMetadata(t *testing.T) {
	a := New(1, 1, "/home/alice", "one")
	b := New(1, 1, "/srv/other", "two")

	if a.Key() != b.Key() {
		t.Fatalf("sessions with equal (pid, ptyFD) must share a key")
	}

	seen := map[Key]string{a.Key(): "a"}
	if got := seen[b.Key()]; got != "a" {
		t.Fatalf("map lookup by identity failed: got %q", got)
	}
}

func TestTitleSurvivesMutationAsMapKey(t *testing.T) {
	s := New(7, 7, "/home/alice/proj", "")
	byKey := map[Key]*Session{s.Key(): s}

	s.Title = "renamed"
	s.CWD = "/elsewhere"

	if got := byKey[s.Key()]; got != s {
		t.Fatalf("mutating title/cwd broke map lookup by key")
	}
}

func TestNewDefaultsTitleFromCWD(t *testing.T) {
	tests := []struct {
		cwd  string
		want string
	}{
		{"/home/alice/proj", "alice/proj"},
		{"/srv", "srv"},
		{"/", "/"},
	}
	for _, tt := range tests {
		if got := New(1, 1, tt.cwd, "").Title; got != tt.want {
			t.Errorf("New(cwd=%q).Title = %q, want %q", tt.cwd, got, tt.want)
		}
	}
}

func TestNewKeepsExplicitTitle(t *testing.T) {
	if got := New(1, 1, "/home/alice", "scratch").Title; got != "scratch" {
		t.Fatalf("explicit title overridden: got %q", got)
	}
}
