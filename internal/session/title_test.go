package session

import "testing"

func TestParseTitle(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"user at host with path", "alice@host: /home/alice/proj", "alice/proj (alice@host)"},
		{"single component path", "bob@box: /srv", "srv (bob@box)"},
		{"root path", "alice@host: /", "/ (alice@host)"},
		{"tilde path", "alice@host: ~", "~ (alice@host)"},
		{"no pattern passes through", "vim README.md", "vim README.md"},
		{"missing space after colon", "alice@host:/home/alice", "alice@host:/home/alice"},
		{"vte default", "Terminal", "Terminal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseTitle(tt.raw); got != tt.want {
				t.Fatalf("ParseTitle(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestShortPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/home/alice/proj", "alice/proj"},
		{"/home/alice/proj/", "alice/proj"},
		{"/srv", "srv"},
		{"/", "/"},
		{"", ""},
		{"relative/dir", "relative/dir"},
		{"single", "single"},
	}
	for _, tt := range tests {
		if got := ShortPath(tt.path); got != tt.want {
			t.Errorf("ShortPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
