//go:build windows

package terminal

// Start launches the shell in pipe mode. Windows builds never allocate a
// PTY here; input gets CRLF-normalized and resizes are ignored.
func Start(cfg Config) (*Terminal, error) {
	if cfg.Shell == "" {
		cfg.Shell = defaultShell()
	}
	if cfg.Columns <= 0 {
		cfg.Columns = defaultCols
	}
	if cfg.Rows <= 0 {
		cfg.Rows = defaultRows
	}
	return startPipeMode(cfg)
}

func defaultShell() string {
	return "powershell.exe"
}
