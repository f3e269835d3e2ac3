package terminal

import (
	"io"
	"os"
	"os/exec"
	"sync"

	"treeterm/internal/procutil"
)

const (
	defaultCols = 120
	defaultRows = 40
)

// Config configures a terminal process.
type Config struct {
	Shell   string
	Args    []string
	Dir     string
	Env     []string
	Columns int
	Rows    int
}

// Terminal wraps one shell process behind a PTY, with a pipe fallback for
// hosts where no PTY can be allocated.
type Terminal struct {
	mu       sync.RWMutex
	cmd      *exec.Cmd
	ptmx     *os.File       // PTY master (creack/pty); nil in pipe mode
	stdin    io.WriteCloser // pipe fallback
	stdout   io.ReadCloser  // pipe fallback
	stderr   io.ReadCloser  // pipe fallback
	closed   bool
	closeErr error
}

// startPipeMode runs the shell over plain stdio pipes. cfg.Shell and
// cfg.Args come from validated application config, never from frontend input.
func startPipeMode(cfg Config) (*Terminal, error) {
	cmd := exec.Command(cfg.Shell, cfg.Args...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = cfg.Env
	}
	procutil.HideWindow(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, err
	}
	return &Terminal{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}, nil
}
