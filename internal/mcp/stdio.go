package mcp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/linmx0130/nah/internal/errs"
	"github.com/linmx0130/nah/internal/transcript"
)

// StdioConfig configures a StdioTransport.
type StdioConfig struct {
	// Name identifies the server in errors and logs.
	Name    string
	Command string
	Args    []string
	// Env holds KEY=VALUE entries merged over the current environment.
	Env []string
	// Stderr receives the child's standard error. Nil discards it.
	Stderr io.Writer
	// Transcript receives every line sent and received.
	Transcript transcript.Sink
	Timeout    time.Duration
	Logger     *zap.Logger
}

// StdioTransport talks to an MCP server running as a child process using
// newline-delimited JSON over its stdin and stdout.
type StdioTransport struct {
	name       string
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	reader     *bufio.Reader
	transcript transcript.Sink
	logger     *zap.Logger

	mu      sync.Mutex
	timeout time.Duration

	// pending holds the result channel of a read that outlived its receive
	// call. The next Receive collects it instead of starting another reader.
	pending chan readResult

	closeOnce sync.Once
	closeErr  error
}

type readResult struct {
	line []byte
	err  error
}

// NewStdioTransport prepares a transport. Call Start to spawn the process.
func NewStdioTransport(cfg StdioConfig) *StdioTransport {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = mergeEnv(os.Environ(), cfg.Env)
	if cfg.Stderr != nil {
		cmd.Stderr = cfg.Stderr
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	sink := cfg.Transcript
	if sink == nil {
		sink = transcript.Discard
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StdioTransport{
		name:       cfg.Name,
		cmd:        cmd,
		transcript: sink,
		logger:     logger,
		timeout:    timeout,
	}
}

// Start spawns the child process and wires its pipes.
func (t *StdioTransport) Start() error {
	stdin, err := t.cmd.StdinPipe()
	if err != nil {
		return errs.Wrap(errs.ProcessLaunchError, t.name, err, "stdin pipe")
	}
	stdout, err := t.cmd.StdoutPipe()
	if err != nil {
		return errs.Wrap(errs.ProcessLaunchError, t.name, err, "stdout pipe")
	}
	if err := t.cmd.Start(); err != nil {
		return errs.Wrap(errs.ProcessLaunchError, t.name, err, "start %s", t.cmd.Path)
	}
	t.stdin = stdin
	t.reader = bufio.NewReader(stdout)
	t.logger.Debug("server process started", zap.Int("pid", t.cmd.Process.Pid))
	return nil
}

// Send writes msg as one line to the child's stdin.
func (t *StdioTransport) Send(_ context.Context, msg []byte) error {
	if t.stdin == nil {
		return errs.New(errs.CommunicationError, t.name, "process not started")
	}
	if bytes.ContainsRune(msg, '\n') {
		return errs.New(errs.InvalidArgument, t.name, "message contains a newline")
	}
	t.appendTranscript(msg)

	line := make([]byte, 0, len(msg)+1)
	line = append(line, msg...)
	line = append(line, '\n')
	if _, err := t.stdin.Write(line); err != nil {
		return errs.Wrap(errs.CommunicationError, t.name, err, "write to stdin")
	}
	return nil
}

// Receive reads one line from the child's stdout. The blocking read runs
// on a reader goroutine; Receive gives up after the configured timeout and
// leaves that read pending for the next call.
func (t *StdioTransport) Receive(ctx context.Context) ([]byte, error) {
	if t.reader == nil {
		return nil, errs.New(errs.CommunicationError, t.name, "process not started")
	}
	if t.pending == nil {
		ch := make(chan readResult, 1)
		go func() {
			line, err := t.reader.ReadBytes('\n')
			ch <- readResult{line: line, err: err}
		}()
		t.pending = ch
	}

	timeout := t.currentTimeout()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-t.pending:
		t.pending = nil
		if res.err != nil {
			if len(res.line) > 0 {
				t.appendTranscript(res.line)
			}
			return nil, errs.Wrap(errs.CommunicationError, t.name, res.err, "read from stdout")
		}
		line := bytes.TrimRight(res.line, "\r\n")
		t.appendTranscript(line)
		return line, nil
	case <-timer.C:
		return nil, errs.New(errs.TimeoutError, t.name, "no message within %s", timeout)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errs.Wrap(errs.TimeoutError, t.name, ctx.Err(), "receive")
		}
		return nil, errs.Wrap(errs.CommunicationError, t.name, ctx.Err(), "receive")
	}
}

// SetTimeout changes the receive timeout.
func (t *StdioTransport) SetTimeout(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d > 0 {
		t.timeout = d
	}
}

func (t *StdioTransport) currentTimeout() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timeout
}

// Close kills the child process and reaps it.
func (t *StdioTransport) Close() error {
	t.closeOnce.Do(func() {
		if t.stdin != nil {
			_ = t.stdin.Close()
		}
		if t.cmd.Process == nil {
			return
		}
		if err := t.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			t.closeErr = errs.Wrap(errs.IOError, t.name, err, "kill server process")
		}
		// The process was killed, so its exit status carries no information.
		_ = t.cmd.Wait()
	})
	return t.closeErr
}

func (t *StdioTransport) appendTranscript(line []byte) {
	if err := t.transcript.Append(line); err != nil {
		t.logger.Warn("append transcript", zap.Error(err))
	}
}

// mergeEnv overlays KEY=VALUE overrides on base. Keys keep the position of
// their first appearance.
func mergeEnv(base, overrides []string) []string {
	values := make(map[string]string, len(base)+len(overrides))
	order := make([]string, 0, len(base)+len(overrides))
	for _, entries := range [][]string{base, overrides} {
		for _, entry := range entries {
			key, _, ok := strings.Cut(entry, "=")
			if !ok {
				continue
			}
			if _, seen := values[key]; !seen {
				order = append(order, key)
			}
			values[key] = entry
		}
	}
	merged := make([]string, 0, len(order))
	for _, key := range order {
		merged = append(merged, values[key])
	}
	return merged
}
