package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/cruciblebench/crucible/detect"
)

// State is the terminal state of an interactive session. The non-terminal
// phases of a run (starting, streaming output, answering a detected prompt)
// are implicit in the Run loop and never surface in a Result.
type State string

const (
	StateCompleted   State = "completed"
	StateHardTimeout State = "hard_timeout"
	StateIdleTimeout State = "idle_timeout"
	StateCancelled   State = "cancelled"
	StateStreamError State = "stream_error"
)

const (
	// readBufSize is the size of each read from the terminal.
	readBufSize = 4096
	// pollInterval drives the periodic waiting-state check.
	pollInterval = 1 * time.Second
	// drainGrace is how long to wait after process exit for trailing output.
	drainGrace = 100 * time.Millisecond
	// respondCooldown suppresses repeat responses to the same stuck prompt.
	respondCooldown = 3 * time.Second
	// killGrace is how long to wait after SIGTERM before SIGKILL.
	killGrace = 5 * time.Second
)

// Options configures an interactive session.
type Options struct {
	Command     string
	Args        []string
	Dir         string
	Env         []string
	HardTimeout time.Duration
	IdleTimeout time.Duration
	// MaxResponses caps how many times the engine auto-responds. Zero means
	// unlimited.
	MaxResponses int
	Detector     detect.Detector
	Logger       *slog.Logger

	// startPTY is injectable for tests; defaults to pty.Start.
	startPTY func(*exec.Cmd) (*os.File, error)
}

// Result is the outcome of a session run.
type Result struct {
	State      State
	ExitCode   int
	Responses  int
	Duration   time.Duration
	Transcript *Transcript
	Err        error
}

// Engine runs an agent command under a pseudo-terminal, watches its output
// for waiting states, and injects canned responses to keep it moving. The
// agent never learns it is talking to a machine.
type Engine struct {
	opts Options
}

// NewEngine creates an engine with the given options. HardTimeout and
// IdleTimeout must be positive.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Command == "" {
		return nil, fmt.Errorf("session: command is required")
	}
	if opts.HardTimeout <= 0 {
		return nil, fmt.Errorf("session: hard timeout must be positive")
	}
	if opts.IdleTimeout <= 0 {
		return nil, fmt.Errorf("session: idle timeout must be positive")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.startPTY == nil {
		opts.startPTY = pty.Start
	}
	return &Engine{opts: opts}, nil
}

type readChunk struct {
	data []byte
	err  error
}

// Run executes the session to completion. It always reaps the child process
// before returning, regardless of how the session ends.
func (e *Engine) Run(ctx context.Context) *Result {
	start := time.Now()
	res := &Result{Transcript: NewTranscript(), ExitCode: -1}

	cmd := exec.Command(e.opts.Command, e.opts.Args...)
	cmd.Dir = e.opts.Dir
	if len(e.opts.Env) > 0 {
		cmd.Env = append(os.Environ(), e.opts.Env...)
	}

	tty, err := e.opts.startPTY(cmd)
	if err != nil {
		res.State = StateStreamError
		res.Err = fmt.Errorf("session: start pty: %w", err)
		res.Duration = time.Since(start)
		return res
	}
	defer func() { _ = tty.Close() }()

	// A sane fixed size keeps TUI agents from degenerate zero-width layouts.
	_ = pty.Setsize(tty, &pty.Winsize{Rows: 40, Cols: 120})

	e.opts.Logger.Debug("session started",
		"command", e.opts.Command,
		"pid", cmd.Process.Pid)

	readCh := make(chan readChunk, 64)
	go func() {
		for {
			buf := make([]byte, readBufSize)
			n, err := tty.Read(buf)
			if n > 0 {
				readCh <- readChunk{data: buf[:n]}
			}
			if err != nil {
				readCh <- readChunk{err: err}
				return
			}
		}
	}()

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	hardTimer := time.NewTimer(e.opts.HardTimeout)
	defer hardTimer.Stop()
	idleTimer := time.NewTimer(e.opts.IdleTimeout)
	defer idleTimer.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	deadline := start.Add(e.opts.HardTimeout)
	var lastRespond time.Time
	streamDone := false

	resetIdle := func() {
		if !idleTimer.Stop() {
			select {
			case <-idleTimer.C:
			default:
			}
		}
		idleTimer.Reset(e.opts.IdleTimeout)
	}

	finish := func(state State, err error) *Result {
		res.State = state
		res.Err = err
		res.ExitCode = e.terminate(cmd, waitCh, readCh, res.Transcript)
		res.Duration = time.Since(start)
		return res
	}

	// tryRespond runs the detector over the output tail and answers a waiting
	// state, subject to the cooldown and the response budget. It is invoked
	// after each read and once per poll tick.
	tryRespond := func() {
		if e.opts.Detector == nil {
			return
		}
		if time.Since(lastRespond) < respondCooldown {
			return
		}
		if e.opts.MaxResponses > 0 && res.Responses >= e.opts.MaxResponses {
			return
		}
		tail := res.Transcript.Tail(detect.DefaultWindowBytes)
		v := e.opts.Detector.Detect(ctx, tail)
		if !v.Waiting {
			return
		}
		e.opts.Logger.Info("waiting state detected",
			"kind", v.Kind.String(),
			"response", v.Response)
		if _, err := tty.WriteString(v.Response + "\n"); err != nil {
			e.opts.Logger.Warn("response write failed", "error", err)
			return
		}
		res.Transcript.AppendResponse(v.Response + "\n")
		res.Responses++
		lastRespond = time.Now()
		resetIdle()
	}

	for {
		select {
		case <-ctx.Done():
			return finish(StateCancelled, ctx.Err())

		case <-hardTimer.C:
			e.opts.Logger.Warn("session hard timeout", "elapsed", time.Since(start))
			return finish(StateHardTimeout, nil)

		case <-idleTimer.C:
			// Hard expiry wins when both fire in the same instant.
			if !time.Now().Before(deadline) {
				return finish(StateHardTimeout, nil)
			}
			e.opts.Logger.Warn("session idle timeout", "idle", e.opts.IdleTimeout)
			return finish(StateIdleTimeout, nil)

		case chunk := <-readCh:
			if chunk.err != nil {
				// The terminal reports EIO (or EOF) once the child exits, so
				// a closed stream normally just precedes the wait result.
				streamDone = true
				select {
				case werr := <-waitCh:
					res.State = StateCompleted
					res.ExitCode = exitCode(werr)
					res.Duration = time.Since(start)
					return res
				case <-time.After(killGrace):
					// A stream that breaks after output was produced is a
					// completed run; stream errors mean the terminal died
					// before emitting anything.
					if res.Transcript.Len() > 0 {
						return finish(StateCompleted, nil)
					}
					return finish(StateStreamError, fmt.Errorf("session: read pty: %w", chunk.err))
				case <-ctx.Done():
					return finish(StateCancelled, ctx.Err())
				}
			}
			res.Transcript.AppendOutput(chunk.data)
			resetIdle()
			tryRespond()

		case werr := <-waitCh:
			// Drain trailing output still buffered in the terminal.
			e.drain(readCh, res.Transcript, streamDone)
			res.State = StateCompleted
			res.ExitCode = exitCode(werr)
			res.Duration = time.Since(start)
			e.opts.Logger.Debug("session completed",
				"exit_code", res.ExitCode,
				"duration", res.Duration,
				"responses", res.Responses)
			return res

		case <-ticker.C:
			tryRespond()
		}
	}
}

// drain pulls any remaining buffered output after process exit.
func (e *Engine) drain(readCh <-chan readChunk, tr *Transcript, streamDone bool) {
	if streamDone {
		return
	}
	timer := time.NewTimer(drainGrace)
	defer timer.Stop()
	for {
		select {
		case chunk := <-readCh:
			if chunk.err != nil {
				return
			}
			tr.AppendOutput(chunk.data)
		case <-timer.C:
			return
		}
	}
}

// terminate stops the child and reaps it, escalating from SIGTERM to SIGKILL.
// Returns the exit code, or -1 if unavailable.
func (e *Engine) terminate(cmd *exec.Cmd, waitCh <-chan error, readCh <-chan readChunk, tr *Transcript) int {
	if cmd.Process == nil {
		return -1
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	timer := time.NewTimer(killGrace)
	defer timer.Stop()
	for {
		select {
		case werr := <-waitCh:
			e.drain(readCh, tr, false)
			return exitCode(werr)
		case chunk := <-readCh:
			if chunk.err == nil {
				tr.AppendOutput(chunk.data)
			}
		case <-timer.C:
			_ = cmd.Process.Kill()
			werr := <-waitCh
			return exitCode(werr)
		}
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
