package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// SingleShotOptions configures a non-interactive agent invocation.
type SingleShotOptions struct {
	Command     string
	Args        []string
	Dir         string
	Env         []string
	Prompt      string
	HardTimeout time.Duration
	Logger      *slog.Logger
}

// RunSingleShot invokes the agent in print mode: the prompt goes in on stdin,
// the agent runs to completion with no terminal attached, and output is
// captured wholesale. Timeout and cancellation map to the same states as
// interactive sessions.
func RunSingleShot(ctx context.Context, opts SingleShotOptions) *Result {
	start := time.Now()
	res := &Result{Transcript: NewTranscript(), ExitCode: -1}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Command == "" {
		res.State = StateStreamError
		res.Err = fmt.Errorf("session: command is required")
		return res
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if opts.HardTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.HardTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, opts.Command, opts.Args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	if opts.Prompt != "" {
		cmd.Stdin = bytes.NewReader([]byte(opts.Prompt))
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	logger.Debug("single-shot run", "command", opts.Command)
	err := cmd.Run()
	res.Transcript.AppendOutput(out.Bytes())
	res.Duration = time.Since(start)
	res.ExitCode = exitCode(err)

	switch {
	case err == nil:
		res.State = StateCompleted
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && !errors.Is(ctx.Err(), context.Canceled):
		res.State = StateHardTimeout
	case errors.Is(ctx.Err(), context.Canceled):
		res.State = StateCancelled
		res.Err = ctx.Err()
	default:
		// A nonzero exit is still a completed run; the harness judges the
		// work product, not the exit code.
		res.State = StateCompleted
	}
	return res
}
