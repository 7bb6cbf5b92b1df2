package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"golang.org/x/sync/semaphore"

	"github.com/cruciblebench/crucible/config"
)

// ErrUnavailable is returned by evaluation when the Docker daemon cannot
// be reached.
var ErrUnavailable = errors.New("sandbox: docker not available")

// Job describes one patch evaluation.
type Job struct {
	ID          string
	Workspace   string
	Patch       string
	Image       string
	TestCommand []string
	FailToPass  []string
	PassToPass  []string
	Timeout     time.Duration
}

// TestResult records the outcome of one test identifier.
type TestResult struct {
	ID       string `json:"id"`
	Passed   bool   `json:"passed"`
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output,omitempty"`
}

// Result is the outcome of evaluating a job.
type Result struct {
	JobID      string        `json:"job_id"`
	Resolved   bool          `json:"resolved"`
	TimedOut   bool          `json:"timed_out"`
	PatchError string        `json:"patch_error,omitempty"`
	FailToPass []TestResult  `json:"fail_to_pass"`
	PassToPass []TestResult  `json:"pass_to_pass"`
	Duration   time.Duration `json:"duration"`
}

// Runner evaluates patches inside throwaway Docker containers. The daemon is
// probed once at construction; an unreachable daemon marks the runner
// unavailable and evaluations degrade to ErrUnavailable rather than failing
// the whole experiment.
type Runner struct {
	client    client.APIClient
	available bool
	reason    string
	sem       *semaphore.Weighted
	cfg       config.SandboxConfig
	logger    *slog.Logger
}

// NewRunner creates a runner bound to the local Docker daemon.
func NewRunner(cfg config.SandboxConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	par := cfg.Parallelism
	if par <= 0 {
		par = 1
	}
	r := &Runner{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(par)),
		logger: logger,
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		r.reason = err.Error()
		return r
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		r.reason = err.Error()
		_ = cli.Close()
		return r
	}

	r.client = cli
	r.available = true
	return r
}

// Available reports whether the Docker daemon was reachable, with the probe
// failure reason when it was not.
func (r *Runner) Available() (bool, string) {
	return r.available, r.reason
}

// Close releases the Docker client.
func (r *Runner) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

// Evaluate applies the job's patch at the base commit inside a fresh
// container and runs its test identifiers. The container is always removed,
// on every path. A job timeout yields Result.TimedOut rather than an error
// so it stays distinct from ordinary test failure.
func (r *Runner) Evaluate(ctx context.Context, job Job) (*Result, error) {
	if !r.available {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, r.reason)
	}
	if job.Workspace == "" {
		return nil, fmt.Errorf("sandbox: workspace is required")
	}
	img := job.Image
	if img == "" {
		img = r.cfg.Image
	}
	testCmd := job.TestCommand
	if len(testCmd) == 0 {
		testCmd = r.cfg.TestCommand
	}
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = r.cfg.Timeout()
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("sandbox: acquire slot: %w", err)
	}
	defer r.sem.Release(1)

	start := time.Now()
	res := &Result{JobID: job.ID}

	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := r.ensureImage(evalCtx, img); err != nil {
		return nil, fmt.Errorf("sandbox: pull image %s: %w", img, err)
	}

	cid, err := r.createContainer(evalCtx, job, img)
	if err != nil {
		return nil, err
	}
	defer func() {
		rmCtx, rmCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer rmCancel()
		if rerr := r.client.ContainerRemove(rmCtx, cid, container.RemoveOptions{Force: true}); rerr != nil {
			r.logger.Warn("container cleanup failed", "container", cid[:12], "error", rerr)
		}
	}()

	if job.Patch != "" {
		if err := r.applyPatch(evalCtx, cid, job); err != nil {
			if evalCtx.Err() != nil {
				res.TimedOut = true
				res.Duration = time.Since(start)
				return res, nil
			}
			res.PatchError = err.Error()
			res.Duration = time.Since(start)
			return res, nil
		}
	}

	runSet := func(ids []string) ([]TestResult, bool) {
		out := make([]TestResult, 0, len(ids))
		for _, id := range ids {
			tr, timedOut := r.runTest(evalCtx, cid, testCmd, id)
			out = append(out, tr)
			if timedOut {
				return out, true
			}
		}
		return out, false
	}

	var timedOut bool
	res.FailToPass, timedOut = runSet(job.FailToPass)
	if !timedOut {
		res.PassToPass, timedOut = runSet(job.PassToPass)
	}
	res.TimedOut = timedOut
	res.Resolved = resolveVerdict(timedOut, res.PatchError, res.FailToPass, res.PassToPass)
	res.Duration = time.Since(start)

	r.logger.Info("evaluation finished",
		"job", job.ID,
		"resolved", res.Resolved,
		"timed_out", res.TimedOut,
		"duration", res.Duration)
	return res, nil
}

// resolveVerdict gates resolution: a timed out run or an unappliable patch
// never resolves, regardless of the recorded test outcomes.
func resolveVerdict(timedOut bool, patchError string, failToPass, passToPass []TestResult) bool {
	return !timedOut && patchError == "" && computeResolved(failToPass, passToPass)
}

// computeResolved is the resolution rule: every fail-to-pass test passes and
// every pass-to-pass test still passes. Empty sets are vacuously satisfied.
func computeResolved(failToPass, passToPass []TestResult) bool {
	for _, t := range failToPass {
		if !t.Passed {
			return false
		}
	}
	for _, t := range passToPass {
		if !t.Passed {
			return false
		}
	}
	return true
}

func (r *Runner) createContainer(ctx context.Context, job Job, img string) (string, error) {
	containerCfg := &container.Config{
		Image:      img,
		Cmd:        []string{"sleep", "infinity"},
		WorkingDir: "/workspace",
	}
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: job.Workspace, Target: "/workspace"},
		},
	}
	if r.cfg.MemoryLimit > 0 {
		hostCfg.Memory = r.cfg.MemoryLimit
	}
	if r.cfg.NetworkMode != "" {
		hostCfg.NetworkMode = container.NetworkMode(r.cfg.NetworkMode)
	}

	resp, err := r.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "crucible-eval-"+job.ID)
	if err != nil {
		return "", fmt.Errorf("sandbox: create container: %w", err)
	}
	if err := r.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		rmCtx, rmCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer rmCancel()
		_ = r.client.ContainerRemove(rmCtx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("sandbox: start container: %w", err)
	}
	return resp.ID, nil
}

// applyPatch writes the patch into the bind-mounted workspace and applies it
// with git inside the container, so path resolution matches the tree under
// test.
func (r *Runner) applyPatch(ctx context.Context, cid string, job Job) error {
	patchName := ".crucible-" + job.ID + ".patch"
	patchPath := filepath.Join(job.Workspace, patchName)
	if err := os.WriteFile(patchPath, []byte(job.Patch), 0o644); err != nil {
		return fmt.Errorf("sandbox: write patch: %w", err)
	}
	defer func() { _ = os.Remove(patchPath) }()

	stdout, stderr, code, err := r.exec(ctx, cid, "git apply --whitespace=nowarn "+patchName)
	if err != nil {
		return fmt.Errorf("sandbox: apply patch: %w", err)
	}
	if code != 0 {
		detail := strings.TrimSpace(stderr)
		if detail == "" {
			detail = strings.TrimSpace(stdout)
		}
		return fmt.Errorf("sandbox: apply patch: exit %d: %s", code, detail)
	}
	return nil
}

func (r *Runner) runTest(ctx context.Context, cid string, testCmd []string, id string) (TestResult, bool) {
	stdout, stderr, code, err := r.exec(ctx, cid, joinCommand(append(append([]string{}, testCmd...), id)))
	output := stdout
	if stderr != "" {
		output += stderr
	}
	return classifyTest(id, code, output, ctx.Err(), err)
}

// classifyTest maps one exec outcome to a test result. Deadline expiry takes
// precedence over the exit code, so a test killed by the evaluation budget is
// reported as a timeout rather than a failure.
func classifyTest(id string, code int, output string, ctxErr, execErr error) (TestResult, bool) {
	if ctxErr != nil {
		return TestResult{ID: id, Passed: false, ExitCode: -1}, true
	}
	if execErr != nil {
		return TestResult{ID: id, Passed: false, ExitCode: -1, Output: execErr.Error()}, false
	}
	return TestResult{
		ID:       id,
		Passed:   code == 0,
		ExitCode: code,
		Output:   truncate(output, 8192),
	}, false
}

func (r *Runner) exec(ctx context.Context, cid, command string) (string, string, int, error) {
	execCfg := container.ExecOptions{
		Cmd:          []string{"sh", "-c", command},
		WorkingDir:   "/workspace",
		AttachStdout: true,
		AttachStderr: true,
	}
	execResp, err := r.client.ContainerExecCreate(ctx, cid, execCfg)
	if err != nil {
		return "", "", -1, fmt.Errorf("exec create: %w", err)
	}
	attachResp, err := r.client.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", "", -1, fmt.Errorf("exec attach: %w", err)
	}
	defer attachResp.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, attachResp.Reader); err != nil {
		return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec read: %w", err)
	}
	inspectResp, err := r.client.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec inspect: %w", err)
	}
	return stdoutBuf.String(), stderrBuf.String(), inspectResp.ExitCode, nil
}

func (r *Runner) ensureImage(ctx context.Context, img string) error {
	_, _, err := r.client.ImageInspectWithRaw(ctx, img)
	if err == nil {
		return nil
	}
	reader, err := r.client.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()
	_, err = io.Copy(io.Discard, reader)
	return err
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// joinCommand builds a shell command line with every argument quoted.
func joinCommand(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... (truncated)"
}
