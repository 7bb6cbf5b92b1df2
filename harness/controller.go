package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cruciblebench/crucible/config"
	"github.com/cruciblebench/crucible/detect"
	"github.com/cruciblebench/crucible/repocache"
	"github.com/cruciblebench/crucible/sandbox"
	"github.com/cruciblebench/crucible/session"
	"github.com/cruciblebench/crucible/task"
)

// Controller runs individual tasks end to end: provision a workspace, drive
// the agent, extract the patch, and evaluate it.
type Controller struct {
	cfg      *config.Config
	cache    *repocache.Manager
	sandbox  *sandbox.Runner
	detector detect.Detector
	store    *ResultStore
	logger   *slog.Logger
}

// ControllerOptions bundles the collaborators a Controller needs. Cache,
// Sandbox, Detector, and Store are all optional; absent ones disable the
// corresponding stage.
type ControllerOptions struct {
	Config   *config.Config
	Cache    *repocache.Manager
	Sandbox  *sandbox.Runner
	Detector detect.Detector
	Store    *ResultStore
	Logger   *slog.Logger
}

// NewController wires a controller from its options.
func NewController(opts ControllerOptions) (*Controller, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("harness: config is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{
		cfg:      opts.Config,
		cache:    opts.Cache,
		sandbox:  opts.Sandbox,
		detector: opts.Detector,
		store:    opts.Store,
		logger:   opts.Logger,
	}, nil
}

// RunTask executes one task for one group and returns its result. Failures
// are recorded on the result rather than returned, so sibling tasks in an
// experiment are never torn down by one bad run.
func (c *Controller) RunTask(ctx context.Context, t *task.Task, group task.Group) *TaskResult {
	res := &TaskResult{
		ID:         uuid.NewString(),
		TaskID:     t.ID,
		TaskName:   t.Name,
		Tier:       t.Tier,
		Group:      group,
		EvalStatus: EvalSkipped,
		ExitCode:   -1,
		StartedAt:  time.Now().UTC(),
	}
	logger := c.logger.With("task", t.ID, "group", string(group))

	workspace := c.cfg.WorkspacePath(string(group), t.ID)
	baseRef, err := c.provisionWorkspace(ctx, t, workspace)
	if err != nil {
		logger.Error("workspace provisioning failed", "error", err)
		res.Status = StatusSetupFailed
		res.Error = err.Error()
		res.Duration = time.Since(res.StartedAt)
		c.persist(res)
		return res
	}
	defer c.cleanupWorkspace(context.WithoutCancel(ctx), t, workspace)

	sess := c.runSession(ctx, t, group, workspace)
	res.Status = mapState(sess.State)
	res.ExitCode = sess.ExitCode
	res.Responses = sess.Responses
	res.Transcript = sess.Transcript.String()
	if sess.Err != nil {
		res.Error = sess.Err.Error()
	}
	logger.Info("session finished",
		"status", string(res.Status),
		"exit_code", res.ExitCode,
		"duration", sess.Duration)

	if res.Status == StatusCompleted || res.Status == StatusHardTimeout || res.Status == StatusIdleTimeout {
		patch, perr := sandbox.ExtractPatch(context.WithoutCancel(ctx), workspace, baseRef)
		if perr != nil {
			logger.Warn("patch extraction failed", "error", perr)
		} else {
			res.Patch = patch
		}
	}

	c.evaluate(ctx, t, res)
	res.Duration = time.Since(res.StartedAt)
	c.persist(res)
	return res
}

// runSession drives the agent in the configured mode.
func (c *Controller) runSession(ctx context.Context, t *task.Task, group task.Group, workspace string) *session.Result {
	gcfg := c.groupConfig(group)
	prompt := t.Prompt
	if gcfg.PromptPrefix != "" {
		prompt = gcfg.PromptPrefix + "\n\n" + prompt
	}

	hard := c.cfg.Execution.HardTimeout()
	if t.Constraints.HardTimeoutSec > 0 {
		hard = time.Duration(t.Constraints.HardTimeoutSec) * time.Second
	}
	idle := c.cfg.Execution.IdleTimeout()
	if t.Constraints.IdleTimeoutSec > 0 {
		idle = time.Duration(t.Constraints.IdleTimeoutSec) * time.Second
	}
	maxTurns := c.cfg.Execution.MaxTurns
	if t.Constraints.MaxTurns > 0 {
		maxTurns = t.Constraints.MaxTurns
	}

	args := append([]string{}, c.cfg.Agent.Args...)
	if c.cfg.Agent.Model != "" {
		args = append(args, "--model", c.cfg.Agent.Model)
	}
	args = append(args, gcfg.ExtraArgs...)

	if c.cfg.Execution.Mode == "interactive" {
		eng, err := session.NewEngine(session.Options{
			Command:      c.cfg.Agent.Command,
			Args:         append(args, prompt),
			Dir:          workspace,
			HardTimeout:  hard,
			IdleTimeout:  idle,
			MaxResponses: maxTurns,
			Detector:     c.detector,
			Logger:       c.logger,
		})
		if err != nil {
			return &session.Result{
				State:      session.StateStreamError,
				ExitCode:   -1,
				Transcript: session.NewTranscript(),
				Err:        err,
			}
		}
		return eng.Run(ctx)
	}

	args = append(args, "-p")
	if maxTurns > 0 {
		args = append(args, "--max-turns", fmt.Sprintf("%d", maxTurns))
	}
	return session.RunSingleShot(ctx, session.SingleShotOptions{
		Command:     c.cfg.Agent.Command,
		Args:        args,
		Dir:         workspace,
		Prompt:      prompt,
		HardTimeout: hard,
		Logger:      c.logger,
	})
}

// evaluate runs the sandbox stage when the task has reference tests. The
// patch is judged against a pristine second checkout of the base commit so
// agent side effects in the session workspace cannot leak into the verdict.
func (c *Controller) evaluate(ctx context.Context, t *task.Task, res *TaskResult) {
	if c.sandbox == nil || !c.cfg.Sandbox.Enabled {
		return
	}
	if t.Repo == nil || (len(t.Repo.FailToPass) == 0 && len(t.Repo.PassToPass) == 0) {
		return
	}
	if res.Status == StatusSetupFailed || res.Status == StatusCancelled || res.Status == StatusStreamError {
		return
	}
	logger := c.logger.With("task", t.ID, "group", string(res.Group))

	evalDir := c.cfg.WorkspacePath(string(res.Group), t.ID) + "-eval"
	var err error
	if c.cache != nil {
		err = c.cache.CreateWorktree(ctx, t.Repo.Repo, t.Repo.CloneURL(), t.Repo.BaseCommit, evalDir)
	} else {
		err = repocache.DirectCheckout(ctx, t.Repo.CloneURL(), t.Repo.BaseCommit, evalDir)
	}
	if err != nil {
		logger.Error("evaluation checkout failed", "error", err)
		res.EvalStatus = EvalError
		return
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		if c.cache != nil {
			_ = c.cache.RemoveWorktree(cleanupCtx, t.Repo.Repo, evalDir)
		} else {
			_ = os.RemoveAll(evalDir)
		}
	}()

	evalRes, err := c.sandbox.Evaluate(ctx, sandbox.Job{
		ID:         res.ID,
		Workspace:  evalDir,
		Patch:      res.Patch,
		Image:      t.Repo.Image,
		FailToPass: t.Repo.FailToPass,
		PassToPass: t.Repo.PassToPass,
	})
	switch {
	case errors.Is(err, sandbox.ErrUnavailable):
		logger.Warn("evaluation skipped", "reason", err)
		res.EvalStatus = EvalUnavailable
	case err != nil:
		logger.Error("evaluation failed", "error", err)
		res.EvalStatus = EvalError
		res.Error = joinErrors(res.Error, err.Error())
	case evalRes.TimedOut:
		res.EvalStatus = EvalTimeout
		res.Eval = evalRes
	case evalRes.Resolved:
		res.EvalStatus = EvalResolved
		res.Eval = evalRes
	default:
		res.EvalStatus = EvalUnresolved
		res.Eval = evalRes
	}
}

func (c *Controller) groupConfig(group task.Group) config.GroupConfig {
	if group == task.GroupTreatment {
		return c.cfg.Groups.Treatment
	}
	return c.cfg.Groups.Control
}

func (c *Controller) persist(res *TaskResult) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveResult(res); err != nil {
		c.logger.Error("result persistence failed", "result", res.ID, "error", err)
	}
}

func mapState(s session.State) Status {
	switch s {
	case session.StateCompleted:
		return StatusCompleted
	case session.StateHardTimeout:
		return StatusHardTimeout
	case session.StateIdleTimeout:
		return StatusIdleTimeout
	case session.StateCancelled:
		return StatusCancelled
	default:
		return StatusStreamError
	}
}

func joinErrors(a, b string) string {
	if a == "" {
		return b
	}
	return strings.Join([]string{a, b}, "; ")
}
