package harness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cruciblebench/crucible/task"
)

// ExperimentOptions selects what an experiment run covers.
type ExperimentOptions struct {
	Groups []task.Group
	Tier   task.Tier // empty means all tiers
	TaskID string    // empty means all tasks
}

// Experiment is the aggregate outcome of running a task set across groups.
type Experiment struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Results   []*TaskResult `json:"results"`
}

// Summary tallies results per group.
type Summary struct {
	Group      task.Group `json:"group"`
	Total      int        `json:"total"`
	Completed  int        `json:"completed"`
	Resolved   int        `json:"resolved"`
	Timeouts   int        `json:"timeouts"`
	SetupFails int        `json:"setup_fails"`
}

// RunExperiment runs every matching task for every requested group, bounded
// by the configured parallelism. Individual task failures are captured in
// their results; only a cancelled context aborts the run.
func (c *Controller) RunExperiment(ctx context.Context, tasks []*task.Task, opts ExperimentOptions) (*Experiment, error) {
	if len(opts.Groups) == 0 {
		opts.Groups = []task.Group{task.GroupControl, task.GroupTreatment}
	}
	for _, g := range opts.Groups {
		if g != task.GroupControl && g != task.GroupTreatment {
			return nil, fmt.Errorf("%w: %q", ErrUnknownGroup, g)
		}
	}

	selected := make([]*task.Task, 0, len(tasks))
	for _, t := range tasks {
		if opts.Tier != "" && t.Tier != opts.Tier {
			continue
		}
		if opts.TaskID != "" && t.ID != opts.TaskID {
			continue
		}
		selected = append(selected, t)
	}
	if len(selected) == 0 {
		return nil, ErrNoTasks
	}

	exp := &Experiment{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	c.logger.Info("experiment started",
		"experiment", exp.ID,
		"tasks", len(selected),
		"groups", len(opts.Groups))

	par := c.cfg.Execution.Parallelism
	if par <= 0 {
		par = 1
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(par)
	for _, group := range opts.Groups {
		for _, t := range selected {
			group, t := group, t
			g.Go(func() error {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				res := c.RunTask(gctx, t, group)
				mu.Lock()
				exp.Results = append(exp.Results, res)
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("harness: experiment %s: %w", exp.ID, err)
	}

	exp.Duration = time.Since(exp.StartedAt)
	c.logger.Info("experiment finished",
		"experiment", exp.ID,
		"results", len(exp.Results),
		"duration", exp.Duration)
	return exp, nil
}

// Summarize tallies an experiment's results per group, in group order.
func (e *Experiment) Summarize() []Summary {
	byGroup := map[task.Group]*Summary{}
	order := []task.Group{}
	for _, r := range e.Results {
		s, ok := byGroup[r.Group]
		if !ok {
			s = &Summary{Group: r.Group}
			byGroup[r.Group] = s
			order = append(order, r.Group)
		}
		s.Total++
		switch r.Status {
		case StatusCompleted:
			s.Completed++
		case StatusHardTimeout, StatusIdleTimeout:
			s.Timeouts++
		case StatusSetupFailed:
			s.SetupFails++
		}
		if r.EvalStatus == EvalResolved {
			s.Resolved++
		}
	}
	out := make([]Summary, 0, len(order))
	for _, g := range order {
		out = append(out, *byGroup[g])
	}
	return out
}
