package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/sacla-sfx/cheetah-dispatch/internal/jobdir"
	"github.com/sacla-sfx/cheetah-dispatch/internal/models"
	"github.com/sacla-sfx/cheetah-dispatch/internal/planner"
)

// RunDoneFunc is called after each run of a multi-run submission.
type RunDoneFunc func(run int, err error)

// SubmitManual handles an operator run specification: a single run, an
// inclusive range or "N-" to follow from N.
func (c *Controller) SubmitManual(ctx context.Context, spec string, p Params) error {
	rs, err := ParseRunSpec(spec)
	if err != nil {
		return err
	}
	if _, on := c.Following(); on {
		return ErrFollowing
	}
	if rs.Kind == SpecFollow {
		return c.StartFollow(rs.First, p)
	}
	return c.SubmitRuns(ctx, rs.Runs(), p, nil)
}

// Plans computes the plans of every run in runs. Nothing is written.
func (c *Controller) Plans(runs []int, p Params) ([]planner.Plan, error) {
	plans := make([]planner.Plan, 0, len(runs))
	for _, run := range runs {
		plan, err := c.planner.Plan(p.request(run))
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

// SubmitRuns plans every run first, so invalid parameters are rejected
// before any directory is created, then submits the runs in order. A
// failing run does not stop the others; all failures are returned joined.
func (c *Controller) SubmitRuns(ctx context.Context, runs []int, p Params, onDone RunDoneFunc) error {
	plans, err := c.Plans(runs, p)
	if err != nil {
		return err
	}

	var errs []error
	for _, plan := range plans {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		err := c.execute(ctx, plan)
		if err != nil {
			c.logger.Error().Err(err).Int("run", plan.Run).Msg("Run submission failed")
			errs = append(errs, fmt.Errorf("run %d: %w", plan.Run, err))
		}
		if onDone != nil {
			onDone(plan.Run, err)
		}
	}
	return errors.Join(errs...)
}

// SubmitRun plans and submits a single run.
func (c *Controller) SubmitRun(ctx context.Context, run int, p Params) error {
	plan, err := c.planner.Plan(p.request(run))
	if err != nil {
		return err
	}
	return c.execute(ctx, plan)
}

// execute creates the directories and scripts of plan, then submits the
// master. Children are submitted now, or left to the auto submitter in
// quick mode.
func (c *Controller) execute(ctx context.Context, plan planner.Plan) error {
	jobs := plan.Jobs()
	dirs := make([]*jobdir.Dir, len(jobs))
	for i, job := range jobs {
		dirs[i] = jobdir.New(c.opts.Root, job.JobID)
		if dirs[i].Exists() {
			return fmt.Errorf("%w: %s", jobdir.ErrAlreadyExists, job.JobID)
		}
	}

	var created []*jobdir.Dir
	rollback := func() {
		for _, d := range created {
			if err := d.Remove(); err != nil {
				c.logger.Warn().Err(err).Str("job_id", d.JobID().String()).Msg("Failed to remove partial job directory")
			}
		}
	}
	for i, job := range jobs {
		d := dirs[i]
		if err := d.Create(); err != nil {
			rollback()
			return err
		}
		created = append(created, d)

		tmpl := jobdir.ChildTemplate
		if i == 0 {
			tmpl = jobdir.MasterTemplate
		}
		if err := d.WriteScript(tmpl, c.scriptParams(plan, job, i == 0)); err != nil {
			rollback()
			return err
		}
	}

	ids := make([]models.JobID, len(jobs))
	for i, job := range jobs {
		ids[i] = job.JobID
	}
	c.registerBestEffort(ctx, ids)

	c.logger.Info().
		Int("run", plan.Run).
		Str("master", plan.Master.JobID.String()).
		Strs("children", plan.Subjobs()).
		Msg("Job directories created")

	if err := c.submitDir(ctx, dirs[0]); err != nil {
		return err
	}

	if c.opts.Quick {
		if c.scheduler != nil {
			c.scheduler.Trigger()
		}
		return nil
	}

	var errs []error
	for _, d := range dirs[1:] {
		if err := c.submitDir(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) submitDir(ctx context.Context, d *jobdir.Dir) error {
	qid, err := d.Submit(ctx, c.queue)
	if err != nil {
		c.bus.PublishError(d.JobID(), "submit", err)
		return err
	}
	c.logger.Info().
		Str("job_id", d.JobID().String()).
		Str("queue_job_id", qid).
		Msg("Job submitted")
	c.bus.PublishSubmitted(d.JobID(), qid, -1, false, false)
	return nil
}

func (c *Controller) scriptParams(plan planner.Plan, job planner.Job, master bool) jobdir.ScriptParams {
	p := c.opts.Script
	p.RunID = models.FormatRun(plan.Run)
	p.RunName = job.JobID.String()
	p.MaxI = plan.MaxI
	p.Station = plan.Station
	p.Arguments = job.Arguments
	p.Subjobs = nil
	if master {
		p.Subjobs = plan.Subjobs()
	}
	return p
}

// registerBestEffort adds rows for ids when the loop is running. One-shot
// submissions leave registration to the next rescan.
func (c *Controller) registerBestEffort(ctx context.Context, ids []models.JobID) {
	err := c.do(ctx, func() {
		for _, id := range ids {
			c.register(id)
		}
	})
	if err != nil && !errors.Is(err, ErrNotRunning) {
		c.logger.Debug().Err(err).Msg("Rows not registered")
	}
}

// KillJob cancels the queue job recorded in the directory of id. The
// directory itself is left untouched.
func (c *Controller) KillJob(ctx context.Context, id models.JobID) (string, error) {
	d := jobdir.New(c.opts.Root, id)
	qid, err := d.QueueJobID()
	if err != nil {
		return "", fmt.Errorf("%w %s: %v", ErrKillFailed, id, err)
	}
	if err := c.queue.Cancel(ctx, qid); err != nil {
		return qid, fmt.Errorf("%w %s: %v", ErrKillFailed, id, err)
	}
	c.logger.Info().
		Str("job_id", id.String()).
		Str("queue_job_id", qid).
		Msg("Job cancelled")
	c.bus.PublishKilled(id, qid)
	return qid, nil
}

// StartFollow begins following runs from run with parameters p.
func (c *Controller) StartFollow(run int, p Params) error {
	if c.follower == nil {
		return ErrFollowUnavailable
	}
	if _, err := c.planner.Plan(p.request(run)); err != nil {
		return err
	}
	c.followMu.Lock()
	c.followParams = p
	c.followMu.Unlock()
	c.follower.Start(run)
	return nil
}

// StopFollow stops following runs and re-enables manual submission.
func (c *Controller) StopFollow() {
	if c.follower != nil {
		c.follower.Stop()
	}
}

// Following returns the follower cursor and whether following is active.
func (c *Controller) Following() (int, bool) {
	if c.follower == nil {
		return 0, false
	}
	return c.follower.Following()
}

// FollowTick runs one follower check immediately.
func (c *Controller) FollowTick(ctx context.Context) (bool, error) {
	if c.follower == nil {
		return false, ErrFollowUnavailable
	}
	return c.follower.Tick(ctx)
}

func (c *Controller) submitFollowed(ctx context.Context, run int) error {
	c.followMu.Lock()
	p := c.followParams
	c.followMu.Unlock()
	return c.SubmitRun(ctx, run, p)
}
