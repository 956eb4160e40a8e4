// Package planner decides which jobs a run needs and what arguments each
// job receives. It performs no I/O.
package planner

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sacla-sfx/cheetah-dispatch/internal/constants"
	"github.com/sacla-sfx/cheetah-dispatch/internal/models"
)

// ErrInvalidParameters is returned for negative thresholds or run numbers.
var ErrInvalidParameters = errors.New("invalid run parameters")

// Options are the configuration-time inputs of the planner.
type Options struct {
	// Sensor names; a threshold for an unnamed sensor is ignored.
	PD1Name string
	PD2Name string
	PD3Name string

	SubmitDark2   bool
	SubmitDarkAny bool
	ParallelSize  int
}

// Request describes one run submission.
type Request struct {
	Run        int
	MaxI       int
	Station    int
	Thresholds [3]float64 // pd1, pd2, pd3
}

// Light reports whether any sensor threshold is set.
func (r Request) Light() bool {
	for _, th := range r.Thresholds {
		if th != 0 {
			return true
		}
	}
	return false
}

// Job is one directory of a plan.
type Job struct {
	JobID     models.JobID `json:"job_id" yaml:"job_id"`
	Suffix    string       `json:"suffix" yaml:"suffix"`
	Arguments string       `json:"arguments" yaml:"arguments"`
}

// Plan is the master job of a run plus its dependent children.
type Plan struct {
	Run      int   `json:"run" yaml:"run"`
	Light    bool  `json:"light" yaml:"light"`
	MaxI     int   `json:"max_i" yaml:"max_i"`
	Station  int   `json:"station" yaml:"station"`
	Master   Job   `json:"master" yaml:"master"`
	Children []Job `json:"children" yaml:"children"`
}

// Jobs returns the master followed by the children.
func (p Plan) Jobs() []Job {
	jobs := make([]Job, 0, 1+len(p.Children))
	jobs = append(jobs, p.Master)
	return append(jobs, p.Children...)
}

// Subjobs returns the child suffixes in order.
func (p Plan) Subjobs() []string {
	out := make([]string, len(p.Children))
	for i, c := range p.Children {
		out[i] = c.Suffix
	}
	return out
}

// Planner computes plans from requests.
type Planner struct {
	opts Options
}

// New creates a planner. A non-positive ParallelSize uses the default.
func New(opts Options) *Planner {
	if opts.ParallelSize <= 0 {
		opts.ParallelSize = constants.ParallelSize
	}
	return &Planner{opts: opts}
}

// Plan computes the jobs for req. The same request always yields the same
// plan.
func (p *Planner) Plan(req Request) (Plan, error) {
	if err := validate(req); err != nil {
		return Plan{}, err
	}

	plan := Plan{Run: req.Run, Light: req.Light(), MaxI: req.MaxI, Station: req.Station}

	if !plan.Light {
		plan.Master = Job{
			JobID:     models.NewJobID(req.Run, "0"),
			Suffix:    "0",
			Arguments: typeArg("0"),
		}
		for i := 1; i < p.opts.ParallelSize; i++ {
			suffix := strconv.Itoa(i)
			plan.Children = append(plan.Children, Job{
				JobID:     models.NewJobID(req.Run, suffix),
				Suffix:    suffix,
				Arguments: typeArg(suffix),
			})
		}
		return plan, nil
	}

	sensorArgs := p.sensorArgs(req.Thresholds)
	plan.Master = Job{
		JobID:     models.NewJobID(req.Run, string(models.KindLight)),
		Suffix:    string(models.KindLight),
		Arguments: join(sensorArgs, typeArg(string(models.KindLight))),
	}

	var suffixes []string
	if p.opts.SubmitDarkAny {
		suffixes = append(suffixes, string(models.KindDark))
	} else {
		suffixes = append(suffixes, string(models.KindDark1))
	}
	if p.opts.SubmitDark2 {
		suffixes = append(suffixes, string(models.KindDark2))
	}
	for _, suffix := range suffixes {
		plan.Children = append(plan.Children, Job{
			JobID:     models.NewJobID(req.Run, suffix),
			Suffix:    suffix,
			Arguments: join(sensorArgs, typeArg(suffix)),
		})
	}
	return plan, nil
}

func validate(req Request) error {
	if req.Run < 0 || req.Run > 999999 {
		return fmt.Errorf("%w: run %d out of range", ErrInvalidParameters, req.Run)
	}
	if req.MaxI < 0 {
		return fmt.Errorf("%w: negative maxI %d", ErrInvalidParameters, req.MaxI)
	}
	for i, th := range req.Thresholds {
		if th < 0 {
			return fmt.Errorf("%w: negative pd%d threshold %g", ErrInvalidParameters, i+1, th)
		}
	}
	return nil
}

func (p *Planner) sensorArgs(th [3]float64) string {
	names := [3]string{p.opts.PD1Name, p.opts.PD2Name, p.opts.PD3Name}
	var parts []string
	for i := range th {
		if th[i] == 0 || names[i] == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("--pd%d_thresh=%.3f --pd%d_name=%s", i+1, th[i], i+1, names[i]))
	}
	return strings.Join(parts, " ")
}

func typeArg(t string) string {
	return "--type=" + t
}

func join(parts ...string) string {
	var nonEmpty []string
	for _, s := range parts {
		if s != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	return strings.Join(nonEmpty, " ")
}
