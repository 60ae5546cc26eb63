// Package scheduler drives the periodic work: the protection cycle, the
// rebalance check, calendar reloads. Each job runs serially on its own
// interval, so a slow run delays the next tick instead of overlapping it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Job is one periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// JobStatus is the run history for one job.
type JobStatus struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	Runs     int64         `json:"runs"`
	Errors   int64         `json:"errors"`
	LastRun  time.Time     `json:"last_run,omitempty"`
	LastErr  string        `json:"last_err,omitempty"`
}

// Status is a snapshot of the runner.
type Status struct {
	Running bool          `json:"running"`
	Uptime  time.Duration `json:"uptime"`
	Jobs    []JobStatus   `json:"jobs"`
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ *time.Ticker }

func (t realTicker) C() <-chan time.Time { return t.Ticker.C }

// Runner owns a fixed set of jobs. Start blocks until the context ends.
type Runner struct {
	jobs      []Job
	newTicker func(time.Duration) ticker

	mu      sync.Mutex
	running bool
	started time.Time
	runs    map[string]int64
	errs    map[string]int64
	lastRun map[string]time.Time
	lastErr map[string]string
}

// NewRunner validates the job set and returns a runner ready to Start.
func NewRunner(jobs ...Job) (*Runner, error) {
	if len(jobs) == 0 {
		return nil, errors.New("scheduler: no jobs")
	}
	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		if j.Name == "" {
			return nil, errors.New("scheduler: job without a name")
		}
		if seen[j.Name] {
			return nil, fmt.Errorf("scheduler: duplicate job %q", j.Name)
		}
		seen[j.Name] = true
		if j.Interval <= 0 {
			return nil, fmt.Errorf("scheduler: job %q needs a positive interval, got %s", j.Name, j.Interval)
		}
		if j.Run == nil {
			return nil, fmt.Errorf("scheduler: job %q has no run function", j.Name)
		}
	}
	return &Runner{
		jobs:      jobs,
		newTicker: func(d time.Duration) ticker { return realTicker{time.NewTicker(d)} },
		runs:      make(map[string]int64),
		errs:      make(map[string]int64),
		lastRun:   make(map[string]time.Time),
		lastErr:   make(map[string]string),
	}, nil
}

// Start launches every job loop and blocks until ctx is done.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("scheduler: already running")
	}
	r.running = true
	r.started = time.Now()
	r.mu.Unlock()

	log.Info().Int("jobs", len(r.jobs)).Msg("scheduler: starting")

	var wg sync.WaitGroup
	for _, j := range r.jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			r.loop(ctx, job)
		}(j)
	}
	wg.Wait()

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
	log.Info().Msg("scheduler: stopped")
	return ctx.Err()
}

func (r *Runner) loop(ctx context.Context, job Job) {
	tk := r.newTicker(job.Interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C():
			r.runOnce(ctx, job)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, job Job) error {
	start := time.Now()
	err := job.Run(ctx)
	elapsed := time.Since(start)

	r.mu.Lock()
	r.runs[job.Name]++
	r.lastRun[job.Name] = start
	if err != nil {
		r.errs[job.Name]++
		r.lastErr[job.Name] = err.Error()
	} else {
		delete(r.lastErr, job.Name)
	}
	r.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("job", job.Name).Dur("elapsed", elapsed).Msg("scheduler: job failed")
		return err
	}
	log.Debug().Str("job", job.Name).Dur("elapsed", elapsed).Msg("scheduler: job completed")
	return nil
}

// RunNow executes the named job immediately, outside its schedule.
func (r *Runner) RunNow(ctx context.Context, name string) error {
	for _, j := range r.jobs {
		if j.Name == name {
			return r.runOnce(ctx, j)
		}
	}
	return fmt.Errorf("scheduler: job not found: %s", name)
}

// Status reports the runner and per-job state, jobs sorted by name.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{Running: r.running}
	if r.running {
		st.Uptime = time.Since(r.started)
	}
	for _, j := range r.jobs {
		st.Jobs = append(st.Jobs, JobStatus{
			Name:     j.Name,
			Interval: j.Interval,
			Runs:     r.runs[j.Name],
			Errors:   r.errs[j.Name],
			LastRun:  r.lastRun[j.Name],
			LastErr:  r.lastErr[j.Name],
		})
	}
	sort.Slice(st.Jobs, func(i, k int) bool { return st.Jobs[i].Name < st.Jobs[k].Name })
	return st
}
