package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job is one named periodic task.
type Job struct {
	Name    string
	Spec    string        // standard 5-field cron spec, evaluated in the registry's location
	Timeout time.Duration // per-run deadline; zero means no deadline
	Run     func(ctx context.Context) error
}

type entry struct {
	job     Job
	id      cron.EntryID
	enabled bool
}

// Registry owns the cron engine and the set of named jobs. Overlapping runs of the
// same job are skipped, never queued.
type Registry struct {
	cronEngine *cron.Cron
	logger     *logrus.Entry

	mu      sync.Mutex
	entries map[string]*entry
	started bool
}

func NewRegistry(loc *time.Location, logger *logrus.Entry) *Registry {
	if loc == nil {
		loc = time.Local
	}
	return &Registry{
		cronEngine: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cron.PrintfLogger(logger)), cron.SkipIfStillRunning(cron.PrintfLogger(logger))),
		),
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Register adds a job and enables it. Names must be unique.
func (r *Registry) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job needs a name and a run function")
	}
	if _, err := cron.ParseStandard(job.Spec); err != nil {
		return fmt.Errorf("invalid cron spec %q for job %s: %w", job.Spec, job.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[job.Name]; exists {
		return fmt.Errorf("job %s already registered", job.Name)
	}
	e := &entry{job: job}
	r.entries[job.Name] = e
	return r.enableLocked(e)
}

func (r *Registry) enableLocked(e *entry) error {
	if e.enabled {
		return nil
	}
	job := e.job
	id, err := r.cronEngine.AddFunc(job.Spec, func() {
		if err := r.run(context.Background(), job); err != nil {
			r.logger.WithError(err).WithField("job", job.Name).Error("Scheduled job failed")
		}
	})
	if err != nil {
		return fmt.Errorf("could not add cron job %s: %w", job.Name, err)
	}
	e.id = id
	e.enabled = true
	return nil
}

func (r *Registry) run(ctx context.Context, job Job) error {
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}
	start := time.Now()
	r.logger.WithField("job", job.Name).Debug("Job triggered")
	err := job.Run(ctx)
	r.logger.WithFields(logrus.Fields{"job": job.Name, "elapsed": time.Since(start).String()}).Debug("Job finished")
	return err
}

// Start begins firing enabled jobs.
func (r *Registry) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.cronEngine.Start()
	r.started = true
	r.logger.WithField("jobs", r.namesLocked()).Info("Scheduler started")
}

// Stop halts the engine and waits for running jobs to return.
func (r *Registry) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	r.mu.Unlock()

	r.logger.Info("Stopping scheduler...")
	ctx := r.cronEngine.Stop()
	<-ctx.Done()
	r.logger.Info("Scheduler gracefully stopped")
}

// StartJob re-enables a previously stopped job.
func (r *Registry) StartJob(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("unknown job %s", name)
	}
	return r.enableLocked(e)
}

// StopJob removes a job from the schedule without forgetting it. A run in progress finishes.
func (r *Registry) StopJob(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("unknown job %s", name)
	}
	if e.enabled {
		r.cronEngine.Remove(e.id)
		e.enabled = false
	}
	return nil
}

// RunNow executes a job synchronously, outside the cron schedule.
func (r *Registry) RunNow(ctx context.Context, name string) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %s", name)
	}
	return r.run(ctx, e.job)
}

// Enabled reports whether the named job is currently scheduled.
func (r *Registry) Enabled(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	return ok && e.enabled
}

// Names lists registered jobs alphabetically.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
