// Package jobs runs the periodic background work: anomaly scans, idle session
// expiry, health checks and quarantine sweeps.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/vigil-iam/vigil/backend/internal/logger"
	"github.com/vigil-iam/vigil/backend/internal/metrics"
)

// ErrUnknownJob is returned by RunNow for unregistered names.
var ErrUnknownJob = errors.New("unknown job")

// DefaultTimeout bounds a single job run.
const DefaultTimeout = 2 * time.Minute

// Job is a named unit of scheduled work.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct{}

func fields(keysAndValues []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		f[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return f
}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Log().WithFields(fields(keysAndValues)).Debug("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Log().WithError(err).WithFields(fields(keysAndValues)).Error("cron: " + msg)
}

// Scheduler wraps a cron runner. Every job runs with a timeout, recovers from
// panics and is skipped while a previous run is still going.
type Scheduler struct {
	Cron    *cron.Cron
	Timeout time.Duration

	mu     sync.Mutex
	jobs   map[string]cron.Job
	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler() *Scheduler {
	l := cronLogger{}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		Cron: cron.New(
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
		Timeout: DefaultTimeout,
		jobs:    make(map[string]cron.Job),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Scheduler) wrap(job Job) func() {
	return func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.Timeout)
		defer cancel()
		start := time.Now()
		log := logger.Log().WithField("job", job.Name)
		if err := job.Run(ctx); err != nil {
			log.WithError(err).Error("scheduled job failed")
			metrics.IncJobRun(job.Name, "error")
			return
		}
		log.WithField("duration", time.Since(start).String()).Debug("scheduled job finished")
		metrics.IncJobRun(job.Name, "success")
	}
}

// Add registers a job. An empty spec disables it.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("job needs a name and a run function")
	}
	if job.Spec == "" {
		logger.Log().WithField("job", job.Name).Info("scheduled job disabled")
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %s already registered", job.Name)
	}
	wrapped := cron.NewChain(cron.Recover(cronLogger{})).Then(cron.FuncJob(s.wrap(job)))
	if _, err := s.Cron.AddJob(job.Spec, wrapped); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", job.Name, job.Spec, err)
	}
	s.jobs[job.Name] = wrapped
	return nil
}

// RunNow runs a registered job synchronously.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	j.Run()
	return nil
}

// Names lists the registered jobs.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		out = append(out, name)
	}
	return out
}

func (s *Scheduler) Start() {
	s.Cron.Start()
	logger.Log().WithField("jobs", len(s.Cron.Entries())).Info("scheduler started")
}

// Stop cancels running jobs and waits for them until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.Cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
