// Package scheduler runs the periodic jobs of the Shiva voice hub:
// leaderboard cache rebuilds in the worker process and stale session
// sweeps in the bot process. Jobs fire on interval schedules; a run that
// is still going when the next interval arrives is simply skipped past,
// never stacked.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// tickResolution is how often the loop checks for due jobs. Schedules
// finer than this are pointless, which is also why IntervalSchedule
// clamps to a second.
const tickResolution = time.Second

// Job is a unit of scheduled work.
type Job interface {
	// Name returns the unique name of the job.
	Name() string

	// Run executes the job. The context is cancelled on scheduler stop.
	Run(ctx context.Context) error

	// Description returns a human-readable description of the job.
	Description() string
}

// Schedule decides when a job fires.
type Schedule interface {
	// Next returns the first firing time strictly after t.
	Next(t time.Time) time.Time

	// String returns a human-readable representation of the schedule.
	String() string
}

// JobResult records the outcome of one job execution.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Success     bool
	Error       error
}

var (
	// ErrNilJob is returned when registering a nil job.
	ErrNilJob = errors.New("job cannot be nil")

	// ErrNilSchedule is returned when registering a job without a schedule.
	ErrNilSchedule = errors.New("schedule cannot be nil")

	// ErrJobAlreadyExists is returned when a job name is taken.
	ErrJobAlreadyExists = errors.New("job already exists")

	// ErrJobNotFound is returned for operations on an unknown job.
	ErrJobNotFound = errors.New("job not found")

	// ErrSchedulerAlreadyRunning is returned by Start on a running scheduler.
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")

	// ErrSchedulerNotRunning is returned by Stop on a stopped scheduler.
	ErrSchedulerNotRunning = errors.New("scheduler is not running")
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// SchedulerConfig contains configuration for the Scheduler.
type SchedulerConfig struct {
	// Logger for structured logging.
	Logger *slog.Logger

	// Timezone for schedule calculations (default: UTC).
	Timezone *time.Location

	// EnableMetrics enables execution counters.
	EnableMetrics bool
}

// DefaultSchedulerConfig returns sensible defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Logger:        slog.Default(),
		Timezone:      time.UTC,
		EnableMetrics: true,
	}
}

// jobEntry is a registered job together with its firing state.
type jobEntry struct {
	job       Job
	schedule  Schedule
	enabled   bool
	lastRun   time.Time
	nextRun   time.Time
	runCount  int64
	failCount int64
}

// Scheduler owns the registered jobs and the loop that fires them.
type Scheduler struct {
	logger   *slog.Logger
	timezone *time.Location
	metrics  *SchedulerMetrics

	mu        sync.RWMutex
	entries   map[string]*jobEntry
	lastRuns  map[string]*JobResult
	running   bool
	startedAt time.Time
	cancel    context.CancelFunc
	loopCtx   context.Context
	wg        sync.WaitGroup
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(config SchedulerConfig) *Scheduler {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timezone == nil {
		config.Timezone = time.UTC
	}

	s := &Scheduler{
		logger:   config.Logger,
		timezone: config.Timezone,
		entries:  make(map[string]*jobEntry),
		lastRuns: make(map[string]*JobResult),
	}
	if config.EnableMetrics {
		s.metrics = NewSchedulerMetrics()
	}
	return s
}

// Register adds a job under its own name. The first firing is one full
// schedule interval after registration, never immediately; callers that
// want an immediate run use RunNow.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	if job == nil {
		return ErrNilJob
	}
	if schedule == nil {
		return ErrNilSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, taken := s.entries[name]; taken {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}

	entry := &jobEntry{
		job:      job,
		schedule: schedule,
		enabled:  true,
		nextRun:  schedule.Next(time.Now().In(s.timezone)),
	}
	s.entries[name] = entry

	s.logger.Info("job registered",
		"job", name,
		"description", job.Description(),
		"next_run", entry.nextRun.Format(time.RFC3339),
	)
	return nil
}

// DisableJob keeps a job registered but stops it from firing.
func (s *Scheduler) DisableJob(jobName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[jobName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobName)
	}
	entry.enabled = false

	s.logger.Info("job disabled", "job", jobName)
	return nil
}

// Start launches the firing loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	s.loopCtx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.startedAt = time.Now()
	jobCount := len(s.entries)
	s.mu.Unlock()

	s.logger.Info("scheduler started", "jobs_count", jobCount)

	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop cancels the loop and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()

	s.logger.Info("scheduler stopped",
		"uptime", time.Since(s.startedAt).String(),
	)
	return nil
}

// IsRunning reports whether the firing loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(tickResolution)
	defer ticker.Stop()

	for {
		select {
		case <-s.loopCtx.Done():
			return
		case <-ticker.C:
			s.fireDue()
		}
	}
}

// fireDue launches every enabled job whose firing time has passed.
// The next firing is advanced before the job runs, so a job slower than
// its interval loses ticks instead of accumulating concurrent runs.
func (s *Scheduler) fireDue() {
	now := time.Now().In(s.timezone)

	s.mu.Lock()
	var due []*jobEntry
	for _, entry := range s.entries {
		if entry.enabled && now.After(entry.nextRun) {
			entry.lastRun = now
			entry.nextRun = entry.schedule.Next(now)
			entry.runCount++
			due = append(due, entry)
		}
	}
	s.mu.Unlock()

	for _, entry := range due {
		s.wg.Add(1)
		go func(entry *jobEntry) {
			defer s.wg.Done()
			s.execute(s.loopCtx, entry, "scheduled")
		}(entry)
	}
}

// RunNow fires a job immediately, outside its schedule. The returned
// result is also recorded as the job's last run.
func (s *Scheduler) RunNow(ctx context.Context, jobName string) (*JobResult, error) {
	s.mu.RLock()
	entry, ok := s.entries[jobName]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobName)
	}

	result := s.execute(ctx, entry, "manual")
	return result, result.Error
}

// execute runs the job once and records outcome, metrics and logs.
func (s *Scheduler) execute(ctx context.Context, entry *jobEntry, trigger string) *JobResult {
	name := entry.job.Name()
	startedAt := time.Now()

	s.logger.Info("job started", "job", name, "trigger", trigger)

	err := entry.job.Run(ctx)

	result := &JobResult{
		JobName:     name,
		StartedAt:   startedAt,
		CompletedAt: time.Now(),
		Success:     err == nil,
		Error:       err,
	}
	result.Duration = result.CompletedAt.Sub(result.StartedAt)

	if s.metrics != nil {
		s.metrics.RecordExecution(name, result.Duration, result.Success)
	}

	s.mu.Lock()
	if err != nil {
		entry.failCount++
	}
	s.lastRuns[name] = result
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("job failed",
			"job", name,
			"trigger", trigger,
			"duration", result.Duration.String(),
			"error", err,
		)
	} else {
		s.logger.Info("job completed",
			"job", name,
			"duration", result.Duration.String(),
		)
	}
	return result
}

// ══════════════════════════════════════════════════════════════════════════════
// INTROSPECTION
// ══════════════════════════════════════════════════════════════════════════════

// JobInfo describes a registered job for diagnostics.
type JobInfo struct {
	Name        string
	Description string
	Enabled     bool
	Schedule    string
	LastRun     time.Time
	NextRun     time.Time
	RunCount    int64
	FailCount   int64
	LastResult  *JobResult
}

// ListJobs returns a snapshot of every registered job.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]JobInfo, 0, len(s.entries))
	for name, entry := range s.entries {
		infos = append(infos, JobInfo{
			Name:        name,
			Description: entry.job.Description(),
			Enabled:     entry.enabled,
			Schedule:    entry.schedule.String(),
			LastRun:     entry.lastRun,
			NextRun:     entry.nextRun,
			RunCount:    entry.runCount,
			FailCount:   entry.failCount,
			LastResult:  s.lastRuns[name],
		})
	}
	return infos
}

// GetMetrics returns the execution counters, nil when metrics are disabled.
func (s *Scheduler) GetMetrics() *SchedulerMetrics {
	return s.metrics
}
