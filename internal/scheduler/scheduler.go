package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/carbonnexus/orchestrator/internal/metrics"
)

// Package scheduler runs named periodic jobs with single-flight execution.
//
// Each job owns a busy flag: a tick that arrives while the previous run is
// still in progress is skipped, not queued. When a Redis lock client is
// configured, a job must also obtain a lease named after it before running,
// which keeps replicas from running the same job in the same interval.
// Job errors and panics are logged; the loop keeps ticking.

// Job names used by the orchestrator.
const (
	JobHotspotScan    = "hotspot_scan"
	JobBaselineRecalc = "baseline_recalc"
)

var (
	// ErrUnknownJob is returned for unregistered job names.
	ErrUnknownJob = errors.New("unknown job")
)

// JobFunc is the body of a job.
type JobFunc func(ctx context.Context) error

// Job describes a periodic job.
type Job struct {
	Name     string
	Interval time.Duration
	Run      JobFunc
}

type job struct {
	Job
	busy *atomic.Bool
}

// Scheduler runs registered jobs on their intervals.
type Scheduler struct {
	mu     sync.Mutex
	jobs   map[string]*job
	locker *redislock.Client
	log    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler. locker may be nil for single-replica setups.
func New(locker *redislock.Client, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		jobs:   make(map[string]*job),
		locker: locker,
		log:    log.Named("scheduler"),
	}
}

// Register adds a job. It must be called before Start.
func (s *Scheduler) Register(j Job) error {
	if j.Name == "" || j.Run == nil {
		return fmt.Errorf("job requires a name and a function")
	}
	if j.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", j.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[j.Name]; dup {
		return fmt.Errorf("job %s already registered", j.Name)
	}
	s.jobs[j.Name] = &job{Job: j, busy: atomic.NewBool(false)}
	return nil
}

// Start launches one ticker loop per registered job. Each job first runs
// one interval after Start.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, s.cancel = context.WithCancel(ctx)
	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, j)
		s.log.Info("job scheduled", zap.String("job", j.Name), zap.Duration("interval", j.Interval))
	}
}

// Stop cancels every loop and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer s.wg.Done()
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, j)
		}
	}
}

// RunNow runs the named job immediately, honouring its busy flag and
// lease. It reports whether the job ran.
func (s *Scheduler) RunNow(ctx context.Context, name string) (bool, error) {
	j, err := s.job(name)
	if err != nil {
		return false, err
	}
	return s.tick(ctx, j)
}

func (s *Scheduler) job(name string) (*job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return j, nil
}

// Running reports whether the named job is currently executing.
func (s *Scheduler) Running(name string) bool {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	return ok && j.busy.Load()
}

func (s *Scheduler) tick(ctx context.Context, j *job) (ran bool, err error) {
	log := s.log.With(zap.String("job", j.Name))

	if !j.busy.CAS(false, true) {
		metrics.SchedulerRuns.WithLabelValues(j.Name, "skipped").Inc()
		log.Info("previous run still in progress, skipping tick")
		return false, nil
	}
	defer j.busy.Store(false)

	if !s.obtainLease(ctx, log, j) {
		metrics.SchedulerRuns.WithLabelValues(j.Name, "skipped").Inc()
		return false, nil
	}

	ran = true
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", j.Name, r)
		}
		if err != nil {
			metrics.SchedulerRuns.WithLabelValues(j.Name, "error").Inc()
			log.Error("job failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
			return
		}
		metrics.SchedulerRuns.WithLabelValues(j.Name, "ok").Inc()
		log.Debug("job finished", zap.Duration("duration", time.Since(start)))
	}()

	return ran, j.Run(ctx)
}

// obtainLease takes the job's Redis lease. The lease is left to expire
// rather than released, so at most one replica runs the job per interval.
// When Redis is unreachable the job runs without a lease.
func (s *Scheduler) obtainLease(ctx context.Context, log *zap.Logger, j *job) bool {
	if s.locker == nil {
		return true
	}
	ttl := j.Interval * 9 / 10
	_, err := s.locker.Obtain(ctx, LeaseKey(j.Name), ttl, nil)
	if err == redislock.ErrNotObtained {
		log.Info("job lease held by another replica, skipping tick")
		return false
	}
	if err != nil {
		log.Warn("error obtaining job lease; running without it", zap.Error(err))
	}
	return true
}

// LeaseKey is the Redis key guarding a job.
func LeaseKey(name string) string {
	return "orchestrator:job:" + name
}
