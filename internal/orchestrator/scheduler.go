// Package orchestrator wires the core's components together into the
// running trading loop: it owns the periodic job scheduler, the per-symbol
// poll-and-analyze cycle, and the exchange event handlers that feed the
// order/position managers and the reconciler.
package orchestrator

import (
	"sync"
	"time"

	"github.com/ashfall-systems/perpcore/internal/clock"
	"github.com/ashfall-systems/perpcore/internal/logging"
)

var schedLog = logging.For("scheduler")

// JobStats is a snapshot of one scheduled job's run history, exposed for
// health reporting and tests.
type JobStats struct {
	LastRunMs  int64
	RunCount   int
	ErrorCount int
	IntervalMs int64
}

// job is the scheduler's internal bookkeeping for one registered job.
type job struct {
	name         string
	fn           func() error
	interval     time.Duration
	runImmediate bool
	stopCh       chan struct{}

	mu         sync.Mutex
	lastRunMs  int64
	runCount   int
	errorCount int
}

// Scheduler runs named jobs on their own ticker, each on its own goroutine,
// mirroring the teacher's ticker+select+WaitGroup loop idiom (see
// SynapseStrike/trader/auto_trader.go's Run/Stop) in place of the original
// asyncio task-per-job model.
type Scheduler struct {
	clock clock.Clock

	mu      sync.Mutex
	jobs    map[string]*job
	running bool
	wg      sync.WaitGroup
}

// NewScheduler builds a Scheduler driven by c (a clock.Real in production,
// a clock.Fake in tests).
func NewScheduler(c clock.Clock) *Scheduler {
	return &Scheduler{clock: c, jobs: make(map[string]*job)}
}

// AddJob registers a job to run every interval. runImmediate mirrors
// scheduler.py's ScheduledJob.run_immediately: when true the job fires once
// before the first interval elapses. AddJob is a no-op once the scheduler
// is already running — jobs must be registered before Start.
func (s *Scheduler) AddJob(name string, interval time.Duration, runImmediate bool, fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		schedLog.WithField("job", name).Warn("AddJob called after Start; ignoring")
		return
	}
	s.jobs[name] = &job{name: name, fn: fn, interval: interval, runImmediate: runImmediate, stopCh: make(chan struct{})}
}

// RemoveJob stops and unregisters a job by name. It is safe to call while
// the scheduler is running.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	if ok {
		delete(s.jobs, name)
	}
	s.mu.Unlock()
	if ok {
		close(j.stopCh)
	}
}

// Start launches every registered job on its own goroutine. Start is a
// no-op if the scheduler is already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	for _, j := range jobs {
		s.wg.Add(1)
		go s.runJobLoop(j)
	}
}

// Stop signals every running job to exit and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	for _, j := range jobs {
		close(j.stopCh)
	}
	s.wg.Wait()
}

func (s *Scheduler) runJobLoop(j *job) {
	defer s.wg.Done()

	if j.runImmediate {
		s.runOnce(j)
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopCh:
			return
		case <-ticker.C:
			s.runOnce(j)
		}
	}
}

func (s *Scheduler) runOnce(j *job) {
	defer func() {
		if r := recover(); r != nil {
			j.mu.Lock()
			j.errorCount++
			j.mu.Unlock()
			schedLog.WithField("job", j.name).WithField("panic", r).Error("scheduled job panicked")
		}
	}()

	if err := j.fn(); err != nil {
		j.mu.Lock()
		j.errorCount++
		j.mu.Unlock()
		schedLog.WithField("job", j.name).WithError(err).Warn("scheduled job returned error")
		return
	}

	j.mu.Lock()
	j.lastRunMs = s.clock.NowMs()
	j.runCount++
	j.mu.Unlock()
}

// JobStats returns a snapshot of every registered job's run history, keyed
// by name.
func (s *Scheduler) JobStats() map[string]JobStats {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	out := make(map[string]JobStats, len(jobs))
	for _, j := range jobs {
		j.mu.Lock()
		out[j.name] = JobStats{
			LastRunMs: j.lastRunMs, RunCount: j.runCount, ErrorCount: j.errorCount,
			IntervalMs: j.interval.Milliseconds(),
		}
		j.mu.Unlock()
	}
	return out
}
