package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultTaskTimeout bounds a single task run.
const DefaultTaskTimeout = 10 * time.Second

// Task is one unit of background work.
type Task func(context.Context) error

type loop struct {
	name     string
	interval time.Duration
	fn       Task
}

// Scheduler runs background tasks for the retry server: fixed-interval loops
// (dispatch) and cron-scheduled jobs (archive sync, poison sweep).
type Scheduler struct {
	loops    []loop
	cron     *cron.Cron
	parser   cron.Parser
	timeout  time.Duration
	stop     chan struct{}
	stopOnce sync.Once
	started  bool
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// New creates a new Scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		cron:    cron.New(cron.WithParser(parser)),
		parser:  parser,
		timeout: DefaultTaskTimeout,
		stop:    make(chan struct{}),
		logger:  logger,
	}
}

// Every registers fn to run on a fixed interval once Start is called.
func (s *Scheduler) Every(name string, interval time.Duration, fn Task) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler loop %s: interval must be positive, got %s", name, interval)
	}
	s.loops = append(s.loops, loop{name: name, interval: interval, fn: fn})
	return nil
}

// Cron registers fn under a standard five-field cron expression or descriptor
// such as "@every 5m".
func (s *Scheduler) Cron(name, spec string, fn Task) error {
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("scheduler job %s: invalid cron expression %q: %w", name, spec, err)
	}
	s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.run(name, fn)
	}))
	return nil
}

// Start begins all background scheduling goroutines.
func (s *Scheduler) Start() {
	s.started = true
	for _, l := range s.loops {
		s.wg.Add(1)
		go s.runLoop(l)
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "loops", len(s.loops), "cron_jobs", len(s.cron.Entries()))
}

// Stop signals all background goroutines to stop and waits for in-flight
// task runs to return.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.started {
			<-s.cron.Stop().Done()
		}
		s.wg.Wait()
	})
}

func (s *Scheduler) runLoop(l loop) {
	defer s.wg.Done()
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.run(l.name, l.fn)
		}
	}
}

func (s *Scheduler) run(name string, fn Task) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		s.logger.Error("scheduler loop error", "loop", name, "error", err)
	}
}
