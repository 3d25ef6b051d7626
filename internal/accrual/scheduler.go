package accrual

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedules holds the cron spec of every pass and the zone they run in.
type Schedules struct {
	SavingsInterest string
	DepositInterest string
	Maturity        string
	Location        *time.Location
}

func (s Schedules) spec(p Pass) string {
	switch p {
	case PassSavingsInterest:
		return s.SavingsInterest
	case PassDepositInterest:
		return s.DepositInterest
	default:
		return s.Maturity
	}
}

// PassStatus describes one registered pass.
type PassStatus struct {
	Pass     Pass      `json:"pass"`
	Schedule string    `json:"schedule"`
	NextRun  time.Time `json:"next_run,omitempty"`
	LastRun  *Summary  `json:"last_run,omitempty"`
}

// Status is a snapshot of the scheduler.
type Status struct {
	Running bool         `json:"running"`
	Passes  []PassStatus `json:"passes"`
}

// Scheduler owns the cron runner for the accrual passes. A fresh cron runner
// is built on every Start so Stop followed by Start is allowed.
type Scheduler struct {
	jobs      *Jobs
	logger    *slog.Logger
	schedules Schedules

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[Pass]cron.EntryID
	last    map[Pass]Summary
}

// NewScheduler creates a scheduler. It does not start it.
func NewScheduler(jobs *Jobs, logger *slog.Logger, schedules Schedules) *Scheduler {
	if schedules.Location == nil {
		schedules.Location = time.UTC
	}
	return &Scheduler{
		jobs:      jobs,
		logger:    logger,
		schedules: schedules,
		last:      make(map[Pass]Summary),
	}
}

// Start registers the three passes and starts cron. Calling Start on a
// running scheduler is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelInfo))
	c := cron.New(
		cron.WithLocation(s.schedules.Location),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	entries := make(map[Pass]cron.EntryID, len(Passes))
	for _, p := range Passes {
		p := p
		spec := s.schedules.spec(p)
		id, err := c.AddFunc(spec, func() { s.runScheduled(p) })
		if err != nil {
			s.logger.Error("failed to schedule accrual pass", slog.String("pass", string(p)), slog.Any("error", err))
			return fmt.Errorf("schedule %s: %w", p, err)
		}
		entries[p] = id
		s.logger.Info("scheduled accrual pass", slog.String("pass", string(p)), slog.String("schedule", spec))
	}

	c.Start()
	s.cron = c
	s.entries = entries
	s.logger.Info("accrual scheduler started")
	return nil
}

// Stop stops cron and returns a context that is done once running passes
// have finished.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	ctx := s.cron.Stop()
	s.cron = nil
	s.entries = nil
	s.logger.Info("accrual scheduler stopped")
	return ctx
}

// Status reports whether cron is running and when each pass runs next.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Running: s.cron != nil, Passes: make([]PassStatus, 0, len(Passes))}
	for _, p := range Passes {
		ps := PassStatus{Pass: p, Schedule: s.schedules.spec(p)}
		if s.cron != nil {
			ps.NextRun = s.cron.Entry(s.entries[p]).Next
		}
		if sum, ok := s.last[p]; ok {
			sum := sum
			ps.LastRun = &sum
		}
		st.Passes = append(st.Passes, ps)
	}
	return st
}

// Trigger runs one pass immediately, as of the current time in the
// scheduler's zone.
func (s *Scheduler) Trigger(ctx context.Context, pass Pass) (Summary, error) {
	sum, err := s.jobs.Run(ctx, pass, s.now())
	if err != nil {
		return sum, err
	}
	s.record(sum)
	return sum, nil
}

func (s *Scheduler) runScheduled(pass Pass) {
	s.logger.Info("running scheduled accrual pass", slog.String("pass", string(pass)))
	sum, err := s.jobs.Run(context.Background(), pass, s.now())
	if err != nil {
		s.logger.Error("scheduled accrual pass not run", slog.String("pass", string(pass)), slog.Any("error", err))
		return
	}
	s.record(sum)
}

// now reads the clock in the zone cron fires in, so month tags follow the
// local calendar.
func (s *Scheduler) now() time.Time {
	return s.jobs.clock.Now().In(s.schedules.Location)
}

func (s *Scheduler) record(sum Summary) {
	s.mu.Lock()
	s.last[sum.Pass] = sum
	s.mu.Unlock()
}
