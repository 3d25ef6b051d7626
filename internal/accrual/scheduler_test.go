package accrual

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/microbank/corebank/internal/logging"
)

func TestRedisPassLock(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	lock := NewRedisPassLock(client, time.Minute, logging.Discard())

	release, err := lock.Acquire(ctx, PassSavingsInterest)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := lock.Acquire(ctx, PassSavingsInterest); !errors.Is(err, ErrPassRunning) {
		t.Fatalf("expected ErrPassRunning, got %v", err)
	}
	other, err := lock.Acquire(ctx, PassDepositMaturity)
	if err != nil {
		t.Fatalf("different pass should not contend: %v", err)
	}
	other()

	release()
	if mr.Exists(passLockPrefix + string(PassSavingsInterest)) {
		t.Fatal("lock key should be deleted on release")
	}
	again, err := lock.Acquire(ctx, PassSavingsInterest)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}

	// a stale release must not delete a lock taken over by someone else
	mr.Set(passLockPrefix+string(PassSavingsInterest), "someone-else")
	again()
	if !mr.Exists(passLockPrefix + string(PassSavingsInterest)) {
		t.Fatal("release removed a lock it no longer owns")
	}
}

func TestRunRefusesWhileLocked(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	e := newEnv(t, 1)
	lock := NewRedisPassLock(client, time.Minute, logging.Discard())
	e.jobs.lock = lock

	release, err := lock.Acquire(context.Background(), PassSavingsInterest)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()
	if _, err := e.jobs.Run(context.Background(), PassSavingsInterest, day0); !errors.Is(err, ErrPassRunning) {
		t.Fatalf("expected ErrPassRunning, got %v", err)
	}
}

func TestSchedulerLifecycle(t *testing.T) {
	e := newEnv(t, 1)
	s := NewScheduler(e.jobs, logging.Discard(), Schedules{
		SavingsInterest: "10 0 * * *",
		DepositInterest: "1 0 * * *",
		Maturity:        "5 0 * * *",
	})

	if st := s.Status(); st.Running || len(st.Passes) != 3 {
		t.Fatalf("unexpected initial status %+v", st)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("second start should be a no-op: %v", err)
	}
	st := s.Status()
	if !st.Running {
		t.Fatal("expected running scheduler")
	}
	for _, p := range st.Passes {
		if p.NextRun.IsZero() {
			t.Fatalf("pass %s has no next run", p.Pass)
		}
	}

	select {
	case <-s.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("stop did not complete")
	}
	if s.Status().Running {
		t.Fatal("expected stopped scheduler")
	}
	<-s.Stop().Done()

	if err := s.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	<-s.Stop().Done()
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	e := newEnv(t, 1)
	s := NewScheduler(e.jobs, logging.Discard(), Schedules{SavingsInterest: "not a cron", DepositInterest: "1 0 * * *", Maturity: "5 0 * * *"})
	if err := s.Start(); err == nil {
		t.Fatal("expected invalid schedule error")
	}
	if s.Status().Running {
		t.Fatal("scheduler must not run after a failed start")
	}
}

func TestTriggerRecordsLastRun(t *testing.T) {
	e := newEnv(t, 1)
	e.open(t, "1000.00")
	s := NewScheduler(e.jobs, logging.Discard(), Schedules{SavingsInterest: "10 0 * * *", DepositInterest: "1 0 * * *", Maturity: "5 0 * * *"})

	sum, err := s.Trigger(context.Background(), PassSavingsInterest)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if sum.Processed != 1 || !sum.AsOf.Equal(day0) {
		t.Fatalf("unexpected summary %+v", sum)
	}
	for _, p := range s.Status().Passes {
		if p.Pass == PassSavingsInterest && (p.LastRun == nil || p.LastRun.Processed != 1) {
			t.Fatalf("last run not recorded: %+v", p)
		}
	}
}

func TestTriggerUsesScheduleZoneMonth(t *testing.T) {
	e := newEnv(t, 1)
	id := e.open(t, "1000.00")
	// 22:10 UTC on Jan 31 is already 01:10 on Feb 1 three hours east
	e.clock.Set(time.Date(2024, 1, 31, 22, 10, 0, 0, time.UTC))
	east := time.FixedZone("UTC+3", 3*60*60)
	s := NewScheduler(e.jobs, logging.Discard(), Schedules{
		SavingsInterest: "10 0 * * *",
		DepositInterest: "1 0 * * *",
		Maturity:        "5 0 * * *",
		Location:        east,
	})

	sum, err := s.Trigger(context.Background(), PassSavingsInterest)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if sum.Processed != 1 || sum.AsOf.Location() != east {
		t.Fatalf("unexpected summary %+v", sum)
	}
	rows := e.interestRows(t, id)
	if len(rows) != 1 {
		t.Fatalf("expected one interest row, got %d", len(rows))
	}
	if rows[0].PeriodTag != "savings-interest:2024-02" || rows[0].Description != "Monthly savings interest for 02/2024" {
		t.Fatalf("expected the local month, got %q / %q", rows[0].PeriodTag, rows[0].Description)
	}
}
