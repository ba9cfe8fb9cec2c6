package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

func TestRegister_Validation(t *testing.T) {
	s := New(slog.Default())

	if err := s.Register(Job{Schedule: "@every 1m", Handler: func(ctx context.Context) error { return nil }}); err == nil {
		t.Error("expected an error for a nameless job")
	}
	if err := s.Register(Job{Name: "no_handler", Schedule: "@every 1m"}); err == nil {
		t.Error("expected an error for a handlerless job")
	}
	if err := s.Register(Job{Name: "bad_schedule", Schedule: "not a cron expr", Handler: func(ctx context.Context) error { return nil }}); err == nil {
		t.Error("expected an error for an invalid schedule")
	}
}

func TestRegister_AcceptedSchedules(t *testing.T) {
	s := New(slog.Default())
	handler := func(ctx context.Context) error { return nil }

	for _, schedule := range []string{"@every 15m", "0 3 * * *", "*/5 * * * *"} {
		if err := s.Register(Job{Name: "job_" + schedule, Schedule: schedule, Handler: handler}); err != nil {
			t.Errorf("schedule %q rejected: %v", schedule, err)
		}
	}
}

func TestRun_RecordsLastRunAndSurvivesFailure(t *testing.T) {
	s := New(slog.Default())

	failing := Job{
		Name:     "flaky",
		Schedule: "@every 1h",
		Handler:  func(ctx context.Context) error { return errors.New("transient") },
	}
	if err := s.Register(failing); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if !s.LastRun("flaky").IsZero() {
		t.Error("job must not have run yet")
	}

	// Drive the job directly; a failure is logged, never fatal.
	s.run(failing)
	if s.LastRun("flaky").IsZero() {
		t.Error("expected last-run recorded after a failing run")
	}
}

func TestRun_RecoversPanic(t *testing.T) {
	s := New(slog.Default())

	job := Job{
		Name:     "panicky",
		Schedule: "@every 1h",
		Handler:  func(ctx context.Context) error { panic("boom") },
	}

	// Must not propagate.
	s.run(job)
}
