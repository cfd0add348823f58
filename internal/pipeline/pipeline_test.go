package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/nao1215/prnuscan/internal/model"
)

// mockStep is a test helper that implements the Step interface.
type mockStep struct {
	name      string
	doFunc    func(ctx context.Context, job *model.Job) error
	callCount int
}

// Do implements Step.Do.
func (m *mockStep) Do(ctx context.Context, job *model.Job) error {
	m.callCount++
	if m.doFunc != nil {
		return m.doFunc(ctx, job)
	}
	return nil
}

// Name implements Step.Name.
func (m *mockStep) Name() string {
	return m.name
}

func testJob() *model.Job {
	return model.NewJob("05", "adp2", "/data/D05/nat/a.jpg", "/out/adp2/D05/a.jpg")
}

func TestPipelineNew(t *testing.T) {
	t.Parallel()

	t.Run("creates pipeline with default settings", func(t *testing.T) {
		t.Parallel()

		p := New()
		if p.StepCount() != 0 {
			t.Errorf("expected 0 steps, got %d", p.StepCount())
		}
		if p.continueOnError {
			t.Error("expected continueOnError to default to false")
		}
		if p.logger == nil {
			t.Error("expected a default logger")
		}
	})

	t.Run("applies WithContinueOnError option", func(t *testing.T) {
		t.Parallel()

		p := New(WithContinueOnError(true))
		if !p.continueOnError {
			t.Error("expected continueOnError to be true")
		}
	})

	t.Run("nil logger falls back to default", func(t *testing.T) {
		t.Parallel()

		p := New(WithLogger(nil))
		if p.logger == nil {
			t.Error("expected a default logger")
		}
	})
}

func TestPipelineAddStep(t *testing.T) {
	t.Parallel()

	p := New()
	p.AddStep(&mockStep{name: "one"})
	p.AddSteps(&mockStep{name: "two"}, &mockStep{name: "three"})

	if p.StepCount() != 3 {
		t.Fatalf("expected 3 steps, got %d", p.StepCount())
	}
	names := p.StepNames()
	if names[0] != "one" || names[1] != "two" || names[2] != "three" {
		t.Errorf("unexpected step names %v", names)
	}
}

func TestPipelineExecute(t *testing.T) {
	t.Parallel()

	t.Run("executes all steps in order", func(t *testing.T) {
		t.Parallel()

		order := make([]string, 0)
		p := New()
		for _, name := range []string{"step-1", "step-2"} {
			p.AddStep(&mockStep{
				name: name,
				doFunc: func(_ context.Context, _ *model.Job) error {
					order = append(order, name)
					return nil
				},
			})
		}

		job := testJob()
		if err := p.Execute(context.Background(), job); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(order) != 2 || order[0] != "step-1" || order[1] != "step-2" {
			t.Errorf("wrong execution order: %v", order)
		}
		if len(job.PerformedSteps) != 2 {
			t.Errorf("expected 2 performed steps, got %v", job.PerformedSteps)
		}
	})

	t.Run("stops on first error by default", func(t *testing.T) {
		t.Parallel()

		expectedErr := errors.New("step failed")
		second := &mockStep{name: "should-not-run"}

		p := New()
		p.AddSteps(&mockStep{
			name: "failing-step",
			doFunc: func(_ context.Context, _ *model.Job) error {
				return expectedErr
			},
		}, second)

		job := testJob()
		err := p.Execute(context.Background(), job)
		if !errors.Is(err, expectedErr) {
			t.Errorf("expected error %v, got %v", expectedErr, err)
		}
		if second.callCount != 0 {
			t.Error("second step should not have been called")
		}
		if !job.Failed() || job.ErrorMessage != expectedErr.Error() {
			t.Errorf("expected error recorded on job, got %v", job.Err)
		}
	})

	t.Run("continues on error when configured and keeps the first error", func(t *testing.T) {
		t.Parallel()

		first := errors.New("first")
		p := New(WithContinueOnError(true))
		second := &mockStep{
			name: "also-fails",
			doFunc: func(_ context.Context, _ *model.Job) error {
				return errors.New("second")
			},
		}
		p.AddSteps(&mockStep{
			name: "fails",
			doFunc: func(_ context.Context, _ *model.Job) error {
				return first
			},
		}, second)

		job := testJob()
		if err := p.Execute(context.Background(), job); err != nil {
			t.Errorf("expected nil error with continueOnError, got %v", err)
		}
		if second.callCount != 1 {
			t.Error("second step should have been called")
		}
		if !errors.Is(job.Err, first) {
			t.Errorf("expected first error on job, got %v", job.Err)
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		step := &mockStep{name: "should-not-run"}
		p := New()
		p.AddStep(step)

		job := testJob()
		err := p.Execute(ctx, job)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if step.callCount != 0 {
			t.Error("step should not have been called")
		}
		if !job.TimedOut {
			t.Error("job.TimedOut should be true")
		}
	})

	t.Run("skipped job stops the pipeline without error", func(t *testing.T) {
		t.Parallel()

		after := &mockStep{name: "after"}
		p := New()
		p.AddSteps(&mockStep{
			name: "skipper",
			doFunc: func(_ context.Context, job *model.Job) error {
				job.Skipped = true
				return nil
			},
		}, after)

		job := testJob()
		if err := p.Execute(context.Background(), job); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if after.callCount != 0 {
			t.Error("steps after a skip should not run")
		}
		if len(job.PerformedSteps) != 1 || job.PerformedSteps[0] != "skipper" {
			t.Errorf("unexpected performed steps %v", job.PerformedSteps)
		}
	})
}

func TestMockStep(t *testing.T) {
	t.Parallel()

	step := &mockStep{name: "my-step"}
	job := testJob()
	for range 3 {
		if err := step.Do(context.Background(), job); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if step.callCount != 3 {
		t.Errorf("expected call count 3, got %d", step.callCount)
	}
	if step.Name() != "my-step" {
		t.Errorf("expected name 'my-step', got %q", step.Name())
	}
}
