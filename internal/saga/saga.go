// Package saga runs ordered write steps with compensating rollbacks. It stands
// in for a multi-table transaction the store does not expose: each step pairs
// an Execute with an optional Rollback that undoes it.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrTransactionFailed tags the error returned by Result.Err.
var ErrTransactionFailed = errors.New("saga: transaction failed")

// Step is one named write. Rollback receives the value Execute returned and
// must tolerate concurrent writers having touched the same rows since.
type Step struct {
	Name     string
	Execute  func(ctx context.Context) (any, error)
	Rollback func(ctx context.Context, result any) error
}

// Result aggregates one Run.
type Result struct {
	Success bool
	// Results holds one value per completed step, in order.
	Results []any
	// Errors holds the triggering error of a failed run.
	Errors []error
	// RollbackErrors holds compensation failures, most recent step first.
	RollbackErrors []error
}

// Err returns nil on success, otherwise one error wrapping
// ErrTransactionFailed, the trigger and any rollback failures.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	errs := make([]error, 0, 1+len(r.Errors)+len(r.RollbackErrors))
	errs = append(errs, ErrTransactionFailed)
	errs = append(errs, r.Errors...)
	errs = append(errs, r.RollbackErrors...)
	return errors.Join(errs...)
}

// PartiallyRolledBack reports whether some compensation failed.
func (r Result) PartiallyRolledBack() bool {
	return !r.Success && len(r.RollbackErrors) > 0
}

// StepError identifies the step that failed.
type StepError struct {
	Step     string
	Rollback bool
	Err      error
}

func (e *StepError) Error() string {
	if e.Rollback {
		return fmt.Sprintf("saga: rollback %s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("saga: step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Orchestrator executes steps sequentially.
type Orchestrator struct {
	logger *slog.Logger
}

// New constructs an Orchestrator.
func New(logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{logger: logger}
}

// Run executes steps in order. On the first failure no further step runs and
// every completed step is rolled back in reverse order with its own result. A
// failing rollback is recorded and the unwind continues.
func (o *Orchestrator) Run(ctx context.Context, steps ...Step) Result {
	result := Result{Results: make([]any, 0, len(steps))}
	for i, step := range steps {
		name := stepName(step, i)
		if step.Execute == nil {
			result.Errors = append(result.Errors, &StepError{Step: name, Err: errors.New("execute not defined")})
			o.unwind(ctx, steps[:i], &result)
			return result
		}
		value, err := step.Execute(ctx)
		if err != nil {
			o.logger.Warn("saga step failed", slog.String("step", name), slog.Any("error", err))
			result.Errors = append(result.Errors, &StepError{Step: name, Err: err})
			o.unwind(ctx, steps[:i], &result)
			return result
		}
		result.Results = append(result.Results, value)
	}
	result.Success = true
	return result
}

func (o *Orchestrator) unwind(ctx context.Context, done []Step, result *Result) {
	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if step.Rollback == nil {
			continue
		}
		name := stepName(step, i)
		if err := step.Rollback(ctx, result.Results[i]); err != nil {
			o.logger.Warn("saga rollback failed", slog.String("step", name), slog.Any("error", err))
			result.RollbackErrors = append(result.RollbackErrors, &StepError{Step: name, Rollback: true, Err: err})
		}
	}
}

func stepName(step Step, index int) string {
	if step.Name != "" {
		return step.Name
	}
	return fmt.Sprintf("#%d", index+1)
}

// Value returns the result of step index typed as T.
func Value[T any](r Result, index int) (T, bool) {
	var zero T
	if index < 0 || index >= len(r.Results) {
		return zero, false
	}
	v, ok := r.Results[index].(T)
	return v, ok
}
