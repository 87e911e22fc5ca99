package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"roundtable/internal/logging"
	"roundtable/internal/types"
)

// =============================================================================
// PROFILE EVALUATION
// =============================================================================

var (
	// ErrEvalTimeout marks a contribution whose evaluation exceeded the
	// per-evaluation deadline.
	ErrEvalTimeout = errors.New("evaluation timed out")

	// ErrEvalFailed marks a contribution whose evaluator returned an
	// error or panicked.
	ErrEvalFailed = errors.New("evaluation failed")

	// ErrSessionFailed is returned when a session cannot produce any
	// usable result: unresolvable dependencies, every evaluation failed,
	// or a caller abort.
	ErrSessionFailed = errors.New("collaboration session failed")
)

// runEvaluation invokes one profile evaluator under the session deadline.
// It never panics and never blocks past the timeout: the evaluator runs
// on its own goroutine with a recover, and an evaluator that ignores its
// context is abandoned with a timeout contribution. The returned
// contribution always carries the profile ID and wall-clock elapsed time.
func runEvaluation(ctx context.Context, profile types.Profile, task types.EvalTask, timeout time.Duration) types.Contribution {
	if profile.Evaluate == nil {
		return types.Contribution{
			ID:        uuid.NewString(),
			ProfileID: profile.ID,
			Err:       fmt.Errorf("%w: profile %s has no evaluator", ErrEvalFailed, profile.ID),
		}
	}

	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan types.Contribution, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.OrchestratorError("profile %s panicked: %v", profile.ID, r)
				done <- types.Contribution{
					ProfileID: profile.ID,
					Err:       fmt.Errorf("%w: profile %s panicked: %v", ErrEvalFailed, profile.ID, r),
				}
			}
		}()
		c, err := profile.Evaluate(evalCtx, task)
		if err != nil {
			c = types.Contribution{ProfileID: profile.ID, Err: wrapEvalError(evalCtx, profile.ID, err)}
		}
		done <- c
	}()

	select {
	case c := <-done:
		return finishContribution(c, profile.ID, start)
	case <-evalCtx.Done():
		c := types.Contribution{
			ProfileID: profile.ID,
			Err:       wrapEvalError(evalCtx, profile.ID, evalCtx.Err()),
		}
		return finishContribution(c, profile.ID, start)
	}
}

// wrapEvalError classifies an evaluator failure as timeout or plain
// failure, preserving the cause.
func wrapEvalError(ctx context.Context, profileID string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: profile %s: %v", ErrEvalTimeout, profileID, err)
	}
	return fmt.Errorf("%w: profile %s: %v", ErrEvalFailed, profileID, err)
}

func finishContribution(c types.Contribution, profileID string, start time.Time) types.Contribution {
	c.ProfileID = profileID
	c.Elapsed = time.Since(start)
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Confidence < 0 {
		c.Confidence = 0
	} else if c.Confidence > 1 {
		c.Confidence = 1
	}
	return c
}

// skippedContribution records a dependent that never ran because a hard
// dependency produced no usable output.
func skippedContribution(profileID, depID string) types.Contribution {
	return types.Contribution{
		ID:        uuid.NewString(),
		ProfileID: profileID,
		Skipped:   true,
		Err:       fmt.Errorf("%w: hard dependency %s produced no usable output", ErrEvalFailed, depID),
	}
}

// auditEventFor maps a contribution outcome to its audit event type.
func auditEventFor(c types.Contribution) logging.AuditEventType {
	switch {
	case c.Skipped:
		return logging.AuditEvalSkipped
	case errors.Is(c.Err, ErrEvalTimeout):
		return logging.AuditEvalTimeout
	case c.Err != nil:
		return logging.AuditEvalError
	default:
		return logging.AuditEvalComplete
	}
}
