package engine

import (
	"context"
	"fmt"

	"heimgeist/internal/action"
)

// ApproveAction transitions a pending action to approved and persists
// the new status.
func (e *Engine) ApproveAction(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.actions[id]
	if !ok {
		return fmt.Errorf("engine: action %s not found", id)
	}
	if err := a.Approve(); err != nil {
		return err
	}
	e.saveAction(a)
	e.logger.Info("action approved", "id", id)
	return nil
}

// RejectAction transitions a pending action to rejected and persists
// the new status.
func (e *Engine) RejectAction(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.actions[id]
	if !ok {
		return fmt.Errorf("engine: action %s not found", id)
	}
	if err := a.Reject(); err != nil {
		return err
	}
	e.saveAction(a)
	e.logger.Info("action rejected", "id", id)
	return nil
}

// ExecuteAction runs an executable action's steps in order. On success
// the action is marked executed, persisted, and the self-model is
// nudged positively. A step failure reflects negatively and returns
// false without settling the action's status, leaving it for the
// caller to inspect or retry.
func (e *Engine) ExecuteAction(ctx context.Context, id string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.actions[id]
	if !ok {
		return false, fmt.Errorf("engine: action %s not found", id)
	}
	if !a.Executable() {
		return false, fmt.Errorf("engine: action %s not executable in status %s", id, a.Status)
	}

	if err := e.runSteps(ctx, a); err != nil {
		e.logger.Error("execute action", "id", id, "error", err)
		e.saveAction(a)
		e.model.Reflect(false)
		return false, nil
	}

	a.MarkExecuted()
	e.saveAction(a)
	e.model.Reflect(true)
	e.logger.Info("action executed", "id", id, "steps", len(a.Steps))
	return true, nil
}

// AbandonAction settles a non-terminal action as failed. This is the
// operator's way to close out an action whose execution failed and
// that will not be retried.
func (e *Engine) AbandonAction(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.actions[id]
	if !ok {
		return fmt.Errorf("engine: action %s not found", id)
	}
	if a.Status.Terminal() {
		return fmt.Errorf("engine: action %s already settled as %s", id, a.Status)
	}
	a.MarkFailed()
	e.saveAction(a)
	e.logger.Info("action abandoned", "id", id)
	return nil
}

func (e *Engine) runSteps(ctx context.Context, a *action.PlannedAction) error {
	for i := range a.Steps {
		step := &a.Steps[i]
		step.Status = action.StepRunning
		e.logger.Info("running step", "action", a.ID, "order", step.Order, "tool", step.Tool)
		if e.runner != nil {
			if err := e.runner(ctx, *step); err != nil {
				step.Status = action.StepFailed
				return fmt.Errorf("step %d (%s): %w", step.Order, step.Tool, err)
			}
		}
		step.Status = action.StepCompleted
	}
	return nil
}
