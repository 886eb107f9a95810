// Package action defines planned remedial actions and their state
// machine. An action always references exactly one triggering insight
// and moves pending → approved|rejected, approved → executed|failed,
// with the permitted unconfirmed path pending → executed.
package action

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"heimgeist/internal/insight"
)

// Status is the lifecycle state of a planned action.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExecuted Status = "executed"
	StatusFailed   Status = "failed"
)

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusExecuted || s == StatusFailed
}

// StepStatus is the lifecycle state of a single step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Step is one tool invocation within an action. Order is 1-based and
// strictly increasing within the owning action.
type Step struct {
	Order       int            `json:"order"`
	Tool        string         `json:"tool"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Description string         `json:"description"`
	Status      StepStatus     `json:"status"`
}

// PlannedAction is an ordered set of remedial steps gated by the state machine.
type PlannedAction struct {
	ID                   string           `json:"id"`
	Timestamp            time.Time        `json:"timestamp"`
	Trigger              *insight.Insight `json:"trigger"`
	Steps                []Step           `json:"steps"`
	RequiresConfirmation bool             `json:"requires_confirmation"`
	Status               Status           `json:"status"`
}

// New mints a pending action for the given trigger. Step order values
// are assigned 1..n in the order given.
func New(trigger *insight.Insight, steps ...Step) *PlannedAction {
	for i := range steps {
		steps[i].Order = i + 1
		if steps[i].Status == "" {
			steps[i].Status = StepPending
		}
	}
	return &PlannedAction{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Trigger:   trigger,
		Steps:     steps,
		Status:    StatusPending,
	}
}

// Approve transitions pending → approved.
func (a *PlannedAction) Approve() error {
	if a.Status != StatusPending {
		return fmt.Errorf("action: approve %s: status is %s, want %s", a.ID, a.Status, StatusPending)
	}
	a.Status = StatusApproved
	return nil
}

// Reject transitions pending → rejected.
func (a *PlannedAction) Reject() error {
	if a.Status != StatusPending {
		return fmt.Errorf("action: reject %s: status is %s, want %s", a.ID, a.Status, StatusPending)
	}
	a.Status = StatusRejected
	return nil
}

// Executable reports whether the action may be executed now: approved,
// or pending without a confirmation requirement.
func (a *PlannedAction) Executable() bool {
	if a.Status == StatusApproved {
		return true
	}
	return a.Status == StatusPending && !a.RequiresConfirmation
}

// MarkExecuted sets the action and all of its steps to their success states.
func (a *PlannedAction) MarkExecuted() {
	a.Status = StatusExecuted
	for i := range a.Steps {
		a.Steps[i].Status = StepCompleted
	}
}

// MarkFailed sets the action to failed, leaving step states as the
// executor left them.
func (a *PlannedAction) MarkFailed() {
	a.Status = StatusFailed
}

// Validate checks the invariants: a trigger is present and step order
// values are unique and strictly ascending.
func (a *PlannedAction) Validate() error {
	if a.Trigger == nil {
		return fmt.Errorf("action: %s has no trigger insight", a.ID)
	}
	last := 0
	for _, s := range a.Steps {
		if s.Order <= last {
			return fmt.Errorf("action: %s step order %d not strictly ascending after %d", a.ID, s.Order, last)
		}
		last = s.Order
	}
	return nil
}
