package engine

import (
	"fmt"

	"heimgeist/internal/action"
	"heimgeist/internal/config"
	"heimgeist/internal/insight"
)

// Built-in remediation tools the Director may schedule.
const (
	toolNotify  = "heimgeist-notify"
	toolAnalyze = "heimgeist-analyze"
	toolGuard   = "heimgeist-guard"
	toolReport  = "heimgeist-report"
)

// planAction maps one high-severity or operator-command insight to a
// planned action. The safety gate is consulted first: a stressed
// self-model never proposes remediation tools, only a confirmed
// notify for critical findings.
func (e *Engine) planAction(in *insight.Insight) *action.PlannedAction {
	gate := e.model.SafetyGate()
	if !gate.Safe {
		if in.Severity != insight.SeverityCritical {
			e.logger.Warn("planning suppressed by safety gate",
				"insight", in.Title, "reason", gate.Reason)
			return nil
		}
		a := action.New(in, action.Step{
			Tool:        toolNotify,
			Parameters:  map[string]any{"reason": gate.Reason, "insight_id": in.ID},
			Description: "notify operators; remediation blocked by safety gate",
		})
		a.RequiresConfirmation = true
		return a
	}

	confirm := e.cfg.AutonomyLevel != config.Operative

	switch {
	case in.ContextKind() == "operator_command":
		return planOperatorCommand(in)

	case in.Severity == insight.SeverityCritical && in.ContextKind() == "ci_failure_main":
		a := action.New(in,
			action.Step{Tool: toolGuard, Parameters: map[string]any{"branch": "main"},
				Description: "guard-check the main branch"},
			action.Step{Tool: toolAnalyze, Parameters: map[string]any{"insight_id": in.ID},
				Description: "quick analysis of the failing pipeline"},
			action.Step{Tool: toolReport, Parameters: map[string]any{"insight_id": in.ID},
				Description: "report findings to operators"},
		)
		a.RequiresConfirmation = confirm
		return a

	case in.Severity == insight.SeverityCritical:
		a := action.New(in,
			action.Step{Tool: toolAnalyze, Parameters: map[string]any{"insight_id": in.ID},
				Description: "quick analysis of the triggering condition"},
			action.Step{Tool: toolGuard, Parameters: map[string]any{"insight_id": in.ID},
				Description: "guard-check affected resources"},
			action.Step{Tool: toolReport, Parameters: map[string]any{"insight_id": in.ID},
				Description: "report findings to operators"},
		)
		a.RequiresConfirmation = confirm
		return a

	case in.ContextKind() == "deploy_failure":
		a := action.New(in,
			action.Step{Tool: toolAnalyze, Parameters: map[string]any{"insight_id": in.ID},
				Description: "analyze the failed deployment"},
			action.Step{Tool: toolNotify, Parameters: map[string]any{"insight_id": in.ID},
				Description: "notify the owning team"},
		)
		// deployment remediation is confirmed regardless of autonomy
		a.RequiresConfirmation = true
		return a

	default:
		a := action.New(in,
			action.Step{Tool: toolAnalyze, Parameters: map[string]any{"insight_id": in.ID},
				Description: "analyze the triggering condition"},
			action.Step{Tool: toolReport, Parameters: map[string]any{"insight_id": in.ID},
				Description: "report findings to operators"},
		)
		a.RequiresConfirmation = confirm
		return a
	}
}

// planOperatorCommand maps an explicit operator request to a single
// auto-approved tool invocation. Commands are requests, not inferred
// risk, so they bypass the confirmation policy.
func planOperatorCommand(in *insight.Insight) *action.PlannedAction {
	cmd, _ := in.Context["command"].(map[string]any)
	tool, _ := cmd["tool"].(string)
	verb, _ := cmd["command"].(string)
	if tool == "" || verb == "" {
		return nil
	}
	args, _ := cmd["args"].(map[string]any)

	a := action.New(in, action.Step{
		Tool:        fmt.Sprintf("%s-%s", tool, verb),
		Parameters:  args,
		Description: fmt.Sprintf("execute operator command %s %s", tool, verb),
	})
	a.RequiresConfirmation = false
	_ = a.Approve() // freshly minted, always pending
	return a
}
