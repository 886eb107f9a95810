package engine

import (
	"fmt"

	"heimgeist/internal/event"
	"heimgeist/internal/insight"
	"heimgeist/internal/sidestore"
)

// observe applies the Observer's deterministic per-type rules to one
// event. Side-table upserts happen here too; their failures are logged
// and never block insight production.
func (e *Engine) observe(ev *event.Event) []*insight.Insight {
	switch ev.Kind() {
	case event.TypeCIResult:
		return e.observeCIResult(ev)
	case event.TypeDeployResult:
		return e.observeDeployResult(ev)
	case event.TypeIncidentDetected:
		return e.observeIncident(ev)
	case event.TypePatternGood:
		return e.observePattern(ev, "good")
	case event.TypePatternBad:
		return e.observePattern(ev, "bad")
	case event.TypeEpicUpdate:
		e.observeEpicUpdate(ev)
		return nil
	case event.TypeOperatorCommand:
		return e.observeOperatorCommand(ev)
	case event.TypeCustom:
		// counted into the report's uncertainty block
		e.unknownEvents++
		e.logger.Debug("no observer rule for event", "id", ev.ID, "type", ev.Type)
		return nil
	}
	return nil
}

// failed reports whether a result-carrying payload describes a failure.
func failed(ev *event.Event) bool {
	switch ev.String("status") {
	case "failure", "failed", "error":
		return true
	}
	if ok, present := ev.Payload["success"].(bool); present {
		return !ok
	}
	return false
}

func (e *Engine) observeCIResult(ev *event.Event) []*insight.Insight {
	if !failed(ev) {
		return nil
	}
	branch := ev.String("branch")
	pipeline := ev.String("pipeline")
	if pipeline == "" {
		pipeline = ev.Source
	}

	if branch == "main" {
		in := insight.New(insight.RoleObserver, insight.TypeRisk, insight.SeverityCritical,
			"Critical CI Failure on Main",
			fmt.Sprintf("CI pipeline %s failed on the main branch", pipeline)).
			WithSource(ev).
			WithContext("kind", "ci_failure_main").
			WithContext("branch", branch).
			WithContext("pipeline", pipeline)
		in.Recommendations = []string{
			"stop merging",
			"inspect the failing pipeline before accepting new commits",
		}
		return []*insight.Insight{in}
	}

	in := insight.New(insight.RoleObserver, insight.TypeRisk, insight.SeverityMedium,
		"CI Failure on Branch",
		fmt.Sprintf("CI pipeline %s failed on branch %s", pipeline, branch)).
		WithSource(ev).
		WithContext("kind", "ci_failure").
		WithContext("branch", branch).
		WithContext("pipeline", pipeline)
	return []*insight.Insight{in}
}

func (e *Engine) observeDeployResult(ev *event.Event) []*insight.Insight {
	if !failed(ev) {
		return nil
	}
	env := ev.String("environment")
	in := insight.New(insight.RoleObserver, insight.TypeRisk, insight.SeverityHigh,
		"Deployment Failure Detected",
		fmt.Sprintf("Deployment to %s reported a failure", orUnknown(env))).
		WithSource(ev).
		WithContext("kind", "deploy_failure").
		WithContext("environment", env)
	return []*insight.Insight{in}
}

func (e *Engine) observeIncident(ev *event.Event) []*insight.Insight {
	incidentID := ev.String("incident_id")
	if incidentID == "" {
		incidentID = ev.ID
	}
	title := ev.String("title")
	severity := ev.String("severity")
	status := ev.String("status")
	if status == "" {
		status = "open"
	}
	if e.side != nil {
		err := e.side.UpsertIncident(sidestore.Incident{
			ID: incidentID, Title: title, Status: status, Severity: severity,
		})
		if err != nil {
			e.logger.Error("upsert incident", "id", incidentID, "error", err)
		}
	}
	in := insight.New(insight.RoleObserver, insight.TypeRisk, insight.SeverityCritical,
		"Incident Detected",
		fmt.Sprintf("Incident %s reported: %s", incidentID, orUnknown(title))).
		WithSource(ev).
		WithContext("kind", "incident").
		WithContext("incident_id", incidentID)
	return []*insight.Insight{in}
}

func (e *Engine) observePattern(ev *event.Event, kind string) []*insight.Insight {
	patternID := ev.String("pattern_id")
	if patternID == "" {
		patternID = ev.ID
	}
	name := ev.String("name")
	if e.side != nil {
		err := e.side.UpsertPattern(sidestore.Pattern{ID: patternID, Name: name, Kind: kind})
		if err != nil {
			e.logger.Error("upsert pattern", "id", patternID, "error", err)
		}
	}

	sev := insight.SeverityLow
	title := "Beneficial Pattern Observed"
	if kind == "bad" {
		sev = insight.SeverityMedium
		title = "Problematic Pattern Observed"
	}
	in := insight.New(insight.RoleObserver, insight.TypePattern, sev, title,
		fmt.Sprintf("Pattern %s reported as %s", orUnknown(name), kind)).
		WithSource(ev).
		WithContext("kind", "pattern_"+kind).
		WithContext("pattern_id", patternID)
	return []*insight.Insight{in}
}

func (e *Engine) observeEpicUpdate(ev *event.Event) {
	if e.side == nil {
		return
	}
	epicID := ev.String("epic_id")
	if epicID == "" {
		epicID = ev.ID
	}
	err := e.side.UpsertEpic(sidestore.Epic{
		ID: epicID, Title: ev.String("title"), Status: ev.String("status"),
	})
	if err != nil {
		e.logger.Error("upsert epic", "id", epicID, "error", err)
	}
}

func (e *Engine) observeOperatorCommand(ev *event.Event) []*insight.Insight {
	cmd, err := event.ParseCommand(ev.Payload)
	if err != nil {
		// user input error, not an exception
		e.malformedPayloads++
		in := insight.New(insight.RoleObserver, insight.TypeRisk, insight.SeverityLow,
			"Malformed Operator Command", err.Error()).
			WithSource(ev).
			WithContext("kind", "malformed_command")
		return []*insight.Insight{in}
	}
	in := insight.New(insight.RoleObserver, insight.TypeSuggestion, insight.SeverityLow,
		"Operator Command Received",
		fmt.Sprintf("Operator requested %s %s", cmd.Tool, cmd.Command)).
		WithSource(ev).
		WithContext("kind", "operator_command").
		WithContext("command", map[string]any{
			"tool":    cmd.Tool,
			"command": cmd.Command,
			"args":    cmd.Args,
		})
	return []*insight.Insight{in}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
