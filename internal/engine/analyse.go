package engine

import (
	"fmt"
	"strings"
	"time"

	"heimgeist/internal/action"
	"heimgeist/internal/config"
	"heimgeist/internal/insight"
	"heimgeist/internal/selfmodel"
)

// Status is the engine's externally visible condition.
type Status struct {
	EventsProcessed int                  `json:"events_processed"`
	Insights        int                  `json:"insights"`
	Actions         int                  `json:"actions"`
	PendingActions  int                  `json:"pending_actions"`
	PersistFailures int                  `json:"persist_failures"`
	AutonomyLevel   string               `json:"autonomy_level"`
	SelfState       selfmodel.State      `json:"self_state"`
	SafetyGate      selfmodel.GateResult `json:"safety_gate"`
}

// GetStatus returns a point-in-time status summary.
func (e *Engine) GetStatus() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	pending := 0
	for _, a := range e.actionOrder {
		if a.Status == action.StatusPending {
			pending++
		}
	}
	return Status{
		EventsProcessed: e.processed,
		Insights:        len(e.insightOrder),
		Actions:         len(e.actionOrder),
		PendingActions:  pending,
		PersistFailures: e.persistFailures,
		AutonomyLevel:   e.cfg.AutonomyLevel.String(),
		SelfState:       e.model.State(),
		SafetyGate:      e.model.SafetyGate(),
	}
}

// Report is the outcome of an analysis pass: findings, never commands.
// The uncertainty block tells the reader how much to trust them.
type Report struct {
	GeneratedAt time.Time   `json:"generated_at"`
	Agent       string      `json:"agent"`
	Scope       string      `json:"scope"`
	Findings    []string    `json:"findings"`
	Uncertainty Uncertainty `json:"uncertainty"`
}

// Uncertainty grades a report's trustworthiness: a score derived from
// the self-model's confidence, widened by the inputs the Observer had
// to skip without understanding them.
type Uncertainty struct {
	Score             float64 `json:"score"`
	UnknownEvents     int     `json:"unknown_events"`
	MalformedPayloads int     `json:"malformed_payloads"`
}

// Analyse summarizes the current insight set as a findings report. A
// non-empty request filters findings to insights mentioning it.
func (e *Engine) Analyse(request string) Report {
	e.mu.Lock()
	defer e.mu.Unlock()

	needle := strings.ToLower(strings.TrimSpace(request))
	scope := "all recorded insights"
	if needle != "" {
		scope = fmt.Sprintf("insights matching %q", needle)
	}

	var findings []string
	for _, in := range e.insightOrder {
		if needle != "" &&
			!strings.Contains(strings.ToLower(in.Title), needle) &&
			!strings.Contains(strings.ToLower(in.Description), needle) {
			continue
		}
		findings = append(findings, fmt.Sprintf("[%s/%s] %s: %s", in.Role, in.Severity, in.Title, in.Description))
	}

	state := e.model.State()
	score := 1 - state.Confidence
	// every input the Observer could not interpret widens the band
	score += 0.05 * float64(e.unknownEvents+e.malformedPayloads)
	if len(findings) == 0 {
		findings = []string{"no matching observations in the current window"}
		if score < 0.5 {
			score = 0.5
		}
	}
	if score > 1 {
		score = 1
	}

	return Report{
		GeneratedAt: time.Now().UTC(),
		Agent:       "heimgeist",
		Scope:       scope,
		Findings:    findings,
		Uncertainty: Uncertainty{
			Score:             score,
			UnknownEvents:     e.unknownEvents,
			MalformedPayloads: e.malformedPayloads,
		},
	}
}

// Explain renders the reasoning chain behind one insight or action id.
func (e *Engine) Explain(id string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if in, ok := e.insights[id]; ok {
		return explainInsight(in), nil
	}
	if a, ok := e.actions[id]; ok {
		var b strings.Builder
		fmt.Fprintf(&b, "action %s (%s, %d steps", a.ID, a.Status, len(a.Steps))
		if a.RequiresConfirmation {
			b.WriteString(", requires confirmation")
		}
		b.WriteString(")\n")
		for _, s := range a.Steps {
			fmt.Fprintf(&b, "  %d. %s — %s [%s]\n", s.Order, s.Tool, s.Description, s.Status)
		}
		if a.Trigger != nil {
			b.WriteString("triggered by ")
			b.WriteString(explainInsight(a.Trigger))
		}
		return b.String(), nil
	}
	return "", fmt.Errorf("engine: no insight or action with id %s", id)
}

func explainInsight(in *insight.Insight) string {
	var b strings.Builder
	fmt.Fprintf(&b, "insight %s: %s (%s, severity %s, by %s)\n", in.ID, in.Title, in.Type, in.Severity, in.Role)
	fmt.Fprintf(&b, "  %s\n", in.Description)
	if in.Source != nil {
		fmt.Fprintf(&b, "  derived from event %s (%s from %s)\n", in.Source.ID, in.Source.Type, in.Source.Source)
	}
	for _, r := range in.Recommendations {
		fmt.Fprintf(&b, "  recommendation: %s\n", r)
	}
	return b.String()
}

// RiskAssessment summarizes the open risk picture.
type RiskAssessment struct {
	RiskTension  float64              `json:"risk_tension"`
	OpenCritical int                  `json:"open_critical"`
	OpenHigh     int                  `json:"open_high"`
	SafetyGate   selfmodel.GateResult `json:"safety_gate"`
	Summary      string               `json:"summary"`
}

// GetRiskAssessment combines the self-model tension with the severity
// distribution of the insight set.
func (e *Engine) GetRiskAssessment() RiskAssessment {
	e.mu.Lock()
	defer e.mu.Unlock()

	var critical, high int
	for _, in := range e.insightOrder {
		switch in.Severity {
		case insight.SeverityCritical:
			critical++
		case insight.SeverityHigh:
			high++
		}
	}
	state := e.model.State()
	summary := "risk picture nominal"
	switch {
	case critical > 0:
		summary = fmt.Sprintf("%d critical findings open", critical)
	case high > 0:
		summary = fmt.Sprintf("%d high-severity findings open", high)
	}
	return RiskAssessment{
		RiskTension:  state.RiskTension,
		OpenCritical: critical,
		OpenHigh:     high,
		SafetyGate:   e.model.SafetyGate(),
		Summary:      summary,
	}
}

// GetInsights returns the insight set in arrival order.
func (e *Engine) GetInsights() []*insight.Insight {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*insight.Insight(nil), e.insightOrder...)
}

// GetPlannedActions returns the action set in arrival order.
func (e *Engine) GetPlannedActions() []*action.PlannedAction {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*action.PlannedAction(nil), e.actionOrder...)
}

// GetConfig returns the active configuration.
func (e *Engine) GetConfig() config.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// SetAutonomyLevel changes the configured autonomy ceiling at runtime.
func (e *Engine) SetAutonomyLevel(n int) error {
	if n < int(config.Passive) || n > int(config.Operative) {
		return fmt.Errorf("engine: autonomy level %d outside 0..3", n)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	old := e.cfg.AutonomyLevel
	e.cfg.AutonomyLevel = config.AutonomyLevel(n)
	e.logger.Info("autonomy level changed", "from", old.String(), "to", e.cfg.AutonomyLevel.String())
	return nil
}

// UpdateSignals feeds one batch of load/risk signals to the self-model.
func (e *Engine) UpdateSignals(sig selfmodel.Signals) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model.Update(sig)
}

// OverrideAutonomy forces the self-model's autonomy mode. This is the
// only way out of the dormant mode.
func (e *Engine) OverrideAutonomy(mode selfmodel.Mode, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model.Override(mode, reason)
}

// SelfHistory returns up to limit self-model snapshots, newest first.
func (e *Engine) SelfHistory(limit int) []selfmodel.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model.History(limit)
}
