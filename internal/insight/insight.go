// Package insight defines the graded observations derived from events
// by the Observer and Critic roles. Insights are immutable after
// creation and never deleted during the process lifetime.
package insight

import (
	"time"

	"github.com/google/uuid"

	"heimgeist/internal/event"
)

// Type classifies what an insight asserts.
type Type string

const (
	TypePattern         Type = "pattern"
	TypeRisk            Type = "risk"
	TypeDrift           Type = "drift"
	TypeContradiction   Type = "contradiction"
	TypePolicyViolation Type = "policy_violation"
	TypeSuggestion      Type = "suggestion"
)

// Severity grades an insight. Ordering: low < medium < high < critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the numeric order of the severity (low=0 .. critical=3).
// Unknown severities rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	}
	return -1
}

// AtLeast reports whether s is at least as severe as min.
func (s Severity) AtLeast(min Severity) bool { return s.Rank() >= min.Rank() }

// Role names the pipeline role that produced an insight.
const (
	RoleObserver = "observer"
	RoleCritic   = "critic"
)

// Insight is one graded observation derived from an event.
type Insight struct {
	ID              string         `json:"id"`
	Timestamp       time.Time      `json:"timestamp"`
	Role            string         `json:"role"`
	Type            Type           `json:"type"`
	Severity        Severity       `json:"severity"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Source          *event.Event   `json:"source,omitempty"`
	Context         map[string]any `json:"context,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`

	// InternalOnly excludes the insight from external forwarding.
	InternalOnly bool `json:"internal_only,omitempty"`
}

// New mints an insight with a fresh globally unique ID.
func New(role string, typ Type, sev Severity, title, description string) *Insight {
	return &Insight{
		ID:          uuid.New().String(),
		Timestamp:   time.Now().UTC(),
		Role:        role,
		Type:        typ,
		Severity:    sev,
		Title:       title,
		Description: description,
	}
}

// WithSource attaches the triggering event and returns the insight.
func (i *Insight) WithSource(ev *event.Event) *Insight {
	i.Source = ev
	return i
}

// WithContext sets a context key and returns the insight.
func (i *Insight) WithContext(key string, value any) *Insight {
	if i.Context == nil {
		i.Context = make(map[string]any)
	}
	i.Context[key] = value
	return i
}

// ContextKind returns the context "kind" tag used by the planner to
// recognize specific insight families (ci_failure_main, deploy_failure,
// operator_command, escalation).
func (i *Insight) ContextKind() string {
	if i.Context == nil {
		return ""
	}
	s, _ := i.Context["kind"].(string)
	return s
}
