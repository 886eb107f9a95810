package engine

import (
	"fmt"
	"time"

	"heimgeist/internal/event"
	"heimgeist/internal/insight"
)

// criticize re-examines the event and insight sets after the Observer
// ran: repetition detection over the event window, and escalation when
// high-severity insights pile up.
func (e *Engine) criticize(ev *event.Event, produced []*insight.Insight) []*insight.Insight {
	var out []*insight.Insight
	if in := e.detectRepetition(ev); in != nil {
		out = append(out, in)
	}
	if in := e.detectEscalation(produced); in != nil {
		out = append(out, in)
	}
	return out
}

// detectRepetition counts prior same-type/same-source events within the
// configured wall-clock window, excluding the current event.
func (e *Engine) detectRepetition(ev *event.Event) *insight.Insight {
	window := time.Duration(e.cfg.Policies.RepetitionWindowHours) * time.Hour
	cutoff := time.Now().UTC().Add(-window)

	prior := 0
	for _, old := range e.eventOrder {
		if old.ID == ev.ID {
			continue
		}
		if old.Type == ev.Type && old.Source == ev.Source && old.Timestamp.After(cutoff) {
			prior++
		}
	}
	if prior < e.cfg.Policies.RepetitionThreshold {
		return nil
	}
	return insight.New(insight.RoleCritic, insight.TypePattern, insight.SeverityMedium,
		"Repetitive Event Pattern Detected",
		fmt.Sprintf("%d %s events from %s within the last %dh",
			prior+1, ev.Type, ev.Source, e.cfg.Policies.RepetitionWindowHours)).
		WithSource(ev).
		WithContext("kind", "repetition").
		WithContext("eventCount", prior+1)
}

// detectEscalation fires when the freshly produced insights include a
// high or critical item and the overall set now holds more than one.
// Earlier escalation insights are excluded from their own count.
func (e *Engine) detectEscalation(produced []*insight.Insight) *insight.Insight {
	fresh := false
	for _, in := range produced {
		if in.Severity.AtLeast(insight.SeverityHigh) {
			fresh = true
			break
		}
	}
	if !fresh {
		return nil
	}

	high := 0
	count := func(in *insight.Insight) {
		if in.ContextKind() == "escalation" {
			return
		}
		if in.Severity.AtLeast(insight.SeverityHigh) {
			high++
		}
	}
	for _, in := range e.insightOrder {
		count(in)
	}
	for _, in := range produced {
		count(in)
	}
	if high <= 1 {
		return nil
	}
	return insight.New(insight.RoleCritic, insight.TypeRisk, insight.SeverityCritical,
		"Multiple High-Severity Issues Detected",
		fmt.Sprintf("%d high or critical insights are currently open", high)).
		WithContext("kind", "escalation").
		WithContext("highSeverityCount", high)
}
