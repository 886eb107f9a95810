// Package selfmodel maintains the engine's estimate of its own
// condition: confidence, fatigue and risk tension scalars plus a
// discrete autonomy mode switched with hysteresis. The safety gate
// built on top of it blocks autonomous remediation while stressed.
package selfmodel

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"
)

// Mode is the discrete autonomy mode of the self-model.
type Mode string

const (
	ModeDormant    Mode = "dormant"
	ModeAware      Mode = "aware"
	ModeReflective Mode = "reflective"
	ModeCritical   Mode = "critical"
)

func knownMode(m Mode) bool {
	switch m {
	case ModeDormant, ModeAware, ModeReflective, ModeCritical:
		return true
	}
	return false
}

// State is the live self-model state. Scalar fields are always clamped
// to [0,1]; BasisSignals records the human-readable reason for each
// heuristic contribution, capped with oldest-first eviction.
type State struct {
	Confidence   float64   `json:"confidence"`
	Fatigue      float64   `json:"fatigue"`
	RiskTension  float64   `json:"risk_tension"`
	AutonomyMode Mode      `json:"autonomy_level"`
	LastUpdated  time.Time `json:"last_updated"`
	BasisSignals []string  `json:"basis_signals"`
}

// Snapshot is one immutable point in the self-model history.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	State     State     `json:"state"`
}

// Signals is one batch of observed load and risk inputs.
type Signals struct {
	CPULoad        float64  `json:"cpu_load"`
	MemoryPressure float64  `json:"memory_pressure"`
	OpenActions    int      `json:"open_actions_count"`
	RiskScore      *float64 `json:"risk_score,omitempty"`
	CIFailureRate  float64  `json:"ci_failure_rate"`
	Conflicts      int      `json:"conflicts_count"`
	ErrorRate      float64  `json:"error_rate"`
}

// Thresholds holds the hysteresis and gate constants. The values are
// hard-coded heuristics upstream; they are configurable here rather
// than second-guessed.
type Thresholds struct {
	CriticalEnterRisk float64 // enter critical when risk above this...
	CriticalEnterConf float64 // ...and confidence below this
	CriticalExitRisk  float64 // exit critical only when risk below this...
	CriticalExitConf  float64 // ...and confidence above this
	ReflectiveFatigue float64 // reflective when fatigue above this
	AwareConf         float64 // aware when confidence above this...
	AwareRisk         float64 // ...and risk below this
	GateFatigue       float64 // gate unsafe above this fatigue
	GateConf          float64 // gate unsafe below this confidence
	GateRisk          float64 // gate unsafe above this risk tension
	SnapshotConfDelta float64 // persist when confidence moved at least this much
	SnapshotRiskDelta float64 // persist when risk tension moved at least this much
	BasisCap          int     // max retained basis signals
	HistoryCap        int     // max retained snapshots
}

// DefaultThresholds returns the upstream constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CriticalEnterRisk: 0.6,
		CriticalEnterConf: 0.5,
		CriticalExitRisk:  0.4,
		CriticalExitConf:  0.6,
		ReflectiveFatigue: 0.7,
		AwareConf:         0.8,
		AwareRisk:         0.3,
		GateFatigue:       0.75,
		GateConf:          0.35,
		GateRisk:          0.6,
		SnapshotConfDelta: 0.05,
		SnapshotRiskDelta: 0.10,
		BasisCap:          20,
		HistoryCap:        50,
	}
}

// GateResult is the safety gate verdict. Reason names the offending
// dimension and its value when unsafe.
type GateResult struct {
	Safe   bool   `json:"safe"`
	Reason string `json:"reason,omitempty"`
}

// Persister receives snapshots and the bundled current state. The
// canonical implementation is the persist file store.
type Persister interface {
	SaveSnapshot(snap Snapshot) error
	SaveBundle(current State, history []Snapshot) error
}

// Model is the live self-model. Not safe for concurrent use; the
// engine serializes access under its own lock.
type Model struct {
	th        Thresholds
	logger    *slog.Logger
	persister Persister

	state         State
	history       []Snapshot // newest first
	lastPersisted *State
}

// Option configures a Model during construction.
type Option func(*Model)

// WithPersister wires a snapshot/bundle sink.
func WithPersister(p Persister) Option {
	return func(m *Model) { m.persister = p }
}

// WithLogger configures structured logging.
func WithLogger(l *slog.Logger) Option {
	return func(m *Model) { m.logger = l }
}

// New creates a self-model in the aware mode with neutral confidence.
func New(th Thresholds, opts ...Option) *Model {
	m := &Model{
		th: th,
		state: State{
			Confidence:   0.5,
			AutonomyMode: ModeAware,
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return m
}

// State returns a copy of the live state.
func (m *Model) State() State {
	s := m.state
	s.BasisSignals = append([]string(nil), m.state.BasisSignals...)
	return s
}

// History returns up to limit snapshots, newest first. limit <= 0
// returns the full retained history.
func (m *Model) History(limit int) []Snapshot {
	n := len(m.history)
	if limit > 0 && limit < n {
		n = limit
	}
	return append([]Snapshot(nil), m.history[:n]...)
}

// Restore replaces the live state and history, e.g. from a reloaded
// bundle at startup. The restored state counts as persisted.
func (m *Model) Restore(current State, history []Snapshot) {
	m.state = current
	m.history = append([]Snapshot(nil), history...)
	if len(m.history) > m.th.HistoryCap {
		m.history = m.history[:m.th.HistoryCap]
	}
	cp := current
	m.lastPersisted = &cp
}

// Update applies one batch of signals to the scalars, re-evaluates the
// autonomy mode, and persists a snapshot when the throttling policy
// calls for one. It reports whether a snapshot was persisted.
func (m *Model) Update(sig Signals) bool {
	var reasons []string

	if sig.CPULoad > 80 {
		m.state.Fatigue += 0.3
		reasons = append(reasons, fmt.Sprintf("cpu load %.0f exceeds 80", sig.CPULoad))
	}
	if sig.MemoryPressure > 80 {
		m.state.Fatigue += 0.3
		reasons = append(reasons, fmt.Sprintf("memory pressure %.0f exceeds 80", sig.MemoryPressure))
	}
	if sig.OpenActions > 10 {
		m.state.Fatigue += 0.2
		reasons = append(reasons, fmt.Sprintf("%d open actions exceed 10", sig.OpenActions))
	}

	if sig.RiskScore != nil {
		m.state.RiskTension = *sig.RiskScore
		reasons = append(reasons, fmt.Sprintf("risk score %.2f set directly", *sig.RiskScore))
	} else {
		if sig.CIFailureRate > 0.2 {
			m.state.RiskTension += 0.4
			reasons = append(reasons, fmt.Sprintf("ci failure rate %.2f exceeds 0.2", sig.CIFailureRate))
		}
		if sig.Conflicts > 0 {
			m.state.RiskTension += 0.3
			reasons = append(reasons, fmt.Sprintf("%d unresolved conflicts", sig.Conflicts))
		}
	}

	m.state.Fatigue = clamp(m.state.Fatigue)
	m.state.RiskTension = clamp(m.state.RiskTension)

	conf := 1 - 0.4*m.state.Fatigue - 0.4*m.state.RiskTension
	if sig.ErrorRate > 0.1 {
		conf -= 0.3
		reasons = append(reasons, fmt.Sprintf("error rate %.2f exceeds 0.1", sig.ErrorRate))
	}
	m.state.Confidence = clamp(conf)
	m.state.LastUpdated = time.Now().UTC()
	m.appendBasis(reasons)

	changed := m.applyAutonomy()
	return m.maybePersist(changed)
}

// Reflect nudges the scalars after an action outcome, re-evaluates the
// autonomy mode, and always persists.
func (m *Model) Reflect(success bool) {
	if success {
		m.state.Confidence = clamp(m.state.Confidence + 0.05)
		m.appendBasis([]string{"reflection: action executed"})
	} else {
		m.state.Confidence = clamp(m.state.Confidence - 0.10)
		m.state.RiskTension = clamp(m.state.RiskTension + 0.05)
		m.appendBasis([]string{"reflection: action failed"})
	}
	m.state.LastUpdated = time.Now().UTC()
	m.applyAutonomy()
	m.persistNow()
}

// Override forces the autonomy mode. This is the only way out of
// dormant; the reason is recorded with a Manual tag so later updates
// preserve it in the basis signals.
func (m *Model) Override(mode Mode, reason string) error {
	if !knownMode(mode) {
		return fmt.Errorf("selfmodel: unknown autonomy mode %q", mode)
	}
	m.state.AutonomyMode = mode
	m.state.LastUpdated = time.Now().UTC()
	m.appendBasis([]string{fmt.Sprintf("Manual override: mode set to %s (%s)", mode, reason)})
	m.persistNow()
	return nil
}

// SafetyGate reports whether autonomous remediation is currently safe.
func (m *Model) SafetyGate() GateResult {
	s := m.state
	switch {
	case s.Fatigue > m.th.GateFatigue:
		return GateResult{Reason: fmt.Sprintf("fatigue %.2f exceeds %.2f", s.Fatigue, m.th.GateFatigue)}
	case s.Confidence < m.th.GateConf:
		return GateResult{Reason: fmt.Sprintf("confidence %.2f below %.2f", s.Confidence, m.th.GateConf)}
	case s.RiskTension > m.th.GateRisk:
		return GateResult{Reason: fmt.Sprintf("risk tension %.2f exceeds %.2f", s.RiskTension, m.th.GateRisk)}
	}
	return GateResult{Safe: true}
}

// applyAutonomy evaluates the hysteresis transition table and reports
// whether the mode changed. Critical can only be left through the
// tightened exit condition; dormant only through Override.
func (m *Model) applyAutonomy() bool {
	cur := m.state.AutonomyMode
	next := cur
	s := m.state

	switch {
	case cur == ModeCritical:
		if s.RiskTension < m.th.CriticalExitRisk && s.Confidence > m.th.CriticalExitConf {
			next = ModeReflective
		}
	case cur == ModeDormant:
		// heuristic updates never wake a dormant model
	case s.RiskTension > m.th.CriticalEnterRisk && s.Confidence < m.th.CriticalEnterConf:
		next = ModeCritical
	case s.Fatigue > m.th.ReflectiveFatigue:
		next = ModeReflective
	case s.Confidence > m.th.AwareConf && s.RiskTension < m.th.AwareRisk:
		next = ModeAware
	case !knownMode(cur):
		next = ModeAware
	}

	if next == cur {
		return false
	}
	m.logger.Info("autonomy mode change", "from", cur, "to", next,
		"confidence", s.Confidence, "fatigue", s.Fatigue, "risk_tension", s.RiskTension)
	m.state.AutonomyMode = next
	return true
}

// appendBasis appends reasons, preserving Manual-tagged entries and
// evicting the oldest non-manual ones beyond the cap.
func (m *Model) appendBasis(reasons []string) {
	if len(reasons) == 0 {
		return
	}
	m.state.BasisSignals = append(m.state.BasisSignals, reasons...)
	overflow := len(m.state.BasisSignals) - m.th.BasisCap
	if overflow <= 0 {
		return
	}
	kept := make([]string, 0, m.th.BasisCap)
	for _, b := range m.state.BasisSignals {
		if overflow > 0 && !strings.HasPrefix(b, "Manual") {
			overflow--
			continue
		}
		kept = append(kept, b)
	}
	if len(kept) > m.th.BasisCap {
		kept = kept[len(kept)-m.th.BasisCap:]
	}
	m.state.BasisSignals = kept
}

// maybePersist applies the write-throttling policy: persist on first
// update, on an autonomy change, or when a scalar moved far enough
// since the last persisted snapshot.
func (m *Model) maybePersist(modeChanged bool) bool {
	first := m.lastPersisted == nil
	due := first || modeChanged
	if !due {
		lp := m.lastPersisted
		due = math.Abs(m.state.Confidence-lp.Confidence) >= m.th.SnapshotConfDelta ||
			math.Abs(m.state.RiskTension-lp.RiskTension) >= m.th.SnapshotRiskDelta
	}
	if !due {
		return false
	}
	return m.persistNow()
}

// persistNow records a snapshot into history and writes it through the
// persister. Persistence failures are logged and never propagate.
func (m *Model) persistNow() bool {
	snap := Snapshot{Timestamp: m.state.LastUpdated, State: m.State()}
	m.history = append([]Snapshot{snap}, m.history...)
	if len(m.history) > m.th.HistoryCap {
		m.history = m.history[:m.th.HistoryCap]
	}
	cp := m.state
	m.lastPersisted = &cp

	if m.persister == nil {
		return true
	}
	ok := true
	if err := m.persister.SaveSnapshot(snap); err != nil {
		m.logger.Error("save snapshot", "error", err)
		ok = false
	}
	if err := m.persister.SaveBundle(m.State(), m.History(0)); err != nil {
		m.logger.Error("save state bundle", "error", err)
		ok = false
	}
	return ok
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
