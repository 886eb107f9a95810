// Package engine is the correlation core: it owns the in-memory
// event/insight/action indices, runs the Observer → Critic → Director
// → Archivist pipeline over incoming events, and drives the polling
// loop plus action execution. One engine instance per process,
// constructed at startup and shared by the loop and the API adapters;
// all mutation is serialized under the engine lock.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"heimgeist/internal/action"
	"heimgeist/internal/archive"
	"heimgeist/internal/config"
	"heimgeist/internal/event"
	"heimgeist/internal/insight"
	"heimgeist/internal/persist"
	"heimgeist/internal/selfmodel"
	"heimgeist/internal/sidestore"
)

// Pipeline roles beyond the insight-producing ones.
const (
	roleDirector  = "director"
	roleArchivist = "archivist"
)

// EventLog is the external append-only log the engine polls and
// archives to. Implemented by the chronik client.
type EventLog interface {
	NextEvent(ctx context.Context, types []string) (*event.Event, error)
	Append(ctx context.Context, payload any) error
}

// ToolRunner executes one action step. The default runner only logs;
// deployments wire real tool adapters here.
type ToolRunner func(ctx context.Context, step action.Step) error

// Engine is the single live correlation engine.
type Engine struct {
	mu sync.Mutex

	cfg      config.Config
	logger   *slog.Logger
	model    *selfmodel.Model
	store    *persist.Store
	side     *sidestore.Store
	archiver *archive.Archiver
	log      EventLog
	runner   ToolRunner

	events       map[string]*event.Event
	eventOrder   []*event.Event
	insights     map[string]*insight.Insight
	insightOrder []*insight.Insight
	actions      map[string]*action.PlannedAction
	actionOrder  []*action.PlannedAction

	processed         int
	persistFailures   int
	unknownEvents     int
	malformedPayloads int

	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures the Engine during construction.
type Option func(*Engine)

// WithSideStore wires the incident/epic/pattern side-tables.
func WithSideStore(s *sidestore.Store) Option {
	return func(e *Engine) { e.side = s }
}

// WithEventLog wires the external event log for polling and delivery.
func WithEventLog(l EventLog) Option {
	return func(e *Engine) { e.log = l }
}

// WithArchiver wires the envelope archive layer.
func WithArchiver(a *archive.Archiver) Option {
	return func(e *Engine) { e.archiver = a }
}

// WithLogger configures structured logging.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithToolRunner wires a step executor.
func WithToolRunner(r ToolRunner) Option {
	return func(e *Engine) { e.runner = r }
}

// New constructs the engine. store may be nil when persistence is
// disabled; model is required.
func New(cfg config.Config, model *selfmodel.Model, store *persist.Store, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		model:    model,
		store:    store,
		events:   make(map[string]*event.Event),
		insights: make(map[string]*insight.Insight),
		actions:  make(map[string]*action.PlannedAction),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return e
}

// Load is the explicit startup recovery phase: walk the persisted
// directories once and repopulate the in-memory indices, then restore
// the self-model from the bundled state.
func (e *Engine) Load() error {
	if e.store == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ins, err := e.store.LoadInsights()
	if err != nil {
		return fmt.Errorf("engine: load insights: %w", err)
	}
	sort.Slice(ins, func(i, j int) bool { return ins[i].Timestamp.Before(ins[j].Timestamp) })
	for _, in := range ins {
		e.insights[in.ID] = in
		e.insightOrder = append(e.insightOrder, in)
	}

	acts, err := e.store.LoadActions()
	if err != nil {
		return fmt.Errorf("engine: load actions: %w", err)
	}
	sort.Slice(acts, func(i, j int) bool { return acts[i].Timestamp.Before(acts[j].Timestamp) })
	for _, a := range acts {
		e.actions[a.ID] = a
		e.actionOrder = append(e.actionOrder, a)
	}

	bundle, err := e.store.LoadBundle()
	if err != nil {
		return fmt.Errorf("engine: load self state: %w", err)
	}
	if bundle != nil {
		e.model.Restore(bundle.Current, bundle.History)
	}

	e.logger.Info("state reloaded", "insights", len(ins), "actions", len(acts),
		"self_state", bundle != nil)
	return nil
}

// ProcessEvent runs the role pipeline over one event and returns the
// insights it produced. Archival problems never fail ingestion.
func (e *Engine) ProcessEvent(ctx context.Context, ev *event.Event) ([]*insight.Insight, error) {
	if ev == nil {
		return nil, fmt.Errorf("engine: nil event")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if _, seen := e.events[ev.ID]; seen {
		e.logger.Debug("duplicate event ignored", "id", ev.ID)
		return nil, nil
	}
	e.events[ev.ID] = ev
	e.eventOrder = append(e.eventOrder, ev)

	var produced []*insight.Insight
	if e.cfg.RoleActive(insight.RoleObserver) {
		produced = e.observe(ev)
	}
	if e.cfg.RoleActive(insight.RoleCritic) {
		produced = append(produced, e.criticize(ev, produced)...)
	}
	for _, in := range produced {
		e.insights[in.ID] = in
		e.insightOrder = append(e.insightOrder, in)
	}
	e.processed++

	if e.cfg.RoleActive(roleDirector) && e.cfg.AutonomyLevel >= config.Warning {
		for _, in := range produced {
			if !in.Severity.AtLeast(insight.SeverityHigh) && in.ContextKind() != "operator_command" {
				continue
			}
			if plan := e.planAction(in); plan != nil {
				e.actions[plan.ID] = plan
				e.actionOrder = append(e.actionOrder, plan)
				e.saveAction(plan)
				e.logger.Info("action planned", "id", plan.ID, "trigger", in.Title,
					"steps", len(plan.Steps), "requires_confirmation", plan.RequiresConfirmation)
			}
		}
	}

	if e.cfg.RoleActive(roleArchivist) {
		e.archiveInsights(ctx, produced)
	}
	return produced, nil
}

// archiveInsights persists and forwards freshly produced insights.
// Failures are logged and counted, never propagated.
func (e *Engine) archiveInsights(ctx context.Context, produced []*insight.Insight) {
	console := false
	for _, out := range e.cfg.Outputs {
		if out == "console" {
			console = true
		}
	}
	for _, in := range produced {
		e.saveInsight(in)
		if console {
			e.logger.Info("insight",
				"role", in.Role, "severity", in.Severity,
				"title", in.Title, "description", in.Description)
		}
	}
	if e.archiver != nil && e.cfg.ChronikOutput() && len(produced) > 0 {
		res := e.archiver.Archive(ctx, produced)
		if res.Failed > 0 {
			e.persistFailures += res.Failed
			e.logger.Warn("archive delivery incomplete",
				"total", res.Total, "failed", res.Failed)
		}
	}
}

func (e *Engine) saveInsight(in *insight.Insight) {
	if e.store == nil || !e.cfg.PersistenceEnabled {
		return
	}
	if err := e.store.SaveInsight(in); err != nil {
		e.persistFailures++
		e.logger.Error("persist insight", "id", in.ID, "error", err)
	}
}

func (e *Engine) saveAction(a *action.PlannedAction) {
	if e.store == nil || !e.cfg.PersistenceEnabled {
		return
	}
	if err := e.store.SaveAction(a); err != nil {
		e.persistFailures++
		e.logger.Error("persist action", "id", a.ID, "error", err)
	}
}
