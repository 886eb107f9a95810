package engine

import (
	"context"
	"testing"
	"time"

	"heimgeist/internal/action"
	"heimgeist/internal/config"
	"heimgeist/internal/event"
	"heimgeist/internal/insight"
	"heimgeist/internal/persist"
	"heimgeist/internal/selfmodel"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.AutonomyLevel = config.Warning
	return cfg
}

func newTestEngine(t *testing.T, cfg config.Config, opts ...Option) *Engine {
	t.Helper()
	store, err := persist.New(t.TempDir())
	if err != nil {
		t.Fatalf("persist.New: %v", err)
	}
	model := selfmodel.New(selfmodel.DefaultThresholds(), selfmodel.WithPersister(store))
	return New(cfg, model, store, opts...)
}

func ciEvent(source, branch, status string) *event.Event {
	return &event.Event{
		Type:      string(event.TypeCIResult),
		Timestamp: time.Now().UTC(),
		Source:    source,
		Payload:   map[string]any{"branch": branch, "status": status, "pipeline": "build-42"},
	}
}

func TestProcessEvent_CIFailureOnMain(t *testing.T) {
	e := newTestEngine(t, testConfig())

	produced, err := e.ProcessEvent(context.Background(), ciEvent("ci-A", "main", "failure"))
	if err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if len(produced) != 1 {
		t.Fatalf("produced %d insights, want 1", len(produced))
	}
	in := produced[0]
	if in.Severity != insight.SeverityCritical || in.Title != "Critical CI Failure on Main" {
		t.Errorf("insight = %s/%s", in.Severity, in.Title)
	}
	found := false
	for _, r := range in.Recommendations {
		if r == "stop merging" {
			found = true
		}
	}
	if !found {
		t.Errorf("recommendations = %v, want to include %q", in.Recommendations, "stop merging")
	}

	// critical insight under Warning autonomy yields a confirmed 3-step plan
	acts := e.GetPlannedActions()
	if len(acts) != 1 {
		t.Fatalf("planned %d actions, want 1", len(acts))
	}
	a := acts[0]
	if len(a.Steps) != 3 || !a.RequiresConfirmation {
		t.Errorf("plan = %d steps, confirm=%v", len(a.Steps), a.RequiresConfirmation)
	}
	if a.Steps[0].Tool != toolGuard || a.Steps[1].Tool != toolAnalyze || a.Steps[2].Tool != toolReport {
		t.Errorf("step tools = %s/%s/%s", a.Steps[0].Tool, a.Steps[1].Tool, a.Steps[2].Tool)
	}
}

func TestProcessEvent_CIFailureOffBranch(t *testing.T) {
	e := newTestEngine(t, testConfig())
	produced, err := e.ProcessEvent(context.Background(), ciEvent("ci-A", "feature/login", "failure"))
	if err != nil {
		t.Fatal(err)
	}
	if len(produced) != 1 || produced[0].Severity != insight.SeverityMedium {
		t.Fatalf("produced = %+v, want one medium insight", produced)
	}
	if len(e.GetPlannedActions()) != 0 {
		t.Error("medium insight must not be planned")
	}
}

func TestProcessEvent_CISuccessIsQuiet(t *testing.T) {
	e := newTestEngine(t, testConfig())
	produced, _ := e.ProcessEvent(context.Background(), ciEvent("ci-A", "main", "success"))
	if len(produced) != 0 {
		t.Errorf("produced = %+v, want none", produced)
	}
}

func TestProcessEvent_RepetitionDetection(t *testing.T) {
	e := newTestEngine(t, testConfig())
	ctx := context.Background()

	// successes keep the Observer quiet so only the Critic fires
	for i := 0; i < 3; i++ {
		if _, err := e.ProcessEvent(ctx, ciEvent("ci-A", "main", "success")); err != nil {
			t.Fatal(err)
		}
	}
	produced, err := e.ProcessEvent(ctx, ciEvent("ci-A", "main", "success"))
	if err != nil {
		t.Fatal(err)
	}
	if len(produced) != 1 {
		t.Fatalf("produced = %+v, want one repetition insight", produced)
	}
	in := produced[0]
	if in.Title != "Repetitive Event Pattern Detected" || in.Role != insight.RoleCritic {
		t.Errorf("insight = %q by %s", in.Title, in.Role)
	}
	if got := in.Context["eventCount"]; got != 4 {
		t.Errorf("eventCount = %v, want 4", got)
	}
}

func TestProcessEvent_RepetitionIgnoresOtherSources(t *testing.T) {
	e := newTestEngine(t, testConfig())
	ctx := context.Background()
	for _, src := range []string{"ci-A", "ci-B", "ci-A", "ci-B"} {
		produced, err := e.ProcessEvent(ctx, ciEvent(src, "main", "success"))
		if err != nil {
			t.Fatal(err)
		}
		if len(produced) != 0 {
			t.Fatalf("unexpected insight for mixed sources: %+v", produced)
		}
	}
}

func TestProcessEvent_EscalationOnSecondHighSeverity(t *testing.T) {
	e := newTestEngine(t, testConfig())
	ctx := context.Background()

	first, _ := e.ProcessEvent(ctx, ciEvent("ci-A", "main", "failure"))
	if len(first) != 1 {
		t.Fatalf("first = %+v", first)
	}
	second, _ := e.ProcessEvent(ctx, &event.Event{
		Type:    string(event.TypeDeployResult),
		Source:  "deployer",
		Payload: map[string]any{"status": "failure", "environment": "prod"},
	})
	var esc *insight.Insight
	for _, in := range second {
		if in.ContextKind() == "escalation" {
			esc = in
		}
	}
	if esc == nil {
		t.Fatalf("no escalation insight in %+v", second)
	}
	if esc.Severity != insight.SeverityCritical || esc.Title != "Multiple High-Severity Issues Detected" {
		t.Errorf("escalation = %s/%q", esc.Severity, esc.Title)
	}
	if got := esc.Context["highSeverityCount"]; got != 2 {
		t.Errorf("highSeverityCount = %v, want 2", got)
	}
}

func TestPlanAction_SafetyGateDegradesToNotify(t *testing.T) {
	e := newTestEngine(t, testConfig())

	// two heavy load updates drive fatigue past the gate threshold
	for i := 0; i < 2; i++ {
		e.UpdateSignals(selfmodel.Signals{CPULoad: 95, MemoryPressure: 95})
	}
	if gate := e.GetStatus().SafetyGate; gate.Safe {
		t.Fatalf("gate still safe: %+v", gate)
	}

	produced, err := e.ProcessEvent(context.Background(), &event.Event{
		Type:    string(event.TypeIncidentDetected),
		Source:  "pagerduty",
		Payload: map[string]any{"incident_id": "INC-9", "title": "api outage", "severity": "critical"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(produced) == 0 {
		t.Fatal("no insight produced")
	}

	acts := e.GetPlannedActions()
	if len(acts) == 0 {
		t.Fatal("no degraded plan produced")
	}
	for _, a := range acts {
		if len(a.Steps) != 1 || a.Steps[0].Tool != toolNotify || !a.RequiresConfirmation {
			t.Errorf("degraded plan = %d steps, tool %q, confirm=%v",
				len(a.Steps), a.Steps[0].Tool, a.RequiresConfirmation)
		}
	}
}

func TestPlanAction_DeployFailureAlwaysConfirmed(t *testing.T) {
	cfg := testConfig()
	cfg.AutonomyLevel = config.Operative
	e := newTestEngine(t, cfg)

	if _, err := e.ProcessEvent(context.Background(), &event.Event{
		Type:    string(event.TypeDeployResult),
		Source:  "deployer",
		Payload: map[string]any{"status": "failure", "environment": "prod"},
	}); err != nil {
		t.Fatal(err)
	}
	acts := e.GetPlannedActions()
	if len(acts) != 1 {
		t.Fatalf("actions = %d, want 1", len(acts))
	}
	a := acts[0]
	if !a.RequiresConfirmation {
		t.Error("deploy-failure plan must require confirmation even under operative autonomy")
	}
	if len(a.Steps) != 2 || a.Steps[0].Tool != toolAnalyze || a.Steps[1].Tool != toolNotify {
		t.Errorf("steps = %+v", a.Steps)
	}
}

func TestProcessEvent_OperatorCommandAutoApproved(t *testing.T) {
	e := newTestEngine(t, testConfig())

	produced, err := e.ProcessEvent(context.Background(), &event.Event{
		Type:   string(event.TypeOperatorCommand),
		Source: "cli",
		Payload: map[string]any{
			"tool": "heimgeist", "command": "status",
			"args": map[string]any{"verbose": true},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(produced) != 1 || produced[0].Type != insight.TypeSuggestion {
		t.Fatalf("produced = %+v", produced)
	}

	acts := e.GetPlannedActions()
	if len(acts) != 1 {
		t.Fatalf("actions = %d, want 1", len(acts))
	}
	a := acts[0]
	if a.Status != action.StatusApproved || a.RequiresConfirmation {
		t.Errorf("command plan = %s, confirm=%v", a.Status, a.RequiresConfirmation)
	}
	if a.Steps[0].Tool != "heimgeist-status" {
		t.Errorf("tool = %q, want heimgeist-status", a.Steps[0].Tool)
	}
}

func TestProcessEvent_MalformedOperatorCommand(t *testing.T) {
	e := newTestEngine(t, testConfig())
	produced, err := e.ProcessEvent(context.Background(), &event.Event{
		Type:    string(event.TypeOperatorCommand),
		Source:  "cli",
		Payload: map[string]any{"tool": "heimgeist"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(produced) != 1 {
		t.Fatalf("produced = %+v", produced)
	}
	in := produced[0]
	if in.Type != insight.TypeRisk || in.Severity != insight.SeverityLow || in.Title != "Malformed Operator Command" {
		t.Errorf("insight = %s/%s/%q", in.Type, in.Severity, in.Title)
	}
	if len(e.GetPlannedActions()) != 0 {
		t.Error("malformed command must not be planned")
	}
}

func TestExecuteAction_StateMachine(t *testing.T) {
	e := newTestEngine(t, testConfig())
	ctx := context.Background()

	if _, err := e.ProcessEvent(ctx, &event.Event{
		Type:    string(event.TypeDeployResult),
		Source:  "deployer",
		Payload: map[string]any{"status": "failure", "environment": "staging"},
	}); err != nil {
		t.Fatal(err)
	}
	id := e.GetPlannedActions()[0].ID

	confBefore := e.GetStatus().SelfState.Confidence

	// pending + requires confirmation: not executable yet
	if _, err := e.ExecuteAction(ctx, id); err == nil {
		t.Error("expected error executing unapproved confirmed action")
	}
	if err := e.ApproveAction(id); err != nil {
		t.Fatalf("ApproveAction: %v", err)
	}
	// approve is only valid from pending
	if err := e.ApproveAction(id); err == nil {
		t.Error("second ApproveAction must fail")
	}
	if err := e.RejectAction(id); err == nil {
		t.Error("RejectAction after approve must fail")
	}

	ok, err := e.ExecuteAction(ctx, id)
	if err != nil || !ok {
		t.Fatalf("ExecuteAction = (%v, %v)", ok, err)
	}
	a := e.GetPlannedActions()[0]
	if a.Status != action.StatusExecuted {
		t.Errorf("status = %s", a.Status)
	}
	for _, s := range a.Steps {
		if s.Status != action.StepCompleted {
			t.Errorf("step %d status = %s", s.Order, s.Status)
		}
	}
	// successful execution reflects positively
	if got := e.GetStatus().SelfState.Confidence; got <= confBefore {
		t.Errorf("confidence %f not raised from %f", got, confBefore)
	}
}

func TestExecuteAction_RunnerFailureReflectsNegatively(t *testing.T) {
	runErr := func(ctx context.Context, step action.Step) error {
		return context.DeadlineExceeded
	}
	e := newTestEngine(t, testConfig(), WithToolRunner(runErr))
	ctx := context.Background()

	if _, err := e.ProcessEvent(ctx, ciEvent("ci-A", "main", "failure")); err != nil {
		t.Fatal(err)
	}
	id := e.GetPlannedActions()[0].ID
	if err := e.ApproveAction(id); err != nil {
		t.Fatal(err)
	}
	confBefore := e.GetStatus().SelfState.Confidence

	ok, err := e.ExecuteAction(ctx, id)
	if err != nil {
		t.Fatalf("ExecuteAction: %v", err)
	}
	if ok {
		t.Error("execution reported success despite failing runner")
	}
	a := e.GetPlannedActions()[0]
	if a.Status.Terminal() {
		t.Errorf("status settled to %s; must stay open for retry", a.Status)
	}
	if got := e.GetStatus().SelfState.Confidence; got >= confBefore {
		t.Errorf("confidence %f not lowered from %f", got, confBefore)
	}
}

func TestAbandonAction_SettlesAsFailed(t *testing.T) {
	runErr := func(ctx context.Context, step action.Step) error {
		return context.DeadlineExceeded
	}
	e := newTestEngine(t, testConfig(), WithToolRunner(runErr))
	ctx := context.Background()

	if _, err := e.ProcessEvent(ctx, ciEvent("ci-A", "main", "failure")); err != nil {
		t.Fatal(err)
	}
	id := e.GetPlannedActions()[0].ID
	if err := e.ApproveAction(id); err != nil {
		t.Fatal(err)
	}
	if ok, err := e.ExecuteAction(ctx, id); err != nil || ok {
		t.Fatalf("ExecuteAction = (%v, %v)", ok, err)
	}

	if err := e.AbandonAction(id); err != nil {
		t.Fatalf("AbandonAction: %v", err)
	}
	a := e.GetPlannedActions()[0]
	if a.Status != action.StatusFailed {
		t.Errorf("status = %s, want %s", a.Status, action.StatusFailed)
	}
	if a.Steps[0].Status != action.StepFailed {
		t.Errorf("step status = %s, want %s", a.Steps[0].Status, action.StepFailed)
	}

	// failed is terminal
	if err := e.AbandonAction(id); err == nil {
		t.Error("second AbandonAction must fail")
	}
	if ok, err := e.ExecuteAction(ctx, id); err == nil || ok {
		t.Error("execution after abandon must fail")
	}
	if err := e.AbandonAction("missing"); err == nil {
		t.Error("expected error for unknown id")
	}
}

func TestLowAutonomyPlansNothing(t *testing.T) {
	// planning starts at warning; passive and observing only record
	for _, level := range []config.AutonomyLevel{config.Passive, config.Observing} {
		t.Run(level.String(), func(t *testing.T) {
			cfg := testConfig()
			cfg.AutonomyLevel = level
			e := newTestEngine(t, cfg)

			if _, err := e.ProcessEvent(context.Background(), ciEvent("ci-A", "main", "failure")); err != nil {
				t.Fatal(err)
			}
			if len(e.GetInsights()) == 0 {
				t.Errorf("%s mode must still record insights", level)
			}
			if len(e.GetPlannedActions()) != 0 {
				t.Errorf("%s mode must not plan actions", level)
			}
		})
	}
}

func TestLoad_RecoversStateFromDisk(t *testing.T) {
	dir := t.TempDir()
	store, err := persist.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	model := selfmodel.New(selfmodel.DefaultThresholds(), selfmodel.WithPersister(store))
	e := New(testConfig(), model, store)

	ctx := context.Background()
	if _, err := e.ProcessEvent(ctx, ciEvent("ci-A", "main", "failure")); err != nil {
		t.Fatal(err)
	}
	e.UpdateSignals(selfmodel.Signals{CIFailureRate: 0.5})

	// fresh engine over the same state directory
	store2, err := persist.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	model2 := selfmodel.New(selfmodel.DefaultThresholds(), selfmodel.WithPersister(store2))
	e2 := New(testConfig(), model2, store2)
	if err := e2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got, want := len(e2.GetInsights()), len(e.GetInsights()); got != want {
		t.Errorf("reloaded insights = %d, want %d", got, want)
	}
	if got, want := len(e2.GetPlannedActions()), len(e.GetPlannedActions()); got != want {
		t.Errorf("reloaded actions = %d, want %d", got, want)
	}
	s1, s2 := e.GetStatus().SelfState, e2.GetStatus().SelfState
	if s1.RiskTension != s2.RiskTension || s1.AutonomyMode != s2.AutonomyMode {
		t.Errorf("self state not recovered: %+v vs %+v", s1, s2)
	}
}

func TestSetAutonomyLevel(t *testing.T) {
	e := newTestEngine(t, testConfig())
	if err := e.SetAutonomyLevel(3); err != nil {
		t.Fatal(err)
	}
	if e.GetConfig().AutonomyLevel != config.Operative {
		t.Errorf("autonomy = %v", e.GetConfig().AutonomyLevel)
	}
	if err := e.SetAutonomyLevel(4); err == nil {
		t.Error("expected range error")
	}
}

func TestAnalyse_FindingsNotCommands(t *testing.T) {
	e := newTestEngine(t, testConfig())
	if _, err := e.ProcessEvent(context.Background(), ciEvent("ci-A", "main", "failure")); err != nil {
		t.Fatal(err)
	}

	rep := e.Analyse("")
	if rep.Agent != "heimgeist" || len(rep.Findings) == 0 {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Scope != "all recorded insights" {
		t.Errorf("scope = %q", rep.Scope)
	}
	if rep.Uncertainty.Score < 0 || rep.Uncertainty.Score > 1 {
		t.Errorf("uncertainty = %f", rep.Uncertainty.Score)
	}

	filtered := e.Analyse("no-such-topic-anywhere")
	if len(filtered.Findings) != 1 || filtered.Uncertainty.Score < 0.5 {
		t.Errorf("filtered report = %+v", filtered)
	}
	if filtered.Scope != `insights matching "no-such-topic-anywhere"` {
		t.Errorf("filtered scope = %q", filtered.Scope)
	}
}

func TestAnalyse_UncertaintyCountsSkippedInputs(t *testing.T) {
	e := newTestEngine(t, testConfig())
	ctx := context.Background()

	if _, err := e.ProcessEvent(ctx, &event.Event{
		ID: "odd-1", Type: "something.unmapped", Source: "fuzz",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ProcessEvent(ctx, &event.Event{
		ID: "cmd-bad", Type: "operator.command", Source: "operator",
		Payload: map[string]any{"tool": "heimgeist"},
	}); err != nil {
		t.Fatal(err)
	}

	base := e.Analyse("")
	if base.Uncertainty.UnknownEvents != 1 {
		t.Errorf("unknown events = %d, want 1", base.Uncertainty.UnknownEvents)
	}
	if base.Uncertainty.MalformedPayloads != 1 {
		t.Errorf("malformed payloads = %d, want 1", base.Uncertainty.MalformedPayloads)
	}

	// a clean window reports no skipped inputs
	clean := newTestEngine(t, testConfig())
	if _, err := clean.ProcessEvent(ctx, ciEvent("ci-ok", "main", "success")); err != nil {
		t.Fatal(err)
	}
	rep := clean.Analyse("")
	if rep.Uncertainty.UnknownEvents != 0 || rep.Uncertainty.MalformedPayloads != 0 {
		t.Errorf("clean window uncertainty = %+v", rep.Uncertainty)
	}
	if base.Uncertainty.Score <= 0.5 {
		t.Errorf("skipped inputs did not widen the score: %f", base.Uncertainty.Score)
	}
}

func TestExplain(t *testing.T) {
	e := newTestEngine(t, testConfig())
	produced, _ := e.ProcessEvent(context.Background(), ciEvent("ci-A", "main", "failure"))

	if _, err := e.Explain(produced[0].ID); err != nil {
		t.Errorf("Explain insight: %v", err)
	}
	if _, err := e.Explain(e.GetPlannedActions()[0].ID); err != nil {
		t.Errorf("Explain action: %v", err)
	}
	if _, err := e.Explain("unknown-id"); err == nil {
		t.Error("expected error for unknown id")
	}
}

func TestGetRiskAssessment(t *testing.T) {
	e := newTestEngine(t, testConfig())
	if _, err := e.ProcessEvent(context.Background(), ciEvent("ci-A", "main", "failure")); err != nil {
		t.Fatal(err)
	}
	ra := e.GetRiskAssessment()
	if ra.OpenCritical != 1 {
		t.Errorf("open critical = %d", ra.OpenCritical)
	}
	if ra.Summary == "risk picture nominal" {
		t.Errorf("summary = %q", ra.Summary)
	}
}
