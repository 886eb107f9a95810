package insight

import "testing"

func TestSeverityRank(t *testing.T) {
	order := []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Errorf("%s should rank above %s", order[i], order[i-1])
		}
	}
	if Severity("bogus").Rank() != -1 {
		t.Error("unknown severity should rank -1")
	}
}

func TestSeverityAtLeast(t *testing.T) {
	if !SeverityCritical.AtLeast(SeverityHigh) {
		t.Error("critical should be at least high")
	}
	if SeverityMedium.AtLeast(SeverityHigh) {
		t.Error("medium should not be at least high")
	}
	if !SeverityHigh.AtLeast(SeverityHigh) {
		t.Error("high should be at least high")
	}
}

func TestNew_MintsUniqueIDs(t *testing.T) {
	a := New(RoleObserver, TypeRisk, SeverityHigh, "t", "d")
	b := New(RoleObserver, TypeRisk, SeverityHigh, "t", "d")
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("expected distinct non-empty IDs, got %q and %q", a.ID, b.ID)
	}
	if a.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestContextKind(t *testing.T) {
	i := New(RoleObserver, TypeRisk, SeverityCritical, "t", "d").
		WithContext("kind", "ci_failure_main")
	if i.ContextKind() != "ci_failure_main" {
		t.Errorf("ContextKind = %q", i.ContextKind())
	}
	if New(RoleCritic, TypePattern, SeverityLow, "t", "d").ContextKind() != "" {
		t.Error("empty context should yield empty kind")
	}
}
