package persist

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"heimgeist/internal/action"
	"heimgeist/internal/insight"
	"heimgeist/internal/selfmodel"
)

func newStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := New(t.TempDir(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestSaveInsight_RoundTrip(t *testing.T) {
	s := newStore(t)
	in := insight.New(insight.RoleObserver, insight.TypeRisk, insight.SeverityCritical,
		"Critical CI Failure on Main", "pipeline 42 failed on main")
	in.Recommendations = []string{"stop merging"}

	if err := s.SaveInsight(in); err != nil {
		t.Fatalf("SaveInsight: %v", err)
	}
	// idempotent overwrite
	if err := s.SaveInsight(in); err != nil {
		t.Fatalf("second SaveInsight: %v", err)
	}

	loaded, err := s.LoadInsights()
	if err != nil {
		t.Fatalf("LoadInsights: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("len(insights) = %d, want 1", len(loaded))
	}
	if diff := cmp.Diff(in, loaded[0]); diff != "" {
		t.Errorf("insight round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveAction_RoundTrip(t *testing.T) {
	s := newStore(t)
	a := action.New(
		insight.New(insight.RoleObserver, insight.TypeRisk, insight.SeverityHigh, "t", "d"),
		action.Step{Tool: "heimgeist-analyze", Description: "quick analysis"},
		action.Step{Tool: "heimgeist-notify", Description: "notify operators"},
	)
	a.RequiresConfirmation = true

	if err := s.SaveAction(a); err != nil {
		t.Fatalf("SaveAction: %v", err)
	}
	loaded, err := s.LoadActions()
	if err != nil {
		t.Fatalf("LoadActions: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("len(actions) = %d, want 1", len(loaded))
	}
	if diff := cmp.Diff(a, loaded[0]); diff != "" {
		t.Errorf("action round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestBundle_RoundTripAndAtomicity(t *testing.T) {
	s := newStore(t)
	cur := selfmodel.State{
		Confidence:   0.62,
		Fatigue:      0.1,
		RiskTension:  0.3,
		AutonomyMode: selfmodel.ModeAware,
		LastUpdated:  time.Now().UTC().Truncate(time.Second),
		BasisSignals: []string{"ci failure rate 0.40 exceeds 0.2"},
	}
	hist := make([]selfmodel.Snapshot, 0, 60)
	for i := 0; i < 60; i++ {
		hist = append(hist, selfmodel.Snapshot{Timestamp: cur.LastUpdated.Add(-time.Duration(i) * time.Minute), State: cur})
	}

	if err := s.SaveBundle(cur, hist[:50]); err != nil {
		t.Fatalf("SaveBundle: %v", err)
	}
	b, err := s.LoadBundle()
	if err != nil {
		t.Fatalf("LoadBundle: %v", err)
	}
	if b.Schema != SchemaSelfState {
		t.Errorf("schema = %q", b.Schema)
	}
	if diff := cmp.Diff(cur, b.Current); diff != "" {
		t.Errorf("current mismatch (-want +got):\n%s", diff)
	}
	if len(b.History) != 50 {
		t.Errorf("history len = %d, want 50", len(b.History))
	}
	for i := 1; i < len(b.History); i++ {
		if b.History[i].Timestamp.After(b.History[i-1].Timestamp) {
			t.Fatal("history not newest first")
		}
	}

	// no temp file left behind
	if _, err := os.Stat(filepath.Join(s.Root(), "self_state.json.tmp")); !os.IsNotExist(err) {
		t.Error("temporary bundle file left behind")
	}
}

func TestLoadBundle_Missing(t *testing.T) {
	s := newStore(t)
	b, err := s.LoadBundle()
	if err != nil || b != nil {
		t.Errorf("LoadBundle on empty store = (%v, %v), want (nil, nil)", b, err)
	}
}

func TestSnapshots_RetentionOldestFirst(t *testing.T) {
	s := newStore(t, WithRetention(3))
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		snap := selfmodel.Snapshot{Timestamp: base.Add(time.Duration(i) * time.Second)}
		if err := s.SaveSnapshot(snap); err != nil {
			t.Fatalf("SaveSnapshot %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(filepath.Join(s.Root(), "snapshots"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("snapshot count = %d, want 3", len(entries))
	}
	// oldest two deleted; the earliest surviving file is the third
	want := base.Add(2 * time.Second).Format("20060102T150405.000000000Z") + ".json"
	if entries[0].Name() != want {
		t.Errorf("oldest surviving snapshot = %s, want %s", entries[0].Name(), want)
	}
}

func TestCursorPath(t *testing.T) {
	s := newStore(t)
	if got := s.CursorPath(); filepath.Base(got) != "cursor" {
		t.Errorf("CursorPath = %q", got)
	}
}
