// Package persist implements the durable file layout: one JSON file
// per insight and per action, a bounded self-state bundle, a capped
// snapshot directory, and the cursor file location. Disk is the source
// of truth that the engine reloads at startup.
package persist

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"heimgeist/internal/action"
	"heimgeist/internal/insight"
	"heimgeist/internal/selfmodel"
)

// SchemaSelfState tags the self-state bundle file.
const SchemaSelfState = "heimgeist.self_state.bundle.v1"

// DefaultRetention is the snapshot file count kept on disk.
const DefaultRetention = 50

const (
	insightsDir  = "insights"
	actionsDir   = "actions"
	archiveDir   = "archive"
	snapshotsDir = "snapshots"
	bundleFile   = "self_state.json"
	cursorFile   = "cursor"
)

// Bundle is the self_state.json contents: the live state plus bounded
// history, newest first.
type Bundle struct {
	Schema  string               `json:"schema"`
	Current selfmodel.State      `json:"current"`
	History []selfmodel.Snapshot `json:"history"`
}

// Store is the file-backed persistence layer.
type Store struct {
	root      string
	logger    *slog.Logger
	retention int
}

// Option configures the Store during construction.
type Option func(*Store)

// WithLogger configures structured logging.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithRetention overrides the snapshot retention count.
func WithRetention(n int) Option {
	return func(s *Store) { s.retention = n }
}

// New creates a Store rooted at dir, creating the subdirectories.
// An unwritable state directory is a startup-aborting error.
func New(root string, opts ...Option) (*Store, error) {
	s := &Store{root: root, retention: DefaultRetention}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	for _, sub := range []string{insightsDir, actionsDir, archiveDir, snapshotsDir} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("persist: create %s dir: %w", sub, err)
		}
	}
	return s, nil
}

// Root returns the state directory.
func (s *Store) Root() string { return s.root }

// CursorPath returns the single-line cursor file location used by the
// event-log client.
func (s *Store) CursorPath() string { return filepath.Join(s.root, cursorFile) }

// SaveInsight writes the insight to insights/<id>.json. Overwriting an
// existing file with identical content makes the write idempotent.
func (s *Store) SaveInsight(in *insight.Insight) error {
	return s.writeJSON(filepath.Join(s.root, insightsDir, in.ID+".json"), in)
}

// SaveAction writes the action to actions/<id>.json. Called on every
// status change.
func (s *Store) SaveAction(a *action.PlannedAction) error {
	return s.writeJSON(filepath.Join(s.root, actionsDir, a.ID+".json"), a)
}

// SaveEnvelope writes a local copy of a wrapped archive record.
func (s *Store) SaveEnvelope(id string, env any) error {
	return s.writeJSON(filepath.Join(s.root, archiveDir, id+".json"), env)
}

// SaveBundle atomically replaces self_state.json: write to a temporary
// path, remove any existing target, then rename. The temporary file is
// cleaned up on any failure path.
func (s *Store) SaveBundle(current selfmodel.State, history []selfmodel.Snapshot) error {
	b := Bundle{Schema: SchemaSelfState, Current: current, History: history}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("persist: marshal bundle: %w", err)
	}

	target := filepath.Join(s.root, bundleFile)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("persist: write bundle temp: %w", err)
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		_ = os.Remove(tmp)
		return fmt.Errorf("persist: remove old bundle: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("persist: rename bundle: %w", err)
	}
	return nil
}

// LoadBundle reads self_state.json. A missing file returns (nil, nil).
func (s *Store) LoadBundle() (*Bundle, error) {
	data, err := os.ReadFile(filepath.Join(s.root, bundleFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persist: read bundle: %w", err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("persist: unmarshal bundle: %w", err)
	}
	if b.Schema != SchemaSelfState {
		return nil, fmt.Errorf("persist: bundle schema %q, want %q", b.Schema, SchemaSelfState)
	}
	return &b, nil
}

// SaveSnapshot writes one timestamp-named snapshot file and prunes the
// directory oldest-first beyond the retention count.
func (s *Store) SaveSnapshot(snap selfmodel.Snapshot) error {
	name := snap.Timestamp.UTC().Format("20060102T150405.000000000Z") + ".json"
	if err := s.writeJSON(filepath.Join(s.root, snapshotsDir, name), snap); err != nil {
		return err
	}
	return s.pruneSnapshots()
}

func (s *Store) pruneSnapshots() error {
	dir := filepath.Join(s.root, snapshotsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("persist: list snapshots: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	if len(names) <= s.retention {
		return nil
	}
	sort.Strings(names) // timestamp names sort chronologically
	for _, name := range names[:len(names)-s.retention] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			s.logger.Warn("prune snapshot", "file", name, "error", err)
		}
	}
	return nil
}

// LoadInsights walks insights/ and deserializes every record.
// Part of the explicit startup recovery phase.
func (s *Store) LoadInsights() ([]*insight.Insight, error) {
	var out []*insight.Insight
	err := s.walkJSON(filepath.Join(s.root, insightsDir), func(data []byte) error {
		var in insight.Insight
		if err := json.Unmarshal(data, &in); err != nil {
			return err
		}
		out = append(out, &in)
		return nil
	})
	return out, err
}

// LoadActions walks actions/ and deserializes every record.
func (s *Store) LoadActions() ([]*action.PlannedAction, error) {
	var out []*action.PlannedAction
	err := s.walkJSON(filepath.Join(s.root, actionsDir), func(data []byte) error {
		var a action.PlannedAction
		if err := json.Unmarshal(data, &a); err != nil {
			return err
		}
		out = append(out, &a)
		return nil
	})
	return out, err
}

func (s *Store) walkJSON(dir string, fn func(data []byte) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("persist: list %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			s.logger.Warn("read record", "file", e.Name(), "error", err)
			continue
		}
		if err := fn(data); err != nil {
			s.logger.Warn("decode record", "file", e.Name(), "error", err)
		}
	}
	return nil
}

func (s *Store) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("persist: marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("persist: write %s: %w", filepath.Base(path), err)
	}
	return nil
}
