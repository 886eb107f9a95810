// Package archive turns graded insights into versioned envelopes and
// delivers them: a local JSON copy always, plus best-effort append to
// the external event log. Context payloads are scrubbed of credential
// material and oversized fields are capped before anything leaves the
// process.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"heimgeist/internal/insight"
)

const (
	// EnvelopeKind and EnvelopeVersion identify the archive record
	// format to downstream consumers.
	EnvelopeKind    = "heimgeist.insight"
	EnvelopeVersion = 1

	// Producer names the writing system in the envelope meta.
	Producer = "heimgeist"

	// MaxFieldLen caps summary and detail strings before delivery.
	MaxFieldLen = 2000

	// TruncationMarker is appended to capped fields.
	TruncationMarker = "...[TRUNCATED]"

	// RedactionMarker replaces values under credential-looking keys.
	RedactionMarker = "[REDACTED]"

	chunkSize   = 10
	maxInFlight = 4
)

// sensitiveKeys are matched case-insensitively as substrings of
// context keys at any nesting depth.
var sensitiveKeys = []string{
	"token", "secret", "password", "api_key", "credential",
	"bearer", "cookie", "session", "private_key", "ssh_key",
}

// Meta carries envelope provenance.
type Meta struct {
	OccurredAt time.Time `json:"occurred_at"`
	Producer   string    `json:"producer"`
}

// Data is the envelope payload derived from one insight.
type Data struct {
	InsightType string         `json:"insight_type"`
	Summary     string         `json:"summary"`
	Details     string         `json:"details"`
	ContextRefs map[string]any `json:"context_refs,omitempty"`
	Origin      string         `json:"origin,omitempty"`
}

// Envelope is the wire and on-disk record for one archived insight.
type Envelope struct {
	Kind           string `json:"kind"`
	Version        int    `json:"version"`
	ID             string `json:"id"`
	IdempotencyKey string `json:"idempotency_key"`
	Meta           Meta   `json:"meta"`
	Data           Data   `json:"data"`
}

// IdempotencyKey derives the stable dedup key for an insight from its
// identity fields. Re-archiving the same insight always yields the
// same key, so downstream consumers can drop duplicates.
func IdempotencyKey(role string, ts time.Time, title, description string) string {
	sum := sha256.Sum256([]byte(role + "|" + ts.UTC().Format(time.RFC3339) + "|" + title + "|" + description))
	return hex.EncodeToString(sum[:])
}

// Wrap builds the envelope for one insight: context redacted, long
// fields truncated, idempotency key derived from identity fields.
func Wrap(in *insight.Insight) Envelope {
	var origin string
	if in.Source != nil {
		origin = in.Source.ID
	}
	key := IdempotencyKey(in.Role, in.Timestamp, in.Title, in.Description)
	id := in.ID
	if id == "" {
		// never ship an unidentifiable record
		id = "env-" + key[:16]
	}
	return Envelope{
		Kind:           EnvelopeKind,
		Version:        EnvelopeVersion,
		ID:             id,
		IdempotencyKey: key,
		Meta: Meta{
			OccurredAt: in.Timestamp.UTC(),
			Producer:   Producer,
		},
		Data: Data{
			InsightType: string(in.Type),
			Summary:     Truncate(in.Title),
			Details:     Truncate(in.Description),
			ContextRefs: RedactMap(in.Context),
			Origin:      origin,
		},
	}
}

// Validate rejects envelopes that violate the record contract.
func (e Envelope) Validate() error {
	if e.Kind != EnvelopeKind {
		return fmt.Errorf("archive: envelope kind %q, want %q", e.Kind, EnvelopeKind)
	}
	if e.Version != EnvelopeVersion {
		return fmt.Errorf("archive: envelope version %d, want %d", e.Version, EnvelopeVersion)
	}
	if e.ID == "" {
		return fmt.Errorf("archive: envelope missing id")
	}
	if e.IdempotencyKey == "" {
		return fmt.Errorf("archive: envelope missing idempotency key")
	}
	if e.Meta.OccurredAt.IsZero() {
		return fmt.Errorf("archive: envelope missing occurred_at")
	}
	if e.Meta.Producer == "" {
		return fmt.Errorf("archive: envelope missing producer")
	}
	return nil
}

// Truncate caps s at MaxFieldLen bytes of original content and marks
// the cut. The cut never splits a multi-byte rune.
func Truncate(s string) string {
	if len(s) <= MaxFieldLen {
		return s
	}
	cut := MaxFieldLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + TruncationMarker
}

// RedactMap returns a deep copy of m with every value whose key looks
// credential-bearing replaced by the redaction marker and every string
// leaf capped at the truncation limit. Nested maps and slices are
// walked; the input is never modified.
func RedactMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sensitiveKey(k) {
			out[k] = RedactionMarker
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return RedactMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = redactValue(e)
		}
		return out
	case string:
		return Truncate(t)
	default:
		return v
	}
}

func sensitiveKey(k string) bool {
	lk := strings.ToLower(k)
	for _, s := range sensitiveKeys {
		if strings.Contains(lk, s) {
			return true
		}
	}
	return false
}

// LocalStore saves the local envelope copy.
type LocalStore interface {
	SaveEnvelope(id string, env any) error
}

// Log appends an envelope to the external event log.
type Log interface {
	Append(ctx context.Context, payload any) error
}

// Archiver drives the two-phase archive flow. A nil Log means
// console-only output: local copies are written, delivery is skipped.
type Archiver struct {
	store  LocalStore
	log    Log
	logger *slog.Logger
}

// NewArchiver creates an Archiver. logger may be nil.
func NewArchiver(store LocalStore, log Log, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Archiver{store: store, log: log, logger: logger}
}

// Result summarizes one archive run.
type Result struct {
	Total   int      `json:"total"`
	Success int      `json:"success"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// Archive wraps and delivers the given insights. Internal-only
// insights are skipped entirely. Local copies are written first; the
// remote append then runs in chunks with a bounded number in flight.
// Individual failures are recorded and do not stop the run.
func (a *Archiver) Archive(ctx context.Context, insights []*insight.Insight) Result {
	var envelopes []Envelope
	var res Result
	for _, in := range insights {
		if in.InternalOnly {
			continue
		}
		envelopes = append(envelopes, Wrap(in))
	}
	res.Total = len(envelopes)

	var mu sync.Mutex
	fail := func(id string, err error) {
		mu.Lock()
		defer mu.Unlock()
		res.Failed++
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", id, err))
	}

	// Phase one: local copies. A record that cannot be written locally
	// is not offered for delivery either.
	var deliverable []Envelope
	for _, env := range envelopes {
		if err := env.Validate(); err != nil {
			fail(env.ID, err)
			continue
		}
		if err := a.store.SaveEnvelope(env.ID, env); err != nil {
			a.logger.Error("save envelope", "id", env.ID, "error", err)
			fail(env.ID, err)
			continue
		}
		deliverable = append(deliverable, env)
	}

	if a.log == nil {
		res.Success = len(deliverable)
		return res
	}

	// Phase two: best-effort delivery, chunked.
	for start := 0; start < len(deliverable); start += chunkSize {
		end := min(start+chunkSize, len(deliverable))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxInFlight)
		for _, env := range deliverable[start:end] {
			g.Go(func() error {
				if err := a.log.Append(gctx, env); err != nil {
					a.logger.Warn("append envelope", "id", env.ID, "error", err)
					fail(env.ID, err)
					return nil // partial failure does not cancel the chunk
				}
				mu.Lock()
				res.Success++
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}

	a.logger.Info("archive run complete",
		"total", res.Total, "success", res.Success, "failed", res.Failed)
	return res
}
