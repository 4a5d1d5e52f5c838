// Package ledger is the append-only, retention-capped record of every threat
// the engine has detected. Entries are never physically deleted except by
// retention trimming; resolution only flips the resolution fields in place.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/wardstone/wardstone/pkg/store"
	"github.com/wardstone/wardstone/pkg/threat"
)

// ErrNotFound is returned by Resolve for an unknown threat id.
var ErrNotFound = errors.New("ledger: threat not found")

// DefaultMaxEntries is the retention cap: once the ledger grows past it, the
// oldest entries by insertion order are dropped first.
const DefaultMaxEntries = 1000

// Filter narrows a Query. Zero values mean "no constraint".
type Filter struct {
	Type          threat.Type     `json:"type,omitempty"`
	Severity      threat.Severity `json:"severity,omitempty"`
	Resolved      *bool           `json:"resolved,omitempty"`
	StartDate     int64           `json:"startDate,omitempty"` // epoch ms, inclusive
	EndDate       int64           `json:"endDate,omitempty"`   // epoch ms, inclusive
	MinConfidence int             `json:"minConfidence,omitempty"`
}

func (f Filter) matches(t threat.Threat) bool {
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.Severity != "" && t.Severity != f.Severity {
		return false
	}
	if f.Resolved != nil && t.Resolved != *f.Resolved {
		return false
	}
	if f.StartDate != 0 && t.Timestamp < f.StartDate {
		return false
	}
	if f.EndDate != 0 && t.Timestamp > f.EndDate {
		return false
	}
	if f.MinConfidence != 0 && t.Confidence < f.MinConfidence {
		return false
	}
	return true
}

// Ledger persists the threat sequence under a single store key.
type Ledger struct {
	kv         store.KV
	maxEntries int
}

// New creates a ledger with the default retention cap.
func New(kv store.KV) *Ledger {
	return &Ledger{kv: kv, maxEntries: DefaultMaxEntries}
}

// NewWithCap creates a ledger with a custom retention cap, for tests and
// small deployments.
func NewWithCap(kv store.KV, maxEntries int) *Ledger {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &Ledger{kv: kv, maxEntries: maxEntries}
}

// Append pushes a threat onto the ledger and trims from the front when the
// sequence exceeds the cap. Trimming is FIFO by insertion order, never by
// timestamp.
func (l *Ledger) Append(ctx context.Context, t threat.Threat) error {
	return l.kv.Update(ctx, store.KeyThreats, func(cur json.RawMessage) (json.RawMessage, error) {
		var all []threat.Threat
		if cur != nil {
			if err := json.Unmarshal(cur, &all); err != nil {
				return nil, fmt.Errorf("ledger: decode: %w", err)
			}
		}
		all = append(all, t)
		if excess := len(all) - l.maxEntries; excess > 0 {
			all = all[excess:]
		}
		return json.Marshal(all)
	})
}

// Query returns threats matching the filter, sorted by timestamp descending,
// truncated to limit when limit > 0. Results are always sorted before the
// limit is applied, regardless of store insertion order.
func (l *Ledger) Query(ctx context.Context, f Filter, limit int) ([]threat.Threat, error) {
	var all []threat.Threat
	if _, err := store.GetJSON(ctx, l.kv, store.KeyThreats, &all); err != nil {
		return nil, fmt.Errorf("ledger: load: %w", err)
	}

	out := make([]threat.Threat, 0, len(all))
	for _, t := range all {
		if f.matches(t) {
			out = append(out, t)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp > out[j].Timestamp
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns how many stored threats match the filter.
func (l *Ledger) Count(ctx context.Context, f Filter) (int, error) {
	matched, err := l.Query(ctx, f, 0)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

// Resolve marks the threat with the given id resolved, recording who resolved
// it and whether it was a false positive. All other fields are untouched.
// Returns ErrNotFound when no stored threat has that id.
func (l *Ledger) Resolve(ctx context.Context, id, resolvedBy string, falsePositive bool) error {
	return l.kv.Update(ctx, store.KeyThreats, func(cur json.RawMessage) (json.RawMessage, error) {
		var all []threat.Threat
		if cur != nil {
			if err := json.Unmarshal(cur, &all); err != nil {
				return nil, fmt.Errorf("ledger: decode: %w", err)
			}
		}
		for i := range all {
			if all[i].ID != id {
				continue
			}
			all[i].Resolved = true
			all[i].ResolvedAt = time.Now().UnixMilli()
			all[i].ResolvedBy = resolvedBy
			all[i].FalsePositive = falsePositive
			return json.Marshal(all)
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	})
}
