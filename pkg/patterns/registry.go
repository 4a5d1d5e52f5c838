package patterns

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wardstone/wardstone/pkg/store"
	"github.com/wardstone/wardstone/pkg/threat"
)

// Registry persists patterns in the KV store and caches compiled regexps.
// The cache is keyed by pattern id and revision, so an updated rule is
// recompiled exactly once, never per scan.
type Registry struct {
	kv store.KV

	mu       sync.Mutex
	compiled map[string]compiledEntry
}

type compiledEntry struct {
	revision int64
	matcher  *Matcher
}

// Matcher pairs a pattern with its compiled rule. Regex is nil when the
// stored rule failed to compile; such patterns are skipped during scans.
type Matcher struct {
	Pattern Pattern
	Regex   *regexp.Regexp
}

// NewRegistry creates a registry over the given store. Call Init before use.
func NewRegistry(kv store.KV) *Registry {
	return &Registry{
		kv:       kv,
		compiled: make(map[string]compiledEntry),
	}
}

// Init seeds the default pattern set exactly once: only when the registry key
// is empty. An already-populated registry is left untouched.
func (r *Registry) Init(ctx context.Context) error {
	return r.kv.Update(ctx, store.KeyPatterns, func(cur json.RawMessage) (json.RawMessage, error) {
		if cur != nil {
			var existing []Pattern
			if err := json.Unmarshal(cur, &existing); err == nil && len(existing) > 0 {
				return cur, nil
			}
		}
		seeds := DefaultPatterns()
		log.Printf("[STARTUP] pattern registry empty, seeding %d default patterns", len(seeds))
		return json.Marshal(seeds)
	})
}

// List returns every stored pattern, enabled or not.
func (r *Registry) List(ctx context.Context) ([]Pattern, error) {
	var all []Pattern
	if _, err := store.GetJSON(ctx, r.kv, store.KeyPatterns, &all); err != nil {
		return nil, fmt.Errorf("patterns: load: %w", err)
	}
	return all, nil
}

// Add assigns an id and timestamps to the given pattern, appends it, and
// persists the full list. The stored copy is returned. Rules that do not
// compile are rejected up front.
func (r *Registry) Add(ctx context.Context, p Pattern) (Pattern, error) {
	now := time.Now().UnixMilli()
	p.ID = uuid.NewString()
	p.Created = now
	p.Updated = now
	p.Confidence = threat.ClampConfidence(p.Confidence)

	if p.Rule.Kind == "" {
		p.Rule.Kind = KindRegex
	}
	if _, err := p.Rule.Compile(); err != nil {
		return Pattern{}, err
	}

	err := r.kv.Update(ctx, store.KeyPatterns, func(cur json.RawMessage) (json.RawMessage, error) {
		var all []Pattern
		if cur != nil {
			if err := json.Unmarshal(cur, &all); err != nil {
				return nil, fmt.Errorf("patterns: decode: %w", err)
			}
		}
		all = append(all, p)
		return json.Marshal(all)
	})
	if err != nil {
		return Pattern{}, err
	}
	return p, nil
}

// Update applies mutate to the pattern with the given id, bumps its Updated
// timestamp, and persists. Fields the mutator does not touch are preserved;
// identity and creation time cannot be rewritten.
func (r *Registry) Update(ctx context.Context, id string, mutate func(*Pattern)) error {
	return r.kv.Update(ctx, store.KeyPatterns, func(cur json.RawMessage) (json.RawMessage, error) {
		var all []Pattern
		if cur != nil {
			if err := json.Unmarshal(cur, &all); err != nil {
				return nil, fmt.Errorf("patterns: decode: %w", err)
			}
		}
		for i := range all {
			if all[i].ID != id {
				continue
			}
			keepID, keepCreated := all[i].ID, all[i].Created
			mutate(&all[i])
			all[i].ID = keepID
			all[i].Created = keepCreated
			all[i].Confidence = threat.ClampConfidence(all[i].Confidence)
			all[i].Updated = time.Now().UnixMilli()
			return json.Marshal(all)
		}
		return nil, fmt.Errorf("patterns: update: no pattern with id %s", id)
	})
}

// Enabled returns only the patterns currently switched on.
func (r *Registry) Enabled(ctx context.Context) ([]Pattern, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Pattern, 0, len(all))
	for _, p := range all {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out, nil
}

// Matchers returns compiled matchers for every enabled pattern. Patterns whose
// rules fail to compile are logged and skipped.
func (r *Registry) Matchers(ctx context.Context) ([]*Matcher, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Matcher, 0, len(all))
	for _, p := range all {
		if !p.Enabled {
			continue
		}
		entry, ok := r.compiled[p.ID]
		if !ok || entry.revision != p.Updated {
			re, err := p.Rule.Compile()
			if err != nil {
				log.Printf("[WARN] pattern %s (%s) skipped: %v", p.Name, p.ID, err)
			}
			entry = compiledEntry{revision: p.Updated, matcher: &Matcher{Pattern: p, Regex: re}}
			r.compiled[p.ID] = entry
		}
		if entry.matcher.Regex != nil {
			out = append(out, entry.matcher)
		}
	}
	return out, nil
}
