// Package behavior tracks per-session activity baselines and flags deviations
// from them. Each session has one profile holding two parallel aggregate
// blocks: a frozen baseline and the growing current counters. Profiles are
// persisted under per-session store keys, so concurrent sessions never
// serialize against each other.
package behavior

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wardstone/wardstone/pkg/store"
)

// Aggregates is one block of activity counters and time samples.
type Aggregates struct {
	Actions   map[string]int `json:"actions"`
	APICalls  map[string]int `json:"apiCalls"`
	Domains   map[string]int `json:"domains"`
	TimeOfDay []int          `json:"timeOfDay"` // hour-of-day samples, 0-23
	DayOfWeek []int          `json:"dayOfWeek"` // 0=Sunday .. 6=Saturday
}

func newAggregates() Aggregates {
	return Aggregates{
		Actions:  make(map[string]int),
		APICalls: make(map[string]int),
		Domains:  make(map[string]int),
	}
}

// AnomalyRecord is one detected deviation, kept on the profile as an
// append-only log.
type AnomalyRecord struct {
	Timestamp int64  `json:"timestamp"`
	Kind      string `json:"kind"`
	Action    string `json:"action,omitempty"`
	Detail    string `json:"detail"`
}

// Profile is a session's behavioral state.
type Profile struct {
	SessionID   string          `json:"sessionId"`
	UserID      string          `json:"userId,omitempty"`
	Baseline    Aggregates      `json:"baseline"`
	Current     Aggregates      `json:"current"`
	Anomalies   []AnomalyRecord `json:"anomalies,omitempty"`
	LastUpdated int64           `json:"lastUpdated"`
}

// Event is one behavior signal. Details may carry "api" and "domain" fields;
// everything else in Details is ignored by the profile.
type Event struct {
	Action    string
	Details   map[string]string
	UserID    string
	SessionID string
	At        time.Time
}

// ProfileStore persists behavior profiles.
type ProfileStore struct {
	kv store.KV
}

// NewProfileStore builds a profile store over the KV backend.
func NewProfileStore(kv store.KV) *ProfileStore {
	return &ProfileStore{kv: kv}
}

// Get loads a session's profile. ok is false when none exists yet.
func (s *ProfileStore) Get(ctx context.Context, sessionID string) (Profile, bool, error) {
	var p Profile
	ok, err := store.GetJSON(ctx, s.kv, store.ProfileKey(sessionID), &p)
	if err != nil {
		return Profile{}, false, fmt.Errorf("behavior: load profile %s: %w", sessionID, err)
	}
	return p, ok, nil
}

// Record applies one event to the session's current block, creating the
// profile on first sight, and persists it. The updated profile is returned so
// anomaly checks run against exactly the state that was stored.
func (s *ProfileStore) Record(ctx context.Context, ev Event) (Profile, error) {
	if ev.SessionID == "" {
		return Profile{}, fmt.Errorf("behavior: event without session id")
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	var updated Profile
	err := s.kv.Update(ctx, store.ProfileKey(ev.SessionID), func(cur json.RawMessage) (json.RawMessage, error) {
		p := Profile{
			SessionID: ev.SessionID,
			Baseline:  newAggregates(),
			Current:   newAggregates(),
		}
		if cur != nil {
			if err := json.Unmarshal(cur, &p); err != nil {
				return nil, fmt.Errorf("behavior: decode profile %s: %w", ev.SessionID, err)
			}
			ensureMaps(&p.Baseline)
			ensureMaps(&p.Current)
		}

		if ev.UserID != "" {
			p.UserID = ev.UserID
		}
		p.Current.Actions[ev.Action]++
		p.Current.TimeOfDay = append(p.Current.TimeOfDay, ev.At.Hour())
		p.Current.DayOfWeek = append(p.Current.DayOfWeek, int(ev.At.Weekday()))
		if api := ev.Details["api"]; api != "" {
			p.Current.APICalls[api]++
		}
		if domain := ev.Details["domain"]; domain != "" {
			p.Current.Domains[domain]++
		}
		p.LastUpdated = ev.At.UnixMilli()

		updated = p
		return json.Marshal(p)
	})
	if err != nil {
		return Profile{}, err
	}
	return updated, nil
}

// AppendAnomalies adds detected deviations to a session's anomaly log.
func (s *ProfileStore) AppendAnomalies(ctx context.Context, sessionID string, records []AnomalyRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.kv.Update(ctx, store.ProfileKey(sessionID), func(cur json.RawMessage) (json.RawMessage, error) {
		if cur == nil {
			return nil, fmt.Errorf("behavior: no profile for session %s", sessionID)
		}
		var p Profile
		if err := json.Unmarshal(cur, &p); err != nil {
			return nil, fmt.Errorf("behavior: decode profile %s: %w", sessionID, err)
		}
		p.Anomalies = append(p.Anomalies, records...)
		return json.Marshal(p)
	})
}

// PromoteBaseline folds the session's accumulated current block into its
// baseline and resets current to empty, starting a new baseline epoch.
// Existing baseline counters are added to, not replaced, so repeated
// promotions keep accumulating history. Time samples are concatenated.
func (s *ProfileStore) PromoteBaseline(ctx context.Context, sessionID string) error {
	return s.kv.Update(ctx, store.ProfileKey(sessionID), func(cur json.RawMessage) (json.RawMessage, error) {
		if cur == nil {
			return nil, fmt.Errorf("behavior: no profile for session %s", sessionID)
		}
		var p Profile
		if err := json.Unmarshal(cur, &p); err != nil {
			return nil, fmt.Errorf("behavior: decode profile %s: %w", sessionID, err)
		}
		ensureMaps(&p.Baseline)

		for k, v := range p.Current.Actions {
			p.Baseline.Actions[k] += v
		}
		for k, v := range p.Current.APICalls {
			p.Baseline.APICalls[k] += v
		}
		for k, v := range p.Current.Domains {
			p.Baseline.Domains[k] += v
		}
		p.Baseline.TimeOfDay = append(p.Baseline.TimeOfDay, p.Current.TimeOfDay...)
		p.Baseline.DayOfWeek = append(p.Baseline.DayOfWeek, p.Current.DayOfWeek...)

		p.Current = newAggregates()
		p.LastUpdated = time.Now().UnixMilli()
		return json.Marshal(p)
	})
}

func ensureMaps(a *Aggregates) {
	if a.Actions == nil {
		a.Actions = make(map[string]int)
	}
	if a.APICalls == nil {
		a.APICalls = make(map[string]int)
	}
	if a.Domains == nil {
		a.Domains = make(map[string]int)
	}
}
