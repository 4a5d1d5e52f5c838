// Package engine wires the detection pipeline together behind one facade: it
// owns the store handle, the runtime config, and every analyzer, and exposes
// the operations callers (gateway, CLI, embedding processes) consume.
//
// Error discipline: analysis calls never fail on malformed input or store
// trouble; they log, count the failure, and return what they have. Resolve,
// report and config calls propagate wrapped errors to the caller.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/wardstone/wardstone/pkg/alert"
	"github.com/wardstone/wardstone/pkg/behavior"
	"github.com/wardstone/wardstone/pkg/config"
	"github.com/wardstone/wardstone/pkg/detect"
	"github.com/wardstone/wardstone/pkg/ledger"
	"github.com/wardstone/wardstone/pkg/metrics"
	"github.com/wardstone/wardstone/pkg/patterns"
	"github.com/wardstone/wardstone/pkg/report"
	"github.com/wardstone/wardstone/pkg/store"
	"github.com/wardstone/wardstone/pkg/threat"
)

// defaultSession anchors behavior events that arrive without a session id.
const defaultSession = "default"

// Options configure a new engine.
type Options struct {
	Store  store.KV
	Config config.Config
}

// Engine is the detection pipeline facade. Construct with New; the zero value
// is not usable.
type Engine struct {
	kv store.KV

	cfgMu sync.RWMutex
	cfg   config.Config

	registry  *patterns.Registry
	content   *detect.ContentAnalyzer
	heuristic *detect.HeuristicAnalyzer
	urls      *detect.URLAnalyzer
	headers   *detect.HeaderAnalyzer
	ml        *detect.MLAnalyzer

	profiles *behavior.ProfileStore
	anomaly  *behavior.Detector

	ledger   *ledger.Ledger
	monitor  *alert.Monitor
	notifier *alert.Notifier
	reporter *report.Generator

	now func() time.Time
}

// New builds and initializes an engine: seeds the pattern registry, applies
// custom patterns from config, and overlays any config previously persisted
// through UpdateConfig. Initialization failures are returned, not swallowed.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("engine: nil store")
	}

	reg := patterns.NewRegistry(opts.Store)
	if err := reg.Init(ctx); err != nil {
		return nil, fmt.Errorf("engine: init patterns: %w", err)
	}

	led := ledger.New(opts.Store)

	e := &Engine{
		kv:        opts.Store,
		cfg:       opts.Config,
		registry:  reg,
		content:   detect.NewContentAnalyzer(reg),
		heuristic: detect.NewHeuristicAnalyzer(),
		urls:      detect.NewURLAnalyzer(),
		headers:   detect.NewHeaderAnalyzer(),
		ml:        detect.NewMLAnalyzer(),
		profiles:  behavior.NewProfileStore(opts.Store),
		anomaly:   behavior.NewDetector(),
		ledger:    led,
		notifier:  alert.NewNotifier(),
		reporter:  report.NewGenerator(led),
		now:       time.Now,
	}
	e.monitor = alert.NewMonitor(led, func() config.AlertThresholds {
		return e.Config().AlertThresholds
	})

	// A previously persisted config wins over the constructor's.
	var stored config.Config
	ok, err := store.GetJSON(ctx, opts.Store, store.KeyConfig, &stored)
	if err != nil {
		return nil, fmt.Errorf("engine: load config: %w", err)
	}
	if ok {
		e.cfg = stored
	}

	if err := e.seedCustomPatterns(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// seedCustomPatterns registers config-supplied patterns that are not already
// present, matching by name so restarts do not duplicate them.
func (e *Engine) seedCustomPatterns(ctx context.Context) error {
	custom := e.Config().CustomPatterns
	if len(custom) == 0 {
		return nil
	}
	existing, err := e.registry.List(ctx)
	if err != nil {
		return fmt.Errorf("engine: list patterns: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, p := range existing {
		known[p.Name] = true
	}
	for _, p := range custom {
		if known[p.Name] {
			continue
		}
		if _, err := e.registry.Add(ctx, p); err != nil {
			return fmt.Errorf("engine: seed custom pattern %s: %w", p.Name, err)
		}
	}
	return nil
}

// Config returns a copy of the current configuration.
func (e *Engine) Config() config.Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// UpdateConfig merges a partial update into the running config, persists the
// result, and returns it.
func (e *Engine) UpdateConfig(ctx context.Context, p config.Partial) (config.Config, error) {
	e.cfgMu.Lock()
	merged := e.cfg.Merge(p)
	e.cfg = merged
	e.cfgMu.Unlock()

	if err := store.SetJSON(ctx, e.kv, store.KeyConfig, merged); err != nil {
		return merged, fmt.Errorf("engine: persist config: %w", err)
	}
	return merged, nil
}

// AnalyzeContent classifies a block of text. Returns the recorded threats;
// never errors on malformed input.
func (e *Engine) AnalyzeContent(ctx context.Context, text, source string) []threat.Threat {
	cfg := e.Config()
	if !cfg.EnableDetection || !cfg.EnableContentAnalysis {
		return nil
	}
	timer := time.Now()
	defer func() {
		metrics.AnalysisDuration.WithLabelValues("content").Observe(time.Since(timer).Seconds())
	}()

	var found []threat.Threat

	matches, err := e.content.Analyze(ctx, text, source)
	if err != nil {
		log.Printf("[WARN] content analysis degraded: %v", err)
		metrics.StoreFailures.WithLabelValues("patterns_load").Inc()
	} else {
		found = append(found, matches...)
	}

	if cfg.EnableHeuristics {
		found = append(found, e.heuristic.Analyze(text, source)...)
	}
	if cfg.EnableMachineLearning {
		found = append(found, e.ml.Analyze(ctx, text, source)...)
	}

	recorded := e.record(ctx, found)
	e.runMonitor(ctx)
	return recorded
}

// AnalyzeNetworkRequest classifies a request by URL, headers, and optionally
// its body. Returns the recorded threats; never errors on malformed input.
func (e *Engine) AnalyzeNetworkRequest(ctx context.Context, rawURL, method string, headers map[string]string, body string) []threat.Threat {
	cfg := e.Config()
	if !cfg.EnableDetection || !cfg.EnableNetworkAnalysis {
		return nil
	}
	timer := time.Now()
	defer func() {
		metrics.AnalysisDuration.WithLabelValues("network").Observe(time.Since(timer).Seconds())
	}()

	const source = "network_analysis"

	found := e.urls.Analyze(rawURL, source)
	found = append(found, e.headers.Analyze(headers, source)...)

	if body != "" && cfg.EnableContentAnalysis {
		matches, err := e.content.Analyze(ctx, body, source)
		if err != nil {
			log.Printf("[WARN] request body analysis degraded: %v", err)
			metrics.StoreFailures.WithLabelValues("patterns_load").Inc()
		} else {
			for i := range matches {
				if matches[i].Target == "" {
					matches[i].Target = rawURL
				}
			}
			found = append(found, matches...)
		}
	}

	for i := range found {
		if found[i].Metadata == nil {
			found[i].Metadata = map[string]any{}
		}
		found[i].Metadata["method"] = method
	}

	recorded := e.record(ctx, found)
	e.runMonitor(ctx)
	return recorded
}

// AnalyzeBehavior records one user action against its session profile and
// returns any anomaly threats it produced. Never errors: a failed profile
// write degrades to an empty result.
func (e *Engine) AnalyzeBehavior(ctx context.Context, action string, details map[string]string, userID, sessionID string) []threat.Threat {
	cfg := e.Config()
	if !cfg.EnableDetection || !cfg.EnableBehaviorAnalysis {
		return nil
	}
	timer := time.Now()
	defer func() {
		metrics.AnalysisDuration.WithLabelValues("behavior").Observe(time.Since(timer).Seconds())
	}()

	if sessionID == "" {
		sessionID = defaultSession
	}
	at := e.now()

	profile, err := e.profiles.Record(ctx, behavior.Event{
		Action:    action,
		Details:   details,
		UserID:    userID,
		SessionID: sessionID,
		At:        at,
	})
	if err != nil {
		log.Printf("[WARN] behavior analysis degraded: %v", err)
		metrics.StoreFailures.WithLabelValues("profile_update").Inc()
		return nil
	}

	found := e.anomaly.Check(profile, action, at)
	if len(found) > 0 {
		if err := e.profiles.AppendAnomalies(ctx, sessionID, behavior.RecordsFor(found)); err != nil {
			log.Printf("[WARN] anomaly log write failed: %v", err)
			metrics.StoreFailures.WithLabelValues("profile_update").Inc()
		}
	}
	return e.record(ctx, found)
}

// record filters detections below the confidence threshold and appends the
// rest to the ledger. Append failures drop the entry with a log line; the
// surviving threats are returned.
func (e *Engine) record(ctx context.Context, found []threat.Threat) []threat.Threat {
	threshold := e.Config().ThreatThreshold

	recorded := make([]threat.Threat, 0, len(found))
	for _, t := range found {
		if t.Confidence < threshold {
			metrics.ThreatsSuppressed.Inc()
			continue
		}
		if err := e.ledger.Append(ctx, t); err != nil {
			log.Printf("[WARN] threat append failed, dropping %s: %v", t.ID, err)
			metrics.StoreFailures.WithLabelValues("ledger_append").Inc()
			continue
		}
		metrics.ThreatsDetected.WithLabelValues(string(t.Type), string(t.Severity)).Inc()
		recorded = append(recorded, t)
	}
	return recorded
}

// runMonitor checks the rolling alert window after an analysis cycle.
func (e *Engine) runMonitor(ctx context.Context) {
	fired, err := e.monitor.Check(ctx)
	if err != nil {
		log.Printf("[WARN] alert check failed: %v", err)
		metrics.StoreFailures.WithLabelValues("alert_check").Inc()
		return
	}
	for _, a := range fired {
		kind := "total"
		if a.Severity == threat.SeverityHigh {
			kind = "critical"
		}
		metrics.AlertsFired.WithLabelValues(kind).Inc()
		log.Printf("[ALERT] %s: %s", a.Title, a.Description)
	}
	if len(fired) > 0 {
		e.notifier.Deliver(e.Config().AlertWebhookURL, fired)
	}
}

// GetThreats queries the ledger. Results are always sorted newest-first.
func (e *Engine) GetThreats(ctx context.Context, f ledger.Filter, limit int) ([]threat.Threat, error) {
	return e.ledger.Query(ctx, f, limit)
}

// ResolveThreat marks a threat resolved. Fails with ledger.ErrNotFound for an
// unknown id.
func (e *Engine) ResolveThreat(ctx context.Context, id, resolvedBy string, falsePositive bool) error {
	return e.ledger.Resolve(ctx, id, resolvedBy, falsePositive)
}

// GetPatterns lists every registry pattern.
func (e *Engine) GetPatterns(ctx context.Context) ([]patterns.Pattern, error) {
	return e.registry.List(ctx)
}

// AddPattern registers a new detection pattern and returns the stored copy.
func (e *Engine) AddPattern(ctx context.Context, p patterns.Pattern) (patterns.Pattern, error) {
	return e.registry.Add(ctx, p)
}

// GenerateReport aggregates the trailing days-day window.
func (e *Engine) GenerateReport(ctx context.Context, days int) (report.Report, error) {
	return e.reporter.Generate(ctx, days)
}

// PromoteBaseline folds a session's current activity into its baseline,
// starting a new baseline epoch.
func (e *Engine) PromoteBaseline(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		sessionID = defaultSession
	}
	return e.profiles.PromoteBaseline(ctx, sessionID)
}

// Profile returns a session's behavior profile, if one exists.
func (e *Engine) Profile(ctx context.Context, sessionID string) (behavior.Profile, bool, error) {
	if sessionID == "" {
		sessionID = defaultSession
	}
	return e.profiles.Get(ctx, sessionID)
}

// Stats summarizes ledger state for status endpoints.
type Stats struct {
	TotalThreats    int `json:"totalThreats"`
	Unresolved      int `json:"unresolved"`
	CriticalThreats int `json:"criticalThreats"`
	PatternCount    int `json:"patternCount"`
}

// GetStats computes ledger and registry counts.
func (e *Engine) GetStats(ctx context.Context) (Stats, error) {
	all, err := e.ledger.Query(ctx, ledger.Filter{}, 0)
	if err != nil {
		return Stats{}, err
	}
	pats, err := e.registry.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	s := Stats{TotalThreats: len(all), PatternCount: len(pats)}
	for _, t := range all {
		if !t.Resolved {
			s.Unresolved++
		}
		if t.Severity == threat.SeverityCritical {
			s.CriticalThreats++
		}
	}
	return s, nil
}

// SetClock overrides the engine's notion of now, including the alert
// monitor's and report generator's. Test hook.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.monitor.SetNow(now)
	e.reporter.SetNow(now)
}
