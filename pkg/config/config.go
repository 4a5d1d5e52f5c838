// Package config holds the engine's flat configuration record. Defaults come
// from environment variables, an optional YAML file overlays them, and callers
// can apply partial updates at runtime which the engine persists to the store.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wardstone/wardstone/pkg/patterns"
)

// AlertThresholds drive the rolling one-hour alert monitor.
type AlertThresholds struct {
	ThreatsPerHour         int `json:"threatsPerHour" yaml:"threatsPerHour"`
	CriticalThreatsPerHour int `json:"criticalThreatsPerHour" yaml:"criticalThreatsPerHour"`
	ConfidenceThreshold    int `json:"confidenceThreshold" yaml:"confidenceThreshold"`
}

// Config is the engine's flat configuration record. Every field is a
// recognized option of the public updateConfig surface.
type Config struct {
	EnableDetection        bool `json:"enableDetection" yaml:"enableDetection"`
	EnableBehaviorAnalysis bool `json:"enableBehaviorAnalysis" yaml:"enableBehaviorAnalysis"`
	EnableNetworkAnalysis  bool `json:"enableNetworkAnalysis" yaml:"enableNetworkAnalysis"`
	EnableContentAnalysis  bool `json:"enableContentAnalysis" yaml:"enableContentAnalysis"`
	EnableHeuristics       bool `json:"enableHeuristics" yaml:"enableHeuristics"`
	EnableMachineLearning  bool `json:"enableMachineLearning" yaml:"enableMachineLearning"`

	// ThreatThreshold is the minimum confidence a detection needs to be
	// recorded in the ledger. Detections below it are dropped silently.
	ThreatThreshold int  `json:"threatThreshold" yaml:"threatThreshold"`
	AutoMitigation  bool `json:"autoMitigation" yaml:"autoMitigation"`

	AlertThresholds AlertThresholds `json:"alertThresholds" yaml:"alertThresholds"`

	// AlertWebhookURL, when set, receives a POST with each batch of fired
	// alerts. Delivery is best effort.
	AlertWebhookURL string `json:"alertWebhookUrl,omitempty" yaml:"alertWebhookUrl,omitempty"`

	// CustomPatterns are extra registry seeds applied once at engine init.
	CustomPatterns []patterns.Pattern `json:"customPatterns,omitempty" yaml:"customPatterns,omitempty"`
}

// NewDefault builds the default configuration, with every value overridable
// through WARDSTONE_* environment variables.
func NewDefault() Config {
	return Config{
		EnableDetection:        GetEnvBool("WARDSTONE_ENABLE_DETECTION", true),
		EnableBehaviorAnalysis: GetEnvBool("WARDSTONE_ENABLE_BEHAVIOR", true),
		EnableNetworkAnalysis:  GetEnvBool("WARDSTONE_ENABLE_NETWORK", true),
		EnableContentAnalysis:  GetEnvBool("WARDSTONE_ENABLE_CONTENT", true),
		EnableHeuristics:       GetEnvBool("WARDSTONE_ENABLE_HEURISTICS", true),
		EnableMachineLearning:  GetEnvBool("WARDSTONE_ENABLE_ML", false),

		ThreatThreshold: clampInt(GetEnvInt("WARDSTONE_THREAT_THRESHOLD", 50), 0, 100),
		AutoMitigation:  GetEnvBool("WARDSTONE_AUTO_MITIGATION", false),

		AlertThresholds: AlertThresholds{
			ThreatsPerHour:         GetEnvInt("WARDSTONE_ALERT_THREATS_PER_HOUR", 10),
			CriticalThreatsPerHour: GetEnvInt("WARDSTONE_ALERT_CRITICAL_PER_HOUR", 3),
			ConfidenceThreshold:    clampInt(GetEnvInt("WARDSTONE_ALERT_CONFIDENCE", 70), 0, 100),
		},
		AlertWebhookURL: GetEnv("WARDSTONE_ALERT_WEBHOOK", ""),
	}
}

// LoadFile overlays a YAML config file on top of c. Missing file is an error;
// callers decide whether the file is optional.
func (c Config) LoadFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return c.normalized(), nil
}

// Partial is a sparse config update: only non-nil fields are applied.
type Partial struct {
	EnableDetection        *bool   `json:"enableDetection,omitempty"`
	EnableBehaviorAnalysis *bool   `json:"enableBehaviorAnalysis,omitempty"`
	EnableNetworkAnalysis  *bool   `json:"enableNetworkAnalysis,omitempty"`
	EnableContentAnalysis  *bool   `json:"enableContentAnalysis,omitempty"`
	EnableHeuristics       *bool   `json:"enableHeuristics,omitempty"`
	EnableMachineLearning  *bool   `json:"enableMachineLearning,omitempty"`
	ThreatThreshold        *int    `json:"threatThreshold,omitempty"`
	AutoMitigation         *bool   `json:"autoMitigation,omitempty"`
	AlertWebhookURL        *string `json:"alertWebhookUrl,omitempty"`

	AlertThresholds *struct {
		ThreatsPerHour         *int `json:"threatsPerHour,omitempty"`
		CriticalThreatsPerHour *int `json:"criticalThreatsPerHour,omitempty"`
		ConfidenceThreshold    *int `json:"confidenceThreshold,omitempty"`
	} `json:"alertThresholds,omitempty"`
}

// Merge returns c with every non-nil field of p applied.
func (c Config) Merge(p Partial) Config {
	if p.EnableDetection != nil {
		c.EnableDetection = *p.EnableDetection
	}
	if p.EnableBehaviorAnalysis != nil {
		c.EnableBehaviorAnalysis = *p.EnableBehaviorAnalysis
	}
	if p.EnableNetworkAnalysis != nil {
		c.EnableNetworkAnalysis = *p.EnableNetworkAnalysis
	}
	if p.EnableContentAnalysis != nil {
		c.EnableContentAnalysis = *p.EnableContentAnalysis
	}
	if p.EnableHeuristics != nil {
		c.EnableHeuristics = *p.EnableHeuristics
	}
	if p.EnableMachineLearning != nil {
		c.EnableMachineLearning = *p.EnableMachineLearning
	}
	if p.ThreatThreshold != nil {
		c.ThreatThreshold = *p.ThreatThreshold
	}
	if p.AutoMitigation != nil {
		c.AutoMitigation = *p.AutoMitigation
	}
	if p.AlertWebhookURL != nil {
		c.AlertWebhookURL = *p.AlertWebhookURL
	}
	if p.AlertThresholds != nil {
		if p.AlertThresholds.ThreatsPerHour != nil {
			c.AlertThresholds.ThreatsPerHour = *p.AlertThresholds.ThreatsPerHour
		}
		if p.AlertThresholds.CriticalThreatsPerHour != nil {
			c.AlertThresholds.CriticalThreatsPerHour = *p.AlertThresholds.CriticalThreatsPerHour
		}
		if p.AlertThresholds.ConfidenceThreshold != nil {
			c.AlertThresholds.ConfidenceThreshold = *p.AlertThresholds.ConfidenceThreshold
		}
	}
	return c.normalized()
}

// normalized clamps numeric options into their valid ranges.
func (c Config) normalized() Config {
	c.ThreatThreshold = clampInt(c.ThreatThreshold, 0, 100)
	c.AlertThresholds.ConfidenceThreshold = clampInt(c.AlertThresholds.ConfidenceThreshold, 0, 100)
	if c.AlertThresholds.ThreatsPerHour < 1 {
		c.AlertThresholds.ThreatsPerHour = 1
	}
	if c.AlertThresholds.CriticalThreatsPerHour < 1 {
		c.AlertThresholds.CriticalThreatsPerHour = 1
	}
	return c
}

func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// Helper functions for environment variable parsing.

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool returns the boolean value of an environment variable or a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvInt returns the integer value of an environment variable or a default value.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// GetEnvSlice returns a comma-separated list from an environment variable or a default value.
func GetEnvSlice(key string, defaultValue []string) []string {
	if v := os.Getenv(key); v != "" {
		var parts []string
		for _, p := range strings.Split(v, ",") {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}
