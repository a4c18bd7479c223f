// Package calibration holds the detector's runtime-tunable parameters.
// Changes arrive from the dashboard API and are pushed to the detector
// through OnConfigChange; nothing is persisted across restarts.
package calibration

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/teslashibe/go-obstacle/pkg/vision"
)

// Manager holds the current detector configuration and handles updates.
type Manager struct {
	config vision.Config
	preset string
	mu     sync.RWMutex

	// Callback when config changes (for applying to the detector)
	OnConfigChange func(cfg vision.Config) error
}

// NewManager creates a new manager with the default config.
func NewManager() *Manager {
	return &Manager{
		config: vision.DefaultConfig(),
		preset: PresetDefault,
	}
}

// GetConfig returns the current configuration.
func (m *Manager) GetConfig() vision.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Preset returns the name of the last applied preset, or "custom" once
// individual fields have been changed.
func (m *Manager) Preset() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.preset
}

// SetConfig validates and applies cfg.
func (m *Manager) SetConfig(cfg vision.Config) error {
	return m.apply(cfg, "custom")
}

// ApplyPreset replaces the configuration with a named preset.
func (m *Manager) ApplyPreset(name string) error {
	preset := GetPreset(name)
	if preset == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPreset, name)
	}
	return m.apply(*preset, name)
}

func (m *Manager) apply(cfg vision.Config, preset string) error {
	if problems := cfg.Validate(); len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}

	m.mu.Lock()
	m.config = cfg
	m.preset = preset
	callback := m.OnConfigChange
	m.mu.Unlock()

	// Notify callback if set
	if callback != nil {
		if err := callback(cfg); err != nil {
			return fmt.Errorf("failed to apply config: %w", err)
		}
	}

	return nil
}

// UpdateConfig updates specific fields of the configuration.
// Accepts a map of flat field names to values. A "preset" key is applied
// first so other keys can override it. Unknown keys or values of the wrong
// type reject the whole update with a ValidationError.
func (m *Manager) UpdateConfig(params map[string]interface{}) error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	presetName := "custom"

	// Check for preset first
	if name, ok := params["preset"].(string); ok {
		preset := GetPreset(name)
		if preset == nil {
			return fmt.Errorf("%w: %s", ErrUnknownPreset, name)
		}
		cfg = *preset
		presetName = name
	}

	keys := make([]string, 0, len(params))
	for key := range params {
		if key != "preset" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var problems []string
	if value, ok := params["preset"]; ok {
		if _, isName := value.(string); !isName {
			problems = append(problems, fmt.Sprintf("preset: expected a name, got %T", value))
		}
	}
	for _, key := range keys {
		if problem := applyField(&cfg, key, params[key]); problem != "" {
			problems = append(problems, problem)
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	if len(keys) > 0 {
		presetName = "custom"
	}

	return m.apply(cfg, presetName)
}

// applyField sets one flat key on cfg. It returns a problem description for
// unknown keys and values of the wrong type, or "" when the key was applied.
func applyField(cfg *vision.Config, key string, value interface{}) string {
	switch key {
	case "density_threshold":
		if v, ok := toFloat(value); ok {
			cfg.Thresholds.EdgeDensity = v
			return ""
		}
	case "line_threshold":
		if v, ok := toInt(value); ok {
			cfg.Thresholds.LineCount = v
			return ""
		}
	case "canny_low":
		if v, ok := toFloat(value); ok {
			cfg.Edge.CannyLow = v
			return ""
		}
	case "canny_high":
		if v, ok := toFloat(value); ok {
			cfg.Edge.CannyHigh = v
			return ""
		}
	case "blur_kernel":
		if v, ok := toInt(value); ok {
			cfg.Edge.BlurKernel = v
			return ""
		}
	case "roi_left":
		if v, ok := toFloat(value); ok {
			cfg.Region.Left = v
			return ""
		}
	case "roi_right":
		if v, ok := toFloat(value); ok {
			cfg.Region.Right = v
			return ""
		}
	case "roi_top":
		if v, ok := toFloat(value); ok {
			cfg.Region.Top = v
			return ""
		}
	case "roi_bottom":
		if v, ok := toFloat(value); ok {
			cfg.Region.Bottom = v
			return ""
		}
	case "hough_threshold":
		if v, ok := toInt(value); ok {
			cfg.Hough.Threshold = v
			return ""
		}
	case "min_line_length":
		if v, ok := toFloat(value); ok {
			cfg.Hough.MinLineLength = v
			return ""
		}
	case "max_line_gap":
		if v, ok := toFloat(value); ok {
			cfg.Hough.MaxLineGap = v
			return ""
		}
	case "edge_blend":
		if v, ok := toFloat(value); ok {
			cfg.EdgeBlend = v
			return ""
		}
	default:
		return fmt.Sprintf("unknown key %q", key)
	}
	return fmt.Sprintf("%s: expected a number, got %T", key, value)
}

// GetConfigJSON returns the current config as a map for JSON serialization,
// with the nested config alongside the flat keys UpdateConfig accepts.
func (m *Manager) GetConfigJSON() map[string]interface{} {
	m.mu.RLock()
	cfg := m.config
	preset := m.preset
	m.mu.RUnlock()

	// Convert to map via JSON for consistent serialization
	data, _ := json.Marshal(cfg)
	var nested map[string]interface{}
	json.Unmarshal(data, &nested)

	return map[string]interface{}{
		"preset":            preset,
		"density_threshold": cfg.Thresholds.EdgeDensity,
		"line_threshold":    cfg.Thresholds.LineCount,
		"canny_low":         cfg.Edge.CannyLow,
		"canny_high":        cfg.Edge.CannyHigh,
		"blur_kernel":       cfg.Edge.BlurKernel,
		"roi_left":          cfg.Region.Left,
		"roi_right":         cfg.Region.Right,
		"roi_top":           cfg.Region.Top,
		"roi_bottom":        cfg.Region.Bottom,
		"hough_threshold":   cfg.Hough.Threshold,
		"min_line_length":   cfg.Hough.MinLineLength,
		"max_line_gap":      cfg.Hough.MaxLineGap,
		"edge_blend":        cfg.EdgeBlend,
		"config":            nested,
	}
}

// Helper functions for type conversion

func toInt(v interface{}) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		return int(val), true
	case json.Number:
		i, err := val.Int64()
		if err == nil {
			return int(i), true
		}
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		if err == nil {
			return f, true
		}
	}
	return 0, false
}
