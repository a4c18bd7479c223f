package calibration

import "github.com/teslashibe/go-obstacle/pkg/vision"

// Preset names for common configurations
const (
	PresetDefault      = "default"
	PresetSensitive    = "sensitive"
	PresetConservative = "conservative"
	PresetWide         = "wide"
	PresetNarrow       = "narrow"
)

// Presets returns all available preset configurations.
func Presets() map[string]vision.Config {
	return map[string]vision.Config{
		PresetDefault:      vision.DefaultConfig(),
		PresetSensitive:    SensitiveConfig(),
		PresetConservative: ConservativeConfig(),
		PresetWide:         WideConfig(),
		PresetNarrow:       NarrowConfig(),
	}
}

// PresetNames returns the list of available preset names.
func PresetNames() []string {
	return []string{
		PresetDefault,
		PresetSensitive,
		PresetConservative,
		PresetWide,
		PresetNarrow,
	}
}

// GetPreset returns a preset config by name, or nil if not found.
func GetPreset(name string) *vision.Config {
	presets := Presets()
	if cfg, ok := presets[name]; ok {
		return &cfg
	}
	return nil
}

// SensitiveConfig flags fainter clutter.
// Lower Canny thresholds keep weak edges; both triggers fire earlier.
func SensitiveConfig() vision.Config {
	cfg := vision.DefaultConfig()
	cfg.Edge.CannyLow = 30
	cfg.Edge.CannyHigh = 100
	cfg.Thresholds.EdgeDensity = 0.003
	cfg.Thresholds.LineCount = 10
	return cfg
}

// ConservativeConfig ignores texture such as carpet or gravel.
func ConservativeConfig() vision.Config {
	cfg := vision.DefaultConfig()
	cfg.Edge.CannyLow = 80
	cfg.Edge.CannyHigh = 200
	cfg.Thresholds.EdgeDensity = 0.01
	cfg.Thresholds.LineCount = 25
	cfg.Hough.MinLineLength = 30
	return cfg
}

// WideConfig watches most of the lower frame.
func WideConfig() vision.Config {
	cfg := vision.DefaultConfig()
	cfg.Region = vision.RegionConfig{Left: 0.15, Right: 0.85, Top: 0.4, Bottom: 0.95}
	return cfg
}

// NarrowConfig watches only the path straight ahead.
func NarrowConfig() vision.Config {
	cfg := vision.DefaultConfig()
	cfg.Region = vision.RegionConfig{Left: 0.4, Right: 0.6, Top: 0.55, Bottom: 0.75}
	return cfg
}
