// Package vision implements the edge-based obstacle detector: edge extraction,
// region masking, edge/line metrics and the threshold decision, plus the
// debug overlay drawn on each frame.
package vision

import (
	"fmt"
	"image"
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// Default edge extraction parameters.
const (
	DefaultBlurKernel = 5
	DefaultCannyLow   = 50
	DefaultCannyHigh  = 150
)

// Default decision thresholds.
const (
	DefaultDensityThreshold = 0.005
	DefaultLineThreshold    = 15
)

// Default probabilistic Hough parameters.
const (
	DefaultHoughRho       = 1.0
	DefaultHoughThreshold = 20
	DefaultMinLineLength  = 20
	DefaultMaxLineGap     = 5
)

// DefaultEdgeBlend is the weight of the edge map in the displayed frame.
const DefaultEdgeBlend = 0.2

// EdgeConfig controls grayscale -> blur -> Canny.
type EdgeConfig struct {
	BlurKernel int     `json:"blur_kernel"` // Gaussian kernel size in pixels (odd)
	BlurSigma  float64 `json:"blur_sigma"`  // 0 derives sigma from the kernel size
	CannyLow   float64 `json:"canny_low"`   // Weak edge gradient threshold
	CannyHigh  float64 `json:"canny_high"`  // Strong edge gradient threshold
}

// RegionConfig places the region of interest as fractions of the frame size.
type RegionConfig struct {
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
}

// HoughConfig holds the probabilistic Hough transform parameters.
type HoughConfig struct {
	Rho           float64 `json:"rho"`             // Distance resolution (px)
	Theta         float64 `json:"theta"`           // Angular resolution (rad)
	Threshold     int     `json:"threshold"`       // Minimum votes
	MinLineLength float64 `json:"min_line_length"` // Shorter segments are discarded (px)
	MaxLineGap    float64 `json:"max_line_gap"`    // Max gap merged into one segment (px)
}

// Thresholds is the decision rule: an obstacle is reported when either
// metric is strictly above its threshold.
type Thresholds struct {
	EdgeDensity float64 `json:"edge_density"`
	LineCount   int     `json:"line_count"`
}

// Style controls the debug overlay.
type Style struct {
	ROIColor      string      `json:"roi_color"`   // Hex, e.g. "#00ff00"
	TextColor     string      `json:"text_color"`  // Hex
	AlertColor    string      `json:"alert_color"` // Hex
	ROIThickness  int         `json:"roi_thickness"`
	TextScale     float64     `json:"text_scale"`
	TextThickness int         `json:"text_thickness"`
	AlertScale    float64     `json:"alert_scale"`
	AlertText     string      `json:"alert_text"`
	DensityOrigin image.Point `json:"density_origin"`
	LinesOrigin   image.Point `json:"lines_origin"`
	AlertOrigin   image.Point `json:"alert_origin"`
}

// Config holds every tunable parameter of the detector.
type Config struct {
	Edge       EdgeConfig   `json:"edge"`
	Region     RegionConfig `json:"region"`
	Hough      HoughConfig  `json:"hough"`
	Thresholds Thresholds   `json:"thresholds"`
	Style      Style        `json:"style"`

	// EdgeBlend is the edge map weight in the rendered frame (0 disables).
	EdgeBlend float64 `json:"edge_blend"`
}

// DefaultConfig returns the calibrated defaults: bottom-center ROI,
// Canny 50/150 and the 0.005 density / 15 line decision rule.
func DefaultConfig() Config {
	return Config{
		Edge: EdgeConfig{
			BlurKernel: DefaultBlurKernel,
			BlurSigma:  0,
			CannyLow:   DefaultCannyLow,
			CannyHigh:  DefaultCannyHigh,
		},
		Region: DefaultRegion(),
		Hough: HoughConfig{
			Rho:           DefaultHoughRho,
			Theta:         math.Pi / 180,
			Threshold:     DefaultHoughThreshold,
			MinLineLength: DefaultMinLineLength,
			MaxLineGap:    DefaultMaxLineGap,
		},
		Thresholds: Thresholds{
			EdgeDensity: DefaultDensityThreshold,
			LineCount:   DefaultLineThreshold,
		},
		Style:     DefaultStyle(),
		EdgeBlend: DefaultEdgeBlend,
	}
}

// DefaultRegion is the bottom-center rectangle in front of the camera.
func DefaultRegion() RegionConfig {
	return RegionConfig{Left: 0.3, Right: 0.7, Top: 0.5, Bottom: 0.8}
}

// DefaultStyle returns the overlay used for debugging on a monitor:
// green ROI, blue metrics, red alert.
func DefaultStyle() Style {
	return Style{
		ROIColor:      "#00ff00",
		TextColor:     "#0000ff",
		AlertColor:    "#ff0000",
		ROIThickness:  2,
		TextScale:     0.6,
		TextThickness: 2,
		AlertScale:    1.0,
		AlertText:     "Obstacle Detected!",
		DensityOrigin: image.Pt(10, 30),
		LinesOrigin:   image.Pt(10, 60),
		AlertOrigin:   image.Pt(50, 100),
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	// Edges
	if c.Edge.BlurKernel < 1 || c.Edge.BlurKernel%2 == 0 {
		errors = append(errors, "blur_kernel must be a positive odd number")
	}
	if c.Edge.BlurSigma < 0 {
		errors = append(errors, "blur_sigma must be >= 0")
	}
	if c.Edge.CannyLow < 0 || c.Edge.CannyHigh > 1000 {
		errors = append(errors, "canny thresholds must be between 0 and 1000")
	}
	if c.Edge.CannyLow >= c.Edge.CannyHigh {
		errors = append(errors, "canny_low must be below canny_high")
	}

	// Region
	r := c.Region
	if r.Left < 0 || r.Right > 1 || r.Top < 0 || r.Bottom > 1 {
		errors = append(errors, "region fractions must be between 0 and 1")
	}
	if r.Left >= r.Right {
		errors = append(errors, "region left must be below right")
	}
	if r.Top >= r.Bottom {
		errors = append(errors, "region top must be below bottom")
	}

	// Hough
	if c.Hough.Rho <= 0 {
		errors = append(errors, "hough rho must be positive")
	}
	if c.Hough.Theta <= 0 || c.Hough.Theta > math.Pi {
		errors = append(errors, "hough theta must be in (0, pi]")
	}
	if c.Hough.Threshold < 1 {
		errors = append(errors, "hough threshold must be >= 1")
	}
	if c.Hough.MinLineLength < 0 || c.Hough.MaxLineGap < 0 {
		errors = append(errors, "min_line_length and max_line_gap must be >= 0")
	}

	// Decision
	if c.Thresholds.EdgeDensity < 0 || c.Thresholds.EdgeDensity > 1 {
		errors = append(errors, "density threshold must be between 0 and 1")
	}
	if c.Thresholds.LineCount < 0 {
		errors = append(errors, "line threshold must be >= 0")
	}

	if c.EdgeBlend < 0 || c.EdgeBlend > 1 {
		errors = append(errors, "edge_blend must be between 0 and 1")
	}

	for name, hex := range map[string]string{
		"roi_color":   c.Style.ROIColor,
		"text_color":  c.Style.TextColor,
		"alert_color": c.Style.AlertColor,
	} {
		if _, err := colorful.Hex(hex); err != nil {
			errors = append(errors, fmt.Sprintf("%s %q is not a hex color", name, hex))
		}
	}

	return errors
}
