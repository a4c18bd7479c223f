package vision

import (
	"time"

	"gocv.io/x/gocv"
)

// Metrics are the two measurements taken on the masked edge map.
type Metrics struct {
	EdgeDensity float64 `json:"edge_density"` // Non-zero pixels / total pixels, in [0,1]
	LineCount   int     `json:"line_count"`   // Probabilistic Hough segments
}

// Result is the outcome of one processed frame.
type Result struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	ROI       ROI       `json:"roi"`
	Metrics
	Detected bool `json:"detected"`
}

// EdgeDensity is the fraction of non-zero pixels over the whole masked map.
// The denominator is the full map, so the region's share of the frame caps
// the value. An empty map has density 0.
func EdgeDensity(masked gocv.Mat) float64 {
	total := masked.Total()
	if total == 0 {
		return 0
	}
	return float64(gocv.CountNonZero(masked)) / float64(total)
}

// CountLines returns the number of line segments the probabilistic Hough
// transform finds, or 0 when there are none.
func CountLines(masked gocv.Mat, cfg HoughConfig) int {
	if masked.Empty() {
		return 0
	}

	lines := gocv.NewMat()
	defer lines.Close()

	gocv.HoughLinesPWithParams(masked, &lines,
		float32(cfg.Rho),
		float32(cfg.Theta),
		cfg.Threshold,
		float32(cfg.MinLineLength),
		float32(cfg.MaxLineGap),
	)

	if lines.Empty() {
		return 0
	}
	return lines.Rows()
}

// Decide applies the OR rule: either metric above its threshold is enough.
func Decide(m Metrics, t Thresholds) bool {
	return m.EdgeDensity > t.EdgeDensity || m.LineCount > t.LineCount
}

// Classify measures a masked edge map and applies the decision rule.
func Classify(masked gocv.Mat, cfg Config) (Metrics, bool) {
	m := Metrics{
		EdgeDensity: EdgeDensity(masked),
		LineCount:   CountLines(masked, cfg.Hough),
	}
	return m, Decide(m, cfg.Thresholds)
}
