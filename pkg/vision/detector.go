package vision

import (
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Detector runs the per-frame pipeline: edges, region mask, metrics,
// decision and overlay. Frames are independent; only the sequence number
// and the last edge map (for rendering) are kept between calls.
//
// Process and Render must be called from a single goroutine. SetConfig may
// be called from any goroutine and takes effect on the next frame.
type Detector struct {
	config Config
	mu     sync.RWMutex // Protects config

	seq   uint64
	edges gocv.Mat
}

// NewDetector creates a detector with the given configuration.
func NewDetector(cfg Config) *Detector {
	return &Detector{
		config: cfg,
		edges:  gocv.NewMat(),
	}
}

// Config returns the current configuration.
func (d *Detector) Config() Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// SetConfig replaces the configuration used for subsequent frames.
func (d *Detector) SetConfig(cfg Config) error {
	if errs := cfg.Validate(); len(errs) > 0 {
		return fmt.Errorf("vision: invalid config: %v", errs)
	}

	d.mu.Lock()
	d.config = cfg
	d.mu.Unlock()
	return nil
}

// Detect classifies a frame without modifying it.
func (d *Detector) Detect(frame gocv.Mat) Result {
	cfg := d.Config()

	edges := ExtractEdges(frame, cfg.Edge)
	roi := NewROI(frame.Cols(), frame.Rows(), cfg.Region)

	masked := MaskRegion(edges, roi)
	defer masked.Close()

	metrics, detected := Classify(masked, cfg)

	d.edges.Close()
	d.edges = edges

	d.seq++
	return Result{
		Seq:       d.seq,
		Timestamp: time.Now(),
		Width:     frame.Cols(),
		Height:    frame.Rows(),
		ROI:       roi,
		Metrics:   metrics,
		Detected:  detected,
	}
}

// Process classifies a frame and draws the overlay on it.
func (d *Detector) Process(frame *gocv.Mat) Result {
	res := d.Detect(*frame)
	Annotate(frame, res, d.Config().Style)
	return res
}

// Edges returns the edge map of the last processed frame, before masking.
// It is empty until the first frame. The detector owns the Mat; it stays
// valid until the next Detect or Close.
func (d *Detector) Edges() gocv.Mat {
	return d.edges
}

// Render returns the frame to display, with the last edge map blended in
// when EdgeBlend is set. The caller owns the returned Mat.
func (d *Detector) Render(frame gocv.Mat) gocv.Mat {
	return BlendEdges(frame, d.Edges(), d.Config().EdgeBlend)
}

// Close releases the retained edge map.
func (d *Detector) Close() error {
	return d.edges.Close()
}
