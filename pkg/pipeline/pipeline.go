// Package pipeline drives the capture, detect, display loop.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/teslashibe/go-obstacle/internal/log"
	"github.com/teslashibe/go-obstacle/pkg/debug"
	"github.com/teslashibe/go-obstacle/pkg/display"
	"github.com/teslashibe/go-obstacle/pkg/source"
	"github.com/teslashibe/go-obstacle/pkg/vision"
)

// ErrFrameUnavailable ends a run when the source yields no frame.
var ErrFrameUnavailable = fmt.Errorf("pipeline: %w", source.ErrFrameUnavailable)

// Default loop settings.
const (
	DefaultKeyWait = 1
	DefaultQuitKey = 'q'
)

// Processor classifies and annotates frames.
type Processor interface {
	// Process detects obstacles in frame and draws the overlay in place.
	Process(frame *gocv.Mat) vision.Result

	// Render returns the Mat to display for an annotated frame.
	// The caller closes it.
	Render(frame gocv.Mat) gocv.Mat
}

// Publisher receives every displayed frame as JPEG together with its result.
// Publish runs on the loop goroutine and must not block.
type Publisher interface {
	Publish(jpeg []byte, res vision.Result)
}

// Publishers fans a frame out to several publishers in order.
type Publishers []Publisher

// Publish implements Publisher.
func (ps Publishers) Publish(jpeg []byte, res vision.Result) {
	for _, p := range ps {
		p.Publish(jpeg, res)
	}
}

// Options configures a Runner.
type Options struct {
	// KeyWait is the key poll wait in milliseconds.
	KeyWait int

	// QuitKey ends the loop when pressed.
	QuitKey int

	// Publisher, if set, gets JPEG copies of displayed frames.
	Publisher Publisher
}

// DefaultOptions returns the interactive defaults: 1ms key poll, quit on q.
func DefaultOptions() Options {
	return Options{
		KeyWait: DefaultKeyWait,
		QuitKey: DefaultQuitKey,
	}
}

// Stats describes a run.
type Stats struct {
	RunID      string        `json:"run_id"`
	Source     string        `json:"source"`
	StartedAt  time.Time     `json:"started_at"`
	Uptime     time.Duration `json:"uptime_ns"`
	Frames     uint64        `json:"frames"`
	Detections uint64        `json:"detections"`
	Last       vision.Result `json:"last"`
}

// Runner owns a source and a display for the duration of one run.
type Runner struct {
	source    source.Source
	display   display.Display
	processor Processor
	opts      Options

	runID   string
	started atomic.Int64 // unix nanos, set when Run begins
	log     *slog.Logger

	frames     atomic.Uint64
	detections atomic.Uint64
	lastMu     sync.RWMutex
	last       vision.Result

	releaseOnce sync.Once
}

// NewRunner creates a runner. The runner takes ownership of src and disp
// and releases both when Run returns.
func NewRunner(src source.Source, disp display.Display, proc Processor, opts Options) *Runner {
	if opts.KeyWait <= 0 {
		opts.KeyWait = DefaultKeyWait
	}
	if opts.QuitKey == 0 {
		opts.QuitKey = DefaultQuitKey
	}

	runID := uuid.NewString()
	return &Runner{
		source:    src,
		display:   disp,
		processor: proc,
		opts:      opts,
		runID:     runID,
		log:       log.With("component", "pipeline", "run_id", runID, "source", src.Name()),
	}
}

// RunID identifies this run in logs and the dashboard.
func (r *Runner) RunID() string {
	return r.runID
}

// Run processes frames until the quit key, ctx cancellation, or a failed
// read. It returns nil on quit or cancellation and an error wrapping
// ErrFrameUnavailable when the source runs dry. The source and display are
// released exactly once on every path.
func (r *Runner) Run(ctx context.Context) error {
	defer r.release()

	r.started.Store(time.Now().UnixNano())
	r.log.Info("pipeline started")
	debug.Log("pipeline %s: reading from %s (key wait %dms, quit %q)\n",
		r.runID, r.source.Name(), r.opts.KeyWait, rune(r.opts.QuitKey))

	frame := gocv.NewMat()
	defer frame.Close()

	for {
		if err := ctx.Err(); err != nil {
			r.log.Info("pipeline cancelled", "frames", r.frames.Load())
			return nil
		}

		if !r.source.Read(&frame) || frame.Empty() {
			r.log.Error("unable to retrieve frame", "frames", r.frames.Load())
			return fmt.Errorf("%w: %s", ErrFrameUnavailable, r.source.Name())
		}

		r.step(&frame)

		if key := r.display.PollKey(r.opts.KeyWait); key == r.opts.QuitKey {
			r.log.Info("quit key pressed", "frames", r.frames.Load())
			return nil
		}
	}
}

// step runs one frame through detection, display and publishing.
func (r *Runner) step(frame *gocv.Mat) {
	res := r.processor.Process(frame)

	r.frames.Add(1)
	if res.Detected {
		r.detections.Add(1)
	}
	r.lastMu.Lock()
	r.last = res
	r.lastMu.Unlock()

	debug.FrameLog(res.Seq, res.EdgeDensity, res.LineCount, res.Detected)

	out := r.processor.Render(*frame)
	defer out.Close()

	r.display.Show(out)

	if r.opts.Publisher != nil {
		r.publish(out, res)
	}
}

func (r *Runner) publish(out gocv.Mat, res vision.Result) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, out)
	if err != nil {
		r.log.Warn("jpeg encode failed", "error", err)
		return
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())
	r.opts.Publisher.Publish(data, res)
}

// Close releases the source and display if Run never did.
func (r *Runner) Close() {
	r.release()
}

func (r *Runner) release() {
	r.releaseOnce.Do(func() {
		if err := r.source.Close(); err != nil {
			r.log.Warn("source close failed", "error", err)
		}
		if err := r.display.Close(); err != nil {
			r.log.Warn("display close failed", "error", err)
		}
		debug.Logln("pipeline " + r.runID + ": source and display released")
		r.log.Info("pipeline released",
			"frames", r.frames.Load(),
			"detections", r.detections.Load(),
		)
	})
}

// Stats returns a snapshot of the run counters.
func (r *Runner) Stats() Stats {
	r.lastMu.RLock()
	last := r.last
	r.lastMu.RUnlock()

	var startedAt time.Time
	var uptime time.Duration
	if ns := r.started.Load(); ns != 0 {
		startedAt = time.Unix(0, ns)
		uptime = time.Since(startedAt)
	}

	return Stats{
		RunID:      r.runID,
		Source:     r.source.Name(),
		StartedAt:  startedAt,
		Uptime:     uptime,
		Frames:     r.frames.Load(),
		Detections: r.detections.Load(),
		Last:       last,
	}
}
