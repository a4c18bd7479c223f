package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-obstacle/internal/log"
	"github.com/teslashibe/go-obstacle/pkg/calibration"
	"github.com/teslashibe/go-obstacle/pkg/debug"
	"github.com/teslashibe/go-obstacle/pkg/display"
	"github.com/teslashibe/go-obstacle/pkg/pipeline"
	"github.com/teslashibe/go-obstacle/pkg/source"
	"github.com/teslashibe/go-obstacle/pkg/vision"
	"github.com/teslashibe/go-obstacle/pkg/web"
)

// openTimeout bounds probing and connecting to the stream.
const openTimeout = 15 * time.Second

// Config holds the command's resolved settings.
type Config struct {
	StreamURL   string
	Headless    bool
	WebPort     string   // empty disables the dashboard
	MJPEGAddr   string   // empty disables the MJPEG re-stream
	Preset      string
	Blend       *float64 // nil keeps the preset's edge blend
	LogLevel    string
	Debug       bool
	DebugFrames bool
}

// DefaultConfig returns the settings used when no flags or env vars are set.
func DefaultConfig() Config {
	return Config{
		Preset:   calibration.PresetDefault,
		LogLevel: "info",
	}
}

// Validate checks settings that would otherwise fail after the stream opens.
func (c Config) Validate() error {
	if c.StreamURL == "" {
		return errors.New("stream URL is required")
	}
	if calibration.GetPreset(c.Preset) == nil {
		return fmt.Errorf("%w: %s", calibration.ErrUnknownPreset, c.Preset)
	}
	if c.Blend != nil && (*c.Blend < 0 || *c.Blend > 1) {
		return fmt.Errorf("blend must be between 0 and 1, got %v", *c.Blend)
	}
	if _, ok := log.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return nil
}

// App wires a stream, the detector and the optional outer surfaces.
type App struct {
	cfg Config
	log *slog.Logger

	calibration *calibration.Manager
	detector    *vision.Detector
	dashboard   *web.Server
	mjpeg       *web.MJPEG

	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// New creates the app. Nothing is opened until Run.
func New(cfg Config) *App {
	return &App{
		cfg: cfg,
		log: log.With("component", "app"),
	}
}

// Run opens the stream and processes frames until ctx is cancelled, the
// quit key is pressed, or the stream fails.
func (a *App) Run(ctx context.Context) error {
	debug.Enabled = a.cfg.Debug
	debug.Frames = a.cfg.DebugFrames

	ctx, a.cancel = context.WithCancel(ctx)

	if err := a.initDetector(); err != nil {
		return err
	}
	a.startSurfaces(ctx)

	openCtx, cancelOpen := context.WithTimeout(ctx, openTimeout)
	src, err := source.Open(openCtx, a.cfg.StreamURL)
	cancelOpen()
	if err != nil {
		a.reportStreamError(err)
		return fmt.Errorf("open stream: %w", err)
	}
	a.log.Info("stream opened", "source", src.Name())

	var disp display.Display
	if a.cfg.Headless {
		disp = display.NewHeadless()
	} else {
		disp = display.NewWindow(display.WindowTitle)
	}

	opts := pipeline.DefaultOptions()
	var publishers pipeline.Publishers
	if a.dashboard != nil {
		publishers = append(publishers, a.dashboard)
	}
	if a.mjpeg != nil {
		publishers = append(publishers, a.mjpeg)
	}
	if len(publishers) > 0 {
		opts.Publisher = publishers
	}

	runner := pipeline.NewRunner(src, disp, a.detector, opts)
	if a.dashboard != nil {
		a.dashboard.SetRun(runner.RunID(), src.Name())
	}

	err = runner.Run(ctx)

	stats := runner.Stats()
	a.log.Info("run finished",
		"run_id", stats.RunID,
		"frames", stats.Frames,
		"detections", stats.Detections,
		"uptime", stats.Uptime.Round(time.Millisecond),
	)

	if err != nil {
		a.reportStreamError(err)
		return err
	}
	return nil
}

func (a *App) initDetector() error {
	a.calibration = calibration.NewManager()
	if err := a.calibration.ApplyPreset(a.cfg.Preset); err != nil {
		return err
	}
	if a.cfg.Blend != nil {
		if err := a.calibration.UpdateConfig(map[string]interface{}{"edge_blend": *a.cfg.Blend}); err != nil {
			return err
		}
	}

	a.detector = vision.NewDetector(a.calibration.GetConfig())
	a.calibration.OnConfigChange = a.detector.SetConfig

	cfg := a.calibration.GetConfig()
	a.log.Info("detector ready",
		"preset", a.calibration.Preset(),
		"density_threshold", cfg.Thresholds.EdgeDensity,
		"line_threshold", cfg.Thresholds.LineCount,
		"edge_blend", cfg.EdgeBlend,
	)
	return nil
}

func (a *App) startSurfaces(ctx context.Context) {
	if a.cfg.WebPort != "" {
		a.dashboard = web.NewServer(a.cfg.WebPort, a.calibration)
		a.dashboard.StartAsync(ctx)
	}
	if a.cfg.MJPEGAddr != "" {
		a.mjpeg = web.NewMJPEG(a.cfg.MJPEGAddr)
		a.mjpeg.StartAsync()
	}
}

func (a *App) reportStreamError(err error) {
	if a.dashboard != nil {
		a.dashboard.ReportStreamError(err)
	}
}

// Shutdown stops the outer surfaces and releases the detector. Safe to call
// more than once.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
		if a.mjpeg != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := a.mjpeg.Shutdown(ctx); err != nil {
				a.log.Warn("mjpeg shutdown failed", "error", err)
			}
			cancel()
		}
		if a.dashboard != nil {
			if err := a.dashboard.Shutdown(); err != nil {
				a.log.Warn("dashboard shutdown failed", "error", err)
			}
		}
		if a.detector != nil {
			a.detector.Close()
		}
	})
}
