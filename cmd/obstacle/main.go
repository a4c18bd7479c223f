// Obstacle detector - flags edge-dense regions in front of a camera
// Reads an MJPEG/RTSP/WebRTC stream and shows an annotated window
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-obstacle/internal/config"
	"github.com/teslashibe/go-obstacle/internal/log"
	"github.com/teslashibe/go-obstacle/pkg/calibration"
	"github.com/teslashibe/go-obstacle/pkg/vision"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(2)
	}

	log.Init(cfg.LogLevel)

	app := New(cfg)
	defer app.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx); err != nil {
		log.Error("obstacle detector stopped", "error", err)
		app.Shutdown()
		os.Exit(1)
	}
}

// parseFlags parses command line flags and returns configuration.
// Flags win over environment variables, which win over defaults.
func parseFlags(args []string) (Config, error) {
	cfg := DefaultConfig()

	fs := flag.NewFlagSet("obstacle", flag.ContinueOnError)
	stream := fs.String("stream", "", "Stream URL, file path or device index (overrides STREAM_URL env var)")
	headless := fs.Bool("headless", false, "Run without a window; stop with Ctrl+C")
	web := fs.String("web", "", "Dashboard port, e.g. 8080 (overrides WEB_PORT env var)")
	mjpeg := fs.String("mjpeg", "", "Serve annotated MJPEG on this address, e.g. :8081")
	preset := fs.String("preset", cfg.Preset, "Calibration preset: "+fmt.Sprint(calibration.PresetNames()))
	blend := fs.Float64("blend", vision.DefaultEdgeBlend, "Edge overlay weight in the window (0 disables)")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL env var)")
	debugFlag := fs.Bool("debug", false, "Enable verbose debug logging")
	debugFrames := fs.Bool("debug-frames", false, "Print metrics for every frame")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	blendSet := false
	fs.Visit(func(f *flag.Flag) { blendSet = blendSet || f.Name == "blend" })

	cfg.Headless, cfg.MJPEGAddr, cfg.Preset = *headless, *mjpeg, *preset
	cfg.Debug, cfg.DebugFrames = *debugFlag, *debugFrames
	if blendSet {
		cfg.Blend = blend
	}

	// Environment variables
	cfg.StreamURL = config.StreamURL(config.DefaultStreamURL)
	if *stream != "" {
		cfg.StreamURL = *stream
	}
	cfg.WebPort = config.WebPort("")
	if *web != "" {
		cfg.WebPort = *web
	}
	cfg.LogLevel = config.LogLevel(config.DefaultLogLevel)
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	return cfg, cfg.Validate()
}
