// Package web provides the live detection dashboard: a JSON API for status,
// calibration and events, and websocket feeds of results and frames.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-obstacle/internal/log"
	"github.com/teslashibe/go-obstacle/pkg/calibration"
	"github.com/teslashibe/go-obstacle/pkg/hub"
	"github.com/teslashibe/go-obstacle/pkg/vision"
)

// maxEvents is how many events the server keeps for /api/events.
const maxEvents = 500

// Event types recorded by the server.
const (
	EventDetected      = "obstacle_detected"
	EventCleared       = "obstacle_cleared"
	EventStreamError   = "stream_error"
	EventConfigChanged = "config_changed"
)

// Status is the dashboard's view of the running detector.
type Status struct {
	RunID      string         `json:"run_id"`
	Source     string         `json:"source"`
	Connected  bool           `json:"connected"`
	Frames     uint64         `json:"frames"`
	Detections uint64         `json:"detections"`
	FPS        float64        `json:"fps"`
	Preset     string         `json:"preset,omitempty"`
	Clients    int            `json:"clients"`
	Last       *vision.Result `json:"last,omitempty"`
}

// Event is a detection transition or an operational notice.
type Event struct {
	Time        time.Time `json:"time"`
	Type        string    `json:"type"`
	Message     string    `json:"message"`
	Seq         uint64    `json:"seq,omitempty"`
	EdgeDensity float64   `json:"edge_density,omitempty"`
	LineCount   int       `json:"line_count,omitempty"`
}

// Server is the web dashboard server
type Server struct {
	app  *fiber.App
	port string
	log  *slog.Logger

	calibration *calibration.Manager

	// State
	status    Status
	lastFrame time.Time
	stateMu   sync.RWMutex

	// Latest annotated JPEG for /api/snapshot
	snapshot   []byte
	snapshotMu sync.RWMutex

	// Event buffer (last 500 entries)
	events   []Event
	eventsMu sync.RWMutex

	// Hubs for websocket broadcast
	statusHub *hub.Hub
	eventHub  *hub.Hub
	frameHub  *hub.Hub
}

// NewServer creates a new web dashboard server. cal may be nil, in which
// case the calibration routes answer 503.
func NewServer(port string, cal *calibration.Manager) *Server {
	s := &Server{
		port:        port,
		log:         log.With("component", "web"),
		calibration: cal,
		events:      make([]Event, 0, maxEvents),
		statusHub:   hub.New("status"),
		eventHub:    hub.New("events"),
		frameHub:    hub.New("frames", hub.WithClientBuffer(4), hub.WithSkipSlow()),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Obstacle Dashboard",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/config", s.handleGetConfig)
	api.Put("/config", s.handleUpdateConfig)
	api.Get("/presets", s.handleListPresets)
	api.Post("/presets/:name", s.handleApplyPreset)
	api.Get("/events", s.handleGetEvents)
	api.Get("/snapshot", s.handleSnapshot)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// WebSocket routes
	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/events", websocket.New(s.handleEventsWS))
	app.Get("/ws/frames", websocket.New(s.handleFramesWS))

	s.app = app
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start runs the hubs and serves until Shutdown or ctx cancellation.
func (s *Server) Start(ctx context.Context) error {
	s.log.Info("web dashboard listening", "url", fmt.Sprintf("http://localhost:%s", s.port))

	go s.statusHub.Run(ctx)
	go s.eventHub.Run(ctx)
	go s.frameHub.Run(ctx)

	go func() {
		<-ctx.Done()
		s.app.Shutdown()
	}()

	return s.app.Listen(":" + s.port)
}

// StartAsync starts the web server in a goroutine
func (s *Server) StartAsync(ctx context.Context) {
	go func() {
		if err := s.Start(ctx); err != nil {
			s.log.Error("web server stopped", "error", err)
		}
	}()
}

// SetRun records which run and source the dashboard is reporting on.
func (s *Server) SetRun(runID, source string) {
	s.stateMu.Lock()
	s.status.RunID = runID
	s.status.Source = source
	s.stateMu.Unlock()
}

// Publish records a processed frame. It implements pipeline.Publisher and
// never blocks: websocket fan-out drops what slow clients cannot take.
func (s *Server) Publish(jpeg []byte, res vision.Result) {
	now := time.Now()

	s.stateMu.Lock()
	prev := s.status.Last
	if !s.lastFrame.IsZero() {
		if dt := now.Sub(s.lastFrame).Seconds(); dt > 0 {
			s.status.FPS = smoothFPS(s.status.FPS, 1/dt)
		}
	}
	s.lastFrame = now
	s.status.Connected = true
	s.status.Frames++
	if res.Detected {
		s.status.Detections++
	}
	last := res
	s.status.Last = &last
	status := s.statusLocked()
	s.stateMu.Unlock()

	s.snapshotMu.Lock()
	s.snapshot = jpeg
	s.snapshotMu.Unlock()

	if err := s.statusHub.BroadcastJSON(status); err != nil {
		s.log.Warn("status encode failed", "error", err)
	}
	s.frameHub.BroadcastBinary(jpeg)

	switch {
	case res.Detected && (prev == nil || !prev.Detected):
		s.addEvent(Event{Type: EventDetected, Message: "obstacle detected"}, res)
	case !res.Detected && prev != nil && prev.Detected:
		s.addEvent(Event{Type: EventCleared, Message: "path clear"}, res)
	}
}

// ReportStreamError marks the source as disconnected and records the error.
func (s *Server) ReportStreamError(err error) {
	s.stateMu.Lock()
	s.status.Connected = false
	s.stateMu.Unlock()

	s.AddEvent(EventStreamError, err.Error())
}

// AddEvent records an event and broadcasts it to /ws/events clients.
func (s *Server) AddEvent(eventType, message string) {
	s.addEvent(Event{Type: eventType, Message: message}, vision.Result{})
}

func (s *Server) addEvent(e Event, res vision.Result) {
	e.Time = time.Now()
	if res.Seq != 0 {
		e.Seq = res.Seq
		e.EdgeDensity = res.EdgeDensity
		e.LineCount = res.LineCount
	}

	s.eventsMu.Lock()
	s.events = append(s.events, e)
	if len(s.events) > maxEvents {
		s.events = s.events[1:]
	}
	s.eventsMu.Unlock()

	s.log.Info("event", "type", e.Type, "message", e.Message, "seq", e.Seq)
	if err := s.eventHub.BroadcastJSON(e); err != nil {
		s.log.Warn("event encode failed", "error", err)
	}
}

// Status returns the current dashboard status.
func (s *Server) Status() Status {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.statusLocked()
}

func (s *Server) statusLocked() Status {
	status := s.status
	if s.calibration != nil {
		status.Preset = s.calibration.Preset()
	}
	status.Clients = s.statusHub.ClientCount() + s.frameHub.ClientCount() + s.eventHub.ClientCount()
	return status
}

// Events returns a copy of the recorded events, oldest first.
func (s *Server) Events() []Event {
	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Snapshot returns the latest published JPEG, or nil before the first frame.
func (s *Server) Snapshot() []byte {
	s.snapshotMu.RLock()
	defer s.snapshotMu.RUnlock()
	return s.snapshot
}

// Shutdown gracefully stops the web server
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// smoothFPS is an exponential moving average over instantaneous rates.
func smoothFPS(prev, instant float64) float64 {
	if prev == 0 {
		return instant
	}
	return 0.9*prev + 0.1*instant
}
