package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hybridgroup/mjpeg"

	"github.com/teslashibe/go-obstacle/internal/log"
	"github.com/teslashibe/go-obstacle/pkg/vision"
)

// MJPEG re-streams annotated frames as multipart/x-mixed-replace on its own
// net/http listener. fasthttp buffers whole responses, so the endless stream
// cannot share the fiber app.
type MJPEG struct {
	addr   string
	stream *mjpeg.Stream
	server *http.Server
	log    *slog.Logger
}

// NewMJPEG creates a stream served at / on addr (for example ":8081").
func NewMJPEG(addr string) *MJPEG {
	stream := mjpeg.NewStream()

	mux := http.NewServeMux()
	mux.Handle("/", stream)

	return &MJPEG{
		addr:   addr,
		stream: stream,
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log.With("component", "mjpeg", "addr", addr),
	}
}

// Handler returns the multipart stream handler.
func (m *MJPEG) Handler() http.Handler {
	return m.stream
}

// Publish pushes a frame to every connected viewer. Viewers that are still
// sending the previous frame skip this one.
func (m *MJPEG) Publish(jpeg []byte, _ vision.Result) {
	m.stream.UpdateJPEG(jpeg)
}

// Start serves until Shutdown.
func (m *MJPEG) Start() error {
	m.log.Info("mjpeg stream listening")
	if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartAsync starts the stream server in a goroutine
func (m *MJPEG) StartAsync() {
	go func() {
		if err := m.Start(); err != nil {
			m.log.Error("mjpeg server stopped", "error", err)
		}
	}()
}

// Shutdown stops the listener. Open streams never go idle, so they are
// closed once ctx expires.
func (m *MJPEG) Shutdown(ctx context.Context) error {
	if err := m.server.Shutdown(ctx); err != nil {
		return m.server.Close()
	}
	return nil
}
