// Package source provides the frame sources the detector reads from:
// OpenCV captures (MJPEG over HTTP, RTSP, files, local devices) and
// GStreamer WebRTC producers.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"gocv.io/x/gocv"
)

// Sentinel errors for common conditions.
var (
	// ErrFrameUnavailable is reported when a source yields no frame.
	ErrFrameUnavailable = errors.New("source: frame unavailable")

	// ErrOpenFailed is returned when a stream cannot be opened.
	ErrOpenFailed = errors.New("source: open failed")

	// ErrUnsupportedScheme is returned for URL schemes no source handles.
	ErrUnsupportedScheme = errors.New("source: unsupported scheme")

	// ErrProbeFailed is returned when an HTTP stream is unreachable.
	ErrProbeFailed = errors.New("source: probe failed")

	// ErrNoProducer is returned when the WebRTC signaller lists no matching producer.
	ErrNoProducer = errors.New("source: producer not found")
)

// Source yields frames one at a time.
type Source interface {
	// Read blocks until the next frame is written into dst. It returns
	// false when no frame is available: end of stream, a read failure or
	// an empty frame. A false read is final.
	Read(dst *gocv.Mat) bool

	// Close releases the underlying connection. It is safe to call more than once.
	Close() error

	// Name identifies the source in logs.
	Name() string
}

// captureSchemes are the URL schemes handed to OpenCV directly.
var captureSchemes = map[string]bool{
	"":      true, // file path or device index
	"file":  true,
	"http":  true,
	"https": true,
	"rtsp":  true,
	"rtsps": true,
	"rtmp":  true,
	"udp":   true,
	"tcp":   true,
}

// Open connects to the stream at rawURL, choosing the implementation by
// scheme. HTTP streams are probed first so an unreachable camera fails with
// a clear error instead of a silent first read.
func Open(ctx context.Context, rawURL string) (Source, error) {
	scheme := Scheme(rawURL)

	switch {
	case scheme == "webrtc":
		w, err := DialWebRTC(ctx, rawURL, DefaultWebRTCOptions())
		if err != nil {
			return nil, err
		}
		return w, nil
	case scheme == "http" || scheme == "https":
		if err := Probe(ctx, rawURL); err != nil {
			return nil, err
		}
	case !captureSchemes[scheme]:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}

	s, err := OpenStream(rawURL)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Scheme returns the lower-case URL scheme of rawURL, or "" for plain paths
// and device indexes.
func Scheme(rawURL string) string {
	if !strings.Contains(rawURL, "://") {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}
