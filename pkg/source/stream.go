package source

import (
	"fmt"
	"strconv"
	"sync"

	"gocv.io/x/gocv"
)

// Stream reads frames through OpenCV's VideoCapture.
type Stream struct {
	url     string
	capture *gocv.VideoCapture

	mu     sync.Mutex
	closed bool
}

// OpenStream opens a capture on a URL, a file path or a numeric device index.
func OpenStream(url string) (*Stream, error) {
	var device interface{} = url
	if idx, err := strconv.Atoi(url); err == nil {
		device = idx
	}

	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpenFailed, url, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w: %s", ErrOpenFailed, url)
	}

	return &Stream{
		url:     url,
		capture: capture,
	}, nil
}

// Read grabs the next frame. An empty frame counts as unavailable.
func (s *Stream) Read(dst *gocv.Mat) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if ok := s.capture.Read(dst); !ok {
		return false
	}
	return !dst.Empty()
}

// Close releases the capture.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.capture.Close()
}

// Name returns the stream URL.
func (s *Stream) Name() string {
	return s.url
}
