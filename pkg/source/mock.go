package source

import (
	"sync"

	"gocv.io/x/gocv"
)

// Mock implements Source for testing.
// All methods can be customized via function fields.
type Mock struct {
	// ReadFunc is called when Read is invoked.
	// If nil, Read reports no frame.
	ReadFunc func(dst *gocv.Mat) bool

	// CloseFunc is called when Close is invoked.
	// If nil, returns nil.
	CloseFunc func() error

	// MockName is returned by Name. Defaults to "mock".
	MockName string

	mu     sync.Mutex
	reads  int
	closes int
}

// NewMock returns a source that yields copies of frames in order and then
// reports the stream as ended.
func NewMock(frames ...gocv.Mat) *Mock {
	m := &Mock{MockName: "mock"}
	next := 0
	m.ReadFunc = func(dst *gocv.Mat) bool {
		if next >= len(frames) {
			return false
		}
		frames[next].CopyTo(dst)
		next++
		return true
	}
	return m
}

// NewFailingMock returns a source whose first read fails.
func NewFailingMock() *Mock {
	return &Mock{MockName: "failing"}
}

// Read calls ReadFunc and records the call.
func (m *Mock) Read(dst *gocv.Mat) bool {
	m.mu.Lock()
	m.reads++
	fn := m.ReadFunc
	m.mu.Unlock()

	if fn == nil {
		return false
	}
	return fn(dst)
}

// Close calls CloseFunc and records the call.
func (m *Mock) Close() error {
	m.mu.Lock()
	m.closes++
	fn := m.CloseFunc
	m.mu.Unlock()

	if fn != nil {
		return fn()
	}
	return nil
}

// Name returns MockName.
func (m *Mock) Name() string {
	if m.MockName == "" {
		return "mock"
	}
	return m.MockName
}

// Reads returns how many times Read was called.
func (m *Mock) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// Closes returns how many times Close was called.
func (m *Mock) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}
