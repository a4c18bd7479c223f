package display

import (
	"sync"

	"gocv.io/x/gocv"
)

// Mock implements Display for testing.
// Keys are returned in order, one per PollKey call, then NoKey.
type Mock struct {
	// ShowFunc is called when Show is invoked.
	ShowFunc func(frame gocv.Mat)

	// CloseFunc is called when Close is invoked.
	// If nil, returns nil.
	CloseFunc func() error

	mu     sync.Mutex
	keys   []int
	shows  int
	polls  int
	closes int
}

// NewMock returns a display that yields keys in order.
func NewMock(keys ...int) *Mock {
	return &Mock{keys: keys}
}

// Press queues a key for a later PollKey.
func (m *Mock) Press(key int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, key)
}

// Show records the call.
func (m *Mock) Show(frame gocv.Mat) {
	m.mu.Lock()
	m.shows++
	fn := m.ShowFunc
	m.mu.Unlock()

	if fn != nil {
		fn(frame)
	}
}

// PollKey pops the next queued key.
func (m *Mock) PollKey(int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.polls++
	if len(m.keys) == 0 {
		return NoKey
	}
	key := m.keys[0]
	m.keys = m.keys[1:]
	return key
}

// Close records the call.
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

// Shows returns how many frames were shown.
func (m *Mock) Shows() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shows
}

// Polls returns how many times PollKey was called.
func (m *Mock) Polls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.polls
}

// Closes returns how many times Close was called.
func (m *Mock) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}
