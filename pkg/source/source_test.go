package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"gocv.io/x/gocv"
)

func TestScheme(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"http://192.168.1.55/stream", "http"},
		{"HTTPS://cam.local/video", "https"},
		{"rtsp://10.0.0.2:554/live", "rtsp"},
		{"webrtc://reachy.local:8443?producer=cam", "webrtc"},
		{"/tmp/clip.mp4", ""},
		{"0", ""},
	}

	for _, tt := range tests {
		if got := Scheme(tt.url); got != tt.want {
			t.Errorf("Scheme(%q): got %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestOpen_UnsupportedScheme(t *testing.T) {
	_, err := Open(context.Background(), "ftp://example.com/feed")
	if !errors.Is(err, ErrUnsupportedScheme) {
		t.Errorf("Open ftp: got %v, want ErrUnsupportedScheme", err)
	}
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(context.Background(), "/nonexistent/obstacle/clip.mp4")
	if !errors.Is(err, ErrOpenFailed) {
		t.Errorf("Open missing file: got %v, want ErrOpenFailed", err)
	}
}

func TestOpen_HTTPProbeFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := Open(context.Background(), srv.URL+"/stream")
	if !errors.Is(err, ErrProbeFailed) {
		t.Errorf("Open unreachable stream: got %v, want ErrProbeFailed", err)
	}
}

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stream" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx := context.Background()

	if err := Probe(ctx, srv.URL+"/stream"); err != nil {
		t.Errorf("Probe /stream: got %v, want nil", err)
	}

	if err := Probe(ctx, srv.URL+"/missing"); !errors.Is(err, ErrProbeFailed) {
		t.Errorf("Probe /missing: got %v, want ErrProbeFailed", err)
	}

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	if err := Probe(ctx, closedURL); !errors.Is(err, ErrProbeFailed) {
		t.Errorf("Probe closed server: got %v, want ErrProbeFailed", err)
	}
}

func TestMock_Frames(t *testing.T) {
	frame := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()

	src := NewMock(frame, frame)
	dst := gocv.NewMat()
	defer dst.Close()

	for i := 0; i < 2; i++ {
		if !src.Read(&dst) {
			t.Fatalf("Read %d: got false, want true", i)
		}
		if dst.Rows() != 48 || dst.Cols() != 64 {
			t.Errorf("Read %d: got %dx%d, want 64x48", i, dst.Cols(), dst.Rows())
		}
	}

	if src.Read(&dst) {
		t.Error("Read past end: got true, want false")
	}
	if src.Reads() != 3 {
		t.Errorf("Reads: got %d, want 3", src.Reads())
	}

	src.Close()
	src.Close()
	if src.Closes() != 2 {
		t.Errorf("Closes: got %d, want 2", src.Closes())
	}
}

func TestFailingMock(t *testing.T) {
	src := NewFailingMock()
	dst := gocv.NewMat()
	defer dst.Close()

	if src.Read(&dst) {
		t.Error("Read: got true, want false")
	}
	if !dst.Empty() {
		t.Error("dst should stay empty after a failed read")
	}
	if src.Name() != "failing" {
		t.Errorf("Name: got %q, want %q", src.Name(), "failing")
	}
}

func TestParseWebRTCURL(t *testing.T) {
	tests := []struct {
		url        string
		signalling string
		producer   string
		wantErr    error
	}{
		{"webrtc://reachy.local", "ws://reachy.local:8443", "", nil},
		{"webrtc://10.0.0.5:9000?producer=front", "ws://10.0.0.5:9000", "front", nil},
		{"webrtc://", "", "", ErrOpenFailed},
		{"http://10.0.0.5", "", "", ErrUnsupportedScheme},
	}

	for _, tt := range tests {
		signalling, producer, err := ParseWebRTCURL(tt.url)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseWebRTCURL(%q): got %v, want %v", tt.url, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseWebRTCURL(%q): unexpected error %v", tt.url, err)
			continue
		}
		if signalling != tt.signalling {
			t.Errorf("ParseWebRTCURL(%q) signalling: got %q, want %q", tt.url, signalling, tt.signalling)
		}
		if producer != tt.producer {
			t.Errorf("ParseWebRTCURL(%q) producer: got %q, want %q", tt.url, producer, tt.producer)
		}
	}
}

// fakeSignaller answers welcome and list like a webrtcsink signalling server.
func fakeSignaller(t *testing.T, producers []map[string]interface{}) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteJSON(map[string]string{"type": "welcome", "peerId": "consumer-1"})

		for {
			var msg map[string]interface{}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg["type"] == "list" {
				conn.WriteJSON(map[string]interface{}{"type": "list", "producers": producers})
			}
		}
	}))
}

func TestDialWebRTC_NoProducer(t *testing.T) {
	srv := fakeSignaller(t, []map[string]interface{}{
		{"id": "p-1", "meta": map[string]string{"name": "rear"}},
	})
	defer srv.Close()

	url := "webrtc://" + strings.TrimPrefix(srv.URL, "http://") + "?producer=front"

	opts := DefaultWebRTCOptions()
	opts.HandshakeTimeout = 2 * time.Second

	_, err := DialWebRTC(context.Background(), url, opts)
	if !errors.Is(err, ErrNoProducer) {
		t.Errorf("DialWebRTC: got %v, want ErrNoProducer", err)
	}
	if !errors.Is(err, ErrOpenFailed) {
		t.Errorf("DialWebRTC: got %v, want ErrOpenFailed", err)
	}
}

func TestDialWebRTC_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "webrtc://" + strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	opts := DefaultWebRTCOptions()
	opts.HandshakeTimeout = time.Second

	if _, err := DialWebRTC(context.Background(), url, opts); !errors.Is(err, ErrOpenFailed) {
		t.Errorf("DialWebRTC: got %v, want ErrOpenFailed", err)
	}
}
