package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-obstacle/pkg/calibration"
	"github.com/teslashibe/go-obstacle/pkg/vision"
)

func testJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := imaging.New(width, height, color.NRGBA{R: 40, G: 90, B: 160, A: 255})

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

func result(seq uint64, detected bool) vision.Result {
	return vision.Result{
		Seq:      seq,
		Width:    640,
		Height:   480,
		Metrics:  vision.Metrics{EdgeDensity: 0.01 * float64(seq), LineCount: int(seq)},
		Detected: detected,
	}
}

func getJSON(t *testing.T, s *Server, path string, v interface{}) int {
	t.Helper()
	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, path, nil))
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()

	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("GET %s decode: %v", path, err)
		}
	}
	return resp.StatusCode
}

func sendJSON(t *testing.T, s *Server, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.App().Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestStatus_Initial(t *testing.T) {
	s := NewServer("0", calibration.NewManager())
	s.SetRun("run-1", "http://cam/stream")

	var status Status
	if code := getJSON(t, s, "/api/status", &status); code != http.StatusOK {
		t.Fatalf("status code: got %d, want 200", code)
	}

	if status.RunID != "run-1" || status.Source != "http://cam/stream" {
		t.Errorf("run: got %q/%q", status.RunID, status.Source)
	}
	if status.Connected {
		t.Error("Connected before first frame: got true")
	}
	if status.Frames != 0 || status.Last != nil {
		t.Errorf("frames: got %d last=%v, want 0 and nil", status.Frames, status.Last)
	}
	if status.Preset != calibration.PresetDefault {
		t.Errorf("Preset: got %q, want %q", status.Preset, calibration.PresetDefault)
	}
}

func TestPublish_UpdatesStatus(t *testing.T) {
	s := NewServer("0", nil)
	frame := testJPEG(t, 64, 48)

	s.Publish(frame, result(1, false))
	s.Publish(frame, result(2, true))

	status := s.Status()
	if !status.Connected {
		t.Error("Connected: got false")
	}
	if status.Frames != 2 {
		t.Errorf("Frames: got %d, want 2", status.Frames)
	}
	if status.Detections != 1 {
		t.Errorf("Detections: got %d, want 1", status.Detections)
	}
	if status.Last == nil || status.Last.Seq != 2 {
		t.Errorf("Last: got %+v, want seq 2", status.Last)
	}
	if !bytes.Equal(s.Snapshot(), frame) {
		t.Error("Snapshot: does not match last published frame")
	}
}

func TestPublish_Transitions(t *testing.T) {
	s := NewServer("0", nil)
	frame := testJPEG(t, 16, 16)

	sequence := []bool{false, true, true, true, false, false, true}
	for i, detected := range sequence {
		s.Publish(frame, result(uint64(i+1), detected))
	}

	events := s.Events()
	want := []string{EventDetected, EventCleared, EventDetected}
	if len(events) != len(want) {
		t.Fatalf("events: got %d, want %d (%+v)", len(events), len(want), events)
	}
	for i, e := range events {
		if e.Type != want[i] {
			t.Errorf("event %d: got %q, want %q", i, e.Type, want[i])
		}
	}
	if events[0].Seq != 2 {
		t.Errorf("first event seq: got %d, want 2", events[0].Seq)
	}

	var fromAPI []Event
	getJSON(t, s, "/api/events", &fromAPI)
	if len(fromAPI) != 3 {
		t.Errorf("/api/events: got %d entries, want 3", len(fromAPI))
	}
}

func TestEvents_Capped(t *testing.T) {
	s := NewServer("0", nil)

	for i := 0; i < maxEvents+20; i++ {
		s.AddEvent(EventStreamError, "timeout")
	}
	if n := len(s.Events()); n != maxEvents {
		t.Errorf("events: got %d, want %d", n, maxEvents)
	}
}

func TestReportStreamError(t *testing.T) {
	s := NewServer("0", nil)
	s.Publish(testJPEG(t, 16, 16), result(1, false))

	s.ReportStreamError(errors.New("source: frame unavailable"))

	if s.Status().Connected {
		t.Error("Connected after stream error: got true")
	}
	events := s.Events()
	if len(events) != 1 || events[0].Type != EventStreamError {
		t.Errorf("events: got %+v, want one stream_error", events)
	}
}

func TestSnapshot(t *testing.T) {
	s := NewServer("0", nil)

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/api/snapshot", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("before first frame: got %d, want 503", resp.StatusCode)
	}

	s.Publish(testJPEG(t, 320, 240), result(1, false))

	resp, err = s.App().Test(httptest.NewRequest(http.MethodGet, "/api/snapshot?width=80", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("snapshot: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type: got %q, want image/jpeg", ct)
	}

	img, err := imaging.Decode(resp.Body)
	if err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if img.Bounds().Dx() != 80 || img.Bounds().Dy() != 60 {
		t.Errorf("snapshot size: got %v, want 80x60", img.Bounds().Size())
	}
}

func TestResizeJPEG_NoUpscale(t *testing.T) {
	frame := testJPEG(t, 64, 48)

	out, err := resizeJPEG(frame, 200)
	if err != nil {
		t.Fatalf("resizeJPEG: %v", err)
	}
	if !bytes.Equal(out, frame) {
		t.Error("resizeJPEG upscaled a narrower frame")
	}

	if _, err := resizeJPEG([]byte("not a jpeg"), 10); err == nil {
		t.Error("resizeJPEG on garbage: got nil error")
	}
}

func TestConfigAPI(t *testing.T) {
	cal := calibration.NewManager()
	applied := 0
	cal.OnConfigChange = func(vision.Config) error {
		applied++
		return nil
	}
	s := NewServer("0", cal)

	var cfg map[string]interface{}
	if code := getJSON(t, s, "/api/config", &cfg); code != http.StatusOK {
		t.Fatalf("GET /api/config: got %d", code)
	}
	if cfg["line_threshold"] != float64(vision.DefaultLineThreshold) {
		t.Errorf("line_threshold: got %v, want %d", cfg["line_threshold"], vision.DefaultLineThreshold)
	}

	code, out := sendJSON(t, s, http.MethodPut, "/api/config", `{"line_threshold": 20, "density_threshold": 0.008}`)
	if code != http.StatusOK {
		t.Fatalf("PUT /api/config: got %d (%v)", code, out)
	}
	if got := cal.GetConfig().Thresholds; got.LineCount != 20 || got.EdgeDensity != 0.008 {
		t.Errorf("thresholds: got %+v", got)
	}
	if applied != 1 {
		t.Errorf("OnConfigChange: got %d calls, want 1", applied)
	}

	code, out = sendJSON(t, s, http.MethodPut, "/api/config", `{"blur_kernel": 4}`)
	if code != http.StatusBadRequest {
		t.Errorf("PUT invalid: got %d, want 400", code)
	}
	if _, ok := out["problems"]; !ok {
		t.Errorf("PUT invalid: response missing problems: %v", out)
	}

	code, out = sendJSON(t, s, http.MethodPut, "/api/config", `{"density_treshold": 0.5}`)
	if code != http.StatusBadRequest {
		t.Errorf("PUT misspelled key: got %d, want 400", code)
	}
	if problems, _ := out["problems"].([]interface{}); len(problems) != 1 {
		t.Errorf("PUT misspelled key: problems %v, want one", out["problems"])
	}
	if cal.Preset() != "custom" || cal.GetConfig().Thresholds.EdgeDensity != 0.008 {
		t.Errorf("misspelled key changed calibration: preset=%q %+v", cal.Preset(), cal.GetConfig().Thresholds)
	}

	code, _ = sendJSON(t, s, http.MethodPut, "/api/config", `{not json`)
	if code != http.StatusBadRequest {
		t.Errorf("PUT malformed: got %d, want 400", code)
	}

	events := s.Events()
	if len(events) != 1 || events[0].Type != EventConfigChanged {
		t.Errorf("events: got %+v, want one config_changed", events)
	}
}

func TestPresetsAPI(t *testing.T) {
	cal := calibration.NewManager()
	s := NewServer("0", cal)

	var list struct {
		Presets []string `json:"presets"`
		Current string   `json:"current"`
	}
	getJSON(t, s, "/api/presets", &list)
	if len(list.Presets) != len(calibration.PresetNames()) {
		t.Errorf("presets: got %v", list.Presets)
	}
	if list.Current != calibration.PresetDefault {
		t.Errorf("current: got %q, want %q", list.Current, calibration.PresetDefault)
	}

	code, out := sendJSON(t, s, http.MethodPost, "/api/presets/"+calibration.PresetWide, "")
	if code != http.StatusOK {
		t.Fatalf("POST preset: got %d (%v)", code, out)
	}
	if cal.Preset() != calibration.PresetWide {
		t.Errorf("Preset: got %q, want %q", cal.Preset(), calibration.PresetWide)
	}

	code, _ = sendJSON(t, s, http.MethodPost, "/api/presets/turbo", "")
	if code != http.StatusNotFound {
		t.Errorf("POST unknown preset: got %d, want 404", code)
	}
}

func TestConfigAPI_NoCalibration(t *testing.T) {
	s := NewServer("0", nil)

	if code := getJSON(t, s, "/api/config", nil); code != http.StatusServiceUnavailable {
		t.Errorf("GET /api/config: got %d, want 503", code)
	}
	if code, _ := sendJSON(t, s, http.MethodPost, "/api/presets/wide", ""); code != http.StatusServiceUnavailable {
		t.Errorf("POST preset: got %d, want 503", code)
	}
}

func TestWebSocket_RequiresUpgrade(t *testing.T) {
	s := NewServer("0", nil)

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/ws/status", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Errorf("plain GET /ws/status: got %d, want 426", resp.StatusCode)
	}
}

func TestWebSocket_Feeds(t *testing.T) {
	s := NewServer("18091", calibration.NewManager())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.Start(ctx)
	time.Sleep(100 * time.Millisecond)

	status, _, err := websocket.DefaultDialer.Dial("ws://localhost:18091/ws/status", nil)
	if err != nil {
		t.Fatalf("dial /ws/status: %v", err)
	}
	defer status.Close()

	frames, _, err := websocket.DefaultDialer.Dial("ws://localhost:18091/ws/frames", nil)
	if err != nil {
		t.Fatalf("dial /ws/frames: %v", err)
	}
	defer frames.Close()

	// Initial status on connect
	var initial Status
	status.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := status.ReadJSON(&initial); err != nil {
		t.Fatalf("read initial status: %v", err)
	}
	if initial.Frames != 0 {
		t.Errorf("initial Frames: got %d, want 0", initial.Frames)
	}

	time.Sleep(50 * time.Millisecond)

	jpeg := testJPEG(t, 32, 32)
	s.Publish(jpeg, result(1, true))

	var update Status
	if err := status.ReadJSON(&update); err != nil {
		t.Fatalf("read status update: %v", err)
	}
	if update.Last == nil || !update.Last.Detected || update.Frames != 1 {
		t.Errorf("status update: got %+v", update)
	}

	frames.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := frames.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Errorf("frame message type: got %d, want binary", msgType)
	}
	if !bytes.Equal(data, jpeg) {
		t.Error("frame payload does not match published JPEG")
	}

	// Late joiners get the event history first
	events, _, err := websocket.DefaultDialer.Dial("ws://localhost:18091/ws/events", nil)
	if err != nil {
		t.Fatalf("dial /ws/events: %v", err)
	}
	defer events.Close()

	var e Event
	events.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := events.ReadJSON(&e); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if e.Type != EventDetected {
		t.Errorf("event: got %q, want %q", e.Type, EventDetected)
	}
}

func TestMJPEG_Stream(t *testing.T) {
	m := NewMJPEG(":0")
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)

	type reply struct {
		resp *http.Response
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		resp, err := http.DefaultClient.Do(req)
		done <- reply{resp, err}
	}()

	// Viewers skip frames while busy, so keep publishing until headers arrive
	jpeg := testJPEG(t, 32, 32)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case r := <-done:
			if r.err != nil {
				t.Fatalf("GET stream: %v", r.err)
			}
			defer r.resp.Body.Close()

			if ct := r.resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
				t.Errorf("Content-Type: got %q, want multipart/x-mixed-replace", ct)
			}

			head := make([]byte, 64)
			if _, err := io.ReadAtLeast(r.resp.Body, head, 16); err != nil {
				t.Errorf("read first part: %v", err)
			}
			return
		case <-ticker.C:
			m.Publish(jpeg, vision.Result{})
		case <-ctx.Done():
			t.Fatal("timed out waiting for mjpeg stream")
		}
	}
}
