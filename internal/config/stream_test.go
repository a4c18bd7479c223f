package config

import "testing"

func TestStreamURL(t *testing.T) {
	t.Setenv("STREAM_URL", "")
	if got := StreamURL(DefaultStreamURL); got != DefaultStreamURL {
		t.Errorf("StreamURL unset: got %q, want %q", got, DefaultStreamURL)
	}

	t.Setenv("STREAM_URL", "rtsp://10.0.0.9/live")
	if got := StreamURL(DefaultStreamURL); got != "rtsp://10.0.0.9/live" {
		t.Errorf("StreamURL set: got %q, want %q", got, "rtsp://10.0.0.9/live")
	}
}

func TestWebPort(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"", DefaultWebPort},
		{"9090", "9090"},
		{":9191", "9191"},
	}

	for _, tt := range tests {
		t.Setenv("WEB_PORT", tt.env)
		if got := WebPort(DefaultWebPort); got != tt.want {
			t.Errorf("WebPort(%q): got %q, want %q", tt.env, got, tt.want)
		}
	}
}

func TestLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	if got := LogLevel(DefaultLogLevel); got != "debug" {
		t.Errorf("LogLevel: got %q, want %q", got, "debug")
	}

	t.Setenv("LOG_LEVEL", "")
	if got := LogLevel(DefaultLogLevel); got != DefaultLogLevel {
		t.Errorf("LogLevel unset: got %q, want %q", got, DefaultLogLevel)
	}
}

func TestProduction(t *testing.T) {
	t.Setenv("GO_ENV", "production")
	if !Production() {
		t.Error("Production: got false with GO_ENV=production")
	}

	t.Setenv("GO_ENV", "development")
	if Production() {
		t.Error("Production: got true with GO_ENV=development")
	}
}
