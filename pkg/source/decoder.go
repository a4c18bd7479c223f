package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// H264 NAL unit types that start a decodable group.
const (
	nalIDR = 5
	nalSPS = 7
)

// minDecodeBytes is the smallest access-unit buffer worth handing to ffmpeg.
const minDecodeBytes = 100

// errNoFrame is returned when ffmpeg produced no image.
var errNoFrame = errors.New("source: decoder produced no frame")

// H264Decoder turns Annex-B H264 into JPEG by piping it through ffmpeg.
type H264Decoder struct {
	// Path is the ffmpeg binary. Defaults to "ffmpeg" on PATH.
	Path string

	// Timeout bounds a single decode.
	Timeout time.Duration

	// Quality is the mjpeg q:v value (1-31, lower is better).
	Quality int
}

// NewH264Decoder returns a decoder with pipe defaults.
func NewH264Decoder() *H264Decoder {
	return &H264Decoder{
		Path:    "ffmpeg",
		Timeout: 500 * time.Millisecond,
		Quality: 3,
	}
}

// Decode feeds annexB to ffmpeg and returns the last frame it produced as
// JPEG. The buffer must start at a keyframe for the output to be useful.
func (d *H264Decoder) Decode(ctx context.Context, annexB []byte) ([]byte, error) {
	if len(annexB) < minDecodeBytes {
		return nil, errNoFrame
	}

	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.Path,
		"-loglevel", "error",
		"-f", "h264",
		"-i", "pipe:0",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", fmt.Sprint(d.Quality),
		"pipe:1",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(annexB)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// ffmpeg exits non-zero on a truncated trailing access unit but still
	// writes every frame before it, so output is checked before the error.
	runErr := cmd.Run()

	frame := lastJPEG(stdout.Bytes())
	if frame == nil {
		if runErr != nil {
			return nil, fmt.Errorf("ffmpeg: %w: %s", runErr, bytes.TrimSpace(stderr.Bytes()))
		}
		return nil, errNoFrame
	}
	return frame, nil
}

// jpegSOI starts every JPEG. Entropy-coded data stuffs 0xFF bytes, so the
// sequence cannot appear inside an image.
var jpegSOI = []byte{0xFF, 0xD8, 0xFF}

// lastJPEG returns the final complete image in a concatenated JPEG stream.
func lastJPEG(data []byte) []byte {
	start := bytes.LastIndex(data, jpegSOI)
	if start < 0 {
		return nil
	}
	frame := data[start:]
	if len(frame) < 4 || frame[len(frame)-2] != 0xFF || frame[len(frame)-1] != 0xD9 {
		return nil
	}
	out := make([]byte, len(frame))
	copy(out, frame)
	return out
}

// nalTypes lists the NAL unit types found in an Annex-B buffer.
func nalTypes(annexB []byte) []byte {
	var types []byte
	for i := 0; i+3 < len(annexB); i++ {
		if annexB[i] != 0 || annexB[i+1] != 0 {
			continue
		}
		switch {
		case annexB[i+2] == 1:
			types = append(types, annexB[i+3]&0x1F)
			i += 3
		case annexB[i+2] == 0 && i+4 < len(annexB) && annexB[i+3] == 1:
			types = append(types, annexB[i+4]&0x1F)
			i += 4
		}
	}
	return types
}

// isKeyframe reports whether an access unit can start a decode.
func isKeyframe(annexB []byte) bool {
	for _, t := range nalTypes(annexB) {
		if t == nalIDR || t == nalSPS {
			return true
		}
	}
	return false
}
