package web

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

// snapshotQuality is the JPEG quality of resized snapshots.
const snapshotQuality = 85

// resizeJPEG scales a JPEG to width, keeping the aspect ratio. Frames already
// narrower than width are returned unchanged.
func resizeJPEG(data []byte, width int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if img.Bounds().Dx() <= width {
		return data, nil
	}

	thumb := imaging.Resize(img, width, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(snapshotQuality)); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}
