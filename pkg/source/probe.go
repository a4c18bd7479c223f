package source

import (
	"context"
	"fmt"
	"net/http"

	"github.com/teslashibe/go-obstacle/internal/httpc"
)

// Probe checks that an HTTP stream answers with 200 before OpenCV opens it.
// Only the response headers are read; MJPEG bodies never end.
func Probe(ctx context.Context, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}

	resp, err := httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrProbeFailed, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %d", ErrProbeFailed, rawURL, resp.StatusCode)
	}
	return nil
}
