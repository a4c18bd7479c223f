package vision

import (
	"image"

	"gocv.io/x/gocv"
)

// ToGray converts a BGR frame to a single-channel intensity image.
// Single-channel input is copied as-is.
func ToGray(src gocv.Mat, dst *gocv.Mat) {
	if src.Channels() == 1 {
		src.CopyTo(dst)
		return
	}
	gocv.CvtColor(src, dst, gocv.ColorBGRToGray)
}

// Blur suppresses sensor noise before edge detection.
func Blur(src gocv.Mat, dst *gocv.Mat, cfg EdgeConfig) {
	k := cfg.BlurKernel
	gocv.GaussianBlur(src, dst, image.Pt(k, k), cfg.BlurSigma, cfg.BlurSigma, gocv.BorderDefault)
}

// DetectEdges runs Canny with two-threshold hysteresis: gradients above
// CannyHigh are edges, below CannyLow are dropped, and anything between is
// kept only when connected to a strong edge.
func DetectEdges(src gocv.Mat, dst *gocv.Mat, cfg EdgeConfig) {
	gocv.Canny(src, dst, float32(cfg.CannyLow), float32(cfg.CannyHigh))
}

// ExtractEdges turns a color frame into a binary edge map of the same size.
// The caller owns the returned Mat.
func ExtractEdges(frame gocv.Mat, cfg EdgeConfig) gocv.Mat {
	gray := gocv.NewMat()
	defer gray.Close()
	ToGray(frame, &gray)

	blurred := gocv.NewMat()
	defer blurred.Close()
	Blur(gray, &blurred, cfg)

	edges := gocv.NewMat()
	DetectEdges(blurred, &edges, cfg)
	return edges
}
