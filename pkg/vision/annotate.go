package vision

import (
	"fmt"
	"image"
	"image/color"

	colorful "github.com/lucasb-eyer/go-colorful"
	"gocv.io/x/gocv"
)

var (
	fallbackROIColor   = color.RGBA{G: 255}
	fallbackTextColor  = color.RGBA{B: 255}
	fallbackAlertColor = color.RGBA{R: 255}
)

// Annotate draws the region outline, the metrics and, when an obstacle was
// detected, the alert text onto frame. It is purely presentational.
func Annotate(frame *gocv.Mat, res Result, style Style) {
	pts := gocv.NewPointsVectorFromPoints([][]image.Point{res.ROI.Points()})
	defer pts.Close()
	gocv.Polylines(frame, pts, true, hexColor(style.ROIColor, fallbackROIColor), style.ROIThickness)

	text := hexColor(style.TextColor, fallbackTextColor)
	gocv.PutText(frame, fmt.Sprintf("Edge Density: %.4f", res.EdgeDensity), style.DensityOrigin,
		gocv.FontHersheySimplex, style.TextScale, text, style.TextThickness)
	gocv.PutText(frame, fmt.Sprintf("Line Count: %d", res.LineCount), style.LinesOrigin,
		gocv.FontHersheySimplex, style.TextScale, text, style.TextThickness)

	if res.Detected {
		gocv.PutText(frame, style.AlertText, style.AlertOrigin,
			gocv.FontHersheySimplex, style.AlertScale, hexColor(style.AlertColor, fallbackAlertColor), style.TextThickness)
	}
}

// BlendEdges mixes the edge map into the frame for display:
// frame*(1-weight) + edges*weight. A zero weight returns a copy of frame.
// The caller owns the returned Mat.
func BlendEdges(frame gocv.Mat, edges gocv.Mat, weight float64) gocv.Mat {
	out := gocv.NewMat()
	if weight <= 0 || edges.Empty() || edges.Rows() != frame.Rows() || edges.Cols() != frame.Cols() {
		frame.CopyTo(&out)
		return out
	}

	colored := gocv.NewMat()
	defer colored.Close()
	gocv.CvtColor(edges, &colored, gocv.ColorGrayToBGR)

	gocv.AddWeighted(frame, 1-weight, colored, weight, 0, &out)
	return out
}

// hexColor parses "#rrggbb" into the RGBA gocv expects.
func hexColor(hex string, fallback color.RGBA) color.RGBA {
	c, err := colorful.Hex(hex)
	if err != nil {
		return fallback
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b}
}
