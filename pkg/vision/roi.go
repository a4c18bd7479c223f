package vision

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// ROI is the region of interest polygon, ordered bottom-left, bottom-right,
// top-right, top-left. It is always an axis-aligned rectangle.
type ROI [4]image.Point

// NewROI places the region on a width x height frame. Coordinates are
// truncated to whole pixels, so the region scales with the frame
// independently of its resolution.
func NewROI(width, height int, cfg RegionConfig) ROI {
	left := int(float64(width) * cfg.Left)
	right := int(float64(width) * cfg.Right)
	top := int(float64(height) * cfg.Top)
	bottom := int(float64(height) * cfg.Bottom)

	return ROI{
		image.Pt(left, bottom),
		image.Pt(right, bottom),
		image.Pt(right, top),
		image.Pt(left, top),
	}
}

// Left returns the x coordinate of the left edge.
func (r ROI) Left() int { return r[0].X }

// Right returns the x coordinate of the right edge.
func (r ROI) Right() int { return r[1].X }

// Top returns the y coordinate of the top edge.
func (r ROI) Top() int { return r[2].Y }

// Bottom returns the y coordinate of the bottom edge.
func (r ROI) Bottom() int { return r[0].Y }

// Rect returns the region as a rectangle.
func (r ROI) Rect() image.Rectangle {
	return image.Rect(r.Left(), r.Top(), r.Right(), r.Bottom())
}

// Points returns the polygon vertices.
func (r ROI) Points() []image.Point {
	return []image.Point{r[0], r[1], r[2], r[3]}
}

// MaskRegion zeroes every edge pixel outside the region. Pixels inside the
// polygon keep their value. The caller owns the returned Mat.
func MaskRegion(edges gocv.Mat, roi ROI) gocv.Mat {
	mask := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), edges.Rows(), edges.Cols(), edges.Type())
	defer mask.Close()

	pts := gocv.NewPointsVectorFromPoints([][]image.Point{roi.Points()})
	defer pts.Close()
	gocv.FillPoly(&mask, pts, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	masked := gocv.NewMat()
	gocv.BitwiseAnd(edges, mask, &masked)
	return masked
}
