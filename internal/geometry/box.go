// Package geometry computes pairwise overlap between detections and
// annotations, for axis-aligned boxes and for run-length encoded masks.
package geometry

import "math"

// Epsilon is added to every IoU denominator so zero-area boxes yield 0
// instead of NaN.
const Epsilon = 1e-6

// Box is an axis-aligned box in center/size form. Coordinates are
// normalized to the image size.
type Box struct {
	CX float64 `json:"cx"`
	CY float64 `json:"cy"`
	W  float64 `json:"w"`
	H  float64 `json:"h"`
}

// Corners returns the top-left and bottom-right corners.
func (b Box) Corners() (x1, y1, x2, y2 float64) {
	return b.CX - b.W/2, b.CY - b.H/2, b.CX + b.W/2, b.CY + b.H/2
}

func (b Box) Area() float64 {
	return b.W * b.H
}

// Intersection returns the overlapping area of a and b.
func Intersection(a, b Box) float64 {
	ax1, ay1, ax2, ay2 := a.Corners()
	bx1, by1, bx2, by2 := b.Corners()
	w := math.Min(ax2, bx2) - math.Max(ax1, bx1)
	h := math.Min(ay2, by2) - math.Max(ay1, by1)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// IoU returns the overlap of a with b. When crowd is set the union is
// replaced by the area of a, so a box lying inside a crowd region scores
// close to 1 regardless of the region's size.
func IoU(a, b Box, crowd bool) float64 {
	inter := Intersection(a, b)
	union := a.Area() + b.Area() - inter
	if crowd {
		union = a.Area()
	}
	return inter / (union + Epsilon)
}

// IoUMatrix returns the len(a) x len(b) overlap matrix. crowd may be nil;
// otherwise crowd[j] applies the crowd rule to column j.
func IoUMatrix(a, b []Box, crowd []bool) [][]float64 {
	out := make([][]float64, len(a))
	flat := make([]float64, len(a)*len(b))
	for i := range a {
		row := flat[i*len(b) : (i+1)*len(b)]
		for j := range b {
			row[j] = IoU(a[i], b[j], crowd != nil && crowd[j])
		}
		out[i] = row
	}
	return out
}
