// Package direction buckets the offset between a detection and the
// annotation it was matched to into one of nine spatial directions.
package direction

import (
	"math"

	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/matching"
)

// Direction is a bucket index. 0..7 are compass sectors starting at "left"
// and running through "up" to "right" and back along the bottom half; 8 means
// the pair has no localization error.
type Direction int8

const (
	// None marks pairs with a missing endpoint.
	None     Direction = -1
	Centered Direction = 8
	// Count is the number of buckets a RangeIndex stores.
	Count = int(Centered) + 1
)

const normEpsilon = 1e-5

// splits are cos(157.5°), cos(112.5°), cos(67.5°), cos(22.5°) and cos(0).
var splits = [...]float64{
	math.Cos(157.5 / 180 * math.Pi),
	math.Cos(112.5 / 180 * math.Pi),
	math.Cos(67.5 / 180 * math.Pi),
	math.Cos(22.5 / 180 * math.Pi),
	1,
}

// Of buckets the vector (dx, dy). Image y grows downward, so dy > 0 folds the
// upper half sectors onto the lower half.
func Of(dx, dy float64) Direction {
	cos := dx / (math.Hypot(dx, dy) + normEpsilon)
	d := Direction(0)
	for i := 1; i < len(splits); i++ {
		if cos > splits[i-1] && cos <= splits[i] {
			d = Direction(i)
			break
		}
	}
	if dy > 0 && d != 0 {
		d = 8 - d
	}
	return d
}

// Classify returns one direction per pair of table. The vector runs from the
// annotation center to the detection center in normalized coordinates.
func Classify(table *matching.PairTable, c *corpus.Corpus) []Direction {
	out := make([]Direction, len(table.Pairs))
	for i, p := range table.Pairs {
		switch {
		case p.Type.Localized():
			out[i] = Centered
		case p.Detection == matching.None || p.Annotation == matching.None:
			out[i] = None
		default:
			det := c.Detections[p.Detection].Box
			ann := c.Annotations[p.Annotation].Box
			out[i] = Of(det.CX-ann.CX, det.CY-ann.CY)
		}
	}
	return out
}

// Indexed maps None to Centered, the value the range index stores for pairs
// without a direction.
func (d Direction) Indexed() int {
	if d == None {
		return int(Centered)
	}
	return int(d)
}
