// Package rangeindex answers conjunctive range and set queries over the
// attributes of a pair table.
package rangeindex

import (
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/errors"
)

// Attr names one indexed dimension. The string is the filter wire name.
type Attr string

const (
	LabelAspectRatio   Attr = "label_aspect_ratio"
	LabelSize          Attr = "label_size"
	PredictSize        Attr = "predict_size"
	PredictAspectRatio Attr = "predict_aspect_ratio"
	Confidence         Attr = "conf_range"

	Predict        Attr = "predict"
	Label          Attr = "label"
	Types          Attr = "types"
	SizeComparison Attr = "size_comparison"
	Direction      Attr = "direction"
)

// ContinuousAttrs and CategoricalAttrs list every dimension in index order.
var (
	ContinuousAttrs  = []Attr{LabelAspectRatio, LabelSize, PredictSize, PredictAspectRatio, Confidence}
	CategoricalAttrs = []Attr{Predict, Label, Types, SizeComparison, Direction}
)

// Domain sizes of the fixed categorical dimensions.
const (
	NumTypes           = 14
	NumSizeComparisons = 3
	NumDirections      = 9
)

func (a Attr) Continuous() bool {
	for _, c := range ContinuousAttrs {
		if a == c {
			return true
		}
	}
	return false
}

func (a Attr) Categorical() bool {
	for _, c := range CategoricalAttrs {
		if a == c {
			return true
		}
	}
	return false
}

// ParseAttr validates a wire name.
func ParseAttr(s string) (Attr, error) {
	a := Attr(s)
	if !a.Continuous() && !a.Categorical() {
		return "", fmt.Errorf("%w: %q", apperrors.ErrUnknownAttribute, s)
	}
	return a, nil
}
