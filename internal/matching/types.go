// Package matching pairs detections with annotations and labels every pair
// with an error type.
package matching

import (
	"fmt"
	"strconv"
)

// None marks a missing endpoint in a Pair.
const None = -1

// ErrorType classifies a (detection, annotation) pair.
type ErrorType int8

const (
	// Abandoned is reserved and never assigned.
	Abandoned ErrorType = iota
	TruePositive
	ClsError
	LocError
	ClsLocError
	DupTruePositive
	DupCls
	DupLoc
	DupClsLoc
	BackgroundFP
	Missed
	// ClsSecondary is the best DupCls pair for one (annotation, predicted
	// category) combination.
	ClsSecondary
	ClsLocSecondary
	// ContextGT marks annotations of a reference corpus.
	ContextGT

	NumTypes = int(ContextGT) + 1
)

var typeNames = [NumTypes]string{
	"abandoned", "tp", "cls", "loc", "cls_loc",
	"dup", "cls_dup", "loc_dup", "cls_loc_dup",
	"background", "miss", "cls_secondary", "cls_loc_secondary", "context",
}

func (t ErrorType) String() string {
	if t < 0 || int(t) >= NumTypes {
		return fmt.Sprintf("ErrorType(%d)", int8(t))
	}
	return typeNames[t]
}

// IsPrimary reports whether t is one of the per-annotation unique types.
func (t ErrorType) IsPrimary() bool {
	return t >= TruePositive && t <= ClsLocError
}

// IsDuplicate reports whether t is one of the 5..8 duplicate variants.
func (t ErrorType) IsDuplicate() bool {
	return t >= DupTruePositive && t <= DupClsLoc
}

// Promote maps a duplicate variant to its primary type.
func (t ErrorType) Promote() ErrorType {
	if t.IsDuplicate() {
		return t - 4
	}
	return t
}

// Localized reports whether a pair of type t has no localization error.
func (t ErrorType) Localized() bool {
	switch t {
	case TruePositive, ClsError, DupTruePositive:
		return true
	case Abandoned, LocError, ClsLocError, DupCls, DupLoc, DupClsLoc,
		BackgroundFP, Missed, ClsSecondary, ClsLocSecondary, ContextGT:
		return false
	}
	return false
}

// ThresholdKey selects one matching run.
type ThresholdKey struct {
	IoU  float64 `json:"iou"`
	Conf float64 `json:"conf"`
}

// String is the display form used in logs and metric labels. Two keys may
// share it; use ID to tell keys apart.
func (k ThresholdKey) String() string {
	return fmt.Sprintf("iou=%.2f,conf=%.2f", k.IoU, k.Conf)
}

// ID renders both thresholds exactly, so distinct keys get distinct ids.
func (k ThresholdKey) ID() string {
	return "iou=" + strconv.FormatFloat(k.IoU, 'g', -1, 64) + ",conf=" + strconv.FormatFloat(k.Conf, 'g', -1, 64)
}

// Pair is one row of a pair table. Detection and Annotation are indices
// into the corpus tables, or None.
type Pair struct {
	Detection  int       `json:"d"`
	Annotation int       `json:"a"`
	IoU        float64   `json:"iou"`
	Type       ErrorType `json:"t"`
}

// PairTable is the flat pair list of one matching run over a corpus.
type PairTable struct {
	Key   ThresholdKey
	Pairs []Pair
}

func (t *PairTable) Len() int {
	return len(t.Pairs)
}

// CountByType returns the number of pairs of each error type.
func (t *PairTable) CountByType() [NumTypes]int {
	var counts [NumTypes]int
	for _, p := range t.Pairs {
		if p.Type >= 0 && int(p.Type) < NumTypes {
			counts[p.Type]++
		}
	}
	return counts
}
