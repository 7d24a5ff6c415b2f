package matching

import (
	"math"
	"sort"
)

// DefaultBackgroundIoU is the overlap below which a detection counts as
// background.
const DefaultBackgroundIoU = 0.1

// Thresholds parameterize one matching run.
type Thresholds struct {
	Pos        float64
	Conf       float64
	Background float64
}

// ImageInput is one image's objects in image-local order. IoU has one row
// per detection and one column per annotation.
type ImageInput struct {
	DetCategory   []int
	DetConfidence []float64
	AnnCategory   []int
	AnnCrowd      []bool
	IoU           [][]float64
}

type imageMatcher struct {
	in         ImageInput
	th         Thresholds
	matchCount []int
	claimed    []bool
	pairs      []Pair
}

// MatchImage pairs one image's detections with its annotations. Returned
// indices are image-local.
func MatchImage(in ImageInput, th Thresholds) []Pair {
	m := &imageMatcher{
		in:         in,
		th:         th,
		matchCount: make([]int, len(in.AnnCategory)),
		claimed:    make([]bool, len(in.AnnCategory)),
	}
	for _, d := range m.order() {
		m.matchDetection(d)
	}
	m.resolveAnnotations()
	return m.pairs
}

// order returns detections above the confidence threshold, most confident
// first. Equal confidences keep input order.
func (m *imageMatcher) order() []int {
	idx := make([]int, 0, len(m.in.DetConfidence))
	for d, c := range m.in.DetConfidence {
		if c > m.th.Conf {
			idx = append(idx, d)
		}
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return m.in.DetConfidence[idx[i]] > m.in.DetConfidence[idx[j]]
	})
	return idx
}

// softBest picks the candidate maximizing IoU + exp(-matchCount), first
// candidate winning ties.
func (m *imageMatcher) softBest(row []float64, candidates []int) int {
	best, bestScore := candidates[0], math.Inf(-1)
	for _, a := range candidates {
		score := row[a] + math.Exp(-float64(m.matchCount[a]))
		if score > bestScore {
			best, bestScore = a, score
		}
	}
	return best
}

func (m *imageMatcher) emit(d, a int, iou float64, t ErrorType) {
	m.pairs = append(m.pairs, Pair{Detection: d, Annotation: a, IoU: iou, Type: t})
}

func (m *imageMatcher) matchDetection(d int) {
	row := m.in.IoU[d]
	cat := m.in.DetCategory[d]

	var same, diff []int
	overlaps := false
	for a, v := range row {
		if v <= m.th.Background {
			continue
		}
		overlaps = true
		if m.in.AnnCategory[a] == cat {
			same = append(same, a)
		} else if !m.in.AnnCrowd[a] {
			diff = append(diff, a)
		}
	}
	if !overlaps {
		m.emit(d, None, 0, BackgroundFP)
		return
	}

	if len(same) > 0 {
		sort.SliceStable(same, func(i, j int) bool { return row[same[i]] > row[same[j]] })
		var solid, crowd []int
		for _, a := range same {
			if m.in.AnnCrowd[a] {
				crowd = append(crowd, a)
			} else {
				solid = append(solid, a)
			}
		}

		foundTP := false
		best := None
		if len(solid) > 0 {
			for _, a := range solid {
				if row[a] < m.th.Pos {
					break
				}
				if !m.claimed[a] {
					foundTP, best = true, a
					m.claimed[a] = true
					break
				}
			}
			if !foundTP {
				best = m.softBest(row, solid)
			}
		}
		// Inside an unlabeled crowd region: drop the detection entirely.
		if !foundTP && len(crowd) > 0 && row[crowd[0]] > m.th.Pos {
			return
		}
		if len(solid) > 0 {
			m.matchCount[best]++
			t := DupLoc
			if row[best] >= m.th.Pos {
				t = DupTruePositive
			}
			m.emit(d, best, row[best], t)
			return
		}
	}

	// Reached with no solid same-class candidate. A detection whose other
	// overlaps are all crowd regions, weak same-class ones or other-class
	// ones, gets no pair.
	if len(diff) > 0 {
		best := m.softBest(row, diff)
		m.matchCount[best]++
		t := DupClsLoc
		if row[best] >= m.th.Pos {
			t = DupCls
		}
		m.emit(d, best, row[best], t)
	}
}

// resolveAnnotations emits misses and promotes duplicates per annotation.
func (m *imageMatcher) resolveAnnotations() {
	byAnn := make([][]int, len(m.in.AnnCategory))
	for i, p := range m.pairs {
		if p.Annotation != None && p.Detection != None {
			byAnn[p.Annotation] = append(byAnn[p.Annotation], i)
		}
	}
	for a := range m.in.AnnCategory {
		if m.in.AnnCrowd[a] {
			continue
		}
		group := byAnn[a]

		// Only a ClsLoc match does not save an annotation from being missed.
		covered := false
		for _, i := range group {
			if m.pairs[i].Type != DupClsLoc {
				covered = true
				break
			}
		}
		if !covered {
			m.emit(None, a, 0, Missed)
		}

		for _, family := range [...]ErrorType{DupTruePositive, DupLoc, DupCls, DupClsLoc} {
			if i := m.mostConfident(group, family, None); i >= 0 {
				m.pairs[i].Type = family.Promote()
				break
			}
		}

		m.promoteSecondary(a, group)
	}
}

// promoteSecondary keeps one classification duplicate per wrongly predicted
// category of annotation a.
func (m *imageMatcher) promoteSecondary(a int, group []int) {
	var cats []int
	seen := make(map[int]bool)
	for _, i := range group {
		c := m.in.DetCategory[m.pairs[i].Detection]
		if c != m.in.AnnCategory[a] && !seen[c] {
			seen[c] = true
			cats = append(cats, c)
		}
	}
	sort.Ints(cats)
	for _, c := range cats {
		promoted := false
		for _, i := range group {
			p := m.pairs[i]
			if m.in.DetCategory[p.Detection] == c && p.Type <= ClsLocError {
				promoted = true
				break
			}
		}
		if promoted {
			continue
		}
		if i := m.mostConfident(group, DupCls, c); i >= 0 {
			m.pairs[i].Type = ClsSecondary
		} else if i := m.mostConfident(group, DupClsLoc, c); i >= 0 {
			m.pairs[i].Type = ClsLocSecondary
		}
	}
}

// mostConfident returns the pair index in group of type t with the highest
// detection confidence, restricted to detection category cat unless cat is
// None. Earlier pairs win ties.
func (m *imageMatcher) mostConfident(group []int, t ErrorType, cat int) int {
	best := -1
	for _, i := range group {
		p := m.pairs[i]
		if p.Type != t {
			continue
		}
		if cat != None && m.in.DetCategory[p.Detection] != cat {
			continue
		}
		if best < 0 || m.in.DetConfidence[p.Detection] > m.in.DetConfidence[m.pairs[best].Detection] {
			best = i
		}
	}
	return best
}
