package analysis

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/direction"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/matching"
	apperrors "github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/errors"
)

func imageOf(snap *engine.Snapshot, p matching.Pair) int {
	if p.Annotation == matching.None {
		return snap.Corpus.Detections[p.Detection].ImageID
	}
	return snap.Corpus.Annotations[p.Annotation].ImageID
}

func pairAt(ctx context.Context, src Source, key matching.ThresholdKey, id int) (*engine.Snapshot, matching.Pair, error) {
	snap, err := src.Get(ctx, key)
	if err != nil {
		return nil, matching.Pair{}, err
	}
	if id < 0 || id >= snap.Table.Len() {
		return nil, matching.Pair{}, fmt.Errorf("%w: pair %d of %s", apperrors.ErrPairNotFound, id, key)
	}
	return snap, snap.Table.Pairs[id], nil
}

// ImageOf returns the image a pair belongs to.
func (an *Analyzer) ImageOf(ctx context.Context, key matching.ThresholdKey, pairID int) (int, error) {
	snap, p, err := pairAt(ctx, an.src, key, pairID)
	if err != nil {
		return 0, err
	}
	return imageOf(snap, p), nil
}

// Endpoints is a pair with its objects resolved. Missing endpoints are nil,
// and so are the feature rows when no feature source is configured.
type Endpoints struct {
	Pair              matching.Pair       `json:"pair"`
	Image             corpus.Image        `json:"image"`
	Detection         *corpus.Detection   `json:"detection,omitempty"`
	Annotation        *corpus.Annotation  `json:"annotation,omitempty"`
	Direction         direction.Direction `json:"direction"`
	DetectionFeature  []float32           `json:"detection_feature,omitempty"`
	AnnotationFeature []float32           `json:"annotation_feature,omitempty"`
}

func (an *Analyzer) PairEndpoints(ctx context.Context, key matching.ThresholdKey, pairID int) (*Endpoints, error) {
	snap, p, err := pairAt(ctx, an.src, key, pairID)
	if err != nil {
		return nil, err
	}
	e := &Endpoints{
		Pair:      p,
		Image:     snap.Corpus.Images[imageOf(snap, p)],
		Direction: snap.Directions[pairID],
	}
	if p.Detection != matching.None {
		d := snap.Corpus.Detections[p.Detection]
		e.Detection = &d
		if snap.Features != nil {
			e.DetectionFeature = snap.Features.Detections[p.Detection]
		}
	}
	if p.Annotation != matching.None {
		a := snap.Corpus.Annotations[p.Annotation]
		e.Annotation = &a
		if snap.Features != nil {
			e.AnnotationFeature = snap.Features.Annotations[p.Annotation]
		}
	}
	return e, nil
}

// Objects lists detection and annotation ids. Context holds ContextGT pair
// ids of the reference corpus.
type Objects struct {
	Detections  []int `json:"detections"`
	Annotations []int `json:"annotations"`
	Context     []int `json:"context,omitempty"`
}

// ImagePairs returns the detections of an image that appear in the pair
// table and every annotation of the image, plus the reference annotations
// of the image with the same name when a context corpus is loaded.
func (an *Analyzer) ImagePairs(ctx context.Context, key matching.ThresholdKey, imageID int) (*Objects, error) {
	snap, err := an.src.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if imageID < 0 || imageID >= len(snap.Corpus.Images) {
		return nil, fmt.Errorf("%w: image %d", apperrors.ErrInvalidInput, imageID)
	}
	im := snap.Corpus.Images[imageID]
	out := &Objects{Detections: []int{}, Annotations: make([]int, 0, im.Annotations.Len())}
	for _, p := range snap.Table.Pairs {
		if p.Detection >= im.Detections.Start && p.Detection < im.Detections.End {
			out.Detections = append(out.Detections, p.Detection)
		}
	}
	for a := im.Annotations.Start; a < im.Annotations.End; a++ {
		out.Annotations = append(out.Annotations, a)
	}
	if snap.Context != nil {
		out.Context = snap.Context.ImageAnnotations(im.Name)
	}
	return out, nil
}

// RelatedDetections returns the pair's own endpoints plus, when both exist,
// every other detection of the same predicted category paired with the
// same annotation.
func (an *Analyzer) RelatedDetections(ctx context.Context, key matching.ThresholdKey, pairID int) (*Objects, error) {
	snap, p, err := pairAt(ctx, an.src, key, pairID)
	if err != nil {
		return nil, err
	}
	out := &Objects{Detections: []int{}, Annotations: []int{}}
	if p.Detection != matching.None {
		out.Detections = append(out.Detections, p.Detection)
	}
	if p.Annotation != matching.None {
		out.Annotations = append(out.Annotations, p.Annotation)
	}
	if p.Detection == matching.None || p.Annotation == matching.None {
		return out, nil
	}
	category := snap.Corpus.Detections[p.Detection].Category
	for _, q := range snap.Table.Pairs {
		if q.Annotation != p.Annotation || q.Detection == matching.None || q.Detection == p.Detection {
			continue
		}
		if snap.Corpus.Detections[q.Detection].Category == category {
			out.Detections = append(out.Detections, q.Detection)
		}
	}
	return out, nil
}
