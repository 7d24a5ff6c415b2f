package matching

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/geometry"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/logger"
)

// MatchCorpus runs MatchImage over every image in corpus order and returns
// one table with corpus-global indices.
func MatchCorpus(c *corpus.Corpus, key ThresholdKey, background float64) (*PairTable, error) {
	th := Thresholds{Pos: key.IoU, Conf: key.Conf, Background: background}
	table := &PairTable{Key: key, Pairs: make([]Pair, 0, len(c.Detections)+len(c.Annotations)/2)}
	for _, im := range c.Images {
		in, err := imageInput(c, im)
		if err != nil {
			return nil, fmt.Errorf("matching image %s: %w", im.Name, err)
		}
		for _, p := range MatchImage(in, th) {
			if p.Detection != None {
				p.Detection += im.Detections.Start
			}
			if p.Annotation != None {
				p.Annotation += im.Annotations.Start
			}
			table.Pairs = append(table.Pairs, p)
		}
	}

	counts := table.CountByType()
	logger.WithComponent("matcher").Info("pair table built",
		"dataset", c.Dataset,
		"key", key.String(),
		"pairs", table.Len(),
		"tp", counts[TruePositive],
		"cls", counts[ClsError],
		"loc", counts[LocError],
		"cls_loc", counts[ClsLocError],
		"background", counts[BackgroundFP],
		"miss", counts[Missed],
	)
	return table, nil
}

func imageInput(c *corpus.Corpus, im corpus.Image) (ImageInput, error) {
	dets := c.ImageDetections(im.ID)
	anns := c.ImageAnnotations(im.ID)
	in := ImageInput{
		DetCategory:   make([]int, len(dets)),
		DetConfidence: make([]float64, len(dets)),
		AnnCategory:   make([]int, len(anns)),
		AnnCrowd:      make([]bool, len(anns)),
	}
	for i, d := range dets {
		in.DetCategory[i] = d.Category
		in.DetConfidence[i] = d.Confidence
	}
	for i, a := range anns {
		in.AnnCategory[i] = a.Category
		in.AnnCrowd[i] = a.Crowd
	}

	if !c.Segmentation {
		db := make([]geometry.Box, len(dets))
		for i, d := range dets {
			db[i] = d.Box
		}
		ab := make([]geometry.Box, len(anns))
		for i, a := range anns {
			ab[i] = a.Box
		}
		in.IoU = geometry.IoUMatrix(db, ab, in.AnnCrowd)
		return in, nil
	}

	dm := make([]geometry.RLE, len(dets))
	for i, d := range dets {
		if d.Mask == nil {
			return ImageInput{}, fmt.Errorf("detection %d has no mask", im.Detections.Start+i)
		}
		dm[i] = *d.Mask
	}
	am := make([]geometry.RLE, len(anns))
	for i, a := range anns {
		if a.Mask == nil {
			return ImageInput{}, fmt.Errorf("annotation %d has no mask", im.Annotations.Start+i)
		}
		am[i] = *a.Mask
	}
	iou, err := geometry.MaskIoUMatrix(dm, am, in.AnnCrowd)
	if err != nil {
		return ImageInput{}, err
	}
	in.IoU = iou
	return in, nil
}

// ContextPairs lists every annotation of a reference corpus as a ContextGT
// pair.
func ContextPairs(c *corpus.Corpus) *PairTable {
	t := &PairTable{Pairs: make([]Pair, len(c.Annotations))}
	for i := range c.Annotations {
		t.Pairs[i] = Pair{Detection: None, Annotation: i, Type: ContextGT}
	}
	return t
}
