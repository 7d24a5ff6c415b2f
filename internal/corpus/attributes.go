package corpus

// Attributes are the per-object values the range index filters on. Sizes
// are fractions of the image area; aspect ratios are measured in pixels and
// folded into (0, 1] so a box and its transpose compare equal.
type Attributes struct {
	DetectionSize    []float64 `json:"detection_size"`
	DetectionAspect  []float64 `json:"detection_aspect"`
	AnnotationSize   []float64 `json:"annotation_size"`
	AnnotationAspect []float64 `json:"annotation_aspect"`
}

// Derive computes Attributes for every detection and annotation.
func Derive(c *Corpus) Attributes {
	a := Attributes{
		DetectionSize:    make([]float64, len(c.Detections)),
		DetectionAspect:  make([]float64, len(c.Detections)),
		AnnotationSize:   make([]float64, len(c.Annotations)),
		AnnotationAspect: make([]float64, len(c.Annotations)),
	}
	for _, im := range c.Images {
		imageAR := im.AspectRatio()
		for i := im.Detections.Start; i < im.Detections.End; i++ {
			d := c.Detections[i]
			if d.Mask != nil {
				a.DetectionSize[i] = maskFraction(d.Mask.Area(), d.Mask.Height, d.Mask.Width)
				a.DetectionAspect[i] = foldAspect(ratio(d.Box.W, d.Box.H+1e-5) * imageAR)
			} else {
				a.DetectionSize[i] = d.Box.Area()
				a.DetectionAspect[i] = foldAspect(ratio(d.Box.W, d.Box.H) * imageAR)
			}
		}
		for i := im.Annotations.Start; i < im.Annotations.End; i++ {
			an := c.Annotations[i]
			if an.Mask != nil {
				a.AnnotationSize[i] = maskFraction(an.Mask.Area(), an.Mask.Height, an.Mask.Width)
			} else {
				a.AnnotationSize[i] = an.Box.Area()
			}
			a.AnnotationAspect[i] = foldAspect(ratio(an.Box.W, an.Box.H) * imageAR)
		}
	}
	return a
}

func ratio(w, h float64) float64 {
	if w <= 0 || h <= 0 {
		return 0
	}
	return w / h
}

func foldAspect(ar float64) float64 {
	if ar > 1 {
		return 1 / ar
	}
	return ar
}

func maskFraction(area float64, h, w int) float64 {
	if h <= 0 || w <= 0 {
		return 0
	}
	return area / float64(h*w)
}
