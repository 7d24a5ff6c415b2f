package corpus

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/logger"
)

// FeatureKind selects predicted or ground-truth object features.
type FeatureKind int

const (
	DetectionFeatures FeatureKind = iota
	AnnotationFeatures
)

func (k FeatureKind) String() string {
	if k == AnnotationFeatures {
		return "annotation"
	}
	return "detection"
}

// FeatureSource returns one feature row per object of an image. ok is false
// when nothing is stored for the image.
type FeatureSource interface {
	Features(im Image, kind FeatureKind) (rows [][]float32, ok bool, err error)
}

// Features holds one row per detection and per annotation, aligned with the
// corpus tables.
type Features struct {
	Dim         int
	Detections  [][]float32
	Annotations [][]float32
}

// AssembleFeatures collects feature rows for the whole corpus. Images the
// source has nothing for get seeded random rows of the same dimension and a
// warning, so table shapes stay consistent.
func AssembleFeatures(c *Corpus, src FeatureSource, dim int, seed uint64) (*Features, error) {
	log := logger.WithComponent("features")
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	f := &Features{
		Dim:         dim,
		Detections:  make([][]float32, len(c.Detections)),
		Annotations: make([][]float32, len(c.Annotations)),
	}
	fill := func(im Image, kind FeatureKind, span Span, dst [][]float32) error {
		if span.Len() == 0 {
			return nil
		}
		rows, ok, err := src.Features(im, kind)
		if err != nil {
			return fmt.Errorf("loading %s features for %s: %w", kind, im.Name, err)
		}
		if !ok {
			log.Warn("feature vectors missing, using placeholders", "image", im.Name, "kind", kind.String(), "rows", span.Len())
			for i := span.Start; i < span.End; i++ {
				row := make([]float32, dim)
				for j := range row {
					row[j] = rng.Float32()
				}
				dst[i] = row
			}
			return nil
		}
		if len(rows) != span.Len() {
			return fmt.Errorf("%s features for %s: got %d rows, want %d", kind, im.Name, len(rows), span.Len())
		}
		for i, row := range rows {
			if len(row) != dim {
				return fmt.Errorf("%s features for %s: row %d has dimension %d, want %d", kind, im.Name, i, len(row), dim)
			}
			dst[span.Start+i] = row
		}
		return nil
	}
	for _, im := range c.Images {
		if err := fill(im, DetectionFeatures, im.Detections, f.Detections); err != nil {
			return nil, err
		}
		if err := fill(im, AnnotationFeatures, im.Annotations, f.Annotations); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// FeatureDir reads <stem>.f32 files from pr_features/ and gt_features/
// under Root. Each file is a little-endian uint32 row count, a uint32
// dimension, then rows*dim float32 values.
type FeatureDir struct {
	Root string
}

func (d FeatureDir) Features(im Image, kind FeatureKind) ([][]float32, bool, error) {
	sub := "pr_features"
	if kind == AnnotationFeatures {
		sub = "gt_features"
	}
	path := filepath.Join(d.Root, sub, imageStem(im.Name)+".f32")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var hdr [2]uint32
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, false, fmt.Errorf("reading header of %s: %w", path, err)
	}
	flat := make([]float32, int(hdr[0])*int(hdr[1]))
	if err := binary.Read(r, binary.LittleEndian, flat); err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", path, err)
	}
	rows := make([][]float32, hdr[0])
	for i := range rows {
		rows[i] = flat[i*int(hdr[1]) : (i+1)*int(hdr[1])]
	}
	return rows, true, nil
}

// WriteFeatureFile writes rows in the FeatureDir format.
func WriteFeatureFile(path string, rows [][]float32) error {
	dim := 0
	if len(rows) > 0 {
		dim = len(rows[0])
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, [2]uint32{uint32(len(rows)), uint32(dim)}); err != nil {
		f.Close()
		return err
	}
	for _, row := range rows {
		if err := binary.Write(w, binary.LittleEndian, row); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
