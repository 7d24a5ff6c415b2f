package corpus

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/geometry"
	apperrors "github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/errors"
)

const metaJSON = `{"categories": [
  {"id": 1, "name": "person", "supercategory": "human"},
  {"id": 2, "name": "car", "supercategory": "vehicle"},
  {"id": 3, "name": "bus", "supercategory": "vehicle"}
]}`

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, w, h))))
}

func boxCorpusDir(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "meta.json"), metaJSON)
	writePNG(t, filepath.Join(root, "images", "b.png"), 40, 20)
	writePNG(t, filepath.Join(root, "images", "a.png"), 20, 20)
	writeFile(t, filepath.Join(root, "labels", "a.txt"), "0 0.5 0.5 0.2 0.2 0 64\n\n1 0.2 0.2 0.1 0.1 1 16\n")
	writeFile(t, filepath.Join(root, "predicts", "a.txt"), "0 0.9 0.5 0.5 0.2 0.2\n")
	writeFile(t, filepath.Join(root, "labels", "b.txt"), "2 0.5 0.5 0.4 0.2 0 100\n")
	return root
}

func TestCatalog(t *testing.T) {
	c := NewCatalog([]string{"person", "car", "bus"}, []string{"human", "vehicle", "vehicle"})
	assert.Equal(t, []string{"person", "car", "bus", BackgroundName}, c.Names)
	assert.Equal(t, 3, c.Background())
	require.Len(t, c.Hierarchy, 3)
	assert.Equal(t, Group{Name: "vehicle", Children: []string{"car", "bus"}}, c.Hierarchy[1])
	assert.Equal(t, BackgroundName, c.Hierarchy[2].Name)

	idx, ok := c.Index("bus")
	assert.True(t, ok)
	assert.Equal(t, 2, idx)
	_, ok = c.Index("truck")
	assert.False(t, ok)
}

func TestDirLoaderBoxes(t *testing.T) {
	root := boxCorpusDir(t)
	c, err := NewDirLoader(root, "toy", false).Load(context.Background())
	require.NoError(t, err)

	require.Len(t, c.Images, 2)
	assert.Equal(t, "a.png", c.Images[0].Name)
	assert.Equal(t, 40, c.Images[1].Width)
	assert.Equal(t, 20, c.Images[1].Height)
	assert.Equal(t, Span{0, 2}, c.Images[0].Annotations)
	assert.Equal(t, Span{2, 3}, c.Images[1].Annotations)
	assert.Equal(t, Span{0, 1}, c.Images[0].Detections)
	assert.Equal(t, Span{1, 1}, c.Images[1].Detections)

	assert.True(t, c.Annotations[1].Crowd)
	assert.Equal(t, 16.0, c.Annotations[1].Area)
	assert.Equal(t, 1, c.Annotations[2].ImageID)
	assert.Equal(t, geometry.Box{CX: 0.5, CY: 0.5, W: 0.2, H: 0.2}, c.Detections[0].Box)
	assert.Equal(t, 0.9, c.Detections[0].Confidence)
	assert.Len(t, c.ImageAnnotations(0), 2)
	assert.Empty(t, c.ImageDetections(1))
}

func TestDirLoaderRejectsMalformedRows(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"short label", "labels/a.txt", "0 0.5 0.5 0.2\n"},
		{"long predict", "predicts/a.txt", "0 0.9 0.5 0.5 0.2 0.2 7\n"},
		{"not a number", "labels/a.txt", "0 0.5 x 0.2 0.2 0 64\n"},
		{"category out of range", "predicts/a.txt", "3 0.9 0.5 0.5 0.2 0.2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := boxCorpusDir(t)
			writeFile(t, filepath.Join(root, tt.file), tt.body)
			_, err := NewDirLoader(root, "toy", false).Load(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrMalformedRecord)
		})
	}
}

func TestDirLoaderMasks(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "meta.json"), metaJSON)
	writePNG(t, filepath.Join(root, "images", "m.png"), 3, 3)
	// 3x3 mask with pixels (x=1,y=0), (x=1,y=1), (x=2,y=1).
	writeFile(t, filepath.Join(root, "labels", "m.txt"), "1 0 3 3 322OO\n")
	writeFile(t, filepath.Join(root, "predicts", "m.txt"), "1 0.8 3 3 322OO\n")

	c, err := NewDirLoader(root, "toy-seg", true).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, c.Annotations, 1)
	require.NotNil(t, c.Annotations[0].Mask)
	assert.Equal(t, 3.0, c.Annotations[0].Area)
	assert.InDelta(t, 2.0/3.0, c.Annotations[0].Box.CX, 1e-9)
	require.NotNil(t, c.Detections[0].Mask)
	assert.True(t, c.Segmentation)

	attrs := Derive(c)
	assert.InDelta(t, 3.0/9.0, attrs.AnnotationSize[0], 1e-9)
	assert.InDelta(t, 1.0, attrs.AnnotationAspect[0], 1e-9)
}

func TestDeriveBoxes(t *testing.T) {
	cat := NewCatalog([]string{"a"}, nil)
	b := NewBuilder("toy", cat)
	b.AddImage("wide.jpg", 200, 100,
		[]Detection{{Category: 0, Confidence: 0.5, Box: geometry.Box{CX: 0.5, CY: 0.5, W: 0.5, H: 0.25}}},
		[]Annotation{{Category: 0, Box: geometry.Box{CX: 0.5, CY: 0.5, W: 0.1, H: 0.4}}},
	)
	b.AddImage("empty.jpg", 0, 0, nil,
		[]Annotation{{Category: 0, Box: geometry.Box{CX: 0.5, CY: 0.5, W: 0, H: 0.4}}},
	)
	attrs := Derive(b.Build())

	assert.InDelta(t, 0.125, attrs.DetectionSize[0], 1e-12)
	// 0.5/0.25 * 2 = 4 folds to 0.25.
	assert.InDelta(t, 0.25, attrs.DetectionAspect[0], 1e-12)
	// 0.1/0.4 * 2 = 0.5.
	assert.InDelta(t, 0.5, attrs.AnnotationAspect[0], 1e-12)
	assert.Zero(t, attrs.AnnotationAspect[1])
}

type mapFeatures map[string][][]float32

func (m mapFeatures) Features(im Image, kind FeatureKind) ([][]float32, bool, error) {
	rows, ok := m[kind.String()+"/"+im.Name]
	return rows, ok, nil
}

func TestAssembleFeaturesFillsPlaceholders(t *testing.T) {
	cat := NewCatalog([]string{"a"}, nil)
	b := NewBuilder("toy", cat)
	b.AddImage("one", 10, 10, []Detection{{}, {}}, []Annotation{{}})
	b.AddImage("two", 10, 10, []Detection{{}}, nil)
	c := b.Build()

	src := mapFeatures{
		"detection/one":  {{1, 2}, {3, 4}},
		"annotation/one": {{5, 6}},
	}
	f, err := AssembleFeatures(c, src, 2, 7)
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 4}, f.Detections[1])
	assert.Equal(t, []float32{5, 6}, f.Annotations[0])
	require.Len(t, f.Detections[2], 2, "missing image gets a placeholder row")

	again, err := AssembleFeatures(c, src, 2, 7)
	require.NoError(t, err)
	assert.Equal(t, f.Detections[2], again.Detections[2], "placeholders are seeded")

	src["detection/one"] = [][]float32{{1, 2}}
	_, err = AssembleFeatures(c, src, 2, 7)
	assert.Error(t, err)
}

func TestFeatureDirRoundTrip(t *testing.T) {
	root := t.TempDir()
	rows := [][]float32{{0.5, 1.5, 2.5}, {3, 4, 5}}
	require.NoError(t, WriteFeatureFile(filepath.Join(root, "pr_features", "img.f32"), rows))

	src := FeatureDir{Root: root}
	got, ok, err := src.Features(Image{Name: "img.jpg"}, DetectionFeatures)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rows, got)

	_, ok, err = src.Features(Image{Name: "img.jpg"}, AnnotationFeatures)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFingerprintTracksContent(t *testing.T) {
	root := boxCorpusDir(t)
	c1, err := NewDirLoader(root, "toy", false).Load(context.Background())
	require.NoError(t, err)
	c2, err := NewDirLoader(root, "toy", false).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, c1.Fingerprint(), c2.Fingerprint())

	c2.Detections[0].Confidence = 0.1
	assert.NotEqual(t, c1.Fingerprint(), c2.Fingerprint())
}

func TestDirLoaderSourceFingerprint(t *testing.T) {
	root := boxCorpusDir(t)
	l := NewDirLoader(root, "toy", false)
	ctx := context.Background()

	first, err := l.SourceFingerprint(ctx)
	require.NoError(t, err)
	again, err := l.SourceFingerprint(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	writeFile(t, filepath.Join(root, "labels", "b.txt"), "2 0.5 0.5 0.4 0.2 0 100\n1 0.3 0.3 0.1 0.1 0 9\n")
	changed, err := l.SourceFingerprint(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, changed)

	require.NoError(t, os.RemoveAll(filepath.Join(root, "predicts")))
	_, err = l.SourceFingerprint(ctx)
	assert.NoError(t, err)

	_, err = NewDirLoader(t.TempDir(), "empty", false).SourceFingerprint(ctx)
	assert.Error(t, err)
}
