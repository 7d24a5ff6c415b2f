package analysis

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/direction"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/geometry"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/matching"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/rangeindex"
	apperrors "github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/errors"
)

var testKey = matching.ThresholdKey{IoU: 0.5, Conf: 0.1}

type staticLoader struct{ c *corpus.Corpus }

func (l staticLoader) Load(context.Context) (*corpus.Corpus, error) {
	return l.c, nil
}

func newAnalyzer(t *testing.T, c *corpus.Corpus, settings Settings) (*Analyzer, *engine.Snapshot) {
	t.Helper()
	reg, err := engine.New(engine.Options{
		Dataset: c.Dataset,
		Keys:    []matching.ThresholdKey{testKey},
		Loader:  staticLoader{c},
	})
	require.NoError(t, err)
	require.NoError(t, reg.Init(context.Background()))
	snap, err := reg.Get(context.Background(), testKey)
	require.NoError(t, err)
	return New(reg, settings, nil), snap
}

// toyCorpus yields a tp (cat), a cls (cat predicted on a dog), a background
// dog and a missed dog in a second image.
func toyCorpus() *corpus.Corpus {
	b := corpus.NewBuilder("toy", corpus.NewCatalog([]string{"cat", "dog"}, nil))
	b.AddImage("a.jpg", 100, 100,
		[]corpus.Detection{
			{Category: 0, Confidence: 0.9, Box: geometry.Box{CX: 0.5, CY: 0.5, W: 0.2, H: 0.2}},
			{Category: 0, Confidence: 0.8, Box: geometry.Box{CX: 0.22, CY: 0.2, W: 0.1, H: 0.1}},
			{Category: 1, Confidence: 0.7, Box: geometry.Box{CX: 0.9, CY: 0.9, W: 0.05, H: 0.05}},
		},
		[]corpus.Annotation{
			{Category: 0, Box: geometry.Box{CX: 0.52, CY: 0.5, W: 0.2, H: 0.2}},
			{Category: 1, Box: geometry.Box{CX: 0.2, CY: 0.2, W: 0.12, H: 0.1}},
		},
	)
	b.AddImage("b.jpg", 100, 100, nil, []corpus.Annotation{{Category: 1, Box: geometry.Box{CX: 0.5, CY: 0.5, W: 0.3, H: 0.3}}})
	return b.Build()
}

func pairOfType(t *testing.T, snap *engine.Snapshot, typ matching.ErrorType) int {
	t.Helper()
	for id, p := range snap.Table.Pairs {
		if p.Type == typ {
			return id
		}
	}
	t.Fatalf("no pair of type %v", typ)
	return -1
}

func TestDefaultFilter(t *testing.T) {
	f := DefaultFilter(4)
	assert.Equal(t, DefaultTypes, f.Sets[rangeindex.Types])
	assert.Equal(t, []int{0, 1, 2, 3}, f.Sets[rangeindex.Label])
	assert.Len(t, f.Sets[rangeindex.Direction], 9)
	assert.Equal(t, rangeindex.Range{Min: 0, Max: 1}, f.Ranges[rangeindex.Confidence])
	assert.NotContains(t, f.Sets[rangeindex.Types], int(matching.DupTruePositive))
}

func TestConfusionMatrix(t *testing.T) {
	an, _ := newAnalyzer(t, toyCorpus(), Settings{})
	ctx := context.Background()

	res, err := an.ConfusionMatrix(ctx, testKey, rangeindex.NewFilter(), ModeCount, ModeDirection, ModeSizeComparison)
	require.NoError(t, err)
	assert.Equal(t, [][]int{
		{1, 0, 0},
		{1, 0, 1},
		{0, 1, 0},
	}, res.Count)
	assert.Equal(t, 1, res.Direction[0][0][int(direction.Centered)])
	assert.Equal(t, 1, res.Direction[1][0][int(direction.Centered)])
	for i := range res.SizeComparison {
		for j := range res.SizeComparison[i] {
			assert.Equal(t, []int{0, 0}, res.SizeComparison[i][j])
		}
	}

	var names []string
	for _, g := range res.Hierarchy {
		names = append(names, g.Name)
	}
	assert.ElementsMatch(t, []string{"cat", "dog", "background"}, names)

	res, err = an.ConfusionMatrix(ctx, testKey, rangeindex.NewFilter().WithValues(rangeindex.Label, 1))
	require.NoError(t, err)
	assert.Equal(t, [][]int{
		{0, 0, 0},
		{1, 0, 1},
		{0, 0, 0},
	}, res.Count)

	_, err = an.ConfusionMatrix(ctx, testKey, rangeindex.NewFilter(), MatrixMode("heat"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidFilter)

	_, err = an.ConfusionMatrix(ctx, matching.ThresholdKey{IoU: 0.9, Conf: 0.1}, rangeindex.NewFilter())
	assert.ErrorIs(t, err, apperrors.ErrUnknownThresholdKey)
}

func TestImagesInCell(t *testing.T) {
	an, _ := newAnalyzer(t, toyCorpus(), Settings{})
	cell, err := an.ImagesInCell(context.Background(), testKey, rangeindex.NewFilter(), []int{1}, []int{0, 2})
	require.NoError(t, err)
	assert.Len(t, cell.Pairs, 2)
	assert.Equal(t, []int{0, 1}, cell.Images)
}

func TestClassStatistics(t *testing.T) {
	an, _ := newAnalyzer(t, toyCorpus(), Settings{})
	ctx := context.Background()

	counts, err := an.ClassStatistics(ctx, testKey, rangeindex.NewFilter(), StatGTCount)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, counts)

	recall, err := an.ClassStatistics(ctx, testKey, rangeindex.NewFilter(), StatRecall)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, recall)

	ap, err := an.ClassStatistics(ctx, testKey, rangeindex.NewFilter(), StatAP)
	require.NoError(t, err)
	assert.InDelta(t, 1, ap[0], 1e-9)
	assert.Zero(t, ap[1])

	_, err = an.ClassStatistics(ctx, testKey, rangeindex.NewFilter(), StatMode("f1"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidFilter)
}

func TestDistributionUsesSideTypes(t *testing.T) {
	an, _ := newAnalyzer(t, toyCorpus(), Settings{})
	ctx := context.Background()

	conf, err := an.Distribution(ctx, testKey, rangeindex.NewFilter(), rangeindex.Confidence, UnitWindow)
	require.NoError(t, err)
	assert.Len(t, conf.Counts, 100)
	assert.Equal(t, 3, conf.Total())

	// tp, cls and the one missed dog; the classified dog is not missed.
	size, err := an.Distribution(ctx, testKey, rangeindex.NewFilter(), rangeindex.LabelSize, UnitWindow)
	require.NoError(t, err)
	assert.Equal(t, 3, size.Total())

	_, err = an.Distribution(ctx, testKey, rangeindex.NewFilter(), rangeindex.Types, UnitWindow)
	assert.ErrorIs(t, err, apperrors.ErrUnknownAttribute)

	hover, err := an.HoverDistributions(ctx, testKey, rangeindex.NewFilter(), map[rangeindex.Attr]rangeindex.Range{
		rangeindex.Confidence: {Min: 0.75, Max: 1},
		rangeindex.LabelSize:  UnitWindow,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, hover[rangeindex.Confidence].Total())
	assert.Equal(t, 3, hover[rangeindex.LabelSize].Total())

	zoom, err := an.ZoomInDistribution(ctx, testKey,
		rangeindex.NewFilter().WithValues(rangeindex.Predict, 0),
		rangeindex.Confidence, rangeindex.Range{Min: 0.5, Max: 1})
	require.NoError(t, err)
	assert.Len(t, zoom.All.Counts, 50)
	assert.Len(t, zoom.Split, 51)
	assert.Equal(t, 3, zoom.All.Total())
	assert.Equal(t, 2, zoom.Selected.Total())
	assert.InDelta(t, 0.5, zoom.Split[0], 1e-12)
	assert.InDelta(t, 1.0, zoom.Split[50], 1e-12)
}

func TestLookups(t *testing.T) {
	an, snap := newAnalyzer(t, toyCorpus(), Settings{})
	ctx := context.Background()

	tp := pairOfType(t, snap, matching.TruePositive)
	im, err := an.ImageOf(ctx, testKey, tp)
	require.NoError(t, err)
	assert.Equal(t, 0, im)

	bg := pairOfType(t, snap, matching.BackgroundFP)
	e, err := an.PairEndpoints(ctx, testKey, bg)
	require.NoError(t, err)
	assert.Nil(t, e.Annotation)
	require.NotNil(t, e.Detection)
	assert.Equal(t, 1, e.Detection.Category)
	assert.Equal(t, direction.None, e.Direction)

	objs, err := an.ImagePairs(ctx, testKey, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{0, 1, 2}, objs.Detections)
	assert.Equal(t, []int{0, 1}, objs.Annotations)
	assert.Nil(t, objs.Context)
	assert.Nil(t, e.DetectionFeature)

	_, err = an.ImagePairs(ctx, testKey, 7)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	rel, err := an.RelatedDetections(ctx, testKey, tp)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, rel.Detections)
	assert.Equal(t, []int{0}, rel.Annotations)

	_, err = an.ImageOf(ctx, testKey, 99)
	assert.ErrorIs(t, err, apperrors.ErrPairNotFound)
}

type constantFeatures struct{ value float32 }

func (f constantFeatures) Features(im corpus.Image, kind corpus.FeatureKind) ([][]float32, bool, error) {
	n := im.Detections.Len()
	if kind == corpus.AnnotationFeatures {
		n = im.Annotations.Len()
	}
	rows := make([][]float32, n)
	for i := range rows {
		rows[i] = []float32{f.value, float32(kind)}
	}
	return rows, true, nil
}

func TestLookupsUseContextAndFeatures(t *testing.T) {
	b := corpus.NewBuilder("ref", corpus.NewCatalog([]string{"cat", "dog"}, nil))
	b.AddImage("b.jpg", 100, 100, nil, []corpus.Annotation{
		{Category: 1, Box: geometry.Box{CX: 0.4, CY: 0.4, W: 0.3, H: 0.3}},
		{Category: 0, Box: geometry.Box{CX: 0.1, CY: 0.1, W: 0.1, H: 0.1}},
	})
	reg, err := engine.New(engine.Options{
		Dataset:    "toy",
		Keys:       []matching.ThresholdKey{testKey},
		Loader:     staticLoader{toyCorpus()},
		Context:    staticLoader{b.Build()},
		Features:   constantFeatures{value: 7},
		FeatureDim: 2,
	})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, reg.Init(ctx))
	an := New(reg, Settings{}, nil)
	snap, err := reg.Get(ctx, testKey)
	require.NoError(t, err)

	objs, err := an.ImagePairs(ctx, testKey, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, objs.Annotations)
	assert.Equal(t, []int{0, 1}, objs.Context)
	for _, id := range objs.Context {
		assert.Equal(t, matching.ContextGT, snap.Context.Table.Pairs[id].Type)
	}

	objs, err = an.ImagePairs(ctx, testKey, 0)
	require.NoError(t, err)
	assert.Empty(t, objs.Context)

	e, err := an.PairEndpoints(ctx, testKey, pairOfType(t, snap, matching.TruePositive))
	require.NoError(t, err)
	assert.Equal(t, []float32{7, float32(corpus.DetectionFeatures)}, e.DetectionFeature)
	assert.Equal(t, []float32{7, float32(corpus.AnnotationFeatures)}, e.AnnotationFeature)

	e, err = an.PairEndpoints(ctx, testKey, pairOfType(t, snap, matching.Missed))
	require.NoError(t, err)
	assert.Nil(t, e.DetectionFeature)
	assert.NotNil(t, e.AnnotationFeature)
}

func TestRelatedDetectionsFindsDuplicates(t *testing.T) {
	box := geometry.Box{CX: 0.5, CY: 0.5, W: 0.4, H: 0.4}
	b := corpus.NewBuilder("dup", corpus.NewCatalog([]string{"cat"}, nil))
	b.AddImage("a.jpg", 10, 10,
		[]corpus.Detection{
			{Category: 0, Confidence: 0.9, Box: box},
			{Category: 0, Confidence: 0.8, Box: geometry.Box{CX: 0.52, CY: 0.5, W: 0.4, H: 0.4}},
		},
		[]corpus.Annotation{{Category: 0, Box: box}},
	)
	an, snap := newAnalyzer(t, b.Build(), Settings{})
	rel, err := an.RelatedDetections(context.Background(), testKey, pairOfType(t, snap, matching.TruePositive))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, rel.Detections)
}

func TestAveragePrecision(t *testing.T) {
	assert.InDelta(t, 1, averagePrecision([]bool{true, true}, 2), 1e-9)
	assert.InDelta(t, 0.5, averagePrecision([]bool{false, true}, 1), 1e-9)
	assert.InDelta(t, 51.0/101.0, averagePrecision([]bool{true}, 2), 1e-9)
	assert.Zero(t, averagePrecision([]bool{true}, 0))
	assert.Zero(t, averagePrecision(nil, 3))
}

func TestWardOrder(t *testing.T) {
	rows := [][]float64{{0, 0}, {10, 10}, {0.1, 0}, {10, 10.1}}
	assert.Equal(t, []int{0, 2, 1, 3}, wardOrder(rows))
	assert.Equal(t, []int{0, 1}, wardOrder(rows[:2]))
	assert.Empty(t, wardOrder(nil))
}

func TestWardOrderFlipsSubtrees(t *testing.T) {
	// Merges are {0,2} and {1,3}; the plain walk yields 1,0,10,11 while
	// flipping the first pair gives the tighter 0,1,10,11.
	rows := [][]float64{{1, 0}, {10, 0}, {0, 0}, {11, 0}}
	assert.Equal(t, []int{2, 0, 1, 3}, wardOrder(rows))

	// Three clusters on a line: the middle one must end up in the middle.
	rows = [][]float64{{0, 0}, {20, 0}, {0.5, 0}, {21, 0}, {9, 0}, {9.5, 0}}
	order := wardOrder(rows)
	require.Len(t, order, 6)
	pos := make(map[int]int, len(order))
	for i, v := range order {
		pos[v] = i
	}
	assert.Contains(t, []int{2, 3}, pos[4])
	assert.Contains(t, []int{2, 3}, pos[5])
}

func TestEqualFrequencySplits(t *testing.T) {
	values := []float64{9, 8, 7, 6, 5, 4, 3, 2, 1, 0}
	splits := equalFrequencySplits(values, 5)
	require.Len(t, splits, 6)
	assert.Equal(t, []float64{0, 2, 4, 6, 8}, splits[:5])
	assert.InDelta(t, 9, splits[5], 1e-5)

	assert.Equal(t, 0, binOf(1, splits))
	assert.Equal(t, 4, binOf(9, splits))
	assert.Equal(t, -1, binOf(-1, splits))
	assert.Equal(t, -1, binOf(10, splits))
	assert.Nil(t, equalFrequencySplits(nil, 5))
}

func TestApriori(t *testing.T) {
	rows := [][]int{{0, 0}, {0, 0}, {0, 1}, {1, 1}}
	sets := apriori(rows, 2, 0.5, 0)
	require.Len(t, sets, 4)
	assert.Equal(t, []item{{0, 0}}, sets[0].items)
	assert.Equal(t, 3, sets[0].count)
	assert.Equal(t, []item{{1, 0}}, sets[1].items)
	assert.Equal(t, []item{{1, 1}}, sets[2].items)
	assert.Equal(t, []item{{0, 0}, {1, 0}}, sets[3].items)
	assert.Equal(t, 2, sets[3].count)

	assert.Len(t, apriori(rows, 2, 0.5, 1), 3)
	assert.Empty(t, apriori(nil, 2, 0.5, 0))
}

// sliceCorpus has 300 perfectly detected cats of varied size and 40 dogs.
func sliceCorpus() *corpus.Corpus {
	r := rand.New(rand.NewPCG(7, 11))
	b := corpus.NewBuilder("slices", corpus.NewCatalog([]string{"cat", "dog"}, nil))
	add := func(cat int) {
		box := geometry.Box{CX: 0.5, CY: 0.5, W: 0.1 + 0.8*r.Float64(), H: 0.1 + 0.8*r.Float64()}
		b.AddImage("img", 100, 100,
			[]corpus.Detection{{Category: cat, Confidence: 0.2 + 0.8*r.Float64(), Box: box}},
			[]corpus.Annotation{{Category: cat, Box: box}},
		)
	}
	for i := 0; i < 300; i++ {
		add(0)
	}
	for i := 0; i < 40; i++ {
		add(1)
	}
	return b.Build()
}

func TestSlices(t *testing.T) {
	an, snap := newAnalyzer(t, sliceCorpus(), Settings{SliceMinCount: 20, SliceMinSupport: 0.05})
	report, err := an.Slices(context.Background(), testKey, rangeindex.NewFilter())
	require.NoError(t, err)
	require.NotEmpty(t, report.Slices)
	assert.Len(t, report.Splits[rangeindex.Confidence], 11)

	for _, s := range report.Slices {
		assert.Equal(t, 0, s.CategoryID, "dogs are below the pair minimum")
		assert.Equal(t, "cat", s.Category)
		assert.GreaterOrEqual(t, s.Quantity, 20)
		assert.GreaterOrEqual(t, s.Support, 0.1)
		assert.LessOrEqual(t, len(s.Items), 3)
		assert.InDelta(t, 1, s.Recall, 1e-9)
		assert.InDelta(t, 1, s.Precision, 1e-9)
		assert.InDelta(t, 1, s.AP, 1e-9)
		for _, it := range s.Items {
			avg := s.Averages[it.Attr]
			assert.True(t, avg >= it.Range.Min && avg <= it.Range.Max, "average of %s outside its bin", it.Attr)
		}

		q := s.Query.WithValues(rangeindex.Types, int(matching.TruePositive))
		n, err := snap.Index.Count(q)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, s.Quantity)
	}
}
