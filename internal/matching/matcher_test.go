package matching

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultThresholds = Thresholds{Pos: 0.5, Conf: 0.1, Background: DefaultBackgroundIoU}

func TestMatchImage(t *testing.T) {
	tests := []struct {
		name string
		in   ImageInput
		th   Thresholds
		want []Pair
	}{
		{
			name: "true positive",
			in: ImageInput{
				DetCategory: []int{3}, DetConfidence: []float64{0.9},
				AnnCategory: []int{3}, AnnCrowd: []bool{false},
				IoU: [][]float64{{0.99}},
			},
			want: []Pair{{Detection: 0, Annotation: 0, IoU: 0.99, Type: TruePositive}},
		},
		{
			name: "classification error",
			in: ImageInput{
				DetCategory: []int{7}, DetConfidence: []float64{0.9},
				AnnCategory: []int{3}, AnnCrowd: []bool{false},
				IoU: [][]float64{{0.6}},
			},
			want: []Pair{{Detection: 0, Annotation: 0, IoU: 0.6, Type: ClsError}},
		},
		{
			name: "higher confidence localization keeps its duplicate label",
			in: ImageInput{
				DetCategory: []int{3, 3}, DetConfidence: []float64{0.9, 0.7},
				AnnCategory: []int{3}, AnnCrowd: []bool{false},
				IoU: [][]float64{{0.4}, {0.6}},
			},
			want: []Pair{
				{Detection: 0, Annotation: 0, IoU: 0.4, Type: DupLoc},
				{Detection: 1, Annotation: 0, IoU: 0.6, Type: TruePositive},
			},
		},
		{
			name: "background and miss",
			in: ImageInput{
				DetCategory: []int{3}, DetConfidence: []float64{0.9},
				AnnCategory: []int{3}, AnnCrowd: []bool{false},
				IoU: [][]float64{{0.05}},
			},
			want: []Pair{
				{Detection: 0, Annotation: None, IoU: 0, Type: BackgroundFP},
				{Detection: None, Annotation: 0, IoU: 0, Type: Missed},
			},
		},
		{
			name: "confidence threshold is strict",
			in: ImageInput{
				DetCategory: []int{3}, DetConfidence: []float64{0.1},
				AnnCategory: []int{3}, AnnCrowd: []bool{false},
				IoU: [][]float64{{0.9}},
			},
			want: []Pair{{Detection: None, Annotation: 0, IoU: 0, Type: Missed}},
		},
		{
			name: "claimed annotation is skipped for the next candidate",
			in: ImageInput{
				DetCategory: []int{1, 1}, DetConfidence: []float64{0.9, 0.8},
				AnnCategory: []int{1, 1}, AnnCrowd: []bool{false, false},
				IoU: [][]float64{{0.8, 0.6}, {0.7, 0.55}},
			},
			want: []Pair{
				{Detection: 0, Annotation: 0, IoU: 0.8, Type: TruePositive},
				{Detection: 1, Annotation: 1, IoU: 0.55, Type: TruePositive},
			},
		},
		{
			name: "soft preference spreads localization errors",
			in: ImageInput{
				DetCategory: []int{1, 1}, DetConfidence: []float64{0.9, 0.8},
				AnnCategory: []int{1, 1}, AnnCrowd: []bool{false, false},
				IoU: [][]float64{{0.4, 0.35}, {0.4, 0.35}},
			},
			want: []Pair{
				{Detection: 0, Annotation: 0, IoU: 0.4, Type: LocError},
				{Detection: 1, Annotation: 1, IoU: 0.35, Type: LocError},
			},
		},
		{
			name: "detection inside crowd is ignored",
			in: ImageInput{
				DetCategory: []int{1}, DetConfidence: []float64{0.9},
				AnnCategory: []int{1}, AnnCrowd: []bool{true},
				IoU: [][]float64{{0.8}},
			},
			want: nil,
		},
		{
			name: "crowd suppression applies next to a weak solid candidate",
			in: ImageInput{
				DetCategory: []int{1}, DetConfidence: []float64{0.9},
				AnnCategory: []int{1, 1}, AnnCrowd: []bool{false, true},
				IoU: [][]float64{{0.3, 0.9}},
			},
			want: []Pair{{Detection: None, Annotation: 0, IoU: 0, Type: Missed}},
		},
		{
			name: "true positive beats crowd suppression",
			in: ImageInput{
				DetCategory: []int{1}, DetConfidence: []float64{0.9},
				AnnCategory: []int{1, 1}, AnnCrowd: []bool{false, true},
				IoU: [][]float64{{0.6, 0.9}},
			},
			want: []Pair{{Detection: 0, Annotation: 0, IoU: 0.6, Type: TruePositive}},
		},
		{
			name: "weak crowd overlap only yields no pair",
			in: ImageInput{
				DetCategory: []int{1}, DetConfidence: []float64{0.9},
				AnnCategory: []int{1}, AnnCrowd: []bool{true},
				IoU: [][]float64{{0.3}},
			},
			want: nil,
		},
		{
			name: "other class crowd overlap only yields no pair",
			in: ImageInput{
				DetCategory: []int{2}, DetConfidence: []float64{0.9},
				AnnCategory: []int{1}, AnnCrowd: []bool{true},
				IoU: [][]float64{{0.8}},
			},
			want: nil,
		},
		{
			name: "weak same class crowd and other class crowd yield no pair",
			in: ImageInput{
				DetCategory: []int{1}, DetConfidence: []float64{0.9},
				AnnCategory: []int{1, 2}, AnnCrowd: []bool{true, true},
				IoU: [][]float64{{0.3, 0.7}},
			},
			want: nil,
		},
		{
			name: "weak same class crowd falls through to other class match",
			in: ImageInput{
				DetCategory: []int{1}, DetConfidence: []float64{0.9},
				AnnCategory: []int{1, 2}, AnnCrowd: []bool{true, false},
				IoU: [][]float64{{0.3, 0.6}},
			},
			want: []Pair{{Detection: 0, Annotation: 1, IoU: 0.6, Type: ClsError}},
		},
		{
			name: "classification plus localization still counts as a miss",
			in: ImageInput{
				DetCategory: []int{2}, DetConfidence: []float64{0.9},
				AnnCategory: []int{1}, AnnCrowd: []bool{false},
				IoU: [][]float64{{0.3}},
			},
			want: []Pair{
				{Detection: 0, Annotation: 0, IoU: 0.3, Type: ClsLocError},
				{Detection: None, Annotation: 0, IoU: 0, Type: Missed},
			},
		},
		{
			name: "same category match blocks cross category match",
			in: ImageInput{
				DetCategory: []int{1}, DetConfidence: []float64{0.9},
				AnnCategory: []int{1, 2}, AnnCrowd: []bool{false, false},
				IoU: [][]float64{{0.2, 0.9}},
			},
			want: []Pair{
				{Detection: 0, Annotation: 0, IoU: 0.2, Type: LocError},
				{Detection: None, Annotation: 1, IoU: 0, Type: Missed},
			},
		},
		{
			name: "secondary classification duplicates per predicted category",
			in: ImageInput{
				DetCategory:   []int{2, 2, 3, 3},
				DetConfidence: []float64{0.9, 0.8, 0.7, 0.6},
				AnnCategory:   []int{1}, AnnCrowd: []bool{false},
				IoU: [][]float64{{0.7}, {0.6}, {0.65}, {0.3}},
			},
			want: []Pair{
				{Detection: 0, Annotation: 0, IoU: 0.7, Type: ClsError},
				{Detection: 1, Annotation: 0, IoU: 0.6, Type: DupCls},
				{Detection: 2, Annotation: 0, IoU: 0.65, Type: ClsSecondary},
				{Detection: 3, Annotation: 0, IoU: 0.3, Type: DupClsLoc},
			},
		},
		{
			name: "secondary falls back to classification plus localization",
			in: ImageInput{
				DetCategory:   []int{2, 3, 3},
				DetConfidence: []float64{0.9, 0.8, 0.7},
				AnnCategory:   []int{1}, AnnCrowd: []bool{false},
				IoU: [][]float64{{0.7}, {0.3}, {0.2}},
			},
			want: []Pair{
				{Detection: 0, Annotation: 0, IoU: 0.7, Type: ClsError},
				{Detection: 1, Annotation: 0, IoU: 0.3, Type: ClsLocSecondary},
				{Detection: 2, Annotation: 0, IoU: 0.2, Type: DupClsLoc},
			},
		},
		{
			name: "processing follows confidence not input order",
			in: ImageInput{
				DetCategory: []int{1, 1}, DetConfidence: []float64{0.3, 0.9},
				AnnCategory: []int{1}, AnnCrowd: []bool{false},
				IoU: [][]float64{{0.9}, {0.8}},
			},
			want: []Pair{
				{Detection: 1, Annotation: 0, IoU: 0.8, Type: TruePositive},
				{Detection: 0, Annotation: 0, IoU: 0.9, Type: DupTruePositive},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := tt.th
			if th == (Thresholds{}) {
				th = defaultThresholds
			}
			got := MatchImage(tt.in, th)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("MatchImage() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMatchImageRaisingPosMovesTowardLocalization(t *testing.T) {
	in := ImageInput{
		DetCategory: []int{1, 2}, DetConfidence: []float64{0.9, 0.8},
		AnnCategory: []int{1, 1}, AnnCrowd: []bool{false, false},
		IoU: [][]float64{{0.6, 0}, {0, 0.6}},
	}
	low := MatchImage(in, Thresholds{Pos: 0.5, Conf: 0.1, Background: 0.1})
	high := MatchImage(in, Thresholds{Pos: 0.75, Conf: 0.1, Background: 0.1})
	require.Len(t, low, 2)
	require.Len(t, high, 3)

	assert.Equal(t, TruePositive, low[0].Type)
	assert.Equal(t, LocError, high[0].Type)
	assert.Equal(t, ClsError, low[1].Type)
	assert.Equal(t, ClsLocError, high[1].Type)
	assert.Equal(t, Pair{Detection: None, Annotation: 1, Type: Missed}, high[2])
}

func TestErrorTypeHelpers(t *testing.T) {
	assert.Equal(t, TruePositive, DupTruePositive.Promote())
	assert.Equal(t, ClsLocError, DupClsLoc.Promote())
	assert.Equal(t, Missed, Missed.Promote())
	assert.True(t, ClsLocError.IsPrimary())
	assert.False(t, Abandoned.IsPrimary())
	assert.True(t, DupCls.IsDuplicate())
	assert.False(t, ClsSecondary.IsDuplicate())
	assert.True(t, DupTruePositive.Localized())
	assert.False(t, LocError.Localized())
	assert.Equal(t, "cls_loc_secondary", ClsLocSecondary.String())
	assert.Equal(t, "ErrorType(42)", ErrorType(42).String())
	assert.Equal(t, 14, NumTypes)
	assert.Equal(t, "iou=0.50,conf=0.10", ThresholdKey{IoU: 0.5, Conf: 0.1}.String())
}

func TestThresholdKeyID(t *testing.T) {
	a := ThresholdKey{IoU: 0.5, Conf: 0.1}
	b := ThresholdKey{IoU: 0.504, Conf: 0.1}
	assert.Equal(t, a.String(), b.String())
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, "iou=0.5,conf=0.1", a.ID())
	assert.Equal(t, "iou=0.504,conf=0.1", b.ID())
}
