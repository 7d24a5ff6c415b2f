package store

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/analysis"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/matching"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/rangeindex"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/postgres"
)

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	db, err := postgres.New(config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "detectionanalytics_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "detectionanalytics"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func sampleReport(key matching.ThresholdKey) analysis.SliceReport {
	q := rangeindex.NewFilter().
		WithRange(rangeindex.LabelSize, rangeindex.Range{Min: 0.1, Max: 0.2}).
		WithValues(rangeindex.Label, 0)
	return analysis.SliceReport{
		Key: key,
		Slices: []analysis.Slice{{
			Category:   "cat",
			CategoryID: 0,
			Items: []analysis.SliceItem{
				{Attr: rangeindex.LabelSize, Bin: 2, Range: rangeindex.Range{Min: 0.1, Max: 0.2}},
			},
			Support:     0.25,
			Quantity:    60,
			Precision:   0.8,
			Recall:      0.7,
			AP:          0.65,
			Averages:    map[rangeindex.Attr]float64{rangeindex.LabelSize: 0.15},
			Percentiles: map[rangeindex.Attr]float64{rangeindex.LabelSize: 0.15},
			Query:       q,
		}},
		Splits: map[rangeindex.Attr][]float64{rangeindex.LabelSize: {0, 0.1, 0.2}},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	db := skipIfNoPostgres(t)
	ctx := context.Background()
	s := New(db)
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx), "migration must be repeatable")

	dataset := "store-test-" + uuid.NewString()
	t.Cleanup(func() {
		db.DB.Exec(`DELETE FROM slice_reports WHERE dataset = $1`, dataset)
	})

	key := matching.ThresholdKey{IoU: 0.5, Conf: 0.1}
	none, err := s.Latest(ctx, dataset, key.IoU, key.Conf)
	require.NoError(t, err)
	assert.Nil(t, none)

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return base }
	first, err := s.Save(ctx, dataset, "v1", sampleReport(key))
	require.NoError(t, err)
	s.now = func() time.Time { return base.Add(time.Hour) }
	second, err := s.Save(ctx, dataset, "v2", sampleReport(key))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	latest, err := s.Latest(ctx, dataset, key.IoU, key.Conf)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, "v2", latest.Version)
	require.Len(t, latest.Report.Slices, 1)
	assert.Equal(t, "cat", latest.Report.Slices[0].Category)
	assert.Equal(t, rangeindex.Range{Min: 0.1, Max: 0.2}, latest.Report.Slices[0].Query.Ranges[rangeindex.LabelSize])
	assert.Equal(t, []int{0}, latest.Report.Slices[0].Query.Sets[rangeindex.Label])

	runs, err := s.List(ctx, dataset, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)
	assert.Equal(t, first.ID, runs[1].ID)

	removed, err := s.Prune(ctx, dataset, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	runs, err = s.List(ctx, dataset, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, second.ID, runs[0].ID)
}
