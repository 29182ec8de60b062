package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/verdantgeo/raster-index-scheduler/internal/core/domain"
	"go.uber.org/zap"
)

// fixedStats returns the same statistics for every (path, band) lookup.
type fixedStats struct {
	stats domain.BandStats
}

func (s *fixedStats) BandStatistics(_ context.Context, _ string, _ int) (domain.BandStats, error) {
	return s.stats, nil
}

var rgbMapping = map[string]int{"R": 1, "G": 2, "B": 3}

func TestResolve(t *testing.T) {
	t.Parallel()

	c := New(&fixedStats{}, zap.NewNop())

	formula, err := c.Resolve("ExG_wernette")
	require.NoError(t, err)
	assert.Equal(t, "2 * G - R - B", formula, "formula should come back verbatim")

	_, err = c.Resolve("NDVI")
	require.Error(t, err, "NDVI needs a near-infrared band and is not built in")
	assert.ErrorIs(t, err, domain.ErrUnknownIndex)
}

func TestNames(t *testing.T) {
	t.Parallel()

	names := Names()
	assert.Len(t, names, 32, "every built-in formula should be listed")
	assert.Contains(t, names, "ExG_wernette")
	assert.Contains(t, names, "ExR_stary")
	assert.IsIncreasing(t, names, "names should be sorted")
}

func TestRequiredBands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		index string
		want  []string
	}{
		{index: "Rnorm", want: []string{"R"}},
		{index: "ExG_wernette", want: []string{"B", "G", "R"}},
		{index: "ExG_stary", want: []string{"B", "G", "R"}},
		{index: "ExGRnorm_george", want: []string{"B", "G", "R"}},
		{index: "ExR_stary", want: []string{"MISSING"}},
		{index: "ExGR_stary", want: []string{"B", "G", "MISSING", "R"}},
	}

	c := New(&fixedStats{}, zap.NewNop())
	for _, tt := range tests {
		tt := tt
		t.Run(tt.index, func(t *testing.T) {
			t.Parallel()
			bands, err := c.RequiredBands(tt.index)
			require.NoError(t, err)
			assert.Equal(t, tt.want, bands)
		})
	}
}

func TestRequiredBandsUnknownIndex(t *testing.T) {
	t.Parallel()

	c := New(&fixedStats{}, zap.NewNop())
	_, err := c.RequiredBands("NDWI")
	assert.ErrorIs(t, err, domain.ErrUnknownIndex)
}

func TestExpandSubstitutesBandStatistics(t *testing.T) {
	t.Parallel()

	c := New(&fixedStats{stats: domain.BandStats{Max: 255}}, zap.NewNop())

	formula, err := c.Expand(context.Background(), "Rnorm", "field.tiff", rgbMapping)
	require.NoError(t, err)
	assert.Equal(t, "R / 255", formula)
}

func TestExpandInlinesNestedIndices(t *testing.T) {
	t.Parallel()

	c := New(&fixedStats{}, zap.NewNop())

	formula, err := c.Expand(context.Background(), "ExG_stary", "field.tiff", rgbMapping)
	require.NoError(t, err)
	assert.Equal(t, "2 * (G / (R + G + B)) - (R / (R + G + B)) - (B / (R + G + B))", formula)
	assert.NotContains(t, formula, "func_", "expansion should reach a fixpoint")
}

func TestExpandAllStatisticKinds(t *testing.T) {
	t.Parallel()

	c := &catalog{
		formulas: map[string]string{
			"spread": "(func_band_max(G) - func_band_min(G)) / (func_band_mean(G) + func_band_stddev(G))",
		},
		stats: &fixedStats{stats: domain.BandStats{Min: 2, Max: 250, Mean: 100.5, StdDev: 12.25}},
		log:   zap.NewNop(),
	}

	formula, err := c.Expand(context.Background(), "spread", "field.tiff", rgbMapping)
	require.NoError(t, err)
	assert.Equal(t, "(250 - 2) / (100.5 + 12.25)", formula)
}

func TestExpandErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		formulas map[string]string
		index    string
		mapping  map[string]int
		wantErr  string
	}{
		{
			name:     "cycle between definitions",
			formulas: map[string]string{"A": "func_index(B)", "B": "func_index(A)"},
			index:    "A",
			mapping:  rgbMapping,
			wantErr:  "cycle",
		},
		{
			name:     "unknown special function",
			formulas: map[string]string{"X": "func_bogus(R)"},
			index:    "X",
			mapping:  rgbMapping,
			wantErr:  "unknown special function",
		},
		{
			name:     "statistic band not mapped",
			formulas: map[string]string{"X": "func_band_max(N)"},
			index:    "X",
			mapping:  rgbMapping,
			wantErr:  "missing from the band mapping",
		},
		{
			name:     "nested index unknown",
			formulas: map[string]string{"X": "func_index(Y)"},
			index:    "X",
			mapping:  rgbMapping,
			wantErr:  "unknown index",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := &catalog{formulas: tt.formulas, stats: &fixedStats{}, log: zap.NewNop()}
			_, err := c.Expand(context.Background(), tt.index, "field.tiff", tt.mapping)
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
