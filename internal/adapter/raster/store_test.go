package raster

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/verdantgeo/raster-index-scheduler/internal/core/domain"
)

func testRaster(width, height, bands int, dtype domain.DataType) *domain.Raster {
	r := domain.NewRaster(width, height, bands, dtype)
	for i := range r.Samples {
		r.Samples[i] = float64(i % 251)
	}
	return r
}

func TestInMemoryRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewStore(zap.NewNop())
	ctx := context.Background()
	original := testRaster(16, 9, 3, domain.DataTypeByte)

	require.NoError(t, store.Write(ctx, "/vsimem/input_0.tiff", original))

	info, err := store.Describe(ctx, "/vsimem/input_0.tiff")
	require.NoError(t, err)
	assert.Equal(t, domain.RasterInfo{Width: 16, Height: 9, Bands: 3, DataType: domain.DataTypeByte}, info)

	decoded, err := store.Read(ctx, "/vsimem/input_0.tiff")
	require.NoError(t, err)
	assert.Equal(t, original.Samples, decoded.Samples)
}

func TestDiskRoundTripFloat32(t *testing.T) {
	t.Parallel()

	store := NewStore(zap.NewNop())
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out", "nested", "ExG_0.tiff")

	original := domain.NewRaster(4, 2, 1, domain.DataTypeFloat32)
	copy(original.Samples, []float64{-1.5, 0, 0.25, math.NaN(), 1e6, -3.125, 255.75, 42})

	require.NoError(t, store.Write(ctx, path, original))

	decoded, err := store.Read(ctx, path)
	require.NoError(t, err)
	require.Len(t, decoded.Samples, 8)
	assert.Equal(t, domain.DataTypeFloat32, decoded.DataType)
	for i, want := range original.Samples {
		if math.IsNaN(want) {
			assert.True(t, math.IsNaN(decoded.Samples[i]), "sample %d", i)
			continue
		}
		assert.InDelta(t, want, decoded.Samples[i], 1e-3, "sample %d", i)
	}
}

func TestDiskWriteClampsByteSamples(t *testing.T) {
	t.Parallel()

	store := NewStore(zap.NewNop())
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "clamped.tiff")

	original := domain.NewRaster(2, 2, 1, domain.DataTypeByte)
	copy(original.Samples, []float64{-5, 300, 12.6, math.NaN()})

	require.NoError(t, store.Write(ctx, path, original))

	decoded, err := store.Read(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 255, 13, 0}, decoded.Samples)
}

func TestDescribeDoesNotNeedPixelData(t *testing.T) {
	t.Parallel()

	store := NewStore(zap.NewNop())
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "wide.tiff")
	require.NoError(t, store.Write(ctx, path, testRaster(64, 32, 4, domain.DataTypeByte)))

	// Truncate the strips away; the header and IFD stay intact.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:256], 0o644))

	info, err := store.Describe(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, domain.RasterInfo{Width: 64, Height: 32, Bands: 4, DataType: domain.DataTypeByte}, info)
}

func TestReadMissingRaster(t *testing.T) {
	t.Parallel()

	store := NewStore(zap.NewNop())
	ctx := context.Background()

	_, err := store.Read(ctx, "/vsimem/never_written.tiff")
	assert.ErrorIs(t, err, domain.ErrRasterNotFound)

	_, err = store.Describe(ctx, filepath.Join(t.TempDir(), "missing.tiff"))
	assert.ErrorIs(t, err, domain.ErrRasterNotFound)
}

func TestReadRejectsForeignFile(t *testing.T) {
	t.Parallel()

	store := NewStore(zap.NewNop())
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("these are not the rasters you are looking for"), 0o644))

	_, err := store.Read(ctx, path)
	assert.ErrorContains(t, err, "not a little-endian TIFF file")
}

func TestRemoveIsIdempotent(t *testing.T) {
	t.Parallel()

	store := NewStore(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "/vsimem/tmp.tiff", testRaster(2, 2, 1, domain.DataTypeByte)))
	require.NoError(t, store.Remove(ctx, "/vsimem/tmp.tiff"))
	_, err := store.Read(ctx, "/vsimem/tmp.tiff")
	assert.ErrorIs(t, err, domain.ErrRasterNotFound)

	assert.NoError(t, store.Remove(ctx, "/vsimem/tmp.tiff"))
	assert.NoError(t, store.Remove(ctx, filepath.Join(t.TempDir(), "missing.tiff")))
}

func TestBandStatistics(t *testing.T) {
	t.Parallel()

	store := NewStore(zap.NewNop())
	ctx := context.Background()

	r := domain.NewRaster(2, 2, 2, domain.DataTypeByte)
	copy(r.Band(1), []float64{10, 20, 30, 40})
	copy(r.Band(2), []float64{5, 5, 5, 5})
	require.NoError(t, store.Write(ctx, "/vsimem/stats.tiff", r))

	stats, err := store.BandStatistics(ctx, "/vsimem/stats.tiff", 1)
	require.NoError(t, err)
	assert.InDelta(t, 10, stats.Min, 1e-9)
	assert.InDelta(t, 40, stats.Max, 1e-9)
	assert.InDelta(t, 25, stats.Mean, 1e-9)
	assert.InDelta(t, math.Sqrt(125), stats.StdDev, 1e-9)

	flat, err := store.BandStatistics(ctx, "/vsimem/stats.tiff", 2)
	require.NoError(t, err)
	assert.Zero(t, flat.StdDev)
	assert.InDelta(t, 5, flat.Mean, 1e-9)

	_, err = store.BandStatistics(ctx, "/vsimem/stats.tiff", 3)
	assert.ErrorContains(t, err, "out of range")
}
