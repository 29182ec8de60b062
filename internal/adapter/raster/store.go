// Package raster stores rasters as GeoTIFF files, either on disk or in a
// process-local in-memory filesystem under the /vsimem/ namespace.
package raster

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/verdantgeo/raster-index-scheduler/internal/core/domain"
)

type Store struct {
	mu  sync.RWMutex
	mem map[string][]byte
	log *zap.Logger
}

func NewStore(log *zap.Logger) *Store {
	return &Store{
		mem: make(map[string][]byte),
		log: log.Named("raster_store"),
	}
}

func inMemory(path string) bool {
	return strings.HasPrefix(path, domain.InMemoryNamespace)
}

// Describe reads the raster dimensions without loading pixel data, so pricing
// a batch stays cheap even for large inputs.
func (s *Store) Describe(ctx context.Context, path string) (domain.RasterInfo, error) {
	if inMemory(path) {
		s.mu.RLock()
		data, ok := s.mem[path]
		s.mu.RUnlock()
		if !ok {
			return domain.RasterInfo{}, fmt.Errorf("%w: %s", domain.ErrRasterNotFound, path)
		}
		return decodeInfo(bytes.NewReader(data))
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.RasterInfo{}, fmt.Errorf("%w: %s", domain.ErrRasterNotFound, path)
		}
		return domain.RasterInfo{}, err
	}
	defer f.Close()
	return decodeInfo(f)
}

func (s *Store) Read(ctx context.Context, path string) (*domain.Raster, error) {
	data, err := s.readFile(path)
	if err != nil {
		return nil, err
	}
	raster, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return raster, nil
}

func (s *Store) readFile(path string) ([]byte, error) {
	if inMemory(path) {
		s.mu.RLock()
		data, ok := s.mem[path]
		s.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrRasterNotFound, path)
		}
		return data, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrRasterNotFound, path)
		}
		return nil, err
	}
	return data, nil
}

func (s *Store) Write(ctx context.Context, path string, raster *domain.Raster) error {
	var buf bytes.Buffer
	if err := encode(&buf, raster); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	if inMemory(path) {
		s.mu.Lock()
		s.mem[path] = buf.Bytes()
		s.mu.Unlock()
		s.log.Debug("Raster stored in memory", zap.String("path", path), zap.Int("bytes", buf.Len()))
		return nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return err
	}
	s.log.Debug("Raster stored on disk", zap.String("path", path), zap.Int("bytes", buf.Len()))
	return nil
}

// Remove is idempotent: deleting a path that does not exist is not an error.
func (s *Store) Remove(ctx context.Context, path string) error {
	if inMemory(path) {
		s.mu.Lock()
		delete(s.mem, path)
		s.mu.Unlock()
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// BandStatistics computes min, max, mean and population standard deviation
// over one band, matching what raster libraries report for full-image stats.
func (s *Store) BandStatistics(ctx context.Context, path string, band int) (domain.BandStats, error) {
	raster, err := s.Read(ctx, path)
	if err != nil {
		return domain.BandStats{}, err
	}
	if band < 1 || band > raster.Bands {
		return domain.BandStats{}, fmt.Errorf("band %d out of range for %s (%d bands)", band, path, raster.Bands)
	}

	samples := raster.Band(band)
	stats := domain.BandStats{Min: math.Inf(1), Max: math.Inf(-1)}
	var sum float64
	for _, v := range samples {
		if v < stats.Min {
			stats.Min = v
		}
		if v > stats.Max {
			stats.Max = v
		}
		sum += v
	}
	stats.Mean = sum / float64(len(samples))

	var sq float64
	for _, v := range samples {
		d := v - stats.Mean
		sq += d * d
	}
	stats.StdDev = math.Sqrt(sq / float64(len(samples)))
	return stats, nil
}
