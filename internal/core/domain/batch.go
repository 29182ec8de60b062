// Package domain provides the batch, work item and raster structs shared by
// the scheduler core and its adapters.
package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	// InMemoryNamespace is the path prefix of the transient staging area.
	// Rasters written under it never touch physical disk.
	InMemoryNamespace = "/vsimem/"

	DefaultOutputDir        = InMemoryNamespace
	DefaultMaxMemoryUsageMB = 1024
	DefaultMaxActiveTasks   = 5
)

// BatchRequest is the immutable description of one calculation batch.
type BatchRequest struct {
	InputFiles       []string       `json:"input_files"`
	SelectedIndices  []string       `json:"selected_indices"`
	BandMapping      map[string]int `json:"band_mapping"`
	OutputDir        string         `json:"output_dir"`
	MaxMemoryUsageMB float64        `json:"max_memory_usage_mb"`
	MaxActiveTasks   int            `json:"max_active_tasks"`
}

// NewBatchRequest builds a request from the caller-facing surface. Selected
// indices are parsed from a comma-delimited list; tokens are trimmed but kept
// even when empty so a misspelled list fails validation instead of shrinking
// silently. Zero values for the output directory, the memory budget and the
// concurrency cap fall back to the defaults.
func NewBatchRequest(inputFiles []string, selectedIndices string, bandMapping map[string]int, outputDir string, maxMemoryUsageMB float64, maxActiveTasks int) *BatchRequest {
	indices := strings.Split(selectedIndices, ",")
	for i := range indices {
		indices[i] = strings.TrimSpace(indices[i])
	}
	if outputDir == "" {
		outputDir = DefaultOutputDir
	}
	if maxMemoryUsageMB == 0 {
		maxMemoryUsageMB = DefaultMaxMemoryUsageMB
	}
	if maxActiveTasks == 0 {
		maxActiveTasks = DefaultMaxActiveTasks
	}

	return &BatchRequest{
		InputFiles:       inputFiles,
		SelectedIndices:  indices,
		BandMapping:      bandMapping,
		OutputDir:        outputDir,
		MaxMemoryUsageMB: maxMemoryUsageMB,
		MaxActiveTasks:   maxActiveTasks,
	}
}

// Validate enforces the structural invariants of the request. Index names and
// band coverage are validated separately against the catalog.
func (r *BatchRequest) Validate() error {
	if len(r.InputFiles) == 0 {
		return &ConfigurationError{Reason: "no input files"}
	}
	if len(r.SelectedIndices) == 0 {
		return &ConfigurationError{Reason: "no indices selected"}
	}
	if r.MaxMemoryUsageMB <= 0 {
		return &ConfigurationError{Reason: fmt.Sprintf("max memory usage must be positive, got %v MB", r.MaxMemoryUsageMB)}
	}
	if r.MaxActiveTasks < 1 {
		return &ConfigurationError{Reason: fmt.Sprintf("max active tasks must be at least 1, got %d", r.MaxActiveTasks)}
	}
	for band, number := range r.BandMapping {
		if number < 1 {
			return &ConfigurationError{Reason: fmt.Sprintf("band %q maps to invalid band number %d", band, number)}
		}
	}
	return nil
}

// BatchReport is the outcome of one batch run: exactly one TaskResult per
// (input file, index) pair, in creation order.
type BatchReport struct {
	BatchID   string        `json:"batch_id"`
	Results   []TaskResult  `json:"results"`
	TotalTime time.Duration `json:"total_time"`
}

// Succeeded counts results that were both calculated and persisted.
func (r *BatchReport) Succeeded() int {
	count := 0
	for i := range r.Results {
		if r.Results[i].Succeeded() {
			count++
		}
	}
	return count
}

// Failed counts results that failed calculation or persistence.
func (r *BatchReport) Failed() int {
	return len(r.Results) - r.Succeeded()
}
