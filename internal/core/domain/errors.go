package domain

import (
	"errors"
	"fmt"
)

// ErrUnknownIndex marks an index name the catalog cannot resolve.
var ErrUnknownIndex = errors.New("unknown index")

// ErrRasterNotFound marks a read of a path the store holds no raster for.
var ErrRasterNotFound = errors.New("raster not found")

// ConfigurationError reports an invalid or inconsistent batch request. It is
// the only error class that aborts a whole batch before any task runs.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "invalid batch configuration: " + e.Reason
}

// CapacityError marks a work item whose estimated cost alone exceeds the
// batch memory budget. The item is recorded as failed without ever executing.
type CapacityError struct {
	Task        string
	EstimatedMB float64
	BudgetMB    float64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("task %s exceeds the maximum memory usage (%.2f MB > %.2f MB)", e.Task, e.EstimatedMB, e.BudgetMB)
}

// EvaluationError reports a formula the raster-algebra engine rejected:
// syntax, unknown band symbols or band numbers outside the input raster.
type EvaluationError struct {
	Formula string
	Reason  string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate %q: %s", e.Formula, e.Reason)
}
