package domain

import "time"

// CalculationStatus classifies how the calculation stage of a work item ended.
type CalculationStatus string

const (
	CalculationStatusSuccess   CalculationStatus = "success"   // Raster computed and staged
	CalculationStatusError     CalculationStatus = "error"     // Rejected input: formula, capacity, bands
	CalculationStatusException CalculationStatus = "exception" // Unexpected environment failure
)

// SavingStatusSuccess marks a confirmed write of the final output. A failed
// save carries an "error - ..." status with the cause appended.
const SavingStatusSuccess = "success"

// WorkItem is one (input file, index) pairing scheduled for execution. Items
// are created in request order and keep that order through their Seq, no
// matter when they finish.
type WorkItem struct {
	Seq               int
	InputFile         string
	Index             string
	Formula           string
	BandMapping       map[string]int
	StagingPath       string
	OutputPath        string
	EstimatedMemoryMB float64
}

// Description names the item the way it shows up in logs and capacity errors.
func (w *WorkItem) Description() string {
	return "Calculate " + w.Index
}

// TaskResult is the recorded outcome of one work item. Exactly one result
// exists per item; once recorded it is never mutated.
type TaskResult struct {
	Index             string            `json:"index"`
	InputFile         string            `json:"input_file"`
	CalculationStatus CalculationStatus `json:"calculation_status"`
	Message           string            `json:"message,omitempty"`
	OutputFile        string            `json:"output_file,omitempty"`
	TimeSpent         time.Duration     `json:"time_spent"`
	SavingStatus      string            `json:"saving_status,omitempty"`
	EstimatedMemoryMB float64           `json:"estimated_memory_mb"`
}

// Succeeded reports whether the item was calculated and its output persisted.
func (r *TaskResult) Succeeded() bool {
	return r.CalculationStatus == CalculationStatusSuccess && r.SavingStatus == SavingStatusSuccess
}
