package postgres

import (
	"context"
	"time"

	"github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	storage "github.com/verdantgeo/raster-index-scheduler/config/storage/postgresql"
	"github.com/verdantgeo/raster-index-scheduler/internal/core/domain"
	"github.com/verdantgeo/raster-index-scheduler/internal/core/port"
)

type reportRepository struct {
	db  *storage.DB
	log *zap.Logger
}

// NewReportRepository creates a new postgres repository for batch reports
func NewReportRepository(db *storage.DB, log *zap.Logger) port.ReportRepository {
	return &reportRepository{
		db:  db,
		log: log,
	}
}

// SaveReport stores the batch row and every task result in one transaction.
func (r *reportRepository) SaveReport(ctx context.Context, report *domain.BatchReport) error {
	batchSQL, batchArgs, err := r.db.QueryBuilder.
		Insert("batches").
		Columns("id", "task_count", "succeeded", "total_time_ms").
		Values(report.BatchID, len(report.Results), report.Succeeded(), report.TotalTime.Milliseconds()).
		ToSql()
	if err != nil {
		return err
	}

	insert := r.db.QueryBuilder.
		Insert("task_results").
		Columns("batch_id", "seq", "index_name", "input_file", "calculation_status",
			"message", "output_file", "saving_status", "time_spent_ms", "estimated_memory_mb")
	for seq := range report.Results {
		result := &report.Results[seq]
		insert = insert.Values(report.BatchID, seq, result.Index, result.InputFile,
			string(result.CalculationStatus), result.Message, result.OutputFile,
			result.SavingStatus, result.TimeSpent.Milliseconds(), result.EstimatedMemoryMB)
	}
	resultsSQL, resultsArgs, err := insert.ToSql()
	if err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, batchSQL, batchArgs...); err != nil {
		r.log.Error("Failed to save batch", zap.String("batch_id", report.BatchID), zap.Error(err))
		return err
	}
	if _, err := tx.Exec(ctx, resultsSQL, resultsArgs...); err != nil {
		r.log.Error("Failed to save task results", zap.String("batch_id", report.BatchID), zap.Error(err))
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	r.log.Info("Batch report saved",
		zap.String("batch_id", report.BatchID),
		zap.Int("task_count", len(report.Results)))
	return nil
}

// ListBatchResults returns a batch's task results in their request order.
func (r *reportRepository) ListBatchResults(ctx context.Context, batchID string) ([]domain.TaskResult, error) {
	query, args, err := r.db.QueryBuilder.
		Select("index_name", "input_file", "calculation_status", "message",
			"output_file", "saving_status", "time_spent_ms", "estimated_memory_mb").
		From("task_results").
		Where(squirrel.Eq{"batch_id": batchID}).
		OrderBy("seq ASC").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.TaskResult
	for rows.Next() {
		var result domain.TaskResult
		var status string
		var timeSpentMs int64
		if err := rows.Scan(&result.Index, &result.InputFile, &status, &result.Message,
			&result.OutputFile, &result.SavingStatus, &timeSpentMs, &result.EstimatedMemoryMB); err != nil {
			return nil, err
		}
		result.CalculationStatus = domain.CalculationStatus(status)
		result.TimeSpent = time.Duration(timeSpentMs) * time.Millisecond
		results = append(results, result)
	}
	return results, rows.Err()
}
