// Package worker provides background job processing for AQIPulse.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aqipulse/aqipulse/internal/forecast"
	"github.com/aqipulse/aqipulse/internal/readings"
)

// DefaultRetrainTimeout bounds a single retraining run.
const DefaultRetrainTimeout = 5 * time.Minute

// RetrainJob refreshes the readings cache and retrains both forecast
// models from the fresh dataset.
type RetrainJob struct {
	readings *readings.Service
	trainer  *forecast.Trainer
	seasonal *forecast.Seasonal
	logger   zerolog.Logger
	timeout  time.Duration

	metrics *RetrainMetrics
}

// RetrainMetrics tracks retraining job statistics.
type RetrainMetrics struct {
	mu sync.RWMutex

	TotalRuns      int64
	SuccessfulRuns int64
	FailedRuns     int64

	LastRunAt       time.Time
	LastRunDuration time.Duration
	TotalDuration   time.Duration
}

// RetrainJobConfig holds configuration for creating a RetrainJob.
type RetrainJobConfig struct {
	Readings *readings.Service
	Trainer  *forecast.Trainer

	// Seasonal, when set, is retrained after the pooled model.
	Seasonal *forecast.Seasonal

	Logger zerolog.Logger

	// Timeout overrides DefaultRetrainTimeout when positive.
	Timeout time.Duration
}

// NewRetrainJob creates a new retraining job processor.
func NewRetrainJob(cfg RetrainJobConfig) *RetrainJob {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRetrainTimeout
	}
	return &RetrainJob{
		readings: cfg.Readings,
		trainer:  cfg.Trainer,
		seasonal: cfg.Seasonal,
		logger:   cfg.Logger,
		timeout:  timeout,
		metrics:  &RetrainMetrics{},
	}
}

// RetrainResult contains the result of one retraining run.
type RetrainResult struct {
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	// Rows is the dataset size the models were trained on.
	Rows int

	// Pooled is the structured outcome of the ensemble training.
	Pooled forecast.TrainResult

	// SeasonalTrained and SeasonalSkipped summarize per-city seasonal
	// training. Both stay zero when no seasonal model is configured.
	SeasonalTrained int
	SeasonalSkipped int
}

// Run refreshes the cache and retrains the models. A refresh failure
// aborts the run so stale data never silently retrains the models.
func (j *RetrainJob) Run(ctx context.Context) (*RetrainResult, error) {
	startTime := time.Now()
	result := &RetrainResult{StartTime: startTime}

	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	j.logger.Info().Msg("starting model retraining job")

	if err := j.readings.Refresh(ctx); err != nil {
		j.finish(result, false)
		return result, fmt.Errorf("refresh readings: %w", err)
	}

	ds, err := j.readings.Dataset(ctx)
	if err != nil {
		j.finish(result, false)
		return result, fmt.Errorf("load dataset: %w", err)
	}
	result.Rows = len(ds.Rows)

	result.Pooled = j.trainer.Train(ctx, ds)
	if result.Pooled.Status != forecast.TrainStatusSuccess {
		j.finish(result, false)
		return result, fmt.Errorf("pooled training: %s", result.Pooled.Message)
	}

	if j.seasonal != nil {
		summary, err := j.seasonal.TrainAll(ctx, ds)
		if err != nil {
			j.finish(result, false)
			return result, fmt.Errorf("seasonal training: %w", err)
		}
		result.SeasonalTrained = summary.Trained
		for _, n := range summary.Skipped {
			result.SeasonalSkipped += n
		}
	}

	j.finish(result, true)

	j.logger.Info().
		Dur("duration", result.Duration).
		Int("rows", result.Rows).
		Int("seasonal_trained", result.SeasonalTrained).
		Int("seasonal_skipped", result.SeasonalSkipped).
		Msg("model retraining job completed")

	return result, nil
}

func (j *RetrainJob) finish(result *RetrainResult, success bool) {
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.TotalRuns++
	if success {
		j.metrics.SuccessfulRuns++
	} else {
		j.metrics.FailedRuns++
	}
	j.metrics.LastRunAt = result.EndTime
	j.metrics.LastRunDuration = result.Duration
	j.metrics.TotalDuration += result.Duration
}

// GetMetrics returns a copy of the current metrics.
func (j *RetrainJob) GetMetrics() RetrainMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return RetrainMetrics{
		TotalRuns:       j.metrics.TotalRuns,
		SuccessfulRuns:  j.metrics.SuccessfulRuns,
		FailedRuns:      j.metrics.FailedRuns,
		LastRunAt:       j.metrics.LastRunAt,
		LastRunDuration: j.metrics.LastRunDuration,
		TotalDuration:   j.metrics.TotalDuration,
	}
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (j *RetrainJob) MetricsSnapshot() map[string]interface{} {
	m := j.GetMetrics()
	return map[string]interface{}{
		"total_runs":        m.TotalRuns,
		"successful_runs":   m.SuccessfulRuns,
		"failed_runs":       m.FailedRuns,
		"last_run_at":       m.LastRunAt,
		"last_run_duration": m.LastRunDuration.String(),
		"total_duration":    m.TotalDuration.String(),
	}
}
