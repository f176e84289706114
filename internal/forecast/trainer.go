package forecast

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/aqipulse/aqipulse/internal/dataset"
	"github.com/aqipulse/aqipulse/internal/features"
)

// Training defaults.
const (
	// DefaultMinTrainRows is the minimum number of valid rows required
	// before training runs.
	DefaultMinTrainRows = 50

	// DefaultTestFraction is the holdout share used for evaluation.
	DefaultTestFraction = 0.2

	// DefaultTrainSeed fixes the evaluation split so retraining on the
	// same inputs yields the same model.
	DefaultTrainSeed = 42
)

// TrainStatus is the outcome category of a training run.
type TrainStatus string

const (
	TrainStatusSuccess TrainStatus = "success"
	TrainStatusError   TrainStatus = "error"
)

// TrainResult is the structured outcome of a training run. Failures are
// reported here, never raised past the trainer boundary.
type TrainResult struct {
	Status           TrainStatus `json:"status"`
	Message          string      `json:"message"`
	MeanSquaredError *float64    `json:"mean_squared_error,omitempty"`
}

func errorResult(msg string) TrainResult {
	return TrainResult{Status: TrainStatusError, Message: msg}
}

// TrainerConfig holds configuration for the model trainer.
type TrainerConfig struct {
	// Store persists the trained artifact.
	Store Store

	// Logger for training events.
	Logger zerolog.Logger

	// MinRows overrides DefaultMinTrainRows when positive.
	MinRows int

	// TestFraction overrides DefaultTestFraction when positive.
	TestFraction float64

	// Seed overrides DefaultTrainSeed when non-zero.
	Seed int64

	// Forest overrides the ensemble defaults when Trees is positive.
	Forest ForestConfig
}

// Trainer fits the pooled regressor on encoded features and persists the
// model together with its feature-column contract as one atomic unit.
type Trainer struct {
	store        Store
	logger       zerolog.Logger
	minRows      int
	testFraction float64
	seed         int64
	forest       ForestConfig
}

// NewTrainer creates a Trainer.
func NewTrainer(cfg TrainerConfig) *Trainer {
	minRows := cfg.MinRows
	if minRows <= 0 {
		minRows = DefaultMinTrainRows
	}
	testFraction := cfg.TestFraction
	if testFraction <= 0 || testFraction >= 1 {
		testFraction = DefaultTestFraction
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = DefaultTrainSeed
	}
	forest := cfg.Forest
	if forest.Trees <= 0 {
		forest = DefaultForestConfig()
	}

	return &Trainer{
		store:        cfg.Store,
		logger:       cfg.Logger,
		minRows:      minRows,
		testFraction: testFraction,
		seed:         seed,
		forest:       forest,
	}
}

// Train encodes the dataset, fits the ensemble, evaluates it on a seeded
// holdout split and persists the artifact. Retraining is destructive: the
// previous artifact is overwritten.
func (t *Trainer) Train(ctx context.Context, ds *dataset.Dataset) TrainResult {
	start := time.Now()

	rows := ds.ValidRows()
	if len(rows) < t.minRows {
		t.logger.Warn().
			Int("valid_rows", len(rows)).
			Int("min_rows", t.minRows).
			Msg("not enough data for training")
		return errorResult(fmt.Sprintf(
			"not enough data for training (requires at least %d valid rows)", t.minRows))
	}

	if err := ctx.Err(); err != nil {
		return errorResult(fmt.Sprintf("training canceled: %v", err))
	}

	cities := make([]string, 0, len(rows))
	for _, r := range rows {
		cities = append(cities, r.City)
	}
	enc := features.NewEncoder(cities)

	frame := enc.Encode(rows)
	targets := make([]float64, len(rows))
	for i, r := range rows {
		targets[i] = r.AQI
	}

	// Seeded shuffle keeps the evaluation split reproducible.
	perm := rand.New(rand.NewSource(t.seed)).Perm(len(rows))
	testN := int(float64(len(rows)) * t.testFraction)

	trainX := make([][]float64, 0, len(rows)-testN)
	trainY := make([]float64, 0, len(rows)-testN)
	testX := make([][]float64, 0, testN)
	testY := make([]float64, 0, testN)
	for i, p := range perm {
		if i < testN {
			testX = append(testX, frame.Rows[p])
			testY = append(testY, targets[p])
		} else {
			trainX = append(trainX, frame.Rows[p])
			trainY = append(trainY, targets[p])
		}
	}

	t.logger.Info().
		Int("train_rows", len(trainX)).
		Int("test_rows", len(testX)).
		Int("features", len(frame.Columns)).
		Int("trees", t.forest.Trees).
		Msg("fitting bagged-tree regressor")

	forest := FitForest(trainX, trainY, t.forest)

	preds := make([]float64, len(testX))
	for i, x := range testX {
		preds[i] = forest.Predict(x)
	}
	mse := roundTo(meanSquaredError(preds, testY), 2)

	trainedAt := time.Now().UTC()
	artifact := &Artifact{
		Version:   trainedAt.Format("20060102T150405Z"),
		TrainedAt: trainedAt,
		Contract:  frame.Columns,
		Model:     forest,
	}
	if err := t.store.Save(artifact); err != nil {
		t.logger.Error().Err(err).Msg("failed to persist model artifact")
		return errorResult(fmt.Sprintf("failed to persist model: %v", err))
	}

	t.logger.Info().
		Str("version", artifact.Version).
		Float64("mse", mse).
		Dur("duration", time.Since(start)).
		Msg("model trained and saved")

	return TrainResult{
		Status:           TrainStatusSuccess,
		Message:          "Model trained and saved successfully.",
		MeanSquaredError: &mse,
	}
}
