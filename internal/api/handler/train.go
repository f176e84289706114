package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/aqipulse/aqipulse/internal/api/models"
	"github.com/aqipulse/aqipulse/internal/api/response"
	"github.com/aqipulse/aqipulse/internal/forecast"
	"github.com/aqipulse/aqipulse/internal/readings"
)

// JobPublisher enqueues background retraining jobs.
type JobPublisher interface {
	PublishRetrain(ctx context.Context) (string, error)
}

// TrainHandler runs model training from the admin API.
type TrainHandler struct {
	readings  *readings.Service
	trainer   *forecast.Trainer
	seasonal  *forecast.Seasonal
	publisher JobPublisher
	logger    zerolog.Logger
}

// TrainConfig holds dependencies for the train endpoint.
type TrainConfig struct {
	Readings *readings.Service
	Trainer  *forecast.Trainer
	Seasonal *forecast.Seasonal

	// Publisher, when set, enables async training via ?async=true.
	Publisher JobPublisher

	Logger zerolog.Logger
}

// NewTrainHandler creates a new TrainHandler.
func NewTrainHandler(cfg TrainConfig) *TrainHandler {
	return &TrainHandler{
		readings:  cfg.Readings,
		trainer:   cfg.Trainer,
		seasonal:  cfg.Seasonal,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
	}
}

// Train handles POST /v1/admin/train - retrain on fresh data.
// With ?async=true the job is queued and 202 returned; otherwise training
// runs inline and its structured result is the response body, including
// failures. Training failures are never transport errors.
func (h *TrainHandler) Train(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.URL.Query().Get("async") == "true" {
		if h.publisher == nil {
			response.BadRequest(w, r, "async training is not configured", nil)
			return
		}
		jobID, err := h.publisher.PublishRetrain(ctx)
		if err != nil {
			h.logger.Error().Err(err).Msg("failed to queue retrain job")
			response.InternalError(w, r, "failed to queue training job")
			return
		}
		response.Accepted(w, r, "", map[string]string{"status": "queued", "job_id": jobID})
		return
	}

	if err := h.readings.Refresh(ctx); err != nil {
		if errors.Is(err, readings.ErrUpstreamUnavailable) {
			response.ServiceUnavailable(w, r, "readings source unavailable")
			return
		}
		response.InternalError(w, r, "failed to refresh readings")
		return
	}

	ds, err := h.readings.Dataset(ctx)
	if err != nil {
		response.InternalError(w, r, "failed to load readings")
		return
	}

	result := h.trainer.Train(ctx, ds)

	if h.seasonal != nil && result.Status == forecast.TrainStatusSuccess {
		summary, err := h.seasonal.TrainAll(ctx, ds)
		if err != nil {
			response.InternalError(w, r, "seasonal training aborted")
			return
		}
		h.logger.Info().
			Int("trained", summary.Trained).
			Interface("skipped", summary.Skipped).
			Msg("per-city training finished")
	}

	response.JSON(w, r, http.StatusOK, models.TrainResponse{
		Status:           string(result.Status),
		Message:          result.Message,
		MeanSquaredError: result.MeanSquaredError,
	})
}
