package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/internal/pipeline"
	"github.com/wonny/ifrs9-ecl/pkg/logger"
)

// ProcessService starts, inspects and cancels pipeline processes
type ProcessService interface {
	Start(ctx context.Context, req pipeline.Request) (*contracts.ProcessRun, error)
	Execute(ctx context.Context, run *contracts.ProcessRun, freshRunKey bool) error
	Cancel(ctx context.Context, processID string) error
	Get(ctx context.Context, processID string) (*contracts.ProcessRun, error)
}

// ProcessHandler handles process API endpoints
// ⭐ SSOT: 프로세스 API 핸들러는 여기서만
type ProcessHandler struct {
	service ProcessService
	base    context.Context
	wg      sync.WaitGroup
	logger  *logger.Logger
}

// NewProcessHandler creates a new process handler.
// Triggered runs execute under base, not under the request context.
func NewProcessHandler(base context.Context, service ProcessService, log *logger.Logger) *ProcessHandler {
	return &ProcessHandler{
		service: service,
		base:    base,
		logger:  log.WithField("module", "api"),
	}
}

// TriggerRequest is the body of POST /api/process
type TriggerRequest struct {
	Date        string   `json:"date"` // YYYY-MM-DD
	Stages      []string `json:"stages,omitempty"`
	FreshRunKey bool     `json:"fresh_run_key"`
	RunKey      *int64   `json:"run_key,omitempty"`
}

// Trigger starts a process and runs it in the background
// POST /api/process
func (h *ProcessHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid 'date' format (expected YYYY-MM-DD)")
		return
	}

	stages := make([]contracts.Stage, 0, len(req.Stages))
	for _, s := range req.Stages {
		stage, err := contracts.ParseStage(s)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		stages = append(stages, stage)
	}

	run, err := h.service.Start(r.Context(), pipeline.Request{
		Date:        date,
		Stages:      stages,
		FreshRunKey: req.FreshRunKey,
		RunKey:      req.RunKey,
	})
	if err != nil {
		h.logger.WithError(err).Error("Failed to start process")
		respondError(w, http.StatusInternalServerError, "Failed to start process")
		return
	}

	h.logger.WithFields(map[string]interface{}{
		"process_id": run.ProcessID,
		"date":       req.Date,
		"stages":     len(run.Stages),
	}).Info("Process triggered")

	h.wg.Add(1)
	go func(run *contracts.ProcessRun, fresh bool) {
		defer h.wg.Done()
		if err := h.service.Execute(h.base, run, fresh); err != nil {
			h.logger.WithError(err).WithField("process_id", run.ProcessID).Warn("Process did not complete")
		}
	}(run, req.FreshRunKey)

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"process_id": run.ProcessID,
		"status":     contracts.StatusPending,
	})
}

// Get returns a process with its stage statuses
// GET /api/process/{id}
func (h *ProcessHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	run, err := h.service.Get(r.Context(), id)
	if errors.Is(err, pipeline.ErrProcessNotFound) {
		respondError(w, http.StatusNotFound, "Process not found")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to get process")
		respondError(w, http.StatusInternalServerError, "Failed to get process")
		return
	}

	respondJSON(w, http.StatusOK, run)
}

// Cancel requests cancellation before the next stage
// POST /api/process/{id}/cancel
func (h *ProcessHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	err := h.service.Cancel(r.Context(), id)
	switch {
	case errors.Is(err, pipeline.ErrProcessNotFound):
		respondError(w, http.StatusNotFound, "Process not found")
	case errors.Is(err, pipeline.ErrProcessFinished):
		respondError(w, http.StatusConflict, err.Error())
	case err != nil:
		h.logger.WithError(err).Error("Failed to cancel process")
		respondError(w, http.StatusInternalServerError, "Failed to cancel process")
	default:
		h.logger.WithField("process_id", id).Info("Process cancellation requested")
		respondJSON(w, http.StatusAccepted, map[string]string{
			"process_id": id,
			"status":     "cancel_requested",
		})
	}
}

// Wait blocks until background runs have finished
func (h *ProcessHandler) Wait() {
	h.wg.Wait()
}
