package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/docfold/docbench/internal/app"
	"github.com/docfold/docbench/internal/pkg/errors"
	"github.com/docfold/docbench/internal/pkg/logger"
	"github.com/docfold/docbench/internal/pkg/security"
	"github.com/docfold/docbench/internal/report"
	"github.com/docfold/docbench/internal/store"
)

const (
	maxRequestBody   = 1 << 20
	maxConcurrency   = 256
	defaultRunsLimit = 20
	maxRunsLimit     = 1000
)

type evaluationHandler struct {
	evaluator   Evaluator
	store       store.Store
	engines     EngineLister
	datasetRoot string
	precision   int
	log         *logger.Logger
}

type runRequest struct {
	DatasetPath string   `json:"dataset_path"`
	Engines     []string `json:"engines"`
	Categories  []string `json:"categories"`
	Concurrency int      `json:"concurrency"`
}

// handleRun runs an evaluation synchronously and responds with its report.
func (h *evaluationHandler) handleRun(w http.ResponseWriter, r *http.Request) {
	if h.evaluator == nil {
		errors.WriteError(w, errors.UnavailableError("evaluation"))
		return
	}

	var req runRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		errors.WriteError(w, errors.InvalidRequestError(fmt.Sprintf("invalid request body: %v", err)))
		return
	}

	if req.DatasetPath == "" {
		errors.WriteError(w, errors.ValidationError("dataset_path is required"))
		return
	}
	if req.Concurrency < 0 || req.Concurrency > maxConcurrency {
		errors.WriteError(w, errors.ValidationError(fmt.Sprintf("concurrency must be between 0 and %d", maxConcurrency)))
		return
	}

	path := req.DatasetPath
	if h.datasetRoot != "" {
		resolved, err := security.ResolveUnder(h.datasetRoot, req.DatasetPath)
		if err != nil {
			errors.WriteError(w, errors.ValidationError(err.Error()))
			return
		}
		path = resolved
	}

	h.log.Info("evaluation requested",
		"dataset", security.SanitizeForLog(path),
		"engines", len(req.Engines),
		"categories", len(req.Categories),
	)

	rep, err := h.evaluator.Evaluate(r.Context(), app.Request{
		DatasetPath: path,
		Engines:     req.Engines,
		Categories:  req.Categories,
		Concurrency: req.Concurrency,
	})
	if err != nil {
		errors.WriteError(w, err)
		return
	}
	h.writeReport(w, rep)
}

func (h *evaluationHandler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		errors.WriteError(w, errors.UnavailableError("run history"))
		return
	}

	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxRunsLimit {
			errors.WriteError(w, errors.ValidationError(fmt.Sprintf("limit must be between 1 and %d", maxRunsLimit)))
			return
		}
		limit = n
	}

	runs, err := h.store.ListRuns(r.Context(), limit)
	if err != nil {
		errors.WriteError(w, err)
		return
	}
	if runs == nil {
		runs = []store.RunSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *evaluationHandler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		errors.WriteError(w, errors.UnavailableError("run history"))
		return
	}

	rep, err := h.store.GetReport(r.Context(), r.PathValue("id"))
	if err != nil {
		errors.WriteError(w, err)
		return
	}
	h.writeReport(w, rep)
}

func (h *evaluationHandler) handleEngines(w http.ResponseWriter, _ *http.Request) {
	if h.engines == nil {
		errors.WriteError(w, errors.UnavailableError("engine registry"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"engines": h.engines.List()})
}

// writeReport responds with the canonical report encoding.
func (h *evaluationHandler) writeReport(w http.ResponseWriter, rep *report.Report) {
	data, err := report.Marshal(rep, report.EncodeOptions{Precision: h.precision})
	if err != nil {
		h.log.Error("failed to encode report", "run_id", rep.RunID, "error", err)
		errors.WriteError(w, errors.InternalError("failed to encode report", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
