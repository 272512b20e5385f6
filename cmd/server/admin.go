package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	platformmetrics "ekyc/internal/platform/metrics"
	"ekyc/internal/verification/models"
	"ekyc/internal/verification/service"
	id "ekyc/pkg/domain"
	dErrors "ekyc/pkg/domain-errors"
	"ekyc/pkg/platform/httputil"
	"ekyc/pkg/platform/middleware/admin"
	"ekyc/pkg/platform/middleware/request"
)

const maxReviewBodyBytes = 16 << 10

// recordAdmin is the slice of the engine the operator routes need.
type recordAdmin interface {
	ListRecords(ctx context.Context) ([]*models.StatusView, error)
	GetRecord(ctx context.Context, recordID id.RecordID) (*models.StatusView, error)
	AdminReview(ctx context.Context, recordID id.RecordID, decision, notes string, operatorID id.OperatorID) (*models.StatusView, error)
	GetEvidence(ctx context.Context, recordID id.RecordID, step models.StepKind) (*service.EvidenceContent, error)
}

type adminHandler struct {
	engine recordAdmin
	logger *slog.Logger
}

type reviewRequest struct {
	Decision string `json:"decision"`
	Notes    string `json:"notes"`
}

// mountAdmin registers the operator routes behind the admin token.
func mountAdmin(engine recordAdmin, token string, logger *slog.Logger, httpMetrics *platformmetrics.HTTP) func(chi.Router) {
	h := &adminHandler{engine: engine, logger: logger}
	return func(r chi.Router) {
		r.Route("/admin/records", func(r chi.Router) {
			r.Use(httpMetrics.Middleware)
			r.Use(request.Context)
			r.Use(admin.RequireAdminToken(token, logger))
			r.Get("/", h.handleList)
			r.Get("/{recordID}", h.handleGet)
			r.Get("/{recordID}/evidence/{step}", h.handleEvidence)
			r.Post("/{recordID}/review", h.handleReview)
		})
	}
}

func (h *adminHandler) handleList(w http.ResponseWriter, r *http.Request) {
	views, err := h.engine.ListRecords(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"records": views})
}

func (h *adminHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	recordID, err := id.ParseRecordID(chi.URLParam(r, "recordID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := h.engine.GetRecord(r.Context(), recordID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *adminHandler) handleEvidence(w http.ResponseWriter, r *http.Request) {
	recordID, err := id.ParseRecordID(chi.URLParam(r, "recordID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	step, err := models.ParseStepKind(chi.URLParam(r, "step"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	content, err := h.engine.GetEvidence(r.Context(), recordID, step)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", content.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(content.Data)))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": evidenceFilename(content, step)}))
	if content.Checksum != "" {
		w.Header().Set("ETag", strconv.Quote(content.Checksum))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(content.Data); err != nil {
		h.logger.WarnContext(r.Context(), "evidence download interrupted", "error", err)
	}
}

func evidenceFilename(content *service.EvidenceContent, step models.StepKind) string {
	if content.OriginalFilename != "" {
		return content.OriginalFilename
	}
	return string(step)
}

func (h *adminHandler) handleReview(w http.ResponseWriter, r *http.Request) {
	recordID, err := id.ParseRecordID(chi.URLParam(r, "recordID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	operatorID, err := id.ParseOperatorID(r.Header.Get("X-Operator-ID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var body reviewRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxReviewBodyBytes)).Decode(&body); err != nil {
		h.writeError(w, r, dErrors.Wrap(err, dErrors.CodeValidation, "invalid review body"))
		return
	}
	view, err := h.engine.AdminReview(r.Context(), recordID, body.Decision, body.Notes, operatorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *adminHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if httputil.StatusFor(dErrors.GetCode(err)) == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "admin request failed", "path", r.URL.Path, "error", err)
	}
	httputil.WriteError(w, err)
}
