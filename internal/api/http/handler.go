package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/arkilian/framekit/internal/catalog"
	"github.com/arkilian/framekit/internal/codec"
	fkerrors "github.com/arkilian/framekit/internal/errors"
	"github.com/arkilian/framekit/internal/server"
	"github.com/arkilian/framekit/internal/service"
	"github.com/arkilian/framekit/internal/transform"
	"github.com/arkilian/framekit/pkg/types"
)

const defaultMaxBodyBytes = 32 << 20

// HandlerOptions configures the HTTP API.
type HandlerOptions struct {
	Logger       *zap.Logger
	Shutdown     *server.ShutdownManager
	MaxBodyBytes int64
}

// Handler serves the framekit HTTP API.
type Handler struct {
	service *service.Service
	logger  *zap.Logger
	router  chi.Router
}

// TransformRequest is the body of POST /v1/transform.
type TransformRequest struct {
	Steps  []transform.Config `json:"steps"`
	Frames json.RawMessage    `json:"frames"`
}

// FramesRequest carries frames for saved pipelines and datasets.
type FramesRequest struct {
	Frames json.RawMessage `json:"frames"`
}

// FramesResponse returns transformed frames.
type FramesResponse struct {
	Frames    []*types.Frame `json:"frames"`
	RequestID string         `json:"request_id,omitempty"`
}

// PipelineRequest is the body of PUT /v1/pipelines/{name}.
type PipelineRequest struct {
	Description string             `json:"description"`
	Steps       []transform.Config `json:"steps"`
}

// DatasetApplyRequest is the body of POST /v1/datasets/{dataset}/apply.
type DatasetApplyRequest struct {
	Pipeline      string `json:"pipeline"`
	OutputDataset string `json:"output_dataset"`
}

// NewHandler builds the router and middleware chain.
func NewHandler(svc *service.Service, opts HandlerOptions) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}

	h := &Handler{
		service: svc,
		logger:  opts.Logger.Named("http"),
	}

	r := chi.NewRouter()
	r.Use(RecoveryMiddleware(h.logger))
	r.Use(RequestIDMiddleware)
	r.Use(CorrelationIDMiddleware)
	r.Use(AccessLogMiddleware(h.logger))
	if opts.Shutdown != nil {
		r.Use(server.ShutdownMiddleware(opts.Shutdown))
	}
	r.Use(MaxBodyMiddleware(opts.MaxBodyBytes))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "route not found", RequestID: GetRequestID(r.Context())})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed", RequestID: GetRequestID(r.Context())})
	})

	r.Get("/health", h.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/transform", h.handleTransform)
		r.Get("/transformers", h.handleTransformers)
		r.Get("/stats", h.handleStats)

		r.Get("/pipelines", h.handleListPipelines)
		r.Route("/pipelines/{name}", func(r chi.Router) {
			r.Put("/", h.handlePutPipeline)
			r.Get("/", h.handleGetPipeline)
			r.Delete("/", h.handleDeletePipeline)
			r.Post("/apply", h.handleApplyPipeline)
		})

		r.Route("/datasets/{dataset}", func(r chi.Router) {
			r.Put("/frames", h.handlePutFrames)
			r.Get("/frames", h.handleGetFrames)
			r.Post("/apply", h.handleApplyDataset)
		})
	})

	h.router = r
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleTransform(w http.ResponseWriter, r *http.Request) {
	var req TransformRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	frames, err := decodeFrames(req.Frames)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out, err := h.service.Transform(r.Context(), req.Steps, frames)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FramesResponse{Frames: out, RequestID: GetRequestID(r.Context())})
}

func (h *Handler) handleTransformers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"transformers": h.service.Transformers()})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	top := 10
	if v := r.URL.Query().Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.writeError(w, r, fkerrors.NewValidationError(fkerrors.CodeInvalidRequest, "top must be a positive integer"))
			return
		}
		top = n
	}
	writeJSON(w, http.StatusOK, h.service.Stats(top))
}

func (h *Handler) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListPipelines(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pipelines": list})
}

// handlePutPipeline saves a pipeline. If-Match carries the expected version;
// "If-None-Match: *" requests create-only; neither overwrites unconditionally.
func (h *Handler) handlePutPipeline(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	expected := catalog.AnyVersion
	if r.Header.Get("If-None-Match") == "*" {
		expected = 0
	}
	if v := r.Header.Get("If-Match"); v != "" {
		n, err := strconv.Atoi(strings.Trim(v, `"`))
		if err != nil || n < 0 {
			h.writeError(w, r, fkerrors.NewValidationError(fkerrors.CodeInvalidRequest,
				fmt.Sprintf("If-Match must be a pipeline version, got %q", v)))
			return
		}
		expected = n
	}

	var req PipelineRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	record, err := h.service.SavePipeline(r.Context(), catalog.PipelineDefinition{
		Name:        name,
		Description: req.Description,
		Steps:       req.Steps,
	}, expected)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if record.Version == 1 {
		status = http.StatusCreated
	}
	w.Header().Set("ETag", strconv.Quote(strconv.Itoa(record.Version)))
	writeJSON(w, status, record)
}

func (h *Handler) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	record, err := h.service.GetPipeline(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("ETag", strconv.Quote(strconv.Itoa(record.Version)))
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) handleDeletePipeline(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeletePipeline(r.Context(), chi.URLParam(r, "name")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleApplyPipeline(w http.ResponseWriter, r *http.Request) {
	var req FramesRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	frames, err := decodeFrames(req.Frames)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out, err := h.service.ApplySaved(r.Context(), chi.URLParam(r, "name"), frames)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FramesResponse{Frames: out, RequestID: GetRequestID(r.Context())})
}

func (h *Handler) handlePutFrames(w http.ResponseWriter, r *http.Request) {
	var req FramesRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	frames, err := decodeFrames(req.Frames)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.service.SaveFrames(r.Context(), chi.URLParam(r, "dataset"), frames); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetFrames(w http.ResponseWriter, r *http.Request) {
	frames, err := h.service.LoadFrames(r.Context(), chi.URLParam(r, "dataset"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FramesResponse{Frames: frames, RequestID: GetRequestID(r.Context())})
}

func (h *Handler) handleApplyDataset(w http.ResponseWriter, r *http.Request) {
	var req DatasetApplyRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Pipeline == "" {
		h.writeError(w, r, fkerrors.NewValidationError(fkerrors.CodeInvalidRequest, "pipeline is required"))
		return
	}

	result, err := h.service.ApplyToDataset(r.Context(), req.Pipeline, chi.URLParam(r, "dataset"), req.OutputDataset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func decodeBody(r *http.Request, out interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return fkerrors.Wrap(fkerrors.ErrCategoryValidation, fkerrors.CodeInvalidRequest, "invalid request body", err)
	}
	return nil
}

// decodeFrames treats a missing frames member as an empty list.
func decodeFrames(raw json.RawMessage) ([]*types.Frame, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []*types.Frame{}, nil
	}
	return codec.DecodeFrames(raw)
}
