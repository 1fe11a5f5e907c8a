package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/arkilian/framekit/internal/cache"
	"github.com/arkilian/framekit/internal/catalog"
	fkerrors "github.com/arkilian/framekit/internal/errors"
	"github.com/arkilian/framekit/internal/framestore"
	"github.com/arkilian/framekit/internal/server"
	"github.com/arkilian/framekit/internal/service"
	"github.com/arkilian/framekit/internal/storage"
	"github.com/arkilian/framekit/internal/transform"
)

const weatherFrames = `[{
	"name": "A",
	"fields": [
		{"name": "time", "type": "time", "values": [1000, 2000]},
		{"name": "temperature", "type": "number", "values": [10, 11.5]},
		{"name": "humidity", "type": "number", "values": [0.4, 0.5]}
	]
}]`

const weatherSteps = `[{"id": "sort", "options": {"indexByName": {"time": 2, "temperature": 0, "humidity": 1}}}]`

func newTestServer(t *testing.T, shutdown *server.ShutdownManager) *httptest.Server {
	t.Helper()
	registry := transform.DefaultRegistry()

	cat, err := catalog.NewSQLiteCatalog(filepath.Join(t.TempDir(), "catalog.db"), registry, nil)
	if err != nil {
		t.Fatalf("failed to create catalog: %v", err)
	}
	t.Cleanup(func() { cat.Close() })

	local, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	results, err := cache.NewResultCache(8, 0)
	if err != nil {
		t.Fatal(err)
	}

	svc := service.New(service.Options{
		Registry: registry,
		Catalog:  cat,
		Frames:   framestore.New(local, nil),
		Cache:    results,
	})
	srv := httptest.NewServer(NewHandler(svc, HandlerOptions{Shutdown: shutdown, MaxBodyBytes: 1 << 12}))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string, headers ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

type framesBody struct {
	Frames []struct {
		Name   string `json:"name"`
		Fields []struct {
			Name   string        `json:"name"`
			Values []interface{} `json:"values"`
		} `json:"fields"`
	} `json:"frames"`
	RequestID string `json:"request_id"`
}

func (b framesBody) fieldNames(i int) []string {
	var names []string
	for _, f := range b.Frames[i].Fields {
		names = append(names, f.Name)
	}
	return names
}

func TestTransform(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := do(t, http.MethodPost, srv.URL+"/v1/transform",
		`{"steps": `+weatherSteps+`, "frames": `+weatherFrames+`}`, "X-Request-ID", "req-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") != "req-1" {
		t.Errorf("request id not echoed: %q", resp.Header.Get("X-Request-ID"))
	}

	var body framesBody
	decode(t, resp, &body)
	if diff := cmp.Diff([]string{"temperature", "humidity", "time"}, body.fieldNames(0)); diff != "" {
		t.Fatalf("field order (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]interface{}{10.0, 11.5}, body.Frames[0].Fields[0].Values); diff != "" {
		t.Errorf("values moved with their field (-want +got):\n%s", diff)
	}
	if body.RequestID != "req-1" {
		t.Errorf("expected request id in body, got %q", body.RequestID)
	}
}

func TestTransform_Errors(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"malformed body", `{`, http.StatusBadRequest, fkerrors.CodeInvalidRequest},
		{"unknown transformer", `{"steps": [{"id": "pivot"}]}`, http.StatusBadRequest, fkerrors.CodeUnknownTransformer},
		{"bad options", `{"steps": [{"id": "sort", "options": {"indexByName": "x"}}]}`, http.StatusBadRequest, fkerrors.CodeInvalidOptions},
		{"duplicate field", `{"steps": [], "frames": [{"name": "A", "fields": [
			{"name": "x", "type": "number", "values": [1]},
			{"name": "x", "type": "number", "values": [2]}]}]}`, http.StatusBadRequest, fkerrors.CodeInvalidFrame},
		{"too large", `{"steps": [], "frames": "` + strings.Repeat("x", 1<<13) + `"}`, http.StatusRequestEntityTooLarge, fkerrors.CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodPost, srv.URL+"/v1/transform", tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, resp.StatusCode)
			}
			var body ErrorResponse
			decode(t, resp, &body)
			if body.Code != tt.code {
				t.Errorf("expected code %s, got %s (%s)", tt.code, body.Code, body.Error)
			}
			if body.RequestID == "" {
				t.Error("expected a generated request id")
			}
		})
	}
}

func TestPipelineLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)
	url := srv.URL + "/v1/pipelines/weather"
	pipeline := `{"description": "temperature first", "steps": ` + weatherSteps + `}`

	resp := do(t, http.MethodPut, url, pipeline, "If-None-Match", "*")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if resp.Header.Get("ETag") != `"1"` {
		t.Errorf("unexpected ETag %q", resp.Header.Get("ETag"))
	}

	resp = do(t, http.MethodPut, url, pipeline, "If-None-Match", "*")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for create-only on existing pipeline, got %d", resp.StatusCode)
	}

	resp = do(t, http.MethodPut, url, pipeline, "If-Match", `"1"`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for matching version, got %d", resp.StatusCode)
	}
	var record catalog.PipelineRecord
	decode(t, resp, &record)
	if record.Version != 2 || record.Description != "temperature first" {
		t.Fatalf("unexpected record: %+v", record)
	}

	resp = do(t, http.MethodGet, srv.URL+"/v1/pipelines", "")
	var list struct {
		Pipelines []catalog.PipelineRecord `json:"pipelines"`
	}
	decode(t, resp, &list)
	if len(list.Pipelines) != 1 || list.Pipelines[0].Name != "weather" {
		t.Fatalf("unexpected list: %+v", list)
	}

	resp = do(t, http.MethodPost, url+"/apply", `{"frames": `+weatherFrames+`}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from apply, got %d", resp.StatusCode)
	}
	var body framesBody
	decode(t, resp, &body)
	if diff := cmp.Diff([]string{"temperature", "humidity", "time"}, body.fieldNames(0)); diff != "" {
		t.Fatalf("field order (-want +got):\n%s", diff)
	}

	if resp := do(t, http.MethodDelete, url, ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 from delete, got %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodGet, url, ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodPut, url, pipeline, "If-Match", "abc"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed If-Match, got %d", resp.StatusCode)
	}
}

func TestDatasetApply(t *testing.T) {
	srv := newTestServer(t, nil)

	if resp := do(t, http.MethodPut, srv.URL+"/v1/pipelines/weather", `{"steps": `+weatherSteps+`}`); resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodPut, srv.URL+"/v1/datasets/raw/frames", `{"frames": `+weatherFrames+`}`); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	resp := do(t, http.MethodPost, srv.URL+"/v1/datasets/raw/apply", `{"pipeline": "weather", "output_dataset": "sorted"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp = do(t, http.MethodGet, srv.URL+"/v1/datasets/sorted/frames", "")
	var body framesBody
	decode(t, resp, &body)
	if len(body.Frames) != 1 {
		t.Fatalf("expected 1 saved frame, got %d", len(body.Frames))
	}
	if diff := cmp.Diff([]string{"temperature", "humidity", "time"}, body.fieldNames(0)); diff != "" {
		t.Fatalf("field order (-want +got):\n%s", diff)
	}

	if resp := do(t, http.MethodPost, srv.URL+"/v1/datasets/raw/apply", `{}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without pipeline, got %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodGet, srv.URL+"/v1/datasets/missing/frames", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for missing dataset, got %d", resp.StatusCode)
	}
}

func TestTransformersStatsHealth(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := do(t, http.MethodGet, srv.URL+"/v1/transformers", "")
	var transformers struct {
		Transformers []service.TransformerInfo `json:"transformers"`
	}
	decode(t, resp, &transformers)
	var ids []string
	for _, tr := range transformers.Transformers {
		ids = append(ids, tr.ID)
	}
	if diff := cmp.Diff([]string{"organize", "sort"}, ids); diff != "" {
		t.Fatalf("transformer ids (-want +got):\n%s", diff)
	}

	do(t, http.MethodPost, srv.URL+"/v1/transform", `{"steps": `+weatherSteps+`, "frames": `+weatherFrames+`}`)
	resp = do(t, http.MethodGet, srv.URL+"/v1/stats?top=5", "")
	var stats service.Stats
	decode(t, resp, &stats)
	if len(stats.Transformers) != 1 || stats.Transformers[0].Name != "sort" {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.Cache == nil || stats.Cache.Misses != 1 {
		t.Fatalf("unexpected cache stats: %+v", stats.Cache)
	}

	if resp := do(t, http.MethodGet, srv.URL+"/v1/stats?top=x", ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad top, got %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodGet, srv.URL+"/health", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from health, got %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodGet, srv.URL+"/nope", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown route, got %d", resp.StatusCode)
	}
}

func TestRejectsDuringShutdown(t *testing.T) {
	sm := server.NewShutdownManager(server.ShutdownConfig{}, nil)
	srv := newTestServer(t, sm)

	sm.Shutdown(context.Background(), "test")
	if resp := do(t, http.MethodGet, srv.URL+"/health", ""); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 during shutdown, got %d", resp.StatusCode)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := ChainMiddleware(
		RequestIDMiddleware,
		RecoveryMiddleware(zap.NewNop()),
	)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", bytes.NewReader(nil)))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.RequestID == "" || body.Code != fkerrors.CodeUnexpected {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestCorrelationIDFallsBackToRequestID(t *testing.T) {
	var seen string
	handler := ChainMiddleware(RequestIDMiddleware, CorrelationIDMiddleware)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetCorrelationID(r.Context())
		}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "abc" {
		t.Fatalf("expected correlation id to fall back to request id, got %q", seen)
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fkerrors.NewValidationError(fkerrors.CodeInvalidFrame, "x"), http.StatusBadRequest},
		{fkerrors.NewCatalogError(fkerrors.CodePipelineNotFound, "x", nil), http.StatusNotFound},
		{fkerrors.NewStorageError(fkerrors.CodeObjectNotFound, "x", nil), http.StatusNotFound},
		{fkerrors.NewCatalogError(fkerrors.CodeWriteConflict, "x", nil), http.StatusConflict},
		{fkerrors.NewTransformError(fkerrors.CodeStepFailed, "x", nil), http.StatusUnprocessableEntity},
		{fkerrors.NewTransformError(fkerrors.CodeCancelled, "x", nil), http.StatusRequestTimeout},
		{fkerrors.NewStorageError(fkerrors.CodeDownloadFailed, "x", nil), http.StatusServiceUnavailable},
		{fkerrors.NewStorageError(fkerrors.CodeCorruptObject, "x", nil), http.StatusInternalServerError},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusForError(tt.err); got != tt.want {
			t.Errorf("StatusForError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
