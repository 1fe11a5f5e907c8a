package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcapi "github.com/arkilian/framekit/internal/api/grpc"
	"github.com/arkilian/framekit/internal/catalog"
	"github.com/arkilian/framekit/internal/config"
	"github.com/arkilian/framekit/internal/transform"
	"github.com/arkilian/framekit/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "framekit")
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.GRPC.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 5 * time.Second
	return cfg
}

func startApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { a.Stop(context.Background()) })
	return a
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Type = "ftp"
	if _, err := New(cfg, nil); err == nil {
		t.Fatal("expected invalid configuration error")
	}
}

func TestApp_ServesHTTPAndGRPC(t *testing.T) {
	a := startApp(t, testConfig(t))

	body := []byte(`{
		"steps": [{"id": "sort", "options": {"indexByName": {"time": 1, "value": 0}}}],
		"frames": [{"name": "A", "fields": [
			{"name": "time", "type": "time", "values": [1000]},
			{"name": "value", "type": "number", "values": [1.5]}
		]}]
	}`)
	resp, err := http.Post(fmt.Sprintf("http://%s/v1/transform", a.HTTPAddr()), "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/transform failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out struct {
		Frames []*types.Frame `json:"frames"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"value", "time"}, out.Frames[0].FieldNames()); diff != "" {
		t.Fatalf("http field order (-want +got):\n%s", diff)
	}

	conn, err := grpc.NewClient(a.GRPCAddr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("failed to dial grpc: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	list, err := grpcapi.NewClient(conn).ListTransformers(ctx)
	if err != nil {
		t.Fatalf("ListTransformers failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 transformers, got %d", len(list))
	}
}

func TestApp_PipelinesSurviveRestart(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	steps := []transform.Config{{ID: transform.IDSort, Options: map[string]interface{}{"indexByName": map[string]interface{}{"b": 0, "a": 1}}}}

	first, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Start(ctx); err != nil {
		t.Fatal(err)
	}
	frames := []*types.Frame{types.NewFrame("f",
		&types.Field{Name: "a", Type: types.FieldTypeNumber, Values: []interface{}{1.0}},
		&types.Field{Name: "b", Type: types.FieldTypeNumber, Values: []interface{}{2.0}},
	)}
	if err := first.Service().SaveFrames(ctx, "raw", frames); err != nil {
		t.Fatalf("SaveFrames failed: %v", err)
	}
	if _, err := first.Service().SavePipeline(ctx, catalog.PipelineDefinition{Name: "swap", Steps: steps}, 0); err != nil {
		t.Fatalf("SavePipeline failed: %v", err)
	}
	if err := first.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	second := startApp(t, cfg)
	result, err := second.Service().ApplyToDataset(ctx, "swap", "raw", "")
	if err != nil {
		t.Fatalf("ApplyToDataset after restart failed: %v", err)
	}
	if diff := cmp.Diff([]string{"b", "a"}, result.Frames[0].FieldNames()); diff != "" {
		t.Fatalf("field order (-want +got):\n%s", diff)
	}
}

func TestApp_StartTwiceAndStopIdempotent(t *testing.T) {
	cfg := testConfig(t)
	cfg.GRPC.Enabled = false
	a := startApp(t, cfg)

	if err := a.Start(context.Background()); err == nil {
		t.Fatal("expected error starting a running app")
	}
	if a.GRPCAddr() != "" {
		t.Errorf("grpc disabled but bound to %s", a.GRPCAddr())
	}
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
}

func TestApp_DataDirLock(t *testing.T) {
	cfg := testConfig(t)
	cfg.GRPC.Enabled = false
	startApp(t, cfg)

	second, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Stop(context.Background())
		t.Fatal("expected second server on the same data dir to fail")
	}
}
