package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestShutdown_ClosesInReverseOrder(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{}, nil)

	var order []string
	for _, name := range []string{"catalog", "http", "grpc"} {
		name := name
		sm.RegisterCloser(name, CloserFunc(func() error {
			order = append(order, name)
			return nil
		}))
	}

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if got := strings.Join(order, ","); got != "grpc,http,catalog" {
		t.Fatalf("unexpected close order: %s", got)
	}
	if !sm.IsShuttingDown() {
		t.Error("expected IsShuttingDown after Shutdown")
	}
	select {
	case <-sm.ShutdownCh():
	default:
		t.Error("expected shutdown channel to be closed")
	}
}

func TestShutdown_CombinesCloseErrors(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{}, nil)
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	sm.RegisterCloser("a", CloserFunc(func() error { return errA }))
	sm.RegisterCloser("b", CloserFunc(func() error { return errB }))

	err := sm.Shutdown(context.Background(), "test")
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("expected both close errors, got %v", err)
	}

	// Later calls return the first result without closing again
	if again := sm.Shutdown(context.Background(), "again"); again != err {
		t.Fatalf("expected the same error from a second Shutdown, got %v", again)
	}
}

func TestShutdown_DrainsInFlight(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{DrainTimeout: time.Second}, nil)
	if !sm.TrackRequest() {
		t.Fatal("TrackRequest should succeed before shutdown")
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		sm.UntrackRequest()
	}()

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("expected drain to succeed, got %v", err)
	}
	if sm.InFlightCount() != 0 {
		t.Fatalf("expected no in-flight requests, got %d", sm.InFlightCount())
	}
	if sm.TrackRequest() {
		t.Fatal("TrackRequest should fail after shutdown")
	}
}

func TestShutdown_DrainTimeout(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{DrainTimeout: 20 * time.Millisecond}, nil)
	sm.TrackRequest()

	err := sm.Shutdown(context.Background(), "test")
	if err == nil || !strings.Contains(err.Error(), "1 in-flight") {
		t.Fatalf("expected drain timeout error, got %v", err)
	}
}

func TestShutdownMiddleware(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{}, nil)
	handler := ShutdownMiddleware(sm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sm.InFlightCount() != 1 {
			t.Errorf("expected 1 in-flight request, got %d", sm.InFlightCount())
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	sm.Shutdown(context.Background(), "test")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 during shutdown, got %d", rec.Code)
	}
}

func TestUnaryServerInterceptor(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{}, nil)
	interceptor := UnaryServerInterceptor(sm)
	info := &grpc.UnaryServerInfo{FullMethod: "/framekit.v1.TransformService/Transform"}

	resp, err := interceptor(context.Background(), "req", info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	})
	if err != nil || resp != "ok" {
		t.Fatalf("unexpected result: %v, %v", resp, err)
	}

	sm.Shutdown(context.Background(), "test")
	_, err = interceptor(context.Background(), "req", info, func(ctx context.Context, req interface{}) (interface{}, error) {
		t.Fatal("handler must not run during shutdown")
		return nil, nil
	})
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("expected Unavailable, got %v", err)
	}
}
