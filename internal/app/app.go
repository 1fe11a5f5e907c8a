// Package app wires the framekit components into a running server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	grpcapi "github.com/arkilian/framekit/internal/api/grpc"
	httpapi "github.com/arkilian/framekit/internal/api/http"
	"github.com/arkilian/framekit/internal/cache"
	"github.com/arkilian/framekit/internal/catalog"
	"github.com/arkilian/framekit/internal/config"
	"github.com/arkilian/framekit/internal/framestore"
	"github.com/arkilian/framekit/internal/observability"
	"github.com/arkilian/framekit/internal/server"
	"github.com/arkilian/framekit/internal/service"
	"github.com/arkilian/framekit/internal/storage"
	"github.com/arkilian/framekit/internal/transform"
)

// App manages the framekit server lifecycle.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	// lock guards the data directory against a second server
	lock *flock.Flock

	// Shared resources
	storage  storage.ObjectStorage
	catalog  catalog.Catalog
	cache    *cache.ResultCache
	stats    *observability.TransformStats
	service  *service.Service
	shutdown *server.ShutdownManager

	httpServer   *http.Server
	httpListener net.Listener
	grpcServer   *grpc.Server
	grpcListener net.Listener

	// Lifecycle
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New resolves and validates cfg and prepares the data directories.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &App{
		cfg:    cfg,
		logger: logger,
		lock:   flock.New(filepath.Join(cfg.DataDir, "framekit.lock")),
	}, nil
}

// Start initializes shared resources and starts the HTTP and gRPC servers.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ok, err := a.lock.TryLock()
	if err != nil {
		a.setStopped()
		return fmt.Errorf("acquire data dir lock: %w", err)
	}
	if !ok {
		a.setStopped()
		return fmt.Errorf("data dir %s is in use by another framekit server", a.cfg.DataDir)
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.initSharedResources(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to initialize shared resources: %w", err)
	}

	if err := a.startHTTP(); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to start http server: %w", err)
	}

	if a.cfg.GRPC.Enabled {
		if err := a.startGRPC(); err != nil {
			a.cleanup()
			return fmt.Errorf("failed to start grpc server: %w", err)
		}
	}

	a.startBackground(ctx)

	a.logger.Info("framekit started",
		zap.String("http_addr", a.HTTPAddr()),
		zap.String("grpc_addr", a.GRPCAddr()),
		zap.String("storage", a.cfg.Storage.Type))
	return nil
}

// initSharedResources opens storage, the catalog and the cache, and builds
// the service on top of them.
func (a *App) initSharedResources(ctx context.Context) error {
	var err error

	switch a.cfg.Storage.Type {
	case "local":
		a.storage, err = storage.NewLocalStorage(a.cfg.Storage.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if a.cfg.Storage.S3.Region != "" {
			s3Cfg.Region = a.cfg.Storage.S3.Region
		}
		s3Cfg.Endpoint = a.cfg.Storage.S3.Endpoint
		s3Cfg.UsePathStyle = a.cfg.Storage.S3.UsePathStyle
		if a.cfg.Storage.S3.MaxRetries > 0 {
			s3Cfg.MaxRetries = a.cfg.Storage.S3.MaxRetries
		}
		a.storage, err = storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, s3Cfg)
	default:
		return fmt.Errorf("unsupported storage type: %s", a.cfg.Storage.Type)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.logger.Info("storage initialized",
		zap.String("type", a.cfg.Storage.Type),
		zap.String("path", a.cfg.Storage.Path),
		zap.String("bucket", a.cfg.Storage.S3.Bucket))

	registry := transform.DefaultRegistry()

	switch a.cfg.Catalog.Driver {
	case "postgres":
		a.catalog, err = catalog.NewPostgresCatalog(ctx, catalog.PostgresConfig{
			URL:      a.cfg.Catalog.URL,
			MaxConns: a.cfg.Catalog.MaxConns,
		}, registry, a.logger)
	default:
		a.catalog, err = catalog.NewSQLiteCatalog(a.cfg.Catalog.Path, registry, a.logger)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline catalog: %w", err)
	}
	a.logger.Info("pipeline catalog initialized", zap.String("driver", a.cfg.Catalog.Driver))

	if a.cfg.Cache.Enabled {
		a.cache, err = cache.NewResultCache(a.cfg.Cache.MaxEntries, a.cfg.Cache.TTL)
		if err != nil {
			return fmt.Errorf("failed to initialize result cache: %w", err)
		}
	}

	a.stats = observability.NewTransformStats(a.cfg.Stats.Window)

	a.service = service.New(service.Options{
		Registry: registry,
		Catalog:  a.catalog,
		Frames:   framestore.NewWithConcurrency(a.storage, a.cfg.Storage.LoadConcurrency, a.logger),
		Cache:    a.cache,
		Stats:    a.stats,
		Logger:   a.logger,
	})

	a.shutdown = server.NewShutdownManager(server.ShutdownConfig{
		ShutdownTimeout: a.cfg.ShutdownTimeout,
	}, a.logger)
	// Closers run last-registered first, so the catalog outlives the servers.
	a.shutdown.RegisterCloser("catalog", a.catalog)

	return nil
}

func (a *App) startHTTP() error {
	handler := httpapi.NewHandler(a.service, httpapi.HandlerOptions{
		Logger:       a.logger,
		Shutdown:     a.shutdown,
		MaxBodyBytes: a.cfg.HTTP.MaxBodyBytes,
	})

	lis, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on http address: %w", err)
	}
	a.httpListener = lis
	a.httpServer = &http.Server{
		Handler:      handler,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}
	a.shutdown.RegisterCloser("http", &server.HTTPServerCloser{Server: a.httpServer})

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("http server listening", zap.String("addr", lis.Addr().String()))
		if err := a.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
		}
	}()
	return nil
}

func (a *App) startGRPC() error {
	lis, err := net.Listen("tcp", a.cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on grpc address: %w", err)
	}
	a.grpcListener = lis

	a.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(
		grpcapi.RequestIDUnaryInterceptor(),
		server.UnaryServerInterceptor(a.shutdown),
		grpcapi.LoggingUnaryInterceptor(a.logger),
	))
	grpcapi.RegisterTransformServiceServer(a.grpcServer, grpcapi.NewTransformServer(a.service, a.logger))
	a.shutdown.RegisterCloser("grpc", &server.GRPCServerCloser{Server: a.grpcServer})

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("grpc server listening", zap.String("addr", lis.Addr().String()))
		if err := a.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			a.logger.Error("grpc server error", zap.Error(err))
		}
	}()
	return nil
}

// startBackground runs stats pruning and cache expiry until ctx is done.
func (a *App) startBackground(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.stats.RunPruner(ctx, a.cfg.Stats.PruneInterval)
	}()

	if a.cache == nil || a.cfg.Cache.TTL <= 0 {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.cfg.Cache.TTL)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := a.cache.PurgeExpired(); n > 0 {
					a.logger.Debug("expired cached results purged", zap.Int("count", n))
				}
			}
		}
	}()
}

// Service returns the service once Start has succeeded.
func (a *App) Service() *service.Service {
	return a.service
}

// HTTPAddr returns the bound HTTP address, or "" before Start.
func (a *App) HTTPAddr() string {
	if a.httpListener == nil {
		return ""
	}
	return a.httpListener.Addr().String()
}

// GRPCAddr returns the bound gRPC address, or "" when gRPC is disabled.
func (a *App) GRPCAddr() string {
	if a.grpcListener == nil {
		return ""
	}
	return a.grpcListener.Addr().String()
}

// Stop drains in-flight requests, stops the servers and releases resources.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	a.logger.Info("initiating graceful shutdown")

	err := a.shutdown.Shutdown(ctx, "stop requested")

	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("shutdown timeout, some goroutines may not have finished")
	}

	if unlockErr := a.lock.Unlock(); unlockErr != nil {
		a.logger.Warn("failed to release data dir lock", zap.Error(unlockErr))
	}

	a.logger.Info("framekit stopped")
	return err
}

func (a *App) setStopped() {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
}

// cleanup releases resources after a failed Start.
func (a *App) cleanup() {
	if a.grpcServer != nil {
		a.grpcServer.Stop()
	} else if a.grpcListener != nil {
		a.grpcListener.Close()
	}
	if a.httpServer != nil {
		a.httpServer.Close()
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	if a.catalog != nil {
		a.catalog.Close()
	}
	_ = a.lock.Unlock()
	a.setStopped()
}

// WaitForShutdown blocks until a signal arrives or ctx is cancelled, then
// shuts the servers down.
func (a *App) WaitForShutdown(ctx context.Context) error {
	// Stop reports the shutdown result.
	_ = a.shutdown.ListenForSignals(ctx)
	return a.Stop(context.Background())
}
