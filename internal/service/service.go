// Package service ties the transformer registry, pipeline catalog, frame
// store, result cache and usage statistics together. Transports call into
// Service and never touch those components directly.
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arkilian/framekit/internal/cache"
	"github.com/arkilian/framekit/internal/catalog"
	"github.com/arkilian/framekit/internal/codec"
	fkerrors "github.com/arkilian/framekit/internal/errors"
	"github.com/arkilian/framekit/internal/framestore"
	"github.com/arkilian/framekit/internal/observability"
	"github.com/arkilian/framekit/internal/transform"
	"github.com/arkilian/framekit/pkg/types"
)

// InlinePipeline is the stats name used for ad hoc Transform calls.
const InlinePipeline = "(inline)"

// Options configures a Service. Only Registry is required to transform;
// the other components enable the features that depend on them.
type Options struct {
	Registry *transform.Registry
	Catalog  catalog.Catalog
	Frames   *framestore.Store
	Cache    *cache.ResultCache
	Stats    *observability.TransformStats
	Logger   *zap.Logger
}

// Service implements framekit operations.
type Service struct {
	registry *transform.Registry
	catalog  catalog.Catalog
	frames   *framestore.Store
	cache    *cache.ResultCache
	stats    *observability.TransformStats
	logger   *zap.Logger
}

// TransformerInfo describes a registered transformer.
type TransformerInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// DatasetResult summarises an ApplyToDataset run.
type DatasetResult struct {
	Pipeline      string         `json:"pipeline"`
	Dataset       string         `json:"dataset"`
	OutputDataset string         `json:"output_dataset,omitempty"`
	Frames        []*types.Frame `json:"frames"`
}

// Stats is a snapshot of service usage.
type Stats struct {
	Transformers []observability.UsageStats `json:"transformers"`
	Pipelines    []observability.UsageStats `json:"pipelines"`
	Cache        *cache.MetricsSnapshot     `json:"cache,omitempty"`
}

// New creates a Service.
func New(opts Options) *Service {
	if opts.Registry == nil {
		opts.Registry = transform.DefaultRegistry()
	}
	if opts.Stats == nil {
		opts.Stats = observability.NewTransformStats(time.Hour)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		registry: opts.Registry,
		catalog:  opts.Catalog,
		frames:   opts.Frames,
		cache:    opts.Cache,
		stats:    opts.Stats,
		logger:   opts.Logger.Named("service"),
	}
}

// Transformers lists the registered transformers sorted by ID.
func (s *Service) Transformers() []TransformerInfo {
	list := s.registry.List()
	infos := make([]TransformerInfo, len(list))
	for i, t := range list {
		infos[i] = TransformerInfo{ID: string(t.ID()), Name: t.Name(), Description: t.Description()}
	}
	return infos
}

// Transform applies an ad hoc pipeline to frames.
func (s *Service) Transform(ctx context.Context, steps []transform.Config, frames []*types.Frame) ([]*types.Frame, error) {
	return s.run(ctx, InlinePipeline, steps, frames)
}

// ApplySaved applies the named pipeline from the catalog to frames.
func (s *Service) ApplySaved(ctx context.Context, pipelineName string, frames []*types.Frame) ([]*types.Frame, error) {
	record, err := s.GetPipeline(ctx, pipelineName)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, pipelineName, record.Steps, frames)
}

// ApplyToDataset applies the named pipeline to every frame of dataset. When
// outputDataset is non-empty the results are saved there.
func (s *Service) ApplyToDataset(ctx context.Context, pipelineName, dataset, outputDataset string) (*DatasetResult, error) {
	if err := s.requireFrames(); err != nil {
		return nil, err
	}
	record, err := s.GetPipeline(ctx, pipelineName)
	if err != nil {
		return nil, err
	}
	frames, err := s.frames.LoadDataset(ctx, dataset)
	if err != nil {
		return nil, err
	}
	out, err := s.run(ctx, pipelineName, record.Steps, frames)
	if err != nil {
		return nil, err
	}

	if outputDataset != "" {
		for _, frame := range out {
			if err := s.frames.Save(ctx, outputDataset, frame); err != nil {
				return nil, err
			}
		}
		s.logger.Info("dataset transformed",
			zap.String("pipeline", pipelineName),
			zap.String("dataset", dataset),
			zap.String("output_dataset", outputDataset),
			zap.Int("frames", len(out)))
	}

	return &DatasetResult{
		Pipeline:      pipelineName,
		Dataset:       dataset,
		OutputDataset: outputDataset,
		Frames:        out,
	}, nil
}

// SaveFrames stores frames in a dataset. Frame names must be unique within
// one call; nothing is written when they are not.
func (s *Service) SaveFrames(ctx context.Context, dataset string, frames []*types.Frame) error {
	if err := s.requireFrames(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(frames))
	for _, frame := range frames {
		if frame == nil {
			continue
		}
		if _, dup := seen[frame.Name]; dup {
			return fkerrors.NewValidationError(fkerrors.CodeInvalidName,
				fmt.Sprintf("duplicate frame name %q in dataset %q", frame.Name, dataset))
		}
		seen[frame.Name] = struct{}{}
	}
	for _, frame := range frames {
		if err := s.frames.Save(ctx, dataset, frame); err != nil {
			return err
		}
	}
	return nil
}

// LoadFrames returns every frame stored in a dataset.
func (s *Service) LoadFrames(ctx context.Context, dataset string) ([]*types.Frame, error) {
	if err := s.requireFrames(); err != nil {
		return nil, err
	}
	return s.frames.LoadDataset(ctx, dataset)
}

// SavePipeline stores a pipeline definition. See catalog.Catalog.Save for
// the meaning of expectedVersion.
func (s *Service) SavePipeline(ctx context.Context, def catalog.PipelineDefinition, expectedVersion int) (*catalog.PipelineRecord, error) {
	if err := s.requireCatalog(); err != nil {
		return nil, err
	}
	return s.catalog.Save(ctx, def, expectedVersion)
}

// GetPipeline returns a saved pipeline.
func (s *Service) GetPipeline(ctx context.Context, name string) (*catalog.PipelineRecord, error) {
	if err := s.requireCatalog(); err != nil {
		return nil, err
	}
	return s.catalog.Get(ctx, name)
}

// ListPipelines returns all saved pipelines ordered by name.
func (s *Service) ListPipelines(ctx context.Context) ([]*catalog.PipelineRecord, error) {
	if err := s.requireCatalog(); err != nil {
		return nil, err
	}
	return s.catalog.List(ctx)
}

// DeletePipeline removes a saved pipeline.
func (s *Service) DeletePipeline(ctx context.Context, name string) error {
	if err := s.requireCatalog(); err != nil {
		return err
	}
	return s.catalog.Delete(ctx, name)
}

// Stats returns the top n transformers and pipelines plus cache metrics.
func (s *Service) Stats(n int) Stats {
	st := Stats{
		Transformers: s.stats.TopTransformers(n),
		Pipelines:    s.stats.TopPipelines(n),
	}
	if s.cache != nil {
		snap := s.cache.Snapshot()
		st.Cache = &snap
	}
	return st
}

func (s *Service) run(ctx context.Context, name string, steps []transform.Config, frames []*types.Frame) ([]*types.Frame, error) {
	start := time.Now()

	pipeline, err := transform.Compile(s.registry, steps)
	if err != nil {
		s.stats.RecordPipeline(name, observability.OutcomeError, len(frames), time.Since(start))
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		s.stats.RecordPipeline(name, observability.OutcomeError, len(frames), time.Since(start))
		return nil, fkerrors.NewTransformError(fkerrors.CodeCancelled, "pipeline cancelled", err)
	}

	var key string
	if s.cache != nil {
		key, err = codec.Fingerprint(steps, frames)
		if err != nil {
			// Unhashable input still runs, it just skips the cache
			s.logger.Warn("fingerprint failed", zap.String("pipeline", name), zap.Error(err))
		} else if cached, ok := s.cache.Get(key); ok {
			s.stats.RecordPipeline(name, observability.OutcomeCacheHit, len(frames), time.Since(start))
			s.logger.Debug("cache hit", zap.String("pipeline", name), zap.String("fingerprint", key))
			return cached, nil
		}
	}

	observed := pipeline.Observe(func(id transform.TransformerID, d time.Duration) {
		s.stats.RecordTransformer(string(id), 1, d)
	})
	out, err := observed.Apply(ctx, frames)
	if err != nil {
		s.stats.RecordPipeline(name, observability.OutcomeError, len(frames), time.Since(start))
		if fkerrors.GetCategory(err) != fkerrors.ErrCategoryValidation {
			s.logger.Warn("pipeline failed", zap.String("pipeline", name), zap.Error(err))
		}
		return nil, err
	}

	if s.cache != nil && key != "" {
		s.cache.Put(key, out)
	}
	s.stats.RecordPipeline(name, observability.OutcomeOK, len(frames), time.Since(start))
	s.logger.Debug("pipeline applied",
		zap.String("pipeline", name),
		zap.Int("steps", pipeline.Len()),
		zap.Int("frames", len(frames)),
		zap.Duration("elapsed", time.Since(start)))
	return out, nil
}

func (s *Service) requireCatalog() error {
	if s.catalog == nil {
		return fkerrors.New(fkerrors.ErrCategoryInternal, fkerrors.CodeUnexpected, "pipeline catalog is not configured")
	}
	return nil
}

func (s *Service) requireFrames() error {
	if s.frames == nil {
		return fkerrors.New(fkerrors.ErrCategoryInternal, fkerrors.CodeUnexpected, "frame store is not configured")
	}
	return nil
}
