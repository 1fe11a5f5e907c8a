// Package framestore persists frames as compressed blobs in object storage.
package framestore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/arkilian/framekit/internal/codec"
	fkerrors "github.com/arkilian/framekit/internal/errors"
	"github.com/arkilian/framekit/internal/storage"
	"github.com/arkilian/framekit/pkg/types"
)

const (
	rootPrefix = "frames"
	blobSuffix = ".fkf"

	// DefaultLoadConcurrency bounds parallel object reads in LoadDataset.
	DefaultLoadConcurrency = 8
)

// Store saves and loads frames grouped into datasets.
// Objects live at frames/<dataset>/<frame-name>.fkf.
type Store struct {
	storage    storage.ObjectStorage
	downloader *storage.BatchDownloader
	logger     *zap.Logger
}

// New creates a frame store over the given object storage.
func New(store storage.ObjectStorage, logger *zap.Logger) *Store {
	return NewWithConcurrency(store, DefaultLoadConcurrency, logger)
}

// NewWithConcurrency is New with an explicit bound on parallel reads.
func NewWithConcurrency(store storage.ObjectStorage, concurrency int, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		storage:    store,
		downloader: storage.NewBatchDownloader(store, concurrency),
		logger:     logger.Named("framestore"),
	}
}

// ObjectPath returns the object path of a frame.
func ObjectPath(dataset, name string) string {
	return path.Join(rootPrefix, dataset, name+blobSuffix)
}

// Save writes a frame into a dataset, replacing any frame of the same name.
func (s *Store) Save(ctx context.Context, dataset string, frame *types.Frame) error {
	if err := validateName("dataset", dataset); err != nil {
		return err
	}
	if frame == nil {
		return fkerrors.NewValidationError(fkerrors.CodeInvalidFrame, "frame is nil")
	}
	if err := validateName("frame", frame.Name); err != nil {
		return err
	}
	if err := frame.Validate(); err != nil {
		return fkerrors.Wrap(fkerrors.ErrCategoryValidation, fkerrors.CodeInvalidFrame, "cannot save frame", err)
	}

	blob, err := codec.EncodeBlob(frame)
	if err != nil {
		return fkerrors.NewInternalError("encode frame", err)
	}

	objectPath := ObjectPath(dataset, frame.Name)
	if err := s.storage.Put(ctx, objectPath, blob); err != nil {
		return fkerrors.NewStorageError(fkerrors.CodeUploadFailed, "put "+objectPath, err)
	}
	s.logger.Debug("frame saved",
		zap.String("object", objectPath),
		zap.Int("fields", len(frame.Fields)),
		zap.Int("rows", frame.Rows()),
		zap.Int("bytes", len(blob)))
	return nil
}

// Load reads one frame from a dataset.
func (s *Store) Load(ctx context.Context, dataset, name string) (*types.Frame, error) {
	if err := validateName("dataset", dataset); err != nil {
		return nil, err
	}
	if err := validateName("frame", name); err != nil {
		return nil, err
	}
	return s.loadObject(ctx, ObjectPath(dataset, name))
}

// LoadDataset reads every frame in a dataset, ordered by object path.
func (s *Store) LoadDataset(ctx context.Context, dataset string) ([]*types.Frame, error) {
	if err := validateName("dataset", dataset); err != nil {
		return nil, err
	}
	objects, err := s.storage.List(ctx, path.Join(rootPrefix, dataset)+"/")
	if err != nil {
		return nil, fkerrors.NewStorageError(fkerrors.CodeDownloadFailed, "list dataset "+dataset, err)
	}

	var blobs []string
	for _, objectPath := range objects {
		if strings.HasSuffix(objectPath, blobSuffix) {
			blobs = append(blobs, objectPath)
		}
	}
	if len(blobs) == 0 {
		return nil, fkerrors.NewStorageError(fkerrors.CodeObjectNotFound,
			fmt.Sprintf("dataset %q has no frames", dataset), nil)
	}

	result, err := s.downloader.Download(ctx, &storage.BatchRequest{ObjectPaths: blobs})
	if err != nil {
		return nil, fkerrors.NewStorageError(fkerrors.CodeDownloadFailed, "load dataset "+dataset, err)
	}

	frames := make([]*types.Frame, 0, len(blobs))
	for _, objectPath := range blobs {
		if err := result.Errors[objectPath]; err != nil {
			return nil, objectError(objectPath, err)
		}
		frame, err := codec.DecodeBlob(result.Objects[objectPath])
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
	s.logger.Debug("dataset loaded", zap.String("dataset", dataset), zap.Int("frames", len(frames)))
	return frames, nil
}

// Delete removes a frame from a dataset. Deleting a missing frame succeeds.
func (s *Store) Delete(ctx context.Context, dataset, name string) error {
	if err := validateName("dataset", dataset); err != nil {
		return err
	}
	if err := validateName("frame", name); err != nil {
		return err
	}
	if err := s.storage.Delete(ctx, ObjectPath(dataset, name)); err != nil {
		return fkerrors.NewStorageError(fkerrors.CodeUploadFailed, "delete frame", err)
	}
	return nil
}

func (s *Store) loadObject(ctx context.Context, objectPath string) (*types.Frame, error) {
	blob, err := s.storage.Get(ctx, objectPath)
	if err != nil {
		return nil, objectError(objectPath, err)
	}
	return codec.DecodeBlob(blob)
}

func objectError(objectPath string, err error) error {
	if errors.Is(err, storage.ErrObjectNotFound) {
		return fkerrors.NewStorageError(fkerrors.CodeObjectNotFound, objectPath, err)
	}
	return fkerrors.NewStorageError(fkerrors.CodeDownloadFailed, "get "+objectPath, err)
}

func validateName(kind, name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fkerrors.NewValidationError(fkerrors.CodeInvalidName,
			fmt.Sprintf("invalid %s name %q", kind, name))
	}
	return nil
}
