package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/glebkudr/image-tools/internal/codec"
	"github.com/glebkudr/image-tools/internal/format"
	"github.com/glebkudr/image-tools/internal/model"
	"github.com/glebkudr/image-tools/internal/processor"
)

// outputSubdir is the transient output area inside the storage backend.
const outputSubdir = "output"

// ErrArtifactNotFound is returned when a byte-served artifact has already
// expired or never existed.
var ErrArtifactNotFound = errors.New("artifact not found")

// FileStorage is the transient artifact store. Two backends implement it:
// local disk and an S3-compatible bucket.
type FileStorage interface {
	Save(ctx context.Context, subdir, filename string, src io.Reader) (string, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Remove(ctx context.Context, path string) error
	ScheduleRemove(path string, after time.Duration)
}

// Service provides the business logic for image operations. Every entity it
// touches is request-scoped; uploads stay in memory and outputs land in the
// transient store with either scoped or delayed cleanup.
type Service struct {
	storage      FileStorage
	processor    *processor.Processor
	baseURL      string
	cleanupDelay time.Duration
}

// NewService creates a Service. baseURL prefixes byte-served artifact URLs;
// cleanupDelay bounds how long URL-served artifacts outlive the response.
func NewService(fs FileStorage, p *processor.Processor, baseURL string, cleanupDelay time.Duration) *Service {
	return &Service{
		storage:      fs,
		processor:    p,
		baseURL:      baseURL,
		cleanupDelay: cleanupDelay,
	}
}

// Convert re-encodes the upload into the target format and stores the
// result for download.
func (s *Service) Convert(ctx context.Context, asset model.Asset, target string) (model.Artifact, error) {
	img, err := s.decode(asset)
	if err != nil {
		return model.Artifact{}, fmt.Errorf("convert: %w", err)
	}

	enc, err := s.processor.Convert(img, target)
	if err != nil {
		return model.Artifact{}, fmt.Errorf("convert: failed to encode image: %w", err)
	}

	return s.saveArtifact(ctx, enc.Data, enc.Format)
}

// Resize scales the upload per the spec and stores the result for download.
// The output keeps the source format where the encoder supports it.
func (s *Service) Resize(ctx context.Context, asset model.Asset, spec model.ResizeSpec) (model.Artifact, error) {
	img, err := s.decode(asset)
	if err != nil {
		return model.Artifact{}, fmt.Errorf("resize: %w", err)
	}

	resized := s.processor.Resize(img, spec)

	return s.encodeAndSave(ctx, resized, format.EncodeTarget(asset.Format))
}

// BulkResize applies the identical non-aspect-preserving resize to each
// file sequentially. Files succeed or fail independently: a failure is
// recorded in that file's entry and never aborts the rest of the batch.
// Outputs are exposed via byte-served URLs and removed after the cleanup
// delay.
func (s *Service) BulkResize(ctx context.Context, assets []model.Asset, width, height int) []model.BulkResult {
	results := make([]model.BulkResult, 0, len(assets))

	spec := model.ResizeSpec{Width: width, Height: height}

	for _, asset := range assets {
		art, err := s.resizeToURL(ctx, asset, spec)
		if err != nil {
			zlog.Logger.Err(err).Str("filename", asset.Filename).Msg("bulk resize: file failed")
			results = append(results, model.BulkResult{Name: asset.Filename, Error: err.Error()})
			continue
		}

		results = append(results, model.BulkResult{
			Name: asset.Filename,
			URL:  s.baseURL + "/api/files/" + art.Name,
		})
	}

	return results
}

func (s *Service) resizeToURL(ctx context.Context, asset model.Asset, spec model.ResizeSpec) (model.Artifact, error) {
	img, err := s.decode(asset)
	if err != nil {
		return model.Artifact{}, err
	}

	resized := s.processor.Resize(img, spec)

	art, err := s.encodeAndSave(ctx, resized, format.EncodeTarget(asset.Format))
	if err != nil {
		return model.Artifact{}, err
	}

	// URL-served artifacts must outlast any in-flight download; a timer is
	// the only owner of their lifetime.
	s.storage.ScheduleRemove(art.Path, s.cleanupDelay)

	return art, nil
}

// Crop extracts the requested subregion and stores the result for download.
func (s *Service) Crop(ctx context.Context, asset model.Asset, spec model.CropSpec) (model.Artifact, error) {
	img, err := s.decode(asset)
	if err != nil {
		return model.Artifact{}, fmt.Errorf("crop: %w", err)
	}

	cropped, err := s.processor.Crop(img, spec)
	if err != nil {
		return model.Artifact{}, fmt.Errorf("crop: %w", err)
	}

	return s.encodeAndSave(ctx, cropped, format.EncodeTarget(asset.Format))
}

// Compress re-encodes the upload at a direct quality or runs the
// target-size search, then stores the winner for download.
func (s *Service) Compress(ctx context.Context, asset model.Asset, spec model.CompressSpec) (model.Artifact, error) {
	enc, err := s.compress(asset, spec)
	if err != nil {
		return model.Artifact{}, err
	}

	return s.saveArtifact(ctx, enc.Data, enc.Format)
}

// CompressPreview performs the identical compression but only reports the
// resulting byte count and format. The encoded buffer is discarded and is
// never persisted or transmitted.
func (s *Service) CompressPreview(_ context.Context, asset model.Asset, spec model.CompressSpec) (model.CompressPreview, error) {
	enc, err := s.compress(asset, spec)
	if err != nil {
		return model.CompressPreview{}, err
	}

	return model.CompressPreview{Bytes: len(enc.Data), Format: enc.Format}, nil
}

func (s *Service) compress(asset model.Asset, spec model.CompressSpec) (processor.Encoded, error) {
	img, err := s.decode(asset)
	if err != nil {
		return processor.Encoded{}, fmt.Errorf("compress: %w", err)
	}

	enc, err := s.processor.Compress(img, asset.Format, spec)
	if err != nil {
		return processor.Encoded{}, fmt.Errorf("compress: failed to encode image: %w", err)
	}

	return enc, nil
}

// Watermark stamps text onto the upload and stores the result for download.
func (s *Service) Watermark(ctx context.Context, asset model.Asset, text string) (model.Artifact, error) {
	img, err := s.decode(asset)
	if err != nil {
		return model.Artifact{}, fmt.Errorf("watermark: %w", err)
	}

	marked, err := s.processor.Watermark(img, text)
	if err != nil {
		return model.Artifact{}, fmt.Errorf("watermark: %w", err)
	}

	return s.encodeAndSave(ctx, marked, format.EncodeTarget(asset.Format))
}

// OpenArtifact returns a reader for a byte-served artifact by name.
func (s *Service) OpenArtifact(ctx context.Context, name string) (io.ReadCloser, error) {
	r, err := s.storage.Open(ctx, path.Join(outputSubdir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrArtifactNotFound
		}
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}

	return r, nil
}

// ReleaseArtifact removes a direct-download artifact once its response has
// been written, on every exit path.
func (s *Service) ReleaseArtifact(ctx context.Context, art model.Artifact) {
	if err := s.storage.Remove(ctx, art.Path); err != nil {
		zlog.Logger.Err(err).Str("path", art.Path).Msg("failed to release artifact")
	}
}

func (s *Service) decode(asset model.Asset) (image.Image, error) {
	img, err := codec.Decode(bytes.NewReader(asset.Data), asset.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s image: %w", asset.Format, err)
	}
	return img, nil
}

func (s *Service) encodeAndSave(ctx context.Context, img image.Image, f string) (model.Artifact, error) {
	data, err := codec.Encode(img, f, processor.DefaultQuality)
	if err != nil {
		return model.Artifact{}, fmt.Errorf("failed to encode image: %w", err)
	}

	return s.saveArtifact(ctx, data, f)
}

func (s *Service) saveArtifact(ctx context.Context, data []byte, f string) (model.Artifact, error) {
	name := uuid.New().String() + "." + format.Extension(f)

	dst, err := s.storage.Save(ctx, outputSubdir, name, bytes.NewReader(data))
	if err != nil {
		return model.Artifact{}, fmt.Errorf("failed to save artifact: %w", err)
	}

	return model.Artifact{
		Name:   name,
		Path:   dst,
		Format: f,
		Size:   int64(len(data)),
	}, nil
}
