package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/glebkudr/image-tools/internal/api/respond"
	"github.com/glebkudr/image-tools/internal/format"
	"github.com/glebkudr/image-tools/internal/model"
	"github.com/glebkudr/image-tools/internal/processor"
	imagesvc "github.com/glebkudr/image-tools/internal/service/image"
)

// service defines the interface for image-related operations.
type service interface {
	Convert(ctx context.Context, asset model.Asset, target string) (model.Artifact, error)
	Resize(ctx context.Context, asset model.Asset, spec model.ResizeSpec) (model.Artifact, error)
	BulkResize(ctx context.Context, assets []model.Asset, width, height int) []model.BulkResult
	Crop(ctx context.Context, asset model.Asset, spec model.CropSpec) (model.Artifact, error)
	Compress(ctx context.Context, asset model.Asset, spec model.CompressSpec) (model.Artifact, error)
	CompressPreview(ctx context.Context, asset model.Asset, spec model.CompressSpec) (model.CompressPreview, error)
	Watermark(ctx context.Context, asset model.Asset, text string) (model.Artifact, error)
	OpenArtifact(ctx context.Context, name string) (io.ReadCloser, error)
	ReleaseArtifact(ctx context.Context, art model.Artifact)
}

// Limits bounds what a single request may upload.
type Limits struct {
	MaxFileSize  int64
	MaxBulkFiles int
}

// Handler provides HTTP handlers for the image endpoints. It depends on a
// service interface to perform the business logic.
type Handler struct {
	service service
	limits  Limits
}

// NewHandler creates a new Handler with the given service and limits.
func NewHandler(s service, limits Limits) *Handler {
	return &Handler{service: s, limits: limits}
}

// Health reports liveness.
func (h *Handler) Health(c *ginext.Context) {
	respond.OK(c, map[string]string{"status": "ok"})
}

// ConversionOptions returns the plausible target formats for the uploaded
// file, keyed on its detected extension. Informational only: /convert does
// not enforce this list.
func (h *Handler) ConversionOptions(c *ginext.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("file field is required"))
		return
	}
	defer file.Close()

	ext := format.FromFilename(header.Filename)
	if !format.Allowed(ext) {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("unsupported file type: %q", ext))
		return
	}

	respond.OK(c, model.ConversionOptions{
		InputFormat:      ext,
		AvailableFormats: format.Options(ext),
	})
}

// Convert re-encodes the upload into the requested target format and
// returns it as a download.
func (h *Handler) Convert(c *ginext.Context) {
	asset, ok := h.formAsset(c)
	if !ok {
		return
	}

	target := c.PostForm("targetFormat")
	if target == "" {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("targetFormat field is required"))
		return
	}

	art, err := h.service.Convert(c.Request.Context(), asset, target)
	if err != nil {
		zlog.Logger.Err(err).Str("filename", asset.Filename).Msg("failed to convert image")
		respond.Fail(c, http.StatusInternalServerError, err)
		return
	}

	h.sendArtifact(c, art)
}

// Resize scales the upload and returns it as a download.
func (h *Handler) Resize(c *ginext.Context) {
	asset, ok := h.formAsset(c)
	if !ok {
		return
	}

	width, err := formPositiveInt(c, "width")
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, err)
		return
	}
	height, err := formPositiveInt(c, "height")
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, err)
		return
	}

	keepAspect := false
	if v := c.PostForm("maintainAspectRatio"); v != "" {
		keepAspect, err = strconv.ParseBool(v)
		if err != nil {
			respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid maintainAspectRatio: %q", v))
			return
		}
	}

	spec := model.ResizeSpec{Width: width, Height: height, KeepAspect: keepAspect}

	art, err := h.service.Resize(c.Request.Context(), asset, spec)
	if err != nil {
		zlog.Logger.Err(err).Str("filename", asset.Filename).Msg("failed to resize image")
		respond.Fail(c, http.StatusInternalServerError, err)
		return
	}

	h.sendArtifact(c, art)
}

// BulkResize applies one exact resize to up to MaxBulkFiles uploads and
// returns a URL (or an error) per file. A failed file never aborts the
// batch.
func (h *Handler) BulkResize(c *ginext.Context) {
	if err := c.Request.ParseMultipartForm(32 << 20); err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("parse multipart form failed: %v", err))
		return
	}

	files := c.Request.MultipartForm.File["files"]
	if len(files) == 0 {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("files field is required"))
		return
	}
	if len(files) > h.limits.MaxBulkFiles {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("at most %d files per request", h.limits.MaxBulkFiles))
		return
	}

	width, err := formPositiveInt(c, "width")
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, err)
		return
	}
	height, err := formPositiveInt(c, "height")
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, err)
		return
	}

	// Upload validation failures take their slot in the result list; only
	// readable files go to the service.
	results := make([]model.BulkResult, len(files))
	assets := make([]model.Asset, 0, len(files))
	slots := make([]int, 0, len(files))

	for i, fh := range files {
		asset, err := h.readFile(fh)
		if err != nil {
			results[i] = model.BulkResult{Name: fh.Filename, Error: err.Error()}
			continue
		}
		assets = append(assets, asset)
		slots = append(slots, i)
	}

	processed := h.service.BulkResize(c.Request.Context(), assets, width, height)
	for j, i := range slots {
		results[i] = processed[j]
	}

	respond.OK(c, results)
}

// Crop extracts a rectangular subregion and returns it as a download.
func (h *Handler) Crop(c *ginext.Context) {
	asset, ok := h.formAsset(c)
	if !ok {
		return
	}

	x, err := formInt(c, "x")
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, err)
		return
	}
	y, err := formInt(c, "y")
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, err)
		return
	}
	width, err := formPositiveInt(c, "width")
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, err)
		return
	}
	height, err := formPositiveInt(c, "height")
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, err)
		return
	}

	spec := model.CropSpec{X: x, Y: y, Width: width, Height: height}

	art, err := h.service.Crop(c.Request.Context(), asset, spec)
	if err != nil {
		if errors.Is(err, processor.ErrCropOutOfBounds) {
			respond.Fail(c, http.StatusBadRequest, err)
			return
		}

		zlog.Logger.Err(err).Str("filename", asset.Filename).Msg("failed to crop image")
		respond.Fail(c, http.StatusInternalServerError, err)
		return
	}

	h.sendArtifact(c, art)
}

// Compress re-encodes at a direct quality or toward a byte budget and
// returns the result as a download.
func (h *Handler) Compress(c *ginext.Context) {
	asset, ok := h.formAsset(c)
	if !ok {
		return
	}

	spec, err := compressSpec(c)
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, err)
		return
	}

	art, err := h.service.Compress(c.Request.Context(), asset, spec)
	if err != nil {
		zlog.Logger.Err(err).Str("filename", asset.Filename).Msg("failed to compress image")
		respond.Fail(c, http.StatusInternalServerError, err)
		return
	}

	h.sendArtifact(c, art)
}

// CompressPreview runs the identical compression but reports only the
// resulting byte count and format.
func (h *Handler) CompressPreview(c *ginext.Context) {
	asset, ok := h.formAsset(c)
	if !ok {
		return
	}

	spec, err := compressSpec(c)
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, err)
		return
	}

	preview, err := h.service.CompressPreview(c.Request.Context(), asset, spec)
	if err != nil {
		zlog.Logger.Err(err).Str("filename", asset.Filename).Msg("failed to preview compression")
		respond.Fail(c, http.StatusInternalServerError, err)
		return
	}

	respond.OK(c, preview)
}

// Watermark stamps text onto the upload and returns it as a download.
func (h *Handler) Watermark(c *ginext.Context) {
	asset, ok := h.formAsset(c)
	if !ok {
		return
	}

	art, err := h.service.Watermark(c.Request.Context(), asset, c.PostForm("text"))
	if err != nil {
		zlog.Logger.Err(err).Str("filename", asset.Filename).Msg("failed to watermark image")
		respond.Fail(c, http.StatusInternalServerError, err)
		return
	}

	h.sendArtifact(c, art)
}

// File serves a byte-served artifact produced by bulk resize.
func (h *Handler) File(c *ginext.Context) {
	name := c.Param("name")
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid artifact name"))
		return
	}

	reader, err := h.service.OpenArtifact(c.Request.Context(), name)
	if err != nil {
		if errors.Is(err, imagesvc.ErrArtifactNotFound) {
			respond.Fail(c, http.StatusNotFound, err)
			return
		}

		zlog.Logger.Err(err).Str("name", name).Msg("failed to open artifact")
		respond.Fail(c, http.StatusInternalServerError, err)
		return
	}
	defer reader.Close()

	respond.Bytes(c, -1, format.MIME(format.Normalize(format.FromFilename(name))), reader)
}

// formAsset retrieves and validates the single "file" upload. On failure it
// writes the 400 response itself and returns ok=false.
func (h *Handler) formAsset(c *ginext.Context) (model.Asset, bool) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("file field is required"))
		return model.Asset{}, false
	}
	defer file.Close()

	asset, err := h.validateUpload(header.Filename, header.Size, file)
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, err)
		return model.Asset{}, false
	}

	return asset, true
}

// readFile loads one entry of a multi-file upload.
func (h *Handler) readFile(fh *multipart.FileHeader) (model.Asset, error) {
	file, err := fh.Open()
	if err != nil {
		return model.Asset{}, fmt.Errorf("failed to open upload: %w", err)
	}
	defer file.Close()

	return h.validateUpload(fh.Filename, fh.Size, file)
}

func (h *Handler) validateUpload(filename string, size int64, file io.Reader) (model.Asset, error) {
	if size > h.limits.MaxFileSize {
		return model.Asset{}, fmt.Errorf("file exceeds the maximum upload size of %d bytes", h.limits.MaxFileSize)
	}

	ext := format.FromFilename(filename)
	if !format.Allowed(ext) {
		return model.Asset{}, fmt.Errorf("unsupported file type: %q", ext)
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return model.Asset{}, fmt.Errorf("failed to read upload: %w", err)
	}

	return model.Asset{
		Filename: filename,
		Format:   format.Normalize(ext),
		Data:     data,
	}, nil
}

// sendArtifact streams a direct-download artifact and removes it on every
// exit path once the response stream is done. A failed transfer is logged
// by the framework but never skips the cleanup.
func (h *Handler) sendArtifact(c *ginext.Context, art model.Artifact) {
	defer h.service.ReleaseArtifact(context.Background(), art)

	reader, err := h.service.OpenArtifact(c.Request.Context(), art.Name)
	if err != nil {
		zlog.Logger.Err(err).Str("name", art.Name).Msg("failed to open produced artifact")
		respond.Fail(c, http.StatusInternalServerError, err)
		return
	}
	defer reader.Close()

	respond.File(c, art.Size, format.MIME(art.Format), art.Name, reader)
}

func formInt(c *ginext.Context, name string) (int, error) {
	v := c.PostForm(name)
	if v == "" {
		return 0, fmt.Errorf("%s field is required", name)
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}

	return n, nil
}

func formPositiveInt(c *ginext.Context, name string) (int, error) {
	n, err := formInt(c, name)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}

	return n, nil
}

// compressSpec parses the compression parameters. The byte budget wins when
// both are present; at least one is required.
func compressSpec(c *ginext.Context) (model.CompressSpec, error) {
	qualityStr := c.PostForm("quality")
	maxKbStr := c.PostForm("maxSizeKb")

	if qualityStr == "" && maxKbStr == "" {
		return model.CompressSpec{}, fmt.Errorf("quality or maxSizeKb field is required")
	}

	var spec model.CompressSpec

	if qualityStr != "" {
		quality, err := strconv.Atoi(qualityStr)
		if err != nil {
			return model.CompressSpec{}, fmt.Errorf("invalid quality: %q", qualityStr)
		}
		spec.Quality = quality
	}

	if maxKbStr != "" {
		maxKb, err := strconv.Atoi(maxKbStr)
		if err != nil {
			return model.CompressSpec{}, fmt.Errorf("invalid maxSizeKb: %q", maxKbStr)
		}
		if maxKb <= 0 {
			return model.CompressSpec{}, fmt.Errorf("maxSizeKb must be positive")
		}
		spec.MaxBytes = maxKb * 1024
	}

	return spec, nil
}
