package processor

import (
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"

	"github.com/glebkudr/image-tools/internal/codec"
	"github.com/glebkudr/image-tools/internal/format"
	"github.com/glebkudr/image-tools/internal/model"
)

// Quality bounds for tunable encoders. The byte-budget search runs over
// this range, and direct quality requests are clamped into it.
const (
	MinQuality = 10
	MaxQuality = 100

	// DefaultQuality is used when an operation re-encodes without an
	// explicit quality request.
	DefaultQuality = 90
)

// ErrCropOutOfBounds is returned when the clamped crop origin lies at or
// beyond the source image bounds.
var ErrCropOutOfBounds = errors.New("crop origin is outside the image")

// Encoded is a finished encode, tagged with the format and quality that
// produced it.
type Encoded struct {
	Data    []byte
	Format  string
	Quality int
}

// Processor executes the pixel-level operations: resize, crop, conversion,
// watermarking and size-targeted compression.
type Processor struct {
	fontPath string
	encode   func(img image.Image, f string, quality int) ([]byte, error)
}

// New creates a Processor. fontPath points at the TTF used for watermark
// text.
func New(fontPath string) *Processor {
	return &Processor{fontPath: fontPath, encode: codec.Encode}
}

// Resize scales the image to the spec. Without KeepAspect the output is
// forced to exactly Width x Height and may distort. With KeepAspect the
// output fits entirely inside the box and is never upscaled past the
// source's native resolution.
func (p *Processor) Resize(img image.Image, spec model.ResizeSpec) image.Image {
	if spec.KeepAspect {
		return imaging.Fit(img, spec.Width, spec.Height, imaging.Lanczos)
	}
	return imaging.Resize(img, spec.Width, spec.Height, imaging.Lanczos)
}

// Crop extracts a rectangular subregion. The origin is clamped to be
// non-negative; an origin at or beyond either source bound is rejected. An
// extent overflowing the remaining space is truncated to fit, not rejected.
func (p *Processor) Crop(img image.Image, spec model.CropSpec) (image.Image, error) {
	if spec.Width <= 0 || spec.Height <= 0 {
		return nil, fmt.Errorf("crop size must be positive")
	}

	x := max(spec.X, 0)
	y := max(spec.Y, 0)

	bounds := img.Bounds()
	if x >= bounds.Dx() || y >= bounds.Dy() {
		return nil, ErrCropOutOfBounds
	}

	w := min(spec.Width, bounds.Dx()-x)
	h := min(spec.Height, bounds.Dy()-y)

	return imaging.Crop(img, image.Rect(x, y, x+w, y+h)), nil
}

// Convert re-encodes the image into the requested target format. The public
// "jpg" spelling maps to the jpeg encoder. The pseudo-format "svg" wraps a
// png-encoded raster in an svg document; it is not vectorization.
func (p *Processor) Convert(img image.Image, target string) (Encoded, error) {
	if target == format.SVG {
		data, err := wrapSVG(img)
		if err != nil {
			return Encoded{}, err
		}
		return Encoded{Data: data, Format: format.SVG}, nil
	}

	enc := format.EncoderID(target)
	data, err := p.encode(img, enc, DefaultQuality)
	if err != nil {
		return Encoded{}, err
	}

	return Encoded{Data: data, Format: enc, Quality: DefaultQuality}, nil
}

// Compress re-encodes the image in the format resolved from its source.
// With a byte budget it runs the target-size search; otherwise it encodes
// once at the clamped direct quality.
func (p *Processor) Compress(img image.Image, srcFormat string, spec model.CompressSpec) (Encoded, error) {
	target := format.CompressionTarget(srcFormat)

	if spec.MaxBytes > 0 {
		return p.searchTargetSize(img, format.SearchFormat(target), spec.MaxBytes)
	}

	quality := clampQuality(spec.Quality)
	data, err := p.encode(img, target, quality)
	if err != nil {
		return Encoded{}, err
	}

	return Encoded{Data: data, Format: target, Quality: quality}, nil
}

// searchTargetSize finds the highest quality in [MinQuality, MaxQuality]
// whose encoded size fits within budget bytes, by binary search over the
// quality range. Encoded size is assumed monotonically non-decreasing in
// quality; roughly log2(MaxQuality-MinQuality) encodes in the worst case.
//
// If no quality fits, the minimum-quality encoding is returned even though
// it may still exceed the budget. Callers depend on this best-effort floor.
func (p *Processor) searchTargetSize(img image.Image, searchFormat string, budget int) (Encoded, error) {
	low, high := MinQuality, MaxQuality

	var best []byte
	bestQuality := 0

	for low <= high {
		mid := (low + high) / 2

		buf, err := p.encode(img, searchFormat, mid)
		if err != nil {
			return Encoded{}, err
		}

		if len(buf) <= budget {
			// Fits: this candidate was tried at a higher quality than any
			// previously accepted one, so it supersedes the current best.
			best = buf
			bestQuality = mid
			low = mid + 1
		} else {
			high = mid - 1
		}
	}

	if best == nil {
		buf, err := p.encode(img, searchFormat, MinQuality)
		if err != nil {
			return Encoded{}, err
		}
		return Encoded{Data: buf, Format: searchFormat, Quality: MinQuality}, nil
	}

	return Encoded{Data: best, Format: searchFormat, Quality: bestQuality}, nil
}

// Watermark stamps text in the bottom-right corner, sized relative to the
// image width.
func (p *Processor) Watermark(img image.Image, text string) (image.Image, error) {
	if text == "" {
		text = "Watermark"
	}

	dc := gg.NewContextForImage(img)
	dc.SetColor(color.White)

	fontSize := float64(dc.Width()) * 0.05
	if err := dc.LoadFontFace(p.fontPath, fontSize); err != nil {
		return nil, fmt.Errorf("failed to load font: %w", err)
	}

	tw, th := dc.MeasureString(text)

	margin := 10.0
	x := float64(dc.Width()) - tw - margin
	y := float64(dc.Height()) - th - margin

	dc.DrawStringAnchored(text, x, y, 1, 1)
	dc.Fill()

	return dc.Image(), nil
}

// wrapSVG embeds a png-encoded raster as a base64 data URI inside a minimal
// svg document sized to the source's pixel dimensions.
func wrapSVG(img image.Image) ([]byte, error) {
	data, err := codec.Encode(img, format.PNG, 0)
	if err != nil {
		return nil, err
	}

	w := img.Bounds().Dx()
	h := img.Bounds().Dy()

	doc := fmt.Sprintf(
		`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`+
			`<image width="%d" height="%d" href="data:image/png;base64,%s"/></svg>`,
		w, h, w, h, w, h, base64.StdEncoding.EncodeToString(data),
	)

	return []byte(doc), nil
}

func clampQuality(q int) int {
	if q < MinQuality {
		return MinQuality
	}
	if q > MaxQuality {
		return MaxQuality
	}
	return q
}
