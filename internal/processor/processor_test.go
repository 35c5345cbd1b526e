package processor

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glebkudr/image-tools/internal/codec"
	"github.com/glebkudr/image-tools/internal/format"
	"github.com/glebkudr/image-tools/internal/model"
)

// noiseImage generates a deterministic high-entropy image; jpeg and webp
// output size responds strongly to quality on this kind of content.
func noiseImage(width, height int) *image.NRGBA {
	rnd := rand.New(rand.NewSource(7))
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{
				R: uint8(rnd.Intn(256)),
				G: uint8(rnd.Intn(256)),
				B: uint8(rnd.Intn(256)),
				A: 255,
			})
		}
	}
	return img
}

func flatImage(width, height int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestResize(t *testing.T) {
	p := New("")

	tests := []struct {
		name       string
		srcW, srcH int
		spec       model.ResizeSpec
		wantW      int
		wantH      int
	}{
		{
			name: "exact resize may distort",
			srcW: 800, srcH: 600,
			spec:  model.ResizeSpec{Width: 400, Height: 100},
			wantW: 400, wantH: 100,
		},
		{
			name: "fit inside box keeps aspect",
			srcW: 800, srcH: 600,
			spec:  model.ResizeSpec{Width: 400, Height: 300, KeepAspect: true},
			wantW: 400, wantH: 300,
		},
		{
			name: "fit never upscales past source",
			srcW: 200, srcH: 150,
			spec:  model.ResizeSpec{Width: 400, Height: 300, KeepAspect: true},
			wantW: 200, wantH: 150,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := p.Resize(noiseImage(tt.srcW, tt.srcH), tt.spec)
			require.NotNil(t, out)
			assert.Equal(t, tt.wantW, out.Bounds().Dx())
			assert.Equal(t, tt.wantH, out.Bounds().Dy())
		})
	}
}

func TestResizeFitHonorsBoundingBox(t *testing.T) {
	// 800x600 into a 400x100 box: the height constraint wins and the
	// output never exceeds either requested dimension.
	p := New("")

	out := p.Resize(noiseImage(800, 600), model.ResizeSpec{Width: 400, Height: 100, KeepAspect: true})

	assert.LessOrEqual(t, out.Bounds().Dx(), 400)
	assert.LessOrEqual(t, out.Bounds().Dy(), 100)
	assert.Equal(t, 100, out.Bounds().Dy())
	assert.InDelta(t, 800.0/600.0, float64(out.Bounds().Dx())/float64(out.Bounds().Dy()), 0.02)
}

func TestCrop(t *testing.T) {
	p := New("")
	src := noiseImage(800, 600)

	tests := []struct {
		name    string
		spec    model.CropSpec
		wantW   int
		wantH   int
		wantErr error
	}{
		{
			name: "inside bounds",
			spec: model.CropSpec{X: 100, Y: 100, Width: 200, Height: 150},
			wantW: 200, wantH: 150,
		},
		{
			name: "oversized extent is truncated",
			spec: model.CropSpec{X: 10, Y: 10, Width: 5000, Height: 5000},
			wantW: 790, wantH: 590,
		},
		{
			name: "negative origin is clamped",
			spec: model.CropSpec{X: -50, Y: -50, Width: 100, Height: 100},
			wantW: 100, wantH: 100,
		},
		{
			name:    "origin at width bound rejected",
			spec:    model.CropSpec{X: 800, Y: 0, Width: 10, Height: 10},
			wantErr: ErrCropOutOfBounds,
		},
		{
			name:    "origin beyond height bound rejected",
			spec:    model.CropSpec{X: 0, Y: 700, Width: 10, Height: 10},
			wantErr: ErrCropOutOfBounds,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := p.Crop(src, tt.spec)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantW, out.Bounds().Dx())
			assert.Equal(t, tt.wantH, out.Bounds().Dy())
		})
	}
}

func TestCropRejectsNonPositiveExtent(t *testing.T) {
	p := New("")
	src := noiseImage(100, 100)

	_, err := p.Crop(src, model.CropSpec{X: 0, Y: 0, Width: 0, Height: 10})
	assert.Error(t, err)

	_, err = p.Crop(src, model.CropSpec{X: 0, Y: 0, Width: 10, Height: -1})
	assert.Error(t, err)
}

func TestConvert(t *testing.T) {
	p := New("")
	src := noiseImage(64, 48)

	tests := []struct {
		name       string
		target     string
		wantFormat string
	}{
		{name: "jpg maps to jpeg encoder", target: "jpg", wantFormat: format.JPEG},
		{name: "png stays png", target: "png", wantFormat: format.PNG},
		{name: "webp stays webp", target: "webp", wantFormat: format.WebP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := p.Convert(src, tt.target)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFormat, enc.Format)

			decoded, err := codec.Decode(bytes.NewReader(enc.Data), enc.Format)
			require.NoError(t, err)
			assert.Equal(t, 64, decoded.Bounds().Dx())
			assert.Equal(t, 48, decoded.Bounds().Dy())
		})
	}
}

type svgDoc struct {
	Width  int `xml:"width,attr"`
	Height int `xml:"height,attr"`
	Image  struct {
		Href string `xml:"href,attr"`
	} `xml:"image"`
}

func TestConvertSVGWrapsRaster(t *testing.T) {
	p := New("")
	src := flatImage(120, 90, color.NRGBA{R: 30, G: 120, B: 200, A: 255})

	enc, err := p.Convert(src, format.SVG)
	require.NoError(t, err)
	assert.Equal(t, format.SVG, enc.Format)

	var doc svgDoc
	require.NoError(t, xml.Unmarshal(enc.Data, &doc))
	assert.Equal(t, 120, doc.Width)
	assert.Equal(t, 90, doc.Height)

	// The embedded payload is a base64 png decodable back to the same
	// dimensions.
	const prefix = "data:image/png;base64,"
	require.True(t, len(doc.Image.Href) > len(prefix))
	assert.Equal(t, prefix, doc.Image.Href[:len(prefix)])

	payload, err := base64.StdEncoding.DecodeString(doc.Image.Href[len(prefix):])
	require.NoError(t, err)

	embedded, err := codec.Decode(bytes.NewReader(payload), format.PNG)
	require.NoError(t, err)
	assert.Equal(t, 120, embedded.Bounds().Dx())
	assert.Equal(t, 90, embedded.Bounds().Dy())
}

func TestCompressDirectQuality(t *testing.T) {
	p := New("")
	src := noiseImage(64, 64)

	tests := []struct {
		name        string
		srcFormat   string
		quality     int
		wantFormat  string
		wantQuality int
	}{
		{name: "jpeg keeps format", srcFormat: format.JPEG, quality: 50, wantFormat: format.JPEG, wantQuality: 50},
		{name: "png keeps format", srcFormat: format.PNG, quality: 50, wantFormat: format.PNG, wantQuality: 50},
		{name: "gif redirects to webp", srcFormat: format.GIF, quality: 50, wantFormat: format.WebP, wantQuality: 50},
		{name: "heic redirects to jpeg", srcFormat: format.HEIC, quality: 50, wantFormat: format.JPEG, wantQuality: 50},
		{name: "svg redirects to jpeg", srcFormat: format.SVG, quality: 50, wantFormat: format.JPEG, wantQuality: 50},
		{name: "quality clamped up", srcFormat: format.JPEG, quality: 3, wantFormat: format.JPEG, wantQuality: MinQuality},
		{name: "quality clamped down", srcFormat: format.JPEG, quality: 250, wantFormat: format.JPEG, wantQuality: MaxQuality},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := p.Compress(src, tt.srcFormat, model.CompressSpec{Quality: tt.quality})
			require.NoError(t, err)
			assert.Equal(t, tt.wantFormat, enc.Format)
			assert.Equal(t, tt.wantQuality, enc.Quality)
			assert.NotEmpty(t, enc.Data)
		})
	}
}

func TestCompressSearchFormats(t *testing.T) {
	p := New("")
	src := noiseImage(64, 64)

	tests := []struct {
		name       string
		srcFormat  string
		wantFormat string
	}{
		{name: "jpeg searches jpeg", srcFormat: format.JPEG, wantFormat: format.JPEG},
		{name: "png search substitutes webp", srcFormat: format.PNG, wantFormat: format.WebP},
		{name: "gif searches webp", srcFormat: format.GIF, wantFormat: format.WebP},
		{name: "heic searches jpeg", srcFormat: format.HEIC, wantFormat: format.JPEG},
		{name: "svg searches jpeg", srcFormat: format.SVG, wantFormat: format.JPEG},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := p.Compress(src, tt.srcFormat, model.CompressSpec{MaxBytes: 1 << 20})
			require.NoError(t, err)
			assert.Equal(t, tt.wantFormat, enc.Format)
		})
	}
}

// stubProcessor returns a Processor whose encoder produces exactly
// quality*100 bytes, a perfectly monotonic size-vs-quality curve. It also
// counts encode calls.
func stubProcessor(calls *int) *Processor {
	p := New("")
	p.encode = func(_ image.Image, _ string, quality int) ([]byte, error) {
		*calls++
		return make([]byte, quality*100), nil
	}
	return p
}

func TestSearchFindsMaximalQuality(t *testing.T) {
	src := noiseImage(8, 8)

	tests := []struct {
		name        string
		budget      int
		wantQuality int
		wantSize    int
	}{
		{name: "budget on an exact step", budget: 5500, wantQuality: 55, wantSize: 5500},
		{name: "budget between steps", budget: 5549, wantQuality: 55, wantSize: 5500},
		{name: "budget just under a step", budget: 5499, wantQuality: 54, wantSize: 5400},
		{name: "budget at the floor", budget: 1000, wantQuality: 10, wantSize: 1000},
		{name: "budget above the ceiling", budget: 1 << 20, wantQuality: 100, wantSize: 10000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int
			p := stubProcessor(&calls)

			enc, err := p.Compress(src, format.JPEG, model.CompressSpec{MaxBytes: tt.budget})
			require.NoError(t, err)
			assert.Equal(t, tt.wantQuality, enc.Quality)
			assert.Equal(t, tt.wantSize, len(enc.Data))
			assert.LessOrEqual(t, len(enc.Data), tt.budget)

			// Binary search over [10,100] probes at most 7 qualities.
			assert.LessOrEqual(t, calls, 7)
		})
	}
}

func TestSearchUnattainableBudgetUsesFloorEncoding(t *testing.T) {
	var calls int
	p := stubProcessor(&calls)

	// 999 bytes is below even the quality-10 size of 1000; the floor
	// encoding is returned unconditionally, over budget.
	enc, err := p.Compress(noiseImage(8, 8), format.JPEG, model.CompressSpec{MaxBytes: 999})
	require.NoError(t, err)
	assert.Equal(t, MinQuality, enc.Quality)
	assert.Equal(t, 1000, len(enc.Data))
}

// TestSizeMonotonicInQuality checks the codec assumption the search relies
// on against real encoder output: higher quality never produces a smaller
// file on high-entropy content.
func TestSizeMonotonicInQuality(t *testing.T) {
	src := noiseImage(120, 120)

	for _, f := range []string{format.JPEG, format.WebP} {
		t.Run(f, func(t *testing.T) {
			prev := 0
			for q := MinQuality; q <= MaxQuality; q += 5 {
				data, err := codec.Encode(src, f, q)
				require.NoError(t, err)
				assert.LessOrEqual(t, prev, len(data), "size decreased approaching quality %d", q)
				prev = len(data)
			}
		})
	}
}

func TestSearchUnattainableBudgetFallsBack(t *testing.T) {
	p := New("")
	src := noiseImage(120, 120)

	// Nothing fits in 16 bytes; the minimum-quality encoding is returned
	// anyway as the best-effort floor.
	enc, err := p.Compress(src, format.JPEG, model.CompressSpec{MaxBytes: 16})
	require.NoError(t, err)
	assert.Equal(t, MinQuality, enc.Quality)
	assert.Greater(t, len(enc.Data), 16)
}

func TestSearchGenerousBudgetPicksTopQuality(t *testing.T) {
	p := New("")
	src := noiseImage(64, 64)

	enc, err := p.Compress(src, format.JPEG, model.CompressSpec{MaxBytes: 10 << 20})
	require.NoError(t, err)
	assert.Equal(t, MaxQuality, enc.Quality)
}

func TestCompressIsDeterministic(t *testing.T) {
	// The preview endpoint relies on compress runs being byte-identical
	// for identical inputs.
	p := New("")
	src := noiseImage(100, 100)
	spec := model.CompressSpec{MaxBytes: 4096}

	first, err := p.Compress(src, format.JPEG, spec)
	require.NoError(t, err)
	second, err := p.Compress(src, format.JPEG, spec)
	require.NoError(t, err)

	assert.Equal(t, first.Format, second.Format)
	assert.Equal(t, first.Quality, second.Quality)
	assert.True(t, bytes.Equal(first.Data, second.Data))
}

func TestWatermarkMissingFont(t *testing.T) {
	p := New("testdata/missing.ttf")

	_, err := p.Watermark(noiseImage(64, 64), "text")
	assert.Error(t, err)
}
