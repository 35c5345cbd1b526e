package codec

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/jdeng/goheif"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"

	// Registers the webp decoder with image.Decode; encoding goes through
	// chai2010/webp, which exposes a quality parameter.
	_ "golang.org/x/image/webp"

	"github.com/glebkudr/image-tools/internal/format"
)

func init() {
	// Copy pixel data out of the heif decoder's buffers before they are
	// released.
	goheif.SafeEncoding = true
}

// Decode reads an image in the given source format. jpeg, png, gif and webp
// go through the standard decode path; heic and svg need their own
// decoders. The heic path tolerates malformed metadata as long as the pixel
// payload itself decodes.
func Decode(r io.Reader, srcFormat string) (image.Image, error) {
	switch srcFormat {
	case format.HEIC:
		img, err := goheif.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("failed to decode heic image: %w", err)
		}
		return img, nil
	case format.SVG:
		return decodeSVG(r)
	default:
		img, err := imaging.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("failed to decode image: %w", err)
		}
		return img, nil
	}
}

// Encode renders the image in the given format. The quality parameter is
// honored by jpeg and webp; png is lossless and ignores it.
func Encode(img image.Image, f string, quality int) ([]byte, error) {
	buf := new(bytes.Buffer)

	switch f {
	case format.JPEG:
		if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, fmt.Errorf("failed to encode jpeg: %w", err)
		}
	case format.PNG:
		if err := imaging.Encode(buf, img, imaging.PNG); err != nil {
			return nil, fmt.Errorf("failed to encode png: %w", err)
		}
	case format.GIF:
		if err := imaging.Encode(buf, img, imaging.GIF); err != nil {
			return nil, fmt.Errorf("failed to encode gif: %w", err)
		}
	case format.WebP:
		if err := webp.Encode(buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
			return nil, fmt.Errorf("failed to encode webp: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported encode format: %s", f)
	}

	return buf.Bytes(), nil
}

// decodeSVG rasterizes an svg document at its intrinsic viewbox size so it
// can enter the raster pipeline.
func decodeSVG(r io.Reader) (image.Image, error) {
	icon, err := oksvg.ReadIconStream(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse svg: %w", err)
	}

	w := int(icon.ViewBox.W)
	h := int(icon.ViewBox.H)
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("svg has no usable dimensions")
	}

	icon.SetTarget(0, 0, float64(w), float64(h))

	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	scanner := rasterx.NewScannerGV(w, h, rgba, rgba.Bounds())
	icon.Draw(rasterx.NewDasher(w, h, scanner), 1)

	return rgba, nil
}
