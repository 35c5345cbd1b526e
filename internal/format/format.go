package format

import (
	"path/filepath"
	"strings"
)

// Format identifiers used across the service. These match the encoder's
// naming; the public-facing "jpg" spelling is translated at the edges.
const (
	JPEG = "jpeg"
	PNG  = "png"
	GIF  = "gif"
	WebP = "webp"
	SVG  = "svg"
	HEIC = "heic"
)

// allowed is the upload extension allow-list. Anything else is rejected
// before the file reaches the pipeline.
var allowed = map[string]bool{
	"jpeg": true,
	"jpg":  true,
	"png":  true,
	"gif":  true,
	"webp": true,
	"svg":  true,
	"heic": true,
	"jfif": true,
}

// conversionOptions maps a detected source extension to the target formats
// offered to the user. Informational only: /convert does not enforce it.
// Targets are listed with the public "jpg" spelling, never "jpeg".
var conversionOptions = map[string][]string{
	"png":  {"jpg", "webp", "svg"},
	"jpeg": {"png", "webp"},
	"jpg":  {"png", "webp"},
	"webp": {"png", "jpg"},
	"jfif": {"png"},
	"heic": {"jpg", "png"},
	"svg":  {"png", "jpg"},
}

// FromFilename extracts the lowercased extension without the dot.
// The extension, not the declared content type, decides the source format.
func FromFilename(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// Allowed reports whether the extension is on the upload allow-list.
func Allowed(ext string) bool {
	return allowed[ext]
}

// Normalize maps an upload extension to its canonical format identifier:
// jpg/jpeg/jfif collapse to jpeg, everything else keeps its own name.
func Normalize(ext string) string {
	switch ext {
	case "jpg", "jpeg", "jfif":
		return JPEG
	default:
		return ext
	}
}

// EncoderID translates a public-facing target format to the encoder's
// identifier. Only "jpg" differs from its encoder spelling.
func EncoderID(target string) string {
	if target == "jpg" {
		return JPEG
	}
	return target
}

// Extension returns the file extension used for produced artifacts.
func Extension(f string) string {
	if f == JPEG {
		return "jpg"
	}
	return f
}

// MIME returns the content type served for a format.
func MIME(f string) string {
	switch f {
	case JPEG:
		return "image/jpeg"
	case PNG:
		return "image/png"
	case GIF:
		return "image/gif"
	case WebP:
		return "image/webp"
	case SVG:
		return "image/svg+xml"
	case HEIC:
		return "image/heic"
	default:
		return "application/octet-stream"
	}
}

// CompressionTarget resolves the output format for a compression request.
// heic and svg sources cannot be re-encoded and fall back to jpeg; gif
// falls back to webp because the encoder has no gif quality knob to tune.
func CompressionTarget(src string) string {
	switch src {
	case HEIC, SVG:
		return JPEG
	case GIF:
		return WebP
	default:
		return src
	}
}

// SearchFormat resolves the format a byte-budget search encodes in. png is
// lossless and only exposes a compression level, not a size-vs-quality
// tradeoff, so the search substitutes webp.
func SearchFormat(target string) string {
	if target == PNG {
		return WebP
	}
	return target
}

// EncodeTarget resolves the output format for operations that keep the
// source format where possible (resize, crop, watermark). Unlike the
// compression path, gif keeps its own format here.
func EncodeTarget(src string) string {
	switch src {
	case HEIC, SVG:
		return JPEG
	default:
		return src
	}
}

// Options returns the conversion targets offered for a detected source
// extension. Unknown extensions get the generic set.
func Options(ext string) []string {
	if targets, ok := conversionOptions[ext]; ok {
		return append([]string(nil), targets...)
	}
	return []string{"png", "jpg", "webp"}
}
