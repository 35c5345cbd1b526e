package model

// Asset represents an uploaded image held in memory for the duration of a
// single request. Format is the normalized source format derived from the
// file extension (e.g. "jpeg", "png", "heic"), never from the content type.
type Asset struct {
	Filename string `json:"filename"`
	Format   string `json:"format"`
	Data     []byte `json:"-"`
}

// ResizeSpec describes a single resize operation.
// With KeepAspect set, the output fits inside Width x Height and is never
// upscaled beyond the source dimensions.
type ResizeSpec struct {
	Width      int  `json:"width"`
	Height     int  `json:"height"`
	KeepAspect bool `json:"maintainAspectRatio"`
}

// CropSpec describes a rectangular subregion. The origin is clamped to be
// non-negative; an extent overflowing the source bounds is truncated.
type CropSpec struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// CompressSpec carries either a direct quality level or a target byte
// budget. A zero value means the field was not provided; when both are set
// the byte budget wins.
type CompressSpec struct {
	Quality  int `json:"quality"`
	MaxBytes int `json:"maxBytes"`
}

// Artifact is a produced output stored in the transient output area.
type Artifact struct {
	Name   string `json:"name"`
	Path   string `json:"-"`
	Format string `json:"format"`
	Size   int64  `json:"size"`
}

// BulkResult is the per-file outcome of a bulk resize. Exactly one of URL
// and Error is set; a failed file never hides the results of the others.
type BulkResult struct {
	Name  string `json:"name"`
	URL   string `json:"url,omitempty"`
	Error string `json:"error,omitempty"`
}

// CompressPreview reports the outcome of a compression dry-run without
// persisting or transmitting any pixel data.
type CompressPreview struct {
	Bytes  int    `json:"bytes"`
	Format string `json:"format"`
}

// ConversionOptions lists the plausible target formats for an upload.
type ConversionOptions struct {
	InputFormat      string   `json:"inputFormat"`
	AvailableFormats []string `json:"availableFormats"`
}
