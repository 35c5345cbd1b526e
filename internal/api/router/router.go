package router

import (
	"github.com/wb-go/wbf/ginext"

	"github.com/glebkudr/image-tools/internal/api/handlers/image"
	"github.com/glebkudr/image-tools/internal/middleware"
)

func Setup(h *image.Handler) *ginext.Engine {
	r := ginext.New()

	r.Use(middleware.CORSMiddleware())
	r.Use(ginext.Logger())
	r.Use(ginext.Recovery())

	api := r.Group("/api")

	api.GET("/health", h.Health)                              // liveness
	api.POST("/get-conversion-options", h.ConversionOptions)  // plausible target formats
	api.POST("/convert", h.Convert)                           // format conversion
	api.POST("/resize", h.Resize)                             // single resize
	api.POST("/bulk-resize", h.BulkResize)                    // batch resize, URLs back
	api.POST("/crop", h.Crop)                                 // rectangular crop
	api.POST("/compress", h.Compress)                         // quality/size-targeted compression
	api.POST("/compress-preview", h.CompressPreview)          // compression dry-run
	api.POST("/watermark", h.Watermark)                       // text watermark
	api.GET("/files/:name", h.File)                           // byte-served artifacts

	return r
}
