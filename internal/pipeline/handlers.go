package pipeline

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ksred/spreadbook/pkg/response"
)

// GinHandlers contains HTTP handlers for scan ingestion
type GinHandlers struct {
	pipeline *Pipeline
}

func NewGinHandlers(pipeline *Pipeline) *GinHandlers {
	return &GinHandlers{pipeline: pipeline}
}

// IngestScanHandler handles POST requests carrying raw scan results
// URL parameter: scan_id
func (h *GinHandlers) IngestScanHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		scanID, err := strconv.Atoi(c.Param("scan_id"))
		if err != nil {
			response.BadRequest(c, "scan_id must be an integer")
			return
		}

		results, err := Decode(c.Request.Body)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.pipeline.Process(c.Request.Context(), scanID, results)
		response.Handle(c, result, err)
	}
}
