package expiration

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ksred/spreadbook/pkg/response"
)

// GinHandlers contains HTTP handlers for expiration endpoints
type GinHandlers struct {
	processor *Processor
}

func NewGinHandlers(processor *Processor) *GinHandlers {
	return &GinHandlers{processor: processor}
}

// SweepHandler runs an expiration sweep on demand and returns its stats.
// Per-trade failures are reported alongside the stats rather than failing the request.
func (h *GinHandlers) SweepHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := h.processor.Sweep(c.Request.Context())
		if err != nil && stats.Total == 0 && stats.Errors == 0 {
			log.Error().Err(err).Msg("expiration sweep failed")
			response.InternalError(c, "expiration sweep failed")
			return
		}

		body := gin.H{"stats": stats}
		if err != nil {
			body["errors"] = err.Error()
		}
		response.Success(c, body)
	}
}
