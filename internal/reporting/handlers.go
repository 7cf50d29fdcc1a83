package reporting

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ksred/spreadbook/internal/types"
	"github.com/ksred/spreadbook/pkg/response"
)

// GinHandlers contains HTTP handlers for report endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// StrategyReportHandler handles GET requests for per-strategy aggregates
func (h *GinHandlers) StrategyReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := h.service.StrategyReport(c.Request.Context())
		response.Handle(c, report, err)
	}
}

// CompletedTradesHandler handles GET requests listing completed trades
// Query parameters: from, to (YYYY-MM-DD or RFC 3339), limit
func (h *GinHandlers) CompletedTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		from, ok := dateQuery(c, "from")
		if !ok {
			return
		}
		to, ok := dateQuery(c, "to")
		if !ok {
			return
		}

		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				response.BadRequest(c, "limit must be a non-negative integer")
				return
			}
			limit = n
		}

		summaries, err := h.service.CompletedSummaries(c.Request.Context(), from, to, limit)
		response.Handle(c, summaries, err)
	}
}

func dateQuery(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	d, err := types.ParseDate(raw)
	if err != nil {
		response.BadRequest(c, name+": "+err.Error())
		return nil, false
	}
	return &d.Time, true
}
