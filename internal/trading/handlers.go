package trading

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ksred/spreadbook/internal/types"
	"github.com/ksred/spreadbook/pkg/response"
)

// QuoteSource supplies current leg quotes for the GET valuation endpoint
type QuoteSource interface {
	Snapshot(ctx context.Context, trade *types.ActiveTrade) (types.LegPriceSnapshot, error)
}

// GinHandlers contains HTTP handlers for trade endpoints
type GinHandlers struct {
	service *Service
	quotes  QuoteSource
}

// NewGinHandlers creates a new set of HTTP handlers for trade endpoints.
// quotes may be nil, in which case only caller supplied snapshots can be valued.
func NewGinHandlers(service *Service, quotes QuoteSource) *GinHandlers {
	return &GinHandlers{
		service: service,
		quotes:  quotes,
	}
}

// OpenTradeHandler handles POST requests to open trades
// Requires a valid JWT token and idempotency key in headers
func (h *GinHandlers) OpenTradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get idempotency key from header
		idempotencyKey := c.GetHeader("Idempotency-Key")
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		var req types.OpenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		record, err := h.service.OpenWithIdempotency(c.Request.Context(), &req, idempotencyKey)
		response.Handle(c, record, err)
	}
}

// ListTradesHandler handles GET requests listing open trades, or every trade
// for a symbol when the symbol query parameter is set
func (h *GinHandlers) ListTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		symbol := c.Query("symbol")
		if symbol == "" {
			trades, err := h.service.ListOpen(c.Request.Context())
			response.Handle(c, trades, err)
			return
		}

		limit, err := queryInt(c, "limit")
		if err != nil {
			response.BadRequest(c, "limit must be an integer")
			return
		}
		active, completed, err := h.service.ListBySymbol(c.Request.Context(), symbol, limit)
		response.Handle(c, gin.H{"active": active, "completed": completed}, err)
	}
}

// GetTradeHandler handles GET requests for a single trade
// URL parameter: trade_id
func (h *GinHandlers) GetTradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tradeID, ok := tradeIDParam(c)
		if !ok {
			return
		}
		record, err := h.service.GetTrade(c.Request.Context(), tradeID)
		response.Handle(c, record, err)
	}
}

// HistoryHandler handles GET requests for a trade's status history
func (h *GinHandlers) HistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tradeID, ok := tradeIDParam(c)
		if !ok {
			return
		}
		history, err := h.service.History(c.Request.Context(), tradeID)
		response.Handle(c, history, err)
	}
}

// MarkClosingHandler handles POST requests moving a trade to CLOSING
func (h *GinHandlers) MarkClosingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tradeID, ok := tradeIDParam(c)
		if !ok {
			return
		}
		trade, err := h.service.MarkClosing(c.Request.Context(), tradeID)
		response.Handle(c, trade, err)
	}
}

// CloseTradeHandler handles POST requests closing a trade
// Request body: close_date, underlying_exit_price, exit_debit, exit_type
func (h *GinHandlers) CloseTradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tradeID, ok := tradeIDParam(c)
		if !ok {
			return
		}

		var req types.CloseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		completed, err := h.service.Close(c.Request.Context(), tradeID, req)
		response.Handle(c, completed, err)
	}
}

// ValueTradeHandler handles POST requests valuing a trade against a snapshot
// supplied in the request body
func (h *GinHandlers) ValueTradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tradeID, ok := tradeIDParam(c)
		if !ok {
			return
		}

		var snapshot types.LegPriceSnapshot
		if err := c.ShouldBindJSON(&snapshot); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.service.UpdateValue(c.Request.Context(), tradeID, snapshot)
		response.Handle(c, result, err)
	}
}

// MarketValueHandler handles GET requests valuing a trade at current market quotes
func (h *GinHandlers) MarketValueHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tradeID, ok := tradeIDParam(c)
		if !ok {
			return
		}
		if h.quotes == nil {
			response.InternalError(c, "market data is not configured")
			return
		}

		ctx := c.Request.Context()
		trade, err := h.service.DB().GetActive(ctx, tradeID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		snapshot, err := h.quotes.Snapshot(ctx, trade)
		if err != nil {
			response.InternalError(c, "failed to fetch quotes: "+err.Error())
			return
		}

		result, err := h.service.Value(trade, snapshot)
		response.Handle(c, result, err)
	}
}

func tradeIDParam(c *gin.Context) (int64, bool) {
	tradeID, err := strconv.ParseInt(c.Param("trade_id"), 10, 64)
	if err != nil || tradeID <= 0 {
		response.BadRequest(c, "trade_id must be a positive integer")
		return 0, false
	}
	return tradeID, true
}

func queryInt(c *gin.Context, key string) (int, error) {
	value := c.Query(key)
	if value == "" {
		return 0, nil
	}
	return strconv.Atoi(value)
}
