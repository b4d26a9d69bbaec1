package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nathanyu/matching-engine/internal/domain"
	"github.com/nathanyu/matching-engine/internal/marketdata"
	"github.com/nathanyu/matching-engine/internal/middleware"
	"github.com/nathanyu/matching-engine/internal/ordermanager"
	"github.com/nathanyu/matching-engine/internal/sequencer"
)

// Handler holds the HTTP handler dependencies.
type Handler struct {
	manager      *ordermanager.Manager
	seq          *sequencer.Sequencer
	publisher    *marketdata.Publisher
	defaultDepth int
}

// NewHandler creates a new Handler.
func NewHandler(manager *ordermanager.Manager, seq *sequencer.Sequencer, publisher *marketdata.Publisher, defaultDepth int) *Handler {
	return &Handler{
		manager:      manager,
		seq:          seq,
		publisher:    publisher,
		defaultDepth: defaultDepth,
	}
}

// RegisterRoutes sets up the Gin routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	v1 := r.Group("/v1")
	{
		v1.POST("/order", h.PlaceOrder)
		v1.PUT("/order/:id", h.AmendOrder)
		v1.DELETE("/order/:id", h.CancelOrder)
		v1.GET("/order/:id", h.GetOrder)
		v1.GET("/execution", h.GetTrades)
		v1.GET("/marketdata/orderBook/L2", h.GetL2OrderBook)
		v1.GET("/marketdata/candles", h.GetCandles)
	}
}

// Health returns a health check response.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "matching-engine",
	})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidOrder):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyFilled):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNoLiquidity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrEngineUnavailable), errors.Is(err, domain.ErrBookCrossed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PlaceOrderRequest is the request body for placing an order.
type PlaceOrderRequest struct {
	Symbol   string           `json:"symbol" binding:"required"`
	Side     domain.Side      `json:"side" binding:"required"`
	Type     domain.OrderType `json:"type"`
	Price    int64            `json:"price"`
	Quantity int64            `json:"quantity" binding:"required,gt=0"`
	UserID   string           `json:"user_id" binding:"required"`
}

// PlaceOrder handles POST /v1/order.
func (h *Handler) PlaceOrder(c *gin.Context) {
	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Type == "" {
		req.Type = domain.OrderTypeLimit
	}

	result, err := h.manager.PlaceOrder(c.Request.Context(), req.UserID, req.Symbol, req.Side, req.Type, req.Price, req.Quantity)
	if err != nil {
		middleware.OrdersTotal.WithLabelValues("new", req.Symbol, "rejected").Inc()
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	middleware.OrdersTotal.WithLabelValues("new", req.Symbol, "accepted").Inc()
	c.JSON(http.StatusCreated, result)
}

// AmendOrderRequest is the request body for amending an order.
type AmendOrderRequest struct {
	Price    int64 `json:"price" binding:"required,gt=0"`
	Quantity int64 `json:"quantity" binding:"required,gt=0"`
}

// AmendOrder handles PUT /v1/order/:id.
func (h *Handler) AmendOrder(c *gin.Context) {
	orderID := c.Param("id")

	var req AmendOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.manager.AmendOrder(c.Request.Context(), orderID, req.Price, req.Quantity)
	if err != nil {
		middleware.OrdersTotal.WithLabelValues("amend", "", "rejected").Inc()
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	middleware.OrdersTotal.WithLabelValues("amend", result.Order.Symbol, "accepted").Inc()
	c.JSON(http.StatusOK, result)
}

// CancelOrder handles DELETE /v1/order/:id.
func (h *Handler) CancelOrder(c *gin.Context) {
	orderID := c.Param("id")

	order, err := h.manager.CancelOrder(c.Request.Context(), orderID)
	if err != nil {
		middleware.OrdersTotal.WithLabelValues("cancel", "", "rejected").Inc()
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	middleware.OrdersTotal.WithLabelValues("cancel", order.Symbol, "accepted").Inc()
	c.JSON(http.StatusOK, order)
}

// GetOrder handles GET /v1/order/:id.
func (h *Handler) GetOrder(c *gin.Context) {
	order := h.manager.GetOrder(c.Param("id"))
	if order == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	c.JSON(http.StatusOK, order)
}

// GetTrades handles GET /v1/execution.
func (h *Handler) GetTrades(c *gin.Context) {
	symbol := c.Query("symbol")
	orderID := c.Query("order_id")
	sinceStr := c.Query("since")

	var since time.Time
	if sinceStr != "" {
		parsed, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since format, use RFC3339"})
			return
		}
		since = parsed
	}

	trades := h.publisher.GetTrades(symbol, orderID, since)
	if trades == nil {
		trades = []*domain.Trade{}
	}

	c.JSON(http.StatusOK, trades)
}

// GetL2OrderBook handles GET /v1/marketdata/orderBook/L2.
func (h *Handler) GetL2OrderBook(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}

	depthStr := c.DefaultQuery("depth", strconv.Itoa(h.defaultDepth))
	depth, err := strconv.Atoi(depthStr)
	if err != nil || depth <= 0 {
		depth = h.defaultDepth
	}

	snapshot, err := h.seq.Snapshot(c.Request.Context(), symbol, depth)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// GetCandles handles GET /v1/marketdata/candles.
func (h *Handler) GetCandles(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}

	countStr := c.DefaultQuery("count", "100")
	count, err := strconv.Atoi(countStr)
	if err != nil || count <= 0 {
		count = 100
	}

	candles := h.publisher.GetCandles(symbol, count)
	if candles == nil {
		candles = []*domain.Candlestick{}
	}

	c.JSON(http.StatusOK, candles)
}
