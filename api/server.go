package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tradedesk/logger"
	"tradedesk/reconcile"
	"tradedesk/store"

	"github.com/gin-gonic/gin"
)

// userHeader carries the caller's user id, set by the fronting gateway
const userHeader = "X-User-ID"

var supportedExchanges = map[string]bool{
	"bybit":   true,
	"binance": true,
}

// Server HTTP API server
type Server struct {
	router     *gin.Engine
	store      *store.Store
	reconciler reconcile.Reconciler
	httpServer *http.Server
	port       int
}

// NewServer Creates API server
func NewServer(st *store.Store, reconciler reconcile.Reconciler, port int) *Server {
	// Set to Release mode (reduce log output)
	gin.SetMode(gin.ReleaseMode)

	router := gin.Default()

	// Enable CORS
	router.Use(corsMiddleware())

	s := &Server{
		router:     router,
		store:      st,
		reconciler: reconciler,
		port:       port,
	}

	s.setupRoutes()

	return s
}

// corsMiddleware CORS middleware
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+userHeader)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

// userMiddleware requires the caller's user id
func userMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(userHeader))
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing " + userHeader + " header"})
			c.Abort()
			return
		}
		c.Set("user_id", userID)
		c.Next()
	}
}

// setupRoutes Setup routes
func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.Any("/health", s.handleHealth)

		protected := api.Group("/", userMiddleware())
		{
			protected.PUT("/exchanges/:exchange", s.handleUpsertExchange)

			protected.POST("/trades", s.handleCreateTrade)
			protected.GET("/trades/:id", s.handleGetTrade)
			protected.POST("/trades/:id/close", s.handleCloseTrade)
			protected.GET("/trades/:id/events", s.handleTradeEvents)
		}
	}
}

// handleHealth Health check
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// UpsertExchangeRequest exchange credentials; empty keys keep the stored ones
type UpsertExchangeRequest struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	Testnet   bool   `json:"testnet"`
}

func (s *Server) handleUpsertExchange(c *gin.Context) {
	userID := c.GetString("user_id")
	exchange := strings.ToLower(c.Param("exchange"))
	if !supportedExchanges[exchange] {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unsupported exchange: %s", exchange)})
		return
	}

	var req UpsertExchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	account := &store.ExchangeAccount{
		UserID:    userID,
		Exchange:  exchange,
		APIKey:    req.APIKey,
		SecretKey: req.SecretKey,
		Testnet:   req.Testnet,
	}
	if err := s.store.Exchange().Upsert(account); err != nil {
		logger.Errorf("❌ Failed to save %s account for user %s: %v", exchange, userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save exchange account"})
		return
	}

	logger.Infof("✓ %s account saved for user %s (testnet=%v)", exchange, userID, req.Testnet)
	c.JSON(http.StatusOK, gin.H{"exchange": exchange, "testnet": req.Testnet})
}

// CreateTradeRequest an opened trade as recorded by the user or a webhook
type CreateTradeRequest struct {
	BotID      string     `json:"bot_id"`
	Exchange   string     `json:"exchange" binding:"required"`
	Symbol     string     `json:"symbol" binding:"required"`
	Side       string     `json:"side" binding:"required"`
	Quantity   float64    `json:"quantity"`
	EntryPrice float64    `json:"entry_price"`
	RiskAmount float64    `json:"risk_amount"`
	OrderID    string     `json:"order_id"`
	EntryTime  *time.Time `json:"entry_time"`
}

func (s *Server) handleCreateTrade(c *gin.Context) {
	userID := c.GetString("user_id")

	var req CreateTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request: %v", err)})
		return
	}

	exchange := strings.ToLower(req.Exchange)
	if !supportedExchanges[exchange] {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unsupported exchange: %s", req.Exchange)})
		return
	}
	side, err := reconcile.ParseSide(req.Side)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entryTime := time.Now().UTC()
	if req.EntryTime != nil {
		entryTime = req.EntryTime.UTC()
	}

	trade := &store.Trade{
		UserID:     userID,
		BotID:      req.BotID,
		Exchange:   exchange,
		Symbol:     req.Symbol,
		Side:       string(side),
		Quantity:   req.Quantity,
		EntryPrice: req.EntryPrice,
		RiskAmount: req.RiskAmount,
		OrderID:    req.OrderID,
		EntryTime:  entryTime,
	}
	if err := s.store.Trade().Create(trade); err != nil {
		logger.Errorf("❌ Failed to create trade for user %s: %v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create trade"})
		return
	}

	c.JSON(http.StatusCreated, trade)
}

func (s *Server) handleGetTrade(c *gin.Context) {
	trade, err := s.store.Trade().Get(c.GetString("user_id"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, trade)
}

// handleCloseTrade closes a trade and attaches the exchange's realized PnL when found
func (s *Server) handleCloseTrade(c *gin.Context) {
	userID := c.GetString("user_id")
	tradeID := c.Param("id")

	outcome, err := s.reconciler.Reconcile(c.Request.Context(), userID, tradeID)
	if err != nil {
		logger.Warnf("⚠️  Close of trade %s failed: %v", tradeID, err)
		writeError(c, err)
		return
	}

	var matchedOrderID string
	if outcome.Result.Found() {
		matchedOrderID = outcome.Result.Match.OrderID
	}
	c.JSON(http.StatusOK, gin.H{
		"trade":            outcome.Trade,
		"match_type":       outcome.Result.MatchType,
		"matched_order_id": matchedOrderID,
	})
}

func (s *Server) handleTradeEvents(c *gin.Context) {
	userID := c.GetString("user_id")
	tradeID := c.Param("id")

	if _, err := s.store.Trade().Get(userID, tradeID); err != nil {
		writeError(c, err)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := s.store.Event().ListByTrade(userID, tradeID, limit)
	if err != nil {
		logger.Errorf("❌ Failed to list events of trade %s: %v", tradeID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list events"})
		return
	}
	if events == nil {
		events = []*store.ReconcileEvent{}
	}
	c.JSON(http.StatusOK, events)
}

// writeError maps domain errors to HTTP status codes
func writeError(c *gin.Context, err error) {
	var exhausted *reconcile.ExhaustedError
	var apiErr *reconcile.APIError

	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, reconcile.ErrAlreadyReconciled):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &exhausted), errors.As(err, &apiErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// Start Start server
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	logger.Infof("🌐 API server starting at http://localhost%s", addr)
	logger.Infof("📊 API Documentation:")
	logger.Infof("  • GET  /api/health                - Health check")
	logger.Infof("  • PUT  /api/exchanges/:exchange   - Save exchange API credentials")
	logger.Infof("  • POST /api/trades               - Record an opened trade")
	logger.Infof("  • GET  /api/trades/:id           - Trade details")
	logger.Infof("  • POST /api/trades/:id/close     - Close trade and attach exchange PnL")
	logger.Infof("  • GET  /api/trades/:id/events    - Reconciliation event log")
	logger.Info()

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown Gracefully shutdown server
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
