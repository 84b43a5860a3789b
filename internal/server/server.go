// Package server exposes a read-only HTTP query API over a running node:
// order digests and status, match previews, proxies, operators and recent
// events.
package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/Aidin1998/relayex/internal/events"
	"github.com/Aidin1998/relayex/internal/exchange"
	"github.com/Aidin1998/relayex/internal/ledger"
	"github.com/Aidin1998/relayex/internal/order"
	"github.com/Aidin1998/relayex/internal/registry"
	"github.com/Aidin1998/relayex/internal/relay"
	"github.com/Aidin1998/relayex/pkg/errors"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500

	streamBuffer = 256
	pingPeriod   = 30 * time.Second
	writeWait    = 10 * time.Second
)

// Server represents the HTTP server
type Server struct {
	logger   *zap.Logger
	ledger   *ledger.Ledger
	exchange *exchange.Exchange
	registry *registry.Registry
	events   *events.MemorySink
	upgrader websocket.Upgrader
}

// NewServer creates a new HTTP server. recent may be nil, in which case the
// events endpoint returns an empty list.
func NewServer(
	logger *zap.Logger,
	l *ledger.Ledger,
	ex *exchange.Exchange,
	reg *registry.Registry,
	recent *events.MemorySink,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		logger:   logger.Named("server"),
		ledger:   l,
		exchange: ex,
		registry: reg,
		events:   recent,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router creates a new HTTP router
func (s *Server) Router() *gin.Engine {
	router := gin.New()

	router.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))
	router.Use(otelgin.Middleware("relayex"))
	router.Use(cors.Default())
	router.Use(problemMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/exchange", s.handleGetExchange)

		orders := v1.Group("/orders")
		{
			orders.POST("/inspect", s.handleInspectOrder)
			orders.POST("/match", s.handlePreviewMatch)
			orders.GET("/:hash", s.handleGetOrderStatus)
		}

		v1.GET("/proxies/:principal", s.handleGetProxy)
		v1.GET("/operators/:operator", s.handleGetOperator)
		v1.GET("/events", s.handleGetEvents)
		v1.GET("/events/stream", s.handleStreamEvents)
	}

	return router
}

// problemMiddleware renders the last handler error as application/problem+json.
func problemMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		p := errors.ToProblemDetails(c.Errors.Last().Err, c.Request.URL.Path)
		c.Header("Content-Type", "application/problem+json")
		c.JSON(p.Status, p)
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	if errors.KindOf(err) == errors.KindUnknown {
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	_ = c.Error(err)
	c.Abort()
}

func (s *Server) handleGetExchange(c *gin.Context) {
	info, err := s.exchange.Info(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

type inspectRequest struct {
	Order     *order.Order  `json:"order" binding:"required"`
	Signature hexutil.Bytes `json:"signature"`
}

type orderReport struct {
	Hash         common.Hash            `json:"hash"`
	HashToSign   common.Hash            `json:"hash_to_sign"`
	CurrentPrice string                 `json:"current_price"`
	Status       exchange.Status        `json:"status"`
	Valid        bool                   `json:"valid"`
	Problem      *errors.ProblemDetails `json:"problem,omitempty"`
}

// handleInspectOrder reports an order's digests, its price now and whether
// the exchange would accept it with the given signature (or its approval).
func (s *Server) handleInspectOrder(c *gin.Context) {
	var req inspectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errors.InvalidRequest.Explain("request body").Wrap(err))
		return
	}
	ctx := c.Request.Context()
	o := req.Order
	status, err := s.exchange.Status(ctx, o.Hash())
	if err != nil {
		s.fail(c, err)
		return
	}
	report := orderReport{
		Hash:         o.Hash(),
		HashToSign:   o.HashToSign(),
		CurrentPrice: s.exchange.CurrentPrice(o).String(),
		Status:       status,
	}
	var auth order.Authenticator = order.Approval{}
	if len(req.Signature) > 0 {
		auth = order.Signature(req.Signature)
	}
	if err := s.exchange.ValidateOrder(ctx, o, auth); err != nil {
		report.Problem = errors.ToProblemDetails(err, c.Request.URL.Path)
	} else {
		report.Valid = true
	}
	c.JSON(http.StatusOK, report)
}

type matchRequest struct {
	Buy  *order.Order `json:"buy" binding:"required"`
	Sell *order.Order `json:"sell" binding:"required"`
}

type matchPreview struct {
	CanMatch bool                   `json:"can_match"`
	Price    string                 `json:"price,omitempty"`
	Fees     *exchange.FeePlan      `json:"fees,omitempty"`
	Problem  *errors.ProblemDetails `json:"problem,omitempty"`
}

// handlePreviewMatch evaluates the matching rules, the settlement price and
// the fee split of a pair without settling it.
func (s *Server) handlePreviewMatch(c *gin.Context) {
	var req matchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errors.InvalidRequest.Explain("request body").Wrap(err))
		return
	}
	preview, err := s.previewMatch(c, req.Buy, req.Sell)
	if err != nil {
		preview.Problem = errors.ToProblemDetails(err, c.Request.URL.Path)
	}
	c.JSON(http.StatusOK, preview)
}

func (s *Server) previewMatch(c *gin.Context, buy, sell *order.Order) (matchPreview, error) {
	var preview matchPreview
	if err := s.exchange.CanMatch(buy, sell); err != nil {
		return preview, err
	}
	price, err := exchange.CalculateFinalPrice(s.exchange.CurrentPrice(sell), s.exchange.CurrentPrice(buy))
	if err != nil {
		return preview, err
	}
	info, err := s.exchange.Info(c.Request.Context())
	if err != nil {
		return preview, err
	}
	plan, err := exchange.PlanFees(buy, sell, price, info.ProtocolFeeBps, info.ProtocolFeeRecipient)
	if err != nil {
		return preview, err
	}
	preview.CanMatch = true
	preview.Price = price.String()
	preview.Fees = plan
	return preview, nil
}

func (s *Server) handleGetOrderStatus(c *gin.Context) {
	raw, err := hexutil.Decode(c.Param("hash"))
	if err != nil || len(raw) != common.HashLength {
		s.fail(c, errors.InvalidRequest.Explain("order hash must be 32 bytes of 0x hex"))
		return
	}
	status, err := s.exchange.Status(c.Request.Context(), common.BytesToHash(raw))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleGetProxy(c *gin.Context) {
	principal, ok := s.address(c, "principal")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	proxy, err := s.registry.ProxyOf(ctx, principal)
	if err != nil {
		s.fail(c, err)
		return
	}
	info, err := relay.NewClient(s.ledger, proxy).Info(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleGetOperator(c *gin.Context) {
	operator, ok := s.address(c, "operator")
	if !ok {
		return
	}
	status, err := s.registry.Status(c.Request.Context(), operator)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// handleGetEvents lists recent events newest first, optionally filtered by
// event name.
func (s *Server) handleGetEvents(c *gin.Context) {
	limit := defaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxEventLimit {
			s.fail(c, errors.InvalidRequest.Explain("limit must be between 1 and %d", maxEventLimit))
			return
		}
		limit = n
	}
	out := []events.Message{}
	if s.events != nil {
		out = append(out, s.events.Recent(limit, c.Query("name"))...)
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

// handleStreamEvents upgrades to a websocket and pushes every new event as a
// JSON text frame, optionally only those named by the name query parameter.
func (s *Server) handleStreamEvents(c *gin.Context) {
	if s.events == nil {
		s.fail(c, errors.NotFound.Explain("event stream is not enabled"))
		return
	}
	// subscribe before the handshake completes so no event is missed
	msgs, cancel := s.events.Subscribe(streamBuffer)
	defer cancel()

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	name := c.Query("name")

	// the read loop only notices the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case m, ok := <-msgs:
			if !ok {
				return
			}
			if name != "" && m.Name != name {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(m); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (s *Server) address(c *gin.Context, param string) (common.Address, bool) {
	raw := c.Param(param)
	if !common.IsHexAddress(raw) {
		s.fail(c, errors.InvalidRequest.Explain("%s %q is not an address", param, raw))
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}
