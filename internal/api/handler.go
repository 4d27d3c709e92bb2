package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	orderService   *service.OrderService
	paymentService *service.PaymentService
	couponService  *service.CouponService
	inventory      *service.InventoryLedger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orderService *service.OrderService,
	paymentService *service.PaymentService,
	couponService *service.CouponService,
	inventory *service.InventoryLedger,
) *Handler {
	return &Handler{
		orderService:   orderService,
		paymentService: paymentService,
		couponService:  couponService,
		inventory:      inventory,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.createOrder)
		v1.POST("/orders/from-cart", h.createOrderFromCart)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/cancel", h.cancelOrder)
		v1.POST("/orders/:id/payment", h.processPayment)

		v1.POST("/coupons/:id/issue", h.issueCoupon)
		v1.POST("/coupons/:id/sync-quota", h.syncCouponQuota)
		v1.GET("/users/:userId/coupons", h.listUserCoupons)

		v1.GET("/products/:id/inventory", h.getInventory)
		v1.PUT("/products/:id/inventory", h.restock)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, err := h.orderService.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

type createFromCartRequest struct {
	UserID      int64               `json:"user_id" binding:"required"`
	CartItemIDs []int64             `json:"cart_item_ids" binding:"required,min=1"`
	CouponID    int64               `json:"coupon_id,omitempty"`
	Delivery    models.DeliveryInfo `json:"delivery"`
}

// createOrderFromCart builds an order from selected cart rows and
// clears them on success.
func (h *Handler) createOrderFromCart(c *gin.Context) {
	var req createFromCartRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, err := h.orderService.CreateOrderFromCart(c.Request.Context(), req.UserID, req.CartItemIDs, req.CouponID, req.Delivery)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}

	order, items, err := h.orderService.GetOrder(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order": order,
		"items": items,
	})
}

// listOrders lists a user's orders
func (h *Handler) listOrders(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}

	orders, err := h.orderService.ListOrders(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

type cancelOrderRequest struct {
	UserID int64  `json:"user_id" binding:"required"`
	Reason string `json:"reason"`
}

// cancelOrder cancels a pending or paid order on the owner's request.
func (h *Handler) cancelOrder(c *gin.Context) {
	var req cancelOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "cancelled by user"
	}

	if err := h.orderService.Cancel(c.Request.Context(), req.UserID, c.Param("id"), reason); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

type processPaymentRequest struct {
	UserID          int64  `json:"user_id" binding:"required"`
	PaymentMethod   string `json:"payment_method" binding:"required"`
	ClientRequestID string `json:"client_request_id,omitempty"`
}

// processPayment charges a pending order. Clients pass a stable
// client_request_id to make retries idempotent.
func (h *Handler) processPayment(c *gin.Context) {
	var req processPaymentRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.ClientRequestID == "" {
		req.ClientRequestID = c.GetHeader("Idempotency-Key")
	}

	payment, err := h.paymentService.ProcessPayment(c.Request.Context(), &service.ProcessPaymentRequest{
		UserID:          req.UserID,
		OrderID:         c.Param("id"),
		PaymentMethod:   req.PaymentMethod,
		ClientRequestID: req.ClientRequestID,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

type issueCouponRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
}

// issueCoupon issues one unit of a scarce coupon to the requesting user.
func (h *Handler) issueCoupon(c *gin.Context) {
	couponID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid coupon ID"})
		return
	}

	var req issueCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	uc, err := h.couponService.Issue(c.Request.Context(), couponID, req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, uc)
}

// syncCouponQuota seeds the Redis quota gate from the store, typically
// before an issuance window opens.
func (h *Handler) syncCouponQuota(c *gin.Context) {
	couponID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid coupon ID"})
		return
	}

	if err := h.couponService.SyncQuotaToRedis(c.Request.Context(), couponID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "synced"})
}

// listUserCoupons returns every coupon issued to a user
func (h *Handler) listUserCoupons(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	coupons, err := h.couponService.ListUserCoupons(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"coupons": coupons})
}

// getInventory returns the stock ledger row for a product
func (h *Handler) getInventory(c *gin.Context) {
	productID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	inv, err := h.inventory.GetInventory(c.Request.Context(), productID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, inv)
}

type restockRequest struct {
	Stock             int `json:"stock" binding:"min=0"`
	LowStockThreshold int `json:"low_stock_threshold" binding:"min=0"`
}

// restock seeds or replaces the stock ledger row for a product.
func (h *Handler) restock(c *gin.Context) {
	productID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	var req restockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	inv := &models.Inventory{
		ProductID:         productID,
		Stock:             req.Stock,
		LowStockThreshold: req.LowStockThreshold,
	}
	if err := h.inventory.Restock(c.Request.Context(), inv); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, inv)
}

func queryUserID(c *gin.Context) (int64, bool) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing or invalid user_id"})
		return 0, false
	}
	return userID, true
}

// respondError maps typed service failures to HTTP statuses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, models.ErrOrderNotFound),
		errors.Is(err, models.ErrProductNotFound),
		errors.Is(err, models.ErrInventoryNotFound),
		errors.Is(err, models.ErrCouponNotFound),
		errors.Is(err, models.ErrPaymentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrOrderAccessDenied),
		errors.Is(err, models.ErrPaymentNotAllowed):
		status = http.StatusForbidden
	case errors.Is(err, models.ErrInsufficientStock),
		errors.Is(err, models.ErrCouponOutOfStock),
		errors.Is(err, models.ErrCouponAlreadyIssued),
		errors.Is(err, models.ErrOrderNotCancellable),
		errors.Is(err, models.ErrInvalidOrderStatus):
		status = http.StatusConflict
	case errors.Is(err, models.ErrCouponNotIssuable),
		errors.Is(err, models.ErrCouponExpired),
		errors.Is(err, models.ErrCouponAlreadyUsed),
		errors.Is(err, models.ErrCouponAlreadyReserved),
		errors.Is(err, models.ErrCouponBelowMinAmount),
		errors.Is(err, models.ErrProductNotSellable):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrPaymentDeclined):
		status = http.StatusPaymentRequired
	case errors.Is(err, models.ErrPaymentGatewayUnavailable):
		status = http.StatusBadGateway
	}

	c.JSON(status, gin.H{"error": err.Error()})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
