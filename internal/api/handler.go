package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"delivery-service/internal/gateway"
	"delivery-service/internal/service"
	"delivery-service/internal/store"
	"delivery-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	orderService   *service.OrderService
	paymentService *service.PaymentService
	dispatch       *service.DispatchService
	partnerService *service.PartnerService
	store          *store.Store
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orderService *service.OrderService,
	paymentService *service.PaymentService,
	dispatch *service.DispatchService,
	partnerService *service.PartnerService,
	st *store.Store,
) *Handler {
	return &Handler{
		orderService:   orderService,
		paymentService: paymentService,
		dispatch:       dispatch,
		partnerService: partnerService,
		store:          st,
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

	router.POST("/createOrder", h.createOrder)
	router.POST("/verifyPayment", h.verifyPayment)
	router.POST("/submitUtr", h.submitUTR)
	router.POST("/webhook/:provider", h.webhook)

	router.GET("/orders", h.listOrders)
	router.GET("/users/:id/orders", h.userOrders)
	router.GET("/stores/:id/orders", h.storeOrders)

	router.GET("/orders/:id/verify", h.getOrder)
	router.POST("/orders/:id/status", h.updateOrderStatus)
	router.POST("/orders/:id/location", h.updateLocation)
	router.POST("/orders/:id/accept", h.acceptOrder)

	router.GET("/partners/available", h.availablePartners)
	router.POST("/partners/:id/status", h.partnerStatus)
	router.POST("/partners/:id/approve", h.approvePartner)
	router.POST("/partners/:id/reject", h.rejectPartner)
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when the database answers
func (h *Handler) readinessCheck(c *gin.Context) {
	if err := h.store.GetDB().PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}

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

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	resp, err := h.orderService.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create order",
		})
		return
	}

	if resp.Existing {
		c.JSON(http.StatusOK, resp)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

type verifyPaymentRequest struct {
	OrderID string `json:"order_id" binding:"required"`
}

// verifyPayment handles the pull-based payment re-check
func (h *Handler) verifyPayment(c *gin.Context) {
	var req verifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_id is required"})
		return
	}

	resp, err := h.paymentService.VerifyPayment(c.Request.Context(), req.OrderID)
	if err != nil {
		if errors.Is(err, service.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Verification failed"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

type submitUTRRequest struct {
	OrderID string `json:"order_id" binding:"required"`
	UTR     string `json:"utr" binding:"required"`
}

// submitUTR handles the manual bank-transfer reference flow
func (h *Handler) submitUTR(c *gin.Context) {
	var req submitUTRRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_id and utr are required"})
		return
	}

	resp, err := h.paymentService.SubmitUTR(c.Request.Context(), req.OrderID, req.UTR)
	if err != nil {
		if errors.Is(err, service.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record reference"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// webhook ingests a gateway delivery. The body is verified raw, before any
// parsing; an invalid signature is a 400 and mutates nothing. Processing is
// idempotent under at-least-once delivery.
func (h *Handler) webhook(c *gin.Context) {
	provider := c.Param("provider")

	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable body"})
		return
	}

	signature := c.GetHeader("X-Webhook-Signature")

	err = h.paymentService.ProcessWebhook(c.Request.Context(), provider, rawBody, signature)
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidSignature) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
			return
		}
		if errors.Is(err, service.ErrOrderNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown order"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Webhook processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// listOrders returns every order; operator-facing
func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orderService.AllOrders(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list orders"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// userOrders returns a customer's order history
func (h *Handler) userOrders(c *gin.Context) {
	orders, err := h.orderService.OrdersForUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list orders"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// storeOrders returns a store's orders; ?active=true narrows to in-flight
func (h *Handler) storeOrders(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	orders, err := h.orderService.OrdersForStore(c.Request.Context(), c.Param("id"), activeOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list orders"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOrder returns the stored order document
func (h *Handler) getOrder(c *gin.Context) {
	orderID := c.Param("id")

	order, items, err := h.orderService.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order": order,
		"items": items,
	})
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

// updateOrderStatus writes a lifecycle transition
func (h *Handler) updateOrderStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}

	if err := h.orderService.UpdateOrderStatus(c.Request.Context(), c.Param("id"), req.Status); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update status"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// locationRequest uses pointer coordinates so the equator/meridian zero
// values still bind.
type locationRequest struct {
	Lat *float64 `json:"lat" binding:"required"`
	Lng *float64 `json:"lng" binding:"required"`
}

// updateLocation handles high-frequency partner location pings
func (h *Handler) updateLocation(c *gin.Context) {
	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lng are required"})
		return
	}

	if err := h.orderService.UpdateDeliveryLocation(c.Request.Context(), c.Param("id"), *req.Lat, *req.Lng); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update location"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type acceptRequest struct {
	PartnerID string `json:"partner_id" binding:"required"`
}

// acceptOrder handles a partner's manual accept, through the same claim
// transaction as automatic dispatch.
func (h *Handler) acceptOrder(c *gin.Context) {
	var req acceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "partner_id is required"})
		return
	}

	if err := h.dispatch.ManualAccept(c.Request.Context(), c.Param("id"), req.PartnerID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "assigned"})
}

// availablePartners returns the dispatchable partner snapshot
func (h *Handler) availablePartners(c *gin.Context) {
	partners, err := h.partnerService.AvailablePartners(c.Request.Context(), c.Query("store_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list partners"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"partners": partners})
}

// partnerStatus handles online/busy presence updates with the geofence gate
func (h *Handler) partnerStatus(c *gin.Context) {
	var req service.PresenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	err := h.partnerService.UpdatePresence(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		if errors.Is(err, service.ErrOutsideGeofence) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Outside store geofence"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// approvePartner transitions a partner to APPROVED
func (h *Handler) approvePartner(c *gin.Context) {
	if err := h.partnerService.Approve(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to approve partner"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// rejectPartner transitions a partner to REJECTED
func (h *Handler) rejectPartner(c *gin.Context) {
	if err := h.partnerService.Reject(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reject partner"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
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
