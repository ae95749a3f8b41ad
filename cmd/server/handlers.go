package main

import (
	stdcontext "context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/yourorg/travel-orchestrator/internal/cancellation"
	"github.com/yourorg/travel-orchestrator/internal/failure"
	"github.com/yourorg/travel-orchestrator/internal/monitor"
	"github.com/yourorg/travel-orchestrator/internal/orchestrator"
)

type checkoutService interface {
	ProcessCheckout(ctx stdcontext.Context, req orchestrator.CheckoutRequest) (orchestrator.CheckoutResult, error)
}

type cancelService interface {
	CancelReservation(ctx stdcontext.Context, reservationID, customerID int64, refundAccount string) (cancellation.Result, error)
}

type cancelRequest struct {
	CustomerID    int64  `json:"customer_id"`
	RefundAccount string `json:"refund_account"`
}

type handlers struct {
	checkout       checkoutService
	cancel         cancelService
	checkoutSchema *monitor.ContractMonitor
	cancelSchema   *monitor.ContractMonitor
	logger         *zap.Logger
}

func setupRouter(a *app) *gin.Engine {
	h := &handlers{
		checkout:       a.checkout,
		cancel:         a.cancel,
		checkoutSchema: monitor.MustEmbedded(monitor.SchemaCheckout),
		cancelSchema:   monitor.MustEmbedded(monitor.SchemaCancel),
		logger:         a.logger.Named("http"),
	}

	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(serviceName), requestLogger(h.logger))
	router.POST("/checkout", h.processCheckout)
	router.POST("/reservations/:id/cancel", h.cancelReservation)
	router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))
	return router
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// bind validates the raw body against schema and decodes it into dst.
func bind(c *gin.Context, schema *monitor.ContractMonitor, dst any) bool {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return false
	}
	valid, violations, err := schema.Validate(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return false
	}
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": monitor.FormatErrors(violations)})
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return false
	}
	return true
}

func (h *handlers) processCheckout(c *gin.Context) {
	var req orchestrator.CheckoutRequest
	if !bind(c, h.checkoutSchema, &req) {
		return
	}

	res, err := h.checkout.ProcessCheckout(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, failure.ErrInvalidCheckout) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("checkout failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	status := http.StatusOK
	switch {
	case res.Success:
	case res.Status == orchestrator.StatusPaymentFailed:
		status = http.StatusPaymentRequired
	default:
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, res)
}

func (h *handlers) cancelReservation(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reservation id must be a positive integer"})
		return
	}
	var req cancelRequest
	if !bind(c, h.cancelSchema, &req) {
		return
	}

	res, err := h.cancel.CancelReservation(c.Request.Context(), id, req.CustomerID, req.RefundAccount)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, res)
	case errors.Is(err, cancellation.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, failure.ErrReservationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "reservation not found"})
	case errors.Is(err, failure.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "reservation does not belong to customer"})
	case failure.IsClass(err, failure.ClassPayment):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
	default:
		h.logger.Warn("cancellation failed", zap.Int64("reservation_id", id), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}
