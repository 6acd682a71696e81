package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dealroom-payments/internal/models"
	"dealroom-payments/internal/service"
)

type PaymentHandler struct {
	service *service.PaymentService
	logger  *zap.Logger
}

func NewPaymentHandler(service *service.PaymentService, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		service: service,
		logger:  logger,
	}
}

// CreatePayment handles POST /api/v1/payments
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	var req models.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	response, err := h.service.CreatePayment(c.Request.Context(), &req, c.GetHeader("Idempotency-Key"))
	if err != nil {
		h.respondError(c, err, "failed to create payment")
		return
	}

	c.JSON(http.StatusCreated, response)
}

// GetPaymentStatus handles GET /api/v1/payments/:orderReference/status.
// It triggers an on-demand status poll against the provider.
func (h *PaymentHandler) GetPaymentStatus(c *gin.Context) {
	orderRef := c.Param("orderReference")

	txn, err := h.service.CheckPaymentStatus(c.Request.Context(), orderRef)
	if err != nil {
		h.respondError(c, err, "failed to check payment status")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      txn.Status,
		"transaction": txn,
	})
}

// GetPaymentLogs handles GET /api/v1/payments/:orderReference/logs
func (h *PaymentHandler) GetPaymentLogs(c *gin.Context) {
	orderRef := c.Param("orderReference")

	logs, err := h.service.GetPaymentLogs(c.Request.Context(), orderRef)
	if err != nil {
		h.respondError(c, err, "failed to load payment logs")
		return
	}

	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// ProviderReturn handles POST /api/v1/payments/return/:provider — the
// synchronous form post the hosted page sends the browser back with.
func (h *PaymentHandler) ProviderReturn(c *gin.Context) {
	provider := c.Param("provider")

	payload, signature, err := parseNotification(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}

	if err := h.service.HandleReturn(c.Request.Context(), provider, payload, signature); err != nil {
		h.respondError(c, err, "failed to process return")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ProviderWebhook handles POST /api/v1/webhooks/:provider. No auth header is
// required; authenticity is established by the payload signature.
func (h *PaymentHandler) ProviderWebhook(c *gin.Context) {
	provider := c.Param("provider")

	payload, signature, err := parseNotification(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}

	if err := h.service.HandleWebhook(c.Request.Context(), provider, payload, signature); err != nil {
		h.respondError(c, err, "failed to process webhook")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// parseNotification normalizes a provider notification into a flat payload
// map, accepting both JSON (IPN) and form-encoded (return post, advice)
// bodies, and extracts the signature from headers or the payload itself.
func parseNotification(c *gin.Context) (map[string]interface{}, string, error) {
	payload := make(map[string]interface{})

	contentType := c.ContentType()
	if strings.Contains(contentType, "application/json") {
		if err := json.NewDecoder(c.Request.Body).Decode(&payload); err != nil {
			return nil, "", err
		}
	} else {
		if err := c.Request.ParseForm(); err != nil {
			return nil, "", err
		}
		for key, values := range c.Request.PostForm {
			if len(values) > 0 {
				payload[key] = values[0]
			}
		}
	}

	signature := ""
	for _, header := range []string{"X-Telr-Signature", "X-Paytabs-Signature", "X-Signature", "Signature"} {
		if value := c.GetHeader(header); value != "" {
			signature = value
			break
		}
	}
	if signature == "" {
		if value, ok := payload["signature"].(string); ok {
			signature = value
		}
	}

	return payload, signature, nil
}

func (h *PaymentHandler) respondError(c *gin.Context, err error, logMsg string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": sanitized(err)})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
	case errors.Is(err, service.ErrWebhookVerification):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Signature verification failed"})
	case errors.Is(err, service.ErrGateway):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Payment could not be processed"})
	default:
		h.logger.Error(logMsg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func sanitized(err error) string {
	return err.Error()
}
