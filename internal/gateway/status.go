package gateway

import (
	"strings"

	"go.uber.org/zap"

	"dealroom-payments/internal/models"
)

// StatusMapper translates each provider's status vocabulary into the
// canonical set. Unrecognized values map to pending, never failed: a
// processor replying with something we don't know is most likely mid-flow,
// and a false "failed" would strand a legitimate payment. Every such
// default is logged for operational visibility.
type StatusMapper struct {
	logger *zap.Logger
}

func NewStatusMapper(logger *zap.Logger) *StatusMapper {
	return &StatusMapper{logger: logger}
}

// Telr order status codes as returned by the check method.
var telrAPICodes = map[int]models.PaymentStatus{
	1:  models.PaymentStatusPending,   // pending
	2:  models.PaymentStatusCompleted, // authorised
	3:  models.PaymentStatusCompleted, // paid
	-1: models.PaymentStatusExpired,
	-2: models.PaymentStatusCancelled,
	-3: models.PaymentStatusFailed, // declined
}

var telrAPITexts = map[string]models.PaymentStatus{
	"pending":    models.PaymentStatusPending,
	"authorised": models.PaymentStatusCompleted,
	"authorized": models.PaymentStatusCompleted,
	"paid":       models.PaymentStatusCompleted,
	"expired":    models.PaymentStatusExpired,
	"cancelled":  models.PaymentStatusCancelled,
	"declined":   models.PaymentStatusFailed,
}

// MapTelrAPIStatus maps a Telr check response. The numeric code is
// authoritative; the free-text label is only consulted when the code is
// unrecognized.
func (m *StatusMapper) MapTelrAPIStatus(code int, text string) models.PaymentStatus {
	if status, ok := telrAPICodes[code]; ok {
		return status
	}
	if status, ok := telrAPITexts[strings.ToLower(strings.TrimSpace(text))]; ok {
		return status
	}
	m.logger.Warn("unrecognized telr api status, defaulting to pending",
		zap.Int("code", code),
		zap.String("text", text))
	return models.PaymentStatusPending
}

// Telr transaction advice single-character status codes.
var telrWebhookCodes = map[string]models.PaymentStatus{
	"A": models.PaymentStatusCompleted, // authorised
	"H": models.PaymentStatusPending,   // hold
	"P": models.PaymentStatusPending,   // payment in progress
	"C": models.PaymentStatusCancelled,
	"D": models.PaymentStatusFailed, // declined
	"E": models.PaymentStatusExpired,
	"V": models.PaymentStatusCancelled, // voided
}

// MapTelrWebhookStatus maps the single-character tran_status field carried
// by Telr's server-to-server advice.
func (m *StatusMapper) MapTelrWebhookStatus(tranStatus string) models.PaymentStatus {
	if status, ok := telrWebhookCodes[strings.ToUpper(strings.TrimSpace(tranStatus))]; ok {
		return status
	}
	m.logger.Warn("unrecognized telr webhook status, defaulting to pending",
		zap.String("tran_status", tranStatus))
	return models.PaymentStatusPending
}

// PayTabs payment_result.response_status codes, shared by the query API,
// the synchronous return (respStatus) and the IPN.
var payTabsCodes = map[string]models.PaymentStatus{
	"A": models.PaymentStatusCompleted, // authorised
	"H": models.PaymentStatusPending,   // hold
	"P": models.PaymentStatusPending,
	"V": models.PaymentStatusCancelled, // voided
	"C": models.PaymentStatusCancelled,
	"D": models.PaymentStatusFailed, // declined
	"E": models.PaymentStatusFailed, // error
	"X": models.PaymentStatusExpired,
}

var payTabsTexts = map[string]models.PaymentStatus{
	"authorised": models.PaymentStatusCompleted,
	"authorized": models.PaymentStatusCompleted,
	"captured":   models.PaymentStatusCompleted,
	"pending":    models.PaymentStatusPending,
	"on hold":    models.PaymentStatusPending,
	"voided":     models.PaymentStatusCancelled,
	"cancelled":  models.PaymentStatusCancelled,
	"declined":   models.PaymentStatusFailed,
	"expired":    models.PaymentStatusExpired,
}

// MapPayTabsAPIStatus maps a PayTabs query response. On code/message
// disagreement the code wins.
func (m *StatusMapper) MapPayTabsAPIStatus(responseStatus, responseMessage string) models.PaymentStatus {
	if status, ok := payTabsCodes[strings.ToUpper(strings.TrimSpace(responseStatus))]; ok {
		return status
	}
	if status, ok := payTabsTexts[strings.ToLower(strings.TrimSpace(responseMessage))]; ok {
		return status
	}
	m.logger.Warn("unrecognized paytabs api status, defaulting to pending",
		zap.String("response_status", responseStatus),
		zap.String("response_message", responseMessage))
	return models.PaymentStatusPending
}

// MapPayTabsWebhookStatus maps the response_status carried by a PayTabs IPN
// or synchronous return post.
func (m *StatusMapper) MapPayTabsWebhookStatus(responseStatus string) models.PaymentStatus {
	if status, ok := payTabsCodes[strings.ToUpper(strings.TrimSpace(responseStatus))]; ok {
		return status
	}
	m.logger.Warn("unrecognized paytabs webhook status, defaulting to pending",
		zap.String("response_status", responseStatus))
	return models.PaymentStatusPending
}
