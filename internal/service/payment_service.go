package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dealroom-payments/internal/currency"
	"dealroom-payments/internal/gateway"
	"dealroom-payments/internal/metrics"
	"dealroom-payments/internal/models"
)

// Storage contracts. The repositories satisfy these; tests substitute
// in-memory fakes.

type TransactionStore interface {
	Create(ctx context.Context, txn *models.PaymentTransaction) error
	GetByOrderReference(ctx context.Context, orderRef string) (*models.PaymentTransaction, error)
	SetGatewayReference(ctx context.Context, orderRef, gatewayRef string, raw []byte) error
	TransitionStatus(ctx context.Context, orderRef string, to models.PaymentStatus, raw []byte) (bool, error)
}

type LogStore interface {
	Append(ctx context.Context, entry *models.PaymentLog) error
	HasAction(ctx context.Context, orderRef string, action models.LogAction) (bool, error)
	ListByOrderReference(ctx context.Context, orderRef string) ([]*models.PaymentLog, error)
}

type SubscriptionStore interface {
	ExistsByTransaction(ctx context.Context, transactionID string) (bool, error)
	Create(ctx context.Context, sub *models.UserSubscription) error
}

// Cache backs create-idempotency and the email-send cooldown. Keyed entries
// with TTLs live in the shared store, not process memory, so the guards hold
// across instances.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
}

type RateConverter interface {
	Convert(ctx context.Context, amount float64, targetCurrency string) *currency.Conversion
}

// Notifier delivers the best-effort side effects of a payment outcome.
// Failures are logged and never surface into the payment flow.
type Notifier interface {
	PaymentConfirmed(txn *models.PaymentTransaction) error
	PaymentFailed(txn *models.PaymentTransaction, reason string) error
}

const (
	idempotencyTTL   = 24 * time.Hour
	emailCooldownTTL = 10 * time.Minute

	channelPoll    = "poll"
	channelWebhook = "webhook"
	channelReturn  = "return"
)

type PaymentService struct {
	transactions  TransactionStore
	logs          LogStore
	subscriptions SubscriptionStore
	cache         Cache
	gateways      *gateway.Registry
	converter     RateConverter
	notifier      Notifier
	logger        *zap.Logger

	publicBaseURL      string
	defaultProvider    string
	settlementCurrency string
	subscriptionTerm   time.Duration
}

type Options struct {
	PublicBaseURL      string
	DefaultProvider    string
	SettlementCurrency string
}

func NewPaymentService(
	transactions TransactionStore,
	logs LogStore,
	subscriptions SubscriptionStore,
	cache Cache,
	gateways *gateway.Registry,
	converter RateConverter,
	notifier Notifier,
	logger *zap.Logger,
	opts Options,
) *PaymentService {
	return &PaymentService{
		transactions:       transactions,
		logs:               logs,
		subscriptions:      subscriptions,
		cache:              cache,
		gateways:           gateways,
		converter:          converter,
		notifier:           notifier,
		logger:             logger,
		publicBaseURL:      strings.TrimRight(opts.PublicBaseURL, "/"),
		defaultProvider:    opts.DefaultProvider,
		settlementCurrency: strings.ToUpper(opts.SettlementCurrency),
		subscriptionTerm:   365 * 24 * time.Hour,
	}
}

// CreatePayment opens a hosted-page order with the selected provider and
// persists the transaction in pending state. A client-supplied idempotency
// key returns the previously created order instead of charging twice.
func (s *PaymentService) CreatePayment(ctx context.Context, req *models.PaymentRequest, idempotencyKey string) (*models.PaymentCreateResponse, error) {
	if idempotencyKey != "" {
		if cached := s.getIdempotentResponse(ctx, idempotencyKey); cached != nil {
			return cached, nil
		}
	}

	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if len(req.Currency) != 3 {
		return nil, fmt.Errorf("%w: currency must be a 3-letter code", ErrValidation)
	}

	provider := req.Provider
	if provider == "" {
		provider = s.defaultProvider
	}
	gw, err := s.gateways.Get(provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	orderRef := fmt.Sprintf("dr-%s", uuid.New().String())
	displayCurrency := strings.ToUpper(req.Currency)

	var conv *currency.Conversion
	if displayCurrency == s.settlementCurrency {
		conv = &currency.Conversion{
			Amount:           req.Amount,
			Currency:         s.settlementCurrency,
			OriginalAmount:   req.Amount,
			OriginalCurrency: s.settlementCurrency,
			Rate:             1,
			Source:           "identity",
		}
	} else {
		conv = s.converter.Convert(ctx, req.Amount, s.settlementCurrency)
	}

	metadata := make(map[string]interface{}, len(req.Metadata)+4)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata[models.MetaPaymentAmount] = conv.Amount
	metadata[models.MetaPaymentCurrency] = conv.Currency
	metadata[models.MetaFXRate] = conv.Rate
	metadata[models.MetaFXSource] = conv.Source

	now := time.Now()
	txn := &models.PaymentTransaction{
		ID:              uuid.New().String(),
		OrderReference:  orderRef,
		Amount:          req.Amount,
		Currency:        displayCurrency,
		Status:          models.PaymentStatusPending,
		GatewayProvider: provider,
		Description:     req.Description,
		CustomerEmail:   req.CustomerEmail,
		CustomerName:    req.CustomerName,
		UserID:          req.UserID,
		Metadata:        metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.transactions.Create(ctx, txn); err != nil {
		return nil, fmt.Errorf("failed to persist transaction: %w", err)
	}
	s.appendLog(ctx, orderRef, models.LogActionCreated, fmt.Sprintf("provider=%s amount=%.2f %s", provider, req.Amount, displayCurrency), nil)

	order := gateway.OrderData{
		OrderReference: orderRef,
		Amount:         conv.Amount,
		Currency:       conv.Currency,
		Description:    req.Description,
		CustomerEmail:  req.CustomerEmail,
		CustomerName:   req.CustomerName,
		ReturnURLs:     s.returnURLs(provider, orderRef),
	}

	start := time.Now()
	result, err := gw.CreateOrder(ctx, order)
	metrics.GatewayRequestDuration.WithLabelValues(provider, "create_order").Observe(time.Since(start).Seconds())

	if err != nil || !result.Success {
		errMsg := ""
		var raw []byte
		if result != nil {
			errMsg = result.ErrorMessage
			raw = result.Raw
		}
		if err != nil {
			errMsg = err.Error()
		}

		// Full raw context stays server-side; the caller gets a generic message
		s.logger.Error("gateway order creation failed",
			zap.String("order_reference", orderRef),
			zap.String("provider", provider),
			zap.String("gateway_error", errMsg),
			zap.ByteString("raw", raw))

		if _, terr := s.transactions.TransitionStatus(ctx, orderRef, models.PaymentStatusFailed, raw); terr != nil {
			s.logger.Error("failed to mark transaction failed", zap.String("order_reference", orderRef), zap.Error(terr))
		}
		s.appendLog(ctx, orderRef, models.LogActionCreationFailed, errMsg, raw)
		metrics.PaymentsCreated.WithLabelValues(provider, "failed").Inc()

		return nil, fmt.Errorf("%w: payment could not be initiated", ErrGateway)
	}

	if err := s.transactions.SetGatewayReference(ctx, orderRef, result.GatewayReference, result.Raw); err != nil {
		s.logger.Error("failed to persist gateway reference",
			zap.String("order_reference", orderRef),
			zap.Error(err))
	}
	s.appendLog(ctx, orderRef, models.LogActionOrderCreated, fmt.Sprintf("gateway_ref=%s", result.GatewayReference), result.Raw)
	metrics.PaymentsCreated.WithLabelValues(provider, "created").Inc()

	response := &models.PaymentCreateResponse{
		Success:        true,
		OrderReference: orderRef,
		PaymentURL:     result.PaymentURL,
	}

	if idempotencyKey != "" {
		s.cacheIdempotentResponse(ctx, idempotencyKey, response)
	}

	return response, nil
}

// CheckPaymentStatus polls the provider for a non-terminal transaction and
// reconciles the result. An unknown or unreachable provider leaves the
// stored status untouched.
func (s *PaymentService) CheckPaymentStatus(ctx context.Context, orderRef string) (*models.PaymentTransaction, error) {
	txn, err := s.transactions.GetByOrderReference(ctx, orderRef)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	if txn == nil {
		return nil, ErrNotFound
	}

	if txn.Status.IsTerminal() {
		return txn, nil
	}

	gw, err := s.gateways.Get(txn.GatewayProvider)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	// The reference understood by the provider's query API is not always the
	// one we generated: PayTabs reassigns its own tran_ref at creation time.
	pollRef := txn.GatewayTransactionID
	if pollRef == "" {
		pollRef = txn.OrderReference
	}

	start := time.Now()
	result, err := gw.CheckStatus(ctx, pollRef)
	metrics.GatewayRequestDuration.WithLabelValues(txn.GatewayProvider, "check_status").Observe(time.Since(start).Seconds())
	if err != nil {
		s.logger.Warn("status poll errored, keeping stored status",
			zap.String("order_reference", orderRef),
			zap.Error(err))
		return txn, nil
	}

	if !result.Success || result.Status == models.PaymentStatusUnknown {
		// "can't tell" is not a transition
		return txn, nil
	}

	s.updateStatus(ctx, txn, result.Status, result.Raw, channelPoll)
	return txn, nil
}

// HandleWebhook verifies and reconciles an asynchronous provider
// notification. Verification failures reject the request without touching
// any transaction.
func (s *PaymentService) HandleWebhook(ctx context.Context, provider string, payload map[string]interface{}, signature string) error {
	return s.handleNotification(ctx, provider, payload, signature, channelWebhook)
}

// HandleReturn reconciles the synchronous browser-return post from the
// provider's hosted page. Same verification rules as the webhook channel.
func (s *PaymentService) HandleReturn(ctx context.Context, provider string, payload map[string]interface{}, signature string) error {
	return s.handleNotification(ctx, provider, payload, signature, channelReturn)
}

func (s *PaymentService) handleNotification(ctx context.Context, provider string, payload map[string]interface{}, signature, channel string) error {
	gw, err := s.gateways.Get(provider)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if !gw.ValidateWebhook(payload, signature) {
		metrics.WebhooksReceived.WithLabelValues(provider, "invalid").Inc()
		s.logger.Warn("webhook signature verification failed", zap.String("provider", provider))
		return ErrWebhookVerification
	}
	metrics.WebhooksReceived.WithLabelValues(provider, "valid").Inc()

	result, err := gw.ProcessWebhook(payload, signature)
	if err != nil || !result.Success {
		return fmt.Errorf("%w: malformed notification payload", ErrValidation)
	}

	txn, err := s.transactions.GetByOrderReference(ctx, result.OrderReference)
	if err != nil {
		return fmt.Errorf("failed to load transaction: %w", err)
	}
	if txn == nil {
		return ErrNotFound
	}

	s.appendLog(ctx, txn.OrderReference, models.LogActionWebhookReceived,
		fmt.Sprintf("channel=%s gateway_status=%s", channel, result.GatewayStatus), result.Raw)

	s.updateStatus(ctx, txn, result.Status, result.Raw, channel)
	return nil
}

// GetPaymentLogs returns the audit trail for an order.
func (s *PaymentService) GetPaymentLogs(ctx context.Context, orderRef string) ([]*models.PaymentLog, error) {
	txn, err := s.transactions.GetByOrderReference(ctx, orderRef)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, ErrNotFound
	}
	return s.logs.ListByOrderReference(ctx, orderRef)
}

// updateStatus is the single funnel all three reporting channels go through.
// It is a no-op for unknown, for repeats of the current status, and for
// anything arriving after a terminal state. The conditional UPDATE in the
// store serializes racing channels; the guards in fulfill are a second layer,
// not a substitute.
func (s *PaymentService) updateStatus(ctx context.Context, txn *models.PaymentTransaction, newStatus models.PaymentStatus, raw []byte, channel string) {
	if newStatus == models.PaymentStatusUnknown || newStatus == txn.Status {
		return
	}
	if txn.Status.IsTerminal() {
		s.logger.Warn("ignoring status report for terminal transaction",
			zap.String("order_reference", txn.OrderReference),
			zap.String("current", string(txn.Status)),
			zap.String("reported", string(newStatus)),
			zap.String("channel", channel))
		return
	}

	transitioned, err := s.transactions.TransitionStatus(ctx, txn.OrderReference, newStatus, raw)
	if err != nil {
		s.logger.Error("status transition failed",
			zap.String("order_reference", txn.OrderReference),
			zap.Error(err))
		return
	}
	if !transitioned {
		// a concurrent channel already performed the transition
		return
	}

	previous := txn.Status
	txn.Status = newStatus
	if newStatus == models.PaymentStatusCompleted {
		now := time.Now()
		txn.CompletedAt = &now
	}

	s.appendLog(ctx, txn.OrderReference, models.LogActionStatusUpdated,
		fmt.Sprintf("%s -> %s via %s", previous, newStatus, channel), nil)
	metrics.StatusTransitions.WithLabelValues(txn.GatewayProvider, string(newStatus), channel).Inc()

	s.logger.Info("payment status transitioned",
		zap.String("order_reference", txn.OrderReference),
		zap.String("from", string(previous)),
		zap.String("to", string(newStatus)),
		zap.String("channel", channel))

	switch newStatus {
	case models.PaymentStatusCompleted:
		s.fulfill(ctx, txn)
	case models.PaymentStatusFailed:
		go func(t models.PaymentTransaction) {
			if err := s.notifier.PaymentFailed(&t, "payment declined by processor"); err != nil {
				s.logger.Warn("failure notification not delivered", zap.String("order_reference", t.OrderReference), zap.Error(err))
			}
		}(*txn)
	}
}

// fulfill creates the Deal Room subscription and fires the one-time
// notifications for a completed payment. Both guards must be negative before
// the insert: the log trail and the subscription table itself, because a
// webhook and a poll can observe the same transition within milliseconds.
func (s *PaymentService) fulfill(ctx context.Context, txn *models.PaymentTransaction) {
	already, err := s.logs.HasAction(ctx, txn.OrderReference, models.LogActionSubscriptionCreated)
	if err != nil {
		s.logger.Error("subscription guard check failed", zap.String("order_reference", txn.OrderReference), zap.Error(err))
		return
	}
	if already {
		return
	}

	exists, err := s.subscriptions.ExistsByTransaction(ctx, txn.ID)
	if err != nil {
		s.logger.Error("subscription existence check failed", zap.String("order_reference", txn.OrderReference), zap.Error(err))
		return
	}
	if exists {
		return
	}

	now := time.Now()
	sub := &models.UserSubscription{
		ID:            uuid.New().String(),
		UserID:        txn.UserID,
		TransactionID: txn.ID,
		Feature:       models.FeatureDealRoom,
		StartsAt:      now,
		ExpiresAt:     now.Add(s.subscriptionTerm),
		CreatedAt:     now,
	}
	if err := s.subscriptions.Create(ctx, sub); err != nil {
		s.logger.Error("subscription creation failed",
			zap.String("order_reference", txn.OrderReference),
			zap.Error(err))
		return
	}

	s.appendLog(ctx, txn.OrderReference, models.LogActionSubscriptionCreated,
		fmt.Sprintf("subscription=%s feature=%s", sub.ID, sub.Feature), nil)
	metrics.SubscriptionsCreated.WithLabelValues(txn.GatewayProvider).Inc()

	s.sendCompletionEmails(ctx, txn)
}

// sendCompletionEmails fires the confirmation emails at most once per order.
// The cooldown entry lives in the shared cache so the suppression holds when
// webhook and poll land on different instances.
func (s *PaymentService) sendCompletionEmails(ctx context.Context, txn *models.PaymentTransaction) {
	ok, err := s.cache.SetNX(ctx, "payments:emails:"+txn.OrderReference, "1", emailCooldownTTL)
	if err != nil {
		s.logger.Warn("email cooldown check failed, sending anyway",
			zap.String("order_reference", txn.OrderReference),
			zap.Error(err))
	} else if !ok {
		return
	}

	// fire-and-forget: the payment flow never blocks on delivery
	go func(t models.PaymentTransaction) {
		if err := s.notifier.PaymentConfirmed(&t); err != nil {
			s.logger.Warn("confirmation emails not delivered",
				zap.String("order_reference", t.OrderReference),
				zap.Error(err))
			return
		}
		s.appendLog(context.Background(), t.OrderReference, models.LogActionEmailsSent, "confirmation + team notification", nil)
	}(*txn)
}

func (s *PaymentService) returnURLs(provider, orderRef string) gateway.ReturnURLs {
	base := s.publicBaseURL + "/api/v1/payments"
	return gateway.ReturnURLs{
		Authorised: fmt.Sprintf("%s/return/%s?ref=%s&outcome=authorised", base, provider, orderRef),
		Declined:   fmt.Sprintf("%s/return/%s?ref=%s&outcome=declined", base, provider, orderRef),
		Cancelled:  fmt.Sprintf("%s/return/%s?ref=%s&outcome=cancelled", base, provider, orderRef),
		Callback:   fmt.Sprintf("%s/api/v1/webhooks/%s", s.publicBaseURL, provider),
	}
}

func (s *PaymentService) appendLog(ctx context.Context, orderRef string, action models.LogAction, detail string, raw []byte) {
	entry := &models.PaymentLog{
		ID:             uuid.New().String(),
		OrderReference: orderRef,
		Action:         action,
		Detail:         detail,
		Metadata:       raw,
		CreatedAt:      time.Now(),
	}
	if err := s.logs.Append(ctx, entry); err != nil {
		s.logger.Error("failed to append payment log",
			zap.String("order_reference", orderRef),
			zap.String("action", string(action)),
			zap.Error(err))
	}
}

func (s *PaymentService) getIdempotentResponse(ctx context.Context, key string) *models.PaymentCreateResponse {
	data, err := s.cache.Get(ctx, "payments:idem:"+key)
	if err != nil {
		return nil
	}
	var response models.PaymentCreateResponse
	if err := json.Unmarshal([]byte(data), &response); err != nil {
		return nil
	}
	return &response
}

func (s *PaymentService) cacheIdempotentResponse(ctx context.Context, key string, response *models.PaymentCreateResponse) {
	data, _ := json.Marshal(response)
	if err := s.cache.Set(ctx, "payments:idem:"+key, data, idempotencyTTL); err != nil {
		s.logger.Warn("failed to cache idempotent response", zap.Error(err))
	}
}
