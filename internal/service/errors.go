package service

import "errors"

// Error taxonomy. Handlers map these onto HTTP status codes; everything
// wrapped in ErrGateway is sanitized before it reaches a client.
var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("payment not found")
	ErrGateway             = errors.New("gateway error")
	ErrWebhookVerification = errors.New("webhook verification failed")
)
