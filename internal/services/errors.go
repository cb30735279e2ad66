package services

import (
	"errors"
	"net/http"

	"github.com/example/settle/internal/repository"
)

// ErrorInfo describes a user-visible error kind.
type ErrorInfo struct {
	Name    string
	Code    string
	Status  int
	Message string
}

var (
	InfoValidation = ErrorInfo{
		Name:    "ValidationError",
		Code:    "validation_error",
		Status:  http.StatusUnprocessableEntity,
		Message: "The request is invalid",
	}
	InfoAlreadyProcessed = ErrorInfo{
		Name:    "AlreadyProcessedError",
		Code:    "already_processed",
		Status:  http.StatusConflict,
		Message: "Payment has already been processed",
	}
	InfoInvalidState = ErrorInfo{
		Name:    "InvalidStateError",
		Code:    "invalid_state",
		Status:  http.StatusConflict,
		Message: "Only succeeded payments can be refunded",
	}
	InfoExceedsAvailable = ErrorInfo{
		Name:    "ExceedsAvailableError",
		Code:    "exceeds_available",
		Status:  http.StatusUnprocessableEntity,
		Message: "Refund amount exceeds the refundable amount",
	}
	InfoFullyRefunded = ErrorInfo{
		Name:    "FullyRefundedError",
		Code:    "fully_refunded",
		Status:  http.StatusConflict,
		Message: "Payment has already been fully refunded",
	}
	InfoDuplicateIdempotencyKey = ErrorInfo{
		Name:    "DuplicateIdempotencyKeyError",
		Code:    "duplicate_idempotency_key",
		Status:  http.StatusConflict,
		Message: "A record with this idempotency key already exists",
	}
	InfoInsufficientFunds = ErrorInfo{
		Name:    "InsufficientFundsError",
		Code:    "insufficient_funds",
		Status:  http.StatusUnprocessableEntity,
		Message: "Amount exceeds the available balance",
	}
	InfoSettlementAdapter = ErrorInfo{
		Name:    "SettlementAdapterError",
		Code:    "settlement_error",
		Status:  http.StatusBadGateway,
		Message: "The settlement provider could not process the request",
	}
	InfoDelivery = ErrorInfo{
		Name:    "DeliveryError",
		Code:    "delivery_error",
		Status:  http.StatusBadGateway,
		Message: "Webhook delivery failed",
	}
	InfoNotFound = ErrorInfo{
		Name:    "NotFoundError",
		Code:    "not_found",
		Status:  http.StatusNotFound,
		Message: "Resource not found",
	}
	InfoForbidden = ErrorInfo{
		Name:    "ForbiddenError",
		Code:    "forbidden",
		Status:  http.StatusForbidden,
		Message: "Access denied",
	}
	InfoUnauthorized = ErrorInfo{
		Name:    "UnauthorizedError",
		Code:    "unauthorized",
		Status:  http.StatusUnauthorized,
		Message: "Invalid credentials",
	}
)

// ServiceError is a structured, user-presentable error. Reason overrides
// Info.Code with a more specific machine-readable code; Detail overrides
// Info.Message. Err is the internal cause and is never rendered.
type ServiceError struct {
	Info   ErrorInfo
	Reason string
	Detail string
	Err    error
}

func (e *ServiceError) Error() string {
	msg := e.Info.Name
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Is matches any ServiceError of the same kind.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	return ok && t.Info.Name == e.Info.Name
}

// Code returns the machine-readable reason code.
func (e *ServiceError) Code() string {
	if e.Reason != "" {
		return e.Reason
	}
	return e.Info.Code
}

// Message returns the human-readable message.
func (e *ServiceError) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Info.Message
}

// Kind sentinels for errors.Is.
var (
	ErrValidation              = &ServiceError{Info: InfoValidation}
	ErrAlreadyProcessed        = &ServiceError{Info: InfoAlreadyProcessed}
	ErrInvalidState            = &ServiceError{Info: InfoInvalidState}
	ErrExceedsAvailable        = &ServiceError{Info: InfoExceedsAvailable}
	ErrFullyRefunded           = &ServiceError{Info: InfoFullyRefunded}
	ErrDuplicateIdempotencyKey = &ServiceError{Info: InfoDuplicateIdempotencyKey}
	ErrInsufficientFunds       = &ServiceError{Info: InfoInsufficientFunds}
	ErrSettlementAdapter       = &ServiceError{Info: InfoSettlementAdapter}
	ErrDelivery                = &ServiceError{Info: InfoDelivery}
	ErrNotFound                = &ServiceError{Info: InfoNotFound}
	ErrForbidden               = &ServiceError{Info: InfoForbidden}
	ErrUnauthorized            = &ServiceError{Info: InfoUnauthorized}
)

func validationError(reason, detail string) error {
	return &ServiceError{Info: InfoValidation, Reason: reason, Detail: detail}
}

func notFound(detail string) error {
	return &ServiceError{Info: InfoNotFound, Detail: detail}
}

// storeError maps repository sentinels onto service kinds.
func storeError(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return notFound(what + " not found")
	case errors.Is(err, repository.ErrDuplicateIdempotencyKey):
		return &ServiceError{Info: InfoDuplicateIdempotencyKey, Err: err}
	case errors.Is(err, repository.ErrInsufficientFunds):
		return &ServiceError{Info: InfoInsufficientFunds, Err: err}
	}
	return err
}
