package cards

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the cards service and its stores.
var (
	ErrAccountNotFound       = errors.New("account not found")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrInvalidServiceConfig  = errors.New("invalid service config")
	ErrInvalidTradeKind      = errors.New("invalid trade kind")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// IsClientError reports whether err belongs to the taxonomy a caller can act on,
// as opposed to a storage or internal fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInsufficientInventory) ||
		errors.Is(err, ErrInvalidArgument)
}

func invalidArgument(detail string) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, detail)
}
