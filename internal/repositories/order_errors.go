package repositories

import "fmt"

// OrderErrorCode enumerates repository error causes for order persistence.
type OrderErrorCode string

const (
	// OrderErrorUnknown represents an unspecified failure.
	OrderErrorUnknown OrderErrorCode = "order_unknown"
	// OrderErrorNotFound indicates the order document is missing.
	OrderErrorNotFound OrderErrorCode = "order_not_found"
	// OrderErrorAlreadyExists indicates an order with the same id was already written.
	OrderErrorAlreadyExists OrderErrorCode = "order_already_exists"
	// OrderErrorUnavailable indicates the store could not be reached.
	OrderErrorUnavailable OrderErrorCode = "order_unavailable"
)

// OrderError wraps order-specific failures with machine readable codes.
type OrderError struct {
	Op      string
	Code    OrderErrorCode
	Message string
	Err     error
}

var _ RepositoryError = (*OrderError)(nil)

// Error implements the error interface.
func (e *OrderError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *OrderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *OrderError) IsNotFound() bool {
	return e != nil && e.Code == OrderErrorNotFound
}

func (e *OrderError) IsConflict() bool {
	return e != nil && e.Code == OrderErrorAlreadyExists
}

func (e *OrderError) IsUnavailable() bool {
	return e != nil && e.Code == OrderErrorUnavailable
}

// NewOrderError constructs a typed order error.
func NewOrderError(op string, code OrderErrorCode, message string, err error) *OrderError {
	if message == "" {
		message = string(code)
	}
	return &OrderError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
