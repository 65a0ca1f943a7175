package model

import "errors"

// Ошибки предметной области. Слои выше оборачивают их через fmt.Errorf("...: %w").
var (
	ErrNotFound                = errors.New("not found")
	ErrInvalidInput            = errors.New("invalid input")
	ErrInvalidItem             = errors.New("invalid item")
	ErrInvalidSize             = errors.New("invalid size")
	ErrInvalidAddition         = errors.New("invalid addition")
	ErrOrderLimitExceeded      = errors.New("order limit exceeded")
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrInsufficientLoyalty     = errors.New("insufficient loyalty points")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrForbidden               = errors.New("forbidden")
	ErrUnauthorized            = errors.New("unauthorized")
	ErrMethodNotAllowed        = errors.New("method not allowed")
)

// Kind это машиночитаемый тип ошибки для клиентов API.
type Kind string

const (
	KindNotFound                Kind = "NotFound"
	KindInvalidInput            Kind = "InvalidInput"
	KindInvalidItem             Kind = "InvalidItem"
	KindInvalidSize             Kind = "InvalidSize"
	KindInvalidAddition         Kind = "InvalidAddition"
	KindOrderLimitExceeded      Kind = "OrderLimitExceeded"
	KindInsufficientBalance     Kind = "InsufficientBalance"
	KindInsufficientLoyalty     Kind = "InsufficientLoyalty"
	KindInvalidStatusTransition Kind = "InvalidStatusTransition"
	KindForbidden               Kind = "Forbidden"
	KindUnauthorized            Kind = "Unauthorized"
	KindMethodNotAllowed        Kind = "MethodNotAllowed"
	KindInternal                Kind = "Internal"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrNotFound, KindNotFound},
	{ErrInvalidInput, KindInvalidInput},
	{ErrInvalidItem, KindInvalidItem},
	{ErrInvalidSize, KindInvalidSize},
	{ErrInvalidAddition, KindInvalidAddition},
	{ErrOrderLimitExceeded, KindOrderLimitExceeded},
	{ErrInsufficientBalance, KindInsufficientBalance},
	{ErrInsufficientLoyalty, KindInsufficientLoyalty},
	{ErrInvalidStatusTransition, KindInvalidStatusTransition},
	{ErrForbidden, KindForbidden},
	{ErrUnauthorized, KindUnauthorized},
	{ErrMethodNotAllowed, KindMethodNotAllowed},
}

// KindOf определяет тип ошибки. Неизвестные ошибки считаются внутренними.
func KindOf(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
