package trade

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Business-rule failures. All of them are expected, user-facing outcomes:
// the engine returns them without having mutated any state. Anything else
// coming out of the engine is an internal storage failure.
var (
	// ErrInstrumentNotFound is returned when the ticker is not listed.
	ErrInstrumentNotFound = errors.New("instrument not found")

	// ErrNoPosition is returned on a sell of an instrument the account
	// does not hold.
	ErrNoPosition = errors.New("no position held")

	// ErrPriceUnavailable is returned when the instrument exists but has
	// no tradable price yet (price snapshot is 0).
	ErrPriceUnavailable = errors.New("no tradable price")

	// ErrInvalidQuantity is returned for a non-positive trade quantity.
	// The transport layer validates this too; the engine guards anyway.
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

// LotSizeError reports a quantity that is not a multiple of the
// instrument's lot size.
type LotSizeError struct {
	Ticker   string
	Quantity int64
	LotSize  int64
}

func (e *LotSizeError) Error() string {
	return fmt.Sprintf("quantity %d must be a multiple of lot size %d for %s",
		e.Quantity, e.LotSize, e.Ticker)
}

// InsufficientFundsError reports a buy that the cash balance cannot cover.
type InsufficientFundsError struct {
	Required  decimal.Decimal // total debit including commission
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: required %s, available %s",
		e.Required.StringFixed(2), e.Available.StringFixed(2))
}

// InsufficientQuantityError reports a sell larger than the held position.
type InsufficientQuantityError struct {
	Ticker    string
	Requested int64
	Available int64
}

func (e *InsufficientQuantityError) Error() string {
	return fmt.Sprintf("insufficient quantity of %s: requested %d, available %d",
		e.Ticker, e.Requested, e.Available)
}

// IsBusinessError reports whether err is one of the expected trade
// rejections, as opposed to an internal storage failure.
func IsBusinessError(err error) bool {
	var lotErr *LotSizeError
	var fundsErr *InsufficientFundsError
	var qtyErr *InsufficientQuantityError
	return errors.Is(err, ErrInstrumentNotFound) ||
		errors.Is(err, ErrNoPosition) ||
		errors.Is(err, ErrPriceUnavailable) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.As(err, &lotErr) ||
		errors.As(err, &fundsErr) ||
		errors.As(err, &qtyErr)
}
