package bidding

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// State and validation errors. All are returned before any write, so a
// rejected bid never leaves partial state behind.
var (
	ErrInvalidAmount   = errors.New("bid amount must be positive")
	ErrAuctionNotFound = errors.New("auction not found")
	ErrAuctionClosed   = errors.New("auction is not open for bidding")
	ErrSelfBid         = errors.New("sellers cannot bid on their own listing")
)

// ErrContention means the per-auction lock could not be acquired in
// time. Callers should retry with backoff; it is not a business rejection.
var ErrContention = errors.New("auction is busy, retry")

// BidTooLowError carries the minimum acceptable bid so callers can
// retry with a higher amount.
type BidTooLowError struct {
	Minimum decimal.Decimal
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid too low: minimum acceptable bid is %s", e.Minimum.StringFixed(2))
}
