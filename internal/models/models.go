package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Auction statuses form a one-way state machine:
// scheduled -> active -> ended -> completed.
const (
	AuctionScheduled = "scheduled"
	AuctionActive    = "active"
	AuctionEnded     = "ended"
	AuctionCompleted = "completed"
)

// Listing statuses
const (
	ListingDraft     = "draft"
	ListingPublished = "published"
	ListingSold      = "sold"
)

// Order statuses
const (
	OrderPaidAwaitingShipment = "paid_awaiting_shipment"
)

// User represents a registered user
type User struct {
	ID               uuid.UUID
	Username         string
	PasswordHash     string
	PaymentMethodRef string // empty when no stored payment method
	PayoutAccountRef string // empty when the seller has no payout account
	CreatedAt        time.Time
}

// Listing represents a sellable item owned by a seller
type Listing struct {
	ID        uuid.UUID
	SellerID  uuid.UUID
	Title     string
	Status    string
	CreatedAt time.Time
}

// Auction represents a timed sale of one listing. CurrentBid, BidCount
// and ReserveMet are a cached projection over the bid ledger and are
// only ever written by arbitration and settlement.
type Auction struct {
	ID           uuid.UUID       `json:"id"`
	ListingID    uuid.UUID       `json:"listing_id"`
	StartingBid  decimal.Decimal `json:"starting_bid"`
	ReservePrice decimal.Decimal `json:"-"` // hidden from bidders
	CurrentBid   decimal.Decimal `json:"current_bid"`
	BidCount     int             `json:"bid_count"`
	ReserveMet   bool            `json:"reserve_met"`
	Status       string          `json:"status"`
	EndTime      time.Time       `json:"end_time"`
	WinnerID     *uuid.UUID      `json:"winner_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Bid represents one bidder's position on one auction: the public
// amount attributed to them and their secret ceiling. At most one row
// exists per (auction, bidder); raises update the row in place and
// CreatedAt keeps the time of the bidder's first bid.
type Bid struct {
	ID           uuid.UUID
	AuctionID    uuid.UUID
	BidderID     uuid.UUID
	BidAmount    decimal.Decimal
	MaxBidAmount decimal.Decimal
	CreatedAt    time.Time
}

// Order represents a settled, paid auction awaiting shipment
type Order struct {
	ID          uuid.UUID
	AuctionID   uuid.UUID
	ListingID   uuid.UUID
	BuyerID     uuid.UUID
	SellerID    uuid.UUID
	Amount      decimal.Decimal
	PlatformFee decimal.Decimal
	Status      string
	PaymentRef  string
	CreatedAt   time.Time
}

// SettlementResult records the outcome of settling one expired auction.
// Err is set when that auction's settlement failed; the batch carries on.
type SettlementResult struct {
	AuctionID        uuid.UUID  `json:"auction_id"`
	ListingID        uuid.UUID  `json:"listing_id"`
	Status           string     `json:"status"`
	WinnerID         *uuid.UUID `json:"winner_id,omitempty"`
	PaymentProcessed bool       `json:"payment_processed"`
	Err              string     `json:"error,omitempty"`
}
