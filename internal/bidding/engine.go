package bidding

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vs-webmaster/vintstreet-sub005/internal/models"
)

// outcome is the arbitration verdict for one submitted max bid.
type outcome struct {
	// NewCurrentBid is the public price after arbitration. Never exceeds
	// the leader's own max.
	NewCurrentBid decimal.Decimal
	// LeaderID is the bidder holding the lead after arbitration.
	LeaderID uuid.UUID
	// FirstBid is true when this is the caller's first bid on the auction.
	FirstBid bool
	// CallerAmount is the public amount attributed to the caller's
	// ledger row: the new price when leading, their own ceiling when outbid.
	CallerAmount decimal.Decimal
}

// sortBids orders a ledger snapshot by max bid descending, ties broken
// by earliest first-bid time.
func sortBids(bids []models.Bid) {
	sort.Slice(bids, func(i, j int) bool {
		if bids[i].MaxBidAmount.Equal(bids[j].MaxBidAmount) {
			return bids[i].CreatedAt.Before(bids[j].CreatedAt)
		}
		return bids[i].MaxBidAmount.GreaterThan(bids[j].MaxBidAmount)
	})
}

// resolve runs proxy arbitration: given the auction, its full bid
// ledger, and the caller's (already validated) max bid, it computes the
// new public price and the leading bidder. Pure; the caller owns the
// transaction around it.
func resolve(a *models.Auction, bids []models.Bid, bidderID uuid.UUID, maxBid decimal.Decimal, now time.Time) outcome {
	sortBids(bids)

	// Partition the ledger into the caller's existing row and the
	// highest bid among everyone else.
	var own *models.Bid
	var competing *models.Bid
	for i := range bids {
		if bids[i].BidderID == bidderID {
			own = &bids[i]
		} else if competing == nil {
			competing = &bids[i]
		}
	}

	// A raise never lowers a ceiling the bidder already committed to.
	if own != nil && own.MaxBidAmount.GreaterThan(maxBid) {
		maxBid = own.MaxBidAmount
	}

	out := outcome{FirstBid: own == nil}

	switch {
	case competing == nil && own == nil:
		// First bid on the auction: open at the starting bid, or the
		// base increment when the auction starts at zero.
		out.LeaderID = bidderID
		if a.StartingBid.IsPositive() {
			out.NewCurrentBid = a.StartingBid
		} else {
			out.NewCurrentBid = Increment(decimal.Zero)
		}

	case competing == nil:
		// Caller raising their own ceiling unopposed: nothing to bid
		// against, the public price stays where it is.
		out.LeaderID = bidderID
		out.NewCurrentBid = a.CurrentBid

	case maxBid.GreaterThan(competing.MaxBidAmount):
		// Caller takes the lead: pay one increment over the runner-up's
		// ceiling, clamped to the caller's own.
		out.LeaderID = bidderID
		out.NewCurrentBid = competing.MaxBidAmount.Add(Increment(competing.MaxBidAmount))
		if out.NewCurrentBid.GreaterThan(maxBid) {
			out.NewCurrentBid = maxBid
		}

	case maxBid.Equal(competing.MaxBidAmount):
		// Exact tie on ceilings: the earlier first bid wins, at the tied
		// value itself.
		callerSince := now
		if own != nil {
			callerSince = own.CreatedAt
		}
		if callerSince.Before(competing.CreatedAt) {
			out.LeaderID = bidderID
		} else {
			out.LeaderID = competing.BidderID
		}
		out.NewCurrentBid = maxBid

	default:
		// Caller's ceiling is below the standing leader's: the leader is
		// retained and the price moves to one increment over the caller's
		// ceiling, clamped to what the leader actually offered.
		out.LeaderID = competing.BidderID
		out.NewCurrentBid = maxBid.Add(Increment(maxBid))
		if out.NewCurrentBid.GreaterThan(competing.MaxBidAmount) {
			out.NewCurrentBid = competing.MaxBidAmount
		}
	}

	if out.LeaderID == bidderID {
		out.CallerAmount = out.NewCurrentBid
	} else {
		out.CallerAmount = maxBid
	}
	return out
}
