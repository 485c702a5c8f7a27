package bidding

import (
	"github.com/shopspring/decimal"

	"github.com/vs-webmaster/vintstreet-sub005/internal/models"
)

var (
	tier50  = decimal.NewFromInt(50)
	tier100 = decimal.NewFromInt(100)
	tier500 = decimal.NewFromInt(500)

	incOne  = decimal.NewFromInt(1)
	incTwo  = decimal.NewFromInt(2)
	incFive = decimal.NewFromInt(5)
	incTen  = decimal.NewFromInt(10)
)

// Increment returns the minimum amount by which a new bid must exceed
// the given public price. Pure; the ladder widens as the price climbs.
func Increment(current decimal.Decimal) decimal.Decimal {
	switch {
	case current.LessThan(tier50):
		return incOne
	case current.LessThan(tier100):
		return incTwo
	case current.LessThan(tier500):
		return incFive
	default:
		return incTen
	}
}

// MinimumNextBid returns the lowest max bid the auction will accept in
// its current state. Before any bids the floor is the starting bid, or
// the base increment when the auction starts at zero.
func MinimumNextBid(a *models.Auction) decimal.Decimal {
	if a.BidCount == 0 {
		if a.StartingBid.IsPositive() {
			return a.StartingBid
		}
		return Increment(decimal.Zero)
	}
	return a.CurrentBid.Add(Increment(a.CurrentBid))
}
