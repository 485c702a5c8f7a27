package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vs-webmaster/vintstreet-sub005/internal/models"
	"github.com/vs-webmaster/vintstreet-sub005/internal/notify"
	"github.com/vs-webmaster/vintstreet-sub005/internal/payments"
)

// Store is the durable state the settlement job reads and writes.
// *db.DB satisfies it.
type Store interface {
	ListExpiredActive(ctx context.Context, now time.Time) ([]models.Auction, error)
	HighestBid(ctx context.Context, auctionID uuid.UUID) (*models.Bid, error)
	GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	MarkEnded(ctx context.Context, auctionID uuid.UUID) (bool, error)
	CompleteAuction(ctx context.Context, auctionID, winnerID uuid.UUID) error
	CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	SetListingStatus(ctx context.Context, id uuid.UUID, status string) error
}

// Job settles expired auctions: it determines winners, drives payment
// through the split gateway, and transitions auction and listing state.
// Safe to invoke repeatedly; the active->ended transition claims each
// auction exactly once.
type Job struct {
	store       Store
	gateway     payments.Gateway
	notifier    notify.Notifier
	feeFraction decimal.Decimal
	currency    string
}

// NewJob creates a settlement job
func NewJob(store Store, gateway payments.Gateway, notifier notify.Notifier, feeFraction decimal.Decimal, currency string) *Job {
	return &Job{
		store:       store,
		gateway:     gateway,
		notifier:    notifier,
		feeFraction: feeFraction,
		currency:    currency,
	}
}

// ProcessExpired settles every active auction past its end time. One
// auction failing never aborts the batch; its result carries the error
// and the loop continues.
func (j *Job) ProcessExpired(ctx context.Context, now time.Time) ([]models.SettlementResult, error) {
	expired, err := j.store.ListExpiredActive(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to scan expired auctions: %w", err)
	}

	results := make([]models.SettlementResult, 0, len(expired))
	for i := range expired {
		auction := &expired[i]

		claimed, err := j.store.MarkEnded(ctx, auction.ID)
		if err != nil {
			log.WithFields(log.Fields{"auction_id": auction.ID, "error": err}).Error("failed to claim auction for settlement")
			// The claim never happened, so the auction is still active
			// and the next pass will pick it up.
			results = append(results, models.SettlementResult{
				AuctionID: auction.ID,
				ListingID: auction.ListingID,
				Status:    models.AuctionActive,
				Err:       err.Error(),
			})
			continue
		}
		if !claimed {
			// Another settlement pass got here first.
			log.WithField("auction_id", auction.ID).Info("auction already claimed, skipping")
			continue
		}

		results = append(results, j.settleOne(ctx, auction))
	}
	return results, nil
}

// settleOne resolves a single claimed auction. The auction is already
// in ended state; this decides whether it progresses to completed.
func (j *Job) settleOne(ctx context.Context, auction *models.Auction) models.SettlementResult {
	res := models.SettlementResult{
		AuctionID: auction.ID,
		ListingID: auction.ListingID,
		Status:    models.AuctionEnded,
	}
	logger := log.WithField("auction_id", auction.ID)

	listing, err := j.store.GetListing(ctx, auction.ListingID)
	if err != nil {
		logger.WithField("error", err).Error("failed to load listing for settlement")
		res.Err = err.Error()
		return res
	}

	highest, err := j.store.HighestBid(ctx, auction.ID)
	if err != nil {
		logger.WithField("error", err).Error("failed to load highest bid")
		res.Err = err.Error()
		return res
	}

	// reserve_met is a cached projection and may be stale; the live
	// comparison against the winning amount is authoritative.
	hasWinner := highest != nil &&
		(auction.ReserveMet || highest.BidAmount.GreaterThanOrEqual(auction.ReservePrice))

	if !hasWinner {
		// No sale: the listing stays published for relisting.
		j.send(ctx, listing.SellerID, notify.KindAuctionNoSale, map[string]any{
			"auction_id": auction.ID,
			"listing_id": listing.ID,
		})
		logger.Info("auction ended without a winner")
		return res
	}

	winner, err := j.store.GetUser(ctx, highest.BidderID)
	if err != nil {
		logger.WithField("error", err).Error("failed to load winner")
		res.Err = err.Error()
		return res
	}
	res.WinnerID = &winner.ID

	if winner.PaymentMethodRef == "" {
		// Nothing to charge against; hand off to the manual payment path.
		j.send(ctx, winner.ID, notify.KindPaymentActionRequired, map[string]any{
			"auction_id": auction.ID,
			"amount":     highest.BidAmount,
		})
		logger.WithField("winner_id", winner.ID).Warn("winner has no stored payment method")
		return res
	}

	seller, err := j.store.GetUser(ctx, listing.SellerID)
	if err != nil {
		logger.WithField("error", err).Error("failed to load seller")
		res.Err = err.Error()
		return res
	}

	conf, err := j.gateway.Charge(ctx, payments.SplitCharge{
		Amount:                 highest.BidAmount,
		Currency:               j.currency,
		BuyerPaymentMethodRef:  winner.PaymentMethodRef,
		SellerPayoutAccountRef: seller.PayoutAccountRef,
		PlatformFeeFraction:    j.feeFraction,
	})
	if err != nil {
		// Card failures need the winner's intervention; no automated
		// retry. The auction stays ended for manual resolution.
		logger.WithFields(log.Fields{"winner_id": winner.ID, "error": err}).Warn("payment failed, leaving auction for manual resolution")
		j.send(ctx, winner.ID, notify.KindPaymentActionRequired, map[string]any{
			"auction_id": auction.ID,
			"amount":     highest.BidAmount,
			"reason":     err.Error(),
		})
		res.Err = err.Error()
		return res
	}

	fee := highest.BidAmount.Mul(j.feeFraction).Round(2)
	if _, err := j.store.CreateOrder(ctx, &models.Order{
		AuctionID:   auction.ID,
		ListingID:   listing.ID,
		BuyerID:     winner.ID,
		SellerID:    seller.ID,
		Amount:      highest.BidAmount,
		PlatformFee: fee,
		Status:      models.OrderPaidAwaitingShipment,
		PaymentRef:  conf.TransactionID,
	}); err != nil {
		logger.WithField("error", err).Error("payment captured but order creation failed")
		res.Err = err.Error()
		return res
	}

	if err := j.store.CompleteAuction(ctx, auction.ID, winner.ID); err != nil {
		logger.WithField("error", err).Error("failed to complete auction")
		res.Err = err.Error()
		return res
	}
	if err := j.store.SetListingStatus(ctx, listing.ID, models.ListingSold); err != nil {
		logger.WithField("error", err).Error("failed to mark listing sold")
		res.Err = err.Error()
		return res
	}

	j.send(ctx, winner.ID, notify.KindAuctionWon, map[string]any{
		"auction_id": auction.ID,
		"listing_id": listing.ID,
		"amount":     highest.BidAmount,
	})
	j.send(ctx, seller.ID, notify.KindAuctionSold, map[string]any{
		"auction_id": auction.ID,
		"listing_id": listing.ID,
		"amount":     highest.BidAmount,
		"fee":        fee,
	})

	logger.WithFields(log.Fields{
		"winner_id": winner.ID,
		"amount":    highest.BidAmount,
	}).Info("auction settled")

	res.Status = models.AuctionCompleted
	res.PaymentProcessed = true
	return res
}

// send dispatches a notification and logs failures without failing the
// settlement.
func (j *Job) send(ctx context.Context, recipientID uuid.UUID, kind string, payload map[string]any) {
	if err := j.notifier.Notify(ctx, recipientID, kind, payload); err != nil {
		log.WithFields(log.Fields{"recipient_id": recipientID, "kind": kind, "error": err}).Error("failed to dispatch notification")
	}
}
