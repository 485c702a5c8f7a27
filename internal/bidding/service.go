package bidding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/vs-webmaster/vintstreet-sub005/internal/db"
	"github.com/vs-webmaster/vintstreet-sub005/internal/models"
)

// pgLockNotAvailable is raised when lock_timeout expires while waiting
// on the auction row.
const pgLockNotAvailable = "55P03"

// Result is the arbitration outcome reported back to the bidder.
type Result struct {
	CurrentBid decimal.Decimal
	IsLeading  bool
	ReserveMet bool
	BidCount   int
	FirstBid   bool
}

// Service arbitrates proxy bids against the durable ledger. Every call
// re-reads auction and bids inside one transaction under a row lock on
// the auction, so two concurrent bids on the same auction serialize.
type Service struct {
	db          *db.DB
	lockTimeout time.Duration
}

// NewService creates a bidding service
func NewService(database *db.DB) *Service {
	return &Service{db: database, lockTimeout: 2 * time.Second}
}

// PlaceBid validates and arbitrates a max bid for one auction.
// It returns a typed error for every distinct rejection: ErrInvalidAmount,
// ErrAuctionNotFound, ErrAuctionClosed, ErrSelfBid, *BidTooLowError
// (carrying the minimum acceptable bid) and ErrContention when the
// auction row lock could not be acquired promptly.
func (s *Service) PlaceBid(ctx context.Context, auctionID, bidderID uuid.UUID, maxBid decimal.Decimal) (*Result, error) {
	if !maxBid.IsPositive() {
		return nil, ErrInvalidAmount
	}

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Bound the wait on the auction row so contention surfaces as a
	// retryable error instead of a stalled request.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return nil, fmt.Errorf("failed to set lock timeout: %w", err)
	}

	auction := &models.Auction{}
	err = tx.QueryRow(ctx, `
		SELECT id, listing_id, starting_bid, reserve_price, current_bid, bid_count, reserve_met, status, end_time, winner_id, created_at
		FROM auctions
		WHERE id = $1
		FOR UPDATE
	`, auctionID).Scan(
		&auction.ID, &auction.ListingID, &auction.StartingBid, &auction.ReservePrice,
		&auction.CurrentBid, &auction.BidCount, &auction.ReserveMet, &auction.Status,
		&auction.EndTime, &auction.WinnerID, &auction.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAuctionNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
			return nil, ErrContention
		}
		return nil, fmt.Errorf("failed to load auction: %w", err)
	}

	now := time.Now()
	if auction.Status != models.AuctionActive || !now.Before(auction.EndTime) {
		return nil, ErrAuctionClosed
	}

	var sellerID uuid.UUID
	if err := tx.QueryRow(ctx, "SELECT seller_id FROM listings WHERE id = $1", auction.ListingID).Scan(&sellerID); err != nil {
		return nil, fmt.Errorf("failed to load listing: %w", err)
	}
	if sellerID == bidderID {
		return nil, ErrSelfBid
	}

	if minimum := MinimumNextBid(auction); maxBid.LessThan(minimum) {
		return nil, &BidTooLowError{Minimum: minimum}
	}

	bids, err := scanBids(ctx, tx, auctionID)
	if err != nil {
		return nil, err
	}

	out := resolve(auction, bids, bidderID, maxBid, now)

	if out.FirstBid {
		_, err = tx.Exec(ctx, `
			INSERT INTO bids (auction_id, bidder_id, bid_amount, max_bid_amount)
			VALUES ($1, $2, $3, $4)
		`, auctionID, bidderID, out.CallerAmount, maxBid)
	} else {
		// Raises keep the higher of old and new ceilings; created_at is
		// never touched, which is what makes tie-breaks replayable.
		_, err = tx.Exec(ctx, `
			UPDATE bids
			SET max_bid_amount = GREATEST(max_bid_amount, $1), bid_amount = $2
			WHERE auction_id = $3 AND bidder_id = $4
		`, maxBid, out.CallerAmount, auctionID, bidderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upsert bid: %w", err)
	}

	// When the standing leader held off the caller, their public row
	// moves up to the new price so the ledger's highest bid_amount is
	// always the amount the leader has agreed to pay.
	if out.LeaderID != bidderID {
		_, err = tx.Exec(ctx, `
			UPDATE bids SET bid_amount = $1
			WHERE auction_id = $2 AND bidder_id = $3
		`, out.NewCurrentBid, auctionID, out.LeaderID)
		if err != nil {
			return nil, fmt.Errorf("failed to refresh leading bid: %w", err)
		}
	}

	bidCount := auction.BidCount
	if out.FirstBid {
		bidCount++
	}
	reserveMet := out.NewCurrentBid.GreaterThanOrEqual(auction.ReservePrice)

	_, err = tx.Exec(ctx, `
		UPDATE auctions SET current_bid = $1, bid_count = $2, reserve_met = $3
		WHERE id = $4
	`, out.NewCurrentBid, bidCount, reserveMet, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to update auction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &Result{
		CurrentBid: out.NewCurrentBid,
		IsLeading:  out.LeaderID == bidderID,
		ReserveMet: reserveMet,
		BidCount:   bidCount,
		FirstBid:   out.FirstBid,
	}, nil
}

// scanBids loads the full ledger for one auction inside the caller's
// transaction, highest ceiling first.
func scanBids(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID) ([]models.Bid, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, auction_id, bidder_id, bid_amount, max_bid_amount, created_at
		FROM bids
		WHERE auction_id = $1
		ORDER BY max_bid_amount DESC, created_at ASC
	`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load bids: %w", err)
	}
	defer rows.Close()

	var bids []models.Bid
	for rows.Next() {
		var b models.Bid
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.BidAmount, &b.MaxBidAmount, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bids, nil
}
