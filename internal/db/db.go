package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vs-webmaster/vintstreet-sub005/internal/models"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO users (username, password_hash) VALUES ($1, $2)
		RETURNING id, username, password_hash, payment_method_ref, payout_account_ref, created_at
	`, username, passwordHash).Scan(
		&user.ID, &user.Username, &user.PasswordHash, &user.PaymentMethodRef, &user.PayoutAccountRef, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx, `
		SELECT id, username, password_hash, payment_method_ref, payout_account_ref, created_at
		FROM users WHERE username = $1
	`, username).Scan(
		&user.ID, &user.Username, &user.PasswordHash, &user.PaymentMethodRef, &user.PayoutAccountRef, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUser retrieves a user by id
func (db *DB) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx, `
		SELECT id, username, password_hash, payment_method_ref, payout_account_ref, created_at
		FROM users WHERE id = $1
	`, id).Scan(
		&user.ID, &user.Username, &user.PasswordHash, &user.PaymentMethodRef, &user.PayoutAccountRef, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// CreateListing inserts a new listing
func (db *DB) CreateListing(ctx context.Context, listing *models.Listing) (*models.Listing, error) {
	created := &models.Listing{}
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO listings (seller_id, title, status) VALUES ($1, $2, $3)
		RETURNING id, seller_id, title, status, created_at
	`, listing.SellerID, listing.Title, listing.Status).Scan(
		&created.ID, &created.SellerID, &created.Title, &created.Status, &created.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create listing: %w", err)
	}
	return created, nil
}

// GetListing retrieves a listing by id
func (db *DB) GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	listing := &models.Listing{}
	err := db.Pool.QueryRow(ctx, `
		SELECT id, seller_id, title, status, created_at FROM listings WHERE id = $1
	`, id).Scan(&listing.ID, &listing.SellerID, &listing.Title, &listing.Status, &listing.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return listing, nil
}

// SetListingStatus updates a listing's status
func (db *DB) SetListingStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := db.Pool.Exec(ctx, "UPDATE listings SET status = $1 WHERE id = $2", status, id)
	if err != nil {
		return fmt.Errorf("failed to update listing status: %w", err)
	}
	return nil
}

// CreateAuction inserts a new auction for a listing
func (db *DB) CreateAuction(ctx context.Context, auction *models.Auction) (*models.Auction, error) {
	if !auction.StartingBid.IsPositive() && !auction.StartingBid.IsZero() {
		return nil, fmt.Errorf("starting bid must not be negative")
	}
	if auction.ReservePrice.IsNegative() {
		return nil, fmt.Errorf("reserve price must not be negative")
	}

	created := &models.Auction{}
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO auctions (listing_id, starting_bid, reserve_price, current_bid, status, end_time)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, listing_id, starting_bid, reserve_price, current_bid, bid_count, reserve_met, status, end_time, winner_id, created_at
	`, auction.ListingID, auction.StartingBid, auction.ReservePrice, auction.StartingBid, auction.Status, auction.EndTime).Scan(
		&created.ID, &created.ListingID, &created.StartingBid, &created.ReservePrice,
		&created.CurrentBid, &created.BidCount, &created.ReserveMet, &created.Status,
		&created.EndTime, &created.WinnerID, &created.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create auction: %w", err)
	}
	return created, nil
}

// GetAuction retrieves an auction by id
func (db *DB) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	auction := &models.Auction{}
	err := db.Pool.QueryRow(ctx, `
		SELECT id, listing_id, starting_bid, reserve_price, current_bid, bid_count, reserve_met, status, end_time, winner_id, created_at
		FROM auctions WHERE id = $1
	`, id).Scan(
		&auction.ID, &auction.ListingID, &auction.StartingBid, &auction.ReservePrice,
		&auction.CurrentBid, &auction.BidCount, &auction.ReserveMet, &auction.Status,
		&auction.EndTime, &auction.WinnerID, &auction.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return auction, nil
}

// ListActiveAuctions retrieves all auctions currently open for bidding
func (db *DB) ListActiveAuctions(ctx context.Context) ([]models.Auction, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, listing_id, starting_bid, reserve_price, current_bid, bid_count, reserve_met, status, end_time, winner_id, created_at
		FROM auctions
		WHERE status = 'active'
		ORDER BY end_time ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list auctions: %w", err)
	}
	defer rows.Close()

	return scanAuctions(rows)
}

// ListExpiredActive retrieves auctions still active whose end time has
// passed; these are the settlement job's work queue.
func (db *DB) ListExpiredActive(ctx context.Context, now time.Time) ([]models.Auction, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, listing_id, starting_bid, reserve_price, current_bid, bid_count, reserve_met, status, end_time, winner_id, created_at
		FROM auctions
		WHERE status = 'active' AND end_time < $1
		ORDER BY end_time ASC
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired auctions: %w", err)
	}
	defer rows.Close()

	return scanAuctions(rows)
}

func scanAuctions(rows pgx.Rows) ([]models.Auction, error) {
	var auctions []models.Auction
	for rows.Next() {
		var a models.Auction
		err := rows.Scan(
			&a.ID, &a.ListingID, &a.StartingBid, &a.ReservePrice,
			&a.CurrentBid, &a.BidCount, &a.ReserveMet, &a.Status,
			&a.EndTime, &a.WinnerID, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auction: %w", err)
		}
		auctions = append(auctions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return auctions, nil
}

// GetAuctionBids retrieves the full ledger for one auction, highest
// ceiling first, ties by earliest first bid.
func (db *DB) GetAuctionBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, auction_id, bidder_id, bid_amount, max_bid_amount, created_at
		FROM bids
		WHERE auction_id = $1
		ORDER BY max_bid_amount DESC, created_at ASC
	`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get bids: %w", err)
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

// HighestBid retrieves the winning public bid for one auction, or nil
// when the auction has no bids. Ordering matches the arbitration
// tie-break so a tied ledger resolves to the same bidder.
func (db *DB) HighestBid(ctx context.Context, auctionID uuid.UUID) (*models.Bid, error) {
	bid := &models.Bid{}
	err := db.Pool.QueryRow(ctx, `
		SELECT id, auction_id, bidder_id, bid_amount, max_bid_amount, created_at
		FROM bids
		WHERE auction_id = $1
		ORDER BY bid_amount DESC, created_at ASC
		LIMIT 1
	`, auctionID).Scan(&bid.ID, &bid.AuctionID, &bid.BidderID, &bid.BidAmount, &bid.MaxBidAmount, &bid.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get highest bid: %w", err)
	}
	return bid, nil
}

// MarkEnded transitions an auction from active to ended. Returns false
// when the auction was not active anymore, which is how a second
// settlement pass discovers the auction is already claimed.
func (db *DB) MarkEnded(ctx context.Context, auctionID uuid.UUID) (bool, error) {
	tag, err := db.Pool.Exec(ctx,
		"UPDATE auctions SET status = 'ended' WHERE id = $1 AND status = 'active'", auctionID)
	if err != nil {
		return false, fmt.Errorf("failed to mark auction ended: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteAuction transitions an ended auction to completed with its winner
func (db *DB) CompleteAuction(ctx context.Context, auctionID, winnerID uuid.UUID) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE auctions SET status = 'completed', winner_id = $1
		WHERE id = $2 AND status = 'ended'
	`, winnerID, auctionID)
	if err != nil {
		return fmt.Errorf("failed to complete auction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("auction not in ended state")
	}
	return nil
}

// CreateOrder inserts the order for a settled auction. The unique
// constraint on auction_id is the backstop against double settlement.
func (db *DB) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	created := &models.Order{}
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO orders (auction_id, listing_id, buyer_id, seller_id, amount, platform_fee, status, payment_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, auction_id, listing_id, buyer_id, seller_id, amount, platform_fee, status, payment_ref, created_at
	`, order.AuctionID, order.ListingID, order.BuyerID, order.SellerID,
		order.Amount, order.PlatformFee, order.Status, order.PaymentRef).Scan(
		&created.ID, &created.AuctionID, &created.ListingID, &created.BuyerID, &created.SellerID,
		&created.Amount, &created.PlatformFee, &created.Status, &created.PaymentRef, &created.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return created, nil
}
