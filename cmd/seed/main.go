package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vs-webmaster/vintstreet-sub005/internal/config"
	"github.com/vs-webmaster/vintstreet-sub005/internal/db"
	"github.com/vs-webmaster/vintstreet-sub005/internal/models"
)

// bcrypt hash of "password"
const seedPasswordHash = "$2a$10$XLhV7TU4dIvHO1d9UKgoT.Kt1XCYIbLV4LkQqmXGtN6VBnsmgS.G."

// Seed the database with test data
func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(ctx)

	// First check if we already have auctions
	var count int
	if err := database.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM auctions").Scan(&count); err != nil {
		log.Fatalf("Failed to check auctions: %v", err)
	}
	if count > 0 {
		fmt.Printf("Database already has %d auctions. No need to seed.\n", count)
		os.Exit(0)
	}

	seller := ensureUser(ctx, database, "seller1", "", "acct_seed_seller")
	// buyer1 can settle automatically, buyer2 exercises the manual
	// payment path.
	ensureUser(ctx, database, "buyer1", "pm_seed_card_visa", "")
	ensureUser(ctx, database, "buyer2", "", "")

	// A fresh auction with a reserve, open for two days
	listing1, err := database.CreateListing(ctx, &models.Listing{
		SellerID: seller,
		Title:    "1970s Omega Seamaster",
		Status:   models.ListingPublished,
	})
	if err != nil {
		log.Fatalf("Failed to create listing 1: %v", err)
	}
	_, err = database.CreateAuction(ctx, &models.Auction{
		ListingID:    listing1.ID,
		StartingBid:  decimal.NewFromInt(50),
		ReservePrice: decimal.NewFromInt(200),
		Status:       models.AuctionActive,
		EndTime:      time.Now().Add(48 * time.Hour),
	})
	if err != nil {
		log.Fatalf("Failed to create auction 1: %v", err)
	}

	// A no-reserve auction about to expire, for exercising settlement
	listing2, err := database.CreateListing(ctx, &models.Listing{
		SellerID: seller,
		Title:    "Vintage denim jacket",
		Status:   models.ListingPublished,
	})
	if err != nil {
		log.Fatalf("Failed to create listing 2: %v", err)
	}
	_, err = database.CreateAuction(ctx, &models.Auction{
		ListingID:    listing2.ID,
		StartingBid:  decimal.Zero,
		ReservePrice: decimal.Zero,
		Status:       models.AuctionActive,
		EndTime:      time.Now().Add(2 * time.Minute),
	})
	if err != nil {
		log.Fatalf("Failed to create auction 2: %v", err)
	}

	fmt.Println("Successfully seeded the database with test auctions!")
}

// ensureUser creates the user if missing and returns its id
func ensureUser(ctx context.Context, database *db.DB, username, paymentRef, payoutRef string) uuid.UUID {
	var id uuid.UUID
	err := database.Pool.QueryRow(ctx, "SELECT id FROM users WHERE username = $1", username).Scan(&id)
	if err == nil {
		return id
	}

	err = database.Pool.QueryRow(ctx, `
		INSERT INTO users (username, password_hash, payment_method_ref, payout_account_ref)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, username, seedPasswordHash, paymentRef, payoutRef).Scan(&id)
	if err != nil {
		log.Fatalf("Failed to create user %s: %v", username, err)
	}
	return id
}
