package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vs-webmaster/vintstreet-sub005/internal/auth"
	"github.com/vs-webmaster/vintstreet-sub005/internal/bidding"
	"github.com/vs-webmaster/vintstreet-sub005/internal/db"
	"github.com/vs-webmaster/vintstreet-sub005/internal/models"
	"github.com/vs-webmaster/vintstreet-sub005/internal/settlement"
)

type ctxKey string

const userIDKey ctxKey = "user_id"

// Handler contains dependencies for HTTP handlers
type Handler struct {
	DB          *db.DB
	Bids        *bidding.Service
	Settler     *settlement.Job
	AuthService *auth.AuthService
	Hub         *Hub
}

// NewHandler creates a new handler
func NewHandler(database *db.DB, bids *bidding.Service, settler *settlement.Job, authService *auth.AuthService, hub *Hub) *Handler {
	return &Handler{DB: database, Bids: bids, Settler: settler, AuthService: authService, Hub: hub}
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, `{"error": "Username and password required"}`, http.StatusBadRequest)
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, `{"error": "Failed to register user"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, `{"error": "Invalid credentials"}`, http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			http.Error(w, `{"error": "Authorization header required"}`, http.StatusUnauthorized)
			return
		}

		// Remove "Bearer " prefix if present
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		userID, err := h.AuthService.GetUserFromToken(tokenString)
		if err != nil {
			http.Error(w, `{"error": "Invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bidResponse is the bid submission reply shape
type bidResponse struct {
	Success    bool             `json:"success"`
	CurrentBid *decimal.Decimal `json:"current_bid,omitempty"`
	IsLeading  *bool            `json:"is_leading,omitempty"`
	ReserveMet *bool            `json:"reserve_met,omitempty"`
	MinimumBid *decimal.Decimal `json:"minimum_bid,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// PlaceBid handles proxy bid submission and arbitration
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(userIDKey).(uuid.UUID)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	auctionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, `{"error": "Invalid auction ID"}`, http.StatusBadRequest)
		return
	}

	var req struct {
		MaxBid decimal.Decimal `json:"max_bid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	result, err := h.Bids.PlaceBid(r.Context(), auctionID, userID, req.MaxBid)
	if err != nil {
		h.writeBidError(w, err)
		return
	}

	// Push the new price to auction watchers.
	h.Hub.BroadcastAuction(AuctionUpdate{
		AuctionID:  auctionID,
		CurrentBid: result.CurrentBid,
		BidCount:   result.BidCount,
		ReserveMet: result.ReserveMet,
		Status:     "active",
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(bidResponse{
		Success:    true,
		CurrentBid: &result.CurrentBid,
		IsLeading:  &result.IsLeading,
		ReserveMet: &result.ReserveMet,
	})
}

// writeBidError maps each rejection class to its own status code.
// Business rejections are final; only contention invites a retry of the
// same request.
func (h *Handler) writeBidError(w http.ResponseWriter, err error) {
	var tooLow *bidding.BidTooLowError

	var status int
	resp := bidResponse{Success: false, Error: err.Error()}

	switch {
	case errors.Is(err, bidding.ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, bidding.ErrAuctionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, bidding.ErrAuctionClosed):
		status = http.StatusGone
	case errors.Is(err, bidding.ErrSelfBid):
		status = http.StatusForbidden
	case errors.As(err, &tooLow):
		status = http.StatusUnprocessableEntity
		resp.MinimumBid = &tooLow.Minimum
	case errors.Is(err, bidding.ErrContention):
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", "1")
	default:
		log.WithField("error", err).Error("bid placement failed")
		status = http.StatusInternalServerError
		resp.Error = "Failed to place bid"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// ListAuctions retrieves all auctions open for bidding
func (h *Handler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	auctions, err := h.DB.ListActiveAuctions(r.Context())
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve auctions"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(auctions)
}

// GetAuction retrieves one auction's public state
func (h *Handler) GetAuction(w http.ResponseWriter, r *http.Request) {
	auctionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, `{"error": "Invalid auction ID"}`, http.StatusBadRequest)
		return
	}

	auction, err := h.DB.GetAuction(r.Context(), auctionID)
	if err != nil {
		http.Error(w, `{"error": "Auction not found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(auction)
}

// RunSettlement triggers a settlement pass over expired auctions and
// returns the per-auction outcomes.
func (h *Handler) RunSettlement(w http.ResponseWriter, r *http.Request) {
	results, err := h.Settler.ProcessExpired(r.Context(), time.Now())
	if err != nil {
		log.WithField("error", err).Error("settlement run failed")
		http.Error(w, `{"error": "Settlement run failed"}`, http.StatusInternalServerError)
		return
	}

	h.BroadcastSettled(r.Context(), results)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"processed": len(results),
		"results":   results,
	})
}

// BroadcastActive pushes the current state of every active auction to
// connected watchers. The server runs this on a fixed cadence so a
// client watching a quiet auction still receives frames.
func (h *Handler) BroadcastActive(ctx context.Context) {
	auctions, err := h.DB.ListActiveAuctions(ctx)
	if err != nil {
		log.WithField("error", err).Error("failed to scan auctions for broadcast")
		return
	}
	for i := range auctions {
		a := &auctions[i]
		h.Hub.BroadcastAuction(AuctionUpdate{
			AuctionID:  a.ID,
			CurrentBid: a.CurrentBid,
			BidCount:   a.BidCount,
			ReserveMet: a.ReserveMet,
			Status:     a.Status,
		})
	}
}

// BroadcastSettled pushes the final state of each auction a settlement
// pass just transitioned, so watchers see ended and completed statuses
// without polling.
func (h *Handler) BroadcastSettled(ctx context.Context, results []models.SettlementResult) {
	for _, res := range results {
		auction, err := h.DB.GetAuction(ctx, res.AuctionID)
		if err != nil {
			log.WithFields(log.Fields{"auction_id": res.AuctionID, "error": err}).Error("failed to load settled auction for broadcast")
			continue
		}
		h.Hub.BroadcastAuction(AuctionUpdate{
			AuctionID:  auction.ID,
			CurrentBid: auction.CurrentBid,
			BidCount:   auction.BidCount,
			ReserveMet: auction.ReserveMet,
			Status:     auction.Status,
		})
	}
}
