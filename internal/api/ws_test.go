package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vs-webmaster/vintstreet-sub005/internal/models"
)

func dialHub(t *testing.T) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(testHandler.Hub.HandleWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// Give the server a beat to register the connection in the hub.
	time.Sleep(100 * time.Millisecond)
	return conn
}

// waitForUpdate reads frames until one for the given auction arrives.
// Other tests' auctions share the feed and may be interleaved.
func waitForUpdate(t *testing.T, conn *websocket.Conn, auctionID uuid.UUID) AuctionUpdate {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var update AuctionUpdate
		require.NoError(t, conn.ReadJSON(&update))
		if update.AuctionID == auctionID {
			return update
		}
	}
}

// The periodic broadcast covers auctions with no incoming bids: a
// watcher still receives current state without any bid traffic.
func TestBroadcastActive_PushesQuietAuction(t *testing.T) {
	ctx := context.Background()
	sellerID, _ := registerAndLogin(t)
	conn := dialHub(t)

	auction := createAuction(t, sellerID, "10", "0", time.Hour)

	testHandler.BroadcastActive(ctx)

	update := waitForUpdate(t, conn, auction.ID)
	assert.True(t, update.CurrentBid.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 0, update.BidCount)
	assert.Equal(t, models.AuctionActive, update.Status)
}

// Settlement-driven status changes reach watchers through the settled
// broadcast rather than waiting for a poll.
func TestBroadcastSettled_PushesStatusChange(t *testing.T) {
	ctx := context.Background()
	sellerID, _ := registerAndLogin(t)
	conn := dialHub(t)

	// Already expired with no bids: settlement ends it without a sale.
	auction := createAuction(t, sellerID, "0", "0", -time.Minute)

	results, err := testHandler.Settler.ProcessExpired(ctx, time.Now())
	require.NoError(t, err)
	testHandler.BroadcastSettled(ctx, results)

	update := waitForUpdate(t, conn, auction.ID)
	assert.Equal(t, models.AuctionEnded, update.Status)
}
