package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Typed gateway failures. ErrChargeDeclined and friends are terminal
// for automated settlement; the job hands them to a human instead of
// retrying.
var (
	ErrNoPaymentMethod     = errors.New("buyer has no payment method on file")
	ErrChargeDeclined      = errors.New("charge declined")
	ErrDestinationNotReady = errors.New("seller payout account not ready")
)

// SplitCharge asks the processor to charge the buyer and split the
// proceeds between platform and seller.
type SplitCharge struct {
	Amount                 decimal.Decimal `json:"amount"`
	Currency               string          `json:"currency"`
	BuyerPaymentMethodRef  string          `json:"buyer_payment_method_ref"`
	SellerPayoutAccountRef string          `json:"seller_payout_account_ref"`
	PlatformFeeFraction    decimal.Decimal `json:"platform_fee_fraction"`
}

// Confirmation is the processor's acknowledgement of a captured charge
type Confirmation struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

// Gateway is the payment split processor as the settlement job sees it
type Gateway interface {
	Charge(ctx context.Context, req SplitCharge) (*Confirmation, error)
}

// HTTPGateway talks to the external payment processor over HTTP
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGateway creates a gateway client for the given processor URL
func NewHTTPGateway(baseURL string) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Charge submits a split charge and maps the processor's status to the
// typed failures above.
func (g *HTTPGateway) Charge(ctx context.Context, req SplitCharge) (*Confirmation, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode charge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/split-payments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build charge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("payment processor unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("payment processor returned %s", resp.Status)
	}

	var conf Confirmation
	if err := json.NewDecoder(resp.Body).Decode(&conf); err != nil {
		return nil, fmt.Errorf("failed to decode charge response: %w", err)
	}

	switch conf.Status {
	case "approved":
		return &conf, nil
	case "declined":
		return nil, ErrChargeDeclined
	case "no_payment_method":
		return nil, ErrNoPaymentMethod
	case "destination_not_ready":
		return nil, ErrDestinationNotReady
	default:
		return nil, fmt.Errorf("unexpected charge status %q", conf.Status)
	}
}
