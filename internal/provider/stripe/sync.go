package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/fathomhq/fathom/internal/core"
)

// pageSize is the Stripe list page cap.
const pageSize = "100"

// Charge is one payment, amounts in the smallest currency unit.
type Charge struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Created  int64  `json:"created"`
}

// Payout is one transfer to the connected bank account.
type Payout struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	ArrivalDate int64  `json:"arrival_date"`
}

// SyncResult is the payment snapshot persisted after a sync.
type SyncResult struct {
	AccountID     string   `json:"accountId"`
	Charges       []Charge `json:"charges"`
	Payouts       []Payout `json:"payouts"`
	GrossVolume   int64    `json:"grossVolume"`
	PayoutVolume  int64    `json:"payoutVolume"`
	ChargeCount   int      `json:"chargeCount"`
	SucceededOnly int      `json:"succeededCharges"`
}

// Sync pulls the account, recent charges and recent payouts in
// parallel.
func (a *Adapter) Sync(ctx context.Context, conn *core.Connection) (any, error) {
	apiKey := conn.AuthData.String(core.AuthKeyAPIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: connection has no api key", core.ErrReauthRequired)
	}

	result := &SyncResult{}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		acct, err := a.fetchAccount(ctx, apiKey)
		if err != nil {
			return fmt.Errorf("fetch account: %w", err)
		}
		mu.Lock()
		result.AccountID = acct.ID
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		charges, err := a.listCharges(ctx, apiKey)
		if err != nil {
			return fmt.Errorf("list charges: %w", err)
		}
		mu.Lock()
		result.Charges = charges
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		payouts, err := a.listPayouts(ctx, apiKey)
		if err != nil {
			return fmt.Errorf("list payouts: %w", err)
		}
		mu.Lock()
		result.Payouts = payouts
		mu.Unlock()
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, c := range result.Charges {
		result.ChargeCount++
		if c.Status == "succeeded" {
			result.SucceededOnly++
			result.GrossVolume += c.Amount
		}
	}
	for _, p := range result.Payouts {
		result.PayoutVolume += p.Amount
	}
	return result, nil
}

func (a *Adapter) listCharges(ctx context.Context, apiKey string) ([]Charge, error) {
	body, err := a.get(ctx, apiKey, "/v1/charges", url.Values{"limit": {pageSize}})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []Charge `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode charges: %v", core.ErrUpstream, err)
	}
	return resp.Data, nil
}

func (a *Adapter) listPayouts(ctx context.Context, apiKey string) ([]Payout, error) {
	body, err := a.get(ctx, apiKey, "/v1/payouts", url.Values{"limit": {pageSize}})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []Payout `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode payouts: %v", core.ErrUpstream, err)
	}
	return resp.Data, nil
}
