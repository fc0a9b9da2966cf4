package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/fathomhq/fathom/internal/core"
	"github.com/fathomhq/fathom/internal/provider"
)

// SyncResult is the store snapshot persisted after a sync.
type SyncResult struct {
	Shop      string `json:"shop"`
	Orders    int64  `json:"orders"`
	Customers int64  `json:"customers"`
	Products  int64  `json:"products"`
}

// Sync counts the store's orders, customers and products in
// parallel.
func (a *Adapter) Sync(ctx context.Context, conn *core.Connection) (any, error) {
	shop := conn.AuthData.String(core.AuthKeyShopDomain)
	if shop == "" {
		return nil, fmt.Errorf("%w: connection has no shop domain", core.ErrReauthRequired)
	}
	accessToken := conn.AuthData.AccessToken()
	if accessToken == "" {
		return nil, fmt.Errorf("%w: connection has no access token", core.ErrReauthRequired)
	}

	result := &SyncResult{Shop: shop}
	var mu sync.Mutex

	counts := map[string]*int64{
		"orders":    &result.Orders,
		"customers": &result.Customers,
		"products":  &result.Products,
	}

	g, ctx := errgroup.WithContext(ctx)
	for resource, dst := range counts {
		g.Go(func() error {
			n, err := a.count(ctx, shop, accessToken, resource)
			if err != nil {
				return fmt.Errorf("count %s: %w", resource, err)
			}
			mu.Lock()
			*dst = n
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (a *Adapter) count(ctx context.Context, shop, accessToken, resource string) (int64, error) {
	u := fmt.Sprintf("%s/admin/api/%s/%s/count.json", a.shopBaseURL(shop), apiVersion, resource)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("X-Shopify-Access-Token", accessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("%w: read response: %v", core.ErrUpstream, err)
	}
	if err := provider.TranslateStatus(resp.StatusCode, string(body)); err != nil {
		return 0, err
	}

	var out struct {
		Count int64 `json:"count"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("%w: decode count: %v", core.ErrUpstream, err)
	}
	return out.Count, nil
}
