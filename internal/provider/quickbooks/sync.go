package quickbooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/fathomhq/fathom/internal/core"
	"github.com/fathomhq/fathom/internal/report"
)

// minorVersion pins the QuickBooks API revision.
const minorVersion = "75"

// The report names pulled on every sync.
const (
	reportCashFlow      = "CashFlow"
	reportProfitAndLoss = "ProfitAndLoss"
	reportItemSales     = "ItemSales"
	reportBalanceSheet  = "BalanceSheet"
)

// Metrics is the normalized accounting snapshot persisted after a
// sync.
type Metrics struct {
	TotalIncome      float64 `json:"totalIncome"`
	TotalExpenses    float64 `json:"totalExpenses"`
	NetIncome        float64 `json:"netIncome"`
	GrossProfit      float64 `json:"grossProfit"`
	NetProfitMargin  float64 `json:"netProfitMargin"`
	TotalAssets      float64 `json:"totalAssets"`
	TotalLiabilities float64 `json:"totalLiabilities"`
	NetCashFlow      float64 `json:"netCashFlow"`
	TotalItemSales   float64 `json:"totalItemSales"`
}

// SyncResult bundles the normalized metrics with the raw report
// trees they came from.
type SyncResult struct {
	Metrics Metrics                 `json:"metrics"`
	Reports map[string]*report.Tree `json:"reports"`
}

// faultResponse is the envelope QuickBooks uses for API failures.
type faultResponse struct {
	Fault *struct {
		Error []struct {
			Code    string `json:"code"`
			Message string `json:"Message"`
			Detail  string `json:"Detail"`
		} `json:"Error"`
	} `json:"Fault"`
}

// Sync pulls four reports in parallel and normalizes them. Any
// single report failing fails the whole sync.
func (a *Adapter) Sync(ctx context.Context, conn *core.Connection) (any, error) {
	realmID := conn.AuthData.String(core.AuthKeyRealmID)
	if realmID == "" {
		return nil, fmt.Errorf("%w: connection has no realm id", core.ErrReauthRequired)
	}
	accessToken := conn.AuthData.AccessToken()
	if accessToken == "" {
		return nil, fmt.Errorf("%w: connection has no access token", core.ErrReauthRequired)
	}

	var mu sync.Mutex
	trees := make(map[string]*report.Tree, 4)

	g, ctx := errgroup.WithContext(ctx)
	for _, name := range []string{reportCashFlow, reportProfitAndLoss, reportItemSales, reportBalanceSheet} {
		g.Go(func() error {
			tree, err := a.fetchReport(ctx, realmID, accessToken, name)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", name, err)
			}
			mu.Lock()
			trees[name] = tree
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &SyncResult{
		Metrics: normalize(trees),
		Reports: trees,
	}, nil
}

func (a *Adapter) fetchReport(ctx context.Context, realmID, accessToken, name string) (*report.Tree, error) {
	u := fmt.Sprintf("%s/v3/company/%s/reports/%s?%s",
		a.apiBase, url.PathEscape(realmID), name,
		url.Values{"minorversion": {minorVersion}}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", core.ErrUpstream, err)
	}

	if err := translateFault(resp.StatusCode, body); err != nil {
		return nil, err
	}

	var tree report.Tree
	if err := json.Unmarshal(body, &tree); err != nil {
		return nil, fmt.Errorf("%w: decode report: %v", core.ErrUpstream, err)
	}
	return &tree, nil
}

// translateFault maps QuickBooks fault codes onto the error
// taxonomy. Code 5020 is an authorization/permission failure, 3100
// means the grant itself is dead.
func translateFault(status int, body []byte) error {
	if status < 400 {
		return nil
	}

	var fault faultResponse
	if err := json.Unmarshal(body, &fault); err == nil && fault.Fault != nil && len(fault.Fault.Error) > 0 {
		e := fault.Fault.Error[0]
		switch e.Code {
		case "5020":
			return fmt.Errorf("%w: %s", core.ErrPermissionDenied, e.Message)
		case "3100":
			return fmt.Errorf("%w: %s", core.ErrReauthRequired, e.Message)
		default:
			return fmt.Errorf("%w: fault %s: %s", core.ErrUpstream, e.Code, e.Message)
		}
	}

	if status == http.StatusUnauthorized {
		return fmt.Errorf("%w: status 401", core.ErrReauthRequired)
	}
	return fmt.Errorf("%w: status %d", core.ErrUpstream, status)
}

// normalize extracts the headline metrics from the report trees.
// Labels absent from a report read as zero; QuickBooks omits sections
// with no activity.
func normalize(trees map[string]*report.Tree) Metrics {
	var m Metrics

	if pl := trees[reportProfitAndLoss]; pl != nil {
		rows := pl.Rows.Row
		m.TotalIncome, _ = report.FindValue(rows, "Total Income")
		m.TotalExpenses, _ = report.FindValue(rows, "Total Expenses")
		m.NetIncome, _ = report.FindValue(rows, "Net Income")
		m.GrossProfit, _ = report.FindValue(rows, "Gross Profit")
		m.NetProfitMargin = report.Percent(m.NetIncome, m.TotalIncome)
	}

	if bs := trees[reportBalanceSheet]; bs != nil {
		rows := bs.Rows.Row
		m.TotalAssets, _ = report.FindValue(rows, "Total Assets")
		m.TotalLiabilities, _ = report.FindValue(rows, "Total Liabilities")
	}

	if cf := trees[reportCashFlow]; cf != nil {
		rows := cf.Rows.Row
		m.NetCashFlow, _ = report.FindValue(rows, "Net cash increase for period")
	}

	if is := trees[reportItemSales]; is != nil {
		rows := is.Rows.Row
		m.TotalItemSales, _ = report.FindValue(rows, "TOTAL")
	}

	return m
}
