package facebookads

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/fathomhq/fathom/internal/core"
	"github.com/fathomhq/fathom/internal/provider"
	"github.com/fathomhq/fathom/internal/report"
)

const insightsFields = "impressions,reach,clicks,spend,actions,action_values"

// AccountInsights is one ad account's raw insight numbers.
type AccountInsights struct {
	AccountID   string  `json:"accountId"`
	AccountName string  `json:"accountName"`
	Impressions float64 `json:"impressions"`
	Reach       float64 `json:"reach"`
	Clicks      float64 `json:"clicks"`
	Spend       float64 `json:"spend"`
	Conversions float64 `json:"conversions"`
	Revenue     float64 `json:"revenue"`
	Leads       float64 `json:"leads"`
	Engagements float64 `json:"engagements"`
}

// Metrics is the aggregate across all ad accounts, with the derived
// ratios computed over the totals rather than averaged per account.
type Metrics struct {
	Impressions       float64 `json:"impressions"`
	Reach             float64 `json:"reach"`
	Clicks            float64 `json:"clicks"`
	Spend             float64 `json:"spend"`
	Conversions       float64 `json:"conversions"`
	Revenue           float64 `json:"revenue"`
	Frequency         float64 `json:"frequency"`
	CTR               float64 `json:"ctr"`
	CPC               float64 `json:"cpc"`
	CPM               float64 `json:"cpm"`
	CostPerConversion float64 `json:"costPerConversion"`
	ROAS              float64 `json:"roas"`
	EngagementRate    float64 `json:"engagementRate"`
	LeadGenRate       float64 `json:"leadGenerationRate"`
}

// SyncResult bundles per-account insights with the aggregate.
type SyncResult struct {
	Accounts []AccountInsights `json:"accounts"`
	Metrics  Metrics           `json:"metrics"`
}

// Sync lists the user's ad accounts and pulls account-level insights
// for each in parallel. A workspace with no ad accounts is a valid
// empty result, not an error; any single account failing fails the
// whole sync.
func (a *Adapter) Sync(ctx context.Context, conn *core.Connection) (any, error) {
	accessToken := conn.AuthData.AccessToken()
	if accessToken == "" {
		return nil, fmt.Errorf("%w: connection has no access token", core.ErrReauthRequired)
	}

	accounts, err := a.listAdAccounts(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return &provider.EmptyResult{Message: "no ad accounts found for this user"}, nil
	}

	insights := make([]AccountInsights, len(accounts))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for i, account := range accounts {
		g.Go(func() error {
			ins, err := a.fetchInsights(ctx, accessToken, account)
			if err != nil {
				return fmt.Errorf("insights for %s: %w", account.ID, err)
			}
			mu.Lock()
			insights[i] = *ins
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &SyncResult{
		Accounts: insights,
		Metrics:  aggregate(insights),
	}, nil
}

type adAccount struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (a *Adapter) listAdAccounts(ctx context.Context, accessToken string) ([]adAccount, error) {
	q := url.Values{
		"access_token": {accessToken},
		"fields":       {"id,name"},
	}
	body, err := a.get(ctx, a.graphBase+"/me/adaccounts?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []adAccount `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode ad accounts: %v", core.ErrUpstream, err)
	}
	return resp.Data, nil
}

// insightRow mirrors the Graph insights payload. Numbers arrive as
// strings.
type insightRow struct {
	Impressions  string       `json:"impressions"`
	Reach        string       `json:"reach"`
	Clicks       string       `json:"clicks"`
	Spend        string       `json:"spend"`
	Actions      []actionStat `json:"actions"`
	ActionValues []actionStat `json:"action_values"`
}

type actionStat struct {
	ActionType string `json:"action_type"`
	Value      string `json:"value"`
}

func (a *Adapter) fetchInsights(ctx context.Context, accessToken string, account adAccount) (*AccountInsights, error) {
	q := url.Values{
		"access_token": {accessToken},
		"fields":       {insightsFields},
		"level":        {"account"},
	}
	body, err := a.get(ctx, a.graphBase+"/"+account.ID+"/insights?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []insightRow `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode insights: %v", core.ErrUpstream, err)
	}

	ins := &AccountInsights{AccountID: account.ID, AccountName: account.Name}
	for _, row := range resp.Data {
		ins.Impressions += parseNum(row.Impressions)
		ins.Reach += parseNum(row.Reach)
		ins.Clicks += parseNum(row.Clicks)
		ins.Spend += parseNum(row.Spend)
		ins.Conversions += sumActions(row.Actions, "purchase", "offsite_conversion.fb_pixel_purchase")
		ins.Revenue += sumActions(row.ActionValues, "purchase", "offsite_conversion.fb_pixel_purchase")
		ins.Leads += sumActions(row.Actions, "lead")
		ins.Engagements += sumActions(row.Actions, "post_engagement")
	}
	return ins, nil
}

func parseNum(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func sumActions(stats []actionStat, types ...string) float64 {
	var total float64
	for _, stat := range stats {
		for _, t := range types {
			if stat.ActionType == t {
				total += parseNum(stat.Value)
			}
		}
	}
	return total
}

// aggregate totals the per-account numbers and derives the ratio
// metrics. Ratios with a zero denominator read as zero.
func aggregate(accounts []AccountInsights) Metrics {
	var m Metrics
	var engagements, leads float64

	for _, a := range accounts {
		m.Impressions += a.Impressions
		m.Reach += a.Reach
		m.Clicks += a.Clicks
		m.Spend += a.Spend
		m.Conversions += a.Conversions
		m.Revenue += a.Revenue
		engagements += a.Engagements
		leads += a.Leads
	}

	m.Frequency = report.Div(m.Impressions, m.Reach)
	m.CTR = report.Percent(m.Clicks, m.Impressions)
	m.CPC = report.Div(m.Spend, m.Clicks)
	m.CPM = report.PerThousand(m.Spend, m.Impressions)
	m.CostPerConversion = report.Div(m.Spend, m.Conversions)
	m.ROAS = report.Div(m.Revenue, m.Spend)
	m.EngagementRate = report.Percent(engagements, m.Impressions)
	m.LeadGenRate = report.Percent(leads, m.Clicks)

	return m
}
