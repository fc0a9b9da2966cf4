package salesforce

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/fathomhq/fathom/internal/core"
	"github.com/fathomhq/fathom/internal/provider"
	"github.com/fathomhq/fathom/internal/report"
)

// apiVersion pins the Salesforce REST API revision.
const apiVersion = "v59.0"

// Aggregate SOQL over the org's opportunities. Both run against the
// connection's own instance URL.
const (
	openQuery = "SELECT COUNT(Id) total, SUM(Amount) amount FROM Opportunity WHERE IsClosed = false"
	wonQuery  = "SELECT COUNT(Id) total, SUM(Amount) amount FROM Opportunity WHERE IsWon = true"
)

// Metrics is the pipeline snapshot persisted after a sync.
type Metrics struct {
	OpenOpportunities int64   `json:"openOpportunities"`
	PipelineValue     float64 `json:"pipelineValue"`
	WonOpportunities  int64   `json:"wonOpportunities"`
	WonRevenue        float64 `json:"wonRevenue"`
	AvgWonDealSize    float64 `json:"avgWonDealSize"`
}

// Sync pulls open-pipeline and closed-won opportunity aggregates in
// parallel.
func (a *Adapter) Sync(ctx context.Context, conn *core.Connection) (any, error) {
	instanceURL := conn.AuthData.String(core.AuthKeyInstanceURL)
	if instanceURL == "" {
		return nil, fmt.Errorf("%w: connection has no instance url", core.ErrReauthRequired)
	}
	accessToken := conn.AuthData.AccessToken()
	if accessToken == "" {
		return nil, fmt.Errorf("%w: connection has no access token", core.ErrReauthRequired)
	}

	var open, won aggregateRow
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		row, err := a.aggregateQuery(ctx, instanceURL, accessToken, openQuery)
		if err != nil {
			return fmt.Errorf("open pipeline: %w", err)
		}
		open = row
		return nil
	})
	g.Go(func() error {
		row, err := a.aggregateQuery(ctx, instanceURL, accessToken, wonQuery)
		if err != nil {
			return fmt.Errorf("closed won: %w", err)
		}
		won = row
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Metrics{
		OpenOpportunities: open.Total,
		PipelineValue:     open.Amount,
		WonOpportunities:  won.Total,
		WonRevenue:        won.Amount,
		AvgWonDealSize:    report.Div(won.Amount, float64(won.Total)),
	}, nil
}

type aggregateRow struct {
	Total  int64
	Amount float64
}

// queryResponse is the SOQL result envelope. Aggregate queries return
// one record carrying the aliased expressions; SUM over zero rows
// comes back null.
type queryResponse struct {
	Records []struct {
		Total  int64    `json:"total"`
		Amount *float64 `json:"amount"`
	} `json:"records"`
}

func (a *Adapter) aggregateQuery(ctx context.Context, instanceURL, accessToken, soql string) (aggregateRow, error) {
	u := fmt.Sprintf("%s/services/data/%s/query?q=%s",
		strings.TrimSuffix(instanceURL, "/"), apiVersion, url.QueryEscape(soql))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return aggregateRow{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return aggregateRow{}, fmt.Errorf("%w: %v", core.ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return aggregateRow{}, fmt.Errorf("%w: read response: %v", core.ErrUpstream, err)
	}
	if err := provider.TranslateStatus(resp.StatusCode, string(body)); err != nil {
		return aggregateRow{}, err
	}

	var out queryResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return aggregateRow{}, fmt.Errorf("%w: decode query result: %v", core.ErrUpstream, err)
	}
	if len(out.Records) == 0 {
		return aggregateRow{}, nil
	}

	row := aggregateRow{Total: out.Records[0].Total}
	if out.Records[0].Amount != nil {
		row.Amount = *out.Records[0].Amount
	}
	return row, nil
}
