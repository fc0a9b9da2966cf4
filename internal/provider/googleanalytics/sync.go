package googleanalytics

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"google.golang.org/api/analyticsadmin/v1beta"
	"google.golang.org/api/analyticsdata/v1beta"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/fathomhq/fathom/internal/core"
	"github.com/fathomhq/fathom/internal/report"
)

var reportDimensions = []string{"date", "sessionSource", "sessionMedium"}

var reportMetrics = []string{
	"totalUsers",
	"newUsers",
	"sessions",
	"averageSessionDuration",
	"bounceRate",
	"engagementRate",
	"screenPageViews",
	"eventCount",
}

// Property is one GA4 property the authorized user can read.
type Property struct {
	Name        string `json:"name"` // "properties/123456"
	DisplayName string `json:"displayName"`
	Account     string `json:"account"`
}

// RowMetrics is one report row: a date/source/medium breakdown.
type RowMetrics struct {
	Date           string  `json:"date"`
	Source         string  `json:"source"`
	Medium         string  `json:"medium"`
	TotalUsers     float64 `json:"totalUsers"`
	NewUsers       float64 `json:"newUsers"`
	Sessions       float64 `json:"sessions"`
	PageViews      float64 `json:"screenPageViews"`
	EventCount     float64 `json:"eventCount"`
	AvgDuration    float64 `json:"averageSessionDuration"`
	BounceRate     float64 `json:"bounceRate"`
	EngagementRate float64 `json:"engagementRate"`
}

// Metrics is the property-wide aggregate for the sync window.
type Metrics struct {
	TotalUsers       float64 `json:"totalUsers"`
	NewUsers         float64 `json:"newUsers"`
	Sessions         float64 `json:"sessions"`
	PageViews        float64 `json:"screenPageViews"`
	EventCount       float64 `json:"eventCount"`
	PagesPerSession  float64 `json:"pagesPerSession"`
	AvgSessionLength float64 `json:"averageSessionDuration"`
	BounceRate       float64 `json:"bounceRate"`
	EngagementRate   float64 `json:"engagementRate"`
}

// SyncResult bundles row-level data with the aggregate.
type SyncResult struct {
	Property string       `json:"property"`
	Rows     []RowMetrics `json:"rows"`
	Metrics  Metrics      `json:"metrics"`
}

// ListProperties returns the GA4 properties visible to the stored
// credentials, for the property picker shown after connecting.
func (a *Adapter) ListProperties(ctx context.Context, auth core.AuthData) ([]Property, error) {
	client, err := a.httpClient(ctx, auth)
	if err != nil {
		return nil, err
	}

	opts := append([]option.ClientOption{client}, a.adminOpts...)
	svc, err := analyticsadmin.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create admin service: %w", err)
	}

	resp, err := svc.AccountSummaries.List().Context(ctx).Do()
	if err != nil {
		return nil, translateAPIError(err)
	}

	var props []Property
	for _, account := range resp.AccountSummaries {
		for _, p := range account.PropertySummaries {
			props = append(props, Property{
				Name:        p.Property,
				DisplayName: p.DisplayName,
				Account:     account.DisplayName,
			})
		}
	}
	return props, nil
}

// Sync runs the traffic report for the connection's property over
// the window implied by its historical-data setting.
func (a *Adapter) Sync(ctx context.Context, conn *core.Connection) (any, error) {
	property := conn.AuthData.String(AuthKeyPropertyID)
	if property == "" {
		return nil, fmt.Errorf("%w: connection has no property selected", core.ErrNotFound)
	}

	client, err := a.httpClient(ctx, conn.AuthData)
	if err != nil {
		return nil, err
	}

	opts := append([]option.ClientOption{client}, a.dataOpts...)
	svc, err := analyticsdata.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create data service: %w", err)
	}

	req := &analyticsdata.RunReportRequest{
		DateRanges: []*analyticsdata.DateRange{{
			StartDate: startDateFor(conn.HistoricalData),
			EndDate:   "today",
		}},
	}
	for _, d := range reportDimensions {
		req.Dimensions = append(req.Dimensions, &analyticsdata.Dimension{Name: d})
	}
	for _, m := range reportMetrics {
		req.Metrics = append(req.Metrics, &analyticsdata.Metric{Name: m})
	}

	resp, err := svc.Properties.RunReport(property, req).Context(ctx).Do()
	if err != nil {
		return nil, translateAPIError(err)
	}

	result := &SyncResult{Property: property}
	for _, row := range resp.Rows {
		result.Rows = append(result.Rows, parseRow(row))
	}
	result.Metrics = aggregate(result.Rows)
	return result, nil
}

// startDateFor maps the backfill policy onto a GA4 relative date.
// GA4 has no data before its launch, so "all available" starts there.
func startDateFor(h core.HistoricalData) string {
	switch h {
	case core.HistoryAllAvailable:
		return "2015-08-14"
	case core.HistoryLast12Months:
		return "365daysAgo"
	case core.HistoryLast3Months:
		return "90daysAgo"
	case core.HistoryNone:
		return "7daysAgo"
	}
	return "30daysAgo"
}

func parseRow(row *analyticsdata.Row) RowMetrics {
	dim := func(i int) string {
		if i < len(row.DimensionValues) {
			return row.DimensionValues[i].Value
		}
		return ""
	}
	metric := func(i int) float64 {
		if i < len(row.MetricValues) {
			v, _ := strconv.ParseFloat(row.MetricValues[i].Value, 64)
			return v
		}
		return 0
	}

	return RowMetrics{
		Date:           dim(0),
		Source:         dim(1),
		Medium:         dim(2),
		TotalUsers:     metric(0),
		NewUsers:       metric(1),
		Sessions:       metric(2),
		AvgDuration:    metric(3),
		BounceRate:     metric(4),
		EngagementRate: metric(5),
		PageViews:      metric(6),
		EventCount:     metric(7),
	}
}

// aggregate totals the row metrics. Rate metrics are averaged over
// rows weighted by sessions; pages per session is derived from the
// totals with the zero-denominator sentinel.
func aggregate(rows []RowMetrics) Metrics {
	var m Metrics
	var weightedBounce, weightedEngagement, weightedDuration float64

	for _, r := range rows {
		m.TotalUsers += r.TotalUsers
		m.NewUsers += r.NewUsers
		m.Sessions += r.Sessions
		m.PageViews += r.PageViews
		m.EventCount += r.EventCount
		weightedBounce += r.BounceRate * r.Sessions
		weightedEngagement += r.EngagementRate * r.Sessions
		weightedDuration += r.AvgDuration * r.Sessions
	}

	m.PagesPerSession = report.Div(m.PageViews, m.Sessions)
	m.BounceRate = report.Div(weightedBounce, m.Sessions)
	m.EngagementRate = report.Div(weightedEngagement, m.Sessions)
	m.AvgSessionLength = report.Div(weightedDuration, m.Sessions)
	return m
}

// translateAPIError maps Google API errors onto the error taxonomy.
func translateAPIError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401:
			return fmt.Errorf("%w: %s", core.ErrReauthRequired, apiErr.Message)
		case 403:
			return fmt.Errorf("%w: %s", core.ErrPermissionDenied, apiErr.Message)
		default:
			return fmt.Errorf("%w: status %d: %s", core.ErrUpstream, apiErr.Code, apiErr.Message)
		}
	}
	return fmt.Errorf("%w: %v", core.ErrUpstream, err)
}
