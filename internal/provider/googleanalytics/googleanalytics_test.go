package googleanalytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/api/analyticsdata/v1beta"
	"google.golang.org/api/option"

	"github.com/fathomhq/fathom/internal/core"
)

func testAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New("g-id", "g-secret", "https://api.example.com/integrations/google_analytics/callback",
		WithDataOptions(option.WithEndpoint(srv.URL)),
		WithAdminOptions(option.WithEndpoint(srv.URL)),
	)
}

func testConnection() *core.Connection {
	return &core.Connection{
		ID:          "conn-1",
		WorkspaceID: "ws-1",
		Provider:    core.ProviderGoogleAnalytics,
		Connected:   true,
		AuthData: core.AuthData{
			core.AuthKeyAccessToken: "ga-token",
			AuthKeyPropertyID:       "properties/123456",
		},
	}
}

func TestAuthorizeURL(t *testing.T) {
	a := New("g-id", "g-secret", "https://api.example.com/cb")

	u, err := a.AuthorizeURL("ws-1", nil)
	if err != nil {
		t.Fatalf("AuthorizeURL() error = %v", err)
	}

	for _, want := range []string{
		"accounts.google.com",
		"access_type=offline",
		"prompt=consent",
		"analytics.readonly",
	} {
		if !strings.Contains(u, want) {
			t.Errorf("url %q missing %q", u, want)
		}
	}
}

func TestSync_AggregatesRows(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1beta/properties/123456:runReport", func(w http.ResponseWriter, r *http.Request) {
		var req analyticsdata.RunReportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Dimensions) != 3 || req.Dimensions[0].Name != "date" {
			t.Errorf("dimensions = %+v", req.Dimensions)
		}
		if len(req.Metrics) != 8 {
			t.Errorf("metrics count = %d, want 8", len(req.Metrics))
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"rows": [
				{"dimensionValues": [{"value":"20260801"},{"value":"google"},{"value":"organic"}],
				 "metricValues": [{"value":"100"},{"value":"40"},{"value":"120"},{"value":"65.5"},
					{"value":"0.4"},{"value":"0.6"},{"value":"300"},{"value":"900"}]},
				{"dimensionValues": [{"value":"20260801"},{"value":"(direct)"},{"value":"(none)"}],
				 "metricValues": [{"value":"50"},{"value":"10"},{"value":"80"},{"value":"30.0"},
					{"value":"0.5"},{"value":"0.5"},{"value":"100"},{"value":"250"}]}
			]
		}`)
	})

	a := testAdapter(t, mux)

	result, err := a.Sync(context.Background(), testConnection())
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	got := result.(*SyncResult)
	if len(got.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(got.Rows))
	}

	m := got.Metrics
	if m.TotalUsers != 150 || m.Sessions != 200 || m.PageViews != 400 {
		t.Errorf("totals = %+v", m)
	}
	if math.Abs(m.PagesPerSession-2.0) > 0.0001 {
		t.Errorf("pages per session = %v, want 2.0", m.PagesPerSession)
	}
	// Session-weighted: (0.4*120 + 0.5*80) / 200 = 0.44
	if math.Abs(m.BounceRate-0.44) > 0.0001 {
		t.Errorf("bounce rate = %v, want 0.44", m.BounceRate)
	}
}

func TestSync_NoPropertySelected(t *testing.T) {
	a := testAdapter(t, http.NewServeMux())

	conn := testConnection()
	delete(conn.AuthData, AuthKeyPropertyID)

	_, err := a.Sync(context.Background(), conn)
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestSync_PermissionDenied(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1beta/properties/123456:runReport", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":403,"message":"User does not have sufficient permissions","status":"PERMISSION_DENIED"}}`)
	})

	a := testAdapter(t, mux)

	_, err := a.Sync(context.Background(), testConnection())
	if !errors.Is(err, core.ErrPermissionDenied) {
		t.Errorf("error = %v, want ErrPermissionDenied", err)
	}
}

func TestListProperties(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1beta/accountSummaries", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"accountSummaries": [
				{"displayName": "Acme Inc",
				 "propertySummaries": [
					{"property": "properties/111", "displayName": "acme.com"},
					{"property": "properties/222", "displayName": "shop.acme.com"}
				 ]}
			]
		}`)
	})

	a := testAdapter(t, mux)

	props, err := a.ListProperties(context.Background(), core.AuthData{core.AuthKeyAccessToken: "ga-token"})
	if err != nil {
		t.Fatalf("ListProperties() error = %v", err)
	}

	if len(props) != 2 {
		t.Fatalf("properties = %d, want 2", len(props))
	}
	if props[0].Name != "properties/111" || props[0].Account != "Acme Inc" {
		t.Errorf("property = %+v", props[0])
	}
}

func TestStartDateFor(t *testing.T) {
	tests := []struct {
		policy core.HistoricalData
		want   string
	}{
		{core.HistoryAllAvailable, "2015-08-14"},
		{core.HistoryLast12Months, "365daysAgo"},
		{core.HistoryLast3Months, "90daysAgo"},
		{core.HistoryNone, "7daysAgo"},
		{core.HistoricalData("unknown"), "30daysAgo"},
	}
	for _, tt := range tests {
		if got := startDateFor(tt.policy); got != tt.want {
			t.Errorf("startDateFor(%q) = %q, want %q", tt.policy, got, tt.want)
		}
	}
}

func TestAggregate_Empty(t *testing.T) {
	m := aggregate(nil)
	if m.PagesPerSession != 0 || m.BounceRate != 0 {
		t.Errorf("empty aggregate should be zero sentinels, got %+v", m)
	}
}
