package quickbooks

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

	"golang.org/x/oauth2"

	"github.com/fathomhq/fathom/internal/core"
	"github.com/fathomhq/fathom/internal/statetoken"
)

func testAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New("client-id", "client-secret", "https://api.example.com/integrations/quickbooks/callback",
		WithEndpoint(oauth2.Endpoint{
			AuthURL:   srv.URL + "/connect/oauth2",
			TokenURL:  srv.URL + "/oauth2/v1/tokens/bearer",
			AuthStyle: oauth2.AuthStyleInHeader,
		}),
		WithAPIBase(srv.URL),
	)
}

func mustState(t *testing.T, workspaceID core.WorkspaceID) string {
	t.Helper()
	state, err := statetoken.Encode(statetoken.Payload{
		WorkspaceID: workspaceID,
		Provider:    core.ProviderQuickBooks,
	})
	if err != nil {
		t.Fatalf("encode state: %v", err)
	}
	return state
}

func TestAuthorizeURL(t *testing.T) {
	a := New("client-id", "client-secret", "https://api.example.com/cb")

	u, err := a.AuthorizeURL("ws-1", nil)
	if err != nil {
		t.Fatalf("AuthorizeURL() error = %v", err)
	}

	if !strings.HasPrefix(u, "https://appcenter.intuit.com/connect/oauth2?") {
		t.Errorf("url = %q, want appcenter authorize endpoint", u)
	}
	for _, want := range []string{
		"client_id=client-id",
		"scope=com.intuit.quickbooks.accounting+openid+profile+email",
		"state=",
	} {
		if !strings.Contains(u, want) {
			t.Errorf("url %q missing %q", u, want)
		}
	}
}

func TestExchangeCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/v1/tokens/bearer", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-id" || pass != "client-secret" {
			t.Errorf("token request should carry basic auth, got %q/%q", user, pass)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-1","refresh_token":"rt-1","token_type":"bearer","expires_in":3600}`)
	})

	a := testAdapter(t, mux)

	bundle, err := a.ExchangeCode(context.Background(), "code-1", mustState(t, "ws-1"),
		map[string]string{"realmId": "realm-9"})
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}

	if bundle.WorkspaceID != "ws-1" || bundle.Provider != core.ProviderQuickBooks {
		t.Errorf("bundle = %+v, wrong identity", bundle)
	}
	if got := bundle.AuthData.AccessToken(); got != "at-1" {
		t.Errorf("access token = %q", got)
	}
	if got := bundle.AuthData.String(core.AuthKeyRealmID); got != "realm-9" {
		t.Errorf("realm id = %q, want realm-9", got)
	}
	if bundle.AuthData.TokenExpiresAt().IsZero() {
		t.Error("expiry should be recorded")
	}
}

func TestExchangeCode_MissingRealmID(t *testing.T) {
	a := testAdapter(t, http.NewServeMux())

	_, err := a.ExchangeCode(context.Background(), "code-1", mustState(t, "ws-1"), nil)
	if !errors.Is(err, core.ErrUpstreamAuth) {
		t.Errorf("error = %v, want ErrUpstreamAuth", err)
	}
}

func TestExchangeCode_BadState(t *testing.T) {
	a := testAdapter(t, http.NewServeMux())

	_, err := a.ExchangeCode(context.Background(), "code-1", "!!!not-state!!!",
		map[string]string{"realmId": "realm-9"})
	if !errors.Is(err, core.ErrMalformedState) {
		t.Errorf("error = %v, want ErrMalformedState", err)
	}
}

func TestRefreshToken_Rotates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/v1/tokens/bearer", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if got := r.Form.Get("refresh_token"); got != "rt-old" {
			t.Errorf("refresh_token = %q, want rt-old", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-new","refresh_token":"rt-new","token_type":"bearer","expires_in":3600}`)
	})

	a := testAdapter(t, mux)

	updated, err := a.RefreshToken(context.Background(), core.AuthData{
		core.AuthKeyAccessToken:  "at-old",
		core.AuthKeyRefreshToken: "rt-old",
	})
	if err != nil {
		t.Fatalf("RefreshToken() error = %v", err)
	}

	if got := updated.AccessToken(); got != "at-new" {
		t.Errorf("access token = %q, want at-new", got)
	}
	if got := updated.RefreshToken(); got != "rt-new" {
		t.Errorf("refresh token = %q, rotation should be captured", got)
	}
}

func TestRefreshToken_InvalidGrant(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/v1/tokens/bearer", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	})

	a := testAdapter(t, mux)

	_, err := a.RefreshToken(context.Background(), core.AuthData{
		core.AuthKeyRefreshToken: "rt-revoked",
	})
	if !errors.Is(err, core.ErrReauthRequired) {
		t.Errorf("error = %v, want ErrReauthRequired", err)
	}
}

func TestRefreshToken_NoStoredToken(t *testing.T) {
	a := testAdapter(t, http.NewServeMux())

	_, err := a.RefreshToken(context.Background(), core.AuthData{})
	if !errors.Is(err, core.ErrReauthRequired) {
		t.Errorf("error = %v, want ErrReauthRequired", err)
	}
}

func profitAndLossJSON() string {
	return `{
		"Rows": {"Row": [
			{"Header": {"ColData": [{"value": "Income"}]},
			 "Rows": {"Row": [{"ColData": [{"value": "Sales"}, {"value": "8000.00"}]}]},
			 "Summary": {"ColData": [{"value": "Total Income"}, {"value": "8000.00"}]}},
			{"Header": {"ColData": [{"value": "Expenses"}]},
			 "Summary": {"ColData": [{"value": "Total Expenses"}, {"value": "6000.00"}]}},
			{"ColData": [{"value": "Gross Profit"}, {"value": "3500.00"}]},
			{"ColData": [{"value": "Net Income"}, {"value": "2000.00"}]}
		]}
	}`
}

func syncHandler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/company/realm-9/reports/", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("minorversion"); got != minorVersion {
			t.Errorf("minorversion = %q, want %q", got, minorVersion)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer at-1" {
			t.Errorf("authorization = %q", got)
		}

		name := strings.TrimPrefix(r.URL.Path, "/v3/company/realm-9/reports/")
		w.Header().Set("Content-Type", "application/json")
		switch name {
		case reportProfitAndLoss:
			fmt.Fprint(w, profitAndLossJSON())
		case reportBalanceSheet:
			fmt.Fprint(w, `{"Rows": {"Row": [
				{"ColData": [{"value": "Total Assets"}, {"value": "15000.00"}]},
				{"ColData": [{"value": "Total Liabilities"}, {"value": "4000.00"}]}
			]}}`)
		case reportCashFlow:
			fmt.Fprint(w, `{"Rows": {"Row": [
				{"ColData": [{"value": "Net cash increase for period"}, {"value": "1200.00"}]}
			]}}`)
		case reportItemSales:
			fmt.Fprint(w, `{"Rows": {"Row": [
				{"ColData": [{"value": "TOTAL"}, {"value": "8000.00"}]}
			]}}`)
		default:
			t.Errorf("unexpected report %q", name)
			http.NotFound(w, r)
		}
	})
	return mux
}

func testConnection() *core.Connection {
	return &core.Connection{
		ID:          "conn-1",
		WorkspaceID: "ws-1",
		Provider:    core.ProviderQuickBooks,
		Connected:   true,
		AuthData: core.AuthData{
			core.AuthKeyAccessToken: "at-1",
			core.AuthKeyRealmID:     "realm-9",
		},
	}
}

func TestSync_NormalizesReports(t *testing.T) {
	a := testAdapter(t, syncHandler(t))

	result, err := a.Sync(context.Background(), testConnection())
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	m := result.(*SyncResult).Metrics
	if m.TotalIncome != 8000 {
		t.Errorf("total income = %v, want 8000", m.TotalIncome)
	}
	if m.NetIncome != 2000 {
		t.Errorf("net income = %v, want 2000", m.NetIncome)
	}
	if math.Abs(m.NetProfitMargin-25) > 0.001 {
		t.Errorf("net profit margin = %v, want 25", m.NetProfitMargin)
	}
	if m.TotalAssets != 15000 || m.TotalLiabilities != 4000 {
		t.Errorf("balance sheet = %v / %v", m.TotalAssets, m.TotalLiabilities)
	}
	if m.NetCashFlow != 1200 {
		t.Errorf("net cash flow = %v, want 1200", m.NetCashFlow)
	}
	if len(result.(*SyncResult).Reports) != 4 {
		t.Errorf("reports kept = %d, want 4", len(result.(*SyncResult).Reports))
	}
}

func TestSync_ZeroIncomeNoDivisionByZero(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/company/realm-9/reports/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"Rows": {"Row": []}}`)
	})

	a := testAdapter(t, mux)

	result, err := a.Sync(context.Background(), testConnection())
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	m := result.(*SyncResult).Metrics
	if m.NetProfitMargin != 0 {
		t.Errorf("net profit margin = %v, want 0 sentinel", m.NetProfitMargin)
	}
}

func TestSync_FaultCodes(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantErr error
	}{
		{"permission denied", "5020", core.ErrPermissionDenied},
		{"reauth required", "3100", core.ErrReauthRequired},
		{"other fault", "9999", core.ErrUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/v3/company/realm-9/reports/", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				json.NewEncoder(w).Encode(map[string]any{
					"Fault": map[string]any{
						"Error": []map[string]any{{"code": tt.code, "Message": "nope"}},
					},
				})
			})

			a := testAdapter(t, mux)

			_, err := a.Sync(context.Background(), testConnection())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSync_OneReportFailureFailsAll(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/company/realm-9/reports/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/v3/company/realm-9/reports/")
		if name == reportBalanceSheet {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"Rows": {"Row": []}}`)
	})

	a := testAdapter(t, mux)

	_, err := a.Sync(context.Background(), testConnection())
	if !errors.Is(err, core.ErrUpstream) {
		t.Errorf("error = %v, want ErrUpstream", err)
	}
}

func TestSync_MissingRealmID(t *testing.T) {
	a := testAdapter(t, http.NewServeMux())

	conn := testConnection()
	delete(conn.AuthData, core.AuthKeyRealmID)

	_, err := a.Sync(context.Background(), conn)
	if !errors.Is(err, core.ErrReauthRequired) {
		t.Errorf("error = %v, want ErrReauthRequired", err)
	}
}
