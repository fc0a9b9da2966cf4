package salesforce

import (
	"context"
	"errors"
	"fmt"
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

	return New("sf-id", "sf-secret", "https://api.example.com/integrations/salesforce/callback",
		WithEndpoint(oauth2.Endpoint{
			AuthURL:  srv.URL + "/services/oauth2/authorize",
			TokenURL: srv.URL + "/services/oauth2/token",
		}),
	)
}

func mustState(t *testing.T) string {
	t.Helper()
	state, err := statetoken.Encode(statetoken.Payload{
		WorkspaceID: "ws-1",
		Provider:    core.ProviderSalesforce,
	})
	if err != nil {
		t.Fatalf("encode state: %v", err)
	}
	return state
}

func TestExchangeCode_CapturesInstanceURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/services/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"access_token": "at-1",
			"refresh_token": "rt-1",
			"token_type": "Bearer",
			"instance_url": "https://acme.my.salesforce.com",
			"id": "https://login.salesforce.com/id/00D/005"
		}`)
	})

	a := testAdapter(t, mux)

	bundle, err := a.ExchangeCode(context.Background(), "code-1", mustState(t), nil)
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}

	if got := bundle.AuthData.String(core.AuthKeyInstanceURL); got != "https://acme.my.salesforce.com" {
		t.Errorf("instance url = %q", got)
	}
	if got := bundle.AuthData.String(core.AuthKeyIdentityURL); got != "https://login.salesforce.com/id/00D/005" {
		t.Errorf("identity url = %q", got)
	}
}

func TestExchangeCode_MissingInstanceURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/services/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-1","token_type":"Bearer"}`)
	})

	a := testAdapter(t, mux)

	_, err := a.ExchangeCode(context.Background(), "code-1", mustState(t), nil)
	if !errors.Is(err, core.ErrUpstreamAuth) {
		t.Errorf("error = %v, want ErrUpstreamAuth", err)
	}
}

func TestRefreshToken_KeepsStoredRefreshToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/services/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-new","token_type":"Bearer"}`)
	})

	a := testAdapter(t, mux)

	updated, err := a.RefreshToken(context.Background(), core.AuthData{
		core.AuthKeyRefreshToken: "rt-stored",
	})
	if err != nil {
		t.Fatalf("RefreshToken() error = %v", err)
	}
	if got := updated.RefreshToken(); got != "rt-stored" {
		t.Errorf("refresh token = %q, want rt-stored kept", got)
	}
}

func syncConnection(instanceURL string) *core.Connection {
	return &core.Connection{
		ID:          "conn-1",
		WorkspaceID: "ws-1",
		Provider:    core.ProviderSalesforce,
		Connected:   true,
		AuthData: core.AuthData{
			core.AuthKeyAccessToken: "sf-token",
			core.AuthKeyInstanceURL: instanceURL,
		},
	}
}

func TestSync_AggregatesPipeline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sf-token" {
			t.Errorf("Authorization = %q", got)
		}
		soql := r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.Contains(soql, "IsClosed = false"):
			fmt.Fprint(w, `{"totalSize":1,"done":true,"records":[{"attributes":{"type":"AggregateResult"},"total":4,"amount":200000.0}]}`)
		case strings.Contains(soql, "IsWon = true"):
			fmt.Fprint(w, `{"totalSize":1,"done":true,"records":[{"attributes":{"type":"AggregateResult"},"total":2,"amount":50000.0}]}`)
		default:
			t.Errorf("unexpected query %q", soql)
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	t.Cleanup(srv.Close)

	a := New("sf-id", "sf-secret", "https://api.example.com/cb")

	out, err := a.Sync(context.Background(), syncConnection(srv.URL))
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	metrics := out.(*Metrics)

	if metrics.OpenOpportunities != 4 || metrics.PipelineValue != 200000 {
		t.Errorf("pipeline = %d/%.0f, want 4/200000", metrics.OpenOpportunities, metrics.PipelineValue)
	}
	if metrics.WonOpportunities != 2 || metrics.WonRevenue != 50000 {
		t.Errorf("won = %d/%.0f, want 2/50000", metrics.WonOpportunities, metrics.WonRevenue)
	}
	if metrics.AvgWonDealSize != 25000 {
		t.Errorf("avg won deal size = %.0f, want 25000", metrics.AvgWonDealSize)
	}
}

func TestSync_EmptyOrg(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"totalSize":1,"done":true,"records":[{"attributes":{"type":"AggregateResult"},"total":0,"amount":null}]}`)
	}))
	t.Cleanup(srv.Close)

	a := New("sf-id", "sf-secret", "https://api.example.com/cb")

	out, err := a.Sync(context.Background(), syncConnection(srv.URL))
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	metrics := out.(*Metrics)

	if metrics.WonRevenue != 0 || metrics.AvgWonDealSize != 0 {
		t.Errorf("empty org metrics = %+v, want zeros", metrics)
	}
}

func TestSync_UnauthorizedMapsToReauth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `[{"errorCode":"INVALID_SESSION_ID"}]`)
	}))
	t.Cleanup(srv.Close)

	a := New("sf-id", "sf-secret", "https://api.example.com/cb")

	_, err := a.Sync(context.Background(), syncConnection(srv.URL))
	if !errors.Is(err, core.ErrReauthRequired) {
		t.Errorf("error = %v, want ErrReauthRequired", err)
	}
}

func TestSync_MissingInstanceURL(t *testing.T) {
	a := New("sf-id", "sf-secret", "https://api.example.com/cb")

	conn := syncConnection("")
	delete(conn.AuthData, core.AuthKeyInstanceURL)

	_, err := a.Sync(context.Background(), conn)
	if !errors.Is(err, core.ErrReauthRequired) {
		t.Errorf("error = %v, want ErrReauthRequired", err)
	}
}
