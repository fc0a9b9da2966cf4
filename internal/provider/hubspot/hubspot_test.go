package hubspot

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

	return New("hs-id", "hs-secret", "https://api.example.com/integrations/hubspot/callback",
		WithEndpoint(oauth2.Endpoint{
			AuthURL:  srv.URL + "/oauth/authorize",
			TokenURL: srv.URL + "/oauth/v1/token",
		}),
	)
}

func TestAuthorizeURL(t *testing.T) {
	a := New("hs-id", "hs-secret", "https://api.example.com/cb")

	u, err := a.AuthorizeURL("ws-1", nil)
	if err != nil {
		t.Fatalf("AuthorizeURL() error = %v", err)
	}
	if !strings.HasPrefix(u, "https://app.hubspot.com/oauth/authorize?") {
		t.Errorf("url = %q, want app.hubspot.com authorize", u)
	}
}

func TestExchangeCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-1","refresh_token":"rt-1","token_type":"bearer","expires_in":1800}`)
	})

	a := testAdapter(t, mux)

	state, err := statetoken.Encode(statetoken.Payload{
		WorkspaceID: "ws-1",
		Provider:    core.ProviderHubspot,
	})
	if err != nil {
		t.Fatalf("encode state: %v", err)
	}

	bundle, err := a.ExchangeCode(context.Background(), "code-1", state, nil)
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	if bundle.AuthData.AccessToken() != "at-1" || bundle.AuthData.RefreshToken() != "rt-1" {
		t.Errorf("auth data = %v", bundle.AuthData)
	}
}

func TestRefreshToken_InvalidGrant(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	})

	a := testAdapter(t, mux)

	_, err := a.RefreshToken(context.Background(), core.AuthData{
		core.AuthKeyRefreshToken: "rt-dead",
	})
	if !errors.Is(err, core.ErrReauthRequired) {
		t.Errorf("error = %v, want ErrReauthRequired", err)
	}
}
