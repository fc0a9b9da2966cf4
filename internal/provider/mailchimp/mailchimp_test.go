package mailchimp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fathomhq/fathom/internal/core"
	"github.com/fathomhq/fathom/internal/statetoken"
)

func testAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New("mc-id", "mc-secret", "https://api.example.com/integrations/mailchimp/callback",
		WithLoginBase(srv.URL))
}

func mustState(t *testing.T) string {
	t.Helper()
	state, err := statetoken.Encode(statetoken.Payload{
		WorkspaceID: "ws-1",
		Provider:    core.ProviderMailchimp,
	})
	if err != nil {
		t.Fatalf("encode state: %v", err)
	}
	return state
}

func TestExchangeCode_ResolvesDataCenter(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"mc-token","token_type":"bearer"}`)
	})
	mux.HandleFunc("/oauth2/metadata", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "OAuth mc-token" {
			t.Errorf("authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"dc":"us19","api_endpoint":"https://us19.api.mailchimp.com"}`)
	})

	a := testAdapter(t, mux)

	bundle, err := a.ExchangeCode(context.Background(), "code-1", mustState(t), nil)
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}

	if got := bundle.AuthData.String(AuthKeyAPIEndpoint); got != "https://us19.api.mailchimp.com" {
		t.Errorf("api endpoint = %q", got)
	}
	if !bundle.AuthData.TokenExpiresAt().IsZero() {
		t.Error("mailchimp tokens do not expire, no expiry should be stored")
	}
}

func TestExchangeCode_MetadataFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"mc-token","token_type":"bearer"}`)
	})
	mux.HandleFunc("/oauth2/metadata", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	a := testAdapter(t, mux)

	_, err := a.ExchangeCode(context.Background(), "code-1", mustState(t), nil)
	if !errors.Is(err, core.ErrUpstream) {
		t.Errorf("error = %v, want ErrUpstream", err)
	}
}
