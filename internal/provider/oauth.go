package provider

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/fathomhq/fathom/internal/core"
)

// TranslateOAuthError maps an oauth2 token endpoint failure onto the
// error taxonomy. An invalid_grant means the stored refresh token is
// dead and the user has to re-authorize; everything else from the
// token endpoint is an upstream auth failure.
func TranslateOAuthError(err error) error {
	if err == nil {
		return nil
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode == "invalid_grant" {
			return fmt.Errorf("%w: %s", core.ErrReauthRequired, retrieveErr.ErrorCode)
		}
		return fmt.Errorf("%w: token endpoint returned %d: %s",
			core.ErrUpstreamAuth, retrieveErr.Response.StatusCode, retrieveErr.ErrorCode)
	}
	return fmt.Errorf("%w: %v", core.ErrUpstreamAuth, err)
}

// TranslateStatus maps a provider API response status onto the error
// taxonomy for plain HTTP calls made outside the oauth2 client.
func TranslateStatus(status int, body string) error {
	switch {
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: status 401: %s", core.ErrReauthRequired, body)
	case status == http.StatusForbidden:
		return fmt.Errorf("%w: status 403: %s", core.ErrPermissionDenied, body)
	case status >= 400:
		return fmt.Errorf("%w: status %d: %s", core.ErrUpstream, status, body)
	}
	return nil
}

// AuthDataFromToken converts an exchanged oauth2 token into the auth
// data keys the store expects.
func AuthDataFromToken(token *oauth2.Token) core.AuthData {
	data := core.AuthData{
		core.AuthKeyAccessToken: token.AccessToken,
	}
	if token.RefreshToken != "" {
		data[core.AuthKeyRefreshToken] = token.RefreshToken
	}
	if !token.Expiry.IsZero() {
		data.SetTokenExpiry(token.Expiry)
	}
	return data
}

// TokenFromAuthData rebuilds an oauth2 token from stored auth data
// for use with a TokenSource.
func TokenFromAuthData(auth core.AuthData) *oauth2.Token {
	token := &oauth2.Token{
		AccessToken:  auth.AccessToken(),
		RefreshToken: auth.RefreshToken(),
	}
	if expiry := auth.TokenExpiresAt(); !expiry.IsZero() {
		token.Expiry = expiry
	}
	return token
}
