package provider

import (
	"net/http"
	"time"
)

// upstreamTimeout bounds a single provider API call so one slow
// upstream cannot stall a whole sync run.
const upstreamTimeout = 30 * time.Second

// NewHTTPClient returns the client adapters use for direct upstream
// calls.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: upstreamTimeout}
}
