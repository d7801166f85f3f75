package client

import "net/http"

// APIKeyHeader carries the provider API key.
const APIKeyHeader = "X-Api-Key"

// APIKeyTransport adds the API key header to every outgoing request.
type APIKeyTransport struct {
	Key  string
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper. The caller's request is not modified.
func (t *APIKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	clone := req.Clone(req.Context())
	clone.Header.Set(APIKeyHeader, t.Key)
	return base.RoundTrip(clone)
}
