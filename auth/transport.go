package auth

import (
	"net/http"
	"time"
)

// Transport is an http.RoundTripper that applies a Credential to every
// request. The caller's request is never modified.
type Transport struct {
	Base       http.RoundTripper
	Credential Credential
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.Credential == nil {
		return base.RoundTrip(req)
	}

	out := req.Clone(req.Context())
	if err := t.Credential.Apply(req.Context(), out); err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, err
	}
	return base.RoundTrip(out)
}

// NewClient returns an http.Client that authenticates with cred.
func NewClient(cred Credential, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &Transport{Credential: cred},
		Timeout:   timeout,
	}
}
