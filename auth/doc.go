// Package auth attaches backend credentials to outbound HTTP requests.
//
// A Credential decorates a request: APIKey sets a static key header, JWT
// mints short-lived HS256 bearer tokens and None leaves the request alone.
// Transport applies a Credential to every request made through an
// http.Client, so adapters never handle key material directly.
package auth
