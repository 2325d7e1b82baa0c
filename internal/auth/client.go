// Package auth resolves bearer tokens and builds HTTP clients that send
// them.
package auth

import (
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// NewHTTPClient returns a client with the given timeout. If token is not
// empty every request carries it as a bearer token.
func NewHTTPClient(token string, timeout time.Duration) *http.Client {
	client := &http.Client{Timeout: timeout}
	if token != "" {
		client.Transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   http.DefaultTransport,
		}
	}
	return client
}
