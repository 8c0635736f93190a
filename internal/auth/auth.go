// Package auth provides Chronicle API authentication.
package auth

import "net/http"

// Credentials holds a bearer token for the Chronicle API.
// Obtaining and refreshing the token (service account, ADC, gcloud) is
// the caller's responsibility.
type Credentials struct {
	Token string
}

// Apply adds the Authorization header to an HTTP request.
func (c *Credentials) Apply(req *http.Request) {
	if c == nil || c.Token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
}

// Valid reports whether credentials are configured.
func (c *Credentials) Valid() bool {
	return c != nil && c.Token != ""
}
