// Package httpx builds the HTTP client used for calls leaving the service:
// model providers and Slack.
package httpx

import (
	"net/http"
	"time"
)

const DefaultTimeout = 90 * time.Second

// NewExternalClient returns a client with its own transport. A non-positive
// timeout selects DefaultTimeout.
func NewExternalClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout
	return &http.Client{Timeout: timeout, Transport: transport}
}
