package httpx

import (
	"net"
	"net/http"
	"time"
)

const DefaultExternalTimeout = 60 * time.Second

// NewExternalClient returns the client used for every outbound call (LLM
// providers and remote preview images).  The timeout bounds connecting, the
// TLS handshake and waiting for response headers.  Reading the body is left to
// the request context so a long chat stream is not cut off.  A non-positive
// timeout falls back to DefaultExternalTimeout.
func NewExternalClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultExternalTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = timeout
	transport.ResponseHeaderTimeout = timeout
	return &http.Client{Transport: transport}
}
