// Package netx builds HTTP clients whose connect and read phases are
// bounded, so a stalled remote call fails with a timeout instead of hanging.
package netx

import (
	"net"
	"net/http"
	"time"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = 60 * time.Second
)

// NewHTTPClient returns an SDK buildable client with connectTimeout applied
// to dialing and TLS handshakes and readTimeout applied to waiting for
// response headers. Non-positive values fall back to the defaults.
//
// The result stays buildable so the AWS config loader can still apply
// AWS_CA_BUNDLE and similar transport settings on top of it.
func NewHTTPClient(connectTimeout, readTimeout time.Duration) *awshttp.BuildableClient {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}

	return awshttp.NewBuildableClient().
		WithDialerOptions(func(d *net.Dialer) {
			d.Timeout = connectTimeout
		}).
		WithTransportOptions(func(t *http.Transport) {
			t.TLSHandshakeTimeout = connectTimeout
			t.ResponseHeaderTimeout = readTimeout
		})
}
