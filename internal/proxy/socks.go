// Package proxy builds the HTTP client shared by hosted backends.
package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"
)

const Timeout = 120 * time.Second

// NewClient returns an HTTP client that dials through the SOCKS5 proxy at
// addr, or a plain client when addr is empty.
func NewClient(addr string) (*http.Client, error) {
	if addr == "" {
		return &http.Client{Timeout: Timeout}, nil
	}

	dialer, err := proxy.SOCKS5("tcp", addr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("socks5 %s: %w", addr, err)
	}

	dial := func(ctx context.Context, network, target string) (net.Conn, error) {
		return dialer.Dial(network, target)
	}
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		dial = cd.DialContext
	}

	return &http.Client{
		Transport: &http.Transport{DialContext: dial},
		Timeout:   Timeout,
	}, nil
}
