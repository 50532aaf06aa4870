package extraction

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/net/proxy"
)

// newSocks5Transport builds an http.RoundTripper that dials through a
// SOCKS5 proxy, grounded on pkg/imdb2torrent/proxy.go's
// newSOCKS5httpClient.
func newSocks5Transport(addr string) (*http.Transport, error) {
	dialer, err := proxy.SOCKS5("tcp", addr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("creating SOCKS5 dialer for %s: %w", addr, err)
	}
	contextDialer, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("SOCKS5 dialer for %s doesn't support contexts", addr)
	}
	return &http.Transport{
		DialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
			return contextDialer.DialContext(ctx, network, address)
		},
	}, nil
}
