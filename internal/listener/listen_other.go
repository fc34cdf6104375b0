//go:build !unix

package listener

import (
	"context"
	"net"
)

// listen falls back to the runtime defaults; reuse options and backlog are
// not applied on this platform.
func listen(ctx context.Context, addr *net.TCPAddr, _ Config) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(ctx, "tcp", addr.String())
}
