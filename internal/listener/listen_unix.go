//go:build unix && !linux

package listener

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// listen uses the runtime's listener; the backlog is left to the OS default.
func listen(ctx context.Context, addr *net.TCPAddr, cfg Config) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var serr error
			err := c.Control(func(fd uintptr) {
				if cfg.ReuseAddr {
					if serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); serr != nil {
						return
					}
				}
				if cfg.ReusePort {
					serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
				}
			})
			if err != nil {
				return err
			}
			return serr
		},
	}
	return lc.Listen(ctx, "tcp", addr.String())
}
