// Package relay implements the bidirectional byte pump that moves traffic
// between a session's client socket and its upstream socket once the
// CONNECT handshake succeeds. Grounded on the teacher's natmap timedCopy
// (socks/nat.go) and trojan's two-goroutine relay (trojan/net.go),
// generalized to the half-close/hard-close distinction of §4.5: an EOF read
// from one leg shuts down only the other leg's write half, while any other
// read or write error closes both sockets outright so the peer pump's
// blocked read is never left to leak a file descriptor.
package relay

import (
	"io"
	"net"

	"golang.org/x/sync/errgroup"
)

// DefaultBufferSize is used when Run is called with a non-positive
// bufferSize.
const DefaultBufferSize = 32 * 1024

// halfCloser is implemented by *net.TCPConn (and anything else that can
// shut down its write half without closing the read half).
type halfCloser interface {
	CloseWrite() error
}

// Run pumps bytes in both directions between a and b until both directions
// have ended, then returns the byte count carried in each direction plus
// the first non-nil error encountered (nil if both directions ended in
// plain EOF). On the clean-EOF path Run only shuts down write halves (a
// conn without CloseWrite is closed outright instead), so callers that own
// TCP sockets may still need to close them once Run returns — but it
// unconditionally closes both on any hard error, per
// the no-leak invariant of §8. aToB is the byte count copied from a to b;
// bToA is the reverse direction — both are useful for a session's closing
// audit line.
func Run(a, b net.Conn, bufferSize int) (aToB, bToA int64, err error) {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	g := new(errgroup.Group)
	g.Go(func() error {
		n, err := pump(b, a, bufferSize)
		aToB = n
		return err
	})
	g.Go(func() error {
		n, err := pump(a, b, bufferSize)
		bToA = n
		return err
	})
	err = g.Wait()
	return aToB, bToA, err
}

// pump copies src into dst until src reaches EOF or an error occurs,
// reporting the number of bytes copied. On clean EOF it half-closes dst's
// write side, signalling end-of-stream to dst's peer while leaving dst's
// read half open for the opposite-direction pump. On any other error it
// closes both src and dst outright, which is what unblocks a concurrent
// pump stuck reading the other leg.
func pump(dst, src net.Conn, bufferSize int) (int64, error) {
	buf := make([]byte, bufferSize)
	n, err := io.CopyBuffer(dst, src, buf)
	if err == nil {
		halfClose(dst)
		return n, nil
	}
	dst.Close()
	src.Close()
	return n, err
}

func halfClose(conn net.Conn) {
	if hc, ok := conn.(halfCloser); ok {
		_ = hc.CloseWrite()
		return
	}
	_ = conn.Close()
}
