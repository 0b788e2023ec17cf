// Package protocol classifies a freshly accepted TCP connection by its first
// byte so one port can serve both carriers.
//
// An HTTP request line always starts with an upper-case method token
// ("GET", "POST", ...), while the socket carrier's stream starts with a JSON
// value ('{' or '[', possibly after whitespace). Nothing else is inspected.
//
//	'A'..'Z'  → KindHTTP
//	otherwise → KindSocket
package protocol

import (
	"fmt"
	"net"
	"time"
)

// Kind is the carrier a connection is routed to.
type Kind int

const (
	KindSocket Kind = iota
	KindHTTP
)

func (k Kind) String() string {
	switch k {
	case KindHTTP:
		return "http"
	case KindSocket:
		return "socket"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Detect classifies a connection from its first byte.
func Detect(first byte) Kind {
	if first >= 'A' && first <= 'Z' {
		return KindHTTP
	}
	return KindSocket
}

// sniffChunk is the size of the first read. Whatever arrives in it is
// replayed, so it need not hold a complete message.
const sniffChunk = 4096

// Sniff reads the first chunk from conn and classifies it. The returned
// connection replays that chunk before reading from conn again, so no bytes
// are lost to the chosen carrier. A zero timeout waits indefinitely.
func Sniff(conn net.Conn, timeout time.Duration) (Kind, net.Conn, error) {
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return 0, nil, err
		}
	}
	buf := make([]byte, sniffChunk)
	n, err := conn.Read(buf)
	if timeout > 0 {
		// Clear the deadline for the carrier that takes over.
		if derr := conn.SetReadDeadline(time.Time{}); derr != nil && err == nil {
			err = derr
		}
	}
	if n == 0 {
		if err == nil {
			err = fmt.Errorf("protocol: empty first read")
		}
		return 0, nil, err
	}
	return Detect(buf[0]), &replayConn{Conn: conn, pending: buf[:n]}, nil
}

// replayConn serves a previously read chunk before falling through to the
// underlying connection.
type replayConn struct {
	net.Conn
	pending []byte
}

func (c *replayConn) Read(p []byte) (int, error) {
	if len(c.pending) > 0 {
		n := copy(p, c.pending)
		c.pending = c.pending[n:]
		return n, nil
	}
	return c.Conn.Read(p)
}
