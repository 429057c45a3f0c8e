// Package wire implements the length-prefixed framing used by every
// connection in the platform: a 4-byte big-endian unsigned length followed
// by a UTF-8 JSON body.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
)

// DefaultMaxFrameSize bounds a single message body. Large enough for game
// bundle uploads elsewhere in the platform; snapshots are a few KB.
const DefaultMaxFrameSize = 50 * 1024 * 1024

var (
	// ErrFrameTooLarge is returned by Send when the encoded body exceeds
	// the frame size limit, and by Receive when the peer announces one.
	ErrFrameTooLarge = errors.New("wire: frame exceeds size limit")

	// ErrBadLength is returned by Receive for a zero-length prefix.
	ErrBadLength = errors.New("wire: invalid frame length")
)

// Conn wraps a stream connection with message framing. All socket and
// decoding failures surface as returned errors; nothing escapes as a panic.
// A Conn is safe for concurrent senders; receives are expected from a
// single reader goroutine.
type Conn struct {
	c       net.Conn
	sendMu  sync.Mutex
	maxSize uint32
}

// Option configures a Conn.
type Option func(*Conn)

// WithMaxFrameSize overrides the frame size limit.
func WithMaxFrameSize(n uint32) Option {
	return func(c *Conn) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// NewConn wraps c with framing.
func NewConn(c net.Conn, opts ...Option) *Conn {
	conn := &Conn{c: c, maxSize: DefaultMaxFrameSize}
	for _, opt := range opts {
		opt(conn)
	}
	return conn
}

// Send encodes v as JSON and writes it as one frame. The send mutex keeps
// frames from concurrent callers from interleaving byte-for-byte. Oversize
// bodies are rejected before any bytes reach the socket.
func (c *Conn) Send(v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: encode: %w", err)
	}
	// Compare before converting so bodies past 4 GiB cannot wrap the
	// uint32 length prefix.
	if len(body) > int(c.maxSize) {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}

	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(body)))
	copy(frame[4:], body)

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if _, err := c.c.Write(frame); err != nil {
		return fmt.Errorf("wire: write: %w", err)
	}
	return nil
}

// Receive reads one frame and returns the raw JSON body. A short read (peer
// closed mid-frame) or an out-of-range length yields an error; io.EOF is
// returned unwrapped when the peer closes cleanly between frames.
func (c *Conn) Receive() ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(c.c, prefix[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("wire: read length: %w", err)
	}

	n := binary.BigEndian.Uint32(prefix[:])
	if n == 0 {
		return nil, ErrBadLength
	}
	if n > c.maxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(c.c, body); err != nil {
		return nil, fmt.Errorf("wire: read body: %w", err)
	}
	return body, nil
}

// RemoteAddr reports the peer address, for logging.
func (c *Conn) RemoteAddr() net.Addr {
	return c.c.RemoteAddr()
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.c.Close()
}
