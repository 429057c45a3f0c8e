// Package netclient maintains the TCP connection to a match server and
// pumps decoded messages into a bubbletea program.
package netclient

import (
	"log"
	"net"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hersh/blockbattle/internal/protocol"
	"github.com/hersh/blockbattle/internal/wire"
)

const (
	dialTimeout = 5 * time.Second
	sendBuffer  = 256
)

// ServerMsg is a tea.Msg that wraps a decoded server message.
type ServerMsg struct {
	Msg protocol.Message
}

// DisconnectedMsg is sent when the connection to the match server is lost.
type DisconnectedMsg struct {
	Err error
}

// Client manages the framed TCP connection to the match server.
type Client struct {
	mu      sync.Mutex
	conn    *wire.Conn
	sendCh  chan protocol.Message
	program *tea.Program
	done    chan struct{}
	closed  bool
}

// Dial connects to the match server at addr.
func Dial(addr string) (*Client, error) {
	raw, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, err
	}
	return &Client{
		conn:   wire.NewConn(raw),
		sendCh: make(chan protocol.Message, sendBuffer),
		done:   make(chan struct{}),
	}, nil
}

// SetProgram sets the bubbletea program so the client can send messages to it.
func (c *Client) SetProgram(p *tea.Program) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.program = p
}

// Start launches the read and write pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// Send enqueues a message for the server. Never blocks; a full queue
// drops the message.
func (c *Client) Send(msg protocol.Message) {
	select {
	case c.sendCh <- msg:
	default:
		log.Printf("client send queue full, dropping %s", msg.Type())
	}
}

// Close shuts down the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	c.conn.Close()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// readPump decodes incoming frames and forwards them to the program.
func (c *Client) readPump() {
	defer func() {
		c.mu.Lock()
		p := c.program
		c.mu.Unlock()
		if p != nil {
			p.Send(DisconnectedMsg{})
		}
	}()

	for {
		raw, err := c.conn.Receive()
		if err != nil {
			if !c.isClosed() {
				log.Printf("readPump error: %v", err)
			}
			return
		}
		msg, err := protocol.Decode(raw)
		if err != nil {
			log.Printf("client decode error: %v", err)
			continue
		}

		c.mu.Lock()
		p := c.program
		c.mu.Unlock()
		if p != nil {
			p.Send(ServerMsg{Msg: msg})
		}
	}
}

// writePump writes queued messages to the connection.
func (c *Client) writePump() {
	for {
		select {
		case msg := <-c.sendCh:
			if err := c.conn.Send(msg); err != nil {
				if !c.isClosed() {
					log.Printf("writePump error: %v", err)
				}
				return
			}
		case <-c.done:
			return
		}
	}
}
