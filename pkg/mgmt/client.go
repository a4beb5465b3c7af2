package mgmt

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/goccy/go-json"
)

// Client talks to the management server over the local datagram socket.
// It binds its own well-known path so replies have somewhere to land.
type Client struct {
	conn       *net.UnixConn
	serverAddr *net.UnixAddr
	clientPath string
	timeout    time.Duration
}

// NewClient binds clientPath and targets serverPath. Empty paths use the
// defaults.
func NewClient(serverPath, clientPath string) (*Client, error) {
	if serverPath == "" {
		serverPath = DefaultServerPath
	}
	if clientPath == "" {
		clientPath = DefaultClientPath
	}
	_ = os.Remove(clientPath)

	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: clientPath, Net: "unixgram"})
	if err != nil {
		return nil, fmt.Errorf("failed to bind client socket: %w", err)
	}

	return &Client{
		conn:       conn,
		serverAddr: &net.UnixAddr{Name: serverPath, Net: "unixgram"},
		clientPath: clientPath,
		timeout:    5 * time.Second,
	}, nil
}

// Close releases the client socket
func (c *Client) Close() error {
	err := c.conn.Close()
	_ = os.Remove(c.clientPath)
	return err
}

// Do sends one request and waits for its reply
func (c *Client) Do(req *Request) (*Reply, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, err
	}
	if _, err := c.conn.WriteToUnix(payload, c.serverAddr); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	buf := make([]byte, maxDatagram)
	n, _, err := c.conn.ReadFromUnix(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to read reply: %w", err)
	}

	reply := &Reply{}
	if err := json.Unmarshal(buf[:n], reply); err != nil {
		return nil, fmt.Errorf("failed to decode reply: %w", err)
	}
	return reply, nil
}

// Command is a convenience wrapper building the request from parts. A nil
// arg is omitted.
func (c *Client) Command(reqType, cmd string, arg any) (*Reply, error) {
	req := &Request{Type: reqType, Cmd: cmd}
	if arg != nil {
		raw, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to encode argument: %w", err)
		}
		req.Arg = raw
	}
	return c.Do(req)
}
