package grpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// RemoteError is a failure reported by the server rather than by the
// transport. Code mirrors the HTTP status the same failure gets over REST.
type RemoteError struct {
	Method  string
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s failed (%d): %s", e.Method, e.Code, e.Message)
}

// reply is Response as the client sees it: Data stays raw until the caller
// says what it should decode into.
type reply struct {
	ID    string          `json:"id"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
	Code  int             `json:"code"`
}

// Client is a JSON-over-TCP RPC client. Calls on one Client are serialized
// over a single connection.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	enc    *json.Encoder
	dec    *json.Decoder
	lastID int64
}

// Dial connects to the server at addr. ctx bounds only the connect.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return &Client{conn: conn, enc: json.NewEncoder(conn), dec: json.NewDecoder(conn)}, nil
}

// Call invokes method with params and decodes the reply into result, which
// may be nil. A deadline on ctx bounds the exchange. A transport failure
// leaves the connection unusable; a *RemoteError does not.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding %s params: %w", method, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("setting deadline: %w", err)
	}
	defer c.conn.SetDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() { c.conn.SetDeadline(time.Now()) })
	defer stop()

	c.lastID++
	id := strconv.FormatInt(c.lastID, 10)
	if err := c.enc.Encode(Request{Method: method, ID: id, Params: raw}); err != nil {
		return fmt.Errorf("sending %s: %w", method, c.cause(ctx, err))
	}
	var rep reply
	if err := c.dec.Decode(&rep); err != nil {
		return fmt.Errorf("reading %s reply: %w", method, c.cause(ctx, err))
	}
	if rep.ID != id {
		return fmt.Errorf("%s: reply id %q does not match request id %q", method, rep.ID, id)
	}
	if rep.Error != "" {
		return &RemoteError{Method: method, Code: rep.Code, Message: rep.Error}
	}
	if result == nil || len(rep.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(rep.Data, result); err != nil {
		return fmt.Errorf("decoding %s result: %w", method, err)
	}
	return nil
}

// cause prefers the context error over the i/o timeout it provoked.
func (c *Client) cause(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return err
}

// Close closes the underlying TCP connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
