package client

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"plaindex/pkg/common"
	"plaindex/pkg/protocol"
)

const dialTimeout = 5 * time.Second

// Client speaks the binary protocol over one connection. Calls are
// serialized; use several clients for parallel load.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	dial func() (net.Conn, error)
}

func Dial(addr string) (*Client, error) {
	dial := func() (net.Conn, error) {
		return net.DialTimeout("tcp", addr, dialTimeout)
	}
	return NewWithDialer(dial)
}

// NewWithDialer connects through dial, which is called again for the single
// reconnect after an I/O error.
func NewWithDialer(dial func() (net.Conn, error)) (*Client, error) {
	conn, err := dial()
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, dial: dial}, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) send(op byte, key, val []byte) (*protocol.Packet, error) {
	if c.conn == nil {
		return nil, net.ErrClosed
	}
	if err := protocol.Encode(c.conn, op, key, val); err != nil {
		return nil, err
	}
	return protocol.Decode(c.conn)
}

// roundTrip sends one request, reconnecting and retrying once when the
// connection fails. Remote errors are not retried.
func (c *Client) roundTrip(op byte, key, val []byte) (*protocol.Packet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.send(op, key, val)
	if err != nil && c.conn != nil {
		c.conn.Close()
		conn, derr := c.dial()
		if derr != nil {
			c.conn = nil
			return nil, fmt.Errorf("client: reconnect after %v: %w", err, derr)
		}
		c.conn = conn
		resp, err = c.send(op, key, val)
	}
	if err != nil {
		return nil, err
	}
	if resp.Op == protocol.RespErr {
		return nil, protocol.DecodeError(resp.Value)
	}
	return resp, nil
}

// Locate returns the predicted position of key in index and its segment.
func (c *Client) Locate(index string, key common.KeyType) (uint64, int, error) {
	resp, err := c.roundTrip(protocol.OpLocate, []byte(index), protocol.EncodeKey(key))
	if err != nil {
		return 0, 0, err
	}
	return protocol.DecodeLocate(resp.Value)
}

// RankOf returns the first-occurrence rank of key; found is false for
// absent keys.
func (c *Client) RankOf(index string, key common.KeyType) (uint64, bool, error) {
	resp, err := c.roundTrip(protocol.OpRank, []byte(index), protocol.EncodeKey(key))
	if err != nil {
		return 0, false, err
	}
	switch resp.Op {
	case protocol.RespNotFound:
		return 0, false, nil
	case protocol.RespVal:
		vs, err := protocol.DecodeUint64s(resp.Value, 1)
		if err != nil {
			return 0, false, err
		}
		return vs[0], true, nil
	}
	return 0, false, fmt.Errorf("%w: unexpected response %#x", common.ErrCorruptFormat, resp.Op)
}

// Range returns the positions [from, to) of keys in [lo, hi].
func (c *Client) Range(index string, lo, hi common.KeyType) (uint64, uint64, error) {
	resp, err := c.roundTrip(protocol.OpRange, []byte(index), protocol.EncodeRange(lo, hi))
	if err != nil {
		return 0, 0, err
	}
	vs, err := protocol.DecodeUint64s(resp.Value, 2)
	if err != nil {
		return 0, 0, err
	}
	return vs[0], vs[1], nil
}

// Stats returns server stats, or the summary of one index when index is
// not empty.
func (c *Client) Stats(index string) (map[string]interface{}, error) {
	resp, err := c.roundTrip(protocol.OpStats, []byte(index), nil)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(resp.Value, &out); err != nil {
		return nil, fmt.Errorf("%w: stats: %v", common.ErrCorruptFormat, err)
	}
	return out, nil
}
