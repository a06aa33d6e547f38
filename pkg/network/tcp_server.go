package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/time/rate"

	"plaindex/pkg/common"
	"plaindex/pkg/core"
	"plaindex/pkg/logging"
	"plaindex/pkg/protocol"
)

type TCPServer struct {
	engine  *core.Engine
	logger  *logging.Logger
	limiter *rate.Limiter

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

func NewTCPServer(engine *core.Engine, logger *logging.Logger) *TCPServer {
	if logger == nil {
		logger = logging.Noop()
	}
	return &TCPServer{engine: engine, logger: logger, conns: make(map[net.Conn]struct{})}
}

// WithRateLimit shares one token bucket across all connections. Requests
// over the limit get a RespErr instead of being queued.
func (s *TCPServer) WithRateLimit(qps float64, burst int) *TCPServer {
	if qps > 0 {
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(qps), burst)
	}
	return s
}

func (s *TCPServer) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.logger.Info("tcp server listening", "addr", listener.Addr().String())
	return s.Serve(listener)
}

// Serve accepts connections until Close is called.
func (s *TCPServer) Serve(listener net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		listener.Close()
		return net.ErrClosed
	}
	s.listener = listener
	s.mu.Unlock()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("tcp accept failed", "error", err)
			continue
		}
		if !s.track(conn) {
			continue
		}
		go func() {
			defer s.untrack(conn)
			s.ServeConn(conn)
		}()
	}
}

// track registers conn under the lock Close takes. After Close it closes
// conn and reports false.
func (s *TCPServer) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		conn.Close()
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *TCPServer) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}

// Addr is the listening address, nil before Serve.
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting, drops open connections and waits for handlers.
func (s *TCPServer) Close() error {
	s.mu.Lock()
	s.closed = true
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

// ServeConn answers requests on conn until the peer hangs up or sends a
// malformed frame.
func (s *TCPServer) ServeConn(conn net.Conn) {
	defer conn.Close()

	for {
		req, err := protocol.Decode(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("tcp decode failed", "remote", conn.RemoteAddr().String(), "error", err)
			}
			return
		}
		op, val := s.dispatch(req)
		if err := protocol.Encode(conn, op, nil, val); err != nil {
			return
		}
	}
}

func (s *TCPServer) dispatch(req *protocol.Packet) (byte, []byte) {
	if s.limiter != nil && !s.limiter.Allow() {
		s.engine.Metrics().RateLimited()
		return protocol.RespErr, protocol.EncodeError(errors.New("rate limit exceeded"))
	}
	name := string(req.Key)

	switch req.Op {
	case protocol.OpLocate:
		key, err := protocol.DecodeKey(req.Value)
		if err != nil {
			return errResp(err)
		}
		pred, seg, err := s.engine.Locate(name, key)
		if err != nil {
			return errResp(err)
		}
		return protocol.RespVal, protocol.EncodeLocate(pred, seg)

	case protocol.OpRank:
		key, err := protocol.DecodeKey(req.Value)
		if err != nil {
			return errResp(err)
		}
		rank, found, err := s.engine.RankOf(context.Background(), name, key)
		if err != nil {
			return errResp(err)
		}
		if !found {
			return protocol.RespNotFound, nil
		}
		return protocol.RespVal, protocol.EncodeUint64s(rank)

	case protocol.OpRange:
		lo, hi, err := protocol.DecodeRange(req.Value)
		if err != nil {
			return errResp(err)
		}
		from, to, err := s.engine.Range(name, lo, hi)
		if err != nil {
			return errResp(err)
		}
		return protocol.RespVal, protocol.EncodeUint64s(from, to)

	case protocol.OpStats:
		var v interface{} = s.engine.Stats()
		if name != "" {
			info, err := s.engine.Info(name)
			if err != nil {
				return errResp(err)
			}
			v = info
		}
		data, err := json.Marshal(v)
		if err != nil {
			return errResp(err)
		}
		return protocol.RespVal, data
	}
	return errResp(fmt.Errorf("%w: unknown op %#x", common.ErrInvalidInput, req.Op))
}

func errResp(err error) (byte, []byte) {
	return protocol.RespErr, protocol.EncodeError(err)
}
