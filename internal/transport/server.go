// Package transport runs the JSON request/reply socket spec.md §6
// describes as bound to `tcp://*:5555`: one TCP listener, one
// goroutine per connection, each connection decoding and replying to
// requests sequentially until the peer disconnects.
package transport

import (
	"encoding/json"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/D1nhkh01/controller/internal/bridge"
)

// HandlerFunc dispatches one decoded request and returns its reply.
type HandlerFunc func(bridge.Request) bridge.Reply

// Server owns the listening socket and the per-connection dispatch
// loop. It never touches the domain layer directly: Handler is the
// only seam into bridge.Handler.Handle.
type Server struct {
	listener net.Listener
	handler  HandlerFunc
	log      *zap.Logger

	readTimeout time.Duration

	done chan struct{}
}

// Config controls the listen address and per-connection idle timeout.
type Config struct {
	Addr        string // e.g. ":5555"
	ReadTimeout time.Duration
}

func (c Config) readTimeout() time.Duration {
	if c.ReadTimeout > 0 {
		return c.ReadTimeout
	}
	return 5 * time.Minute
}

// Listen binds cfg.Addr and returns a Server ready to Serve.
func Listen(cfg Config, handler HandlerFunc, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener:    ln,
		handler:     handler,
		log:         log,
		readTimeout: cfg.readTimeout(),
		done:        make(chan struct{}),
	}, nil
}

// Addr reports the bound address, useful when Config.Addr used a
// random port (":0") in tests.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve accepts connections until Close is called. It blocks; run it
// in its own goroutine.
func (s *Server) Serve() {
	defer close(s.done)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept failed", zap.Error(err))
			return
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections and waits for Serve to return.
// In-flight connections are not forcibly closed.
func (s *Server) Close() error {
	err := s.listener.Close()
	<-s.done
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)

	for {
		if s.readTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}

		var req bridge.Request
		if err := dec.Decode(&req); err != nil {
			return
		}

		reply := s.handler(req)
		if err := enc.Encode(reply); err != nil {
			s.log.Warn("write reply failed", zap.Error(err))
			return
		}
	}
}
