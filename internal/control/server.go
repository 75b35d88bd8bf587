package control

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"dmxd/internal/logger"
)

const (
	acceptTimeout = time.Second
	readSize      = 1024
)

// Server accepts control protocol connections over TCP.
type Server struct {
	parser    *Parser
	log       logger.Logger
	heartbeat func()

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer конструктор.
func NewServer(parser *Parser, log logger.Logger) *Server {
	return &Server{
		parser: parser,
		log:    log,
		conns:  map[net.Conn]struct{}{},
	}
}

// SetHeartbeat registers a liveness callback invoked from the accept loop.
func (s *Server) SetHeartbeat(beat func()) {
	s.heartbeat = beat
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then closes every
// open connection and waits for their handlers.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	log := s.log.With(logger.Fields{"module": "control"})
	log.Infof("listening on %s", ln.Addr())

	defer func() {
		ln.Close()
		s.mu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
		log.Info("control server stopped")
	}()

	type deadliner interface{ SetDeadline(time.Time) error }
	for {
		if ctx.Err() != nil {
			return nil
		}
		if s.heartbeat != nil {
			s.heartbeat()
		}
		if d, ok := ln.(deadliner); ok {
			_ = d.SetDeadline(time.Now().Add(acceptTimeout))
		}

		conn, err := ln.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// serveConn accumulates bytes until the parser can decide, drops what it
// consumed and closes the connection on a malformed command.
func (s *Server) serveConn(conn net.Conn) {
	log := s.log.With(logger.Fields{"module": "control", "remote": conn.RemoteAddr().String()})
	log.Info("client connected")

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
		s.wg.Done()
	}()

	var pending []byte
	buf := make([]byte, readSize)
	for {
		n, err := conn.Read(buf)
		pending = append(pending, buf[:n]...)

		for len(pending) > 0 {
			used, perr := s.parser.Handle(pending, conn)
			if perr != nil {
				log.Errorf("closing connection: %v", perr)
				return
			}
			if used == 0 {
				break
			}
			pending = pending[used:]
		}

		if err != nil {
			log.Debugf("client disconnected: %v", err)
			return
		}
	}
}
