// Package monitor streams per-frame sync statistics to attached debugging
// tools over TCP.
package monitor

import (
	"errors"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ServerOptions sizes the monitor listener.
type ServerOptions struct {
	EngineName string // sent in the hello frame
	InQueue    int    // client requests buffered per session
	OutQueue   int    // frames buffered per session before dropping
	MaxClients int    // 0 = unlimited
}

// Server accepts monitor clients. Accepted sessions are handed to the Hub
// on the frame loop through a channel; the Hub reports departures back with
// release so the client cap stays accurate.
type Server struct {
	listener net.Listener
	opts     ServerOptions
	nextID   atomic.Uint64
	active   atomic.Int32
	rejected atomic.Uint64
	newConns chan *Session
	log      *zap.Logger
	closeCh  chan struct{}
}

func NewServer(bindAddr string, opts ServerOptions, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}
	if opts.InQueue < 1 {
		opts.InQueue = 16
	}
	if opts.OutQueue < 1 {
		opts.OutQueue = 64
	}
	return &Server{
		listener: ln,
		opts:     opts,
		newConns: make(chan *Session, 16),
		log:      log,
		closeCh:  make(chan struct{}),
	}, nil
}

// AcceptLoop runs in its own goroutine until Shutdown.
func (s *Server) AcceptLoop() {
	var delay time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closeCh:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			delay = backoff(delay)
			s.log.Error("monitor accept failed", zap.Duration("retry_in", delay), zap.Error(err))
			time.Sleep(delay)
			continue
		}
		delay = 0

		if limit := s.opts.MaxClients; limit > 0 && int(s.active.Load()) >= limit {
			s.rejected.Add(1)
			s.log.Warn("monitor client limit reached, rejecting",
				zap.String("ip", conn.RemoteAddr().String()), zap.Int("max", limit))
			conn.Close()
			continue
		}

		id := s.nextID.Add(1)
		sess := NewSession(conn, id, s.opts.InQueue, s.opts.OutQueue, s.log)
		sess.Start(s.opts.EngineName)
		s.active.Add(1)

		select {
		case s.newConns <- sess:
			s.log.Info("monitor client connected", zap.Uint64("session", id), zap.String("ip", sess.IP))
		default:
			s.log.Warn("monitor handoff full, rejecting client", zap.Uint64("session", id))
			sess.Close()
			s.release()
			s.rejected.Add(1)
		}
	}
}

func backoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

// release frees a client slot.
func (s *Server) release() { s.active.Add(-1) }

// NewSessions returns the channel of newly connected sessions.
func (s *Server) NewSessions() <-chan *Session {
	return s.newConns
}

// Active reports sessions accepted and not yet released.
func (s *Server) Active() int { return int(s.active.Load()) }

// Rejected counts connections refused by the client cap or a full handoff.
func (s *Server) Rejected() uint64 { return s.rejected.Load() }

// Shutdown stops accepting new connections.
func (s *Server) Shutdown() {
	close(s.closeCh)
	s.listener.Close()
}

// Addr returns the listener's address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
