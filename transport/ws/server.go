// Package ws provides the websocket connection managers the services use to
// talk to each other: a Server with a polled inbound queue and broadcast,
// and a Client counterpart. Payload interpretation is left to the caller.
package ws

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Inbound is one received frame together with the peer it came from, so
// request/response flows can answer the right connection.
type Inbound struct {
	Payload []byte
	Peer    *Peer
}

// Peer is one accepted connection. Send is safe for concurrent use; gorilla
// allows only one concurrent writer per connection.
type Peer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Send writes one text frame to the peer.
func (p *Peer) Send(payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, payload)
}

// RemoteAddr identifies the peer for logging.
func (p *Peer) RemoteAddr() string {
	return p.conn.RemoteAddr().String()
}

// Server accepts websocket connections and funnels every received frame
// into one bounded queue the owner drains with Dequeue. When the queue is
// full new frames are dropped and counted against the peer in the log.
type Server struct {
	log      *zap.Logger
	addr     string
	upgrader websocket.Upgrader
	httpSrv  *http.Server
	listener net.Listener
	inbound  chan Inbound

	mu    sync.Mutex
	peers map[*Peer]struct{}
}

// NewServer builds a server listening on addr once started.
func NewServer(addr string, queueSize int, log *zap.Logger) *Server {
	return &Server{
		log:     log,
		addr:    addr,
		inbound: make(chan Inbound, queueSize),
		peers:   make(map[*Peer]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("ws server listen %s: %w", s.addr, err)
	}
	s.listener = ln
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	s.httpSrv = &http.Server{Handler: mux}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("ws server stopped", zap.Error(err))
		}
	}()
	s.log.Info("ws server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, useful when listening on :0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	peer := &Peer{conn: conn}
	s.mu.Lock()
	s.peers[peer] = struct{}{}
	s.mu.Unlock()
	s.log.Info("peer connected", zap.String("remote", peer.RemoteAddr()))

	go s.readLoop(peer)
}

func (s *Server) readLoop(peer *Peer) {
	defer func() {
		s.mu.Lock()
		delete(s.peers, peer)
		s.mu.Unlock()
		peer.conn.Close()
		s.log.Info("peer disconnected", zap.String("remote", peer.RemoteAddr()))
	}()

	for {
		_, payload, err := peer.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case s.inbound <- Inbound{Payload: payload, Peer: peer}:
		default:
			s.log.Warn("inbound queue full, dropping frame",
				zap.String("remote", peer.RemoteAddr()))
		}
	}
}

// Dequeue pops the next inbound frame, waiting at most timeout. A zero
// timeout polls without waiting.
func (s *Server) Dequeue(timeout time.Duration) (Inbound, bool) {
	if timeout <= 0 {
		select {
		case in := <-s.inbound:
			return in, true
		default:
			return Inbound{}, false
		}
	}
	select {
	case in := <-s.inbound:
		return in, true
	case <-time.After(timeout):
		return Inbound{}, false
	}
}

// Broadcast sends payload to every connected peer. Send errors only drop
// the failing peer's frame; the read loop tears the connection down.
func (s *Server) Broadcast(payload []byte) {
	s.mu.Lock()
	peers := make([]*Peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		if err := p.Send(payload); err != nil {
			s.log.Debug("broadcast send failed", zap.String("remote", p.RemoteAddr()), zap.Error(err))
		}
	}
}

// Close shuts the listener and all peer connections down.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	for p := range s.peers {
		p.conn.Close()
	}
	s.mu.Unlock()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
