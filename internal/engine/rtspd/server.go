package rtspd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/AlexxIT/go2rtc/pkg/rtsp"

	"camgate/internal/engine"
)

// Server accepts RTSP clients and routes them to mounted streams. It
// implements engine.Mounts; the reconciler adds and removes mounts as
// the desired stream set changes.
type Server struct {
	hub           *Hub
	handlers      map[string]engine.MountHandler
	hmu           sync.RWMutex
	listener      net.Listener
	logger        *slog.Logger
	wg            sync.WaitGroup
	closed        bool
	mu            sync.Mutex
	attachTimeout time.Duration
}

// NewServer creates an RTSP server routing through hub. attachTimeout
// bounds how long a client DESCRIBE may wait for its stream to start.
func NewServer(hub *Hub, attachTimeout time.Duration, logger *slog.Logger) *Server {
	return &Server{
		hub:           hub,
		handlers:      make(map[string]engine.MountHandler),
		logger:        logger,
		attachTimeout: attachTimeout,
	}
}

// Start begins listening for RTSP connections on the specified address.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.closed = false
	s.mu.Unlock()

	s.logger.Info("RTSP server started", "addr", addr)

	go s.acceptLoop()

	return nil
}

// AddMount registers a handler for a mount path. Adding an existing
// path is an error; callers remount by removing first.
func (s *Server) AddMount(path string, handler engine.MountHandler) error {
	s.hmu.Lock()
	defer s.hmu.Unlock()

	if _, ok := s.handlers[path]; ok {
		return fmt.Errorf("mount %s already exists", path)
	}
	s.handlers[path] = handler
	s.logger.Debug("Mount added", "path", path)
	return nil
}

// RemoveMount unregisters a mount path.
func (s *Server) RemoveMount(path string) error {
	s.hmu.Lock()
	defer s.hmu.Unlock()

	if _, ok := s.handlers[path]; !ok {
		return engine.ErrMountNotFound
	}
	delete(s.handlers, path)
	s.logger.Debug("Mount removed", "path", path)
	return nil
}

// MountPaths returns all currently mounted paths.
func (s *Server) MountPaths() []string {
	s.hmu.RLock()
	defer s.hmu.RUnlock()

	paths := make([]string, 0, len(s.handlers))
	for path := range s.handlers {
		paths = append(paths, path)
	}
	return paths
}

func (s *Server) handler(path string) engine.MountHandler {
	s.hmu.RLock()
	defer s.hmu.RUnlock()
	return s.handlers[path]
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()

			if closed {
				return // Server is shutting down
			}
			s.logger.Error("Failed to accept connection", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// handleConn processes an incoming RTSP client connection.
func (s *Server) handleConn(conn net.Conn) {
	rtspConn := rtsp.NewServer(conn)
	remote := conn.RemoteAddr().String()

	var attached engine.MountHandler

	// Listen for RTSP method events
	rtspConn.Listen(func(msg any) {
		switch msg {
		case rtsp.MethodDescribe:
			if rtspConn.URL == nil || len(rtspConn.URL.Path) <= 1 {
				return
			}
			path := rtspConn.URL.Path

			handler := s.handler(path)
			if handler == nil {
				s.logger.Warn("Client requested unknown mount", "path", path, "remote", remote)
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), s.attachTimeout)
			defer cancel()

			if err := handler.Attach(ctx, remote); err != nil {
				s.logger.Warn("Client attach rejected",
					"path", path, "remote", remote, "error", err)
				return
			}

			if err := s.hub.WireConsumer(path, rtspConn); err != nil {
				s.logger.Warn("Failed to wire RTSP consumer",
					"path", path, "remote", remote, "error", err)
				handler.Detach(remote)
				return
			}

			attached = handler
			s.logger.Info("RTSP client connected", "path", path, "remote", remote)

		case rtsp.MethodAnnounce:
			// Push producers are not supported; sources are pulled.
			s.logger.Warn("Rejecting ANNOUNCE, push publishing is not supported",
				"remote", remote)
		}
	})

	// Run RTSP state machine (OPTIONS, DESCRIBE, SETUP, PLAY)
	if err := rtspConn.Accept(); err != nil {
		if !errors.Is(err, net.ErrClosed) {
			s.logger.Debug("RTSP accept error", "error", err)
		}
		if attached != nil {
			attached.Detach(remote)
		}
		return
	}

	// Handle data transfer (blocks until connection closes)
	if err := rtspConn.Handle(); err != nil {
		if !errors.Is(err, net.ErrClosed) {
			s.logger.Debug("RTSP handle error", "error", err)
		}
	}

	if attached != nil {
		attached.Detach(remote)
		s.logger.Info("RTSP client disconnected", "remote", remote)
	}
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			return err
		}
	}

	// Wait for all connections to finish
	s.wg.Wait()

	s.hub.Stop()

	s.logger.Info("RTSP server stopped")
	return nil
}

// Hub returns the server's stream hub.
func (s *Server) Hub() *Hub {
	return s.hub
}
