package uds

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"

	"tradepulse/pkg/exception"
)

var (
	// ErrNilServer is returned when a nil server receiver is used.
	ErrNilServer = errors.New("uds: nil server")
	// ErrAlreadyListening is returned when Listen is called twice.
	ErrAlreadyListening = errors.New("uds: already listening")
	// ErrPathNotSocket is returned when the existing path is not a socket.
	ErrPathNotSocket = errors.New("uds: path exists and is not a socket")
)

// Handler serves one accepted connection. The connection is closed when
// the handler returns.
type Handler func(ctx context.Context, conn net.Conn)

// Server accepts Unix domain socket connections and hands each one to a
// handler goroutine.
type Server struct {
	addr net.UnixAddr

	mu sync.Mutex
	ln *net.UnixListener
}

// NewServer creates a server for the provided socket path.
func NewServer(path string) (*Server, error) {
	if path == "" {
		return nil, exception.ErrEmptyPathUDS
	}
	return &Server{addr: net.UnixAddr{Name: path, Net: unixNetwork}}, nil
}

// Path returns the configured socket path.
func (s *Server) Path() string {
	if s == nil {
		return ""
	}
	return s.addr.Name
}

// Serve listens on the socket path and runs the accept loop until ctx is
// done. A stale socket file is removed before listening; the live one is
// unlinked on close. Returns nil on ctx cancellation.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	if s == nil {
		return ErrNilServer
	}
	if handler == nil {
		return exception.ErrNilInstance
	}

	s.mu.Lock()
	if s.ln != nil {
		s.mu.Unlock()
		return ErrAlreadyListening
	}
	if err := removeIfExists(s.addr.Name); err != nil {
		s.mu.Unlock()
		return err
	}
	ln, err := net.ListenUnix(unixNetwork, &s.addr)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	ln.SetUnlinkOnClose(true)
	s.ln = ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer s.Close()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			handler(ctx, conn)
		}()
	}
}

// Close stops the listener.
func (s *Server) Close() error {
	if s == nil {
		return ErrNilServer
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	err := s.ln.Close()
	s.ln = nil
	return err
}

// removeIfExists removes the socket file if it exists.
func removeIfExists(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return ErrPathNotSocket
	}
	return os.Remove(path)
}
