// Package transport binds the outbound datagram socket used to stream
// captured audio.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"strconv"
	"sync/atomic"
	"syscall"

	"github.com/decred/slog"
)

var (
	// ErrBind is returned when the local socket could not be created or
	// bound.
	ErrBind = errors.New("unable to bind local socket")

	// ErrConnect is returned when the remote address could not be resolved
	// or the socket could not be connected to it.
	ErrConnect = errors.New("unable to connect socket to remote address")

	errSocketClosed = errors.New("socket closed")
	errEmptyHost    = fmt.Errorf("%w: empty host", ErrConnect)
)

// MinSendBufferSize is the default minimum kernel send buffer size below
// which Bind logs a warning.
const MinSendBufferSize = 64 * 1024

type config struct {
	log           slog.Logger
	resolver      *net.Resolver
	minSendBuffer int
}

// Option is a configuration option for Bind.
type Option func(*config)

// WithLogger sets the logger used during bind.
func WithLogger(log slog.Logger) Option {
	return func(cfg *config) {
		cfg.log = log
	}
}

// WithResolver sets the resolver used to look up the remote host.
func WithResolver(r *net.Resolver) Option {
	return func(cfg *config) {
		cfg.resolver = r
	}
}

// WithMinSendBuffer sets the kernel send buffer size below which a warning is
// logged. Zero disables the check.
func WithMinSendBuffer(size int) Option {
	return func(cfg *config) {
		cfg.minSendBuffer = size
	}
}

// classifyDialError maps an error returned by the dialer to the failed step.
func classifyDialError(err error) error {
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		switch sysErr.Syscall {
		case "socket", "bind", "setsockopt":
			return fmt.Errorf("%w: %v", ErrBind, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrConnect, err)
}

// Socket is a UDP socket connected to a single remote endpoint. A Socket is
// reference counted: the underlying connection is closed when the last
// reference is closed.
type Socket struct {
	conn *net.UDPConn
	raw  syscall.RawConn
	refs atomic.Int32
}

// Bind creates an ephemeral datagram socket on the wildcard address and
// connects it to host:port. The returned socket holds one reference.
//
// An empty host fails with ErrConnect. The dialer would otherwise connect to
// the local system.
func Bind(ctx context.Context, host string, port uint16, opts ...Option) (*Socket, error) {
	if host == "" {
		return nil, errEmptyHost
	}

	cfg := config{
		log:           slog.Disabled,
		minSendBuffer: MinSendBufferSize,
	}
	for _, o := range opts {
		o(&cfg)
	}

	d := net.Dialer{
		LocalAddr: &net.UDPAddr{},
		Resolver:  cfg.resolver,
	}
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))
	c, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, classifyDialError(err)
	}

	conn, ok := c.(*net.UDPConn)
	if !ok {
		c.Close()
		return nil, fmt.Errorf("%w: unexpected conn type %T", ErrBind, c)
	}
	raw, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrBind, err)
	}

	s := &Socket{conn: conn, raw: raw}
	s.refs.Store(1)
	cfg.log.Debugf("Bound %s to remote %s", conn.LocalAddr(), conn.RemoteAddr())

	if cfg.minSendBuffer > 0 {
		checkKernelSendBufferSize(s, cfg.minSendBuffer, cfg.log)
	}
	return s, nil
}

// Ref adds a reference to the socket and returns it.
func (s *Socket) Ref() *Socket {
	s.refs.Add(1)
	return s
}

// Close drops one reference to the socket. The underlying connection is
// closed when the last reference is dropped.
func (s *Socket) Close() error {
	refs := s.refs.Add(-1)
	switch {
	case refs == 0:
		return s.conn.Close()
	case refs < 0:
		s.refs.Add(1)
		return errSocketClosed
	default:
		return nil
	}
}

// TrySend attempts exactly one write of b to the remote endpoint without
// waiting for the socket to become writable. Errors (including a full send
// buffer) are returned and the datagram is dropped.
func (s *Socket) TrySend(b []byte) (int, error) {
	return s.trySend(b)
}

// LocalAddr returns the local address of the socket.
func (s *Socket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// RemoteAddr returns the remote endpoint of the socket.
func (s *Socket) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// SendBufferSize returns the kernel send buffer size of the socket.
func (s *Socket) SendBufferSize() (int, error) {
	return s.sendBufferSize()
}

// checkKernelSendBufferSize logs a warning when the kernel buffer for the
// socket is small enough that it could cause datagrams to be dropped.
func checkKernelSendBufferSize(s *Socket, minSize int, log slog.Logger) {
	size, err := s.SendBufferSize()
	if errors.Is(err, errors.ErrUnsupported) {
		return
	}
	if err != nil {
		log.Warnf("Unable to query kernel for UDP send buffer size of %s: %v",
			s.LocalAddr(), err)
		return
	}
	if size >= minSize {
		return
	}

	log.Warnf("Kernel UDP send buffer size for %s is too small (%d bytes)",
		s.LocalAddr(), size)
	switch runtime.GOOS {
	case "linux":
		log.Warnf("Use `sysctl -w net.core.{wmem_max,wmem_default}=size_in_bytes` " +
			"to set the UDP kernel buffer sizes on Linux")
	case "openbsd":
		log.Warnf("Use `sysctl net.inet.udp.sendspace=size_in_bytes` " +
			"to set the UDP kernel buffer sizes on OpenBSD")
	}
}
