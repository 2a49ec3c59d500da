//go:build unix

package transport

import (
	"golang.org/x/sys/unix"
)

func (s *Socket) trySend(b []byte) (int, error) {
	var n int
	var writeErr error
	err := s.raw.Write(func(fd uintptr) bool {
		n, writeErr = unix.Write(int(fd), b)
		// Returning true means the write is not retried once the
		// socket becomes writable.
		return true
	})
	if err != nil {
		return 0, err
	}
	if n < 0 {
		n = 0
	}
	return n, writeErr
}

func (s *Socket) sendBufferSize() (int, error) {
	var size int
	var getErr error
	err := s.raw.Control(func(fd uintptr) {
		size, getErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF)
	})
	if err != nil {
		return 0, err
	}
	return size, getErr
}
