//go:build !unix

package transport

import "errors"

// trySend performs a single plain write on platforms without direct fd
// access.
func (s *Socket) trySend(b []byte) (int, error) {
	return s.conn.Write(b)
}

func (s *Socket) sendBufferSize() (int, error) {
	return 0, errors.ErrUnsupported
}
