// Package netutils binds the TCP listeners of the auxiliary HTTP endpoints
// (metrics and profiler).
package netutils

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Listen binds to addr. An empty host binds on both tcp4 and tcp6 (whichever
// is available), an IP literal binds on its own family and any other host
// name is left for the resolver to pick.
func Listen(addr string) ([]net.Listener, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("%q is not a host:port listener address", addr)
	}

	// Remove the IPv6 zone, which ParseIP does not handle.
	ipHost := host
	if i := strings.Index(ipHost, "%"); i != -1 {
		ipHost = ipHost[:i]
	}

	var networks []string
	switch ip := net.ParseIP(ipHost); {
	case host == "":
		networks = []string{"tcp4", "tcp6"}
	case ip == nil:
		networks = []string{"tcp"}
	case ip.To4() == nil:
		networks = []string{"tcp6"}
	default:
		networks = []string{"tcp4"}
	}

	listeners := make([]net.Listener, 0, len(networks))
	var errs []error
	for _, network := range networks {
		l, err := net.Listen(network, addr)
		if err != nil {
			errs = append(errs, fmt.Errorf("unable to listen on %s:%s: %w",
				network, addr, err))
			continue
		}
		listeners = append(listeners, l)
	}

	// A dual-stack bind succeeds if either family is available.
	if len(listeners) == 0 {
		return nil, errors.Join(errs...)
	}
	return listeners, nil
}

// CloseAll closes every listener and returns the first error.
func CloseAll(listeners []net.Listener) error {
	var firstErr error
	for _, l := range listeners {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
