package engine

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/devindeed/aurelay/internal/audio"
	"github.com/devindeed/aurelay/internal/transport"
)

// StatusCode is the result of an attempt to start streaming. Non-zero codes
// identify the setup step that failed.
type StatusCode int

const (
	StatusOK                  StatusCode = 0
	StatusInvalidHost         StatusCode = -1
	StatusNoDevice            StatusCode = -2
	StatusFormatNegotiation   StatusCode = -3
	StatusBindFailed          StatusCode = -4
	StatusConnectFailed       StatusCode = -5
	StatusUnsupportedEncoding StatusCode = -6
	StatusStreamBuildFailed   StatusCode = -7
	StatusStreamPlayFailed    StatusCode = -8
)

func (sc StatusCode) Error() string {
	switch sc {
	case StatusOK:
		return "ok"
	case StatusInvalidHost:
		return "invalid target host"
	case StatusNoDevice:
		return "no input device found"
	case StatusFormatNegotiation:
		return "unable to negotiate input format"
	case StatusBindFailed:
		return "unable to bind local socket"
	case StatusConnectFailed:
		return "unable to connect to target"
	case StatusUnsupportedEncoding:
		return "unsupported sample encoding"
	case StatusStreamBuildFailed:
		return "unable to build capture stream"
	case StatusStreamPlayFailed:
		return "unable to start capture stream"
	default:
		return fmt.Sprintf("unknown status code %d", int(sc))
	}
}

// label is the value used for the status label in metrics.
func (sc StatusCode) label() string {
	return strconv.Itoa(int(sc))
}

type codedError struct {
	code  StatusCode
	inner error
}

func (ce codedError) Error() string {
	if ce.inner != nil {
		return fmt.Sprintf("status %d: %s: %s", int(ce.code), ce.code.Error(), ce.inner.Error())
	}
	return fmt.Sprintf("status %d: %s", int(ce.code), ce.code.Error())
}

func (ce codedError) Unwrap() error {
	if ce.inner != nil {
		return ce.inner
	}
	return ce.code
}

// Is allows matching a coded error against its status code with errors.Is.
func (ce codedError) Is(target error) bool {
	sc, ok := target.(StatusCode)
	return ok && sc == ce.code
}

func (ce codedError) As(target interface{}) bool {
	switch t := target.(type) {
	case *codedError:
		*t = ce
		return true

	case *StatusCode:
		*t = ce.code
		return true
	}

	return false
}

func makeCodedError(code StatusCode, inner error) codedError {
	return codedError{code: code, inner: inner}
}

// StatusFromError returns the status code that corresponds to an error
// returned by Start. A nil error is StatusOK. Errors that do not carry a
// status code are classified by the sentinel errors of the setup steps and
// default to StatusStreamBuildFailed.
func StatusFromError(err error) StatusCode {
	if err == nil {
		return StatusOK
	}

	var sc StatusCode
	if errors.As(err, &sc) {
		return sc
	}

	switch {
	case errors.Is(err, errInvalidHost):
		return StatusInvalidHost
	case errors.Is(err, audio.ErrNoDevice):
		return StatusNoDevice
	case errors.Is(err, audio.ErrNoFormat):
		return StatusFormatNegotiation
	case errors.Is(err, transport.ErrBind):
		return StatusBindFailed
	case errors.Is(err, transport.ErrConnect):
		return StatusConnectFailed
	case errors.Is(err, audio.ErrUnsupportedEncoding):
		return StatusUnsupportedEncoding
	default:
		return StatusStreamBuildFailed
	}
}
