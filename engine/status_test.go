package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/devindeed/aurelay/internal/audio"
	"github.com/devindeed/aurelay/internal/transport"
)

// TestStatusFromError tests that the status code can be extracted from
// various error types.
func TestStatusFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want StatusCode
	}{{
		name: "nil error",
		err:  nil,
		want: StatusOK,
	}, {
		name: "status code",
		err:  StatusStreamPlayFailed,
		want: StatusStreamPlayFailed,
	}, {
		name: "coded error",
		err:  makeCodedError(StatusFormatNegotiation, nil),
		want: StatusFormatNegotiation,
	}, {
		name: "coded error with inner",
		err:  makeCodedError(StatusBindFailed, errors.New("address in use")),
		want: StatusBindFailed,
	}, {
		name: "coded error with mismatched inner",
		err:  makeCodedError(StatusConnectFailed, audio.ErrNoDevice),
		want: StatusConnectFailed,
	}, {
		name: "wrapped coded error",
		err:  fmt.Errorf("wrapped coded error %w", makeCodedError(StatusNoDevice, nil)),
		want: StatusNoDevice,
	}, {
		name: "joined coded error",
		err:  errors.Join(errors.New("other"), makeCodedError(StatusStreamBuildFailed, nil)),
		want: StatusStreamBuildFailed,
	}, {
		name: "invalid host",
		err:  errInvalidHost,
		want: StatusInvalidHost,
	}, {
		name: "no device",
		err:  fmt.Errorf("select: %w", audio.ErrNoDevice),
		want: StatusNoDevice,
	}, {
		name: "no format",
		err:  audio.ErrNoFormat,
		want: StatusFormatNegotiation,
	}, {
		name: "bind",
		err:  fmt.Errorf("%w: permission denied", transport.ErrBind),
		want: StatusBindFailed,
	}, {
		name: "connect",
		err:  fmt.Errorf("%w: no such host", transport.ErrConnect),
		want: StatusConnectFailed,
	}, {
		name: "unsupported encoding",
		err:  audio.ErrUnsupportedEncoding,
		want: StatusUnsupportedEncoding,
	}, {
		name: "misc error",
		err:  errors.New("some misc error"),
		want: StatusStreamBuildFailed,
	}}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := StatusFromError(tc.err)
			if got != tc.want {
				t.Fatalf("unexpected status code: got %d, want %d",
					got, tc.want)
			}
		})
	}
}

// TestCodedErrorIs tests matching coded errors against status codes and
// inner errors.
func TestCodedErrorIs(t *testing.T) {
	inner := errors.New("inner")
	err := fmt.Errorf("start: %w", makeCodedError(StatusStreamPlayFailed, inner))
	if !errors.Is(err, StatusStreamPlayFailed) {
		t.Fatalf("error does not match its status code")
	}
	if errors.Is(err, StatusStreamBuildFailed) {
		t.Fatalf("error matches the wrong status code")
	}
	if !errors.Is(err, inner) {
		t.Fatalf("error does not match its inner error")
	}

	var ce codedError
	if !errors.As(err, &ce) || ce.code != StatusStreamPlayFailed {
		t.Fatalf("unable to extract coded error")
	}
}

// TestStatusCodeErrors tests every status code has a description.
func TestStatusCodeErrors(t *testing.T) {
	for sc := StatusStreamPlayFailed; sc <= StatusOK; sc++ {
		if sc.Error() == StatusCode(-100).Error() {
			t.Fatalf("status code %d has no description", sc)
		}
	}
}
