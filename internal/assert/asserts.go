package assert

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"golang.org/x/exp/slices"
)

// timeout is the maximum amount of time the helpers wait for an asynchronous
// event before failing the test.
const timeout = 10 * time.Second

// ChanWritten returns the value written to chan c or times out.
func ChanWritten[T any](t testing.TB, c chan T) T {
	t.Helper()
	var v T
	select {
	case v = <-c:
	case <-time.After(timeout):
		t.Fatal("timeout waiting for chan read")
	}
	return v
}

// ChanWrittenWithVal asserts the chan c was written with a value that
// DeepEquals v.
func ChanWrittenWithVal[T any](t testing.TB, c chan T, want T) T {
	t.Helper()
	got := ChanWritten(t, c)
	DeepEqual(t, got, want)
	return got
}

// ChanNotWritten asserts that the chan is not written at least until the passed
// timeout value.
func ChanNotWritten[T any](t testing.TB, c chan T, timeout time.Duration) {
	t.Helper()
	select {
	case v := <-c:
		t.Fatalf("channel was written with value %v", v)
	case <-time.After(timeout):
	}
}

// DeepEqual asserts got is reflect.DeepEqual to want.
func DeepEqual[T any](t testing.TB, got, want T) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Unexpected values: got\n%s\nwant\n%s",
			spew.Sdump(got), spew.Sdump(want))
	}
}

// ErrorIs asserts that errors.Is(got, want).
func ErrorIs(t testing.TB, got, want error) {
	t.Helper()
	if !errors.Is(got, want) {
		t.Fatalf("Unexpected error: got %v, want %v", got, want)
	}
}

// NilErr fails the test if err is non-nil.
func NilErr(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("Unexpected non-nil error: %v", err)
	}
}

// NonNilErr asserts that err is not nil. It's preferable to use a specific
// error check instead of this one.
func NonNilErr(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("unexpected nil error")
	}
}

// DoesNotBlock asserts that calling f() does not block for an inordinate amount
// of time.
func DoesNotBlock(t testing.TB, f func()) {
	t.Helper()
	done := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	go func() {
		f()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("timeout waiting for function to finish")
	}
}

// Eventually asserts that f returns true before the timeout expires. f is
// polled every few milliseconds.
func Eventually(t testing.TB, f func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !f() {
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for condition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// BoolIs asserts the given bool value.
func BoolIs(t testing.TB, got, want bool) {
	t.Helper()
	if got != want {
		t.Fatalf("unexpected bool. got %v, want %v", got, want)
	}
}

// Contains asserts that s contains e.
func Contains[S ~[]E, E comparable](t testing.TB, s S, e E) {
	t.Helper()
	if !slices.Contains(s, e) {
		t.Fatalf("slice %v does not contain element %v", s, e)
	}
}
