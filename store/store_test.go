package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestNormalizeRange(t *testing.T) {
	cases := []struct {
		start, stop, n int64
		lo, hi         int64
		ok             bool
	}{
		{0, 1, 3, 0, 2, true},
		{0, -1, 3, 0, 3, true},
		{-2, -1, 3, 1, 3, true},
		{1, 100, 3, 1, 3, true},
		{2, 1, 3, 0, 0, false},
		{5, 6, 3, 0, 0, false},
		{0, -1, 0, 0, 0, false},
		{-10, 0, 3, 0, 1, true},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d_%d_%d", tc.start, tc.stop, tc.n), func(t *testing.T) {
			lo, hi, ok := NormalizeRange(tc.start, tc.stop, tc.n)
			if ok != tc.ok || (ok && (lo != tc.lo || hi != tc.hi)) {
				t.Fatalf("got (%d,%d,%v) want (%d,%d,%v)", lo, hi, ok, tc.lo, tc.hi, tc.ok)
			}
		})
	}
}

func TestTransportWrapping(t *testing.T) {
	if Transport("get", nil) != nil {
		t.Fatalf("nil must stay nil")
	}
	err := Transport("get", context.DeadlineExceeded)
	if !IsTransport(err) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected transport error wrapping deadline, got %v", err)
	}
	if again := Transport("put", err); again != err {
		t.Fatalf("already-wrapped errors must not be wrapped twice")
	}
	if IsTransport(errors.New("x")) {
		t.Fatalf("plain error is not transport")
	}
}

func TestKindString(t *testing.T) {
	c := NamedCollection{Name: "number", Kind: KindDeque}
	if c.String() != "deque:number" {
		t.Fatalf("got %q", c.String())
	}
}
