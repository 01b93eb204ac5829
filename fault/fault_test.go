package fault

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	base := New(ChannelNotFound, "resolve", errors.New("no such characteristic"))
	wrapped := fmt.Errorf("send homing: %w", base)

	if got := KindOf(wrapped); got != ChannelNotFound {
		t.Fatalf("KindOf = %v, want %v", got, ChannelNotFound)
	}
	if !Is(wrapped, ChannelNotFound) {
		t.Error("Is(wrapped, ChannelNotFound) = false")
	}
	if Is(nil, ChannelNotFound) {
		t.Error("Is(nil) = true")
	}
	if KindOf(errors.New("plain")) != Unknown {
		t.Error("plain error should be Unknown")
	}
}

func TestErrorUnwrapsCause(t *testing.T) {
	err := New(Timeout, "read", context.DeadlineExceeded)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("cause not reachable through Unwrap")
	}
	if got, want := err.Error(), "read: timeout: context deadline exceeded"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestKindText(t *testing.T) {
	b, _ := StalenessLimitExceeded.MarshalText()
	if string(b) != "staleness_limit_exceeded" {
		t.Errorf("MarshalText = %s", b)
	}
	if Kind(99).String() != "kind(99)" {
		t.Errorf("unexpected name for unknown kind: %s", Kind(99))
	}
}
