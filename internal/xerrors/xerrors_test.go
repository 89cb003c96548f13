package xerrors

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"testing"
)

var errSentinel = errors.New("sentinel")

func frameFunc(pc uintptr) string {
	fr, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	return fr.Function
}

func TestNew_CapturesStack(t *testing.T) {
	err := New("boom")
	if err.Error() != "boom" {
		t.Fatalf("Error() = %q, want boom", err.Error())
	}
	var hs interface{ StackPCs() []uintptr }
	if !errors.As(err, &hs) || len(hs.StackPCs()) == 0 {
		t.Fatal("New should capture a stack")
	}
}

func TestNewf_Formats(t *testing.T) {
	err := Newf("bad port %d", 70000)
	if err.Error() != "bad port 70000" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestWrap_Nil(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Fatal("Wrap(nil) should be nil")
	}
	if Wrapf(nil, "ctx %d", 1) != nil {
		t.Fatal("Wrapf(nil) should be nil")
	}
	if WithStack(nil) != nil {
		t.Fatal("WithStack(nil) should be nil")
	}
	if EnsureTrace(nil) != nil {
		t.Fatal("EnsureTrace(nil) should be nil")
	}
}

func TestWrap_MessageAndUnwrap(t *testing.T) {
	err := Wrap(errSentinel, "fetch documentation list")
	if err.Error() != "fetch documentation list: sentinel" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, errSentinel) {
		t.Fatal("wrapped error should match sentinel")
	}
}

func TestWrap_RecordsCallerPC(t *testing.T) {
	err := Wrapf(io.EOF, "read %s", "body")
	var hp interface{ PC() uintptr }
	if !errors.As(err, &hp) {
		t.Fatal("Wrapf should expose PC()")
	}
	if fn := frameFunc(hp.PC()); !strings.Contains(fn, "TestWrap_RecordsCallerPC") {
		t.Fatalf("PC points at %q, want the test function", fn)
	}
}

func TestEnsureTrace_DoesNotDoubleWrap(t *testing.T) {
	first := New("once")
	if got := EnsureTrace(first); got != first {
		t.Fatal("EnsureTrace should return an already stacked error unchanged")
	}

	plain := fmt.Errorf("plain")
	traced := EnsureTrace(plain)
	if traced == plain {
		t.Fatal("EnsureTrace should add a stack to a plain error")
	}
	if !errors.Is(traced, plain) {
		t.Fatal("traced error should unwrap to original")
	}
}
