package codegen

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/raymyers/multistride/pkg/regalloc"
)

func TestNestedLoops(t *testing.T) {
	f := newFixture()
	cc, err := New(context.Background(), f.opts)
	if err != nil {
		t.Fatal(err)
	}

	outer, err := cc.BeginFor("$4")
	if err != nil {
		t.Fatal(err)
	}
	inner, err := cc.For("%rdx", func(l *Loop) error {
		cc.Statement("nop")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := outer.End(); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"        xorq      %rax, %rax",
		"..B1.1:",
		"        incq      %rax",
		"        xorq      %rcx, %rcx",
		"..B1.2:",
		"        incq      %rcx",
		"        nop",
		"        cmpq      %rdx, %rcx",
		"        jb        ..B1.2",
		"..B1.3:",
		"        cmpq      $4, %rax",
		"        jb        ..B1.1",
		"..B1.4:",
	}
	if diff := cmp.Diff(want, cc.Code()); diff != "" {
		t.Errorf("loop code mismatch (-want +got):\n%s", diff)
	}
	if outer.StartLabel() != 1 || outer.EndLabel() != 4 || inner.StartLabel() != 2 || inner.EndLabel() != 3 {
		t.Errorf("labels outer %d/%d inner %d/%d", outer.StartLabel(), outer.EndLabel(), inner.StartLabel(), inner.EndLabel())
	}
}

func TestLoopCounterOutlivesLoop(t *testing.T) {
	f := newFixture()
	cc, _ := New(context.Background(), f.opts)
	l, err := cc.For("$1", func(*Loop) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	counter := l.Register().Canonical
	if cc.Allocator(Scalar).Available(counter) {
		t.Fatalf("counter %s released by End", counter)
	}
	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
	if !cc.Allocator(Scalar).Available(counter) {
		t.Errorf("counter %s still held after Release", counter)
	}
}

func TestLoopEndTwice(t *testing.T) {
	f := newFixture()
	cc, _ := New(context.Background(), f.opts)
	l, _ := cc.BeginFor("$2")
	if err := l.End(); err != nil {
		t.Fatal(err)
	}
	n := len(cc.Code())
	if err := l.End(); err == nil {
		t.Errorf("second End succeeded")
	}
	if len(cc.Code()) != n {
		t.Errorf("second End emitted code")
	}
}

func TestForClosesOnBodyError(t *testing.T) {
	f := newFixture()
	cc, _ := New(context.Background(), f.opts)
	boom := errBody{}
	l, err := cc.For("$2", func(*Loop) error { return boom })
	if err != boom {
		t.Fatalf("For error = %v, want body error", err)
	}
	if l == nil || l.EndLabel() == 0 {
		t.Errorf("loop not closed after body error")
	}
}

type errBody struct{}

func (errBody) Error() string { return "body failed" }

func TestForExhausted(t *testing.T) {
	f := newFixture()
	cc, _ := New(context.Background(), f.opts)
	for _, name := range regalloc.X86_64().Names() {
		cc.Allocator(Scalar).Reserve(name, regalloc.DefaultColumn)
	}
	if _, err := cc.BeginFor("$1"); err == nil {
		t.Errorf("BeginFor succeeded with no free register")
	}
	if len(cc.Code()) != 0 {
		t.Errorf("failed BeginFor emitted code")
	}
}

func TestLabelsMonotonic(t *testing.T) {
	f := newFixture()
	cc, _ := New(context.Background(), f.opts)
	prev := 0
	for i := 0; i < 100; i++ {
		n := cc.GetLabel()
		if n <= prev {
			t.Fatalf("GetLabel() = %d after %d", n, prev)
		}
		prev = n
	}
}

func TestMemOperand(t *testing.T) {
	f := newFixture()
	cc, _ := New(context.Background(), f.opts)
	cc.SetVariable("r9", "base", regalloc.DefaultColumn)
	if got := cc.Mem(0, "base"); got != "(%r9)" {
		t.Errorf("Mem(0) = %s", got)
	}
	if got := cc.Mem(96, "base"); got != "96(%r9)" {
		t.Errorf("Mem(96) = %s", got)
	}
	cc.Mem(8, "nope")
	if cc.Err() == nil {
		t.Errorf("Mem on an unbound variable recorded no error")
	}
}
