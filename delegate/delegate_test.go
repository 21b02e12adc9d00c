package delegate

import (
	"runtime"
	"testing"
)

type listener struct {
	name string
}

func TestInvokeCallsLiveListenersInOrder(t *testing.T) {
	m := New[listener]()
	var order []string

	a := &listener{name: "a"}
	b := &listener{name: "b"}
	m.AddStrong(a, func(l *listener) { order = append(order, l.name) })
	m.AddStrong(b, func(l *listener) { order = append(order, l.name) })

	m.Invoke()

	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("expected [a b], got %v", order)
	}
}

func TestRemoveStopsFutureInvocations(t *testing.T) {
	m := New[listener]()
	calls := 0
	a := &listener{name: "a"}
	m.AddStrong(a, func(l *listener) { calls++ })

	m.Remove(a)
	m.Invoke()

	if calls != 0 {
		t.Fatalf("expected 0 calls after Remove, got %d", calls)
	}
}

func TestDeadWeakTargetIsSkipped(t *testing.T) {
	m := New[listener]()
	calls := 0

	func() {
		target := &listener{name: "ephemeral"}
		m.Add(target, func(l *listener) { calls++ })
		runtime.KeepAlive(target)
	}()

	// Force a few collections to give the weak pointer a chance to clear.
	for i := 0; i < 5; i++ {
		runtime.GC()
	}

	m.Invoke()
	// A dead target must never cause a panic, and its callback must not run.
	if calls != 0 {
		t.Fatalf("expected the collected target's callback to be skipped, got %d calls", calls)
	}
}

func TestMergeFromPreservesOrder(t *testing.T) {
	a := New[listener]()
	b := New[listener]()
	var order []string

	x := &listener{name: "x"}
	y := &listener{name: "y"}
	a.AddStrong(x, func(l *listener) { order = append(order, l.name) })
	b.AddStrong(y, func(l *listener) { order = append(order, l.name) })

	a.MergeFrom(b)
	a.Invoke()

	if len(order) != 2 || order[0] != "x" || order[1] != "y" {
		t.Fatalf("expected [x y], got %v", order)
	}
}

func TestInvokeWithAppliesExternalFn(t *testing.T) {
	m := New[listener]()
	a := &listener{name: "a"}
	b := &listener{name: "b"}
	m.AddStrong(a, func(*listener) {})
	m.AddStrong(b, func(*listener) {})

	var seen []string
	m.InvokeWith(func(l *listener) { seen = append(seen, l.name) })

	if len(seen) != 2 || seen[0] != "a" || seen[1] != "b" {
		t.Fatalf("expected InvokeWith to visit [a b], got %v", seen)
	}
}

func TestIsEmpty(t *testing.T) {
	m := New[listener]()
	if !m.IsEmpty() {
		t.Fatalf("new delegate must be empty")
	}
	a := &listener{}
	m.AddStrong(a, func(*listener) {})
	if m.IsEmpty() {
		t.Fatalf("delegate with a registered listener must not be empty")
	}
}
