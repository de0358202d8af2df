package host

import "testing"

func TestProcessLifecycle_ClientBookkeeping(t *testing.T) {
	l := NewProcessLifecycle(nil)

	l.ClientOpened("a")
	l.ClientOpened("a")
	l.ClientOpened("b")

	if got := l.OtherClients("a"); got != 1 {
		t.Errorf("OtherClients(a) = %d, want 1", got)
	}
	if got := l.OtherClients("c"); got != 2 {
		t.Errorf("OtherClients(c) = %d, want 2", got)
	}

	// "a" has two open connections; one close keeps it registered.
	l.ClientClosed("a")
	if got := l.OtherClients("b"); got != 1 {
		t.Errorf("OtherClients(b) after partial close = %d, want 1", got)
	}
	l.ClientClosed("a")
	if got := l.OtherClients("b"); got != 0 {
		t.Errorf("OtherClients(b) after full close = %d, want 0", got)
	}
}

func TestProcessLifecycle_WaitingFlag(t *testing.T) {
	activated := 0
	l := NewProcessLifecycle(func() { activated++ })

	if l.WaitingInstance() {
		t.Error("fresh lifecycle should have no waiting instance")
	}

	l.MarkWaiting()
	if !l.WaitingInstance() {
		t.Error("MarkWaiting did not raise the flag")
	}

	l.ActivateWaiting()
	if l.WaitingInstance() {
		t.Error("ActivateWaiting must clear the flag")
	}
	if activated != 1 {
		t.Errorf("activate callback ran %d times, want 1", activated)
	}
}

func TestProcessLifecycle_SupersedeClearsWaiting(t *testing.T) {
	l := NewProcessLifecycle(nil)
	l.MarkWaiting()
	l.SupersedeWaiting()
	if l.WaitingInstance() {
		t.Error("SupersedeWaiting must clear the flag without activation")
	}
}
