package metrics

import "testing"

func TestNewRegistryDoesNotCollideAcrossInstances(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()

	a.ActiveSessions.Set(1)
	b.ActiveSessions.Set(2)

	if a.Handler() == nil || b.Handler() == nil {
		t.Fatalf("expected both registries to produce a handler")
	}
}
