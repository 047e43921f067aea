package notify

import "testing"

func TestThresholdGate(t *testing.T) {
	t.Parallel()

	gate := ThresholdGate{MaxPriority: 1}
	if !gate.ShouldNotify(0) {
		t.Fatal("expected priority 0 to notify")
	}
	if !gate.ShouldNotify(1) {
		t.Fatal("expected priority 1 to notify")
	}
	if gate.ShouldNotify(2) {
		t.Fatal("expected priority 2 not to notify")
	}
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	gate, err := FromConfig("", 0)
	if err != nil {
		t.Fatalf("default mode: %v", err)
	}
	if !gate.ShouldNotify(0) || gate.ShouldNotify(1) {
		t.Fatal("expected default threshold gate with cutoff 0")
	}

	always, err := FromConfig("always", 0)
	if err != nil {
		t.Fatalf("always mode: %v", err)
	}
	if !always.ShouldNotify(99) {
		t.Fatal("expected always gate to notify")
	}

	never, err := FromConfig("never", 0)
	if err != nil {
		t.Fatalf("never mode: %v", err)
	}
	if never.ShouldNotify(0) {
		t.Fatal("expected never gate to stay silent")
	}

	if _, err := FromConfig("bogus", 0); err == nil {
		t.Fatal("expected unknown mode error")
	}
}
