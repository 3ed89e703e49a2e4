package engine

import "testing"

func activeOrder(s *layerStack) []uint8 {
	return s.snapshot(nil)
}

func TestLayerStackBasePinned(t *testing.T) {
	var s layerStack
	s.init(0)

	if s.base() != 0 {
		t.Fatalf("base = %d, want 0", s.base())
	}
	if s.deactivate(0) {
		t.Error("deactivating the base layer should be refused")
	}
	if _, changed := s.toggle(0); changed {
		t.Error("toggling the base layer should be refused")
	}
	if s.depth != 1 {
		t.Errorf("depth = %d, want 1", s.depth)
	}
}

func TestLayerStackActivateOrder(t *testing.T) {
	var s layerStack
	s.init(0)

	s.activate(2)
	s.activate(1)
	got := activeOrder(&s)
	want := []uint8{0, 2, 1}
	if len(got) != len(want) {
		t.Fatalf("stack = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stack = %v, want %v", got, want)
		}
	}

	// Re-activating an active layer moves it to the top.
	s.activate(2)
	got = activeOrder(&s)
	want = []uint8{0, 1, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("after re-activate, stack = %v, want %v", got, want)
		}
	}
}

func TestLayerStackDeactivateMiddle(t *testing.T) {
	var s layerStack
	s.init(0)
	s.activate(1)
	s.activate(2)
	s.activate(3)

	if !s.deactivate(2) {
		t.Fatal("deactivate(2) should report a change")
	}
	got := activeOrder(&s)
	want := []uint8{0, 1, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stack = %v, want %v", got, want)
		}
	}
	if s.deactivate(2) {
		t.Error("deactivating an inactive layer should be a no-op")
	}
}

func TestLayerStackToggle(t *testing.T) {
	var s layerStack
	s.init(0)

	active, changed := s.toggle(2)
	if !active || !changed {
		t.Fatalf("first toggle: active=%v changed=%v, want true/true", active, changed)
	}
	if !s.isActive(2) {
		t.Fatal("layer 2 should be active")
	}

	active, changed = s.toggle(2)
	if active || !changed {
		t.Fatalf("second toggle: active=%v changed=%v, want false/true", active, changed)
	}
	if s.isActive(2) {
		t.Fatal("layer 2 should be inactive")
	}
}

func TestLayerStackSetDefault(t *testing.T) {
	var s layerStack
	s.init(0)
	s.activate(3)

	if !s.setDefault(3) {
		t.Fatal("setDefault(3) should report a change")
	}
	if s.base() != 3 {
		t.Fatalf("base = %d, want 3", s.base())
	}
	// The old higher entry for layer 3 is dropped, not duplicated.
	got := activeOrder(&s)
	if len(got) != 1 || got[0] != 3 {
		t.Fatalf("stack = %v, want [3]", got)
	}
	if s.setDefault(3) {
		t.Error("setDefault to the current base should be a no-op")
	}
}
