package engine

import (
	"errors"

	"keymapd/internal/layout"
)

var (
	// ErrBaseLayer is returned for any operation that would deactivate the
	// base layer. The stack is never empty.
	ErrBaseLayer = errors.New("engine: the base layer cannot be deactivated")
	// ErrLayerRange is returned for layer indices outside the keymap.
	ErrLayerRange = errors.New("engine: layer index out of range")
)

// layerStack holds the active layers in activation order. order[0] is the
// base layer and is pinned: it can be replaced through setDefault but never
// removed, so the stack always has at least one entry. Only the engine tick
// goroutine mutates it.
type layerStack struct {
	order [layout.MaxLayers]uint8
	depth int
}

func (s *layerStack) init(base uint8) {
	s.order[0] = base
	s.depth = 1
}

func (s *layerStack) base() uint8 {
	return s.order[0]
}

func (s *layerStack) isActive(layer uint8) bool {
	for i := 0; i < s.depth; i++ {
		if s.order[i] == layer {
			return true
		}
	}
	return false
}

// activate pushes a layer on top of the stack. Activating an already-active
// layer moves it to the top, so the most recent activation always wins
// resolution.
func (s *layerStack) activate(layer uint8) bool {
	if layer == s.order[0] {
		return false
	}
	s.remove(layer)
	if s.depth >= len(s.order) {
		return false
	}
	s.order[s.depth] = layer
	s.depth++
	return true
}

// deactivate removes a layer from the stack. The base layer is refused.
func (s *layerStack) deactivate(layer uint8) bool {
	if layer == s.order[0] {
		return false
	}
	return s.remove(layer)
}

// toggle flips a layer's membership. The base layer is refused.
func (s *layerStack) toggle(layer uint8) (active, changed bool) {
	if layer == s.order[0] {
		return true, false
	}
	if s.isActive(layer) {
		return false, s.remove(layer)
	}
	return true, s.activate(layer)
}

// setDefault replaces the base layer. If the new base was active higher in
// the stack its duplicate entry is dropped.
func (s *layerStack) setDefault(layer uint8) bool {
	if s.order[0] == layer {
		return false
	}
	s.remove(layer)
	s.order[0] = layer
	return true
}

// remove deletes a non-base entry, preserving the order of the rest.
func (s *layerStack) remove(layer uint8) bool {
	for i := 1; i < s.depth; i++ {
		if s.order[i] != layer {
			continue
		}
		copy(s.order[i:s.depth-1], s.order[i+1:s.depth])
		s.depth--
		return true
	}
	return false
}

// snapshot appends the active layers bottom to top.
func (s *layerStack) snapshot(dst []uint8) []uint8 {
	return append(dst, s.order[:s.depth]...)
}
