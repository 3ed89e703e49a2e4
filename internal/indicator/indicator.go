// Package indicator surfaces layer changes as desktop notifications, so a
// remapped keyboard with momentary layers shows which layer is live.
package indicator

import "keymapd/internal/engine"

// summaryFor renders an engine event as the notification summary. Events
// that need no popup return "".
func summaryFor(ev engine.Event) string {
	switch ev.Kind {
	case engine.EventLayerActivated:
		return "Layer " + ev.Name
	case engine.EventLayerDeactivated:
		return "Layer " + ev.Name + " off"
	case engine.EventDefaultChanged:
		return "Default layer " + ev.Name
	case engine.EventKeymapSwapped:
		return "Keymap " + ev.Name
	}
	return ""
}
