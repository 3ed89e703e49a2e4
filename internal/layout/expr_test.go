package layout

import (
	"errors"
	"testing"

	"keymapd/internal/keycode"
)

func TestParseExprForms(t *testing.T) {
	cases := []struct {
		expr string
		want Action
	}{
		{"A", Key(keycode.KeyA)},
		{"kc_b", Key(keycode.KeyB)},
		{"SPC", Key(keycode.KeySpace)},
		{"LSFT", Key(keycode.KeyLeftShift)},
		{"NO", None},
		{"NONE", None},
		{"XXXXX", None},
		{"xxxxxxx", None},
		{"TRNS", Transparent},
		{"_", Transparent},
		{"_____", Transparent},
		{"_______", Transparent},
		{"MUTE", Action{Kind: ActionConsumer, Consumer: keycode.ConsumerMute}},
		{"VOLU", Action{Kind: ActionConsumer, Consumer: keycode.ConsumerVolumeUp}},
		{"MO(1)", Action{Kind: ActionMomentaryLayer, Layer: 1}},
		{"TG(2)", Action{Kind: ActionToggleLayer, Layer: 2}},
		{"DF(1)", Action{Kind: ActionDefaultLayer, Layer: 1}},
		{"OSL(3)", Action{Kind: ActionOneShotLayer, Layer: 3}},
		{"LT(1,SPC)", Action{Kind: ActionLayerTap, Layer: 1, Code: keycode.KeySpace}},
		{"LT(2, a)", Action{Kind: ActionLayerTap, Layer: 2, Code: keycode.KeyA}},
		{"MT(LCTL,ESC)", Action{Kind: ActionModTap, Mods: keycode.ModLeftCtrl, Code: keycode.KeyEscape}},
		{"MT(LCTL|LSFT,A)", Action{Kind: ActionModTap, Mods: keycode.ModLeftCtrl | keycode.ModLeftShift, Code: keycode.KeyA}},
		{"MT(MOD_LALT+MOD_LGUI,TAB)", Action{Kind: ActionModTap, Mods: keycode.ModLeftAlt | keycode.ModLeftGUI, Code: keycode.KeyTab}},
		{"LSFT(1)", Action{Kind: ActionKey, Code: keycode.Key1, Mods: keycode.ModLeftShift}},
		{"LCTL|LALT(DEL)", Action{Kind: ActionKey, Code: keycode.KeyDelete, Mods: keycode.ModLeftCtrl | keycode.ModLeftAlt}},
		{"MACRO(3)", Action{Kind: ActionMacro, Macro: 3}},
		{"CONSUMER(0x0CD)", Action{Kind: ActionConsumer, Consumer: keycode.ConsumerPlayPause}},
		{"0x68", Key(keycode.KeyF13)},
	}
	for _, tc := range cases {
		got, err := ParseExpr(tc.expr)
		if err != nil {
			t.Errorf("ParseExpr(%q): %v", tc.expr, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseExpr(%q) = %+v, want %+v", tc.expr, got, tc.want)
		}
	}
}

func TestParseExprErrors(t *testing.T) {
	cases := []struct {
		expr string
		want error
	}{
		{"", ErrBadExpr},
		{"QWERTZ", ErrUnknownKey},
		{"MO(", ErrBadExpr},
		{"MO(x)", ErrBadExpr},
		{"MO(16)", ErrBadExpr},
		{"LT(1)", ErrBadExpr},
		{"LT(1,NOPE)", ErrUnknownKey},
		{"MT(A,B)", ErrBadExpr},
		{"MT(LSFT)", ErrBadExpr},
		{"MACRO(nope)", ErrUnknownMacro},
		{"MACRO(64)", ErrBadExpr},
		{"FOO(1)", ErrBadExpr},
		{"LSFT(NOPE)", ErrUnknownKey},
		{"0xFFF", ErrBadExpr},
	}
	for _, tc := range cases {
		_, err := ParseExpr(tc.expr)
		if !errors.Is(err, tc.want) {
			t.Errorf("ParseExpr(%q) err = %v, want %v", tc.expr, err, tc.want)
		}
	}
}

func TestParseExprWithMacroResolver(t *testing.T) {
	resolve := func(name string) (int, bool) {
		if name == "email" {
			return 7, true
		}
		return 0, false
	}
	got, err := ParseExprWith("MACRO(email)", resolve)
	if err != nil {
		t.Fatal(err)
	}
	if got != (Action{Kind: ActionMacro, Macro: 7}) {
		t.Errorf("got %+v", got)
	}
	if _, err := ParseExprWith("MACRO(other)", resolve); !errors.Is(err, ErrUnknownMacro) {
		t.Errorf("unresolved macro err = %v", err)
	}
}

func TestActionStringRoundTrip(t *testing.T) {
	actions := []Action{
		None,
		Transparent,
		Key(keycode.KeyA),
		{Kind: ActionKey, Code: keycode.Key1, Mods: keycode.ModLeftShift},
		{Kind: ActionConsumer, Consumer: keycode.ConsumerMute},
		{Kind: ActionMomentaryLayer, Layer: 1},
		{Kind: ActionToggleLayer, Layer: 5},
		{Kind: ActionDefaultLayer, Layer: 1},
		{Kind: ActionOneShotLayer, Layer: 2},
		{Kind: ActionLayerTap, Layer: 1, Code: keycode.KeySpace},
		{Kind: ActionModTap, Mods: keycode.ModLeftCtrl, Code: keycode.KeyEscape},
		{Kind: ActionMacro, Macro: 4},
	}
	for _, a := range actions {
		s := a.String()
		back, err := ParseExpr(s)
		if err != nil {
			t.Errorf("ParseExpr(String(%+v) = %q): %v", a, s, err)
			continue
		}
		if back != a {
			t.Errorf("round trip %+v -> %q -> %+v", a, s, back)
		}
	}
}
