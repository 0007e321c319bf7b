// internal/computer/keys.go
package computer

import (
	"strings"
	"unicode/utf8"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

var modifierKeys = map[string]input.Modifier{
	"CTRL":    input.ModifierCtrl,
	"CONTROL": input.ModifierCtrl,
	"SHIFT":   input.ModifierShift,
	"ALT":     input.ModifierAlt,
	"OPTION":  input.ModifierAlt,
	"META":    input.ModifierMeta,
	"CMD":     input.ModifierMeta,
	"COMMAND": input.ModifierMeta,
	"SUPER":   input.ModifierMeta,
	"WIN":     input.ModifierMeta,
}

// modifierRunes are the kb runes pressed when a modifier is sent on its own.
var modifierRunes = map[input.Modifier]string{
	input.ModifierCtrl:  kb.Control,
	input.ModifierShift: kb.Shift,
	input.ModifierAlt:   kb.Alt,
	input.ModifierMeta:  kb.Meta,
}

var namedKeys = map[string]string{
	"ENTER":      kb.Enter,
	"RETURN":     kb.Enter,
	"TAB":        kb.Tab,
	"ESC":        kb.Escape,
	"ESCAPE":     kb.Escape,
	"BACKSPACE":  kb.Backspace,
	"DELETE":     kb.Delete,
	"DEL":        kb.Delete,
	"SPACE":      " ",
	"ARROWUP":    kb.ArrowUp,
	"UP":         kb.ArrowUp,
	"ARROWDOWN":  kb.ArrowDown,
	"DOWN":       kb.ArrowDown,
	"ARROWLEFT":  kb.ArrowLeft,
	"LEFT":       kb.ArrowLeft,
	"ARROWRIGHT": kb.ArrowRight,
	"RIGHT":      kb.ArrowRight,
	"HOME":       kb.Home,
	"END":        kb.End,
	"PAGEUP":     kb.PageUp,
	"PAGEDOWN":   kb.PageDown,
	"INSERT":     kb.Insert,
	"CAPSLOCK":   kb.CapsLock,
	"F1":         kb.F1,
	"F2":         kb.F2,
	"F3":         kb.F3,
	"F4":         kb.F4,
	"F5":         kb.F5,
	"F6":         kb.F6,
	"F7":         kb.F7,
	"F8":         kb.F8,
	"F9":         kb.F9,
	"F10":        kb.F10,
	"F11":        kb.F11,
	"F12":        kb.F12,
}

// keyChord converts model key names such as ["CTRL", "A"] into CDP key
// events. Names it cannot map are returned in unknown.
func keyChord(keys []string) (events []chromedp.Action, unknown []string) {
	var mods input.Modifier
	var plain []string

	for _, raw := range expandKeys(keys) {
		name := strings.ToUpper(strings.TrimSpace(raw))
		if m, ok := modifierKeys[name]; ok {
			mods |= m
			continue
		}
		if k, ok := namedKeys[name]; ok {
			plain = append(plain, k)
			continue
		}
		if utf8.RuneCountInString(raw) == 1 {
			plain = append(plain, raw)
			continue
		}
		unknown = append(unknown, raw)
	}

	// A lone modifier press, e.g. ["SHIFT"].
	if len(plain) == 0 {
		for _, m := range []input.Modifier{input.ModifierCtrl, input.ModifierShift, input.ModifierAlt, input.ModifierMeta} {
			if mods&m != 0 {
				plain = append(plain, modifierRunes[m])
			}
		}
		mods = 0
	}

	for _, k := range plain {
		r, _ := utf8.DecodeRuneInString(k)
		if mods != 0 && mods != input.ModifierShift {
			r = []rune(strings.ToLower(string(r)))[0]
		}
		for _, ev := range kb.Encode(r) {
			ev.Modifiers |= mods
			if mods&^input.ModifierShift != 0 {
				// Shortcuts must not insert text.
				if ev.Type == input.KeyChar {
					continue
				}
				ev.Text, ev.UnmodifiedText = "", ""
			}
			events = append(events, ev)
		}
	}
	return events, unknown
}

// expandKeys splits "ctrl+a" style entries into separate names.
func expandKeys(keys []string) []string {
	var out []string
	for _, k := range keys {
		if len(k) > 1 && strings.Contains(k, "+") {
			out = append(out, strings.Split(k, "+")...)
			continue
		}
		out = append(out, k)
	}
	return out
}
