package session

import (
	"github.com/GriffinCanCode/AuthStream/backend/internal/browser"
)

// Modifiers are the held modifier keys of an input event
type Modifiers struct {
	Alt   bool `json:"alt"`
	Ctrl  bool `json:"ctrl"`
	Meta  bool `json:"meta"`
	Shift bool `json:"shift"`
}

// Mask encodes the modifiers as alt=1, ctrl=2, meta=4, shift=8
func (m Modifiers) Mask() int {
	mask := 0
	if m.Alt {
		mask |= 1
	}
	if m.Ctrl {
		mask |= 2
	}
	if m.Meta {
		mask |= 4
	}
	if m.Shift {
		mask |= 8
	}
	return mask
}

// InputEvent is one forwarded client input message.
// Type is "mouse", "keyboard" or "scroll"; Event selects the sub-kind.
type InputEvent struct {
	Type  string `json:"type"`
	Event string `json:"event"`

	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Button     *int    `json:"button"`
	ClickCount *int    `json:"clickCount"`
	Buttons    *int    `json:"buttons"`
	DeltaX     float64 `json:"deltaX"`
	DeltaY     float64 `json:"deltaY"`

	Key            string  `json:"key"`
	Code           string  `json:"code"`
	Text           *string `json:"text"`
	UnmodifiedText *string `json:"unmodifiedText"`
	KeyCode        int     `json:"keyCode"`
	IsText         bool    `json:"isText"`
	Repeat         bool    `json:"repeat"`

	Modifiers Modifiers `json:"modifiers"`
}

var mouseTypes = map[string]browser.MouseEventType{
	"move":  browser.MouseMoved,
	"down":  browser.MousePressed,
	"up":    browser.MouseReleased,
	"wheel": browser.MouseWheel,
}

var mouseButtons = map[int]browser.MouseButton{
	0: browser.ButtonLeft,
	1: browser.ButtonMiddle,
	2: browser.ButtonRight,
}

// MouseInput translates a mouse message. ok is false for unknown sub-kinds.
func MouseInput(ev InputEvent) (browser.MouseEvent, bool) {
	typ, ok := mouseTypes[ev.Event]
	if !ok {
		return browser.MouseEvent{}, false
	}

	out := browser.MouseEvent{
		Type:      typ,
		X:         ev.X,
		Y:         ev.Y,
		Modifiers: ev.Modifiers.Mask(),
		Buttons:   ev.Buttons,
	}

	switch typ {
	case browser.MousePressed, browser.MouseReleased:
		out.Button = browser.ButtonLeft
		if ev.Button != nil {
			if b, known := mouseButtons[*ev.Button]; known {
				out.Button = b
			}
		}
		out.ClickCount = 1
		if ev.ClickCount != nil {
			out.ClickCount = *ev.ClickCount
		}
	case browser.MouseWheel:
		out.DeltaX = ev.DeltaX
		out.DeltaY = ev.DeltaY
	}
	return out, true
}

var keyTypes = map[string]browser.KeyEventType{
	"down": browser.KeyDown,
	"up":   browser.KeyUp,
	"char": browser.KeyChar,
}

// KeyInput translates a keyboard message. ok is false for unknown sub-kinds.
func KeyInput(ev InputEvent) (browser.KeyEvent, bool) {
	typ, ok := keyTypes[ev.Event]
	if !ok {
		return browser.KeyEvent{}, false
	}

	text := ""
	if ev.Text != nil {
		text = *ev.Text
	}
	if text == "" && ev.IsText && len([]rune(ev.Key)) == 1 {
		text = ev.Key
	}

	unmodified := text
	if ev.UnmodifiedText != nil {
		unmodified = *ev.UnmodifiedText
	}

	return browser.KeyEvent{
		Type:                  typ,
		Key:                   ev.Key,
		Code:                  ev.Code,
		Text:                  text,
		UnmodifiedText:        unmodified,
		WindowsVirtualKeyCode: ev.KeyCode,
		NativeVirtualKeyCode:  ev.KeyCode,
		Modifiers:             ev.Modifiers.Mask(),
		AutoRepeat:            ev.Repeat,
	}, true
}

// ScrollInput translates a scroll message into a wheel event
func ScrollInput(ev InputEvent) browser.MouseEvent {
	return browser.MouseEvent{
		Type:      browser.MouseWheel,
		X:         ev.X,
		Y:         ev.Y,
		DeltaX:    ev.DeltaX,
		DeltaY:    ev.DeltaY,
		Modifiers: ev.Modifiers.Mask(),
	}
}
