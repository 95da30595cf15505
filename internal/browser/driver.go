// Package browser wraps a single automated browser instance.
//
// A Driver is not safe for concurrent use. Callers route every call through a
// Worker, which runs jobs one at a time in submission order.
package browser

import (
	"errors"
	"time"
)

var (
	// ErrNotLaunched is returned by Driver calls made before Launch succeeded
	ErrNotLaunched = errors.New("browser not launched")
	// ErrInvalidCredentials is returned by Login when the form rejects the credentials
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Viewport is the fixed pixel size of a browser window
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether both dimensions are positive
func (v Viewport) Valid() bool {
	return v.Width > 0 && v.Height > 0
}

// LogEntry is one recorded network or navigation event.
// Message holds the JSON envelope {"message":{"method":...,"params":{...}}}.
type LogEntry struct {
	Method    string
	Message   string
	Timestamp time.Time
}

// MouseEventType is the low-level pointer primitive
type MouseEventType string

const (
	MouseMoved    MouseEventType = "mouseMoved"
	MousePressed  MouseEventType = "mousePressed"
	MouseReleased MouseEventType = "mouseReleased"
	MouseWheel    MouseEventType = "mouseWheel"
)

// MouseButton names a pointer button
type MouseButton string

const (
	ButtonNone   MouseButton = "none"
	ButtonLeft   MouseButton = "left"
	ButtonMiddle MouseButton = "middle"
	ButtonRight  MouseButton = "right"
)

// MouseEvent is a pointer primitive ready for injection
type MouseEvent struct {
	Type       MouseEventType
	X, Y       float64
	Modifiers  int
	Button     MouseButton
	ClickCount int
	Buttons    *int
	DeltaX     float64
	DeltaY     float64
}

// KeyEventType is the low-level keyboard primitive
type KeyEventType string

const (
	KeyDown KeyEventType = "keyDown"
	KeyUp   KeyEventType = "keyUp"
	KeyChar KeyEventType = "char"
)

// KeyEvent is a keyboard primitive ready for injection
type KeyEvent struct {
	Type                  KeyEventType
	Key                   string
	Code                  string
	Text                  string
	UnmodifiedText        string
	WindowsVirtualKeyCode int
	NativeVirtualKeyCode  int
	Modifiers             int
	AutoRepeat            bool
}

// Driver is a blocking automation handle for one browser instance
type Driver interface {
	// Launch starts the browser sized to vp and opens url
	Launch(url string, vp Viewport) error
	// CurrentURL returns the URL of the active page
	CurrentURL() (string, error)
	// Logs drains the events recorded since the previous call
	Logs() ([]LogEntry, error)
	// Screenshot captures the visible viewport
	Screenshot() ([]byte, error)
	DispatchMouse(ev MouseEvent) error
	DispatchKey(ev KeyEvent) error
	// Quit terminates the browser. Safe to call on a driver that never launched.
	Quit() error
}

// Factory creates a fresh, unlaunched Driver
type Factory func() Driver

// Credentials fill the provider's sign-in form. OTP is optional.
type Credentials struct {
	Username string
	Password string
	OTP      string
}

// LoginDriver is a Driver that can submit the sign-in form on the open page
type LoginDriver interface {
	Driver
	Login(creds Credentials) error
}

// Killer force-terminates the browser process. Unlike every other Driver
// method, Kill may be called while another call is in flight.
type Killer interface {
	Kill()
}
