// Package browsertest provides an in-memory browser.Driver for tests.
package browsertest

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/AuthStream/backend/internal/browser"
)

// PNG is a minimal valid PNG image
var PNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
	0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4,
	0x89, 0x00, 0x00, 0x00, 0x0a, 0x49, 0x44, 0x41,
	0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00,
	0x00, 0x00, 0x00, 0x49, 0x45, 0x4e, 0x44, 0xae,
	0x42, 0x60, 0x82,
}

// ErrInjected is the default failure returned when a call is set to fail
var ErrInjected = errors.New("browsertest: injected failure")

// Driver is a scripted browser.Driver. It records every call and flags
// any two calls that overlap in time.
type Driver struct {
	mu sync.Mutex

	LaunchErr     error
	ScreenshotErr error
	DispatchErr   error
	LoginErr      error
	// LoginRedirect, when set, becomes the page URL after a successful Login
	LoginRedirect string
	// CallDelay is slept inside every call to widen overlap windows
	CallDelay time.Duration
	// Hang, when set, blocks Screenshot until the channel is closed.
	// Kill does not release it.
	Hang chan struct{}

	launched   bool
	url        string
	viewport   browser.Viewport
	entries    []browser.LogEntry
	frame      []byte
	mouse      []browser.MouseEvent
	keys       []browser.KeyEvent
	launches   int
	quits      int
	afterQuit  int
	logins     []browser.Credentials
	inFlight   atomic.Int32
	overlapped atomic.Bool
	hanging    atomic.Int32
	kills      atomic.Int32
}

var (
	_ browser.LoginDriver = (*Driver)(nil)
	_ browser.Killer      = (*Driver)(nil)
)

// New creates a driver that serves PNG frames
func New() *Driver {
	return &Driver{frame: PNG}
}

// Factory returns a browser.Factory that hands out d
func (d *Driver) Factory() browser.Factory {
	return func() browser.Driver { return d }
}

func (d *Driver) enter() func() {
	if d.inFlight.Add(1) > 1 {
		d.overlapped.Store(true)
	}
	if d.CallDelay > 0 {
		time.Sleep(d.CallDelay)
	}
	return func() { d.inFlight.Add(-1) }
}

func (d *Driver) touchAfterQuit() {
	if d.quits > 0 {
		d.afterQuit++
	}
}

func (d *Driver) Launch(url string, vp browser.Viewport) error {
	defer d.enter()()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.launches++
	if d.LaunchErr != nil {
		return d.LaunchErr
	}
	d.launched = true
	d.url = url
	d.viewport = vp
	return nil
}

func (d *Driver) CurrentURL() (string, error) {
	defer d.enter()()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.touchAfterQuit()
	if !d.launched {
		return "", browser.ErrNotLaunched
	}
	return d.url, nil
}

func (d *Driver) Logs() ([]browser.LogEntry, error) {
	defer d.enter()()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.touchAfterQuit()
	if !d.launched {
		return nil, browser.ErrNotLaunched
	}
	out := d.entries
	d.entries = nil
	return out, nil
}

func (d *Driver) Screenshot() ([]byte, error) {
	defer d.enter()()
	if d.Hang != nil {
		d.hanging.Add(1)
		<-d.Hang
		d.hanging.Add(-1)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.touchAfterQuit()
	if !d.launched {
		return nil, browser.ErrNotLaunched
	}
	if d.ScreenshotErr != nil {
		return nil, d.ScreenshotErr
	}
	return d.frame, nil
}

func (d *Driver) DispatchMouse(ev browser.MouseEvent) error {
	defer d.enter()()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.touchAfterQuit()
	d.mouse = append(d.mouse, ev)
	return d.DispatchErr
}

func (d *Driver) DispatchKey(ev browser.KeyEvent) error {
	defer d.enter()()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.touchAfterQuit()
	d.keys = append(d.keys, ev)
	return d.DispatchErr
}

func (d *Driver) Login(creds browser.Credentials) error {
	defer d.enter()()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.touchAfterQuit()
	if !d.launched {
		return browser.ErrNotLaunched
	}
	d.logins = append(d.logins, creds)
	if d.LoginErr != nil {
		return d.LoginErr
	}
	if d.LoginRedirect != "" {
		d.url = d.LoginRedirect
	}
	return nil
}

// Kill is safe to call while another call is in flight
func (d *Driver) Kill() {
	d.kills.Add(1)
}

func (d *Driver) Quit() error {
	defer d.enter()()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.quits++
	d.launched = false
	return nil
}

// SetURL changes the navigation URL reported by CurrentURL
func (d *Driver) SetURL(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = url
}

// SetFrame changes the bytes returned by Screenshot
func (d *Driver) SetFrame(frame []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frame = frame
}

// AddLog queues a raw log message for the next Logs call
func (d *Driver) AddLog(method, message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, browser.LogEntry{
		Method:    method,
		Message:   message,
		Timestamp: time.Now(),
	})
}

func (d *Driver) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

func (d *Driver) Viewport() browser.Viewport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.viewport
}

func (d *Driver) Launches() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.launches
}

func (d *Driver) Quits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.quits
}

// CallsAfterQuit counts non-launch calls made after Quit
func (d *Driver) CallsAfterQuit() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.afterQuit
}

func (d *Driver) MouseEvents() []browser.MouseEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]browser.MouseEvent(nil), d.mouse...)
}

func (d *Driver) KeyEvents() []browser.KeyEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]browser.KeyEvent(nil), d.keys...)
}

func (d *Driver) Logins() []browser.Credentials {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]browser.Credentials(nil), d.logins...)
}

func (d *Driver) Kills() int {
	return int(d.kills.Load())
}

// Hanging reports whether a Screenshot is blocked on Hang
func (d *Driver) Hanging() bool {
	return d.hanging.Load() > 0
}

// Overlapped reports whether two calls ever ran at the same time
func (d *Driver) Overlapped() bool {
	return d.overlapped.Load()
}
