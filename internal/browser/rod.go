package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

const (
	defaultMaxLogEntries = 512
	defaultCallTimeout   = 15 * time.Second
	defaultFormTimeout   = 30 * time.Second
)

// Sign-in form fields and the inline hint shown under a rejected field
const (
	loginField    = "[name=login]"
	passwordField = "[name=passwd]"
	otpField      = "[name=otp]"
	rejectedHint  = ".Textinput-Hint_state_error, [id$=':hint'][role=alert]"
)

// RodConfig configures browser launches
type RodConfig struct {
	Headless bool
	Bin      string
	// MaxLogEntries bounds the event buffer between Logs calls
	MaxLogEntries int
	// CallTimeout bounds every page call after launch
	CallTimeout time.Duration
	// FormTimeout bounds the wait for each sign-in form field
	FormTimeout time.Duration
}

// RodDriver drives Chromium over the DevTools protocol
type RodDriver struct {
	cfg    RodConfig
	logger *zap.Logger

	browser *rod.Browser
	page    *rod.Page
	stop    context.CancelFunc

	// procMu guards launcher, which Kill reads from outside the worker
	procMu   sync.Mutex
	launcher *launcher.Launcher

	mu      sync.Mutex
	entries []LogEntry
}

var (
	_ LoginDriver = (*RodDriver)(nil)
	_ Killer      = (*RodDriver)(nil)
)

// NewRodDriver creates an unlaunched driver
func NewRodDriver(cfg RodConfig, logger *zap.Logger) *RodDriver {
	if cfg.MaxLogEntries <= 0 {
		cfg.MaxLogEntries = defaultMaxLogEntries
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.FormTimeout <= 0 {
		cfg.FormTimeout = defaultFormTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RodDriver{cfg: cfg, logger: logger.Named("rod")}
}

// RodFactory returns a Factory producing RodDrivers
func RodFactory(cfg RodConfig, logger *zap.Logger) Factory {
	return func() Driver {
		return NewRodDriver(cfg, logger)
	}
}

// Launch starts Chromium, applies the viewport and navigates to url
func (d *RodDriver) Launch(url string, vp Viewport) error {
	if d.browser != nil {
		return fmt.Errorf("browser already launched")
	}

	l := launcher.New().
		Headless(d.cfg.Headless).
		Set(flags.Flag("disable-gpu")).
		Set(flags.Flag("no-sandbox")).
		Set(flags.Flag("disable-dev-shm-usage")).
		Set(flags.Flag("disable-extensions")).
		Set(flags.Flag("disable-infobars")).
		Set(flags.Flag("window-size"), fmt.Sprintf("%d,%d", vp.Width, vp.Height))
	if d.cfg.Bin != "" {
		l = l.Bin(d.cfg.Bin)
	}
	d.procMu.Lock()
	d.launcher = l
	d.procMu.Unlock()

	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("launch chromium: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chromium: %w", err)
	}
	d.browser = browser

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return fmt.Errorf("create page: %w", err)
	}
	d.page = page

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.Width,
		Height:            vp.Height,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		d.logger.Warn("Failed to set viewport", zap.Error(err))
	}
	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return fmt.Errorf("enable network domain: %w", err)
	}
	if err := (proto.PageEnable{}).Call(page); err != nil {
		return fmt.Errorf("enable page domain: %w", err)
	}

	// Subscribe before navigating so the redirect carrying the token is seen
	ctx, cancel := context.WithCancel(context.Background())
	d.stop = cancel
	wait := page.Context(ctx).EachEvent(
		func(ev *proto.NetworkRequestWillBeSent) { d.record(ev.ProtoEvent(), ev) },
		func(ev *proto.PageFrameNavigated) { d.record(ev.ProtoEvent(), ev) },
		func(ev *proto.PageNavigatedWithinDocument) { d.record(ev.ProtoEvent(), ev) },
	)
	go wait()

	nav, done := d.bounded(d.cfg.CallTimeout)
	defer done()
	if err := nav.Navigate(url); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	return nil
}

// bounded scopes the page to one call. Call the returned func when done.
func (d *RodDriver) bounded(timeout time.Duration) (*rod.Page, func()) {
	page := d.page.Timeout(timeout)
	return page, func() { page.CancelTimeout() }
}

type logEnvelope struct {
	Message logMessage `json:"message"`
}

type logMessage struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

// record runs on rod's event goroutine
func (d *RodDriver) record(method string, params any) {
	raw, err := sonic.Marshal(logEnvelope{Message: logMessage{Method: method, Params: params}})
	if err != nil {
		d.logger.Debug("Failed to encode event", zap.String("method", method), zap.Error(err))
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.entries) >= d.cfg.MaxLogEntries {
		d.entries = d.entries[1:]
	}
	d.entries = append(d.entries, LogEntry{
		Method:    method,
		Message:   string(raw),
		Timestamp: time.Now(),
	})
}

// Logs drains recorded events
func (d *RodDriver) Logs() ([]LogEntry, error) {
	if d.page == nil {
		return nil, ErrNotLaunched
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.entries
	d.entries = nil
	return out, nil
}

// CurrentURL returns the page URL including its fragment
func (d *RodDriver) CurrentURL() (string, error) {
	if d.page == nil {
		return "", ErrNotLaunched
	}
	page, done := d.bounded(d.cfg.CallTimeout)
	defer done()
	info, err := page.Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

// Screenshot captures the viewport as PNG
func (d *RodDriver) Screenshot() ([]byte, error) {
	if d.page == nil {
		return nil, ErrNotLaunched
	}
	page, done := d.bounded(d.cfg.CallTimeout)
	defer done()
	return page.Screenshot(false, nil)
}

func (d *RodDriver) DispatchMouse(ev MouseEvent) error {
	if d.page == nil {
		return ErrNotLaunched
	}
	page, done := d.bounded(d.cfg.CallTimeout)
	defer done()
	return proto.InputDispatchMouseEvent{
		Type:       proto.InputDispatchMouseEventType(ev.Type),
		X:          ev.X,
		Y:          ev.Y,
		Modifiers:  ev.Modifiers,
		Button:     proto.InputMouseButton(ev.Button),
		Buttons:    ev.Buttons,
		ClickCount: ev.ClickCount,
		DeltaX:     ev.DeltaX,
		DeltaY:     ev.DeltaY,
	}.Call(page)
}

func (d *RodDriver) DispatchKey(ev KeyEvent) error {
	if d.page == nil {
		return ErrNotLaunched
	}
	page, done := d.bounded(d.cfg.CallTimeout)
	defer done()
	return proto.InputDispatchKeyEvent{
		Type:                  proto.InputDispatchKeyEventType(ev.Type),
		Modifiers:             ev.Modifiers,
		Text:                  ev.Text,
		UnmodifiedText:        ev.UnmodifiedText,
		Code:                  ev.Code,
		Key:                   ev.Key,
		WindowsVirtualKeyCode: ev.WindowsVirtualKeyCode,
		NativeVirtualKeyCode:  ev.NativeVirtualKeyCode,
		AutoRepeat:            ev.AutoRepeat,
	}.Call(page)
}

type formStep struct {
	field string
	value string
}

// Login walks the sign-in form: login, then password, then the one-time
// code when one is given. A field that never shows up ends the walk early
// without error; the caller keeps watching for the token.
func (d *RodDriver) Login(creds Credentials) error {
	if d.page == nil {
		return ErrNotLaunched
	}
	if creds.Username == "" || creds.Password == "" {
		return nil
	}

	steps := []formStep{
		{loginField, creds.Username},
		{passwordField, creds.Password},
	}
	if creds.OTP != "" {
		steps = append(steps, formStep{otpField, creds.OTP})
	}

	for _, step := range steps {
		filled, err := d.fill(step.field, step.value)
		if err != nil {
			return err
		}
		if !filled {
			d.logger.Debug("Sign-in field not shown", zap.String("field", step.field))
			return nil
		}
	}
	return d.checkRejected()
}

// fill waits for field, types value and submits it. It reports false when
// the field did not appear within FormTimeout.
func (d *RodDriver) fill(field, value string) (bool, error) {
	page, done := d.bounded(d.cfg.FormTimeout)
	defer done()

	el, err := page.Race().
		Element(field).
		Element(rejectedHint).
		Do()
	if errors.Is(err, context.DeadlineExceeded) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("wait for %s: %w", field, err)
	}
	if hint, _ := el.Matches(rejectedHint); hint {
		return false, ErrInvalidCredentials
	}

	if err := el.SelectAllText(); err != nil {
		d.logger.Debug("Failed to clear field", zap.String("field", field), zap.Error(err))
	}
	if err := el.Input(value); err != nil {
		return false, fmt.Errorf("fill %s: %w", field, err)
	}
	if err := el.Type(input.Enter); err != nil {
		return false, fmt.Errorf("submit %s: %w", field, err)
	}
	return true, nil
}

// checkRejected looks for an error hint after the last submit
func (d *RodDriver) checkRejected() error {
	page, done := d.bounded(d.cfg.CallTimeout)
	defer done()

	if err := page.WaitStable(time.Second); err != nil {
		d.logger.Debug("Page did not settle after sign-in", zap.Error(err))
	}
	has, _, err := page.Has(rejectedHint)
	if err != nil {
		d.logger.Debug("Failed to check sign-in result", zap.Error(err))
		return nil
	}
	if has {
		return ErrInvalidCredentials
	}
	return nil
}

// Quit stops event collection and kills the browser process
func (d *RodDriver) Quit() error {
	if d.stop != nil {
		d.stop()
		d.stop = nil
	}

	var err error
	if d.browser != nil {
		err = d.browser.Timeout(d.cfg.CallTimeout).Close()
		d.browser = nil
	}
	d.page = nil

	d.procMu.Lock()
	l := d.launcher
	d.launcher = nil
	d.procMu.Unlock()
	if l != nil {
		l.Kill()
		l.Cleanup()
	}
	return err
}

// Kill terminates the Chromium process without going through the DevTools
// connection. Calls wedged on the page fail once the process is gone.
func (d *RodDriver) Kill() {
	d.procMu.Lock()
	l := d.launcher
	d.procMu.Unlock()
	if l == nil {
		return
	}
	d.logger.Warn("Killing browser process", zap.Int("pid", l.PID()))
	l.Kill()
}
