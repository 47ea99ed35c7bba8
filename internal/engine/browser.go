package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// BrowserConfig configures the shared Chrome instance behind the
// browser and stealth engines.
type BrowserConfig struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// RecycleInterval is the maximum lifetime of a Chrome process
	// before it is restarted. Default: 4h.
	RecycleInterval time.Duration

	// NavTimeout bounds navigation + page load. Default: 30s.
	NavTimeout time.Duration

	Logger *slog.Logger
}

func (c *BrowserConfig) defaults() {
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// BrowserManager owns the Chrome process shared by the browser and
// stealth engines. The browser is launched lazily on first use and
// recycled when its lifetime exceeds RecycleInterval, so a leaked page
// or bloated renderer cannot pin memory for the process lifetime.
// Thread-safe.
type BrowserManager struct {
	cfg     BrowserConfig
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	startAt time.Time
	closed  bool
}

// NewBrowserManager creates a manager. Chrome is not started until an
// engine first asks for a page.
func NewBrowserManager(cfg BrowserConfig) *BrowserManager {
	cfg.defaults()
	return &BrowserManager{cfg: cfg}
}

// browserHandle returns the live browser, launching or recycling as
// needed.
func (m *BrowserManager) browserHandle() (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("browser: manager is closed")
	}

	if m.browser != nil && time.Since(m.startAt) > m.cfg.RecycleInterval {
		m.cfg.Logger.Info("browser: recycle interval reached", "uptime", time.Since(m.startAt))
		m.cleanupLocked()
	}

	if m.browser == nil {
		b, err := m.launch()
		if err != nil {
			return nil, err
		}
		m.browser = b
		m.startAt = time.Now()
	}
	return m.browser, nil
}

func (m *BrowserManager) launch() (*rod.Browser, error) {
	log := m.cfg.Logger

	var wsURL string
	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Headless(true)
		// Anti-detection flag.
		l = l.Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome")
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

// Close shuts down Chrome. Scoped release: every engine built on this
// manager becomes unusable afterwards.
func (m *BrowserManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanupLocked()
	return nil
}

func (m *BrowserManager) cleanupLocked() {
	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
}

// render navigates a fresh page to the URL, waits for load, and
// serialises the DOM. The page is closed before returning.
func (m *BrowserManager) render(ctx context.Context, url string, useStealth bool) ([]byte, error) {
	b, err := m.browserHandle()
	if err != nil {
		return nil, err
	}

	var page *rod.Page
	if useStealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(url); err != nil {
		return nil, fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		m.cfg.Logger.Warn("browser: wait load timeout", "url", url, "error", err)
	}

	res, err := page.Context(navCtx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("browser: get DOM: %w", err)
	}
	return []byte(res.Value.Str()), nil
}

// BrowserEngine renders pages in headless Chrome. Needed for sources
// that assemble their race cards client-side.
type BrowserEngine struct {
	manager *BrowserManager
}

// NewBrowserEngine creates a BrowserEngine on a shared manager.
func NewBrowserEngine(m *BrowserManager) *BrowserEngine {
	return &BrowserEngine{manager: m}
}

func (e *BrowserEngine) Name() string { return "browser" }

// Fetch renders the URL and returns the serialised DOM. Request
// headers are not applied: rendering sources are pages, not APIs.
func (e *BrowserEngine) Fetch(ctx context.Context, url string, _ map[string]string) ([]byte, error) {
	body, err := e.manager.render(ctx, url, false)
	if err != nil {
		return nil, &TransportError{Engine: e.Name(), URL: url, Cause: err}
	}
	return body, nil
}

// Close is a no-op: the shared manager owns the Chrome process.
func (e *BrowserEngine) Close() error { return nil }

// StealthEngine renders pages with anti-detection patches applied.
// Last resort for sources that block both plain HTTP and vanilla
// headless Chrome.
type StealthEngine struct {
	manager *BrowserManager
}

// NewStealthEngine creates a StealthEngine on a shared manager.
func NewStealthEngine(m *BrowserManager) *StealthEngine {
	return &StealthEngine{manager: m}
}

func (e *StealthEngine) Name() string { return "stealth" }

// Fetch renders the URL through a stealth page.
func (e *StealthEngine) Fetch(ctx context.Context, url string, _ map[string]string) ([]byte, error) {
	body, err := e.manager.render(ctx, url, true)
	if err != nil {
		return nil, &TransportError{Engine: e.Name(), URL: url, Cause: err}
	}
	return body, nil
}

// Close is a no-op: the shared manager owns the Chrome process.
func (e *StealthEngine) Close() error { return nil }
