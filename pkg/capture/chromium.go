package capture

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"image"
	"image/png"
	"log"
	"os"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/agoraflux/chart-export/pkg/model"
)

// ChromiumBackend captures chart elements using Chromium via go-rod
type ChromiumBackend struct {
	config     model.CaptureConfig
	browser    *rod.Browser
	instanceID string // Unique ID for this backend instance
	profileDir string // Unique profile directory for this instance
}

// findChromeBinary tries to locate Chrome binary in common locations
func (b *ChromiumBackend) findChromeBinary() string {
	candidatePaths := []string{
		"./chrome-linux64/chrome",
		"chrome-linux64/chrome",

		// System Chrome installations
		"/usr/bin/google-chrome",
		"/usr/bin/google-chrome-stable",
		"/usr/bin/chromium",
		"/usr/bin/chromium-browser",
		"/snap/bin/chromium",

		// macOS
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
	}

	for _, path := range candidatePaths {
		if info, err := os.Stat(path); err == nil {
			if info.Mode()&0111 != 0 {
				return path
			}
		}
	}
	return ""
}

// generateInstanceID creates a unique identifier for this backend instance
func generateInstanceID() string {
	buf := make([]byte, 8)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}

// NewChromiumBackend creates a new Chromium capture backend
func NewChromiumBackend(config model.CaptureConfig) *ChromiumBackend {
	// Set defaults
	if config.ViewportWidth == 0 {
		config.ViewportWidth = 1920
	}
	if config.ViewportHeight == 0 {
		config.ViewportHeight = 1080
	}
	if config.TimeoutMS == 0 {
		config.TimeoutMS = 30000
	}

	instanceID := generateInstanceID()
	profileDir := fmt.Sprintf("/tmp/.chromium-profile-%s", instanceID)

	return &ChromiumBackend{
		config:     config,
		browser:    nil, // Lazy initialization
		instanceID: instanceID,
		profileDir: profileDir,
	}
}

// getBrowser initializes or returns existing browser instance
func (b *ChromiumBackend) getBrowser() (*rod.Browser, error) {
	if b.browser != nil {
		return b.browser, nil
	}

	// Crashpad handler needs writable config/cache directories
	os.Setenv("XDG_CONFIG_HOME", "/tmp/.chromium-config")
	os.Setenv("XDG_CACHE_HOME", "/tmp/.chromium-cache")
	os.MkdirAll("/tmp/.chromium-config", 0755)
	os.MkdirAll("/tmp/.chromium-cache", 0755)
	os.MkdirAll("/tmp/chrome-crashes", 0755)
	os.MkdirAll(b.profileDir, 0755)

	l := launcher.New()

	chromePath := b.config.ChromiumPath
	if chromePath == "" {
		chromePath = b.findChromeBinary()
		if chromePath != "" {
			log.Printf("[CAPTURE] auto-detected Chrome binary at: %s", chromePath)
		}
	}
	if chromePath != "" {
		l = l.Bin(chromePath)
	} else {
		log.Printf("[CAPTURE] WARNING: no Chrome binary configured, relying on system default or auto-download")
	}

	// Essential Chrome flags for server environments
	l = l.Set("no-sandbox")
	l = l.Set("disable-setuid-sandbox")
	l = l.Set("disable-dev-shm-usage")
	l = l.Set("disable-gpu")
	l = l.Set("no-first-run")
	l = l.Set("no-default-browser-check")
	l = l.Set("no-proxy-server")

	// Crashpad handler configuration
	l = l.Set("crash-dumps-dir", "/tmp/chrome-crashes")
	l = l.Set("disable-breakpad")

	// Profile must be writable and unique per instance to avoid SingletonLock errors
	l = l.Set("user-data-dir", b.profileDir)

	l = l.Headless(true)
	l = l.Set("headless", "new")

	if b.config.SkipTLSVerify {
		l = l.Set("ignore-certificate-errors")
		log.Printf("[CAPTURE] WARNING: TLS certificate verification disabled")
	}

	launchURL, err := l.Launch()
	if err != nil {
		if chromePath == "" {
			return nil, fmt.Errorf("failed to launch browser: %w (Chrome/Chromium not found; set chromium_path in capture settings or install chromium)", err)
		}
		return nil, fmt.Errorf("failed to launch browser at %q: %w", chromePath, err)
	}

	browser := rod.New().ControlURL(launchURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	b.browser = browser
	log.Printf("[CAPTURE] Chromium browser initialized (instance: %s)", b.instanceID)
	return browser, nil
}

// CaptureElement renders the hosting page and screenshots the chart node as
// a decoded image.
func (b *ChromiumBackend) CaptureElement(ctx context.Context, el *model.Element, opts model.CaptureOptions) (image.Image, error) {
	browser, err := b.getBrowser()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize browser: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	defer page.Close()

	page = page.Context(ctx)

	if b.config.AuthToken != "" {
		// Key/value pairs, flat slice
		cleanup, err := page.SetExtraHeaders([]string{"Authorization", "Bearer " + b.config.AuthToken})
		if err != nil {
			return nil, fmt.Errorf("failed to set auth header: %w", err)
		}
		defer cleanup()
	}

	scale := opts.Scale
	if scale <= 0 {
		scale = 2
	}
	width := b.config.ViewportWidth
	height := b.config.ViewportHeight
	if opts.Width > 0 {
		width = opts.Width
	}
	if opts.Height > 0 {
		height = opts.Height
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: scale,
		Mobile:            false,
	}); err != nil {
		return nil, fmt.Errorf("failed to set viewport: %w", err)
	}

	page = page.Timeout(time.Duration(b.config.TimeoutMS) * time.Millisecond)

	if err := page.Navigate(el.URL); err != nil {
		return nil, fmt.Errorf("failed to navigate to %s: %w", el.URL, err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("failed to wait for page load: %w", err)
	}

	if opts.BackgroundColor != "" {
		_, _ = page.Eval(`(color) => { document.body.style.backgroundColor = color }`, opts.BackgroundColor)
	}

	node, err := page.Element(el.Selector)
	if err != nil {
		return nil, fmt.Errorf("element %q not found: %w", el.Selector, err)
	}
	if err := node.WaitVisible(); err != nil {
		return nil, fmt.Errorf("element %q did not become visible: %w", el.Selector, err)
	}

	// Let chart animations and pending requests settle
	page.WaitIdle(time.Duration(b.config.TimeoutMS) * time.Millisecond)
	if b.config.DelayMS > 0 {
		time.Sleep(time.Duration(b.config.DelayMS) * time.Millisecond)
	}

	shot, err := node.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to screenshot element: %w", err)
	}

	img, err := png.Decode(bytes.NewReader(shot))
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}
	return img, nil
}

// Close closes the browser instance
func (b *ChromiumBackend) Close() error {
	if b.browser != nil {
		log.Printf("[CAPTURE] closing Chromium browser (instance: %s)", b.instanceID)
		err := b.browser.Close()

		// Clean up profile directory to free disk space
		if b.profileDir != "" {
			os.RemoveAll(b.profileDir)
		}
		return err
	}
	return nil
}

// Name returns the backend name
func (b *ChromiumBackend) Name() string {
	return "chromium"
}
