package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log"
	"os"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/agoraflux/chart-export/pkg/model"
)

// PlaywrightBackend captures chart elements using Playwright
type PlaywrightBackend struct {
	config     model.CaptureConfig
	pw         *playwright.Playwright
	browser    playwright.Browser
	instanceID string
}

// NewPlaywrightBackend creates a new Playwright capture backend
func NewPlaywrightBackend(config model.CaptureConfig) *PlaywrightBackend {
	if config.ViewportWidth == 0 {
		config.ViewportWidth = 1920
	}
	if config.ViewportHeight == 0 {
		config.ViewportHeight = 1080
	}
	if config.TimeoutMS == 0 {
		config.TimeoutMS = 30000
	}

	return &PlaywrightBackend{
		config:     config,
		pw:         nil, // Lazy initialization
		browser:    nil,
		instanceID: generateInstanceID(),
	}
}

// getBrowser initializes or returns existing browser instance
func (b *PlaywrightBackend) getBrowser() (playwright.Browser, error) {
	if b.browser != nil {
		return b.browser, nil
	}

	// Playwright needs a writable cache directory; home may be read-only
	// in container deployments
	playwrightCache := os.Getenv("PLAYWRIGHT_BROWSERS_PATH")
	if playwrightCache == "" {
		playwrightCache = "/tmp/.playwright-cache"
		os.Setenv("PLAYWRIGHT_BROWSERS_PATH", playwrightCache)
	}
	if err := os.MkdirAll(playwrightCache, 0755); err != nil {
		log.Printf("[CAPTURE] WARNING: failed to create Playwright cache directory: %v", err)
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start Playwright: %w (consider backend=chromium instead)", err)
	}
	b.pw = pw

	// Prefer system Chromium over Playwright's bundled download
	chromiumPath := b.config.ChromiumPath
	if chromiumPath == "" {
		for _, path := range []string{
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/usr/bin/google-chrome",
			"/usr/bin/google-chrome-stable",
		} {
			if _, err := os.Stat(path); err == nil {
				chromiumPath = path
				break
			}
		}
	}

	launchOptions := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--no-sandbox",
			"--disable-setuid-sandbox",
			"--disable-dev-shm-usage",
			"--disable-gpu",
			"--no-first-run",
			"--no-default-browser-check",
			"--no-proxy-server",
			"--disable-breakpad",
		},
	}
	if chromiumPath != "" {
		launchOptions.ExecutablePath = playwright.String(chromiumPath)
	}
	if b.config.SkipTLSVerify {
		launchOptions.Args = append(launchOptions.Args, "--ignore-certificate-errors")
		log.Printf("[CAPTURE] WARNING: TLS certificate verification disabled")
	}

	browser, err := pw.Chromium.Launch(launchOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to launch Chromium: %w", err)
	}

	b.browser = browser
	log.Printf("[CAPTURE] Playwright Chromium browser initialized (instance: %s)", b.instanceID)
	return browser, nil
}

// CaptureElement renders the hosting page and screenshots the chart node.
func (b *PlaywrightBackend) CaptureElement(ctx context.Context, el *model.Element, opts model.CaptureOptions) (image.Image, error) {
	browser, err := b.getBrowser()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize browser: %w", err)
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

	contextOptions := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  width,
			Height: height,
		},
		DeviceScaleFactor: playwright.Float(scale),
		IgnoreHttpsErrors: playwright.Bool(b.config.SkipTLSVerify),
	}
	if b.config.AuthToken != "" {
		contextOptions.ExtraHttpHeaders = map[string]string{
			"Authorization": "Bearer " + b.config.AuthToken,
		}
	}

	browserContext, err := browser.NewContext(contextOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	defer browserContext.Close()

	page, err := browserContext.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	defer page.Close()

	page.SetDefaultTimeout(float64(b.config.TimeoutMS))

	if _, err := page.Goto(el.URL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	}); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to navigate to %s: %w", el.URL, err)
	}

	if opts.BackgroundColor != "" {
		_, _ = page.Evaluate(`color => { document.body.style.backgroundColor = color }`, opts.BackgroundColor)
	}

	node, err := page.WaitForSelector(el.Selector, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(float64(b.config.TimeoutMS)),
		State:   playwright.WaitForSelectorStateVisible,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("element %q not found: %w", el.Selector, err)
	}

	if b.config.DelayMS > 0 {
		time.Sleep(time.Duration(b.config.DelayMS) * time.Millisecond)
	}

	shot, err := node.Screenshot(playwright.ElementHandleScreenshotOptions{
		Type: playwright.ScreenshotTypePng,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to screenshot element: %w", err)
	}

	img, err := png.Decode(bytes.NewReader(shot))
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}
	return img, nil
}

// Close closes the browser and stops Playwright
func (b *PlaywrightBackend) Close() error {
	if b.browser != nil {
		log.Printf("[CAPTURE] closing Playwright browser (instance: %s)", b.instanceID)
		if err := b.browser.Close(); err != nil {
			return err
		}
	}
	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			return err
		}
	}
	return nil
}

// Name returns the backend name
func (b *PlaywrightBackend) Name() string {
	return "playwright"
}
