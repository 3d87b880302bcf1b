// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	aegiserr "github.com/aegis-dev/aegis/pkg/errors"
)

const (
	navigationTimeout = 30 * time.Second
	elementTimeout    = 5 * time.Second
	maxPageContent    = 5000
)

// BrowserEngine owns the single shared headless browser behind the browser
// tools. The browser launches lazily on first use; all tool operations
// serialize on one mutex so the single page is never driven concurrently.
type BrowserEngine struct {
	mu            sync.Mutex
	screenshotDir string

	launch  *launcher.Launcher
	browser *rod.Browser
	page    *rod.Page
}

// NewBrowserEngine creates an engine that stores screenshots under
// sandboxRoot/.screenshots.
func NewBrowserEngine(sandboxRoot string) *BrowserEngine {
	return &BrowserEngine{screenshotDir: filepath.Join(sandboxRoot, ".screenshots")}
}

// ensurePage launches the browser on first use. Callers must hold mu.
func (e *BrowserEngine) ensurePage() (*rod.Page, error) {
	if e.page != nil {
		return e.page, nil
	}

	launch := launcher.New().Headless(true)
	controlURL, err := launch.Launch()
	if err != nil {
		return nil, aegiserr.Wrapf(err, aegiserr.CodeToolExecutionFailure, "launching headless browser")
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		launch.Kill()
		return nil, aegiserr.Wrapf(err, aegiserr.CodeToolExecutionFailure, "connecting to browser")
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = browser.Close()
		launch.Kill()
		return nil, aegiserr.Wrapf(err, aegiserr.CodeToolExecutionFailure, "opening browser page")
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             1280,
		Height:            720,
		DeviceScaleFactor: 1,
	}).Call(page); err != nil {
		_ = page.Close()
		_ = browser.Close()
		launch.Kill()
		return nil, aegiserr.Wrapf(err, aegiserr.CodeToolExecutionFailure, "configuring browser viewport")
	}

	e.launch = launch
	e.browser = browser
	e.page = page
	return page, nil
}

// Close tears down the page, browser, and launched process. Safe to call
// when the browser never launched.
func (e *BrowserEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	if e.page != nil {
		if err := e.page.Close(); err != nil {
			errs = append(errs, err)
		}
		e.page = nil
	}
	if e.browser != nil {
		if err := e.browser.Close(); err != nil {
			errs = append(errs, err)
		}
		e.browser = nil
	}
	if e.launch != nil {
		e.launch.Kill()
		e.launch = nil
	}
	if len(errs) > 0 {
		return aegiserr.Join(errs...)
	}
	return nil
}

// NewBrowserTools creates the browser tool set sharing one engine.
func NewBrowserTools(engine *BrowserEngine) []Tool {
	return []Tool{
		&BrowserNavigate{engine},
		&BrowserGetContent{engine},
		&BrowserClick{engine},
		&BrowserTypeText{engine},
		&BrowserScreenshot{engine},
	}
}

// BrowserNavigate visits a URL in the shared browser.
type BrowserNavigate struct{ engine *BrowserEngine }

func (t *BrowserNavigate) Name() string { return "browser_navigate" }

func (t *BrowserNavigate) Description() string {
	return "Navigate the browser to a URL and return the page title. Use this to visit " +
		"a website. After navigating, you can use other browser tools to interact with the page content."
}

func (t *BrowserNavigate) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The full URL to navigate to (e.g. 'https://example.com')",
			},
		},
		"required": []any{"url"},
	}
}

func (t *BrowserNavigate) Execute(_ context.Context, args map[string]any) (string, error) {
	url := stringArg(args, "url")
	if url == "" {
		return "Error: url argument is required", nil
	}

	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()

	page, err := t.engine.ensurePage()
	if err != nil {
		return "", err
	}

	if err := page.Timeout(navigationTimeout).Navigate(url); err != nil {
		return fmt.Sprintf("Error navigating to %s: %v", url, err), nil
	}
	if err := page.Timeout(navigationTimeout).WaitLoad(); err != nil {
		return fmt.Sprintf("Error waiting for %s to load: %v", url, err), nil
	}

	info, err := page.Info()
	if err != nil {
		return fmt.Sprintf("Navigated to: %s\nTitle: unknown", url), nil
	}
	return fmt.Sprintf("Navigated to: %s\nTitle: %s", url, info.Title), nil
}

// BrowserGetContent extracts visible text from the current page.
type BrowserGetContent struct{ engine *BrowserEngine }

func (t *BrowserGetContent) Name() string { return "browser_get_content" }

func (t *BrowserGetContent) Description() string {
	return "Extract visible text content from the current page. Use this after " +
		"navigating to a page to read its content."
}

func (t *BrowserGetContent) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"selector": map[string]any{
				"type": "string",
				"description": "Optional CSS selector to extract text from a specific element. " +
					"If not provided, extracts the full page body text.",
			},
		},
	}
}

func (t *BrowserGetContent) Execute(_ context.Context, args map[string]any) (string, error) {
	selector := stringArg(args, "selector")
	if selector == "" {
		selector = "body"
	}

	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()

	page, err := t.engine.ensurePage()
	if err != nil {
		return "", err
	}

	el, err := page.Timeout(elementTimeout).Element(selector)
	if err != nil {
		return fmt.Sprintf("No element found matching selector: %s", selector), nil
	}
	text, err := el.Text()
	if err != nil {
		return fmt.Sprintf("Error extracting text from %q: %v", selector, err), nil
	}

	if len(text) > maxPageContent {
		text = text[:maxPageContent] +
			"\n\n... [content truncated — use a CSS selector for specific sections]"
	}
	return text, nil
}

// BrowserClick clicks an element on the current page.
type BrowserClick struct{ engine *BrowserEngine }

func (t *BrowserClick) Name() string { return "browser_click" }

func (t *BrowserClick) Description() string {
	return "Click an element on the current page."
}

func (t *BrowserClick) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"selector": map[string]any{
				"type":        "string",
				"description": "CSS selector for the element to click (e.g. 'button#submit', 'a.nav-link')",
			},
		},
		"required": []any{"selector"},
	}
}

func (t *BrowserClick) Execute(_ context.Context, args map[string]any) (string, error) {
	selector := stringArg(args, "selector")
	if selector == "" {
		return "Error: selector argument is required", nil
	}

	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()

	page, err := t.engine.ensurePage()
	if err != nil {
		return "", err
	}

	el, err := page.Timeout(elementTimeout).Element(selector)
	if err != nil {
		return fmt.Sprintf("Error clicking %q: %v", selector, err), nil
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Sprintf("Error clicking %q: %v", selector, err), nil
	}
	if err := page.Timeout(navigationTimeout).WaitLoad(); err != nil {
		return fmt.Sprintf("Clicked element %q, but the page did not finish loading: %v", selector, err), nil
	}

	info, err := page.Info()
	if err != nil {
		return fmt.Sprintf("Clicked element %q.", selector), nil
	}
	return fmt.Sprintf("Clicked element %q. Page title is now: %s", selector, info.Title), nil
}

// BrowserTypeText types into an input field on the current page.
type BrowserTypeText struct{ engine *BrowserEngine }

func (t *BrowserTypeText) Name() string { return "browser_type_text" }

func (t *BrowserTypeText) Description() string {
	return "Type text into an input field on the current page."
}

func (t *BrowserTypeText) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"selector": map[string]any{
				"type":        "string",
				"description": "CSS selector for the input element (e.g. 'input#search', 'textarea.comment')",
			},
			"text": map[string]any{
				"type":        "string",
				"description": "The text to type into the element",
			},
		},
		"required": []any{"selector", "text"},
	}
}

func (t *BrowserTypeText) Execute(_ context.Context, args map[string]any) (string, error) {
	selector := stringArg(args, "selector")
	text := stringArg(args, "text")
	if selector == "" {
		return "Error: selector argument is required", nil
	}

	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()

	page, err := t.engine.ensurePage()
	if err != nil {
		return "", err
	}

	el, err := page.Timeout(elementTimeout).Element(selector)
	if err != nil {
		return fmt.Sprintf("Error typing into %q: %v", selector, err), nil
	}
	// Select any existing content first so the input replaces rather than appends.
	_ = el.SelectAllText()
	if err := el.Input(text); err != nil {
		return fmt.Sprintf("Error typing into %q: %v", selector, err), nil
	}
	return fmt.Sprintf("Typed %q into element %q", text, selector), nil
}

// BrowserScreenshot captures the current page as a PNG.
type BrowserScreenshot struct{ engine *BrowserEngine }

func (t *BrowserScreenshot) Name() string { return "browser_screenshot" }

func (t *BrowserScreenshot) Description() string {
	return "Take a screenshot of the current page and return its base64 data. " +
		"The screenshot is saved inside the sandbox and returned as a base64-encoded PNG string."
}

func (t *BrowserScreenshot) InputSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *BrowserScreenshot) Execute(_ context.Context, _ map[string]any) (string, error) {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()

	page, err := t.engine.ensurePage()
	if err != nil {
		return "", err
	}

	data, err := page.Screenshot(false, nil)
	if err != nil {
		return fmt.Sprintf("Error taking screenshot: %v", err), nil
	}

	if err := os.MkdirAll(t.engine.screenshotDir, 0o755); err != nil {
		return fmt.Sprintf("Error saving screenshot: %v", err), nil
	}
	path := filepath.Join(t.engine.screenshotDir, "latest.png")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Sprintf("Error saving screenshot: %v", err), nil
	}

	b64 := base64.StdEncoding.EncodeToString(data)
	preview := b64
	suffix := ""
	if len(preview) > 200 {
		preview = preview[:200]
		suffix = "..."
	}

	currentURL := ""
	if info, err := page.Info(); err == nil {
		currentURL = info.URL
	}
	return fmt.Sprintf("Screenshot saved to %s\nCurrent URL: %s\nBase64 PNG (%d chars):\n%s%s",
		path, currentURL, len(b64), preview, suffix), nil
}
