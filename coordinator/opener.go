package coordinator

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/pkg/browser"
)

// BrowserOpener opens the options page in the user's default browser.
type BrowserOpener struct {
	URL    string
	Logger *slog.Logger

	// open is replaced in tests.
	open func(url string) error
}

// NewBrowserOpener returns an opener for url.
func NewBrowserOpener(url string, logger *slog.Logger) *BrowserOpener {
	// the launcher's own output would interleave with structured logs
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard
	return &BrowserOpener{URL: url, Logger: logger, open: browser.OpenURL}
}

// OpenOptions launches the browser on the options page.
func (b *BrowserOpener) OpenOptions(_ context.Context) error {
	if b.URL == "" {
		return fmt.Errorf("opening options page: no url configured")
	}
	open := b.open
	if open == nil {
		open = browser.OpenURL
	}
	if err := open(b.URL); err != nil {
		return fmt.Errorf("opening options page: %w", err)
	}
	if b.Logger != nil {
		b.Logger.Info("opened options page", "url", b.URL)
	}
	return nil
}
