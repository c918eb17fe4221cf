package datasource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/chicoryai/taskrunner/internal/objectstore"
)

// webfetchRenderTimeout bounds a single headless render, matching the
// project/external tool-server fan-out's own timeout discipline rather
// than letting a slow or hung page block ingestion indefinitely.
const webfetchRenderTimeout = 20 * time.Second

// WebfetchConfig is the webfetch DataSource's configuration shape: the
// one required field is "url" (see requiredFields in validate.go).
type WebfetchConfig struct {
	URL string `json:"url"`
}

// Webfetcher renders a URL headlessly and stores the resulting DOM.
// Grounded on chromedp's exec-allocator + Run pattern; unlike an
// interactive browser-relay tool that attaches to an already-running
// Chrome session, this launches and tears down a fresh headless instance
// per fetch, since ingestion runs unattended and needs no operator tab.
type Webfetcher struct {
	Store  objectstore.Store
	Logger *slog.Logger

	render func(ctx context.Context, url string) (string, error)
}

// NewWebfetcher builds a Webfetcher.
func NewWebfetcher(store objectstore.Store, logger *slog.Logger) *Webfetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Webfetcher{Store: store, Logger: logger, render: renderHeadless}
}

// Ingest renders ds.Configuration's url and writes the rendered HTML to
// "{project_id}/raw/webfetch/{hash}.html" in the object store, where hash
// is the sha256 of the URL. It returns the object key written.
func (w *Webfetcher) Ingest(ctx context.Context, projectID string, rawConfig json.RawMessage) (string, error) {
	var cfg WebfetchConfig
	if err := json.Unmarshal(rawConfig, &cfg); err != nil {
		return "", fmt.Errorf("decode webfetch configuration: %w", err)
	}
	if cfg.URL == "" {
		return "", fmt.Errorf("webfetch configuration missing url")
	}

	renderCtx, cancel := context.WithTimeout(ctx, webfetchRenderTimeout)
	defer cancel()

	html, err := w.render(renderCtx, cfg.URL)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", cfg.URL, err)
	}

	hash := sha256.Sum256([]byte(cfg.URL))
	key := fmt.Sprintf("%s/raw/webfetch/%s.html", projectID, hex.EncodeToString(hash[:]))

	if _, err := w.Store.Put(ctx, key, strings.NewReader(html), objectstore.PutOptions{MimeType: "text/html"}); err != nil {
		return "", fmt.Errorf("store rendered page: %w", err)
	}

	w.Logger.Info("webfetch ingested", "project_id", projectID, "url", cfg.URL, "key", key, "bytes", len(html))
	return key, nil
}

// renderHeadless launches a fresh headless Chrome instance, navigates to
// url, and returns the rendered document's outer HTML.
func renderHeadless(ctx context.Context, url string) (string, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	defer allocCancel()
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	var html string
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(url),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}
