package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"pricewatcher/internal/logging"
)

// BrowserOptions parameterise a remote headless-browser endpoint.
type BrowserOptions struct {
	Endpoint  string
	Token     string
	Proxy     string
	Timeout   time.Duration
	Stealth   bool
	UserAgent string
}

// Browser drives a headless-browser rendering service: navigate, wait for
// network idle, return the rendered HTML. The same client serves the local
// rendered tier and the residential-proxy cloud tier; only options differ.
type Browser struct {
	opts     BrowserOptions
	client   *http.Client
	endpoint string
	logger   zerolog.Logger
}

// NewBrowser constructs a browser client.
func NewBrowser(opts BrowserOptions, logger zerolog.Logger) *Browser {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}

	return &Browser{
		opts:     opts,
		client:   &http.Client{Timeout: timeout},
		endpoint: strings.TrimRight(opts.Endpoint, "/") + "/content",
		logger:   logging.Component(logger, "browser"),
	}
}

type renderRequest struct {
	URL       string `json:"url"`
	WaitUntil string `json:"waitUntil"`
	Stealth   bool   `json:"stealth,omitempty"`
	Proxy     string `json:"proxy,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

type renderError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Render navigates to the URL and returns the rendered HTML.
func (b *Browser) Render(ctx context.Context, url string) (string, error) {
	if b.opts.Endpoint == "" {
		return "", &Error{Kind: KindProvider, Err: errors.New("browser endpoint not configured")}
	}

	payload := renderRequest{
		URL:       url,
		WaitUntil: "networkidle2",
		Stealth:   b.opts.Stealth,
		Proxy:     b.opts.Proxy,
		UserAgent: b.opts.UserAgent,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", &Error{Kind: KindProvider, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &Error{Kind: KindProvider, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if b.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+b.opts.Token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return "", &Error{Kind: classifyTransportError(err), Err: err}
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Kind: KindNetwork, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &Error{Kind: classifyRenderFailure(resp.StatusCode, payloadBytes), Err: parseRenderError(resp.StatusCode, payloadBytes)}
	}

	return string(payloadBytes), nil
}

var _ PageRenderer = (*Browser)(nil)

// classifyRenderFailure maps a render-service failure onto the extraction
// taxonomy: the service relays navigation timeouts and bot walls as 4xx.
func classifyRenderFailure(status int, body []byte) Kind {
	lower := strings.ToLower(string(body))
	if strings.Contains(lower, "timeout") {
		return KindTimeout
	}
	if status >= 400 && status < 500 {
		return classifyStatus(status, body)
	}
	return KindProvider
}

func parseRenderError(status int, payload []byte) error {
	var apiErr renderError
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("render service (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("render service (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("render service (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("render service (%d)", status)
}

// BrowserPool bounds how many browser sessions exist at once. Sessions are
// the scarce resource; acquisition is scoped so every exit path, error
// included, releases the slot.
type BrowserPool struct {
	renderer PageRenderer
	slots    chan struct{}
}

// NewBrowserPool sizes the pool; size should match worker concurrency.
func NewBrowserPool(renderer PageRenderer, size int) *BrowserPool {
	if size <= 0 {
		size = 1
	}
	slots := make(chan struct{}, size)
	for i := 0; i < size; i++ {
		slots <- struct{}{}
	}
	return &BrowserPool{renderer: renderer, slots: slots}
}

// Render acquires a session slot, renders, and releases the slot.
func (p *BrowserPool) Render(ctx context.Context, url string) (string, error) {
	select {
	case <-ctx.Done():
		return "", &Error{Kind: KindTimeout, Err: ctx.Err()}
	case <-p.slots:
	}
	defer func() { p.slots <- struct{}{} }()

	return p.renderer.Render(ctx, url)
}

var _ PageRenderer = (*BrowserPool)(nil)
