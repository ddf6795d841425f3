// Package browser fetches web content for the assistant: a plain HTTP
// fetch for ordinary pages, a headless-browser fetch for script-driven
// ones, and the weather lookup the dispatcher routes to. Every target
// passes the URL policy before a single byte moves.
package browser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"

	"github.com/selcan/mira/internal/observability"
	"github.com/selcan/mira/internal/tracing"
	"github.com/selcan/mira/pkg/retry"
	"github.com/selcan/mira/pkg/toolexec"
)

const (
	// DefaultTimeout bounds one plain HTTP attempt
	DefaultTimeout = 6 * time.Second

	// DefaultMaxBody caps how much of a response body is read
	DefaultMaxBody = 512 * 1024

	// DefaultPageTimeout bounds a rendered fetch end to end
	DefaultPageTimeout = 30 * time.Second

	defaultWeatherURL = "https://wttr.in"
	defaultUserAgent  = "mira/1.0"

	// weatherSizeLimit caps the weather body; the report is one line
	weatherSizeLimit = 4 * 1024

	// maxRedirects bounds the redirect chain a fetch will follow
	maxRedirects = 5

	// retryBaseDelay is the first backoff after a transient fetch failure
	retryBaseDelay = 500 * time.Millisecond
)

// Config configures the fetcher
type Config struct {
	Logger      zerolog.Logger
	Timeout     time.Duration // per-attempt budget for plain fetches
	PageTimeout time.Duration // end-to-end budget for rendered fetches
	MaxBody     int64         // response size cap in bytes
	UserAgent   string
	WeatherURL  string // weather service base, wttr.in unless overridden
	AllowLocal  bool   // permit loopback targets
	BrowserBin  string // explicit browser binary for rendered fetches
	NoSandbox   bool   // pass --no-sandbox to the browser
}

// Fetcher owns the HTTP client and URL policy shared by the web tools.
type Fetcher struct {
	logger      zerolog.Logger
	client      *http.Client
	policy      URLPolicy
	maxBody     int64
	userAgent   string
	weatherURL  string
	browserBin  string
	noSandbox   bool
	pageTimeout time.Duration
	retryBase   time.Duration
}

// NewFetcher builds a fetcher with cfg, filling unset knobs with
// defaults. Redirects re-enter the URL policy so a public page cannot
// bounce a fetch onto a blocked host.
func NewFetcher(cfg Config) *Fetcher {
	observability.EnsureRegistered()

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = DefaultPageTimeout
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = DefaultMaxBody
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.WeatherURL == "" {
		cfg.WeatherURL = defaultWeatherURL
	}

	policy := URLPolicy{AllowLocal: cfg.AllowLocal}

	return &Fetcher{
		logger: cfg.Logger,
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				_, err := policy.Validate(req.URL.String())
				return err
			},
		},
		policy:      policy,
		maxBody:     cfg.MaxBody,
		userAgent:   cfg.UserAgent,
		weatherURL:  strings.TrimRight(cfg.WeatherURL, "/"),
		browserBin:  cfg.BrowserBin,
		noSandbox:   cfg.NoSandbox,
		pageTimeout: cfg.PageTimeout,
		retryBase:   retryBaseDelay,
	}
}

// PageContent is the readable result of a fetch.
type PageContent struct {
	URL         string
	Title       string
	Status      int
	ContentType string
	Text        string
	Truncated   bool
}

// Fetch gets rawURL over plain HTTP and reduces the response to
// readable text. limit caps the body when positive; the configured cap
// applies otherwise and is never exceeded.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, limit int64) (*PageContent, error) {
	ctx, span := tracing.StartSpan(ctx, "mira.browser", "browser.fetch")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, f.logger)

	u, err := f.policy.Validate(rawURL)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > f.maxBody {
		limit = f.maxBody
	}

	result, err := retry.Do(ctx, f.retryOpts("web_fetch", logger), func(ctx context.Context) (interface{}, error) {
		return f.get(ctx, u, limit)
	})
	observability.RecordWebFetch("web_fetch", err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	page := result.(*PageContent)
	logger.Debug().
		Str("url", page.URL).
		Int("status", page.Status).
		Int("bytes", len(page.Text)).
		Bool("truncated", page.Truncated).
		Msg("Page fetched")
	return page, nil
}

// get performs one attempt. Transport failures keep their error chain
// so the retry layer can recognize timeouts and resets; HTTP failures
// carry the status code in the message for the same reason.
func (f *Fetcher) get(ctx context.Context, u *url.URL, limit int64) (*PageContent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, toolexec.Validationf("invalid url %q: %v", u, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html, text/plain;q=0.9, application/json;q=0.8, */*;q=0.1")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", u.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, toolexec.Execf("%s returned HTTP %d", u.Host, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if binaryContent(contentType) {
		return nil, toolexec.Validationf("cannot read %s content from %s", contentType, u.Host)
	}

	body, truncated, err := readCapped(resp.Body, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", u.Host, err)
	}

	page := &PageContent{
		URL:         resp.Request.URL.String(),
		Status:      resp.StatusCode,
		ContentType: contentType,
		Truncated:   truncated,
	}

	text := string(body)
	if isHTML(contentType, text) {
		page.Title = htmlTitle(text)
		text = htmlToText(text)
	}
	page.Text = strings.TrimSpace(text)
	return page, nil
}

// getText performs one GET and returns the body as a string, for
// endpoints whose responses are small and already plain text.
func (f *Fetcher) getText(ctx context.Context, target string, limit int64) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", toolexec.Validationf("invalid url %q: %v", target, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", toolexec.Execf("%s returned HTTP %d", req.URL.Host, resp.StatusCode)
	}

	body, _, err := readCapped(resp.Body, limit)
	if err != nil {
		return "", fmt.Errorf("failed to read response from %s: %w", req.URL.Host, err)
	}
	return string(body), nil
}

func (f *Fetcher) retryOpts(operation string, logger zerolog.Logger) retry.Options {
	return retry.Options{
		BaseDelay: f.retryBase,
		MaxDelay:  4 * time.Second,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			observability.RecordRetryAttempt(operation)
			logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("Fetch failed, retrying")
		},
	}
}

// readCapped reads at most limit bytes and probes one byte further to
// learn whether the body kept going.
func readCapped(r io.Reader, limit int64) ([]byte, bool, error) {
	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, r, limit); err != nil && err != io.EOF {
		return nil, false, err
	}

	probe := make([]byte, 1)
	n, _ := r.Read(probe)
	return buf.Bytes(), n > 0, nil
}

// binaryContent reports content types the fetch tools refuse to read.
// Text, HTML, JSON and XML flow through; anything else is bytes that
// would only pollute a conversation.
func binaryContent(contentType string) bool {
	if contentType == "" {
		return false
	}
	media, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	if strings.HasPrefix(media, "text/") {
		return false
	}
	switch media {
	case "application/json", "application/xml", "application/javascript", "application/xhtml+xml":
		return false
	}
	if strings.HasSuffix(media, "+json") || strings.HasSuffix(media, "+xml") {
		return false
	}
	return true
}

// isHTML decides whether the body should go through tag stripping.
// Servers that send no content type get a cheap sniff of the head.
func isHTML(contentType, body string) bool {
	if strings.Contains(contentType, "html") {
		return true
	}
	if contentType != "" {
		return false
	}

	head := strings.ToLower(body)
	if len(head) > 512 {
		head = head[:512]
	}
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}
