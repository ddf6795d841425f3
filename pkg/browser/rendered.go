package browser

import (
	"context"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.opentelemetry.io/otel/codes"

	"github.com/selcan/mira/internal/observability"
	"github.com/selcan/mira/internal/tracing"
	"github.com/selcan/mira/pkg/toolexec"
)

// idleBudget is how long a rendered page may stay busy after load
// before its text is read anyway
const idleBudget = 2 * time.Second

// Rendered opens rawURL in a headless browser and returns the text the
// page displays, which a plain fetch cannot see on script-driven
// sites. The browser lives only for the duration of the call. waitIdle
// lets the page settle after the load event before reading.
func (f *Fetcher) Rendered(ctx context.Context, rawURL string, waitIdle bool) (*PageContent, error) {
	ctx, span := tracing.StartSpan(ctx, "mira.browser", "browser.rendered")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, f.logger)

	u, err := f.policy.Validate(rawURL)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	page, err := f.renderPage(ctx, u.String(), waitIdle)
	observability.RecordWebFetch("browser_fetch", err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	logger.Info().
		Str("url", page.URL).
		Dur("duration", time.Since(started)).
		Bool("truncated", page.Truncated).
		Msg("Rendered page fetched")
	return page, nil
}

func (f *Fetcher) renderPage(ctx context.Context, target string, waitIdle bool) (*PageContent, error) {
	l := launcher.New().Headless(true)
	if f.noSandbox {
		l = l.NoSandbox(true)
	}
	if f.browserBin != "" {
		l = l.Bin(f.browserBin)
	}

	cdpURL, err := l.Launch()
	if err != nil {
		return nil, toolexec.Execf("failed to launch headless browser: %v", err)
	}
	defer l.Cleanup()

	browser := rod.New().ControlURL(cdpURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, toolexec.Execf("failed to connect to browser: %v", err)
	}
	defer browser.Close()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, toolexec.Execf("failed to open a page: %v", err)
	}
	defer page.Close()

	page = page.Timeout(f.pageTimeout)
	if err := page.Navigate(target); err != nil {
		return nil, toolexec.Execf("failed to open %s: %v", target, err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, toolexec.Execf("page %s did not finish loading: %v", target, err)
	}
	if waitIdle {
		if err := page.WaitIdle(idleBudget); err != nil {
			return nil, toolexec.Execf("page %s did not settle: %v", target, err)
		}
	}

	title := ""
	finalURL := target
	if info, err := page.Info(); err == nil {
		title = info.Title
		finalURL = info.URL
	}

	result, err := page.Eval(`() => document.body.innerText`)
	if err != nil {
		return nil, toolexec.Execf("failed to extract page text: %v", err)
	}

	text := strings.TrimSpace(result.Value.String())
	truncated := false
	if int64(len(text)) > f.maxBody {
		text = text[:f.maxBody]
		truncated = true
	}

	return &PageContent{
		URL:       finalURL,
		Title:     title,
		Text:      text,
		Truncated: truncated,
	}, nil
}
