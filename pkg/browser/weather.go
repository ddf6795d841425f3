package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/codes"

	"github.com/selcan/mira/internal/observability"
	"github.com/selcan/mira/internal/tracing"
	"github.com/selcan/mira/pkg/retry"
	"github.com/selcan/mira/pkg/toolexec"
)

// Weather returns a one line report for a location. The wttr.in
// compact format keeps the reply small enough to read back verbatim.
func (f *Fetcher) Weather(ctx context.Context, location string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "mira.browser", "browser.weather")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, f.logger)

	location = strings.TrimSpace(location)
	if location == "" {
		return "", toolexec.Validationf("location is required")
	}

	target := fmt.Sprintf("%s/%s?format=3", f.weatherURL, url.PathEscape(location))

	result, err := retry.Do(ctx, f.retryOpts("get_weather", logger), func(ctx context.Context) (interface{}, error) {
		return f.getText(ctx, target, weatherSizeLimit)
	})
	observability.RecordWebFetch("get_weather", err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	report := strings.TrimSpace(result.(string))
	if report == "" {
		return "", toolexec.Execf("weather service sent an empty report for %s", location)
	}

	logger.Debug().Str("location", location).Msg("Weather fetched")
	return report, nil
}
