package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selcan/mira/pkg/toolexec"
)

// newTestFetcher builds a fetcher that may talk to httptest servers and
// retries without real backoff.
func newTestFetcher(t *testing.T, mutate ...func(*Config)) *Fetcher {
	t.Helper()

	cfg := Config{
		Logger:     zerolog.Nop(),
		AllowLocal: true,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	f := NewFetcher(cfg)
	f.retryBase = time.Millisecond
	return f
}

func TestNewFetcher(t *testing.T) {
	t.Run("should fill unset knobs with defaults", func(t *testing.T) {
		f := NewFetcher(Config{Logger: zerolog.Nop()})

		assert.Equal(t, DefaultTimeout, f.client.Timeout)
		assert.Equal(t, int64(DefaultMaxBody), f.maxBody)
		assert.Equal(t, DefaultPageTimeout, f.pageTimeout)
		assert.Equal(t, defaultWeatherURL, f.weatherURL)
		assert.Equal(t, defaultUserAgent, f.userAgent)
	})

	t.Run("should trim a trailing slash off the weather base", func(t *testing.T) {
		f := NewFetcher(Config{Logger: zerolog.Nop(), WeatherURL: "http://weather.test/"})

		assert.Equal(t, "http://weather.test", f.weatherURL)
	})
}

func TestFetcher_Fetch(t *testing.T) {
	t.Run("should reduce an html page to readable text", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, `<html><head><title>Docs</title><script>var hidden = 1;</script></head><body><h1>Hello</h1><p>World &amp; co</p></body></html>`)
		}))
		defer srv.Close()

		f := newTestFetcher(t)
		page, err := f.Fetch(context.Background(), srv.URL, 0)

		require.NoError(t, err)
		assert.Equal(t, 200, page.Status)
		assert.Equal(t, "Docs", page.Title)
		assert.Contains(t, page.Text, "Hello")
		assert.Contains(t, page.Text, "World & co")
		assert.NotContains(t, page.Text, "hidden")
		assert.False(t, page.Truncated)
	})

	t.Run("should pass plain text through untouched", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprint(w, "alpha\nbeta")
		}))
		defer srv.Close()

		f := newTestFetcher(t)
		page, err := f.Fetch(context.Background(), srv.URL, 0)

		require.NoError(t, err)
		assert.Equal(t, "alpha\nbeta", page.Text)
		assert.Empty(t, page.Title)
	})

	t.Run("should cap the body and flag truncation", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprint(w, strings.Repeat("x", 100))
		}))
		defer srv.Close()

		f := newTestFetcher(t)
		page, err := f.Fetch(context.Background(), srv.URL, 10)

		require.NoError(t, err)
		assert.Len(t, page.Text, 10)
		assert.True(t, page.Truncated)
	})

	t.Run("should never exceed the configured cap", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprint(w, strings.Repeat("x", 100))
		}))
		defer srv.Close()

		f := newTestFetcher(t, func(c *Config) { c.MaxBody = 16 })
		page, err := f.Fetch(context.Background(), srv.URL, 1000)

		require.NoError(t, err)
		assert.Len(t, page.Text, 16)
		assert.True(t, page.Truncated)
	})

	t.Run("should refuse binary content", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte{0x89, 0x50, 0x4e, 0x47})
		}))
		defer srv.Close()

		f := newTestFetcher(t)
		_, err := f.Fetch(context.Background(), srv.URL, 0)

		requireValidation(t, err)
		assert.Contains(t, err.Error(), "image/png")
	})

	t.Run("should surface http failures with the status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}))
		defer srv.Close()

		f := newTestFetcher(t)
		_, err := f.Fetch(context.Background(), srv.URL, 0)

		require.Error(t, err)
		var te *toolexec.Error
		require.ErrorAs(t, err, &te)
		assert.Equal(t, toolexec.ErrCodeExec, te.Code)
		assert.Contains(t, err.Error(), "404")
	})

	t.Run("should retry transient server errors", func(t *testing.T) {
		var hits int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&hits, 1) < 3 {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprint(w, "recovered")
		}))
		defer srv.Close()

		f := newTestFetcher(t)
		page, err := f.Fetch(context.Background(), srv.URL, 0)

		require.NoError(t, err)
		assert.Equal(t, "recovered", page.Text)
		assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
	})

	t.Run("should not touch the network for blocked targets", func(t *testing.T) {
		var hits int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
		}))
		defer srv.Close()

		f := newTestFetcher(t, func(c *Config) { c.AllowLocal = false })
		_, err := f.Fetch(context.Background(), srv.URL, 0)

		requireValidation(t, err)
		assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
	})

	t.Run("should re-check redirect targets against the policy", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "http://169.254.169.254/latest", http.StatusFound)
		}))
		defer srv.Close()

		f := newTestFetcher(t)
		_, err := f.Fetch(context.Background(), srv.URL, 0)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "link-local")
	})

	t.Run("should follow ordinary redirects", func(t *testing.T) {
		target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprint(w, "landed")
		}))
		defer target.Close()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, target.URL+"/final", http.StatusFound)
		}))
		defer srv.Close()

		f := newTestFetcher(t)
		page, err := f.Fetch(context.Background(), srv.URL, 0)

		require.NoError(t, err)
		assert.Equal(t, "landed", page.Text)
		assert.Equal(t, target.URL+"/final", page.URL)
	})

	t.Run("should reject a bad scheme before anything else", func(t *testing.T) {
		f := newTestFetcher(t)

		_, err := f.Fetch(context.Background(), "ftp://example.com/x", 0)
		requireValidation(t, err)
	})
}
