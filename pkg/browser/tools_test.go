package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selcan/mira/pkg/toolexec"
)

func newToolExecutor(t *testing.T, f *Fetcher, perms *toolexec.Permissions) (*toolexec.Executor, *toolexec.ExecContext) {
	t.Helper()

	executor := toolexec.New()
	require.NoError(t, f.RegisterTools(executor))

	ec := &toolexec.ExecContext{Permissions: perms}
	if perms != nil {
		ec.Confirm = toolexec.NewConfirmationGate(perms)
	}
	return executor, ec
}

func runTool(t *testing.T, executor *toolexec.Executor, ec *toolexec.ExecContext, name string, args map[string]interface{}) toolexec.ToolResult {
	t.Helper()
	return executor.Execute(context.Background(), toolexec.ToolCall{ToolName: name, Args: args}, ec)
}

func TestRegisterTools(t *testing.T) {
	t.Run("should register the web tools", func(t *testing.T) {
		executor, _ := newToolExecutor(t, newTestFetcher(t), nil)

		for _, name := range []string{"web_fetch", "browser_fetch", "get_weather"} {
			assert.True(t, executor.HasTool(name), name)
		}
	})

	t.Run("should fail on double registration", func(t *testing.T) {
		f := newTestFetcher(t)
		executor := toolexec.New()

		require.NoError(t, f.RegisterTools(executor))
		assert.Error(t, f.RegisterTools(executor))
	})

	t.Run("should mark browser_fetch experimental", func(t *testing.T) {
		executor, _ := newToolExecutor(t, newTestFetcher(t), nil)

		spec := executor.Get("browser_fetch")
		require.NotNil(t, spec)
		assert.Equal(t, toolexec.StatusExperimental, spec.Status)
	})
}

func TestWebFetchTool(t *testing.T) {
	t.Run("should fetch a page end to end", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, `<html><body><p>tool content</p></body></html>`)
		}))
		defer srv.Close()

		executor, ec := newToolExecutor(t, newTestFetcher(t), nil)
		res := runTool(t, executor, ec, "web_fetch", map[string]interface{}{"url": srv.URL})

		require.True(t, res.Ok, "expected ok result, got %+v", res.Error)
		out, ok := res.Result.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, 200, out["status"])
		assert.Contains(t, out["content"], "tool content")
	})

	t.Run("should honor max_bytes", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprint(w, strings.Repeat("y", 64))
		}))
		defer srv.Close()

		executor, ec := newToolExecutor(t, newTestFetcher(t), nil)
		res := runTool(t, executor, ec, "web_fetch", map[string]interface{}{
			"url":       srv.URL,
			"max_bytes": float64(8),
		})

		require.True(t, res.Ok)
		out := res.Result.(map[string]interface{})
		assert.Len(t, out["content"], 8)
		assert.Equal(t, true, out["truncated"])
	})

	t.Run("should reject a call without a url", func(t *testing.T) {
		executor, ec := newToolExecutor(t, newTestFetcher(t), nil)

		res := runTool(t, executor, ec, "web_fetch", map[string]interface{}{})

		require.False(t, res.Ok)
		assert.Equal(t, toolexec.ErrCodeValidation, res.Error.Code)
	})

	t.Run("should respect a confirmation gate before fetching", func(t *testing.T) {
		var hits int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprint(w, "gated page")
		}))
		defer srv.Close()

		perms := &toolexec.Permissions{RequireConfirmationFor: []string{"web_fetch"}}
		executor, ec := newToolExecutor(t, newTestFetcher(t), perms)

		res := runTool(t, executor, ec, "web_fetch", map[string]interface{}{"url": srv.URL})
		require.False(t, res.Ok)
		assert.Equal(t, toolexec.ErrCodeConfirmationRequired, res.Error.Code)
		assert.Equal(t, int32(0), atomic.LoadInt32(&hits))

		res = runTool(t, executor, ec, "web_fetch", map[string]interface{}{
			"url":     srv.URL,
			"confirm": true,
		})
		require.True(t, res.Ok, "expected ok result, got %+v", res.Error)
		assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	})

	t.Run("should surface policy denials", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		defer srv.Close()

		f := newTestFetcher(t, func(c *Config) { c.AllowLocal = false })
		executor, ec := newToolExecutor(t, f, nil)

		res := runTool(t, executor, ec, "web_fetch", map[string]interface{}{"url": srv.URL})

		require.False(t, res.Ok)
		assert.Equal(t, toolexec.ErrCodeValidation, res.Error.Code)
	})
}

func TestBrowserFetchTool(t *testing.T) {
	t.Run("should validate the url before launching anything", func(t *testing.T) {
		executor, ec := newToolExecutor(t, newTestFetcher(t), nil)

		res := runTool(t, executor, ec, "browser_fetch", map[string]interface{}{"url": "ftp://example.com/x"})

		require.False(t, res.Ok)
		assert.Equal(t, toolexec.ErrCodeValidation, res.Error.Code)
	})

	t.Run("should reject a call without a url", func(t *testing.T) {
		executor, ec := newToolExecutor(t, newTestFetcher(t), nil)

		res := runTool(t, executor, ec, "browser_fetch", map[string]interface{}{})

		require.False(t, res.Ok)
		assert.Equal(t, toolexec.ErrCodeValidation, res.Error.Code)
	})

	t.Run("should reject an unknown wait_until value", func(t *testing.T) {
		executor, ec := newToolExecutor(t, newTestFetcher(t), nil)

		res := runTool(t, executor, ec, "browser_fetch", map[string]interface{}{
			"url":        "https://example.com",
			"wait_until": "forever",
		})

		require.False(t, res.Ok)
		assert.Equal(t, toolexec.ErrCodeValidation, res.Error.Code)
	})
}

func TestGetWeatherTool(t *testing.T) {
	t.Run("should answer with the report line", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "Berlin: +12°C\n")
		}))
		defer srv.Close()

		f := newTestFetcher(t, func(c *Config) { c.WeatherURL = srv.URL })
		executor, ec := newToolExecutor(t, f, nil)

		res := runTool(t, executor, ec, "get_weather", map[string]interface{}{"location": "Berlin"})

		require.True(t, res.Ok, "expected ok result, got %+v", res.Error)
		assert.Equal(t, "Berlin: +12°C", res.Result)
	})

	t.Run("should require a location", func(t *testing.T) {
		executor, ec := newToolExecutor(t, newTestFetcher(t), nil)

		res := runTool(t, executor, ec, "get_weather", map[string]interface{}{})

		require.False(t, res.Ok)
		assert.Equal(t, toolexec.ErrCodeValidation, res.Error.Code)
	})
}
