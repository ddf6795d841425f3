package browser

import (
	"context"
	"fmt"

	"github.com/selcan/mira/pkg/toolexec"
)

// confirmGate honors a confirmation gate when the execution bundle has
// one. Fetch tools are read-only and ungated by default, but the
// permissions file can still gate them.
func confirmGate(ctx context.Context, tool string, args map[string]interface{}) error {
	if ec := toolexec.ExecContextFrom(ctx); ec != nil && ec.Confirm != nil {
		return ec.Confirm.Check(tool, args)
	}
	return nil
}

// RegisterTools registers the web tools with the executor.
func (f *Fetcher) RegisterTools(executor *toolexec.Executor) error {
	tools := []toolexec.ToolSpec{
		{
			Name:        "web_fetch",
			Description: "Fetch a page over plain HTTP and return its readable text",
			Required:    []string{"url"},
			Parameters: map[string]toolexec.ParamSpec{
				"url":       {Type: "string", Description: "Absolute http or https URL"},
				"max_bytes": {Type: "number", Description: "Cap the response body at this many bytes"},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				if err := confirmGate(ctx, "web_fetch", args); err != nil {
					return nil, err
				}

				rawURL, _ := args["url"].(string)
				limit := int64(0)
				if v, ok := args["max_bytes"].(float64); ok {
					limit = int64(v)
				}

				page, err := f.Fetch(ctx, rawURL, limit)
				if err != nil {
					return nil, err
				}

				return map[string]interface{}{
					"url":          page.URL,
					"title":        page.Title,
					"status":       page.Status,
					"content_type": page.ContentType,
					"content":      page.Text,
					"truncated":    page.Truncated,
				}, nil
			},
		},
		{
			Name:        "browser_fetch",
			Description: "Render a page in a headless browser and return the text it displays, for script-driven pages web_fetch cannot read",
			Status:      toolexec.StatusExperimental,
			Required:    []string{"url"},
			Parameters: map[string]toolexec.ParamSpec{
				"url":        {Type: "string", Description: "Absolute http or https URL"},
				"wait_until": {Type: "string", Description: "How long to let the page settle", Enum: []string{"load", "idle"}},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				if err := confirmGate(ctx, "browser_fetch", args); err != nil {
					return nil, err
				}

				rawURL, _ := args["url"].(string)
				waitUntil, _ := args["wait_until"].(string)

				page, err := f.Rendered(ctx, rawURL, waitUntil == "idle")
				if err != nil {
					return nil, err
				}

				return map[string]interface{}{
					"url":       page.URL,
					"title":     page.Title,
					"content":   page.Text,
					"truncated": page.Truncated,
				}, nil
			},
		},
		{
			Name:        "get_weather",
			Description: "Look up the current weather for a location",
			Required:    []string{"location"},
			Parameters: map[string]toolexec.ParamSpec{
				"location": {Type: "string", Description: "City or place name"},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				location, _ := args["location"].(string)

				report, err := f.Weather(ctx, location)
				if err != nil {
					return nil, err
				}
				return report, nil
			},
		},
	}

	for _, tool := range tools {
		if err := executor.Register(tool); err != nil {
			return fmt.Errorf("failed to register %s: %w", tool.Name, err)
		}
	}

	f.logger.Info().Msg("Web tools registered")
	return nil
}
