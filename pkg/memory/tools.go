package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/selcan/mira/pkg/toolexec"
)

// SearchReply is the structured result of the memory_search tool
type SearchReply struct {
	Results []SearchResult `json:"results"`
	Query   string         `json:"query"`
	Count   int            `json:"count"`
}

// RegisterTools registers the memory tools with the executor.
// remember_memory, recall_memory and forget_memory answer in prose so
// dispatched calls read as replies; memory_search returns the scored
// results for model use.
func (m *Manager) RegisterTools(executor *toolexec.Executor) error {
	tools := []toolexec.ToolSpec{
		{
			Name:        "remember_memory",
			Description: "Store a fact in long-term memory",
			Required:    []string{"fact"},
			Parameters: map[string]toolexec.ParamSpec{
				"fact": {Type: "string", Description: "The fact to remember"},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				text, _ := args["fact"].(string)
				fact, err := m.Remember(ctx, text)
				if err != nil {
					return nil, err
				}
				return fmt.Sprintf("Remembered: %s", fact.Text), nil
			},
		},
		{
			Name:        "recall_memory",
			Description: "Recall facts from long-term memory relevant to a query",
			Required:    []string{"query"},
			Parameters: map[string]toolexec.ParamSpec{
				"query": {Type: "string", Description: "What to recall"},
				"limit": {Type: "integer", Description: "Maximum facts to return"},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				query, _ := args["query"].(string)
				limit := 0
				if v, ok := args["limit"].(float64); ok {
					limit = int(v)
				}

				results, err := m.Recall(ctx, query, limit)
				if err != nil {
					return nil, err
				}
				if len(results) == 0 {
					return fmt.Sprintf("I don't have any memories about %s.", query), nil
				}

				var b strings.Builder
				b.WriteString("Here's what I remember:\n")
				for _, r := range results {
					b.WriteString("- ")
					b.WriteString(r.Text)
					b.WriteString("\n")
				}
				return strings.TrimRight(b.String(), "\n"), nil
			},
		},
		{
			Name:        "forget_memory",
			Description: "Remove facts from long-term memory matching a query",
			Required:    []string{"query"},
			Parameters: map[string]toolexec.ParamSpec{
				"query": {Type: "string", Description: "Text or fact id to forget"},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				if ec := toolexec.ExecContextFrom(ctx); ec != nil && ec.Confirm != nil {
					if err := ec.Confirm.Check("forget_memory", args); err != nil {
						return nil, err
					}
				}

				query, _ := args["query"].(string)
				removed, err := m.Forget(ctx, query)
				if err != nil {
					return nil, err
				}
				if removed == 0 {
					return fmt.Sprintf("I couldn't find any memories matching %s.", query), nil
				}
				if removed == 1 {
					return "Forgot 1 fact.", nil
				}
				return fmt.Sprintf("Forgot %d facts.", removed), nil
			},
		},
		{
			Name:        "memory_search",
			Description: "Search long-term memory with hybrid vector and keyword scoring",
			Required:    []string{"query"},
			Parameters: map[string]toolexec.ParamSpec{
				"query":          {Type: "string", Description: "Search query"},
				"limit":          {Type: "integer", Description: "Maximum results, default 20"},
				"vector_weight":  {Type: "number", Description: "Vector similarity weight, default 0.7"},
				"keyword_weight": {Type: "number", Description: "Keyword match weight, default 0.3"},
				"min_score":      {Type: "number", Description: "Minimum combined score"},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				query, _ := args["query"].(string)

				opts := &SearchOptions{
					Limit:         20,
					VectorWeight:  0.7,
					KeywordWeight: 0.3,
				}
				if v, ok := args["limit"].(float64); ok && v > 0 {
					opts.Limit = int(v)
				}
				if v, ok := args["vector_weight"].(float64); ok && v > 0 {
					opts.VectorWeight = v
				}
				if v, ok := args["keyword_weight"].(float64); ok && v > 0 {
					opts.KeywordWeight = v
				}
				if v, ok := args["min_score"].(float64); ok {
					opts.MinScore = v
				}

				results, err := m.SearchWithContext(ctx, query, opts)
				if err != nil {
					return nil, err
				}

				return &SearchReply{
					Results: results,
					Query:   query,
					Count:   len(results),
				}, nil
			},
		},
	}

	for _, tool := range tools {
		if err := executor.Register(tool); err != nil {
			return fmt.Errorf("failed to register %s: %w", tool.Name, err)
		}
	}

	m.logger.Info().Msg("Memory tools registered")
	return nil
}
