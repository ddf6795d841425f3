package dispatch

import (
	"fmt"
	"strings"
	"time"
)

// TaskCommand is the parsed form of a "task add" invocation
type TaskCommand struct {
	Text     string
	Due      string
	Priority string
}

var validPriorities = map[string]bool{"low": true, "medium": true, "high": true}

// ParseTaskCommand parses a full "task add ..." line: the command
// prefix, free text, then optional --due and --priority flags in any
// order. Due values resolve to YYYY-MM-DD against now.
func ParseTaskCommand(line string, now time.Time) (*TaskCommand, error) {
	trimmed := strings.TrimSpace(line)
	lower := strings.ToLower(trimmed)
	if !strings.HasPrefix(lower, "task add") {
		return nil, fmt.Errorf("not a task add command")
	}

	fields := strings.Fields(trimmed[len("task add"):])
	if len(fields) == 0 {
		return nil, fmt.Errorf("task text cannot be empty")
	}

	cmd := &TaskCommand{}
	var text []string

	for i := 0; i < len(fields); i++ {
		switch fields[i] {
		case "--due":
			if i+1 >= len(fields) {
				return nil, fmt.Errorf("--due needs a value")
			}
			i++
			due, ok := ResolveDate(fields[i], now)
			if !ok {
				return nil, fmt.Errorf("unrecognized due date %q", fields[i])
			}
			cmd.Due = due
		case "--priority":
			if i+1 >= len(fields) {
				return nil, fmt.Errorf("--priority needs a value")
			}
			i++
			p := strings.ToLower(fields[i])
			if !validPriorities[p] {
				return nil, fmt.Errorf("priority must be low, medium, or high, got %q", fields[i])
			}
			cmd.Priority = p
		default:
			text = append(text, fields[i])
		}
	}

	cmd.Text = strings.Join(text, " ")
	if cmd.Text == "" {
		return nil, fmt.Errorf("task text cannot be empty")
	}

	return cmd, nil
}
