package dispatch

import (
	"github.com/selcan/mira/pkg/toolexec"
)

// Action is what the dispatcher decided to do with an input
type Action string

const (
	// ActionPassThrough hands the input to the model untouched
	ActionPassThrough Action = "pass_through"

	// ActionAutoDispatch executes a tool directly, skipping the model
	ActionAutoDispatch Action = "auto_dispatch"

	// ActionEnforcedDispatch executes a tool the model announced in
	// prose but never actually called
	ActionEnforcedDispatch Action = "enforced_dispatch"
)

// Decision is the dispatcher's verdict for one input
type Decision struct {
	Action   Action             `json:"action"`
	ToolCall *toolexec.ToolCall `json:"toolCall,omitempty"`
}

// Catalog is what the dispatcher needs to know about an agent: which
// tools it can actually call. A matched pattern whose tool is absent
// falls through to the model instead of producing a dead call.
type Catalog interface {
	HasTool(name string) bool
}

// Turn is one prior conversation exchange. The catalogue is
// single-turn today; history rides along for matchers that need
// context.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
