package dispatch

import (
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/selcan/mira/internal/observability"
	"github.com/selcan/mira/pkg/toolexec"
)

// Dispatcher routes user input to tools when a deterministic pattern
// matches, and recovers tool calls the model announced but never made.
// It holds no per-session state and is safe to share across sessions.
type Dispatcher struct {
	clock func() time.Time
}

// New creates a dispatcher using the wall clock
func New() *Dispatcher {
	return &Dispatcher{clock: time.Now}
}

// NewWithClock creates a dispatcher with a fixed clock, for tests and
// replay
func NewWithClock(clock func() time.Time) *Dispatcher {
	return &Dispatcher{clock: clock}
}

// Analyze classifies one input against the catalogue. Exactly one tool
// matching in the most specific tier wins; zero matches or an
// ambiguous tie passes through to the model. The dispatcher never
// guesses.
func (d *Dispatcher) Analyze(input string, cat Catalog, history []Turn) Decision {
	call := d.matchCatalogue(input, cat)
	if call == nil {
		observability.RecordDispatchDecision(string(ActionPassThrough))
		return Decision{Action: ActionPassThrough}
	}

	log.Debug().
		Str("tool", call.ToolName).
		Msg("Input auto-dispatched")

	observability.RecordDispatchDecision(string(ActionAutoDispatch))
	return Decision{Action: ActionAutoDispatch, ToolCall: call}
}

// announcementPattern recognizes a model reply that promises an action
// instead of performing one
var announcementPattern = regexp.MustCompile(
	`(?i)\b(?:i'?ll|i\s+will|let\s+me|i'?m\s+going\s+to|i\s+am\s+going\s+to|one\s+(?:moment|second))\b`)

// EnforceAction recovers a tool call when the model announced intent in
// free text without emitting a structured call. The catalogue is
// re-applied to the original user input, never to the model's prose.
// Replies that merely answer, and inputs that match nothing, return
// nil and the prose stands.
func (d *Dispatcher) EnforceAction(modelReply, originalInput string, cat Catalog) *Decision {
	if !announcementPattern.MatchString(modelReply) {
		return nil
	}

	call := d.matchCatalogue(originalInput, cat)
	if call == nil {
		return nil
	}

	log.Info().
		Str("tool", call.ToolName).
		Msg("Announced action enforced from original input")

	observability.RecordDispatchDecision(string(ActionEnforcedDispatch))
	return &Decision{Action: ActionEnforcedDispatch, ToolCall: call}
}

// matchCatalogue walks the tiers in order. Within a tier, candidates
// for more than one distinct tool mean ambiguity: the walk stops and
// nothing matches.
func (d *Dispatcher) matchCatalogue(input string, cat Catalog) *toolexec.ToolCall {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil
	}

	for tier := tierCommand; tier <= maxTier; tier++ {
		var first *toolexec.ToolCall
		tools := map[string]bool{}

		for i := range catalogue {
			p := &catalogue[i]
			if p.tier != tier {
				continue
			}
			m := p.re.FindStringSubmatch(trimmed)
			if m == nil {
				continue
			}
			if cat != nil && !cat.HasTool(p.tool) {
				continue
			}
			args, ok := p.build(d, trimmed, m)
			if !ok {
				continue
			}

			tools[p.tool] = true
			if first == nil {
				first = &toolexec.ToolCall{ToolName: p.tool, Args: args}
			}
		}

		if len(tools) > 1 {
			log.Debug().
				Int("tier", tier).
				Int("tools", len(tools)).
				Msg("Ambiguous pattern matches, passing through")
			return nil
		}
		if first != nil {
			return first
		}
	}

	return nil
}
