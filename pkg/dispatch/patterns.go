package dispatch

import (
	"regexp"
)

// Pattern tiers order the catalogue by specificity. Lower tiers are
// tried first; two different tools matching within one tier is
// ambiguity and the dispatcher refuses to pick.
const (
	tierCommand = iota // explicit command syntax
	tierPhrase         // question and imperative forms
	tierLoose          // bare trailing forms
)

// pattern is one catalogue entry. build extracts tool arguments from
// the original input; returning false rejects the match after all.
type pattern struct {
	name  string
	tool  string
	tier  int
	re    *regexp.Regexp
	build func(d *Dispatcher, input string, m []string) (map[string]interface{}, bool)
}

func locationArgs(key string) func(d *Dispatcher, input string, m []string) (map[string]interface{}, bool) {
	return func(d *Dispatcher, input string, m []string) (map[string]interface{}, bool) {
		if m[1] == "" {
			return nil, false
		}
		return map[string]interface{}{key: m[1]}, true
	}
}

// catalogue is the fixed, ordered pattern set. Arguments are captured
// from the original input with case preserved; only the keywords
// around them are case-insensitive.
var catalogue = []pattern{
	{
		name: "task add",
		tool: "task_add",
		tier: tierCommand,
		re:   regexp.MustCompile(`(?i)^task add\s+\S`),
		build: func(d *Dispatcher, input string, m []string) (map[string]interface{}, bool) {
			cmd, err := ParseTaskCommand(input, d.clock())
			if err != nil {
				return nil, false
			}
			args := map[string]interface{}{"text": cmd.Text}
			if cmd.Due != "" {
				args["due"] = cmd.Due
			}
			if cmd.Priority != "" {
				args["priority"] = cmd.Priority
			}
			return args, true
		},
	},
	{
		name:  "task done",
		tool:  "task_done",
		tier:  tierCommand,
		re:    regexp.MustCompile(`(?i)^task (?:done|complete|finish)\s+(\S+)\s*$`),
		build: locationArgs("id"),
	},
	{
		name: "task list",
		tool: "task_list",
		tier: tierCommand,
		re:   regexp.MustCompile(`(?i)^(?:task list|list (?:my )?tasks|show (?:my )?tasks|tasks)\s*$`),
		build: func(d *Dispatcher, input string, m []string) (map[string]interface{}, bool) {
			return map[string]interface{}{}, true
		},
	},
	{
		name:  "recall memory",
		tool:  "recall_memory",
		tier:  tierPhrase,
		re:    regexp.MustCompile(`(?i)^what do you (?:remember|know) about\s+(.+?)[?.!\s]*$`),
		build: locationArgs("query"),
	},
	{
		name:  "remember fact",
		tool:  "remember_memory",
		tier:  tierPhrase,
		re:    regexp.MustCompile(`(?i)^remember\s+(?:that\s+)?(.+?)[.!\s]*$`),
		build: locationArgs("fact"),
	},
	{
		name:  "forget memory",
		tool:  "forget_memory",
		tier:  tierPhrase,
		re:    regexp.MustCompile(`(?i)^forget\s+(?:about\s+)?(.+?)[.!\s]*$`),
		build: locationArgs("query"),
	},
	{
		name: "weather question",
		tool: "get_weather",
		tier: tierPhrase,
		re: regexp.MustCompile(
			`(?i)^(?:(?:what(?:'?s|\s+is)?|how(?:'?s|\s+is))\s+)?(?:the\s+)?(?:current\s+)?weather\s+(?:like\s+)?(?:in|for|at)\s+(.+?)[?.!\s]*$`),
		build: locationArgs("location"),
	},
	{
		name: "weather imperative",
		tool: "get_weather",
		tier: tierPhrase,
		re: regexp.MustCompile(
			`(?i)^(?:get|show|check|tell\s+me)\s+(?:me\s+)?(?:the\s+)?(?:current\s+)?weather\s+(?:(?:in|for|at)\s+)?(.+?)[?.!\s]*$`),
		build: locationArgs("location"),
	},
	{
		name:  "weather trailing",
		tool:  "get_weather",
		tier:  tierLoose,
		re:    regexp.MustCompile(`(?i)^([\w][\w\s,.'-]*?)\s+weather[?.!\s]*$`),
		build: locationArgs("location"),
	},
}

const maxTier = tierLoose
