// Package agent orchestrates assistant runs: deterministic dispatch,
// model completions with provider failover, the bounded tool loop, and
// session persistence.
//
// Invariants:
// - Runs are serialized per session lane through commandqueue.
// - Session history is loaded before execution and persisted after.
// - An unambiguous catalogue match executes without a model call.
// - Tool calls route through the gated executor only.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Config{...})
//	result, _ := runner.Run(agent.RunParams{
//		Prompt:     "weather in Lisbon",
//		SessionKey: "cli",
//		Config:     agent.DefaultRunConfig(),
//	})
//	_ = result
package agent
