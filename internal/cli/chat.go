package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/selcan/mira/pkg/agent"
	"github.com/selcan/mira/pkg/toolexec"
)

var (
	chatSession string
	chatModel   string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with Mira in a REPL",
	Long: `Chat with Mira in an interactive loop. Conversation history
persists under the session key, so follow-ups have context. Tools that
require confirmation prompt on the terminal before they run.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSession, "session", "chat", "session key for conversation history")
	chatCmd.Flags().StringVar(&chatModel, "model", "", "model or alias for this session")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.Close()

	in := bufio.NewReader(cmd.InOrStdin())
	cmd.Printf("Mira %s. Type /exit to leave, /tools to list tools.\n", version)

	for {
		cmd.Print("you> ")
		line, err := in.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				cmd.Println()
				return nil
			}
			return err
		}

		input := strings.TrimSpace(line)
		switch input {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/tools":
			for _, spec := range rt.executor.Specs() {
				cmd.Printf("  %-18s %s\n", spec.Name, spec.Description)
			}
			continue
		}

		result, err := streamRun(cmd, rt, input, chatSession, chatModel)
		if err != nil {
			cmd.PrintErrf("Error: %v\n", err)
			continue
		}
		if result != nil {
			retryConfirmations(cmd.Context(), rt.executor, rt.exec, chatSession, result.Executed, in, cmd.OutOrStdout())
		}
	}
}

// retryConfirmations walks the run's tool results, asks the user about
// each gated call, and re-runs approved ones with confirm=true.
func retryConfirmations(ctx context.Context, executor *toolexec.Executor, base toolexec.ExecContext, sessionKey string, executed []agent.ExecutedTool, in *bufio.Reader, out io.Writer) {
	for _, ex := range executed {
		if ex.Result.Error == nil || ex.Result.Error.Code != toolexec.ErrCodeConfirmationRequired {
			continue
		}

		fmt.Fprintf(out, "Run %s now? (y/n): ", ex.Call.Name)
		line, err := in.ReadString('\n')
		if err != nil {
			return
		}
		if strings.ToLower(strings.TrimSpace(line)) != "y" {
			fmt.Fprintln(out, "Skipped.")
			continue
		}

		args := make(map[string]interface{}, len(ex.Call.Parameters)+1)
		for k, v := range ex.Call.Parameters {
			args[k] = v
		}
		args["confirm"] = true

		ec := base
		ec.SessionKey = sessionKey
		ec.StartedAt = time.Now()

		res := executor.Execute(ctx, toolexec.ToolCall{ToolName: ex.Call.Name, Args: args}, &ec)
		if res.Ok {
			fmt.Fprintln(out, renderResult(res.Result))
		} else if res.Error != nil {
			fmt.Fprintf(out, "Error: %s\n", res.Error.Message)
		}
	}
}

// renderResult formats a tool result for the terminal: strings print
// as-is, anything structured prints as indented JSON.
func renderResult(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
