package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/selcan/mira/pkg/agent"
)

var (
	askSession string
	askModel   string
)

var askCmd = &cobra.Command{
	Use:   "ask <prompt>",
	Short: "Ask Mira a single question",
	Long: `Ask Mira one question and print the reply.
The prompt goes through dispatch first: requests a tool can answer run
without a model call. Tool output streams as it happens.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askSession, "session", "cli", "session key for conversation history")
	askCmd.Flags().StringVar(&askModel, "model", "", "model or alias for this run")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.Close()

	prompt := strings.Join(args, " ")
	result, err := streamRun(cmd, rt, prompt, askSession, askModel)
	if err != nil {
		return err
	}
	if result.Aborted {
		cmd.PrintErrln("(run aborted)")
	}
	return nil
}

// streamRun executes one prompt and prints the stream as it arrives:
// tool progress on stderr, reply text on stdout.
func streamRun(cmd *cobra.Command, rt *runtime, prompt, sessionKey, model string) (*agent.RunResult, error) {
	stream := rt.runner.RunStream(cmd.Context(), agent.RunParams{
		Prompt:     prompt,
		SessionKey: sessionKey,
		Config:     rt.runConfig(model),
	})
	defer stream.Close()

	wroteText := false
	endedLine := true
	for {
		chunk, ok := stream.Next()
		if !ok {
			break
		}
		switch chunk.Type {
		case agent.ChunkText:
			cmd.Print(chunk.Text)
			wroteText = true
			endedLine = strings.HasSuffix(chunk.Text, "\n")
		case agent.ChunkToolResult:
			if ex := chunk.Executed; ex != nil {
				status := "ok"
				if ex.Result.Error != nil {
					status = ex.Result.Error.Code
				}
				cmd.PrintErrf("[%s] %s\n", ex.Call.Name, status)
			}
		}
	}
	if wroteText && !endedLine {
		cmd.Println()
	}

	return stream.Result()
}
