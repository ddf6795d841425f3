package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/selcan/mira/pkg/gateway"
	"github.com/selcan/mira/pkg/tasks"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Mira gateway",
	Long: `Start the gateway in the foreground so paired clients can reach Mira
over websocket and RPC. Task reminders fire on schedule and are pushed
to every connected client.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "bind address (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(runtimeOptions{console: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	cfg := rt.cfg
	if cfg.Gateway.Token == "" {
		return fmt.Errorf("gateway token is not set: run 'mira configure' or set gateway.token in the config file")
	}

	host := cfg.Gateway.Host
	if serveHost != "" {
		host = serveHost
	}
	port := cfg.Gateway.Port
	if cmd.Flags().Changed("port") {
		port = servePort
	}

	zl := rt.log.GetZerolog()
	srv, err := gateway.NewServer(gateway.Config{
		Host:          host,
		Port:          port,
		Token:         cfg.Gateway.Token,
		Runner:        rt.runner,
		Executor:      rt.executor,
		RatePerMinute: cfg.Gateway.RatePerMinute,
		Burst:         cfg.Gateway.Burst,
		Logger:        zl,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	reminder, err := tasks.NewReminder(tasks.ReminderOptions{
		Manager: rt.tasks,
		Notify: func(message string) {
			srv.Notify("task.reminder", map[string]interface{}{"message": message})
		},
		DigestSpec: cfg.Tasks.DigestSpec,
		RemindAt:   cfg.Tasks.RemindAt,
		TZ:         cfg.Tasks.Timezone,
		Logger:     zl,
	})
	if err != nil {
		srv.Stop()
		return fmt.Errorf("reminder setup failed: %w", err)
	}
	reminder.Start()
	defer reminder.Stop()

	cmd.Printf("Mira gateway listening on %s\n", srv.Addr())
	cmd.Println("Press Ctrl+C to stop.")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	cmd.Println("Shutting down...")
	if err := srv.Stop(); err != nil {
		zl.Warn().Err(err).Msg("Gateway shutdown error")
	}
	return nil
}
