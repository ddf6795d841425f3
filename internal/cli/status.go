package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/selcan/mira/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway status",
	Long:  `Show whether the Mira gateway is running, and what it reports.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	addr := net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port))
	report, err := fetchStatus(addr, cfg.Gateway.Token)
	if err != nil {
		cmd.Println("Status: stopped")
		cmd.Printf("Gateway: %s (%v)\n", addr, err)
		return nil
	}

	cmd.Println("Status: running")
	cmd.Printf("Gateway: %s\n", addr)
	cmd.Printf("Uptime: %s\n", formatDuration(time.Duration(report.UptimeSeconds)*time.Second))
	cmd.Printf("Clients: %d\n", len(report.Clients))
	for _, c := range report.Clients {
		state := "pending auth"
		if c.Authenticated {
			state = "authenticated"
		}
		cmd.Printf("  %s (%s)\n", c.ID, state)
	}
	return nil
}

// statusReport is the gateway's status method result.
type statusReport struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Clients       []struct {
		ID            string `json:"id"`
		Authenticated bool   `json:"authenticated"`
	} `json:"clients"`
	Methods []string `json:"methods"`
}

// fetchStatus calls the gateway's single-shot RPC endpoint.
func fetchStatus(addr, token string) (*statusReport, error) {
	body, err := json.Marshal(map[string]interface{}{
		"id":     "cli-status",
		"method": "status",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, "http://"+addr+"/rpc", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Mira-Token", token)

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unreachable")
	}
	defer resp.Body.Close()
	defer client.CloseIdleConnections()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("token rejected")
	}

	var envelope struct {
		Result *statusReport `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("bad response: %v", err)
	}
	if envelope.Error != nil {
		return nil, fmt.Errorf("%s", envelope.Error.Message)
	}
	if envelope.Result == nil {
		return nil, fmt.Errorf("empty response")
	}
	return envelope.Result, nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
