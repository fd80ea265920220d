package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/relay/pkg/cli"
	"mercator-hq/relay/pkg/pool"
)

var poolFlags struct {
	addr    string
	timeout time.Duration
}

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Inspect the connection pool of a running relay",
}

var poolStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-provider connection counts and breaker state",
	Long: `Fetch /status from a running relay's admin server and print the pool.

Examples:
  relay pool status
  relay pool status --addr 10.0.0.5:9090 --output json`,
	RunE: runPoolStatus,
}

func init() {
	rootCmd.AddCommand(poolCmd)
	poolCmd.AddCommand(poolStatusCmd)

	poolStatusCmd.Flags().StringVar(&poolFlags.addr, "addr", "", "admin address (default: admin.listen_address from config)")
	poolStatusCmd.Flags().DurationVar(&poolFlags.timeout, "timeout", 5*time.Second, "request timeout")
}

func runPoolStatus(cmd *cobra.Command, args []string) error {
	addr := poolFlags.addr
	if addr == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		addr = cfg.Admin.ListenAddress
	}
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}

	report, err := fetchStatus(cmd, addr)
	if err != nil {
		return cli.NewCommandError("pool status", err)
	}
	return printer.Print(poolView{report.Pool})
}

func fetchStatus(cmd *cobra.Command, addr string) (*statusReport, error) {
	client := &http.Client{Timeout: poolFlags.timeout}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, "http://"+addr+"/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contacting relay at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relay at %s answered %s", addr, resp.Status)
	}
	var report statusReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decoding status: %w", err)
	}
	return &report, nil
}

// poolView renders pool stats with one row per provider and a total.
type poolView struct {
	pool.Stats
}

func (v poolView) Header() []string {
	return []string{"PROVIDER", "ENABLED", "BREAKER", "MAX", "OPEN", "ACTIVE", "IDLE", "ERRORED", "REQUESTS", "ERRORS", "AVG RESPONSE"}
}

func (v poolView) Rows() [][]string {
	ids := make([]string, 0, len(v.Providers))
	for id := range v.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([][]string, 0, len(ids)+1)
	for _, id := range ids {
		p := v.Providers[id]
		rows = append(rows, []string{
			id,
			strconv.FormatBool(p.Enabled),
			p.Breaker,
			strconv.Itoa(p.MaxConnections),
			strconv.Itoa(p.Connections),
			strconv.Itoa(p.Active),
			strconv.Itoa(p.Idle),
			strconv.Itoa(p.Errored),
			strconv.FormatInt(p.TotalRequests, 10),
			strconv.Itoa(p.ErrorCount),
			p.AvgResponseTime.Round(time.Millisecond).String(),
		})
	}

	total := "total"
	if v.Draining {
		total = "total (draining)"
	}
	rows = append(rows, []string{
		total,
		"",
		"",
		strconv.Itoa(v.MaxConnections),
		strconv.Itoa(v.Connections),
		strconv.Itoa(v.Active),
		strconv.Itoa(v.Idle),
		strconv.Itoa(v.Errored),
		strconv.FormatInt(v.Acquired, 10),
		"queued=" + strconv.Itoa(v.Queued),
		"",
	})
	return rows
}
