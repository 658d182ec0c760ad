package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/beacon/internal/config"
	"github.com/hugo-lorenzo-mato/beacon/internal/core"
	"github.com/hugo-lorenzo-mato/beacon/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Inspect the persisted observability state",
	Long: `Print a summary of the durable store: recent workflows, active
alerts and the latest system sample. Reads the database directly, so it
works whether or not the service is running.`,
	RunE: runStatus,
}

var (
	statusExport string
	statusLimit  int
)

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusExport, "export", "",
		"write the full snapshot as JSON to the given path")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10,
		"number of workflows and history rows to include")
}

// statusSnapshot is the exported shape of the persisted state.
type statusSnapshot struct {
	GeneratedAt  time.Time                   `json:"generated_at"`
	DBPath       string                      `json:"db_path"`
	Workflows    []*core.Workflow            `json:"workflows"`
	Alerts       []*core.Alert               `json:"alerts"`
	AlertHistory []*core.AlertAction         `json:"alert_history"`
	Rules        []*core.AlertRule           `json:"rules"`
	SystemSample []*core.SystemMetricsSample `json:"system_samples"`
}

func runStatus(_ *cobra.Command, _ []string) error {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()

	workflows, err := store.ListWorkflows(ctx, nil, statusLimit)
	if err != nil {
		return fmt.Errorf("listing workflows: %w", err)
	}
	alerts, err := store.ListAlerts(ctx)
	if err != nil {
		return fmt.Errorf("listing alerts: %w", err)
	}
	history, err := store.AlertHistory(ctx, statusLimit)
	if err != nil {
		return fmt.Errorf("reading alert history: %w", err)
	}
	rules, err := store.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("listing rules: %w", err)
	}
	samples, err := store.SystemSamplesSince(ctx, time.Now().Add(-time.Hour), 1)
	if err != nil {
		return fmt.Errorf("reading system samples: %w", err)
	}

	if statusExport != "" {
		snap := statusSnapshot{
			GeneratedAt:  time.Now().UTC(),
			DBPath:       store.Path(),
			Workflows:    workflows,
			Alerts:       alerts,
			AlertHistory: history,
			Rules:        rules,
			SystemSample: samples,
		}
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding snapshot: %w", err)
		}
		if err := renameio.WriteFile(statusExport, data, 0o644); err != nil {
			return fmt.Errorf("writing snapshot: %w", err)
		}
		fmt.Printf("snapshot written to %s\n", statusExport)
		return nil
	}

	fmt.Printf("database: %s\n\n", store.Path())

	fmt.Printf("workflows (%d most recent):\n", len(workflows))
	for _, wf := range workflows {
		fmt.Printf("  %-38s %-12s %-10s %3d/%d steps\n",
			wf.ID, wf.Type, wf.Status, wf.CompletedSteps, wf.TotalSteps)
	}

	fmt.Printf("\nalerts (%d active):\n", len(alerts))
	for _, a := range alerts {
		ack := " "
		if a.Acknowledged {
			ack = "*"
		}
		fmt.Printf("  %s [%-8s] %s\n", ack, a.Severity, a.Title)
	}

	fmt.Printf("\nrules: %d registered\n", len(rules))

	if len(samples) > 0 {
		s := samples[0]
		fmt.Printf("\nlast system sample (%s):\n", s.Timestamp.Format(time.RFC3339))
		fmt.Printf("  cpu %.1f%%  mem %.1f%%  disk %.1f%%  processes %d\n",
			s.CPUPercent, s.MemPercent, s.DiskPercent, s.ProcessCount)
	}
	return nil
}
