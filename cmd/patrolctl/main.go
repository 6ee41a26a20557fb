// patrolctl watches and controls AI patrol runs on a monitoring server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/patrolhq/patrolctl/internal/client"
	"github.com/patrolhq/patrolctl/internal/config"
	"github.com/patrolhq/patrolctl/internal/patrol"
	"github.com/patrolhq/patrolctl/internal/stream"
)

var (
	cfgPath   string
	serverURL string
	apiToken  string

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "patrolctl",
	Short: "Watch and control AI patrol runs",
	Long: `patrolctl talks to the patrol service on a monitoring server: trigger
runs, follow them live, inspect run history, and manage the autonomy policy.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if serverURL != "" {
			cfg.ServerURL = serverURL
			streamURL, err := config.DeriveStreamURL(serverURL)
			if err != nil {
				return err
			}
			cfg.StreamURL = streamURL
		}
		if apiToken != "" {
			cfg.APIToken = apiToken
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "monitoring server base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", "", "API token (overrides config)")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(autonomyCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(watchCmd)
}

func apiClient() *client.Client {
	return client.New(cfg.ServerURL, cfg.APIToken)
}

func controllerConfig() patrol.Config {
	return patrol.Config{
		FullInterval:      cfg.FullInterval,
		ApprovalsInterval: cfg.ApprovalsInterval,
		SafetyTimeout:     cfg.SafetyTimeout,
		BlockedFreshness:  cfg.BlockedFreshness,
		HistoryLimit:      cfg.HistoryLimit,
	}
}

func streamConfig() stream.Config {
	sc := stream.DefaultConfig()
	sc.URL = cfg.StreamURL
	sc.Token = cfg.APIToken
	return sc
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
