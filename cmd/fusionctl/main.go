package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/fusion/internal/config"
	logs "github.com/danmuck/fusion/internal/logging"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath  string
	address     string
	metricsAddr string
}

// clientConfig loads the client TOML when one is given and applies flag
// overrides on top.
func (o *rootOptions) clientConfig() (config.ClientConfig, error) {
	cfg := config.DefaultClientConfig()
	if path := strings.TrimSpace(o.configPath); path != "" {
		loaded, err := config.LoadClientConfig(path)
		if err != nil {
			return config.ClientConfig{}, err
		}
		cfg = loaded
	}
	if addr := strings.TrimSpace(o.address); addr != "" {
		cfg.Address = addr
	}
	if addr := strings.TrimSpace(o.metricsAddr); addr != "" {
		cfg.MetricsAddr = addr
	}
	if err := config.ValidateClientConfig(cfg); err != nil {
		return config.ClientConfig{}, err
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "fusionctl",
		Short:         "Scene-graph client demos and config tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			logs.ConfigureRuntime()
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "client config TOML")
	root.PersistentFlags().StringVarP(&opts.address, "address", "a", "", "server address, overrides config and environment")
	root.PersistentFlags().StringVar(&opts.metricsAddr, "metrics", "", "serve health and metrics on this address")

	root.AddCommand(
		demoCmd(opts),
		pulseCmd(opts),
		configCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fusionctl: %v\n", err)
		os.Exit(1)
	}
}
