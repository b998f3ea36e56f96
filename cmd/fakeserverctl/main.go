package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/fusion/internal/config"
	"github.com/danmuck/fusion/internal/fakeserver"
	logs "github.com/danmuck/fusion/internal/logging"
	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	listen     string
	websocket  string
	metrics    string
	logicStep  time.Duration
}

// serverConfig loads the server TOML when one is given and applies only the
// flags that were set on the command line.
func (o *options) serverConfig(cmd *cobra.Command) (config.ServerConfig, error) {
	cfg := config.DefaultServerConfig()
	if path := strings.TrimSpace(o.configPath); path != "" {
		loaded, err := config.LoadServerConfig(path)
		if err != nil {
			return config.ServerConfig{}, err
		}
		cfg = loaded
	}
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Listen = strings.TrimSpace(o.listen)
	}
	if flags.Changed("websocket") {
		cfg.WebsocketAddr = strings.TrimSpace(o.websocket)
	}
	if flags.Changed("metrics") {
		cfg.MetricsAddr = strings.TrimSpace(o.metrics)
	}
	if flags.Changed("logic-step") {
		cfg.LogicStep = o.logicStep
	}
	if err := config.ValidateServerConfig(cfg); err != nil {
		return config.ServerConfig{}, err
	}
	return cfg, nil
}

func newRootCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fakeserverctl",
		Short:         "Run the in-process reference scene-graph server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logs.ConfigureRuntime()
			cfg, err := opts.serverConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return fakeserver.NewService(cfg).Run(ctx)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "server config TOML")
	flags.StringVarP(&opts.listen, "listen", "l", "", "stream listener: unix:///path, tcp://host:port or tls://host:port")
	flags.StringVar(&opts.websocket, "websocket", "", "websocket listen address, served at "+fakeserver.WebsocketPath)
	flags.StringVar(&opts.metrics, "metrics", "", "health and metrics listen address")
	flags.DurationVar(&opts.logicStep, "logic-step", 0, "broadcast logicStep at this interval, 0 disables")
	return cmd
}

func main() {
	if err := newRootCmd(&options{}).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fakeserverctl: %v\n", err)
		os.Exit(1)
	}
}
