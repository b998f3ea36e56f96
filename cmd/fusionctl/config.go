package main

import (
	"fmt"
	"strings"

	"github.com/danmuck/fusion/internal/config"
	"github.com/spf13/cobra"
)

func defaultConfigPath(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "client":
		return "cmd/fusionctl/config.toml", nil
	case "server":
		return "cmd/fakeserverctl/config.toml", nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func validateConfig(kind, path string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "client":
		cfg, err := config.LoadClientConfig(path)
		if err != nil {
			return err
		}
		return config.ValidateClientConfig(cfg)
	case "server":
		_, err := config.LoadServerConfig(path)
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}

func configCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or validate client and server config files",
	}
	cmd.PersistentFlags().StringVarP(&kind, "kind", "k", "client", "config kind: client|server")

	var output string
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config template",
		RunE: func(cmd *cobra.Command, _ []string) error {
			target := output
			if target == "" {
				path, err := defaultConfigPath(kind)
				if err != nil {
					return err
				}
				target = path
			}
			if err := config.WriteTemplate(target, kind, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config template to %s\n", kind, target)
			return nil
		},
	}
	initCmd.Flags().StringVarP(&output, "output", "o", "", "output path (defaults to the per-kind cmd path)")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	var input string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := input
			if path == "" {
				p, err := defaultConfigPath(kind)
				if err != nil {
					return err
				}
				path = p
			}
			if err := validateConfig(kind, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "validated %s config at %s\n", kind, path)
			return nil
		},
	}
	validate.Flags().StringVarP(&input, "input", "i", "", "config path (defaults to the per-kind cmd path)")

	cmd.AddCommand(initCmd, validate)
	return cmd
}
