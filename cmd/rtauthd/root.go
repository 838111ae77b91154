package main

import "github.com/spf13/cobra"

// NewRootCmd creates the rtauthd command tree.
func NewRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:           "rtauthd",
		Short:         "Session-bound access/refresh token service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file")

	cmd.AddCommand(NewServeCmd(&configFile))
	cmd.AddCommand(NewUserAddCmd(&configFile))
	return cmd
}
