// Package cmd assembles the command line interface.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mindtrack/mindtrack-go/cmd/serve"
	"github.com/mindtrack/mindtrack-go/internal/conf"
)

// RootCommand creates and returns the root command.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mindtrack",
		Short: "MindTrack screenshot sampling and suggestion service",
	}

	setupFlags(rootCmd, settings)

	rootCmd.AddCommand(serve.Command(settings))

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) {
	rootCmd.PersistentFlags().BoolVarP(&settings.WebServer.Debug, "debug", "d",
		viper.GetBool("webserver.debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.WebServer.Host, "host",
		viper.GetString("webserver.host"), "Address to bind the HTTP server to")
	rootCmd.PersistentFlags().StringVar(&settings.WebServer.Port, "port",
		viper.GetString("webserver.port"), "Port to bind the HTTP server to")

	_ = viper.BindPFlags(rootCmd.PersistentFlags())
}
