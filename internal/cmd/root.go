package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chatlens/chatlens/internal/ailink/driver"
	"github.com/chatlens/chatlens/internal/appid"
	"github.com/chatlens/chatlens/internal/config"
	"github.com/chatlens/chatlens/internal/observability"
)

var (
	cfgFile   string
	verbose   bool
	traceFile string

	appIdentity *appid.Identity

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// GetAppIdentity returns the loaded app identity (only valid after initConfig)
func GetAppIdentity() *appid.Identity {
	return appIdentity
}

var rootCmd = &cobra.Command{
	// NOTE: init() overwrites these from app identity.
	Use:           filepath.Base(os.Args[0]),
	Short:         "AI chat server with a streaming research pipeline",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Server mode initializes real telemetry later; until then config loading
	// must not emit metrics to stdout.
	observability.DisableGlobalTelemetry()

	if identity, err := appid.Get(context.Background()); err == nil {
		applyIdentity(identity)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/chatlens/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	rootCmd.PersistentFlags().StringVar(&traceFile, "trace", "", "trace provider calls to an NDJSON file")
}

func applyIdentity(identity *appid.Identity) {
	appIdentity = identity
	if identity.BinaryName != "" {
		rootCmd.Use = identity.BinaryName
	}
	if identity.Description != "" {
		rootCmd.Short = identity.Description
		rootCmd.Long = fmt.Sprintf("%s - %s\n\nUse the subcommands to perform specific operations.", identity.BinaryName, identity.Description)
	}
	if f := rootCmd.PersistentFlags().Lookup("config"); f != nil && identity.ConfigName != "" {
		f.Usage = fmt.Sprintf("config file (default is $XDG_CONFIG_HOME/%s/config.yaml)", identity.ConfigName)
	}
}

// initConfig runs before every command.
func initConfig() {
	identity, err := appid.Get(context.Background())
	if err != nil {
		ExitWithCodeStderr(foundry.ExitConfigInvalid, "Failed to resolve app identity", err)
	}
	applyIdentity(identity)

	if err := observability.InitCLILogger(identity.BinaryName, verbose); err != nil {
		ExitWithCodeStderr(foundry.ExitFailure, "Failed to initialize logger", err)
	}

	config.SetConfigFile(cfgFile)

	if traceFile != "" {
		if _, err := driver.EnableTracing(traceFile); err != nil {
			observability.CLILogger.Warn("Failed to enable tracing", zap.Error(err))
		} else {
			// The trace file stays open for the whole process.
			observability.CLILogger.Debug("Provider tracing enabled", zap.String("file", traceFile))
		}
	}
}
